package franklyboot

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// FlashPhase tags progress callbacks with the stage of the update.
type FlashPhase int

const (
	PhaseQuery FlashPhase = iota
	PhaseErase
	PhaseWrite
	PhaseVerify
	PhaseDone
)

func (p FlashPhase) String() string {
	switch p {
	case PhaseQuery:
		return "query"
	case PhaseErase:
		return "erase"
	case PhaseWrite:
		return "write"
	case PhaseVerify:
		return "verify"
	case PhaseDone:
		return "done"
	}
	return "unknown"
}

// ProgressFunc is called as the update advances. page counts app pages
// handled so far out of total.
type ProgressFunc func(phase FlashPhase, page, total uint32)

// Flasher drives a complete firmware update over a Client.
type Flasher struct {
	client   *Client
	progress ProgressFunc
}

type FlasherOption func(*Flasher)

// WithProgress installs a progress callback.
func WithProgress(fn ProgressFunc) FlasherOption {
	return func(f *Flasher) { f.progress = fn }
}

func NewFlasher(c *Client, opts ...FlasherOption) *Flasher {
	f := &Flasher{client: c}
	for _, o := range opts {
		o(f)
	}
	return f
}

func (f *Flasher) report(phase FlashPhase, page, total uint32) {
	if f.progress != nil {
		f.progress(phase, page, total)
	}
}

// Geometry is the flash layout queried from the device.
type Geometry struct {
	FlashStartAddr uint32
	PageSize       uint32
	NumPages       uint32
	AppFirstPage   uint32
}

func (g Geometry) AppNumPages() uint32 {
	return g.NumPages - g.AppFirstPage
}

func (g Geometry) AppSize() uint32 {
	return g.AppNumPages() * g.PageSize
}

// QueryGeometry pings the device and reads its flash layout.
func (f *Flasher) QueryGeometry() (Geometry, error) {
	var g Geometry
	var err error
	if err = f.client.Ping(); err != nil {
		return g, err
	}
	if g.FlashStartAddr, err = f.client.FlashStartAddr(); err != nil {
		return g, err
	}
	if g.PageSize, err = f.client.FlashPageSize(); err != nil {
		return g, err
	}
	if g.NumPages, err = f.client.FlashNumPages(); err != nil {
		return g, err
	}
	if g.AppFirstPage, err = f.client.AppFirstPage(); err != nil {
		return g, err
	}
	if g.PageSize == 0 || g.NumPages <= g.AppFirstPage {
		return g, fmt.Errorf("device reported unusable geometry %+v", g)
	}
	return g, nil
}

// Flash performs the full update: query, page-wise program, whole-app
// verify, optional start. raw is the unpadded application binary.
func (f *Flasher) Flash(raw []byte, start bool) error {
	f.report(PhaseQuery, 0, 0)
	geo, err := f.QueryGeometry()
	if err != nil {
		return fmt.Errorf("query device: %w", err)
	}
	log.Infof("flash: %d pages of %d bytes, app from page %d",
		geo.NumPages, geo.PageSize, geo.AppFirstPage)

	fw, err := NewFirmware(raw, geo.AppSize())
	if err != nil {
		return err
	}

	total := geo.AppNumPages()
	for p := uint32(0); p < total; p++ {
		if err := f.flashPage(geo, fw, p); err != nil {
			return fmt.Errorf("page %d: %w", geo.AppFirstPage+p, err)
		}
		f.report(PhaseWrite, p+1, total)
	}

	f.report(PhaseVerify, total, total)
	if err := f.verify(fw); err != nil {
		return err
	}
	f.report(PhaseDone, total, total)
	log.Infof("flash complete, app checksum %#08x", fw.CRC())

	if start {
		return f.client.StartApp(false)
	}
	return nil
}

// flashPage erases one app page and, unless the image is blank there,
// streams it word by word, checks the staged checksum and commits. A
// commit checksum failure gets one retry: the page is erased again, which
// also clears the device buffer, restaged and committed.
func (f *Flasher) flashPage(geo Geometry, fw *Firmware, p uint32) error {
	pageID := geo.AppFirstPage + p

	f.report(PhaseErase, p, geo.AppNumPages())
	if err := f.client.PageErase(pageID); err != nil {
		return err
	}
	if fw.PageBlank(p, geo.PageSize) {
		log.Debugf("page %d blank, erase only", pageID)
		return nil
	}

	if err := f.stagePage(geo, fw, p); err != nil {
		return err
	}

	err := f.client.PageCommit(pageID)
	if err == nil {
		return nil
	}
	var re *ResultError
	if !errors.As(err, &re) || re.Result != RES_ERR_CRC {
		return err
	}
	log.Warnf("page %d failed readback, retrying", pageID)
	if err := f.client.PageErase(pageID); err != nil {
		return err
	}
	if err := f.stagePage(geo, fw, p); err != nil {
		return err
	}
	return f.client.PageCommit(pageID)
}

// stagePage streams one page into the device buffer with monotonic
// packet IDs and checks the staged checksum before anything touches
// flash.
func (f *Flasher) stagePage(geo Geometry, fw *Firmware, p uint32) error {
	wordsPerPage := geo.PageSize / 4
	base := p * wordsPerPage
	packetID := byte(0)
	for w := uint32(0); w < wordsPerPage; w++ {
		res, err := f.client.PageWriteWord(packetID, fw.Word(base+w))
		if err != nil {
			return fmt.Errorf("word %d: %w", w, err)
		}
		last := w == wordsPerPage-1
		if last != (res == RES_ACK_PAGE_FULL) {
			return fmt.Errorf("word %d: device buffer out of step (%v)", w, res)
		}
		packetID++
	}

	want := Crc32(fw.Page(p, geo.PageSize))
	got, err := f.client.PageBufferCRC()
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("staged checksum %#08x, want %#08x", got, want)
	}
	return nil
}

// verify compares the device's recomputed app checksum and its stored
// footer against the image.
func (f *Flasher) verify(fw *Firmware) error {
	calc, err := f.client.AppCRCCalc()
	if err != nil {
		return err
	}
	stored, err := f.client.AppCRCStored()
	if err != nil {
		return err
	}
	if calc != fw.CRC() || stored != fw.CRC() {
		return fmt.Errorf("verify failed: device calc %#08x, stored %#08x, image %#08x",
			calc, stored, fw.CRC())
	}
	return nil
}

// Verify checks the app region against a prepared image without writing
// anything.
func (f *Flasher) Verify(raw []byte) error {
	geo, err := f.QueryGeometry()
	if err != nil {
		return err
	}
	fw, err := NewFirmware(raw, geo.AppSize())
	if err != nil {
		return err
	}
	return f.verify(fw)
}

// EraseApp erases every application page.
func (f *Flasher) EraseApp() error {
	geo, err := f.QueryGeometry()
	if err != nil {
		return err
	}
	total := geo.AppNumPages()
	for p := uint32(0); p < total; p++ {
		if err := f.client.PageErase(geo.AppFirstPage + p); err != nil {
			return fmt.Errorf("page %d: %w", geo.AppFirstPage+p, err)
		}
		f.report(PhaseErase, p+1, total)
	}
	return nil
}
