package franklyboot

import (
	"encoding/binary"
	"fmt"
	"os"
)

// Firmware is an application image prepared for flashing: sized exactly
// to the app region, padded with the erased-flash pattern 0xFF and
// carrying the CRC-32 footer in its last 4 bytes. The padding is part of
// the checksum, so the device-side validation covers the whole region.
type Firmware struct {
	Data []byte

	// RawSize is the payload length before padding.
	RawSize uint32
}

// NewFirmware pads raw to appSize and stamps the footer. The last 4
// bytes of the region are reserved for the checksum, so the payload must
// leave room for it.
func NewFirmware(raw []byte, appSize uint32) (*Firmware, error) {
	if appSize < 8 || appSize%4 != 0 {
		return nil, fmt.Errorf("app region size %d is not usable", appSize)
	}
	if uint32(len(raw)) > appSize-4 {
		return nil, fmt.Errorf("image is %d bytes but the app region holds %d (4 reserved for the checksum)",
			len(raw), appSize-4)
	}
	data := make([]byte, appSize)
	for i := range data {
		data[i] = 0xFF
	}
	copy(data, raw)
	binary.LittleEndian.PutUint32(data[appSize-4:], Crc32(data[:appSize-4]))
	return &Firmware{Data: data, RawSize: uint32(len(raw))}, nil
}

// LoadFirmwareFile reads a raw .bin and prepares it for an app region of
// the given size.
func LoadFirmwareFile(path string, appSize uint32) (*Firmware, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read firmware %s: %w", path, err)
	}
	return NewFirmware(raw, appSize)
}

// CRC is the footer value, which equals the checksum of everything
// before it.
func (f *Firmware) CRC() uint32 {
	return binary.LittleEndian.Uint32(f.Data[len(f.Data)-4:])
}

func (f *Firmware) NumWords() uint32 {
	return uint32(len(f.Data)) / 4
}

// Word returns the 4 bytes at word index idx, wire-ready.
func (f *Firmware) Word(idx uint32) [4]byte {
	var w [4]byte
	copy(w[:], f.Data[idx*4:idx*4+4])
	return w
}

// Page returns the bytes of page p of the image, where page 0 is the
// first app page.
func (f *Firmware) Page(p, pageSize uint32) []byte {
	return f.Data[p*pageSize : (p+1)*pageSize]
}

// PageBlank reports whether page p is entirely 0xFF. Blank pages need an
// erase but no programming.
func (f *Firmware) PageBlank(p, pageSize uint32) bool {
	for _, b := range f.Page(p, pageSize) {
		if b != 0xFF {
			return false
		}
	}
	return true
}

// CheckFooter verifies that a prepared image's footer matches its
// payload and returns the footer value.
func CheckFooter(data []byte) (uint32, error) {
	if len(data) < 8 || len(data)%4 != 0 {
		return 0, fmt.Errorf("image size %d is not a padded app region", len(data))
	}
	stored := binary.LittleEndian.Uint32(data[len(data)-4:])
	calc := Crc32(data[:len(data)-4])
	if calc != stored {
		return stored, fmt.Errorf("footer %#08x does not match payload checksum %#08x", stored, calc)
	}
	return stored, nil
}
