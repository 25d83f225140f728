package franklyboot

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultRequestTimeout bounds one request/response round trip.
const DefaultRequestTimeout = 500 * time.Millisecond

// ResultError is a failure the device reported on the wire, as opposed
// to a transport failure.
type ResultError struct {
	Request RequestType
	Result  ResultType
}

func (e *ResultError) Error() string {
	return fmt.Sprintf("device answered %v to %v", e.Result, e.Request)
}

// Client drives the request/response protocol from the host side. The
// protocol is half duplex with exactly one outstanding request, so a
// Client is not safe for concurrent use.
type Client struct {
	tr      FrameTransport
	Timeout time.Duration
}

func NewClient(tr FrameTransport) *Client {
	return &Client{tr: tr, Timeout: DefaultRequestTimeout}
}

func (c *Client) Close() error {
	return c.tr.Close()
}

// Transact sends one request and waits for the matching response. A
// response carrying a different request code means the link delivered a
// stale or foreign frame and the transaction fails.
func (c *Client) Transact(req Msg) (Msg, error) {
	if err := c.tr.SendFrame(req.ToWire()); err != nil {
		return Msg{}, fmt.Errorf("send %v: %w", req.Request, err)
	}
	raw, err := c.tr.RecvFrame(c.Timeout)
	if err != nil {
		return Msg{}, fmt.Errorf("awaiting response to %v: %w", req.Request, err)
	}
	var resp Msg
	if err := resp.FromWire(raw); err != nil {
		return Msg{}, err
	}
	if resp.Request != req.Request {
		return Msg{}, fmt.Errorf("response %v does not match request %v", resp.Request, req.Request)
	}
	log.Debugf("%v -> %v", req.Request, resp.Result)
	return resp, nil
}

func (c *Client) transact(request RequestType, packetID byte, word uint32) (Msg, error) {
	return c.Transact(NewRequest(request, packetID, word))
}

// ack runs one transaction and turns a non-ACK result into a
// ResultError.
func (c *Client) ack(request RequestType, packetID byte, word uint32) (Msg, error) {
	resp, err := c.transact(request, packetID, word)
	if err != nil {
		return resp, err
	}
	if !resp.Result.IsAck() {
		return resp, &ResultError{Request: request, Result: resp.Result}
	}
	return resp, nil
}

func (c *Client) Ping() error {
	_, err := c.ack(REQ_PING, 0, 0)
	return err
}

func (c *Client) BootloaderVersion() (major, minor, patch byte, err error) {
	resp, err := c.ack(REQ_DEV_INFO_BOOTLOADER_VERSION, 0, 0)
	if err != nil {
		return 0, 0, 0, err
	}
	return resp.Data[0], resp.Data[1], resp.Data[2], nil
}

func (c *Client) word(request RequestType, arg uint32) (uint32, error) {
	resp, err := c.ack(request, 0, arg)
	if err != nil {
		return 0, err
	}
	return resp.DataWord(), nil
}

func (c *Client) VendorID() (uint32, error)       { return c.word(REQ_DEV_INFO_VID, 0) }
func (c *Client) ProductID() (uint32, error)      { return c.word(REQ_DEV_INFO_PID, 0) }
func (c *Client) ProductionDate() (uint32, error) { return c.word(REQ_DEV_INFO_PRD, 0) }

// UniqueID reads the three factory ID words.
func (c *Client) UniqueID() ([3]uint32, error) {
	var uid [3]uint32
	for i := uint32(0); i < 3; i++ {
		w, err := c.word(REQ_DEV_INFO_UID, i)
		if err != nil {
			return uid, err
		}
		uid[i] = w
	}
	return uid, nil
}

func (c *Client) FlashStartAddr() (uint32, error) { return c.word(REQ_FLASH_INFO_START_ADDR, 0) }
func (c *Client) FlashPageSize() (uint32, error)  { return c.word(REQ_FLASH_INFO_PAGE_SIZE, 0) }
func (c *Client) FlashNumPages() (uint32, error)  { return c.word(REQ_FLASH_INFO_NUM_PAGES, 0) }
func (c *Client) AppFirstPage() (uint32, error)   { return c.word(REQ_APP_INFO_PAGE_IDX, 0) }
func (c *Client) AppCRCCalc() (uint32, error)     { return c.word(REQ_APP_INFO_CRC_CALC, 0) }
func (c *Client) AppCRCStored() (uint32, error)   { return c.word(REQ_APP_INFO_CRC_STRD, 0) }

func (c *Client) PageBufferClear() error {
	_, err := c.ack(REQ_PAGE_BUFFER_CLEAR, 0, 0)
	return err
}

func (c *Client) PageBufferReadWord(idx uint32) (uint32, error) {
	return c.word(REQ_PAGE_BUFFER_READ_WORD, idx)
}

func (c *Client) PageBufferCRC() (uint32, error) {
	return c.word(REQ_PAGE_WRITE_BUFFER_CALC_CRC, 0)
}

func (c *Client) PageErase(pageID uint32) error {
	_, err := c.ack(REQ_PAGE_ERASE, 0, pageID)
	return err
}

// PageWriteWord stages 4 bytes under the given sequence number and
// returns the device result, RES_ACK_PAGE_FULL on the final word.
func (c *Client) PageWriteWord(packetID byte, word [4]byte) (ResultType, error) {
	req := Msg{Request: REQ_PAGE_WRITE_WORD, PacketID: packetID, Data: word}
	resp, err := c.Transact(req)
	if err != nil {
		return RES_NONE, err
	}
	if !resp.Result.IsAck() {
		return resp.Result, &ResultError{Request: REQ_PAGE_WRITE_WORD, Result: resp.Result}
	}
	return resp.Result, nil
}

func (c *Client) PageCommit(pageID uint32) error {
	_, err := c.ack(REQ_PAGE_WRITE_BUFFER_TO_FLASH, 0, pageID)
	return err
}

func (c *Client) FlashReadWord(addr uint32) (uint32, error) {
	return c.word(REQ_FLASH_READ_WORD, addr)
}

// ResetDevice acknowledges before the device drops the link, so the
// response still arrives.
func (c *Client) ResetDevice() error {
	_, err := c.ack(REQ_RESET_DEVICE, 0, 0)
	return err
}

// StartApp jumps into the application. With force the device skips its
// integrity check; without it an invalid image answers ERR_CRC and the
// device stays in the bootloader.
func (c *Client) StartApp(force bool) error {
	var word uint32
	if force {
		word = 1
	}
	_, err := c.ack(REQ_START_APP, 0, word)
	return err
}

// DeviceInfo aggregates everything the info command prints.
type DeviceInfo struct {
	VersionMajor byte
	VersionMinor byte
	VersionPatch byte

	VendorID       uint32
	ProductID      uint32
	ProductionDate uint32
	UniqueID       [3]uint32

	FlashStartAddr uint32
	FlashPageSize  uint32
	FlashNumPages  uint32
	AppFirstPage   uint32

	AppCRCCalc   uint32
	AppCRCStored uint32
}

func (i *DeviceInfo) AppValid() bool {
	return i.AppCRCCalc == i.AppCRCStored
}

// ReadDeviceInfo queries the full identity and geometry of the device.
func (c *Client) ReadDeviceInfo() (*DeviceInfo, error) {
	var info DeviceInfo
	var err error

	if info.VersionMajor, info.VersionMinor, info.VersionPatch, err = c.BootloaderVersion(); err != nil {
		return nil, err
	}
	if info.VendorID, err = c.VendorID(); err != nil {
		return nil, err
	}
	if info.ProductID, err = c.ProductID(); err != nil {
		return nil, err
	}
	if info.ProductionDate, err = c.ProductionDate(); err != nil {
		return nil, err
	}
	if info.UniqueID, err = c.UniqueID(); err != nil {
		return nil, err
	}
	if info.FlashStartAddr, err = c.FlashStartAddr(); err != nil {
		return nil, err
	}
	if info.FlashPageSize, err = c.FlashPageSize(); err != nil {
		return nil, err
	}
	if info.FlashNumPages, err = c.FlashNumPages(); err != nil {
		return nil, err
	}
	if info.AppFirstPage, err = c.AppFirstPage(); err != nil {
		return nil, err
	}
	if info.AppCRCCalc, err = c.AppCRCCalc(); err != nil {
		return nil, err
	}
	if info.AppCRCStored, err = c.AppCRCStored(); err != nil {
		return nil, err
	}
	return &info, nil
}
