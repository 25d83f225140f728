package franklyboot

import (
	"encoding/binary"
	"errors"
	"fmt"
)

/*
Wire frame (8 bytes, little-endian):
guint16		request;
guint8		result;
guint8		packet_id;
guint8		data[4];
*/

const MsgSize = 8

type RequestType uint16

const (
	REQ_PING         RequestType = 0x0001
	REQ_RESET_DEVICE RequestType = 0x0002
	REQ_START_APP    RequestType = 0x0003

	REQ_DEV_INFO_BOOTLOADER_VERSION RequestType = 0x0010
	REQ_DEV_INFO_VID                RequestType = 0x0011
	REQ_DEV_INFO_PID                RequestType = 0x0012
	REQ_DEV_INFO_PRD                RequestType = 0x0013
	REQ_DEV_INFO_UID                RequestType = 0x0014

	REQ_FLASH_INFO_START_ADDR RequestType = 0x0100
	REQ_FLASH_INFO_PAGE_SIZE  RequestType = 0x0101
	REQ_FLASH_INFO_NUM_PAGES  RequestType = 0x0102

	REQ_APP_INFO_PAGE_IDX RequestType = 0x0110
	REQ_APP_INFO_CRC_CALC RequestType = 0x0111
	REQ_APP_INFO_CRC_STRD RequestType = 0x0112

	REQ_PAGE_BUFFER_CLEAR          RequestType = 0x0200
	REQ_PAGE_BUFFER_READ_WORD      RequestType = 0x0201
	REQ_PAGE_ERASE                 RequestType = 0x0202
	REQ_PAGE_WRITE_WORD            RequestType = 0x0203
	REQ_PAGE_WRITE_BUFFER_CALC_CRC RequestType = 0x0204

	REQ_FLASH_READ_WORD            RequestType = 0x0210
	REQ_PAGE_WRITE_BUFFER_TO_FLASH RequestType = 0x0211
)

func (r RequestType) String() string {
	switch r {
	case REQ_PING:
		return "PING"
	case REQ_RESET_DEVICE:
		return "RESET_DEVICE"
	case REQ_START_APP:
		return "START_APP"
	case REQ_DEV_INFO_BOOTLOADER_VERSION:
		return "DEV_INFO_BOOTLOADER_VERSION"
	case REQ_DEV_INFO_VID:
		return "DEV_INFO_VID"
	case REQ_DEV_INFO_PID:
		return "DEV_INFO_PID"
	case REQ_DEV_INFO_PRD:
		return "DEV_INFO_PRD"
	case REQ_DEV_INFO_UID:
		return "DEV_INFO_UID"
	case REQ_FLASH_INFO_START_ADDR:
		return "FLASH_INFO_START_ADDR"
	case REQ_FLASH_INFO_PAGE_SIZE:
		return "FLASH_INFO_PAGE_SIZE"
	case REQ_FLASH_INFO_NUM_PAGES:
		return "FLASH_INFO_NUM_PAGES"
	case REQ_APP_INFO_PAGE_IDX:
		return "APP_INFO_PAGE_IDX"
	case REQ_APP_INFO_CRC_CALC:
		return "APP_INFO_CRC_CALC"
	case REQ_APP_INFO_CRC_STRD:
		return "APP_INFO_CRC_STRD"
	case REQ_PAGE_BUFFER_CLEAR:
		return "PAGE_BUFFER_CLEAR"
	case REQ_PAGE_BUFFER_READ_WORD:
		return "PAGE_BUFFER_READ_WORD"
	case REQ_PAGE_ERASE:
		return "PAGE_ERASE"
	case REQ_PAGE_WRITE_WORD:
		return "PAGE_WRITE_WORD"
	case REQ_PAGE_WRITE_BUFFER_CALC_CRC:
		return "PAGE_WRITE_BUFFER_CALC_CRC"
	case REQ_FLASH_READ_WORD:
		return "FLASH_READ_WORD"
	case REQ_PAGE_WRITE_BUFFER_TO_FLASH:
		return "PAGE_WRITE_BUFFER_TO_FLASH"
	}
	return fmt.Sprintf("UNKNOWN(%#04x)", uint16(r))
}

type ResultType byte

const (
	RES_NONE          ResultType = 0x00
	RES_ACK           ResultType = 0x01
	RES_ACK_PAGE_FULL ResultType = 0x02

	RES_ERR               ResultType = 0x04
	RES_ERR_INVLD_ARG     ResultType = 0x05
	RES_ERR_PAGE_FULL     ResultType = 0x06
	RES_ERR_NOT_SUPPORTED ResultType = 0x07
	RES_ERR_CRC           ResultType = 0x08
)

func (r ResultType) String() string {
	switch r {
	case RES_NONE:
		return "NONE"
	case RES_ACK:
		return "ACK"
	case RES_ACK_PAGE_FULL:
		return "ACK_PAGE_FULL"
	case RES_ERR:
		return "ERR"
	case RES_ERR_INVLD_ARG:
		return "ERR_INVLD_ARG"
	case RES_ERR_PAGE_FULL:
		return "ERR_PAGE_FULL"
	case RES_ERR_NOT_SUPPORTED:
		return "ERR_NOT_SUPPORTED"
	case RES_ERR_CRC:
		return "ERR_CRC"
	}
	return fmt.Sprintf("UNKNOWN(%#02x)", byte(r))
}

// IsAck reports whether the result is one of the success codes.
func (r ResultType) IsAck() bool {
	return r == RES_ACK || r == RES_ACK_PAGE_FULL
}

var eShortFrame = errors.New("frame shorter than 8 bytes")

type Msg struct {
	Request  RequestType
	Result   ResultType
	PacketID byte
	Data     [4]byte
}

func (m Msg) String() string {
	return fmt.Sprintf("Msg request: %v, result: %v, packet_id: %d, data: % x",
		m.Request, m.Result, m.PacketID, m.Data[:])
}

func (m *Msg) FromWire(payload []byte) (err error) {
	if len(payload) < MsgSize {
		return eShortFrame
	}

	m.Request = RequestType(binary.LittleEndian.Uint16(payload[0:2]))
	m.Result = ResultType(payload[2])
	m.PacketID = payload[3]
	copy(m.Data[:], payload[4:8])
	return nil
}

func (m Msg) ToWire() (payload []byte) {
	payload = make([]byte, MsgSize)
	binary.LittleEndian.PutUint16(payload[0:2], uint16(m.Request))
	payload[2] = byte(m.Result)
	payload[3] = m.PacketID
	copy(payload[4:8], m.Data[:])
	return payload
}

// DataWord interprets the 4 payload bytes as one little-endian word.
func (m Msg) DataWord() uint32 {
	return binary.LittleEndian.Uint32(m.Data[:])
}

func (m *Msg) SetDataWord(value uint32) {
	binary.LittleEndian.PutUint32(m.Data[:], value)
}

// NewRequest builds a host->device request frame. The result byte is
// always RES_NONE in this direction.
func NewRequest(request RequestType, packetID byte, word uint32) Msg {
	m := Msg{Request: request, Result: RES_NONE, PacketID: packetID}
	m.SetDataWord(word)
	return m
}
