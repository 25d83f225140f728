package franklyboot

import "errors"

var (
	ePageBufferFull     = errors.New("page buffer full")
	ePageBufferNotFull  = errors.New("page buffer not full")
	eFlashProgramFailed = errors.New("flash program failed")
	ePageCRCMismatch    = errors.New("page readback crc mismatch")
)

// PageBuffer stages exactly one flash page before it is committed. The
// backing array is allocated once at handler construction and recycled
// for every page.
type PageBuffer struct {
	bytes     []byte
	byteCount uint32
	crc       uint32
}

func NewPageBuffer(pageSize uint32) *PageBuffer {
	b := &PageBuffer{bytes: make([]byte, pageSize)}
	b.Reset()
	return b
}

// Reset clears the write pointer, refills the buffer with the erased
// flash pattern 0xFF and restarts the running CRC.
func (b *PageBuffer) Reset() {
	b.byteCount = 0
	for i := range b.bytes {
		b.bytes[i] = 0xFF
	}
	b.crc = 0
}

// Append stages the next 4 bytes and folds them into the running CRC.
func (b *PageBuffer) Append(word [4]byte) error {
	if b.byteCount+4 > uint32(len(b.bytes)) {
		return ePageBufferFull
	}
	copy(b.bytes[b.byteCount:], word[:])
	b.crc = Crc32Update(b.crc, word[:])
	b.byteCount += 4
	return nil
}

func (b *PageBuffer) IsFull() bool {
	return b.byteCount == uint32(len(b.bytes))
}

func (b *PageBuffer) ByteCount() uint32 {
	return b.byteCount
}

// CRC is the checksum of everything appended since the last Reset.
func (b *PageBuffer) CRC() uint32 {
	return b.crc
}

// Word returns the staged word at the given index. The second return is
// false beyond the write pointer.
func (b *PageBuffer) Word(idx uint32) (uint32, bool) {
	if idx*4+4 > b.byteCount {
		return 0, false
	}
	w := uint32(b.bytes[idx*4]) |
		uint32(b.bytes[idx*4+1])<<8 |
		uint32(b.bytes[idx*4+2])<<16 |
		uint32(b.bytes[idx*4+3])<<24
	return w, true
}

// Commit programs the staged page through the hardware interface and
// verifies it by reading the hardware CRC back over the page. The caller
// must have erased the page since its last commit. On success the buffer
// is reset for the next page; on a CRC mismatch the staged bytes are kept
// so the page can be retried after a fresh erase.
func (b *PageBuffer) Commit(cfg Config, pageID uint32, hwi HardwareInterface) error {
	if !b.IsFull() {
		return ePageBufferNotFull
	}
	addr := cfg.PageAddr(pageID)
	if !hwi.WritePage(addr, pageID, b.bytes) {
		return eFlashProgramFailed
	}
	if hwi.CRC32(addr, uint32(len(b.bytes))) != b.crc {
		return ePageCRCMismatch
	}
	b.Reset()
	return nil
}
