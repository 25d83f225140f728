package franklyboot

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func testConfig() Config {
	return Config{
		FlashStartAddr:    0x08000000,
		FlashAppFirstPage: 2,
		FlashSize:         8 * 1024,
		FlashPageSize:     1024,
		RAMStartAddr:      0x20000000,
	}
}

func newTestHandler(t *testing.T, cfg Config) (*Handler, *EmulatedFlash) {
	t.Helper()
	flash := NewEmulatedFlash(cfg)
	h, err := NewHandler(cfg, flash)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	return h, flash
}

func processWire(t *testing.T, h *Handler, in []byte) []byte {
	t.Helper()
	var req Msg
	if err := req.FromWire(in); err != nil {
		t.Fatalf("FromWire(% x): %v", in, err)
	}
	resp := h.Process(req)
	return resp.ToWire()
}

// validAppImage builds an image that passes every launch check: stack
// pointer in RAM, thumb reset vector inside the app region, CRC footer.
func validAppImage(t *testing.T, cfg Config) *Firmware {
	t.Helper()
	raw := make([]byte, 64)
	binary.LittleEndian.PutUint32(raw[0:], cfg.RAMStartAddr+0x1000)
	binary.LittleEndian.PutUint32(raw[4:], cfg.AppStartAddr()+0x41)
	for i := 8; i < len(raw); i++ {
		raw[i] = byte(i)
	}
	fw, err := NewFirmware(raw, cfg.AppNumBytes())
	if err != nil {
		t.Fatalf("NewFirmware: %v", err)
	}
	return fw
}

// fillPage streams one page worth of words with sequential packet IDs
// and checks that only the final word answers ACK_PAGE_FULL.
func fillPage(t *testing.T, h *Handler, fill byte) {
	t.Helper()
	words := h.cfg.FlashPageSize / 4
	for w := uint32(0); w < words; w++ {
		req := Msg{Request: REQ_PAGE_WRITE_WORD, PacketID: byte(w), Data: [4]byte{fill, byte(w), fill, byte(w >> 8)}}
		resp := h.Process(req)
		last := w == words-1
		if last && resp.Result != RES_ACK_PAGE_FULL {
			t.Fatalf("final word: %v, want ACK_PAGE_FULL", resp.Result)
		}
		if !last && resp.Result != RES_ACK {
			t.Fatalf("word %d: %v, want ACK", w, resp.Result)
		}
	}
}

func TestHandlerWireScenarios(t *testing.T) {
	t.Run("ping", func(t *testing.T) {
		h, _ := newTestHandler(t, testConfig())
		got := processWire(t, h, []byte{0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00})
		want := []byte{0x01, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00}
		if !bytes.Equal(got, want) {
			t.Fatalf("response % x, want % x", got, want)
		}
	})

	t.Run("page size query", func(t *testing.T) {
		cfg := Config{
			FlashStartAddr:    0x08000000,
			FlashAppFirstPage: 8,
			FlashSize:         64 * 1024,
			FlashPageSize:     2048,
			RAMStartAddr:      0x20000000,
		}
		h, _ := newTestHandler(t, cfg)
		got := processWire(t, h, []byte{0x01, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00})
		want := []byte{0x01, 0x01, 0x01, 0x00, 0x00, 0x08, 0x00, 0x00}
		if !bytes.Equal(got, want) {
			t.Fatalf("response % x, want % x", got, want)
		}
	})

	t.Run("erase protected page", func(t *testing.T) {
		h, flash := newTestHandler(t, testConfig())
		before := append([]byte(nil), flash.Bytes()...)
		got := processWire(t, h, []byte{0x02, 0x02, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00})
		want := []byte{0x02, 0x02, 0x05, 0x00, 0x00, 0x00, 0x00, 0x00}
		if !bytes.Equal(got, want) {
			t.Fatalf("response % x, want % x", got, want)
		}
		if !bytes.Equal(before, flash.Bytes()) {
			t.Fatal("flash changed by a rejected erase")
		}
	})

	t.Run("write word then wrong packet id", func(t *testing.T) {
		h, _ := newTestHandler(t, testConfig())

		got := processWire(t, h, []byte{0x03, 0x02, 0x00, 0x00, 0xDE, 0xAD, 0xBE, 0xEF})
		if got[2] != byte(RES_ACK) || got[3] != 0 {
			t.Fatalf("first word response % x", got)
		}
		if h.expectedPacketID != 1 {
			t.Fatalf("expected packet id %d, want 1", h.expectedPacketID)
		}

		got = processWire(t, h, []byte{0x03, 0x02, 0x00, 0x05, 0x11, 0x22, 0x33, 0x44})
		if got[2] != byte(RES_ERR_INVLD_ARG) || got[3] != 5 {
			t.Fatalf("mismatch response % x, want ERR_INVLD_ARG echoing pid 5", got)
		}
		if h.expectedPacketID != 0 {
			t.Fatalf("expected packet id %d after mismatch, want 0", h.expectedPacketID)
		}
		if h.buf.ByteCount() != 0 {
			t.Fatal("buffer should be abandoned after a packet id mismatch")
		}
	})

	t.Run("commit with buffer not full", func(t *testing.T) {
		h, flash := newTestHandler(t, testConfig())
		processWire(t, h, []byte{0x03, 0x02, 0x00, 0x00, 0xDE, 0xAD, 0xBE, 0xEF})
		before := append([]byte(nil), flash.Bytes()...)

		got := processWire(t, h, []byte{0x11, 0x02, 0x00, 0x00, 0x04, 0x00, 0x00, 0x00})
		if got[2] != byte(RES_ERR_INVLD_ARG) {
			t.Fatalf("commit response % x, want ERR_INVLD_ARG", got)
		}
		if !bytes.Equal(before, flash.Bytes()) {
			t.Fatal("flash changed by a rejected commit")
		}
	})
}

func TestHandlerDeviceInfo(t *testing.T) {
	cfg := testConfig()
	h, flash := newTestHandler(t, cfg)
	flash.SetIdentity(0x1234, 0x5678, 0x20260806, [3]uint32{0xAAAA0000, 0xBBBB1111, 0xCCCC2222})

	t.Run("version", func(t *testing.T) {
		resp := h.Process(NewRequest(REQ_DEV_INFO_BOOTLOADER_VERSION, 0, 0))
		want := [4]byte{VersionMajor, VersionMinor, VersionPatch, 0}
		if resp.Result != RES_ACK || resp.Data != want {
			t.Fatalf("version response %v", &resp)
		}
	})

	words := []struct {
		name string
		req  RequestType
		arg  uint32
		want uint32
	}{
		{"vid", REQ_DEV_INFO_VID, 0, 0x1234},
		{"pid", REQ_DEV_INFO_PID, 0, 0x5678},
		{"prd", REQ_DEV_INFO_PRD, 0, 0x20260806},
		{"uid0", REQ_DEV_INFO_UID, 0, 0xAAAA0000},
		{"uid2", REQ_DEV_INFO_UID, 2, 0xCCCC2222},
		{"flash start", REQ_FLASH_INFO_START_ADDR, 0, cfg.FlashStartAddr},
		{"page size", REQ_FLASH_INFO_PAGE_SIZE, 0, cfg.FlashPageSize},
		{"num pages", REQ_FLASH_INFO_NUM_PAGES, 0, cfg.NumPages()},
		{"app page", REQ_APP_INFO_PAGE_IDX, 0, cfg.FlashAppFirstPage},
	}
	for _, tt := range words {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.Process(NewRequest(tt.req, 0, tt.arg))
			if resp.Result != RES_ACK {
				t.Fatalf("result %v", resp.Result)
			}
			if resp.DataWord() != tt.want {
				t.Fatalf("word %#x, want %#x", resp.DataWord(), tt.want)
			}
		})
	}

	t.Run("uid out of range", func(t *testing.T) {
		resp := h.Process(NewRequest(REQ_DEV_INFO_UID, 0, 3))
		if resp.Result != RES_ERR_INVLD_ARG {
			t.Fatalf("result %v, want ERR_INVLD_ARG", resp.Result)
		}
	})

	t.Run("unknown request", func(t *testing.T) {
		resp := h.Process(NewRequest(0x7777, 0, 0))
		if resp.Result != RES_ERR_NOT_SUPPORTED {
			t.Fatalf("result %v, want ERR_NOT_SUPPORTED", resp.Result)
		}
	})
}

func TestHandlerPageFlow(t *testing.T) {
	cfg := testConfig()
	h, flash := newTestHandler(t, cfg)
	pageID := cfg.FlashAppFirstPage

	resp := h.Process(NewRequest(REQ_PAGE_ERASE, 0, pageID))
	if resp.Result != RES_ACK || resp.DataWord() != pageID {
		t.Fatalf("erase response %v", &resp)
	}

	fillPage(t, h, 0x5A)

	// Staged word readback and checksum before anything touches flash.
	resp = h.Process(NewRequest(REQ_PAGE_BUFFER_READ_WORD, 0, 1))
	if resp.Result != RES_ACK {
		t.Fatalf("buffer read: %v", resp.Result)
	}
	stagedCRC := h.Process(NewRequest(REQ_PAGE_WRITE_BUFFER_CALC_CRC, 0, 0))
	if stagedCRC.Result != RES_ACK {
		t.Fatalf("buffer crc: %v", stagedCRC.Result)
	}

	resp = h.Process(NewRequest(REQ_PAGE_WRITE_BUFFER_TO_FLASH, 0, pageID))
	if resp.Result != RES_ACK {
		t.Fatalf("commit: %v", resp.Result)
	}

	if got := flash.CRC32(cfg.PageAddr(pageID), cfg.FlashPageSize); got != stagedCRC.DataWord() {
		t.Fatalf("flash crc %#08x, staged %#08x", got, stagedCRC.DataWord())
	}
	if h.expectedPacketID != 0 {
		t.Fatal("packet id should restart after a commit")
	}

	t.Run("second commit needs a fresh buffer", func(t *testing.T) {
		resp := h.Process(NewRequest(REQ_PAGE_WRITE_BUFFER_TO_FLASH, 0, pageID))
		if resp.Result != RES_ERR_INVLD_ARG {
			t.Fatalf("result %v, want ERR_INVLD_ARG", resp.Result)
		}
	})
}

func TestHandlerCommitPageMismatch(t *testing.T) {
	cfg := testConfig()
	h, _ := newTestHandler(t, cfg)

	h.Process(NewRequest(REQ_PAGE_ERASE, 0, cfg.FlashAppFirstPage))
	fillPage(t, h, 0x11)

	resp := h.Process(NewRequest(REQ_PAGE_WRITE_BUFFER_TO_FLASH, 0, cfg.FlashAppFirstPage+1))
	if resp.Result != RES_ERR_INVLD_ARG {
		t.Fatalf("commit to a different page: %v, want ERR_INVLD_ARG", resp.Result)
	}

	// The selected page still commits.
	resp = h.Process(NewRequest(REQ_PAGE_WRITE_BUFFER_TO_FLASH, 0, cfg.FlashAppFirstPage))
	if resp.Result != RES_ACK {
		t.Fatalf("commit to the erased page: %v", resp.Result)
	}
}

func TestHandlerCommitWithoutErase(t *testing.T) {
	cfg := testConfig()
	h, flash := newTestHandler(t, cfg)
	pageID := cfg.FlashAppFirstPage + 1

	// Pre-dirty the page so a missing erase would corrupt the write.
	dirty := make([]byte, cfg.FlashPageSize)
	flash.LoadImage(cfg.PageAddr(pageID), dirty)

	fillPage(t, h, 0xA7)
	resp := h.Process(NewRequest(REQ_PAGE_WRITE_BUFFER_TO_FLASH, 0, pageID))
	if resp.Result != RES_ACK {
		t.Fatalf("commit without prior erase: %v", resp.Result)
	}
	if b := flash.ReadByte(cfg.PageAddr(pageID)); b != 0xA7 {
		t.Fatalf("page byte %#x, want 0xA7 (commit must erase the page first)", b)
	}
}

func TestHandlerCommitCRCMismatchKeepsBuffer(t *testing.T) {
	cfg := testConfig()
	h, flash := newTestHandler(t, cfg)
	pageID := cfg.FlashAppFirstPage

	h.Process(NewRequest(REQ_PAGE_ERASE, 0, pageID))
	fillPage(t, h, 0x33)

	// Corrupt the erased page behind the handler's back. AND programming
	// over the zeroed bytes loses bits, so the readback checksum fails.
	flash.LoadImage(cfg.PageAddr(pageID), make([]byte, cfg.FlashPageSize))

	resp := h.Process(NewRequest(REQ_PAGE_WRITE_BUFFER_TO_FLASH, 0, pageID))
	if resp.Result != RES_ERR_CRC {
		t.Fatalf("commit onto corrupted page: %v, want ERR_CRC", resp.Result)
	}
	if !h.buf.IsFull() {
		t.Fatal("buffer must survive a failed readback for the retry")
	}

	// The retry re-erases and succeeds with the kept buffer.
	resp = h.Process(NewRequest(REQ_PAGE_WRITE_BUFFER_TO_FLASH, 0, pageID))
	if resp.Result != RES_ACK {
		t.Fatalf("retry commit: %v", resp.Result)
	}
	if b := flash.ReadByte(cfg.PageAddr(pageID)); b != 0x33 {
		t.Fatalf("page byte %#x after retry", b)
	}
}

func TestHandlerPageBufferClear(t *testing.T) {
	h, _ := newTestHandler(t, testConfig())
	h.Process(Msg{Request: REQ_PAGE_WRITE_WORD, PacketID: 0, Data: [4]byte{1, 2, 3, 4}})

	resp := h.Process(NewRequest(REQ_PAGE_BUFFER_CLEAR, 0, 0))
	if resp.Result != RES_ACK {
		t.Fatalf("clear: %v", resp.Result)
	}
	if h.buf.ByteCount() != 0 || h.expectedPacketID != 0 {
		t.Fatal("clear must reset buffer and packet id")
	}
}

func TestHandlerFlashReadWord(t *testing.T) {
	cfg := testConfig()
	h, flash := newTestHandler(t, cfg)
	flash.LoadImage(cfg.FlashStartAddr, []byte{0x78, 0x56, 0x34, 0x12})

	resp := h.Process(NewRequest(REQ_FLASH_READ_WORD, 0, cfg.FlashStartAddr))
	if resp.Result != RES_ACK || resp.DataWord() != 0x12345678 {
		t.Fatalf("read word: %v", &resp)
	}

	bad := []uint32{
		cfg.FlashStartAddr + 1,
		cfg.FlashStartAddr - 4,
		cfg.FlashStartAddr + cfg.FlashSize,
	}
	for _, addr := range bad {
		resp := h.Process(NewRequest(REQ_FLASH_READ_WORD, 0, addr))
		if resp.Result != RES_ERR_INVLD_ARG {
			t.Fatalf("read %#x: %v, want ERR_INVLD_ARG", addr, resp.Result)
		}
	}
}

func TestHandlerStartApp(t *testing.T) {
	cfg := testConfig()

	t.Run("invalid app refused", func(t *testing.T) {
		h, flash := newTestHandler(t, cfg)
		resp := h.Process(NewRequest(REQ_START_APP, 0, 0))
		if resp.Result != RES_ERR_CRC {
			t.Fatalf("start with blank flash: %v, want ERR_CRC", resp.Result)
		}
		if h.TakeSideEffect() != SideEffectNone {
			t.Fatal("no side effect may be queued for a refused start")
		}
		if len(flash.Launches()) != 0 {
			t.Fatal("launch must not run")
		}
	})

	t.Run("forced start skips the check", func(t *testing.T) {
		h, _ := newTestHandler(t, cfg)
		resp := h.Process(NewRequest(REQ_START_APP, 0, 1))
		if resp.Result != RES_ACK {
			t.Fatalf("forced start: %v", resp.Result)
		}
		if h.TakeSideEffect() != SideEffectLaunch {
			t.Fatal("launch side effect missing")
		}
	})

	t.Run("valid app starts", func(t *testing.T) {
		h, flash := newTestHandler(t, cfg)
		fw := validAppImage(t, cfg)
		flash.LoadImage(cfg.AppStartAddr(), fw.Data)

		resp := h.Process(NewRequest(REQ_START_APP, 0, 0))
		if resp.Result != RES_ACK {
			t.Fatalf("start: %v", resp.Result)
		}
		if h.TakeSideEffect() != SideEffectLaunch {
			t.Fatal("launch side effect missing")
		}
	})

	t.Run("bad argument", func(t *testing.T) {
		h, _ := newTestHandler(t, cfg)
		resp := h.Process(NewRequest(REQ_START_APP, 0, 2))
		if resp.Result != RES_ERR_INVLD_ARG {
			t.Fatalf("start arg 2: %v, want ERR_INVLD_ARG", resp.Result)
		}
	})
}

func TestHandlerResetSideEffect(t *testing.T) {
	h, _ := newTestHandler(t, testConfig())
	resp := h.Process(NewRequest(REQ_RESET_DEVICE, 0, 0))
	if resp.Result != RES_ACK {
		t.Fatalf("reset: %v", resp.Result)
	}
	if h.TakeSideEffect() != SideEffectReset {
		t.Fatal("reset side effect missing")
	}
	if h.TakeSideEffect() != SideEffectNone {
		t.Fatal("side effect must clear once taken")
	}
}

func TestHandlerAppCRCRequests(t *testing.T) {
	cfg := testConfig()
	h, flash := newTestHandler(t, cfg)
	fw := validAppImage(t, cfg)
	flash.LoadImage(cfg.AppStartAddr(), fw.Data)

	calc := h.Process(NewRequest(REQ_APP_INFO_CRC_CALC, 0, 0))
	stored := h.Process(NewRequest(REQ_APP_INFO_CRC_STRD, 0, 0))
	if calc.DataWord() != fw.CRC() || stored.DataWord() != fw.CRC() {
		t.Fatalf("calc %#08x stored %#08x, image %#08x",
			calc.DataWord(), stored.DataWord(), fw.CRC())
	}
}
