package franklyboot

// SideEffect is an action the frame loop has to run after the response
// frame has left the wire. Reset and launch tear the device out from under
// the link, so they can never run inside dispatch.
type SideEffect int

const (
	SideEffectNone SideEffect = iota
	SideEffectReset
	SideEffectLaunch
)

// Handler executes one request frame at a time against the device state.
// It owns the page buffer and the write-sequence bookkeeping; the
// surrounding loop owns the transport and the autoboot timer.
//
// Not safe for concurrent use. The protocol is strictly half duplex, one
// outstanding request per link.
type Handler struct {
	cfg Config
	hwi HardwareInterface
	buf *PageBuffer

	// expectedPacketID is the sequence number the next PAGE_WRITE_WORD
	// must carry. It wraps at 256, which pages larger than 1 KiB rely on.
	expectedPacketID byte

	// currentPageID is the page selected by the last successful erase.
	// havePage distinguishes page 0 from no selection.
	currentPageID uint32
	havePage      bool

	// erased tracks pages erased since their last commit. A commit of a
	// page not in the set erases it first.
	erased map[uint32]bool

	pending SideEffect
}

func NewHandler(cfg Config, hwi HardwareInterface) (*Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Handler{
		cfg:    cfg,
		hwi:    hwi,
		buf:    NewPageBuffer(cfg.FlashPageSize),
		erased: make(map[uint32]bool),
	}, nil
}

func (h *Handler) Config() Config {
	return h.cfg
}

// TakeSideEffect returns the action queued by the last Process call and
// clears it.
func (h *Handler) TakeSideEffect() SideEffect {
	e := h.pending
	h.pending = SideEffectNone
	return e
}

// Process runs one request and returns the response frame. The response
// echoes the request code and packet ID; unknown codes answer
// ERR_NOT_SUPPORTED so a newer host can probe an older device.
func (h *Handler) Process(req Msg) Msg {
	resp := Msg{Request: req.Request, Result: RES_ACK, PacketID: req.PacketID}

	switch req.Request {
	case REQ_PING:
		// Response data stays zero.

	case REQ_RESET_DEVICE:
		h.pending = SideEffectReset

	case REQ_START_APP:
		switch req.DataWord() {
		case 0:
			if !AppValid(h.cfg, h.hwi) {
				resp.Result = RES_ERR_CRC
				break
			}
			h.pending = SideEffectLaunch
		case 1:
			// Forced start, no integrity check.
			h.pending = SideEffectLaunch
		default:
			resp.Result = RES_ERR_INVLD_ARG
		}

	case REQ_DEV_INFO_BOOTLOADER_VERSION:
		resp.Data = [4]byte{VersionMajor, VersionMinor, VersionPatch, 0}

	case REQ_DEV_INFO_VID:
		resp.SetDataWord(h.hwi.VendorID())

	case REQ_DEV_INFO_PID:
		resp.SetDataWord(h.hwi.ProductID())

	case REQ_DEV_INFO_PRD:
		resp.SetDataWord(h.hwi.ProductionDate())

	case REQ_DEV_INFO_UID:
		idx := req.DataWord()
		if idx > 2 {
			resp.Result = RES_ERR_INVLD_ARG
			break
		}
		resp.SetDataWord(h.hwi.UniqueIDWord(idx))

	case REQ_FLASH_INFO_START_ADDR:
		resp.SetDataWord(h.cfg.FlashStartAddr)

	case REQ_FLASH_INFO_PAGE_SIZE:
		resp.SetDataWord(h.cfg.FlashPageSize)

	case REQ_FLASH_INFO_NUM_PAGES:
		resp.SetDataWord(h.cfg.NumPages())

	case REQ_APP_INFO_PAGE_IDX:
		resp.SetDataWord(h.cfg.FlashAppFirstPage)

	case REQ_APP_INFO_CRC_CALC:
		resp.SetDataWord(h.hwi.CRC32(h.cfg.AppStartAddr(), h.cfg.AppNumBytes()-4))

	case REQ_APP_INFO_CRC_STRD:
		resp.SetDataWord(readWord(h.hwi, h.cfg.AppCRCAddr()))

	case REQ_PAGE_BUFFER_CLEAR:
		h.buf.Reset()
		h.expectedPacketID = 0

	case REQ_PAGE_BUFFER_READ_WORD:
		w, ok := h.buf.Word(req.DataWord())
		if !ok {
			resp.Result = RES_ERR_INVLD_ARG
			break
		}
		resp.SetDataWord(w)

	case REQ_PAGE_ERASE:
		h.processPageErase(req, &resp)

	case REQ_PAGE_WRITE_WORD:
		h.processPageWriteWord(req, &resp)

	case REQ_PAGE_WRITE_BUFFER_CALC_CRC:
		resp.SetDataWord(h.buf.CRC())

	case REQ_FLASH_READ_WORD:
		addr := req.DataWord()
		if addr%4 != 0 || addr < h.cfg.FlashStartAddr ||
			addr+4 > h.cfg.FlashStartAddr+h.cfg.FlashSize {
			resp.Result = RES_ERR_INVLD_ARG
			break
		}
		resp.SetDataWord(readWord(h.hwi, addr))

	case REQ_PAGE_WRITE_BUFFER_TO_FLASH:
		h.processCommit(req, &resp)

	default:
		resp.Result = RES_ERR_NOT_SUPPORTED
	}

	return resp
}

// processPageErase erases one application page and selects it as the
// target of the following write sequence. Bootloader pages are never
// erasable.
func (h *Handler) processPageErase(req Msg, resp *Msg) {
	pageID := req.DataWord()
	if !h.cfg.InAppRegion(pageID) {
		resp.Result = RES_ERR_INVLD_ARG
		return
	}
	if !h.hwi.ErasePage(pageID) {
		resp.Result = RES_ERR
		return
	}
	h.erased[pageID] = true
	h.currentPageID = pageID
	h.havePage = true
	h.buf.Reset()
	h.expectedPacketID = 0
	resp.SetDataWord(pageID)
}

// processPageWriteWord stages 4 bytes into the page buffer. A packet ID
// mismatch means frames were lost, so the whole sequence is abandoned and
// the host has to restart the page from word zero.
func (h *Handler) processPageWriteWord(req Msg, resp *Msg) {
	if req.PacketID != h.expectedPacketID {
		h.buf.Reset()
		h.expectedPacketID = 0
		resp.Result = RES_ERR_INVLD_ARG
		return
	}
	if err := h.buf.Append(req.Data); err != nil {
		resp.Result = RES_ERR_PAGE_FULL
		return
	}
	h.expectedPacketID++
	resp.Data = req.Data
	if h.buf.IsFull() {
		resp.Result = RES_ACK_PAGE_FULL
	}
}

// processCommit programs the staged buffer into the named page. The page
// must match the one selected by the preceding erase; without a preceding
// erase the commit adopts the page and erases it itself. A readback CRC
// mismatch keeps the buffer and drops the page from the erased set, so a
// retry goes through a fresh erase.
func (h *Handler) processCommit(req Msg, resp *Msg) {
	pageID := req.DataWord()
	if !h.cfg.InAppRegion(pageID) {
		resp.Result = RES_ERR_INVLD_ARG
		return
	}
	if h.havePage && pageID != h.currentPageID {
		resp.Result = RES_ERR_INVLD_ARG
		return
	}
	if !h.buf.IsFull() {
		resp.Result = RES_ERR_INVLD_ARG
		return
	}
	if !h.erased[pageID] {
		if !h.hwi.ErasePage(pageID) {
			resp.Result = RES_ERR
			return
		}
	}

	switch err := h.buf.Commit(h.cfg, pageID, h.hwi); err {
	case nil:
		delete(h.erased, pageID)
		h.expectedPacketID = 0
		h.havePage = false
		resp.SetDataWord(pageID)
	case ePageCRCMismatch:
		delete(h.erased, pageID)
		resp.Result = RES_ERR_CRC
	default:
		resp.Result = RES_ERR
	}
}
