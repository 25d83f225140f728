package franklyboot

// HardwareInterface is the capability set a board has to supply to the
// handler. One implementation exists per platform; EmulatedFlash is the
// in-process one.
//
// Contracts:
//   - ErasePage leaves every byte of the page reading 0xFF.
//   - WritePage requires the target page to be erased and len(data) to be
//     a positive multiple of the program granule, with addr granule
//     aligned. Pre-erase is the caller's responsibility.
//   - CRC32 is CRC-32/ISO-HDLC over numBytes bytes at addr. Callers keep
//     numBytes a multiple of 4 so word-stepped hardware units see the full
//     range. It cannot fail.
//   - UniqueIDWord returns one of three factory ID words, 0 out of range.
//   - ResetDevice and LaunchApp never return on real hardware. LaunchApp
//     must disable interrupts, clear pending IRQs, move the vector table,
//     load the stack pointer from *appAddr and jump to *(appAddr+4); on
//     XIP-flash parts the XIP cache has to be flushed first so freshly
//     written pages are fetched from flash, not stale cache lines.
type HardwareInterface interface {
	ErasePage(pageID uint32) bool
	WritePage(addr uint32, pageID uint32, data []byte) bool
	ReadByte(addr uint32) byte
	CRC32(addr uint32, numBytes uint32) uint32
	UniqueIDWord(idx uint32) uint32

	VendorID() uint32
	ProductID() uint32
	ProductionDate() uint32

	ResetDevice()
	LaunchApp(appAddr uint32)
}

// readWord assembles a little-endian word from four flash byte reads.
func readWord(hwi HardwareInterface, addr uint32) uint32 {
	return uint32(hwi.ReadByte(addr)) |
		uint32(hwi.ReadByte(addr+1))<<8 |
		uint32(hwi.ReadByte(addr+2))<<16 |
		uint32(hwi.ReadByte(addr+3))<<24
}
