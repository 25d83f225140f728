package franklyboot

// AppValid reports whether the application region holds a launchable
// image. Recomputed from flash on every call, never cached, so a
// half-written update can never be declared good.
//
// Three checks:
//   - CRC-32 over the app region (footer excluded) equals the footer word
//   - the initial stack pointer lies in a 1 MiB window at the RAM base
//   - the reset vector points into the app region
func AppValid(cfg Config, hwi HardwareInterface) bool {
	calc := hwi.CRC32(cfg.AppStartAddr(), cfg.AppNumBytes()-4)
	stored := readWord(hwi, cfg.AppCRCAddr())
	if calc != stored {
		return false
	}

	sp := readWord(hwi, cfg.AppStartAddr())
	if sp&0xFFF00000 != cfg.RAMStartAddr&0xFFF00000 {
		return false
	}

	// Bit 0 is the thumb bit, always set in a real vector table.
	rv := readWord(hwi, cfg.AppStartAddr()+4) &^ 1
	return rv >= cfg.AppStartAddr() && rv < cfg.AppStartAddr()+cfg.AppNumBytes()
}
