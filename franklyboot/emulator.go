package franklyboot

import (
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

// Emulator runs the device side in-process against any FrameTransport.
// One Run is one boot: it ends when the device resets, launches the
// application or is stopped.
type Emulator struct {
	profile *DeviceProfile
	flash   *EmulatedFlash
	handler *Handler
	tr      FrameTransport

	// scratch models the reset-surviving scratch register. It is read
	// and cleared once, at the start of Run.
	scratch uint32
}

func NewEmulator(profile *DeviceProfile, tr FrameTransport) (*Emulator, error) {
	cfg := profile.Config()
	flash := NewEmulatedFlash(cfg)
	flash.SetIdentity(
		profile.Identity.VendorID,
		profile.Identity.ProductID,
		profile.Identity.ProductionDate,
		profile.Identity.UniqueID,
	)
	if profile.FlashImage != "" {
		if raw, err := os.ReadFile(profile.FlashImage); err == nil {
			flash.LoadImage(cfg.FlashStartAddr, raw)
			log.Infof("loaded %d flash bytes from %s", len(raw), profile.FlashImage)
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load flash image: %w", err)
		}
	}
	handler, err := NewHandler(cfg, flash)
	if err != nil {
		return nil, err
	}
	return &Emulator{profile: profile, flash: flash, handler: handler, tr: tr}, nil
}

// Flash exposes the emulated hardware, mainly to tests for seeding and
// inspection.
func (e *Emulator) Flash() *EmulatedFlash {
	return e.flash
}

// SetScratch stores a value into the scratch register, the way an
// application would before resetting into the bootloader.
func (e *Emulator) SetScratch(value uint32) {
	e.scratch = value
}

func (e *Emulator) takeScratch() uint32 {
	v := e.scratch
	e.scratch = 0
	return v
}

// Run executes one boot of the device loop: arm the autoboot arbiter,
// then serve frames until reset, launch or stop. The response always
// leaves the wire before its side effect runs.
func (e *Emulator) Run(stop <-chan struct{}) error {
	cfg := e.handler.Config()

	delay := time.Duration(e.profile.Autoboot.DelayMS) * time.Millisecond
	valid := AppValid(cfg, e.flash)
	arbiter := NewAutoBoot(e.takeScratch(), e.profile.Autoboot.Enabled && valid, delay)
	defer arbiter.Cancel()
	log.Infof("device up, app valid: %v", valid)

	if e.profile.FlashImage != "" {
		defer e.persistFlash()
	}

	for {
		select {
		case <-stop:
			return nil
		default:
		}

		frame, err := e.tr.RecvFrame(50 * time.Millisecond)
		if err == ErrTimeout {
			if arbiter.ShouldLaunch() {
				log.Infof("autoboot, launching app at %#08x", cfg.AppStartAddr())
				e.flash.LaunchApp(cfg.AppStartAddr())
				return nil
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("receive: %w", err)
		}

		var req Msg
		if err := req.FromWire(frame); err != nil {
			continue
		}
		arbiter.Observe(req.Request)

		resp := e.handler.Process(req)
		log.Debugf("%v -> %v", req.Request, resp.Result)
		if err := e.tr.SendFrame(resp.ToWire()); err != nil {
			return fmt.Errorf("transmit: %w", err)
		}

		switch e.handler.TakeSideEffect() {
		case SideEffectReset:
			log.Info("device reset")
			e.flash.ResetDevice()
			return nil
		case SideEffectLaunch:
			log.Infof("launching app at %#08x", cfg.AppStartAddr())
			e.flash.LaunchApp(cfg.AppStartAddr())
			return nil
		}
	}
}

func (e *Emulator) persistFlash() {
	if err := os.WriteFile(e.profile.FlashImage, e.flash.Bytes(), 0o644); err != nil {
		log.Errorf("persist flash image: %v", err)
	}
}
