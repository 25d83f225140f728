package franklyboot

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DeviceProfile configures the emulated device: flash geometry,
// identity words and autoboot behaviour. Loaded from a yaml file by the
// emulate command.
type DeviceProfile struct {
	Flash struct {
		StartAddr    uint32 `yaml:"start_addr"`
		Size         uint32 `yaml:"size"`
		PageSize     uint32 `yaml:"page_size"`
		AppFirstPage uint32 `yaml:"app_first_page"`
	} `yaml:"flash"`

	RAMStartAddr uint32 `yaml:"ram_start_addr"`

	Identity struct {
		VendorID       uint32    `yaml:"vendor_id"`
		ProductID      uint32    `yaml:"product_id"`
		ProductionDate uint32    `yaml:"production_date"`
		UniqueID       [3]uint32 `yaml:"unique_id"`
	} `yaml:"identity"`

	Autoboot struct {
		Enabled bool   `yaml:"enabled"`
		DelayMS uint32 `yaml:"delay_ms"`
	} `yaml:"autoboot"`

	// FlashImage optionally backs the emulated flash with a file, loaded
	// at startup and written back on shutdown.
	FlashImage string `yaml:"flash_image"`
}

// DefaultProfile models a small Cortex-M4 part: 128 KiB flash in 2 KiB
// pages with the first 16 KiB reserved for the bootloader.
func DefaultProfile() *DeviceProfile {
	p := &DeviceProfile{}
	p.Flash.StartAddr = 0x08000000
	p.Flash.Size = 128 * 1024
	p.Flash.PageSize = 2048
	p.Flash.AppFirstPage = 8
	p.RAMStartAddr = 0x20000000
	p.Identity.VendorID = 0x46524352
	p.Identity.ProductID = 0x0001
	p.Identity.ProductionDate = 0x20260806
	p.Identity.UniqueID = [3]uint32{0x11111111, 0x22222222, 0x33333333}
	p.Autoboot.Enabled = true
	p.Autoboot.DelayMS = 1000
	return p
}

// LoadProfile reads a yaml profile, filling unset fields from the
// default.
func LoadProfile(path string) (*DeviceProfile, error) {
	p := DefaultProfile()
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}
	if err := p.Config().Validate(); err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}
	return p, nil
}

// Config maps the profile onto the device configuration.
func (p *DeviceProfile) Config() Config {
	return Config{
		FlashStartAddr:    p.Flash.StartAddr,
		FlashAppFirstPage: p.Flash.AppFirstPage,
		FlashSize:         p.Flash.Size,
		FlashPageSize:     p.Flash.PageSize,
		RAMStartAddr:      p.RAMStartAddr,
	}
}
