package hpetsim

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile describes the hardware a Device presents.
type Profile struct {
	PeriodFemtoseconds uint32         `yaml:"period_fs"`
	VendorID           uint16         `yaml:"vendor_id"`
	Revision           uint8          `yaml:"revision"`
	Counter64Bit       bool           `yaml:"counter_64bit"`
	LegacyCapable      bool           `yaml:"legacy_capable"`
	Timers             []TimerProfile `yaml:"timers"`
}

// TimerProfile describes the capabilities of one comparator.
type TimerProfile struct {
	Periodic bool   `yaml:"periodic"`
	Size64   bool   `yaml:"size_64bit"`
	FSB      bool   `yaml:"fsb"`
	RouteCap uint32 `yaml:"route_cap"`
}

const (
	defaultPeriodFemtoseconds = 10_000_000 // 10ns
	defaultVendorID           = 0x8086
	defaultTimers             = 3
	maxTimers                 = 32
)

// DefaultProfile is a 100 MHz, 64-bit, legacy-capable block with three
// periodic-capable 64-bit comparators routable to any I/O APIC input.
func DefaultProfile() Profile {
	p := Profile{
		PeriodFemtoseconds: defaultPeriodFemtoseconds,
		VendorID:           defaultVendorID,
		Revision:           1,
		Counter64Bit:       true,
		LegacyCapable:      true,
	}
	for i := 0; i < defaultTimers; i++ {
		p.Timers = append(p.Timers, TimerProfile{Periodic: true, Size64: true, RouteCap: 0xffffffff})
	}
	return p
}

func (p Profile) Validate() error {
	if len(p.Timers) == 0 || len(p.Timers) > maxTimers {
		return fmt.Errorf("hpetsim: profile has %d timers, want 1..%d", len(p.Timers), maxTimers)
	}
	return nil
}

// ParseProfile decodes a YAML profile. Fields it leaves out keep their
// DefaultProfile values; a timers list replaces the default list.
func ParseProfile(data []byte) (Profile, error) {
	p := DefaultProfile()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("hpetsim: parse profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// LoadProfile reads a YAML profile from path.
func LoadProfile(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("hpetsim: read profile: %w", err)
	}
	return ParseProfile(data)
}

// Marshal encodes the profile as YAML.
func (p Profile) Marshal() ([]byte, error) {
	return yaml.Marshal(p)
}
