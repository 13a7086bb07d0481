package hpet

import (
	"fmt"

	"github.com/tinyrange/hpet/mmio"
)

// Capabilities is the immutable identity of an HPET block, read once at
// initialization.
type Capabilities struct {
	// PeriodFemtoseconds is the main counter tick period. Never zero.
	PeriodFemtoseconds uint32
	VendorID           uint16
	RevisionID         uint8
	// TimerCount is the number of comparators, NUM_TIM_CAP + 1.
	TimerCount         int
	Counter64Bit       bool
	LegacyRouteCapable bool
}

// ParseCapabilities reads the General Capabilities and ID register of the block
// behind bus. It has no side effects beyond that single read.
func ParseCapabilities(bus mmio.Bus) (Capabilities, error) {
	return DecodeCapabilities(GeneralCapabilities(bus.Read64(regCapabilities)))
}

// DecodeCapabilities validates a General Capabilities and ID register image.
// A block that is absent reads as all zeros or all ones; both are rejected.
func DecodeCapabilities(reg GeneralCapabilities) (Capabilities, error) {
	caps := Capabilities{
		PeriodFemtoseconds: reg.CounterPeriod(),
		VendorID:           reg.VendorID(),
		RevisionID:         reg.RevisionID(),
		TimerCount:         int(reg.LastTimer()) + 1,
		Counter64Bit:       reg.Counter64Bit(),
		LegacyRouteCapable: reg.LegacyRouteCapable(),
	}

	switch {
	case caps.PeriodFemtoseconds == 0:
		return Capabilities{}, fmt.Errorf("hpet: zero counter period: %w", ErrInvalidHardware)
	case caps.PeriodFemtoseconds > MaxPeriodFemtoseconds:
		return Capabilities{}, fmt.Errorf("hpet: counter period %d fs exceeds %d fs: %w",
			caps.PeriodFemtoseconds, MaxPeriodFemtoseconds, ErrInvalidHardware)
	case caps.TimerCount == 0:
		return Capabilities{}, fmt.Errorf("hpet: no comparators: %w", ErrInvalidHardware)
	case caps.RevisionID == 0:
		return Capabilities{}, fmt.Errorf("hpet: zero revision id: %w", ErrInvalidHardware)
	}
	return caps, nil
}

// FrequencyHz is the main counter rate, truncated to whole hertz.
func (c Capabilities) FrequencyHz() uint64 {
	return femtosPerSecond / uint64(c.PeriodFemtoseconds)
}

func (c Capabilities) String() string {
	width := 32
	if c.Counter64Bit {
		width = 64
	}
	return fmt.Sprintf("vendor=%#04x rev=%d period=%dfs (%d Hz) timers=%d counter=%d-bit legacy=%v",
		c.VendorID, c.RevisionID, c.PeriodFemtoseconds, c.FrequencyHz(), c.TimerCount, width, c.LegacyRouteCapable)
}
