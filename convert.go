package hpet

import (
	"fmt"
	"math"
	"math/bits"
	"time"
)

const (
	femtosPerNano   = 1_000_000
	femtosPerSecond = 1_000_000_000_000_000
)

// Converter turns durations into main counter ticks and back.
//
// Both directions multiply into a 128-bit intermediate before dividing, so no
// representable input overflows the product, and both round to nearest. A
// round trip therefore drifts by at most one tick's worth of time (bounded
// below by the 1 ns resolution of time.Duration).
type Converter struct {
	period   uint64
	maxTicks uint64
}

// NewConverter builds a converter for a counter with the given tick period.
// A 32-bit counter limits ToTicks to 2^32-1 ticks.
func NewConverter(periodFemtoseconds uint32, counter64Bit bool) (Converter, error) {
	if periodFemtoseconds == 0 {
		return Converter{}, fmt.Errorf("hpet: zero counter period: %w", ErrInvalidHardware)
	}
	maxTicks := uint64(math.MaxUint64)
	if !counter64Bit {
		maxTicks = math.MaxUint32
	}
	return Converter{period: uint64(periodFemtoseconds), maxTicks: maxTicks}, nil
}

// PeriodFemtoseconds is the length of one tick.
func (c Converter) PeriodFemtoseconds() uint64 { return c.period }

// MaxTicks is the largest tick count ToTicks may return.
func (c Converter) MaxTicks() uint64 { return c.maxTicks }

// Resolution is one tick rounded up to whole nanoseconds.
func (c Converter) Resolution() time.Duration {
	return time.Duration((c.period + femtosPerNano - 1) / femtosPerNano)
}

// ToTicks converts d into the nearest whole number of ticks.
func (c Converter) ToTicks(d time.Duration) (uint64, error) {
	if d < 0 {
		return 0, fmt.Errorf("hpet: negative duration %s: %w", d, ErrOverflow)
	}
	hi, lo := bits.Mul64(uint64(d), femtosPerNano)
	var carry uint64
	lo, carry = bits.Add64(lo, c.period/2, 0)
	hi += carry
	if hi >= c.period {
		return 0, fmt.Errorf("hpet: duration %s does not fit in 64-bit ticks: %w", d, ErrOverflow)
	}
	ticks, _ := bits.Div64(hi, lo, c.period)
	if ticks > c.maxTicks {
		return 0, fmt.Errorf("hpet: duration %s is %d ticks, counter holds %d: %w", d, ticks, c.maxTicks, ErrOverflow)
	}
	return ticks, nil
}

// ToDuration converts ticks into the nearest whole nanosecond duration.
func (c Converter) ToDuration(ticks uint64) (time.Duration, error) {
	hi, lo := bits.Mul64(ticks, c.period)
	var carry uint64
	lo, carry = bits.Add64(lo, femtosPerNano/2, 0)
	hi += carry
	if hi >= femtosPerNano {
		return 0, fmt.Errorf("hpet: %d ticks exceed time.Duration: %w", ticks, ErrOverflow)
	}
	ns, _ := bits.Div64(hi, lo, femtosPerNano)
	if ns > math.MaxInt64 {
		return 0, fmt.Errorf("hpet: %d ticks exceed time.Duration: %w", ticks, ErrOverflow)
	}
	return time.Duration(ns), nil
}
