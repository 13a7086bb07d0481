package hpet

import (
	"fmt"
	"time"
)

// maxCounterSampleAttempts bounds the low/high/low protocol. A wrap can land
// inside at most one sampling window, so the second attempt always succeeds
// on hardware that ticks slower than three bus reads.
const maxCounterSampleAttempts = 4

// Enable sets ENABLE_CNF: the main counter runs and comparators may fire.
// Enabling an enabled device does nothing.
func (d *Driver) Enable() { d.setEnabled(true) }

// Disable clears ENABLE_CNF: the main counter halts and no comparator fires.
// Disabling a disabled device does nothing.
func (d *Driver) Disable() { d.setEnabled(false) }

// Enabled reports ENABLE_CNF.
func (d *Driver) Enabled() bool {
	return GeneralConfig(d.bus.Read64(regConfig)).Enabled()
}

func (d *Driver) setEnabled(on bool) {
	cfg := GeneralConfig(d.bus.Read64(regConfig))
	if cfg.Enabled() == on {
		return
	}
	d.bus.Write64(regConfig, uint64(cfg.WithEnabled(on)))
	d.log.Debug("hpet: main counter", "enabled", on)
}

// ReadTicks returns the logical 64-bit main counter. Successive calls never
// return a smaller value while the counter is not rewritten.
//
// A 64-bit counter is read with one aligned 64-bit load. A 32-bit counter is
// extended in software and must be read at least once every 2^32 ticks for
// wraps to be counted.
func (d *Driver) ReadTicks() uint64 {
	if d.caps.Counter64Bit {
		return d.bus.Read64(regMainCounter)
	}
	return d.readExtended()
}

// Elapsed converts the ticks since start into a duration.
func (d *Driver) Elapsed(start uint64) (time.Duration, error) {
	return d.conv.ToDuration(d.ReadTicks() - start)
}

// WriteTicks loads the main counter. The counter must be halted.
func (d *Driver) WriteTicks(value uint64) error {
	if d.Enabled() {
		return fmt.Errorf("hpet: write main counter while enabled: %w", ErrInvalidState)
	}
	if d.caps.Counter64Bit {
		d.bus.Write64(regMainCounter, value)
	} else {
		d.bus.Write64(regMainCounter, uint64(uint32(value)))
		d.extended.Store(value)
	}
	d.log.Debug("hpet: main counter written", "ticks", value)
	return nil
}

// readExtended folds a fresh 32-bit sample into the extended counter. The
// sample is taken after the last published value was loaded, so it is never
// older than that value and the step (sample - last) mod 2^32 is a forward
// move that carries into the high word exactly when the hardware wrapped. A
// failed swap means another reader published first; the sample is retaken
// against the newer value.
func (d *Driver) readExtended() uint64 {
	for {
		prev := d.extended.Load()
		sample := d.sampleLow()
		next := prev + uint64(sample-uint32(prev))
		if d.extended.CompareAndSwap(prev, next) {
			return next
		}
	}
}

// sampleLow runs the low/high/low read protocol on a 32-bit counter. The read
// of the upper half is only a reference access separating the two low reads;
// a second low value below the first means the counter wrapped between them,
// and the sample is retaken.
func (d *Driver) sampleLow() uint32 {
	var low uint32
	for attempt := 0; attempt < maxCounterSampleAttempts; attempt++ {
		first := d.bus.Read32(regMainCounter)
		_ = d.bus.Read32(regMainCounter + 4)
		low = d.bus.Read32(regMainCounter)
		if low >= first {
			return low
		}
		d.log.Debug("hpet: counter wrapped during read", "first", first, "second", low)
	}
	return low
}
