// Package hpetsim simulates an HPET register block.
//
// Time only moves when Advance is called, when counter reads auto-advance, or
// while Run is driving the counter from the wall clock, so tests can step the
// device one tick at a time.
package hpetsim

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/tinyrange/hpet/internal/chipset"
	"github.com/tinyrange/hpet/internal/hv"
)

const (
	timerConfIntType     uint64 = 1 << 1 // level vs edge
	timerConfIntEnable   uint64 = 1 << 2 // INT_ENB_CNF
	timerConfPeriodic    uint64 = 1 << 3 // TYPE_CNF
	timerConfPeriodicCap uint64 = 1 << 4 // PER_INT_CAP
	timerConfSizeCap     uint64 = 1 << 5 // SIZE_CAP
	timerConfValSet      uint64 = 1 << 6 // VAL_SET_CNF
	timerConf32Bit       uint64 = 1 << 8 // 32MODE_CNF

	timerConfIntRouteShift uint64 = 9
	timerConfIntRouteMask  uint64 = 0x1F << timerConfIntRouteShift

	timerConfFSBEnable uint64 = 1 << 14
	timerConfFSBCap    uint64 = 1 << 15

	timerWritableMask = timerConfIntType | timerConfIntEnable | timerConfPeriodic |
		timerConfValSet | timerConf32Bit | timerConfIntRouteMask | timerConfFSBEnable

	genConfEnable      uint64 = 1 << 0
	genConfLegacyRoute uint64 = 1 << 1

	regGenCap      = 0x000
	regGenConfig   = 0x010
	regIntStatus   = 0x020
	regMainCounter = 0x0F0
	regTimerConfig = 0x100
	timerStride    = 0x20

	MMIOWindowSize = 0x500
)

type timer struct {
	config     uint64
	caps       uint64
	comparator uint64
	period     uint64
	fsRoute    uint64

	// overdue marks a comparator armed at or behind the counter; it fires on
	// the next step instead of waiting for the counter to wrap around to it.
	overdue bool
	// spent marks a one-shot comparator that fired and has not been rewritten.
	spent bool

	fired  int
	writes int
}

type Option func(*Device)

// WithLineSet routes I/O APIC and legacy interrupts onto lines of set.
func WithLineSet(set *chipset.LineSet) Option {
	return func(d *Device) { d.lines = set }
}

// WithMessageSink receives FSB interrupt messages.
func WithMessageSink(sink chipset.MessageSink) Option {
	return func(d *Device) { d.msi = sink }
}

// WithAutoAdvance advances the running counter by ticks on every access to the
// main counter register, like hardware that ticks between bus cycles.
func WithAutoAdvance(ticks uint64) Option {
	return func(d *Device) { d.autoAdvance = ticks }
}

func WithLogger(log *slog.Logger) Option {
	return func(d *Device) {
		if log != nil {
			d.log = log
		}
	}
}

type Device struct {
	base    uint64
	profile Profile
	lines   *chipset.LineSet
	msi     chipset.MessageSink
	log     *slog.Logger

	autoAdvance uint64

	mu             sync.Mutex
	generalConfig  uint64
	intStatus      uint64
	counter        uint64
	femtoRemainder uint64

	timers []timer
}

// New constructs an HPET mapped at base presenting profile.
func New(base uint64, profile Profile, opts ...Option) (*Device, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	dev := &Device{
		base:    base,
		profile: profile,
		log:     slog.Default(),
		timers:  make([]timer, len(profile.Timers)),
	}
	for _, opt := range opts {
		opt(dev)
	}
	if dev.lines == nil {
		dev.lines = chipset.NewLineSet(nil)
	}

	for i, tp := range profile.Timers {
		caps := uint64(tp.RouteCap) << 32
		if tp.Periodic {
			caps |= timerConfPeriodicCap
		}
		if tp.Size64 {
			caps |= timerConfSizeCap
		}
		if tp.FSB {
			caps |= timerConfFSBCap
		}
		dev.timers[i].caps = caps
		dev.timers[i].config = caps
	}
	return dev, nil
}

func (d *Device) MMIORegions() []hv.MMIORegion {
	return []hv.MMIORegion{{Address: d.base, Size: MMIOWindowSize}}
}

func (d *Device) capabilities() uint64 {
	p := d.profile
	val := uint64(p.PeriodFemtoseconds)<<32 | uint64(p.VendorID)<<16 |
		uint64(len(p.Timers)-1)<<8 | uint64(p.Revision)
	if p.Counter64Bit {
		val |= 1 << 13
	}
	if p.LegacyCapable {
		val |= 1 << 15
	}
	return val
}

func (d *Device) counterMask() uint64 {
	if d.profile.Counter64Bit {
		return math.MaxUint64
	}
	return math.MaxUint32
}

func (d *Device) timerMask(t *timer) uint64 {
	if !d.profile.Counter64Bit || t.caps&timerConfSizeCap == 0 || t.config&timerConf32Bit != 0 {
		return math.MaxUint32
	}
	return math.MaxUint64
}

func (d *Device) enabledLocked() bool { return d.generalConfig&genConfEnable != 0 }

// ReadMMIO handles HPET register reads of 4 or 8 bytes.
func (d *Device) ReadMMIO(addr uint64, data []byte) error {
	offset, err := hv.CheckAccess(d, addr, data)
	if err != nil {
		return fmt.Errorf("hpet: read: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	reg := offset &^ 7
	if reg == regMainCounter && d.autoAdvance > 0 {
		d.advanceLocked(d.autoAdvance)
	}
	val := d.readRegLocked(reg) >> (8 * (offset - reg))

	for i := range data {
		data[i] = byte(val >> (i * 8))
	}
	return nil
}

func (d *Device) readRegLocked(reg uint64) uint64 {
	switch {
	case reg == regGenCap:
		return d.capabilities()
	case reg == regGenConfig:
		return d.generalConfig
	case reg == regIntStatus:
		return d.intStatus
	case reg == regMainCounter:
		return d.counter
	case reg >= regTimerConfig:
		idx := (reg - regTimerConfig) / timerStride
		if idx >= uint64(len(d.timers)) {
			return 0
		}
		t := &d.timers[idx]
		switch (reg - regTimerConfig) % timerStride {
		case 0x00:
			return t.config
		case 0x08:
			return t.comparator
		case 0x10:
			return t.fsRoute
		}
	}
	return 0
}

// WriteMMIO handles HPET register writes of 4 or 8 bytes. A 4-byte write
// replaces its half of the register and leaves the other half as it was.
func (d *Device) WriteMMIO(addr uint64, data []byte) error {
	offset, err := hv.CheckAccess(d, addr, data)
	if err != nil {
		return fmt.Errorf("hpet: write: %w", err)
	}

	var val uint64
	switch len(data) {
	case 8:
		val = binary.LittleEndian.Uint64(data)
	case 4:
		val = uint64(binary.LittleEndian.Uint32(data))
	default:
		for i := range data {
			val |= uint64(data[i]) << (i * 8)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	reg := offset &^ 7
	if shift := 8 * (offset - reg); len(data) < 8 {
		mask := (uint64(1)<<(8*len(data)) - 1) << shift
		val <<= shift
		if reg != regIntStatus {
			val |= d.readRegLocked(reg) &^ mask
		}
	}
	d.writeRegLocked(reg, val)
	return nil
}

func (d *Device) writeRegLocked(reg uint64, val uint64) {
	switch {
	case reg == regGenConfig:
		d.generalConfig = val & (genConfEnable | genConfLegacyRoute)
		d.log.Debug("hpet: general config", "enable", d.enabledLocked(), "legacy", val&genConfLegacyRoute != 0)
	case reg == regIntStatus:
		d.clearStatusLocked(val)
	case reg == regMainCounter:
		if d.enabledLocked() {
			// Hardware behaviour is undefined; keep the counter monotonic.
			d.log.Warn("hpet: main counter written while running", "value", val)
			return
		}
		d.counter = val & d.counterMask()
		d.femtoRemainder = 0
	case reg >= regTimerConfig:
		idx := (reg - regTimerConfig) / timerStride
		if idx >= uint64(len(d.timers)) {
			return
		}
		t := &d.timers[idx]
		switch (reg - regTimerConfig) % timerStride {
		case 0x00:
			d.writeTimerConfigLocked(int(idx), t, val)
		case 0x08:
			d.writeComparatorLocked(int(idx), t, val)
		case 0x10:
			t.fsRoute = val
		}
	}
}

func (d *Device) writeTimerConfigLocked(idx int, t *timer, val uint64) {
	prev := t.config
	writable := timerWritableMask
	if t.caps&timerConfPeriodicCap == 0 {
		writable &^= timerConfPeriodic | timerConfValSet
	}
	if t.caps&timerConfSizeCap == 0 {
		writable &^= timerConf32Bit
	}
	if t.caps&timerConfFSBCap == 0 {
		writable &^= timerConfFSBEnable
	}
	t.config = (val & writable) | t.caps

	mask := d.timerMask(t)
	t.comparator &= mask
	t.period &= mask

	if t.config&timerConfIntEnable != 0 && prev&timerConfIntEnable == 0 {
		d.armLocked(t)
	}
	d.log.Debug("hpet: timer config", "timer", idx,
		"enable", t.config&timerConfIntEnable != 0,
		"periodic", t.config&timerConfPeriodic != 0,
		"level", t.config&timerConfIntType != 0,
		"route", (t.config&timerConfIntRouteMask)>>timerConfIntRouteShift,
		"fsb", t.config&timerConfFSBEnable != 0)
}

// writeComparatorLocked models the periodic accumulator: with VAL_SET_CNF set
// a write loads the comparator directly and VAL_SET_CNF clears itself; any
// other write to a periodic comparator loads the period.
func (d *Device) writeComparatorLocked(idx int, t *timer, val uint64) {
	val &= d.timerMask(t)
	t.writes++
	switch {
	case t.config&timerConfPeriodic == 0:
		t.comparator = val
		t.period = 0
		d.armLocked(t)
	case t.config&timerConfValSet != 0:
		t.comparator = val
		t.config &^= timerConfValSet
		d.armLocked(t)
	default:
		t.period = val
	}
	d.log.Debug("hpet: timer comparator", "timer", idx, "comparator", t.comparator, "period", t.period)
}

func (d *Device) armLocked(t *timer) {
	t.spent = false
	t.overdue = behind(d.counter, t.comparator, d.timerMask(t))
}

// behind reports whether cmp is at or before counter, judged by the signed
// difference at the comparator's width.
func behind(counter, cmp, mask uint64) bool {
	diff := (counter - cmp) & mask
	return diff <= mask>>1
}

// crossed reports whether the counter passed cmp while stepping from prev by
// elapsed ticks.
func crossed(prev, elapsed, cmp, mask uint64) bool {
	if elapsed > mask {
		return true
	}
	ahead := (cmp - prev) & mask
	return ahead != 0 && ahead <= elapsed
}

func (d *Device) clearStatusLocked(val uint64) {
	cleared := d.intStatus & val
	d.intStatus &^= val
	for i := range d.timers {
		if cleared&(1<<i) == 0 {
			continue
		}
		t := &d.timers[i]
		if t.config&timerConfIntType != 0 && t.config&timerConfFSBEnable == 0 {
			d.lines.AllocateLine(uint8(d.routeForTimerLocked(i, t))).SetLevel(false)
		}
	}
}

// Advance steps a running counter by ticks and fires any comparator it meets.
// A halted counter does not move.
func (d *Device) Advance(ticks uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.advanceLocked(ticks)
}

func (d *Device) advanceLocked(ticks uint64) {
	if !d.enabledLocked() {
		return
	}
	prev := d.counter
	d.counter = (d.counter + ticks) & d.counterMask()
	d.checkTimersLocked(prev, ticks)
}

func (d *Device) checkTimersLocked(prev, elapsed uint64) {
	current := d.counter
	for i := range d.timers {
		t := &d.timers[i]
		if t.config&timerConfIntEnable == 0 {
			continue
		}
		mask := d.timerMask(t)

		if t.config&timerConfPeriodic == 0 || t.period == 0 {
			if t.spent {
				continue
			}
			if t.overdue || crossed(prev&mask, elapsed, t.comparator, mask) {
				t.overdue = false
				t.spent = true
				d.raiseIRQLocked(i, t)
			}
			continue
		}

		if !t.overdue && !crossed(prev&mask, elapsed, t.comparator, mask) {
			continue
		}
		t.overdue = false
		// Skip the comparator past the counter in whole periods.
		late := (current - t.comparator) & mask
		if late > mask>>1 {
			late = 0
		}
		t.comparator = (t.comparator + (late/t.period+1)*t.period) & mask
		d.raiseIRQLocked(i, t)
	}
}

func (d *Device) raiseIRQLocked(idx int, t *timer) {
	t.fired++
	d.intStatus |= 1 << idx

	if t.config&timerConfFSBEnable != 0 {
		addr, data := uint32(t.fsRoute>>32), uint32(t.fsRoute)
		d.log.Debug("hpet: timer message", "timer", idx, "addr", addr, "data", data)
		if d.msi != nil {
			d.msi.WriteMessage(addr, data)
		}
		return
	}

	irq := d.routeForTimerLocked(idx, t)
	d.log.Debug("hpet: timer IRQ", "timer", idx, "route", irq, "status", d.intStatus)
	line := d.lines.AllocateLine(uint8(irq))
	if t.config&timerConfIntType != 0 {
		line.SetLevel(true)
	} else {
		line.PulseInterrupt()
	}
}

func (d *Device) routeForTimerLocked(idx int, t *timer) int {
	if (d.generalConfig & genConfLegacyRoute) != 0 {
		if idx == 0 {
			return 0
		}
		if idx == 1 {
			return 8
		}
	}
	route := (t.config & timerConfIntRouteMask) >> timerConfIntRouteShift
	return int(route)
}

// Counter returns the raw main counter register.
func (d *Device) Counter() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counter
}

// SetCounter loads the main counter regardless of the enable bit, for placing
// the counter just below a wrap in tests.
func (d *Device) SetCounter(v uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.counter = v & d.counterMask()
}

// Fired returns how many times comparator idx has fired.
func (d *Device) Fired(idx int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if idx < 0 || idx >= len(d.timers) {
		return 0
	}
	return d.timers[idx].fired
}

// ComparatorWrites returns how many writes comparator idx has received.
func (d *Device) ComparatorWrites(idx int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if idx < 0 || idx >= len(d.timers) {
		return 0
	}
	return d.timers[idx].writes
}

// Period returns the period latched by periodic comparator idx.
func (d *Device) Period(idx int) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if idx < 0 || idx >= len(d.timers) {
		return 0
	}
	return d.timers[idx].period
}

// Run advances the counter from the wall clock every interval until ctx is
// done.
func (d *Device) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			d.advanceWall(now.Sub(last))
			last = now
		}
	}
}

func (d *Device) advanceWall(elapsed time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if elapsed <= 0 || d.profile.PeriodFemtoseconds == 0 {
		return
	}
	if !d.enabledLocked() {
		return
	}
	femtos := uint64(elapsed.Nanoseconds())*1_000_000 + d.femtoRemainder
	period := uint64(d.profile.PeriodFemtoseconds)
	d.femtoRemainder = femtos % period
	d.advanceLocked(femtos / period)
}

var (
	_ hv.MemoryMappedIODevice = (*Device)(nil)
)
