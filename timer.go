package hpet

import (
	"fmt"
	"math"
	"time"
)

// Mode selects how a comparator fires.
type Mode int

const (
	// OneShot fires once when the main counter reaches the comparator.
	OneShot Mode = iota
	// Periodic fires every period, the hardware adding the period to the
	// comparator after each match.
	Periodic
)

func (m Mode) String() string {
	switch m {
	case OneShot:
		return "one-shot"
	case Periodic:
		return "periodic"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// DeliveryKind selects how a comparator's interrupt leaves the block.
type DeliveryKind int

const (
	// DeliveryIOAPIC routes to an I/O APIC input named in Tn_INT_ROUTE_CNF.
	DeliveryIOAPIC DeliveryKind = iota
	// DeliveryLegacy uses LegacyReplacement routing (timer 0 on IRQ 0, timer 1
	// on IRQ 8).
	DeliveryLegacy
	// DeliveryMessage writes Data to Address on the front-side bus.
	DeliveryMessage
)

// Delivery describes interrupt routing for a comparator. Programming the
// interrupt controller itself is the caller's job.
type Delivery struct {
	Kind    DeliveryKind
	IRQ     uint8
	Address uint32
	Data    uint32
}

// LegacyRouting delivers through LegacyReplacement routing. Only comparators
// 0 and 1 support it.
func LegacyRouting() Delivery { return Delivery{Kind: DeliveryLegacy} }

// StandardIRQ delivers on I/O APIC input irq.
func StandardIRQ(irq uint8) Delivery { return Delivery{Kind: DeliveryIOAPIC, IRQ: irq} }

// MessageSignaled delivers vector as a message to the local APIC.
func MessageSignaled(vector uint8) Delivery {
	return Delivery{Kind: DeliveryMessage, Address: DefaultMSIAddress, Data: uint32(vector)}
}

func (d Delivery) String() string {
	switch d.Kind {
	case DeliveryLegacy:
		return "legacy"
	case DeliveryIOAPIC:
		return fmt.Sprintf("irq%d", d.IRQ)
	case DeliveryMessage:
		return fmt.Sprintf("msi(%#x<-%#x)", d.Address, d.Data)
	default:
		return fmt.Sprintf("DeliveryKind(%d)", int(d.Kind))
	}
}

// State is the driver's view of a comparator.
type State int

const (
	Disabled State = iota
	Configured
	Armed
	Firing
)

func (s State) String() string {
	switch s {
	case Disabled:
		return "disabled"
	case Configured:
		return "configured"
	case Armed:
		return "armed"
	case Firing:
		return "firing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type TimerOption func(*timerOptions)

type timerOptions struct {
	edge       bool
	force32Bit bool
}

// WithEdgeTriggered selects edge-triggered interrupts. Hardware does not
// latch Tn_INT_STS reliably in this mode, so IsFiring reports the bit as read
// and never acknowledges it.
func WithEdgeTriggered() TimerOption {
	return func(o *timerOptions) { o.edge = true }
}

// With32BitMode sets Tn_32MODE_CNF, making a 64-bit comparator behave as a
// 32-bit one.
func With32BitMode() TimerOption {
	return func(o *timerOptions) { o.force32Bit = true }
}

type timerState struct {
	state    State
	mode     Mode
	delivery Delivery
	level    bool
	width32  bool
	period   uint64
}

// ComparatorConfig is a snapshot of one comparator.
type ComparatorConfig struct {
	Index            int
	Mode             Mode
	State            State
	InterruptEnabled bool
	LevelTriggered   bool
	Delivery         Delivery
	// Value is the comparator register, modulo 2^32 for a 32-bit comparator.
	Value uint64
	// Period is the last period programmed into a periodic comparator.
	Period          uint64
	PeriodicCapable bool
	Width32         bool
}

// TimerCaps is the read-only capability half of a comparator's configuration
// register, plus its current delivery mode.
type TimerCaps struct {
	Index           int
	PeriodicCapable bool
	Size64Capable   bool
	FSBCapable      bool
	RouteCapability uint32
	FSBEnabled      bool
}

func (t TimerCaps) String() string {
	mode := "ioapic"
	if t.FSBEnabled {
		mode = "fsb"
	}
	return fmt.Sprintf("timer%d periodic=%v 64bit=%v fsb=%v routes=%#08x mode=%s",
		t.Index, t.PeriodicCapable, t.Size64Capable, t.FSBCapable, t.RouteCapability, mode)
}

func (d *Driver) checkIndex(index int) error {
	if index < 0 || index >= d.caps.TimerCount {
		return fmt.Errorf("hpet: timer %d of %d: %w", index, d.caps.TimerCount, ErrInvalidTimerIndex)
	}
	return nil
}

func (d *Driver) readTimerConfig(index int) TimerConfig {
	return TimerConfig(d.bus.Read64(timerConfigReg(index)))
}

func (d *Driver) writeTimerConfig(index int, cfg TimerConfig) {
	d.bus.Write64(timerConfigReg(index), uint64(cfg))
}

func (d *Driver) transition(index int, to State) {
	t := &d.timers[index]
	if t.state == to {
		return
	}
	d.log.Debug("hpet: timer state", "timer", index, "from", t.state, "to", to)
	t.state = to
}

// TimerCaps reads the capabilities of one comparator.
func (d *Driver) TimerCaps(index int) (TimerCaps, error) {
	if err := d.checkIndex(index); err != nil {
		return TimerCaps{}, err
	}
	cfg := d.readTimerConfig(index)
	return TimerCaps{
		Index:           index,
		PeriodicCapable: cfg.PeriodicCapable(),
		Size64Capable:   cfg.Size64Capable(),
		FSBCapable:      cfg.FSBCapable(),
		RouteCapability: cfg.RouteCapability(),
		FSBEnabled:      cfg.FSBEnabled(),
	}, nil
}

// Timers returns the capabilities of every comparator in index order.
func (d *Driver) Timers() []TimerCaps {
	out := make([]TimerCaps, 0, d.caps.TimerCount)
	for i := 0; i < d.caps.TimerCount; i++ {
		caps, _ := d.TimerCaps(i)
		out = append(out, caps)
	}
	return out
}

// State reports the driver's state for a comparator.
func (d *Driver) State(index int) (State, error) {
	if err := d.checkIndex(index); err != nil {
		return Disabled, err
	}
	return d.timers[index].state, nil
}

// Comparator returns a snapshot of one comparator's configuration.
func (d *Driver) Comparator(index int) (ComparatorConfig, error) {
	if err := d.checkIndex(index); err != nil {
		return ComparatorConfig{}, err
	}
	t := d.timers[index]
	cfg := d.readTimerConfig(index)
	value := d.bus.Read64(timerCompareReg(index))
	if cfg.Width32() {
		value = uint64(uint32(value))
	}
	return ComparatorConfig{
		Index:            index,
		Mode:             t.mode,
		State:            t.state,
		InterruptEnabled: cfg.InterruptEnabled(),
		LevelTriggered:   cfg.LevelTriggered(),
		Delivery:         t.delivery,
		Value:            value,
		Period:           t.period,
		PeriodicCapable:  cfg.PeriodicCapable(),
		Width32:          cfg.Width32(),
	}, nil
}

// Configure validates and stores mode and delivery for a comparator, leaving
// its interrupt disabled. Interrupts are level-triggered unless
// WithEdgeTriggered is given. An armed comparator must be disarmed first.
func (d *Driver) Configure(index int, mode Mode, delivery Delivery, opts ...TimerOption) error {
	if err := d.checkIndex(index); err != nil {
		return err
	}
	if d.timers[index].state == Armed {
		return fmt.Errorf("hpet: configure armed timer %d: %w", index, ErrInvalidState)
	}

	var o timerOptions
	for _, opt := range opts {
		opt(&o)
	}

	cfg := d.readTimerConfig(index)
	switch mode {
	case OneShot:
	case Periodic:
		if !cfg.PeriodicCapable() {
			return fmt.Errorf("hpet: timer %d is not periodic capable: %w", index, ErrUnsupportedMode)
		}
	default:
		return fmt.Errorf("hpet: timer %d: %s: %w", index, mode, ErrUnsupportedMode)
	}

	cfg, err := d.applyDelivery(index, cfg, delivery)
	if err != nil {
		return err
	}

	cfg = cfg.WithInterruptEnabled(false).
		WithValueSet(false).
		WithPeriodic(mode == Periodic).
		WithLevelTriggered(!o.edge).
		WithForce32Bit(o.force32Bit && cfg.Size64Capable())
	d.writeTimerConfig(index, cfg)

	d.timers[index] = timerState{
		state:    d.timers[index].state,
		mode:     mode,
		delivery: delivery,
		level:    !o.edge,
		width32:  cfg.Width32(),
	}
	d.log.Debug("hpet: timer configured", "timer", index, "mode", mode, "delivery", delivery,
		"level", !o.edge, "width32", cfg.Width32())
	d.transition(index, Configured)
	return nil
}

// applyDelivery validates delivery against the comparator's capabilities and
// programs its routing fields. Legacy routing also sets LEG_RT_CNF.
func (d *Driver) applyDelivery(index int, cfg TimerConfig, delivery Delivery) (TimerConfig, error) {
	switch delivery.Kind {
	case DeliveryLegacy:
		if index > 1 {
			return cfg, fmt.Errorf("hpet: timer %d has no legacy route: %w", index, ErrUnsupportedMode)
		}
		if err := d.SetLegacyRouting(true); err != nil {
			return cfg, err
		}
		return cfg.WithFSBEnabled(false), nil
	case DeliveryIOAPIC:
		if !cfg.CanRoute(delivery.IRQ) {
			return cfg, fmt.Errorf("hpet: timer %d cannot route to irq %d (cap %#08x): %w",
				index, delivery.IRQ, cfg.RouteCapability(), ErrUnsupportedMode)
		}
		return cfg.WithFSBEnabled(false).WithRoute(delivery.IRQ), nil
	case DeliveryMessage:
		if !cfg.FSBCapable() {
			return cfg, fmt.Errorf("hpet: timer %d has no FSB delivery: %w", index, ErrUnsupportedMode)
		}
		addr := delivery.Address
		if addr == 0 {
			addr = DefaultMSIAddress
		}
		d.bus.Write64(timerFSBReg(index), uint64(NewFSBRoute(addr, delivery.Data)))
		return cfg.WithFSBEnabled(true), nil
	default:
		return cfg, fmt.Errorf("hpet: timer %d: %s: %w", index, delivery, ErrUnsupportedMode)
	}
}

// ArmAfter schedules a comparator relative to the current main counter. A
// one-shot comparator fires once at now+after; a periodic one first fires at
// now+after and then every after.
//
// A deadline the counter overtakes before the write lands is armed as is; the
// hardware then fires on its next match check, which is almost immediately.
func (d *Driver) ArmAfter(index int, after time.Duration) error {
	if err := d.checkIndex(index); err != nil {
		return err
	}
	t := &d.timers[index]
	if t.state != Configured && t.state != Armed {
		return fmt.Errorf("hpet: arm %s timer %d: %w", t.state, index, ErrInvalidState)
	}

	ticks, err := d.conv.ToTicks(after)
	if err != nil {
		return fmt.Errorf("hpet: timer %d: %w", index, err)
	}
	if t.width32 && ticks > math.MaxUint32 {
		return fmt.Errorf("hpet: timer %d: %d ticks exceed a 32-bit comparator: %w", index, ticks, ErrOverflow)
	}

	target := d.ReadTicks() + ticks
	switch t.mode {
	case Periodic:
		if ticks == 0 {
			return fmt.Errorf("hpet: timer %d: zero period: %w", index, ErrOverflow)
		}
		d.armPeriodic(index, target, ticks)
		t.period = ticks
	default:
		d.armOneShot(index, target)
		t.period = 0
	}

	d.log.Debug("hpet: timer armed", "timer", index, "mode", t.mode, "target", target, "ticks", ticks)
	d.transition(index, Armed)
	return nil
}

func (d *Driver) comparatorValue(index int, value uint64) uint64 {
	if d.timers[index].width32 {
		return uint64(uint32(value))
	}
	return value
}

// clearStale acknowledges a status bit latched by an earlier firing so it is
// not mistaken for the one about to be armed.
func (d *Driver) clearStale(index int) {
	if d.timers[index].level && InterruptStatus(d.bus.Read64(regInterruptStatus)).Active(index) {
		d.bus.Write64(regInterruptStatus, uint64(statusBit(index)))
	}
}

// armOneShot writes the deadline, then enables the interrupt.
func (d *Driver) armOneShot(index int, target uint64) {
	d.clearStale(index)
	d.bus.Write64(timerCompareReg(index), d.comparatorValue(index, target))
	cfg := d.readTimerConfig(index)
	d.writeTimerConfig(index, cfg.WithPeriodic(false).WithInterruptEnabled(true))
}

// armPeriodic programs a periodic comparator in three steps:
//
//  1. set Tn_TYPE_CNF, Tn_INT_ENB_CNF and Tn_VAL_SET_CNF;
//  2. prime the accumulator: write the first deadline;
//  3. write the period; with Tn_VAL_SET_CNF now self-cleared this lands in
//     the period register the hardware adds after each match.
//
// Without priming, step 2 is skipped and Tn_VAL_SET_CNF stays clear, so the
// first match is wherever the comparator already pointed.
func (d *Driver) armPeriodic(index int, target, period uint64) {
	d.clearStale(index)
	cfg := d.readTimerConfig(index).WithPeriodic(true).WithInterruptEnabled(true)
	if d.primePeriodic {
		cfg = cfg.WithValueSet(true)
	}
	d.writeTimerConfig(index, cfg)
	if d.primePeriodic {
		d.primeAccumulator(index, target)
	}
	d.setPeriod(index, period)
}

func (d *Driver) primeAccumulator(index int, target uint64) {
	d.bus.Write64(timerCompareReg(index), d.comparatorValue(index, target))
}

func (d *Driver) setPeriod(index int, period uint64) {
	d.bus.Write64(timerCompareReg(index), d.comparatorValue(index, period))
}

// Disarm clears the comparator's interrupt enable and acknowledges any latched
// level-triggered status. The stored mode and delivery are forgotten and the
// comparator returns to Disabled.
func (d *Driver) Disarm(index int) error {
	if err := d.checkIndex(index); err != nil {
		return err
	}
	cfg := d.readTimerConfig(index)
	d.writeTimerConfig(index, cfg.WithInterruptEnabled(false).WithPeriodic(false).WithValueSet(false))
	if cfg.LevelTriggered() && InterruptStatus(d.bus.Read64(regInterruptStatus)).Active(index) {
		d.bus.Write64(regInterruptStatus, uint64(statusBit(index)))
	}
	d.timers[index] = timerState{state: d.timers[index].state}
	d.transition(index, Disabled)
	return nil
}

// IsFiring reports Tn_INT_STS for a comparator. A set bit on a level-triggered
// comparator is acknowledged by writing it back, so a caller polling IsFiring
// sees each firing once.
//
// Observing a firing completes the comparator's cycle: a periodic comparator
// stays Armed, a one-shot comparator has its interrupt disabled and returns to
// Disabled.
func (d *Driver) IsFiring(index int) (bool, error) {
	if err := d.checkIndex(index); err != nil {
		return false, err
	}
	if !InterruptStatus(d.bus.Read64(regInterruptStatus)).Active(index) {
		return false, nil
	}

	t := &d.timers[index]
	if t.level {
		d.bus.Write64(regInterruptStatus, uint64(statusBit(index)))
	}

	if t.state == Armed {
		d.transition(index, Firing)
		if t.mode == Periodic {
			d.transition(index, Armed)
		} else {
			cfg := d.readTimerConfig(index)
			d.writeTimerConfig(index, cfg.WithInterruptEnabled(false))
			d.transition(index, Disabled)
		}
	}
	return true, nil
}
