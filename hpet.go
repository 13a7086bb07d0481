// Package hpet drives a High Precision Event Timer: one free-running main
// counter and a bank of comparators that raise one-shot or periodic interrupts.
//
// A Driver is a single exclusively-owned handle over a register block that the
// caller has already located (ACPI HPET table) and mapped uncached. Reading the
// counter is safe from any number of goroutines. Configuration calls (Enable,
// Disable, WriteTicks, SetLegacyRouting, Configure, ArmAfter, Disarm, IsFiring)
// are not serialized internally; the caller must hold exclusive access while
// making them.
package hpet

import (
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/tinyrange/hpet/mmio"
)

type Driver struct {
	bus  mmio.Bus
	caps Capabilities
	conv Converter
	log  *slog.Logger

	primePeriodic bool

	// extended holds the software-extended logical counter value of a 32-bit
	// main counter: the high word counts wraps, the low word is the last
	// hardware sample.
	extended atomic.Uint64

	timers []timerState
}

type Option func(*Driver)

// WithLogger sets the logger for debug records. The default is slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(d *Driver) {
		if log != nil {
			d.log = log
		}
	}
}

// WithPeriodicPriming controls the Tn_VAL_SET_CNF accumulator priming write
// that ArmAfter issues before programming a periodic comparator's period. It is
// on by default, per IA-PC HPET 1.0a; platforms whose comparators latch the
// accumulator on their own can turn it off.
func WithPeriodicPriming(enabled bool) Option {
	return func(d *Driver) { d.primePeriodic = enabled }
}

// New parses the capabilities of the block behind bus and returns a driver for
// it. The device is left exactly as found; every comparator starts Disabled.
func New(bus mmio.Bus, opts ...Option) (*Driver, error) {
	caps, err := ParseCapabilities(bus)
	if err != nil {
		return nil, err
	}
	conv, err := NewConverter(caps.PeriodFemtoseconds, caps.Counter64Bit)
	if err != nil {
		return nil, err
	}

	d := &Driver{
		bus:           bus,
		caps:          caps,
		conv:          conv,
		log:           slog.Default(),
		primePeriodic: true,
		timers:        make([]timerState, caps.TimerCount),
	}
	for _, opt := range opts {
		opt(d)
	}
	if !caps.Counter64Bit {
		d.extended.Store(uint64(d.bus.Read32(regMainCounter)))
	}

	d.log.Debug("hpet: attached", "capabilities", caps.String())
	return d, nil
}

func (d *Driver) Capabilities() Capabilities { return d.caps }

func (d *Driver) Converter() Converter { return d.conv }

// SetLegacyRouting sets LEG_RT_CNF. While set, comparator 0 drives IRQ 0 (IRQ 2
// on an I/O APIC) and comparator 1 drives IRQ 8, overriding their own routes.
func (d *Driver) SetLegacyRouting(on bool) error {
	if on && !d.caps.LegacyRouteCapable {
		return fmt.Errorf("hpet: legacy replacement routing not supported: %w", ErrUnsupportedMode)
	}
	cfg := GeneralConfig(d.bus.Read64(regConfig))
	if cfg.LegacyRouting() == on {
		return nil
	}
	d.bus.Write64(regConfig, uint64(cfg.WithLegacyRouting(on)))
	d.log.Debug("hpet: legacy routing", "enabled", on)
	return nil
}

// LegacyRouting reports LEG_RT_CNF.
func (d *Driver) LegacyRouting() bool {
	return GeneralConfig(d.bus.Read64(regConfig)).LegacyRouting()
}

func (d *Driver) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "HPET %s enabled=%v legacy=%v counter=%d\n",
		d.caps.String(), d.Enabled(), d.LegacyRouting(), d.ReadTicks())
	for _, t := range d.Timers() {
		fmt.Fprintf(&b, "  %s state=%s\n", t, d.timers[t.Index].state)
	}
	return b.String()
}
