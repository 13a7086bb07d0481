package hpet

// Register offsets from the base of the block, per the IA-PC HPET 1.0a layout.
const (
	regCapabilities    = 0x000
	regConfig          = 0x010
	regInterruptStatus = 0x020
	regMainCounter     = 0x0F0
	regTimerBase       = 0x100

	timerStride        = 0x20
	timerConfigOffset  = 0x00
	timerCompareOffset = 0x08
	timerFSBOffset     = 0x10
)

const (
	// MaxTimers is the number of comparator slots the register layout reserves.
	MaxTimers = 32

	// MMIOSize is the size of the register block: the header plus all slots.
	MMIOSize = regTimerBase + MaxTimers*timerStride

	// MaxPeriodFemtoseconds is the longest tick period hardware may report
	// (100 ns).
	MaxPeriodFemtoseconds = 100_000_000

	// DefaultMSIAddress is the local APIC message address used when a
	// message-signaled delivery does not name one.
	DefaultMSIAddress uint32 = 0xFEE00000
)

func timerConfigReg(n int) uintptr  { return regTimerBase + uintptr(n)*timerStride + timerConfigOffset }
func timerCompareReg(n int) uintptr { return regTimerBase + uintptr(n)*timerStride + timerCompareOffset }
func timerFSBReg(n int) uintptr     { return regTimerBase + uintptr(n)*timerStride + timerFSBOffset }

// GeneralCapabilities is the read-only General Capabilities and ID register.
type GeneralCapabilities uint64

// CounterPeriod is COUNTER_CLK_PERIOD: femtoseconds per main counter tick.
func (r GeneralCapabilities) CounterPeriod() uint32 { return uint32(r >> 32) }

// VendorID is VENDOR_ID, assigned as for a PCI function.
func (r GeneralCapabilities) VendorID() uint16 { return uint16(r >> 16) }

// LegacyRouteCapable is LEG_RT_CAP.
func (r GeneralCapabilities) LegacyRouteCapable() bool { return r&(1<<15) != 0 }

// Counter64Bit is COUNT_SIZE_CAP.
func (r GeneralCapabilities) Counter64Bit() bool { return r&(1<<13) != 0 }

// LastTimer is NUM_TIM_CAP, the index of the last comparator (count - 1).
func (r GeneralCapabilities) LastTimer() uint8 { return uint8(r>>8) & 0x1F }

// RevisionID is REV_ID. Hardware must not report zero.
func (r GeneralCapabilities) RevisionID() uint8 { return uint8(r) }

// GeneralConfig is the General Configuration register. Setters change only
// their own bit and preserve everything else, reserved bits included.
type GeneralConfig uint64

const (
	configEnable      GeneralConfig = 1 << 0 // ENABLE_CNF
	configLegacyRoute GeneralConfig = 1 << 1 // LEG_RT_CNF
)

func (r GeneralConfig) Enabled() bool       { return r&configEnable != 0 }
func (r GeneralConfig) LegacyRouting() bool { return r&configLegacyRoute != 0 }

func (r GeneralConfig) WithEnabled(on bool) GeneralConfig {
	return GeneralConfig(setBit(uint64(r), uint64(configEnable), on))
}

func (r GeneralConfig) WithLegacyRouting(on bool) GeneralConfig {
	return GeneralConfig(setBit(uint64(r), uint64(configLegacyRoute), on))
}

// InterruptStatus is the General Interrupt Status register. Bit n is Tn_INT_STS;
// for level-triggered comparators it is cleared by writing a one to it.
type InterruptStatus uint64

// Active reports Tn_INT_STS for comparator n.
func (r InterruptStatus) Active(n int) bool {
	if n < 0 || n >= MaxTimers {
		return false
	}
	return r&statusBit(n) != 0
}

func statusBit(n int) InterruptStatus { return 1 << uint(n) }

// TimerConfig is the Timer n Configuration and Capability register.
type TimerConfig uint64

const (
	timerLevelTriggered TimerConfig = 1 << 1  // Tn_INT_TYPE_CNF
	timerIntEnable      TimerConfig = 1 << 2  // Tn_INT_ENB_CNF
	timerPeriodic       TimerConfig = 1 << 3  // Tn_TYPE_CNF
	timerPeriodicCap    TimerConfig = 1 << 4  // Tn_PER_INT_CAP
	timerSize64Cap      TimerConfig = 1 << 5  // Tn_SIZE_CAP
	timerValueSet       TimerConfig = 1 << 6  // Tn_VAL_SET_CNF
	timer32BitMode      TimerConfig = 1 << 8  // Tn_32MODE_CNF
	timerFSBEnable      TimerConfig = 1 << 14 // Tn_FSB_EN_CNF
	timerFSBCap         TimerConfig = 1 << 15 // Tn_FSB_INT_DEL_CAP

	timerRouteShift             = 9
	timerRouteMask  TimerConfig = 0x1F << timerRouteShift // Tn_INT_ROUTE_CNF
)

func (r TimerConfig) LevelTriggered() bool   { return r&timerLevelTriggered != 0 }
func (r TimerConfig) InterruptEnabled() bool { return r&timerIntEnable != 0 }
func (r TimerConfig) Periodic() bool         { return r&timerPeriodic != 0 }
func (r TimerConfig) PeriodicCapable() bool  { return r&timerPeriodicCap != 0 }
func (r TimerConfig) Size64Capable() bool    { return r&timerSize64Cap != 0 }
func (r TimerConfig) ValueSet() bool         { return r&timerValueSet != 0 }
func (r TimerConfig) Force32Bit() bool       { return r&timer32BitMode != 0 }
func (r TimerConfig) FSBEnabled() bool       { return r&timerFSBEnable != 0 }
func (r TimerConfig) FSBCapable() bool       { return r&timerFSBCap != 0 }

// Route is Tn_INT_ROUTE_CNF, the I/O APIC input the comparator drives.
func (r TimerConfig) Route() uint8 { return uint8((r & timerRouteMask) >> timerRouteShift) }

// RouteCapability is Tn_INT_ROUTE_CAP: bit n set means I/O APIC input n is
// reachable from this comparator.
func (r TimerConfig) RouteCapability() uint32 { return uint32(r >> 32) }

// CanRoute reports whether I/O APIC input irq is in the route capability mask.
func (r TimerConfig) CanRoute(irq uint8) bool {
	return irq < 32 && r.RouteCapability()&(1<<irq) != 0
}

// Width32 reports whether comparator values are interpreted modulo 2^32.
func (r TimerConfig) Width32() bool { return !r.Size64Capable() || r.Force32Bit() }

func (r TimerConfig) WithLevelTriggered(on bool) TimerConfig {
	return r.with(timerLevelTriggered, on)
}

func (r TimerConfig) WithInterruptEnabled(on bool) TimerConfig { return r.with(timerIntEnable, on) }
func (r TimerConfig) WithPeriodic(on bool) TimerConfig         { return r.with(timerPeriodic, on) }
func (r TimerConfig) WithValueSet(on bool) TimerConfig         { return r.with(timerValueSet, on) }
func (r TimerConfig) WithForce32Bit(on bool) TimerConfig       { return r.with(timer32BitMode, on) }
func (r TimerConfig) WithFSBEnabled(on bool) TimerConfig       { return r.with(timerFSBEnable, on) }

// WithRoute stores irq in Tn_INT_ROUTE_CNF. Only the low five bits are kept.
func (r TimerConfig) WithRoute(irq uint8) TimerConfig {
	return (r &^ timerRouteMask) | (TimerConfig(irq&0x1F) << timerRouteShift)
}

func (r TimerConfig) with(bit TimerConfig, on bool) TimerConfig {
	return TimerConfig(setBit(uint64(r), uint64(bit), on))
}

// FSBRoute is the Timer n FSB Interrupt Route register.
type FSBRoute uint64

// NewFSBRoute builds a route that writes data to addr when the comparator fires.
func NewFSBRoute(addr, data uint32) FSBRoute {
	return FSBRoute(uint64(addr)<<32 | uint64(data))
}

// Address is Tn_FSB_INT_ADDR.
func (r FSBRoute) Address() uint32 { return uint32(r >> 32) }

// Data is Tn_FSB_INT_VAL.
func (r FSBRoute) Data() uint32 { return uint32(r) }

func setBit(v, bit uint64, on bool) uint64 {
	if on {
		return v | bit
	}
	return v &^ bit
}
