package hpet

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGeneralCapabilitiesFields(t *testing.T) {
	reg := GeneralCapabilities(uint64(69841279)<<32 | 0x8086<<16 | 1<<15 | 1<<13 | 2<<8 | 0x01)

	assert.Equal(t, uint32(69841279), reg.CounterPeriod())
	assert.Equal(t, uint16(0x8086), reg.VendorID())
	assert.True(t, reg.LegacyRouteCapable())
	assert.True(t, reg.Counter64Bit())
	assert.Equal(t, uint8(2), reg.LastTimer())
	assert.Equal(t, uint8(1), reg.RevisionID())
}

func TestGeneralConfigPreservesReservedBits(t *testing.T) {
	reserved := GeneralConfig(0xF0F0_0000_0000_FF00)

	cfg := reserved.WithEnabled(true).WithLegacyRouting(true)
	assert.True(t, cfg.Enabled())
	assert.True(t, cfg.LegacyRouting())
	assert.Equal(t, reserved|3, cfg)

	cfg = cfg.WithEnabled(false)
	assert.False(t, cfg.Enabled())
	assert.True(t, cfg.LegacyRouting())
	assert.Equal(t, reserved|2, cfg)
}

func TestInterruptStatusActive(t *testing.T) {
	status := InterruptStatus(1<<0 | 1<<5 | 1<<31)
	assert.True(t, status.Active(0))
	assert.False(t, status.Active(1))
	assert.True(t, status.Active(5))
	assert.True(t, status.Active(31))
	assert.False(t, status.Active(32))
	assert.False(t, status.Active(-1))
}

func TestTimerConfigAccessors(t *testing.T) {
	caps := TimerConfig(uint64(0x00F00804)<<32) | timerFSBCap | timerSize64Cap | timerPeriodicCap

	assert.True(t, caps.PeriodicCapable())
	assert.True(t, caps.Size64Capable())
	assert.True(t, caps.FSBCapable())
	assert.Equal(t, uint32(0x00F00804), caps.RouteCapability())
	assert.True(t, caps.CanRoute(2))
	assert.True(t, caps.CanRoute(11))
	assert.False(t, caps.CanRoute(3))
	assert.False(t, caps.CanRoute(32))
	assert.False(t, caps.Width32())

	cfg := caps.WithRoute(11).
		WithPeriodic(true).
		WithInterruptEnabled(true).
		WithLevelTriggered(true).
		WithValueSet(true).
		WithForce32Bit(true).
		WithFSBEnabled(true)
	assert.Equal(t, uint8(11), cfg.Route())
	assert.True(t, cfg.Periodic())
	assert.True(t, cfg.InterruptEnabled())
	assert.True(t, cfg.LevelTriggered())
	assert.True(t, cfg.ValueSet())
	assert.True(t, cfg.Force32Bit())
	assert.True(t, cfg.FSBEnabled())
	assert.True(t, cfg.Width32())
	assert.Equal(t, caps.RouteCapability(), cfg.RouteCapability(), "capability bits survive setters")

	cfg = cfg.WithRoute(0x3F)
	assert.Equal(t, uint8(0x1F), cfg.Route(), "route is masked to five bits")
	assert.True(t, cfg.FSBEnabled(), "route setter leaves neighbouring bits alone")
}

func TestFSBRoute(t *testing.T) {
	route := NewFSBRoute(0xFEE00000, 0x41)
	assert.Equal(t, uint32(0xFEE00000), route.Address())
	assert.Equal(t, uint32(0x41), route.Data())
	assert.Equal(t, FSBRoute(0xFEE00000_00000041), route)
}

func TestRegisterOffsets(t *testing.T) {
	assert.Equal(t, uintptr(0x100), timerConfigReg(0))
	assert.Equal(t, uintptr(0x128), timerCompareReg(1))
	assert.Equal(t, uintptr(0x150), timerFSBReg(2))
	assert.Equal(t, 0x500, MMIOSize)
}
