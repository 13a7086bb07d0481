package hpet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyrange/hpet/mmio"
)

func capsImage(period uint32, lastTimer uint8, rev uint8) GeneralCapabilities {
	return GeneralCapabilities(uint64(period)<<32 | 0x8086<<16 | 1<<13 | uint64(lastTimer)<<8 | uint64(rev))
}

func TestDecodeCapabilities(t *testing.T) {
	caps, err := DecodeCapabilities(capsImage(10_000_000, 2, 1))
	require.NoError(t, err)

	assert.Equal(t, Capabilities{
		PeriodFemtoseconds: 10_000_000,
		VendorID:           0x8086,
		RevisionID:         1,
		TimerCount:         3,
		Counter64Bit:       true,
	}, caps)
	assert.Equal(t, uint64(100_000_000), caps.FrequencyHz())
	assert.Contains(t, caps.String(), "timers=3")
	assert.Contains(t, caps.String(), "64-bit")
}

func TestDecodeCapabilitiesRejectsBrokenHardware(t *testing.T) {
	for _, tc := range []struct {
		name string
		reg  GeneralCapabilities
	}{
		{"zero period", capsImage(0, 2, 1)},
		{"period above 100ns", capsImage(MaxPeriodFemtoseconds+1, 2, 1)},
		{"zero revision", capsImage(10_000_000, 2, 0)},
		{"absent device reads zero", 0},
		{"absent device reads ones", ^GeneralCapabilities(0)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeCapabilities(tc.reg)
			assert.ErrorIs(t, err, ErrInvalidHardware)
		})
	}
}

func TestParseCapabilitiesReadsRegisterImage(t *testing.T) {
	w := mmio.Alloc(MMIOSize)
	w.Write64(regCapabilities, uint64(capsImage(MaxPeriodFemtoseconds, 31, 4)))

	caps, err := ParseCapabilities(w)
	require.NoError(t, err)
	assert.Equal(t, 32, caps.TimerCount)
	assert.Equal(t, uint8(4), caps.RevisionID)
	assert.Equal(t, uint64(10_000_000), caps.FrequencyHz())
}
