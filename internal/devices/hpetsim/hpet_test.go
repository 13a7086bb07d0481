package hpetsim

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyrange/hpet/internal/chipset"
	"github.com/tinyrange/hpet/internal/hv"
)

const testBase = 0xFED00000

func newDevice(t *testing.T, profile Profile, opts ...Option) *Device {
	t.Helper()
	dev, err := New(testBase, profile, opts...)
	require.NoError(t, err)
	return dev
}

func read64(t *testing.T, dev *Device, off uint64) uint64 {
	t.Helper()
	var buf [8]byte
	require.NoError(t, dev.ReadMMIO(testBase+off, buf[:]))
	return binary.LittleEndian.Uint64(buf[:])
}

func read32(t *testing.T, dev *Device, off uint64) uint32 {
	t.Helper()
	var buf [4]byte
	require.NoError(t, dev.ReadMMIO(testBase+off, buf[:]))
	return binary.LittleEndian.Uint32(buf[:])
}

func write64(t *testing.T, dev *Device, off uint64, val uint64) {
	t.Helper()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], val)
	require.NoError(t, dev.WriteMMIO(testBase+off, buf[:]))
}

func write32(t *testing.T, dev *Device, off uint64, val uint32) {
	t.Helper()
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], val)
	require.NoError(t, dev.WriteMMIO(testBase+off, buf[:]))
}

func timerConf(n uint64) uint64 { return regTimerConfig + n*timerStride }
func timerCmp(n uint64) uint64  { return regTimerConfig + n*timerStride + 0x08 }
func timerFSB(n uint64) uint64  { return regTimerConfig + n*timerStride + 0x10 }

type sinkEvent struct {
	irq   uint8
	level bool
}

type recordingSink struct {
	events []sinkEvent
}

func (r *recordingSink) SetIRQ(irq uint8, level bool) {
	r.events = append(r.events, sinkEvent{irq, level})
}

func TestCapabilitiesRegister(t *testing.T) {
	dev := newDevice(t, DefaultProfile())

	caps := read64(t, dev, regGenCap)
	assert.Equal(t, uint64(defaultPeriodFemtoseconds), caps>>32)
	assert.Equal(t, uint64(0x8086), (caps>>16)&0xFFFF)
	assert.Equal(t, uint64(2), (caps>>8)&0x1F, "NUM_TIM_CAP is the last timer index")
	assert.NotZero(t, caps&(1<<13), "64-bit counter")
	assert.NotZero(t, caps&(1<<15), "legacy capable")
	assert.Equal(t, uint64(1), caps&0xFF)

	assert.Equal(t, uint32(defaultPeriodFemtoseconds), read32(t, dev, regGenCap+4))
}

func TestCounterHaltsWhileDisabled(t *testing.T) {
	dev := newDevice(t, DefaultProfile())

	dev.Advance(1000)
	assert.Equal(t, uint64(0), read64(t, dev, regMainCounter))

	write64(t, dev, regGenConfig, genConfEnable)
	dev.Advance(1000)
	assert.Equal(t, uint64(1000), read64(t, dev, regMainCounter))

	write64(t, dev, regGenConfig, 0)
	dev.Advance(1000)
	assert.Equal(t, uint64(1000), read64(t, dev, regMainCounter))
}

func TestCounterWriteIgnoredWhileRunning(t *testing.T) {
	dev := newDevice(t, DefaultProfile())
	write64(t, dev, regMainCounter, 42)
	assert.Equal(t, uint64(42), dev.Counter())

	write64(t, dev, regGenConfig, genConfEnable)
	write64(t, dev, regMainCounter, 7)
	assert.Equal(t, uint64(42), dev.Counter())
}

func TestCounter32BitWraps(t *testing.T) {
	profile := DefaultProfile()
	profile.Counter64Bit = false
	dev := newDevice(t, profile)

	dev.SetCounter(0xFFFFFFF0)
	write64(t, dev, regGenConfig, genConfEnable)
	dev.Advance(0x20)

	assert.Equal(t, uint64(0x10), read64(t, dev, regMainCounter))
	assert.Equal(t, uint32(0), read32(t, dev, regMainCounter+4))
	assert.Zero(t, read64(t, dev, regGenCap)&(1<<13))
}

func TestAutoAdvanceOnCounterRead(t *testing.T) {
	dev := newDevice(t, DefaultProfile(), WithAutoAdvance(3))
	assert.Equal(t, uint64(0), read64(t, dev, regMainCounter), "halted counter does not auto-advance")

	write64(t, dev, regGenConfig, genConfEnable)
	assert.Equal(t, uint64(3), read64(t, dev, regMainCounter))
	assert.Equal(t, uint32(6), read32(t, dev, regMainCounter))
	assert.Equal(t, uint64(6), dev.Counter())
}

func TestOneShotLevelTriggered(t *testing.T) {
	sink := &recordingSink{}
	lines := chipset.NewLineSet(sink)
	dev := newDevice(t, DefaultProfile(), WithLineSet(lines))

	write64(t, dev, timerCmp(0), 1000)
	write64(t, dev, timerConf(0), timerConfIntEnable|timerConfIntType|(5<<timerConfIntRouteShift))
	write64(t, dev, regGenConfig, genConfEnable)

	dev.Advance(999)
	assert.Zero(t, read64(t, dev, regIntStatus))
	assert.False(t, lines.Level(5))

	dev.Advance(1)
	assert.Equal(t, uint64(1), read64(t, dev, regIntStatus))
	assert.True(t, lines.Level(5))
	assert.Equal(t, 1, dev.Fired(0))

	// One-shot: no further firing without a rewrite.
	dev.Advance(1 << 20)
	assert.Equal(t, 1, dev.Fired(0))

	write64(t, dev, regIntStatus, 1)
	assert.Zero(t, read64(t, dev, regIntStatus))
	assert.False(t, lines.Level(5))
	assert.Equal(t, []sinkEvent{{5, true}, {5, false}}, sink.events)
}

func TestOneShotEdgePulses(t *testing.T) {
	lines := chipset.NewLineSet(nil)
	dev := newDevice(t, DefaultProfile(), WithLineSet(lines))

	write64(t, dev, timerCmp(2), 10)
	write64(t, dev, timerConf(2), timerConfIntEnable|(11<<timerConfIntRouteShift))
	write64(t, dev, regGenConfig, genConfEnable)
	dev.Advance(10)

	assert.Equal(t, 1, lines.Assertions(11))
	assert.False(t, lines.Level(11))
}

func TestOverdueComparatorFiresOnNextStep(t *testing.T) {
	dev := newDevice(t, DefaultProfile())
	write64(t, dev, regGenConfig, genConfEnable)
	dev.Advance(500)

	write64(t, dev, timerCmp(0), 400)
	write64(t, dev, timerConf(0), timerConfIntEnable|timerConfIntType)
	dev.Advance(1)

	assert.Equal(t, 1, dev.Fired(0))
}

func TestDisabledComparatorDoesNotFire(t *testing.T) {
	dev := newDevice(t, DefaultProfile())
	write64(t, dev, timerCmp(0), 10)
	write64(t, dev, regGenConfig, genConfEnable)
	dev.Advance(100)
	assert.Zero(t, dev.Fired(0))
	assert.Zero(t, read64(t, dev, regIntStatus))
}

func TestPeriodicAccumulator(t *testing.T) {
	dev := newDevice(t, DefaultProfile())
	write64(t, dev, regGenConfig, genConfEnable)

	write64(t, dev, timerConf(1), timerConfIntEnable|timerConfPeriodic|timerConfValSet|timerConfIntType)
	write64(t, dev, timerCmp(1), 500)
	assert.Zero(t, read64(t, dev, timerConf(1))&timerConfValSet, "VAL_SET clears itself")
	write64(t, dev, timerCmp(1), 500)

	assert.Equal(t, uint64(500), dev.Period(1))
	assert.Equal(t, 2, dev.ComparatorWrites(1))

	for i := 1; i <= 3; i++ {
		dev.Advance(499)
		assert.Equal(t, i-1, dev.Fired(1))
		dev.Advance(1)
		assert.Equal(t, i, dev.Fired(1))
		assert.Equal(t, uint64(500*(i+1)), read64(t, dev, timerCmp(1)))
	}
}

func TestPeriodicCatchesUpInWholePeriods(t *testing.T) {
	dev := newDevice(t, DefaultProfile())
	write64(t, dev, regGenConfig, genConfEnable)
	write64(t, dev, timerConf(0), timerConfIntEnable|timerConfPeriodic|timerConfValSet)
	write64(t, dev, timerCmp(0), 100)
	write64(t, dev, timerCmp(0), 100)

	dev.Advance(1050)
	assert.Equal(t, 1, dev.Fired(0), "missed periods coalesce")
	assert.Equal(t, uint64(1100), read64(t, dev, timerCmp(0)))
}

func TestPeriodicBitIgnoredWithoutCapability(t *testing.T) {
	profile := DefaultProfile()
	profile.Timers[2].Periodic = false
	dev := newDevice(t, profile)

	write64(t, dev, timerConf(2), timerConfPeriodic|timerConfIntEnable)
	conf := read64(t, dev, timerConf(2))
	assert.Zero(t, conf&timerConfPeriodic)
	assert.Zero(t, conf&timerConfPeriodicCap)
	assert.NotZero(t, conf&timerConfIntEnable)
}

func Test32BitModeTruncatesComparator(t *testing.T) {
	dev := newDevice(t, DefaultProfile())
	write64(t, dev, timerConf(0), timerConf32Bit)
	write64(t, dev, timerCmp(0), 0x1_0000_0010)
	assert.Equal(t, uint64(0x10), read64(t, dev, timerCmp(0)))
}

func TestLegacyRouting(t *testing.T) {
	lines := chipset.NewLineSet(nil)
	dev := newDevice(t, DefaultProfile(), WithLineSet(lines))
	write64(t, dev, regGenConfig, genConfEnable|genConfLegacyRoute)

	for n := uint64(0); n < 2; n++ {
		write64(t, dev, timerCmp(n), 10)
		write64(t, dev, timerConf(n), timerConfIntEnable|(20<<timerConfIntRouteShift))
	}
	dev.Advance(10)

	assert.Equal(t, 1, lines.Assertions(0))
	assert.Equal(t, 1, lines.Assertions(8))
	assert.Equal(t, 0, lines.Assertions(20))
}

func TestFSBDelivery(t *testing.T) {
	profile := DefaultProfile()
	profile.Timers[2].FSB = true
	var gotAddr, gotData uint32
	msgs := 0
	dev := newDevice(t, profile, WithMessageSink(chipset.MessageSinkFunc(func(addr, data uint32) {
		gotAddr, gotData = addr, data
		msgs++
	})))

	write64(t, dev, timerFSB(2), uint64(0xFEE00000)<<32|0x41)
	write64(t, dev, timerCmp(2), 5)
	write64(t, dev, timerConf(2), timerConfIntEnable|timerConfFSBEnable)
	write64(t, dev, regGenConfig, genConfEnable)
	dev.Advance(5)

	assert.Equal(t, 1, msgs)
	assert.Equal(t, uint32(0xFEE00000), gotAddr)
	assert.Equal(t, uint32(0x41), gotData)
}

func TestFSBEnableIgnoredWithoutCapability(t *testing.T) {
	dev := newDevice(t, DefaultProfile())
	write64(t, dev, timerConf(0), timerConfFSBEnable)
	assert.Zero(t, read64(t, dev, timerConf(0))&timerConfFSBEnable)
}

func TestPartialWrites(t *testing.T) {
	dev := newDevice(t, DefaultProfile())
	write64(t, dev, timerCmp(0), 0x1111111122222222)
	write32(t, dev, timerCmp(0)+4, 0x33333333)
	assert.Equal(t, uint64(0x3333333322222222), read64(t, dev, timerCmp(0)))
}

func TestStatusWriteOneToClear(t *testing.T) {
	dev := newDevice(t, DefaultProfile())
	write64(t, dev, regGenConfig, genConfEnable)
	for n := uint64(0); n < 2; n++ {
		write64(t, dev, timerCmp(n), 1)
		write64(t, dev, timerConf(n), timerConfIntEnable|timerConfIntType)
	}
	dev.Advance(1)
	require.Equal(t, uint64(3), read64(t, dev, regIntStatus))

	write32(t, dev, regIntStatus, 2)
	assert.Equal(t, uint64(1), read64(t, dev, regIntStatus))
}

func TestAccessValidation(t *testing.T) {
	dev := newDevice(t, DefaultProfile())

	var buf [8]byte
	assert.ErrorIs(t, dev.ReadMMIO(testBase+MMIOWindowSize, buf[:]), hv.ErrOutOfRange)
	assert.ErrorIs(t, dev.ReadMMIO(testBase+4, buf[:]), hv.ErrInvalidAccess)
	assert.ErrorIs(t, dev.WriteMMIO(testBase, buf[:3]), hv.ErrInvalidAccess)

	// Slots past the last timer read as zero and ignore writes.
	write64(t, dev, timerConf(10), 0xFFFF)
	assert.Zero(t, read64(t, dev, timerConf(10)))
}

func TestRunAdvancesFromWallClock(t *testing.T) {
	dev := newDevice(t, DefaultProfile())
	write64(t, dev, regGenConfig, genConfEnable)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := dev.Run(ctx, time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// 100 MHz for at least a few milliseconds of ticker callbacks.
	assert.Greater(t, dev.Counter(), uint64(100_000))
}

func TestNewRejectsEmptyProfile(t *testing.T) {
	_, err := New(testBase, Profile{PeriodFemtoseconds: 1})
	assert.Error(t, err)
}
