package chipset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	events []string
}

func (r *recordingSink) SetIRQ(irq uint8, level bool) {
	state := "low"
	if level {
		state = "high"
	}
	r.events = append(r.events, string(rune('0'+irq))+":"+state)
}

func TestLineSetLevelForwardsChangesOnly(t *testing.T) {
	sink := &recordingSink{}
	lines := NewLineSet(sink)
	line := lines.AllocateLine(2)

	line.SetLevel(true)
	line.SetLevel(true)
	line.SetLevel(false)

	require.Equal(t, []string{"2:high", "2:low"}, sink.events)
	assert.Equal(t, 1, lines.Assertions(2))
	assert.False(t, lines.Level(2))
}

func TestLineSetPulseCountsEachEdge(t *testing.T) {
	sink := &recordingSink{}
	lines := NewLineSet(sink)
	line := lines.AllocateLine(8)

	line.PulseInterrupt()
	line.PulseInterrupt()

	assert.Equal(t, 2, lines.Assertions(8))
	assert.Len(t, sink.events, 4)
	assert.False(t, lines.Level(8))
}

func TestLineSetNilSink(t *testing.T) {
	lines := NewLineSet(nil)
	lines.AllocateLine(0).PulseInterrupt()
	assert.Equal(t, 1, lines.Assertions(0))
	assert.Equal(t, 0, lines.Assertions(5))
}

func TestMessageSinkFunc(t *testing.T) {
	var gotAddr, gotData uint32
	var sink MessageSink = MessageSinkFunc(func(addr, data uint32) {
		gotAddr, gotData = addr, data
	})
	sink.WriteMessage(0xFEE00000, 0x41)
	assert.Equal(t, uint32(0xFEE00000), gotAddr)
	assert.Equal(t, uint32(0x41), gotData)
}
