package chipset

import "sync"

// InterruptSink receives line level changes, typically an interrupt controller.
type InterruptSink interface {
	SetIRQ(irq uint8, level bool)
}

// LineSet manages interrupt lines and counts the assertions made on each.
type LineSet struct {
	mu sync.Mutex

	sink InterruptSink

	lines map[uint8]*lineState
}

// NewLineSet builds a LineSet that forwards assertions to the provided sink.
func NewLineSet(sink InterruptSink) *LineSet {
	if sink == nil {
		sink = noopInterruptSink{}
	}
	return &LineSet{
		sink:  sink,
		lines: make(map[uint8]*lineState),
	}
}

// AllocateLine returns a LineInterrupt handle for the given IRQ line.
func (l *LineSet) AllocateLine(irq uint8) LineInterrupt {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.lines[irq]; !ok {
		l.lines[irq] = &lineState{}
	}
	return &lineHandle{owner: l, irq: irq}
}

// Level reports the current level of a line.
func (l *LineSet) Level(irq uint8) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if state := l.lines[irq]; state != nil {
		return state.level
	}
	return false
}

// Assertions reports how many rising edges have been signalled on a line.
func (l *LineSet) Assertions(irq uint8) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if state := l.lines[irq]; state != nil {
		return state.assertions
	}
	return 0
}

type lineState struct {
	level      bool
	assertions int
}

type lineHandle struct {
	owner *LineSet
	irq   uint8
}

func (h *lineHandle) SetLevel(high bool) {
	h.owner.setLevel(h.irq, high)
}

func (h *lineHandle) PulseInterrupt() {
	h.owner.pulse(h.irq)
}

func (l *LineSet) stateLocked(irq uint8) *lineState {
	state := l.lines[irq]
	if state == nil {
		state = &lineState{}
		l.lines[irq] = state
	}
	return state
}

func (l *LineSet) setLevel(irq uint8, high bool) {
	l.mu.Lock()
	state := l.stateLocked(irq)
	changed := state.level != high
	state.level = high
	if changed && high {
		state.assertions++
	}
	l.mu.Unlock()

	if changed {
		l.sink.SetIRQ(irq, high)
	}
}

func (l *LineSet) pulse(irq uint8) {
	l.mu.Lock()
	l.stateLocked(irq).assertions++
	l.mu.Unlock()

	l.sink.SetIRQ(irq, true)
	l.sink.SetIRQ(irq, false)
}

type noopInterruptSink struct{}

func (noopInterruptSink) SetIRQ(uint8, bool) {}
