package chipset

// LineInterrupt models an interrupt line that supports level and edge semantics.
type LineInterrupt interface {
	SetLevel(high bool)
	PulseInterrupt()
}

// MessageSink receives message-signaled interrupts: a 32-bit data value written
// to a 32-bit address, as an FSB/MSI-capable device would emit on the bus.
type MessageSink interface {
	WriteMessage(addr uint32, data uint32)
}

// MessageSinkFunc adapts a function to MessageSink.
type MessageSinkFunc func(addr uint32, data uint32)

func (f MessageSinkFunc) WriteMessage(addr uint32, data uint32) {
	if f != nil {
		f(addr, data)
	}
}
