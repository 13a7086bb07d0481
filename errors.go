package hpet

import "errors"

var (
	// ErrInvalidHardware reports a capability image no working HPET produces:
	// a zero or out-of-range tick period, no comparators, or a zero revision.
	ErrInvalidHardware = errors.New("invalid HPET hardware")
	// ErrInvalidTimerIndex reports a comparator index at or past the timer count.
	ErrInvalidTimerIndex = errors.New("invalid timer index")
	// ErrUnsupportedMode reports a mode or delivery the comparator cannot do.
	ErrUnsupportedMode = errors.New("unsupported timer mode")
	// ErrInvalidState reports an operation the current device or comparator
	// state does not permit.
	ErrInvalidState = errors.New("invalid state")
	// ErrOverflow reports a tick or duration outside the representable range.
	ErrOverflow = errors.New("overflow")
)
