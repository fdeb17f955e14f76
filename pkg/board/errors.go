package board

import "fmt"

// RangeError reports an angle command outside a channel's safe bounds.
// It is a caller bug and fatal to that call only; nothing was sent to
// the hardware.
type RangeError struct {
	Channel int
	Angle   float64
	Min     float64
	Max     float64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("channel %d: angle %.1f outside safe range [%.1f, %.1f]",
		e.Channel, e.Angle, e.Min, e.Max)
}

// HardwareError reports an actuator or sensor that could not be reached,
// answered garbage, or timed out.
type HardwareError struct {
	Op      string
	Channel int
	Err     error
}

func (e *HardwareError) Error() string {
	return fmt.Sprintf("channel %d: %s: %v", e.Channel, e.Op, e.Err)
}

func (e *HardwareError) Unwrap() error {
	return e.Err
}
