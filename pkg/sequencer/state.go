package sequencer

import "fmt"

// State is the sequencer's lifecycle state. It is owned exclusively by
// the Sequencer; everything else reads snapshots.
type State int

const (
	Uninitialized State = iota
	Homing
	Settling
	Running
	ShuttingDown
	Halted
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Homing:
		return "homing"
	case Settling:
		return "settling"
	case Running:
		return "running"
	case ShuttingDown:
		return "shutting down"
	case Halted:
		return "halted"
	default:
		return "unknown"
	}
}

// StateError reports a lifecycle call made in the wrong state. The call
// is rejected and no state changes.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s not allowed while %s", e.Op, e.State)
}
