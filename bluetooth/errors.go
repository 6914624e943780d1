package bluetooth

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied is returned by commands issued without the
	// Bluetooth permission. No state changes.
	ErrPermissionDenied = errors.New("bluetooth: permission denied")

	// ErrInvalidState is wrapped by TransitionError.
	ErrInvalidState = errors.New("bluetooth: invalid state transition")

	// ErrActivationTimeout is logged when SCO never came up.
	ErrActivationTimeout = errors.New("bluetooth: sco activation timed out")

	// ErrDeactivationTimeout is logged when SCO never went down. It is not
	// surfaced to listeners.
	ErrDeactivationTimeout = errors.New("bluetooth: sco deactivation timed out")
)

// TransitionError reports a command issued from a state that does not allow it.
type TransitionError struct {
	Op    string
	State State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("bluetooth: cannot %s in the %s state", e.Op, e.State)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidState }
