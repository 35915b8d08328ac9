package port

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by the correlation store when no instance exists for
// a key. Webhooks referencing untracked tickets surface this; callers log and
// discard rather than propagate.
var ErrNotFound = errors.New("workflow instance not found")

// TransportError marks a transient failure talking to an external system.
// The tool dispatcher retries these with bounded backoff.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Transient wraps err as a TransportError.
func Transient(op string, err error) error {
	return &TransportError{Op: op, Err: err}
}

// IsTransient reports whether err is (or wraps) a TransportError.
func IsTransient(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// UnrecoverableToolError marks a permanent tool failure. The state machine
// maps it to FAILED for workflow-critical actions.
type UnrecoverableToolError struct {
	Action string
	Reason string
	Err    error
}

func (e *UnrecoverableToolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tool %s failed permanently: %s: %v", e.Action, e.Reason, e.Err)
	}
	return fmt.Sprintf("tool %s failed permanently: %s", e.Action, e.Reason)
}

func (e *UnrecoverableToolError) Unwrap() error { return e.Err }

// Unrecoverable wraps err as an UnrecoverableToolError.
func Unrecoverable(action, reason string, err error) error {
	return &UnrecoverableToolError{Action: action, Reason: reason, Err: err}
}

// IsUnrecoverable reports whether err is (or wraps) an UnrecoverableToolError.
func IsUnrecoverable(err error) bool {
	var ue *UnrecoverableToolError
	return errors.As(err, &ue)
}
