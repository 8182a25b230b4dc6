package peripheral

import (
	"errors"
	"fmt"
)

var (
	// ErrSubmissionTimeout resolves a submission the host did not answer in time.
	ErrSubmissionTimeout = errors.New("submission timed out waiting for the host")
	// ErrPoweredOff resolves pending advertising submissions when the radio turns off.
	ErrPoweredOff = errors.New("radio powered off")
	// ErrClosed is returned by operations on a closed Peripheral.
	ErrClosed = errors.New("peripheral closed")
	// ErrNotPoweredOn is reported by hosts asked to act while the radio is off.
	ErrNotPoweredOn = errors.New("radio is not powered on")
	// ErrAlreadyAdvertising is reported by hosts that reject a second start.
	ErrAlreadyAdvertising = errors.New("already advertising")
)

// PowerStateError reports a radio state that cannot reach PoweredOn.
type PowerStateError struct {
	State PowerState
}

func (e *PowerStateError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("bluetooth radio is %s", e.State)
}

// Is allows errors.Is to compare PowerStateError values by State
func (e *PowerStateError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*PowerStateError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// HostError wraps a failure the host stack reported for an operation.
type HostError struct {
	Op  string // "start advertising", "add service", ...
	Err error
}

func (e *HostError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("host %s: %v", e.Op, e.Err)
}

func (e *HostError) Unwrap() error {
	return e.Err
}

// hostError returns nil for a nil err so callers can wrap unconditionally.
func hostError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &HostError{Op: op, Err: err}
}
