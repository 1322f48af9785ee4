package call

import (
	"errors"
	"fmt"
)

var (
	ErrCallInProgress = errors.New("a call is already in progress")
	ErrNoSuchCall     = errors.New("no such call")
	ErrInvalidState   = errors.New("operation not allowed in current call state")
	ErrInvalidTarget  = errors.New("invalid call target")
	ErrClosed         = errors.New("orchestrator closed")
)

// CallError is returned by every public operation that fails.
type CallError struct {
	Op      string
	CallID  string
	Err     error
	Details string
}

func (e *CallError) Error() string {
	if e.CallID != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.CallID, e.Err)
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *CallError {
	return &CallError{Op: op, Err: err}
}

func NewCallError(op, callID string, err error) *CallError {
	return &CallError{Op: op, CallID: callID, Err: err}
}

func WrapError(op string, err error, details string) *CallError {
	return &CallError{Op: op, Err: err, Details: details}
}
