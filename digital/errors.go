package digital

import "digitalwait-go/errcode"

// Contract-level errors. Backend failures are never wrapped in these; they
// reach the caller as the backend produced them.
var (
	// ErrBusy is returned when a wait is already outstanding on the line.
	ErrBusy error = errcode.Busy
	// ErrClosed is returned by a line after Close.
	ErrClosed error = errcode.Closed
	// ErrInvalidCondition rejects a Condition outside the five operations.
	ErrInvalidCondition error = errcode.InvalidCondition
)
