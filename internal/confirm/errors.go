package confirm

import "errors"

var (
	// ErrNotFound is returned when no pending approval exists for an action.
	ErrNotFound = errors.New("no pending approval")

	// ErrServiceUnavailable is returned when the out-of-band confirmation
	// service cannot be reached or answers with something unusable.
	ErrServiceUnavailable = errors.New("confirmation service unavailable")

	// ErrClosed is returned by a Registry after Close.
	ErrClosed = errors.New("confirmation registry closed")
)
