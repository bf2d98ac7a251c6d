package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrMarginRejected means the venue refused the order for insufficient
	// margin. The sizer retries exactly once at half risk on this error.
	ErrMarginRejected = errors.New("order rejected: insufficient margin")

	// ErrSizingInvalid means no valid order size exists for the requested
	// risk. Deterministic, never retried.
	ErrSizingInvalid = errors.New("sizing invalid")

	// ErrVenueDegraded means the venue's breaker is open and new entries to
	// it are suspended. Existing positions on the venue stay untouched.
	ErrVenueDegraded = errors.New("venue degraded")

	// ErrNoPosition is returned by close/modify calls for unknown tickets
	// where idempotent success is not appropriate (e.g. bad symbol).
	ErrNoPosition = errors.New("no such position")
)

// TransientError wraps venue-busy and network failures that deserve a bounded
// retry with backoff before anyone hears about them.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient venue error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
