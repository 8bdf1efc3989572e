package events

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed query parameters or events. Never retried.
	ErrValidation = errors.New("validation failed")
	// ErrStoreUnavailable marks a failed read or write against the event store.
	ErrStoreUnavailable = errors.New("event store unavailable")
	// ErrTimeout marks a caller deadline that expired before the store answered.
	ErrTimeout = errors.New("query timed out")
)

// StoreError classifies a driver error for the given operation. Deadline
// expiry becomes ErrTimeout, everything else ErrStoreUnavailable. Errors that
// are already classified pass through untouched.
func StoreError(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", ErrTimeout, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

// ContextError converts an expired or cancelled context into a classified
// error, or returns nil while the context is still live.
func ContextError(ctx context.Context) error {
	switch err := ctx.Err(); {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	default:
		return err
	}
}
