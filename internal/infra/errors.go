package infra

import (
	"context"
	"errors"
	"fmt"
)

// ErrStoreUnavailable marks failures of the persistent credential store. It
// is fatal to the request: authentication state cannot be degraded safely.
var ErrStoreUnavailable = errors.New("store unavailable")

// Unavailable wraps a backend error so callers can match ErrStoreUnavailable
// while keeping the original cause for logs. Context cancellation is passed
// through untouched.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
