package backoff

import (
	"context"
	"errors"
	"fmt"
)

// PermanentError wraps a failure that retrying cannot fix.
type PermanentError struct {
	Err error
}

// Error implements the error interface.
func (e *PermanentError) Error() string { return e.Err.Error() }

// Unwrap returns the wrapped error.
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as not worth retrying: Retry returns it
// immediately instead of spending the remaining attempts. A nil err
// stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Retry runs fn until it succeeds, fails permanently, exhausts the
// attempt budget, or ctx ends. fn receives the attempt number starting
// at 1; between failed attempts Retry sleeps per policy. An error
// wrapped by Permanent comes back unwrapped; an exhausted budget
// returns the last error annotated with the attempt count. An attempts
// value below 1 means one attempt.
func Retry[T any](ctx context.Context, policy Policy, attempts int, fn func(attempt int) (T, error)) (T, error) {
	var zero T
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		value, err := fn(attempt)
		if err == nil {
			return value, nil
		}
		var perm *PermanentError
		if errors.As(err, &perm) {
			return zero, perm.Err
		}
		lastErr = err

		if attempt < attempts {
			if err := policy.Sleep(ctx, attempt); err != nil {
				return zero, err
			}
		}
	}
	return zero, fmt.Errorf("giving up after %d attempts: %w", attempts, lastErr)
}
