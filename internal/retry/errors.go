package retry

import (
	"errors"
	"fmt"
)

// ErrInvalidPolicy is returned by NewPolicy for out-of-range values.
var ErrInvalidPolicy = errors.New("invalid retry policy")

// ExhaustedError is returned by Executor.Do when no attempt succeeded.
//
// Only the last attempt's error is kept; earlier failures are reported through
// the observer as they happen.
type ExhaustedError struct {
	Attempts  int
	Err       error
	Permanent bool
}

func (e *ExhaustedError) Error() string {
	if e.Permanent {
		return fmt.Sprintf("gave up after %d attempt(s) (non-retryable): %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("retries exhausted after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Permanent marks an error as non-retryable.
//
// Actions wrap failures that another attempt cannot fix (bad local setup,
// unwritable output directory) so the executor stops early.
//
//	return retry.Permanent(fmt.Errorf("create dir: %w", err))
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err is wrapped with Permanent.
func IsPermanent(err error) bool {
	var e permanentError
	return errors.As(err, &e)
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }
