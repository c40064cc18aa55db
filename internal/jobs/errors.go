package jobs

import (
	"errors"
	"fmt"
)

// ErrValidation rejects a bad enqueue (unknown type, malformed payload).
// Never retried: the job is refused before it is ever stored.
var ErrValidation = errors.New("job validation failed")

// ErrUnknownHandler marks a claimed job whose type has no registered
// handler. Retries cannot fix a missing handler, so the runner dead-letters
// it immediately.
var ErrUnknownHandler = errors.New("no handler registered for job type")

// PermanentError wraps a handler error that must not be retried.
// The runner dead-letters the job on the first occurrence.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err (or anything it wraps) rules out a retry.
func IsPermanent(err error) bool {
	if errors.Is(err, ErrUnknownHandler) || errors.Is(err, ErrValidation) {
		return true
	}
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Validationf builds a ValidationError with a formatted reason.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
