package mediawiki

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is wrapped by PermanentError when a page or file is missing
	ErrNotFound = errors.New("not found")
	// ErrMalformed is wrapped by PermanentError when a payload cannot be used
	ErrMalformed = errors.New("malformed response")
)

// TransientError is a remote fault worth retrying: timeouts, connection
// resets, HTTP 429 and 5xx, maxlag and rate-limit API errors.
type TransientError struct {
	Op         string
	Status     int
	Code       string
	RetryAfter time.Duration
	Err        error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient remote error%s: %v", e.Op, detail(e.Status, e.Code), e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError is a remote fault that will not go away on retry
type PermanentError struct {
	Op     string
	Status int
	Code   string
	Err    error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("%s: remote error%s: %v", e.Op, detail(e.Status, e.Code), e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

func detail(status int, code string) string {
	switch {
	case status != 0 && code != "":
		return fmt.Sprintf(" (HTTP %d, %s)", status, code)
	case status != 0:
		return fmt.Sprintf(" (HTTP %d)", status)
	case code != "":
		return fmt.Sprintf(" (%s)", code)
	}
	return ""
}

// IsTransient reports whether err is a retryable remote fault
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// RetryAfter returns the server's backoff hint carried by err, or zero
func RetryAfter(err error) time.Duration {
	var te *TransientError
	if errors.As(err, &te) {
		return te.RetryAfter
	}
	return 0
}

func malformed(op, format string, args ...any) error {
	return &PermanentError{Op: op, Err: fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))}
}

func notFound(op, what string) error {
	return &PermanentError{Op: op, Err: fmt.Errorf("%s: %w", what, ErrNotFound)}
}
