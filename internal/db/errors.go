package db

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned by operations that require an existing row
var ErrNotFound = errors.New("record not found")

// IntegrityError reports a constraint or invariant violation. It is scoped to
// the operation that raised it and is never worth retrying.
type IntegrityError struct {
	Op         string
	Constraint string
	Err        error
}

func (e *IntegrityError) Error() string {
	if e.Constraint != "" {
		return fmt.Sprintf("%s: integrity violation (%s): %v", e.Op, e.Constraint, e.Err)
	}
	return fmt.Sprintf("%s: integrity violation: %v", e.Op, e.Err)
}

func (e *IntegrityError) Unwrap() error { return e.Err }

// UnavailableError reports a transient substrate fault (lock, disk,
// connection); the caller may retry.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: store unavailable: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retryable store fault
func IsTransient(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

// IsIntegrity reports whether err is a constraint violation
func IsIntegrity(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}

func integrityf(op, format string, args ...any) error {
	return &IntegrityError{Op: op, Err: fmt.Errorf(format, args...)}
}

// classify maps driver errors onto the store error taxonomy
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var ie *IntegrityError
	var ue *UnavailableError
	if errors.As(err, &ie) || errors.As(err, &ue) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "23"):
			return &IntegrityError{Op: op, Constraint: pgErr.ConstraintName, Err: err}
		case isUnavailableCode(pgErr.Code):
			return &UnavailableError{Op: op, Err: err}
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	var connErr *pgconn.ConnectError
	var netErr net.Error
	if errors.As(err, &connErr) || errors.As(err, &netErr) ||
		pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return &UnavailableError{Op: op, Err: err}
	}

	return fmt.Errorf("%s: %w", op, err)
}

func isUnavailableCode(code string) bool {
	switch code {
	case "40001", // serialization_failure
		"40P01", // deadlock_detected
		"55P03", // lock_not_available
		"58030": // io_error
		return true
	}
	// connection exception, insufficient resources, operator intervention
	return strings.HasPrefix(code, "08") || strings.HasPrefix(code, "53") || strings.HasPrefix(code, "57")
}
