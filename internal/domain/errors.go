package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrCanceled is returned when a caller's cancel signal stops an execution
// before or during a statement.
var ErrCanceled = errors.New("execution canceled")

// ParseError reports a malformed connection descriptor.
type ParseError struct {
	Descriptor string
	Reason     string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse descriptor: %s", e.Reason)
}

// ValidationError reports malformed registry input (unsupported kind, bad
// port, missing required field).
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// NotFoundError reports a missing connection name or database file.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("not found: %s", e.Name) }

// UnavailableError means a live connection could not be reconstructed from
// the persisted configuration. Last carries the final underlying error for
// display.
type UnavailableError struct {
	Name string
	Last error
}

func (e *UnavailableError) Error() string {
	if e.Last != nil {
		return fmt.Sprintf("connection %q is not available: %v", e.Name, e.Last)
	}
	return fmt.Sprintf("connection %q is not available", e.Name)
}

func (e *UnavailableError) Unwrap() error { return e.Last }

// TimeoutError means a single statement exceeded the per-statement ceiling.
type TimeoutError struct {
	Statement string
	Limit     time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("execution timed out after %s for statement: %s", e.Limit, e.Statement)
}

// StatementError wraps a driver-reported failure together with the offending
// statement text so it can be shown verbatim.
type StatementError struct {
	Statement string
	Err       error
}

func (e *StatementError) Error() string {
	return fmt.Sprintf("error executing statement: %s: %v", e.Statement, e.Err)
}

func (e *StatementError) Unwrap() error { return e.Err }
