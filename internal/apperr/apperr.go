// Package apperr defines the error taxonomy shared by the registry,
// resolver, ledger and store.
//
// Codes:
//   - NOT_FOUND: referrer, user or pending row absent
//   - INVALID_OPERATION: self-referral, non-positive amount, edge already resolved
//   - STORE_UNAVAILABLE: transient I/O or lock failure, retryable
//   - CONSTRAINT_VIOLATION: uniqueness conflict from a concurrent duplicate insert
//
// NOT_FOUND and INVALID_OPERATION are expected outcomes. Callers decide the
// user-visible message; they are never fatal.
package apperr

import (
	"errors"
	"fmt"
)

// Code categorizes an Error.
type Code string

const (
	CodeNotFound            Code = "NOT_FOUND"
	CodeInvalidOperation    Code = "INVALID_OPERATION"
	CodeStoreUnavailable    Code = "STORE_UNAVAILABLE"
	CodeConstraintViolation Code = "CONSTRAINT_VIOLATION"
)

// Error is a categorized error with the operation that produced it.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Op names the operation, e.g. "record earning".
	Op string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NotFound creates a NOT_FOUND error.
func NotFound(op, format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Invalid creates an INVALID_OPERATION error.
func Invalid(op, format string, args ...any) *Error {
	return &Error{Code: CodeInvalidOperation, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Unavailable wraps a transient store failure.
func Unavailable(op string, err error) *Error {
	return &Error{Code: CodeStoreUnavailable, Op: op, Message: "store unavailable", Err: err}
}

// Constraint wraps a uniqueness conflict.
func Constraint(op string, err error) *Error {
	return &Error{Code: CodeConstraintViolation, Op: op, Message: "constraint violation", Err: err}
}

// CodeOf returns the Code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsNotFound reports whether err carries CodeNotFound.
func IsNotFound(err error) bool { return CodeOf(err) == CodeNotFound }

// IsInvalid reports whether err carries CodeInvalidOperation.
func IsInvalid(err error) bool { return CodeOf(err) == CodeInvalidOperation }

// IsUnavailable reports whether err carries CodeStoreUnavailable.
func IsUnavailable(err error) bool { return CodeOf(err) == CodeStoreUnavailable }

// IsConstraint reports whether err carries CodeConstraintViolation.
func IsConstraint(err error) bool { return CodeOf(err) == CodeConstraintViolation }
