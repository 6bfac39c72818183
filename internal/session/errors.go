package session

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes protocol errors by cause.
//
// Codes exist for logging and for higher layers that want a taxonomy.
// The protocol itself only promises presence or absence of an error:
// any non-nil error invalidates every other result of the call.
type ErrorCode string

const (
	// ErrCodeInvalidHandle indicates a handle that does not exist, was
	// already finalized or closed, or belongs to another handle kind.
	ErrCodeInvalidHandle ErrorCode = "INVALID_HANDLE"

	// ErrCodeResource indicates a store that could not be opened or an
	// exhausted resource such as the per-connection execution limit.
	ErrCodeResource ErrorCode = "RESOURCE"

	// ErrCodeMalformed indicates a command payload the engine rejected.
	ErrCodeMalformed ErrorCode = "MALFORMED"

	// ErrCodeEngine indicates a failure inside the engine, including a
	// command that failed after producing output (surfaced by End).
	ErrCodeEngine ErrorCode = "ENGINE"

	// ErrCodeMisuse indicates a call that breaks the per-execution call
	// order: a second write, a write after a read, a zero-capacity read,
	// or two overlapping calls on the same execution.
	ErrCodeMisuse ErrorCode = "MISUSE"
)

// Error is the error returned by every Client operation.
type Error struct {
	// Op is the failing operation: open, begin, write, read, end, close.
	Op string

	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of the first *Error in err's chain, or "" if
// there is none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsInvalidHandle returns true if err is an invalid-handle error.
func IsInvalidHandle(err error) bool {
	return CodeOf(err) == ErrCodeInvalidHandle
}

// IsMisuse returns true if err rejects an out-of-order or overlapping call.
func IsMisuse(err error) bool {
	return CodeOf(err) == ErrCodeMisuse
}

func newError(op string, code ErrorCode, err error, format string, args ...any) *Error {
	return &Error{
		Op:      op,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}
