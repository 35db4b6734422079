// Package status provides the standardized status taxonomy for the virtual
// address-space manager. Every failure detected by the core is reported as a
// *status.Error carrying one of the fixed codes below; invariant violations
// are never expressed as statuses and panic instead.
package status

import (
	"errors"
	"fmt"
)

// Code identifies the failure class of an operation.
type Code uint32

const (
	CodeInvalidArgument  Code = iota + 1 // misaligned, zero-length or malformed request
	CodeOverlap                          // requested range collides with a live child
	CodePermissionDenied                 // capability or rights subset violated
	CodeOutOfRange                       // range not contained in the parent region
	CodeNoSpace                          // no free gap satisfies the request
	CodeNoMemory                         // page-table population failed
	CodeBadState                         // operation through a dead region handle
)

// String returns the canonical name of the code.
func (c Code) String() string {
	switch c {
	case CodeInvalidArgument:
		return "INVALID_ARGUMENT"
	case CodeOverlap:
		return "OVERLAP"
	case CodePermissionDenied:
		return "PERMISSION_DENIED"
	case CodeOutOfRange:
		return "OUT_OF_RANGE"
	case CodeNoSpace:
		return "NO_SPACE"
	case CodeNoMemory:
		return "NO_MEMORY"
	case CodeBadState:
		return "BAD_STATE"
	default:
		return fmt.Sprintf("CODE(%d)", uint32(c))
	}
}

// Error is the concrete status returned by every core operation.
type Error struct {
	Code   Code   // failure class
	Op     string // operation that detected the failure
	Detail string // human-readable context
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, e.Detail)
}

// Is reports whether target carries the same code, so call sites can use
// errors.Is(err, status.ErrOverlap) without caring about Op or Detail.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinel values for errors.Is classification.
var (
	ErrInvalidArgument  = &Error{Code: CodeInvalidArgument}
	ErrOverlap          = &Error{Code: CodeOverlap}
	ErrPermissionDenied = &Error{Code: CodePermissionDenied}
	ErrOutOfRange       = &Error{Code: CodeOutOfRange}
	ErrNoSpace          = &Error{Code: CodeNoSpace}
	ErrNoMemory         = &Error{Code: CodeNoMemory}
	ErrBadState         = &Error{Code: CodeBadState}
)

// Errorf constructs a status with formatted detail.
func Errorf(code Code, op, format string, args ...interface{}) *Error {
	return &Error{Code: code, Op: op, Detail: fmt.Sprintf(format, args...)}
}

// Common constructors.

func InvalidArgument(op, format string, args ...interface{}) *Error {
	return Errorf(CodeInvalidArgument, op, format, args...)
}

func Overlap(op, format string, args ...interface{}) *Error {
	return Errorf(CodeOverlap, op, format, args...)
}

func PermissionDenied(op, format string, args ...interface{}) *Error {
	return Errorf(CodePermissionDenied, op, format, args...)
}

func OutOfRange(op, format string, args ...interface{}) *Error {
	return Errorf(CodeOutOfRange, op, format, args...)
}

func NoSpace(op, format string, args ...interface{}) *Error {
	return Errorf(CodeNoSpace, op, format, args...)
}

func NoMemory(op, format string, args ...interface{}) *Error {
	return Errorf(CodeNoMemory, op, format, args...)
}

func BadState(op, format string, args ...interface{}) *Error {
	return Errorf(CodeBadState, op, format, args...)
}

// CodeOf extracts the status code from err, unwrapping as needed.
// The second result is false when err carries no status.
func CodeOf(err error) (Code, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Code, true
	}
	return 0, false
}
