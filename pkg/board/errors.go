package board

import (
	"errors"
	"fmt"
)

// Code classifies a coordination failure.
type Code string

const (
	// CodeLockTimeout means the gate was not acquired in time. No state changed.
	CodeLockTimeout Code = "LockTimeout"

	// CodeResourceAlreadyLocked means a path lock is held, not stale and not forced.
	CodeResourceAlreadyLocked Code = "ResourceAlreadyLocked"

	// CodePermissionDenied means an unlock was attempted by a non-holder without force.
	CodePermissionDenied Code = "PermissionDenied"

	// CodeContractNotFound means no contract matched the given id.
	CodeContractNotFound Code = "ContractNotFound"

	// CodeInvalidStateTransition means the contract's status does not permit the transition.
	CodeInvalidStateTransition Code = "InvalidStateTransition"

	// CodeMissingRequiredField means a request lacked (or carried an invalid) required field.
	CodeMissingRequiredField Code = "MissingRequiredField"

	// CodeSerializationError means a stored document was unreadable or corrupt.
	CodeSerializationError Code = "SerializationError"

	// CodeSafeguardTripped means an enforced contract safeguard refused the operation.
	CodeSafeguardTripped Code = "SafeguardTripped"
)

// Error is the typed error returned by every board-backed operation.
// Detail carries human-readable context such as the current lock holder.
type Error struct {
	Code   Code
	Detail string
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a *Error with the same code.
// This lets callers match on the sentinels below with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrLockTimeout            = &Error{Code: CodeLockTimeout}
	ErrResourceAlreadyLocked  = &Error{Code: CodeResourceAlreadyLocked}
	ErrPermissionDenied       = &Error{Code: CodePermissionDenied}
	ErrContractNotFound       = &Error{Code: CodeContractNotFound}
	ErrInvalidStateTransition = &Error{Code: CodeInvalidStateTransition}
	ErrMissingRequiredField   = &Error{Code: CodeMissingRequiredField}
	ErrSerialization          = &Error{Code: CodeSerializationError}
	ErrSafeguardTripped       = &Error{Code: CodeSafeguardTripped}
)

// Errorf creates an Error with a formatted detail string.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// WrapError creates an Error that carries an underlying cause.
func WrapError(code Code, detail string, cause error) *Error {
	return &Error{Code: code, Detail: detail, Err: cause}
}

// CodeOf returns the Code of err, or "" if err is not a board error.
func CodeOf(err error) Code {
	var be *Error
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}

// MissingField is shorthand for a MissingRequiredField error naming the field.
func MissingField(field string) *Error {
	return Errorf(CodeMissingRequiredField, "%s is required", field)
}
