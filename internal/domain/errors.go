package domain

import (
	"errors"
	"fmt"
)

// Stable machine-readable error codes surfaced to external callers.
const (
	CodeValidation        = "validation_error"
	CodeNotFound          = "not_found"
	CodeStateConflict     = "state_conflict"
	CodeInsufficientFunds = "insufficient_funds"
	CodeAlreadyUsed       = "already_used"
	CodeExpired           = "expired"
	CodeExternalService   = "external_service_error"
	CodeConfiguration     = "configuration_error"
)

// Error is the typed error carried across the core. Callers match on Kind
// via the sentinel values below; Code+Message are safe to return to clients.
type Error struct {
	Kind    error
	Code    string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	if e.cause != nil {
		return e.cause
	}
	return e.Kind
}

func (e *Error) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// Sentinel kinds for errors.Is matching.
var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrStateConflict     = errors.New("state conflict")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAlreadyUsed       = errors.New("already used")
	ErrExpired           = errors.New("expired")
	ErrExternalService   = errors.New("external service error")
	ErrConfiguration     = errors.New("configuration error")
)

func ValidationError(format string, args ...any) *Error {
	return &Error{Kind: ErrValidation, Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFoundError(entity, id string) *Error {
	return &Error{Kind: ErrNotFound, Code: CodeNotFound, Message: fmt.Sprintf("%s %s not found", entity, id)}
}

func StateConflictError(current, requested string) *Error {
	return &Error{
		Kind:    ErrStateConflict,
		Code:    CodeStateConflict,
		Message: fmt.Sprintf("transition to %s is not permitted from %s", requested, current),
	}
}

func InsufficientFundsError(op string) *Error {
	return &Error{
		Kind:    ErrInsufficientFunds,
		Code:    CodeInsufficientFunds,
		Message: fmt.Sprintf("escrow balance too low for %s", op),
	}
}

func AlreadyUsedError() *Error {
	return &Error{Kind: ErrAlreadyUsed, Code: CodeAlreadyUsed, Message: "this claim code has already been used"}
}

func ExpiredError() *Error {
	return &Error{Kind: ErrExpired, Code: CodeExpired, Message: "this claim code has expired"}
}

// ExternalServiceError wraps a rail/provider failure. The cause is kept for
// logs; Message stays generic so upstream detail never leaks to callers.
func ExternalServiceError(service string, cause error) *Error {
	return &Error{
		Kind:    ErrExternalService,
		Code:    CodeExternalService,
		Message: fmt.Sprintf("%s is temporarily unavailable", service),
		cause:   cause,
	}
}

func ConfigurationError(format string, args ...any) *Error {
	return &Error{Kind: ErrConfiguration, Code: CodeConfiguration, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the stable code for an error, falling back to a generic
// internal code for untyped failures.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal_error"
}

// MessageOf returns the client-safe message for an error.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal server error"
}
