// Package errors provides the unified error type used across the control
// plane: a typed code, an HTTP status it maps to at the gateway, and an
// optional wrapped cause.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is one of the error kinds an operation can fail with.
type ErrorCode string

const (
	// ErrInvalidOperationFormat: missing operation/address, malformed composite.
	ErrInvalidOperationFormat ErrorCode = "INVALID_OPERATION_FORMAT"
	// ErrNoSuchHandler: address/name pair not registered and no inherited handler.
	ErrNoSuchHandler ErrorCode = "NO_SUCH_HANDLER"
	// ErrAddressConflict: add on existing address, or missing ancestor.
	ErrAddressConflict ErrorCode = "ADDRESS_CONFLICT"
	// ErrHandlerFailed: handler explicitly failed with a description.
	ErrHandlerFailed ErrorCode = "HANDLER_FAILED"
	// ErrHandlerThrew: handler raised unexpectedly; description carries the message chain.
	ErrHandlerThrew ErrorCode = "HANDLER_THREW"
	// ErrCancelled: cancellation delivered before completion.
	ErrCancelled ErrorCode = "CANCELLED"
	// ErrPersistenceWarning: non-fatal; logged, never surfaced to the caller.
	ErrPersistenceWarning ErrorCode = "PERSISTENCE_WARNING"
	// ErrProtocolError: unknown request code, truncated frame, unexpected tag.
	ErrProtocolError ErrorCode = "PROTOCOL_ERROR"
)

// httpStatus maps each kind to the status the HTTP gateway reports:
// malformed operations and protocol errors 400, a missing handler 404, an
// address conflict 409, cancellation 200, and every other kind 500.
func (c ErrorCode) httpStatus() int {
	switch c {
	case ErrInvalidOperationFormat:
		return http.StatusBadRequest
	case ErrNoSuchHandler:
		return http.StatusNotFound
	case ErrAddressConflict:
		return http.StatusConflict
	case ErrCancelled:
		return http.StatusOK
	case ErrProtocolError:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// ControlError is a structured error carrying an ErrorCode, a human
// description and optionally a wrapped cause.
type ControlError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *ControlError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ControlError) Unwrap() error { return e.Err }

// HTTPStatus returns the status code the gateway should report for e.
func (e *ControlError) HTTPStatus() int { return e.Code.httpStatus() }

// New builds a ControlError with no wrapped cause.
func New(code ErrorCode, message string) *ControlError {
	return &ControlError{Code: code, Message: message}
}

// Wrap builds a ControlError around an existing error.
func Wrap(code ErrorCode, message string, err error) *ControlError {
	return &ControlError{Code: code, Message: message, Err: err}
}

func InvalidOperationFormat(reason string) *ControlError {
	return New(ErrInvalidOperationFormat, reason)
}

func NoSuchHandler(location, operation string) *ControlError {
	return New(ErrNoSuchHandler, fmt.Sprintf("no handler %q registered at %s", operation, location))
}

func AddressConflict(reason string) *ControlError {
	return New(ErrAddressConflict, reason)
}

func HandlerFailed(description string) *ControlError {
	return New(ErrHandlerFailed, description)
}

func HandlerThrew(recovered interface{}) *ControlError {
	return New(ErrHandlerThrew, fmt.Sprintf("handler panicked: %v", recovered))
}

func Cancelled() *ControlError {
	return New(ErrCancelled, "operation cancelled before completion")
}

func PersistenceWarning(err error) *ControlError {
	return Wrap(ErrPersistenceWarning, "persistence failed, continuing", err)
}

func ProtocolError(reason string) *ControlError {
	return New(ErrProtocolError, reason)
}

// As reports whether err (or something it wraps) is a *ControlError,
// writing it into target, mirroring errors.As's contract.
func As(err error, target **ControlError) bool {
	return errors.As(err, target)
}

// CodeOf extracts the ErrorCode of err, or "" if err is not (and does not
// wrap) a *ControlError.
func CodeOf(err error) ErrorCode {
	var ce *ControlError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}
