package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with a stable code and HTTP mapping.
type Error struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Status  int      `json:"status"`
	Fields  []string `json:"fields,omitempty"`
	Err     error    `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Coded error values shared across the API. The VAL/RES/SRV codes are part of
// the contract consumed by the frontend.
var (
	ErrValidation         = New("VAL_001", http.StatusBadRequest, "validation failed")
	ErrNotFound           = New("RES_001", http.StatusNotFound, "resource not found")
	ErrDuplicate          = New("RES_002", http.StatusConflict, "resource already exists")
	ErrInternal           = New("SRV_001", http.StatusInternalServerError, "internal server error")
	ErrUnauthorized       = New("AUTH_001", http.StatusUnauthorized, "unauthorized")
	ErrForbidden          = New("AUTH_002", http.StatusForbidden, "forbidden")
	ErrInvalidCredentials = New("AUTH_003", http.StatusUnauthorized, "invalid email or password")
	ErrInactiveAccount    = New("AUTH_004", http.StatusForbidden, "account is inactive")
	ErrInvalidTransition  = New("WF_001", http.StatusConflict, "transition not allowed from current status")
	ErrStaleStatus        = New("WF_002", http.StatusConflict, "demande was modified concurrently")
	ErrCacheMiss          = New("CACHE_001", http.StatusNotFound, "cache miss")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// WithFields returns a copy of the error carrying the offending field names.
func WithFields(err *Error, fields []string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	clone.Fields = append([]string(nil), fields...)
	return &clone
}
