package services

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies service failures for callers.
type ErrorKind string

const (
	KindNotFound              ErrorKind = "NOT_FOUND"
	KindConflict              ErrorKind = "CONFLICT"
	KindAllProvidersExhausted ErrorKind = "ALL_PROVIDERS_EXHAUSTED"
	KindUnsupportedCategory   ErrorKind = "UNSUPPORTED_CATEGORY"
	KindInvalidInput          ErrorKind = "INVALID_INPUT"
	KindUpstream              ErrorKind = "UPSTREAM_ERROR"
	KindInternal              ErrorKind = "INTERNAL"
)

var kindStatus = map[ErrorKind]int{
	KindNotFound:              http.StatusNotFound,
	KindConflict:              http.StatusConflict,
	KindAllProvidersExhausted: http.StatusBadGateway,
	KindUnsupportedCategory:   http.StatusUnprocessableEntity,
	KindInvalidInput:          http.StatusBadRequest,
	KindUpstream:              http.StatusBadGateway,
	KindInternal:              http.StatusInternalServerError,
}

// ServiceError represents an application error
type ServiceError struct {
	StatusCode int       `json:"-"`
	Kind       ErrorKind `json:"code"`
	Message    string    `json:"message"`
	Detail     string    `json:"detail,omitempty"`
	Err        error     `json:"-"`
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *ServiceError) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, message string, err error) *ServiceError {
	return &ServiceError{StatusCode: kindStatus[kind], Kind: kind, Message: message, Err: err}
}

func NotFound(format string, args ...any) *ServiceError {
	return newError(KindNotFound, fmt.Sprintf(format, args...), nil)
}

func Conflict(format string, args ...any) *ServiceError {
	return newError(KindConflict, fmt.Sprintf(format, args...), nil)
}

func InvalidInput(format string, args ...any) *ServiceError {
	return newError(KindInvalidInput, fmt.Sprintf(format, args...), nil)
}

func UnsupportedCategory(format string, args ...any) *ServiceError {
	return newError(KindUnsupportedCategory, fmt.Sprintf(format, args...), nil)
}

// AllProvidersExhausted carries the last provider error. detail is the
// customer-safe summary of it.
func AllProvidersExhausted(detail string, last error) *ServiceError {
	e := newError(KindAllProvidersExhausted, "all providers failed", last)
	e.Detail = detail
	return e
}

// Upstream wraps a provider failure outside the payment flow.
func Upstream(message string, err error) *ServiceError {
	return newError(KindUpstream, message, err)
}

func Internal(message string, err error) *ServiceError {
	return newError(KindInternal, message, err)
}

// IsKind reports whether err is a *ServiceError of kind.
func IsKind(err error, kind ErrorKind) bool {
	var svcErr *ServiceError
	return errors.As(err, &svcErr) && svcErr.Kind == kind
}
