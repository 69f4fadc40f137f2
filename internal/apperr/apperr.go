// Package apperr provides unified error handling with structured error codes.
// Codes classify failures by pipeline stage so callers can decide whether a
// failure is fatal to startup or merely skips one poll cycle.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies an error by the pipeline stage that produced it.
type Code string

const (
	CodeUnknown     Code = "unknown"
	CodeInternal    Code = "internal"
	CodeConfig      Code = "config"
	CodeEnvironment Code = "environment" // missing device, model, or dependency; fatal to start
	CodeCapture     Code = "capture"
	CodeRecognition Code = "recognition"
	CodeTranslation Code = "translation"
)

// httpCodeMap maps error codes to HTTP status codes for the REST surface.
var httpCodeMap = map[Code]int{
	CodeUnknown:     http.StatusInternalServerError,
	CodeInternal:    http.StatusInternalServerError,
	CodeConfig:      http.StatusBadRequest,
	CodeEnvironment: http.StatusServiceUnavailable,
	CodeCapture:     http.StatusInternalServerError,
	CodeRecognition: http.StatusInternalServerError,
	CodeTranslation: http.StatusBadGateway,
}

// AppError is the base error type with structured error code and metadata.
type AppError struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// HTTPStatus returns the corresponding HTTP status code.
func (e *AppError) HTTPStatus() int {
	if c, ok := httpCodeMap[e.Code]; ok {
		return c
	}
	return http.StatusInternalServerError
}

// New creates a new AppError with the given code and message.
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(code Code, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// FromError extracts the AppError from an error chain, wrapping plain
// errors as CodeUnknown.
func FromError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return &AppError{Code: CodeUnknown, Message: err.Error(), Cause: err}
}

// IsCode checks if an error carries a specific error code.
func IsCode(err error, code Code) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsEnvironment reports whether the error is a user-environment failure,
// the only class that aborts a start attempt.
func IsEnvironment(err error) bool {
	return IsCode(err, CodeEnvironment)
}
