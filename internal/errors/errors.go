package errors

import (
	stderrors "errors"
	"fmt"
)

type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches any AppError carrying the same code, so callers can test
// against the sentinels below with errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func New(code, message string, cause ...error) *AppError {
	var c error
	if len(cause) > 0 {
		c = cause[0]
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   c,
	}
}

const (
	CodeNotFound            = "NOT_FOUND"
	CodeValidation          = "VALIDATION"
	CodeInvalidTransition   = "INVALID_TRANSITION"
	CodeConcurrencyConflict = "CONCURRENCY_CONFLICT"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeInternal            = "INTERNAL"
)

var (
	ErrNotFound            = &AppError{Code: CodeNotFound, Message: "resource not found"}
	ErrValidation          = &AppError{Code: CodeValidation, Message: "validation failed"}
	ErrInvalidTransition   = &AppError{Code: CodeInvalidTransition, Message: "invalid state transition"}
	ErrConcurrencyConflict = &AppError{Code: CodeConcurrencyConflict, Message: "resource was modified concurrently"}
	ErrUnauthorized        = &AppError{Code: CodeUnauthorized, Message: "unauthorized"}
	ErrInternal            = &AppError{Code: CodeInternal, Message: "internal error"}
)

func NotFound(format string, args ...interface{}) *AppError {
	return New(CodeNotFound, fmt.Sprintf(format, args...))
}

func Validation(format string, args ...interface{}) *AppError {
	return New(CodeValidation, fmt.Sprintf(format, args...))
}

func InvalidTransition(format string, args ...interface{}) *AppError {
	return New(CodeInvalidTransition, fmt.Sprintf(format, args...))
}

func ConcurrencyConflict(format string, args ...interface{}) *AppError {
	return New(CodeConcurrencyConflict, fmt.Sprintf(format, args...))
}

func Unauthorized(format string, args ...interface{}) *AppError {
	return New(CodeUnauthorized, fmt.Sprintf(format, args...))
}

func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

func GetCode(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN"
}

func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}
