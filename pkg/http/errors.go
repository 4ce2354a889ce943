package http

import (
	"fmt"
	"net/http"
)

// AppError is a service-level failure with an HTTP status attached.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

// WithError attaches the underlying cause for logs; it is never serialized.
func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

func newError(code string, status int, message string) *AppError {
	return &AppError{Code: code, Message: message, Status: status}
}

func NotFoundErrorf(format string, a ...interface{}) *AppError {
	return newError("ERR_NOT_FOUND", http.StatusNotFound, fmt.Sprintf(format, a...))
}

func ConflictError(message string) *AppError {
	return newError("ERR_CONFLICT", http.StatusConflict, message)
}

func UnprocessableError(message string) *AppError {
	return newError("ERR_UNPROCESSABLE", http.StatusUnprocessableEntity, message)
}

func ServiceUnavailableError(message string) *AppError {
	return newError("ERR_UNAVAILABLE", http.StatusServiceUnavailable, message)
}

func InternalError(message string) *AppError {
	return newError("ERR_INTERNAL", http.StatusInternalServerError, message)
}
