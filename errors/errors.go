// Package errors carries an HTTP status and a client-facing message along
// with the underlying cause.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// AppError is rendered to clients as {"error": Message}. Op names the
// operation that produced it; Err is logged but never sent.
type AppError struct {
	Code    int    `json:"-"`
	Message string `json:"error"`
	Op      string `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func newError(code int, op string, err error, message string) *AppError {
	return &AppError{Code: code, Message: message, Op: op, Err: err}
}

// InvalidInput is a client mistake such as a malformed URL or a missing question.
func InvalidInput(op string, err error, message string) *AppError {
	return newError(http.StatusBadRequest, op, err, message)
}

func Internal(op string, err error, message string) *AppError {
	return newError(http.StatusInternalServerError, op, err, message)
}

// Wrap returns err unchanged if it already carries an AppError, otherwise an
// Internal error with message.
func Wrap(op string, err error, message string) error {
	if err == nil {
		return nil
	}
	if _, ok := As(err); ok {
		return err
	}
	return Internal(op, err, message)
}

// As returns the outermost AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf reports the HTTP status carried by err, defaulting to 500.
func CodeOf(err error) int {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return http.StatusInternalServerError
}

func IsInvalidInput(err error) bool {
	return CodeOf(err) == http.StatusBadRequest
}
