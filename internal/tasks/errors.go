package tasks

import (
	"errors"
	"net/http"

	"github.com/basket/taskmaster/internal/persistence"
)

// Code is the transport-neutral outcome of a failed service call.
type Code string

const (
	CodeInvalid     Code = "invalid_argument"
	CodeNotFound    Code = "not_found"
	CodeConflict    Code = "conflict"
	CodeUnavailable Code = "unavailable"
	CodeInternal    Code = "internal"
)

// HTTPStatus is the single place codes map onto HTTP.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalid:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is returned by every Service method that fails.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf extracts the code of err, treating anything unrecognized as internal.
func CodeOf(err error) Code {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return CodeInternal
}

func invalid(msg string) error {
	return &Error{Code: CodeInvalid, Message: msg}
}

// translate converts repository failures to service errors exactly once.
// Internal failures keep the cause for logging but never expose it.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	var te *persistence.TaskError
	msg := "internal error"
	if errors.As(err, &te) {
		msg = te.Msg
	}
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return &Error{Code: CodeNotFound, Message: msg, Err: err}
	case errors.Is(err, persistence.ErrValidation):
		return &Error{Code: CodeInvalid, Message: msg, Err: err}
	case errors.Is(err, persistence.ErrConflict):
		return &Error{Code: CodeConflict, Message: msg, Err: err}
	default:
		return &Error{Code: CodeInternal, Message: "internal error", Err: err}
	}
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(CodeOf(err))
}
