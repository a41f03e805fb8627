package query

import (
	"errors"
	"fmt"
)

// Code is a stable, client-visible error code.
type Code string

const (
	CodeInvalidOperator Code = "INVALID_OPERATOR"
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeInvalidQuery    Code = "INVALID_QUERY"
)

// Error is a query validation error. Message is safe to show to clients;
// the wrapped cause is not.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsError extracts a query Error from err.
func AsError(err error) (*Error, bool) {
	var qe *Error
	if errors.As(err, &qe) {
		return qe, true
	}
	return nil, false
}
