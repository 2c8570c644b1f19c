package errors

import (
	stderrors "errors"
	"net/http"
)

type ErrorType string

const (
	ErrorTypeNotFound     ErrorType = "NOT_FOUND"
	ErrorTypeValidation   ErrorType = "VALIDATION"
	ErrorTypeInternal     ErrorType = "INTERNAL"
	ErrorTypeUnauthorized ErrorType = "UNAUTHORIZED"

	// Session and item level kinds.
	ErrorTypeConfiguration      ErrorType = "CONFIGURATION"
	ErrorTypeUnsupportedPayload ErrorType = "UNSUPPORTED_PAYLOAD"
	ErrorTypeInvalidRequest     ErrorType = "INVALID_REQUEST"
	ErrorTypeTimeout            ErrorType = "TIMEOUT"
	ErrorTypeUnknown            ErrorType = "UNKNOWN"
)

type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    int       `json:"code"`
	Details any       `json:"details,omitempty"`
	Err     error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Type, so errors.Is(err, &Error{Type: ErrorTypeTimeout}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Type == e.Type
}

func NotFound(message string) *Error {
	return &Error{
		Type:    ErrorTypeNotFound,
		Message: message,
		Code:    http.StatusNotFound,
	}
}

func ValidationError(message string, details any) *Error {
	return &Error{
		Type:    ErrorTypeValidation,
		Message: message,
		Code:    http.StatusBadRequest,
		Details: details,
	}
}

func Unauthorized(message string) *Error {
	return &Error{
		Type:    ErrorTypeUnauthorized,
		Message: message,
		Code:    http.StatusUnauthorized,
	}
}

func Configuration(message string) *Error {
	return &Error{
		Type:    ErrorTypeConfiguration,
		Message: message,
	}
}

func UnsupportedPayload(message string) *Error {
	return &Error{
		Type:    ErrorTypeUnsupportedPayload,
		Message: message,
	}
}

// Remote builds a remote-call failure of the given kind. code is the HTTP status, zero when
// no response was received.
func Remote(kind ErrorType, message string, code int, err error) *Error {
	return &Error{
		Type:    kind,
		Message: message,
		Code:    code,
		Err:     err,
	}
}

// TypeOf returns the ErrorType carried by err, or ErrorTypeUnknown.
func TypeOf(err error) ErrorType {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}

// IsRemote reports whether err is one of the remote-call kinds.
func IsRemote(err error) bool {
	switch TypeOf(err) {
	case ErrorTypeInvalidRequest, ErrorTypeTimeout, ErrorTypeUnknown:
		return true
	}
	return false
}
