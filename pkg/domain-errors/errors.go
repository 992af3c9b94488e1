// Package domainerrors provides coded errors shared by services and handlers.
//
// Stores report infrastructure facts with pkg/platform/sentinel; services
// translate those facts, plus their own validation outcomes, into coded
// errors from this package. Handlers map codes onto HTTP statuses without
// inspecting error strings.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Code classifies a domain error for transport mapping and retry decisions.
type Code string

const (
	// CodeNotFound signals that a referenced domain or locality does not resolve.
	CodeNotFound Code = "not_found"
	// CodeValidation signals rejected input: a missing required attribute key,
	// a key outside the domain's specification set, or a malformed coordinate.
	CodeValidation Code = "validation_failed"
	// CodeTemplateSyntax signals that a domain's template fragment failed to
	// compile. Raised at domain-save time only.
	CodeTemplateSyntax Code = "template_syntax"
	// CodeWriteFailed signals a failure inside an atomic write transaction.
	// The transaction has been rolled back; no partial state is visible.
	CodeWriteFailed Code = "write_failed"
	// CodeConflict signals a uniqueness violation outside a write transaction.
	CodeConflict Code = "conflict"
	// CodeUnauthorized signals a missing or invalid acting-user identity.
	CodeUnauthorized Code = "unauthorized"
	// CodeTimeout signals that an operation was abandoned before completion.
	CodeTimeout Code = "timeout"
	// CodeInternal covers unexpected infrastructure failures.
	CodeInternal Code = "internal"
)

// Error carries a code, a human-readable message and, for validation
// failures, the attribute keys that caused the rejection.
type Error struct {
	Code    Code
	Message string
	// Fields names the offending attribute keys for CodeValidation errors.
	Fields []string
	cause  error
}

func (e *Error) Error() string {
	if len(e.Fields) > 0 {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, strings.Join(e.Fields, ", "))
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewValidation builds a validation error naming the offending keys.
func NewValidation(message string, fields ...string) *Error {
	return &Error{Code: CodeValidation, Message: message, Fields: fields}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// FieldsOf extracts the offending attribute keys from a validation error.
func FieldsOf(err error) []string {
	var de *Error
	if errors.As(err, &de) {
		return de.Fields
	}
	return nil
}

// HTTPStatus maps a domain error onto an HTTP status code.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeValidation, CodeTemplateSyntax:
		return http.StatusBadRequest
	case CodeConflict:
		return http.StatusConflict
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeWriteFailed, CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
