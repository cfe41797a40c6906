// Package errors carries the typed error codes every HTTP response and
// worker log line is classified by.
package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

// Platform codes.
const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeInProgress    Code = "REQUEST_IN_PROGRESS"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"
)

// Checkout codes. Their messages are specific and shown to the buyer.
const (
	CodeInstrumentRejected Code = "INSTRUMENT_REJECTED"
	CodePaymentRejected    Code = "PAYMENT_REJECTED"
	CodeSettlementConflict Code = "SETTLEMENT_CONFLICT"
)

// Metadata is the HTTP face of a code.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

func terminal(status int, public string, details bool) Metadata {
	return Metadata{HTTPStatus: status, PublicMessage: public, DetailsAllowed: details}
}

func transient(status int, public string, details bool) Metadata {
	return Metadata{HTTPStatus: status, Retryable: true, PublicMessage: public, DetailsAllowed: details}
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:    terminal(http.StatusBadRequest, "validation failed", true),
	CodeUnauthorized:  terminal(http.StatusUnauthorized, "authentication required", false),
	CodeForbidden:     terminal(http.StatusForbidden, "access denied", false),
	CodeNotFound:      terminal(http.StatusNotFound, "resource not found", false),
	CodeConflict:      terminal(http.StatusConflict, "conflict detected", false),
	CodeStateConflict: terminal(http.StatusUnprocessableEntity, "state transition disallowed", true),
	CodeIdempotency:   terminal(http.StatusConflict, "idempotency key reused", true),
	CodeInProgress:    transient(http.StatusConflict, "request still in progress", false),
	CodeRateLimit:     terminal(http.StatusTooManyRequests, "rate limit exceeded", false),
	CodeInternal:      transient(http.StatusInternalServerError, "internal server error", false),
	CodeDependency:    transient(http.StatusServiceUnavailable, "dependency unavailable", true),

	CodeInstrumentRejected: terminal(http.StatusUnprocessableEntity, "discount instrument rejected", true),
	CodePaymentRejected:    terminal(http.StatusPaymentRequired, "payment was not accepted", true),
	CodeSettlementConflict: terminal(http.StatusConflict, "order could not be settled", true),
}

// MetadataFor falls back to CodeInternal for unknown codes.
func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

// Error is a coded error with an optional cause and public details.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// Newf formats the message.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

func Wrap(code Code, err error, message string) *Error {
	e := New(code, message)
	e.cause = err
	return e
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	default:
		return fmt.Sprintf("%s: %s", e.code, e.message)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// IsCode reports whether the outermost typed error in err's chain carries
// one of codes.
func IsCode(err error, codes ...Code) bool {
	typed := As(err)
	if typed == nil {
		return false
	}
	for _, code := range codes {
		if typed.code == code {
			return true
		}
	}
	return false
}

func As(err error) *Error {
	var typed *Error
	if err != nil && stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}
