// Package errors carries the typed error used across services. A Code picks the HTTP status and
// public message, a Reason names the domain failure, and the cause chain stays for logging.
package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"
)

// Metadata is how a Code is rendered to clients.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

func meta(status int, public string, details, retryable bool) Metadata {
	return Metadata{HTTPStatus: status, PublicMessage: public, DetailsAllowed: details, Retryable: retryable}
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:    meta(http.StatusBadRequest, "validation failed", true, false),
	CodeUnauthorized:  meta(http.StatusUnauthorized, "authentication required", false, false),
	CodeForbidden:     meta(http.StatusForbidden, "access denied", false, false),
	CodeNotFound:      meta(http.StatusNotFound, "resource not found", false, false),
	CodeConflict:      meta(http.StatusConflict, "conflict detected", false, false),
	CodeStateConflict: meta(http.StatusUnprocessableEntity, "state transition disallowed", true, false),
	CodeIdempotency:   meta(http.StatusConflict, "idempotency key reused", true, false),
	CodeRateLimit:     meta(http.StatusTooManyRequests, "rate limit exceeded", false, true),
	CodeInternal:      meta(http.StatusInternalServerError, "internal server error", false, true),
	CodeDependency:    meta(http.StatusServiceUnavailable, "dependency unavailable", true, true),
}

// MetadataFor falls back to CodeInternal for codes it does not know.
func MetadataFor(code Code) Metadata {
	if m, ok := metadataByCode[code]; ok {
		return m
	}
	return metadataByCode[CodeInternal]
}

// Reason narrows a Code into the specific domain failure so callers can tell
// a sold out deal from a missing one without parsing messages.
type Reason string

const (
	ReasonOutOfStock            Reason = "OUT_OF_STOCK"
	ReasonDealUnavailable       Reason = "DEAL_UNAVAILABLE"
	ReasonInsufficientDealStock Reason = "INSUFFICIENT_DEAL_STOCK"
	ReasonInvalidTransition     Reason = "INVALID_TRANSITION"
	ReasonAlreadyClaimed        Reason = "ALREADY_CLAIMED"
	ReasonNotClaimable          Reason = "NOT_CLAIMABLE"
	ReasonInvalidState          Reason = "INVALID_STATE"
	ReasonMissingSignature      Reason = "MISSING_SIGNATURE"
	ReasonQuantityBelowSold     Reason = "QUANTITY_BELOW_SOLD"
	ReasonInvalidWindow         Reason = "INVALID_WINDOW"
)

type Error struct {
	code    Code
	reason  Reason
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap keeps err as the cause. A nil err behaves like New.
func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

func Wrapf(code Code, err error, format string, args ...any) *Error {
	return Wrap(code, err, fmt.Sprintf(format, args...))
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

func (e *Error) Reason() Reason {
	if e == nil {
		return ""
	}
	return e.reason
}

// Status is the HTTP status for the error's code.
func (e *Error) Status() int {
	return MetadataFor(e.Code()).HTTPStatus
}

func (e *Error) WithReason(reason Reason) *Error {
	if e != nil {
		e.reason = reason
	}
	return e
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
	case e.reason != "":
		return fmt.Sprintf("%s(%s): %s", e.code, e.reason, e.message)
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

// Is matches another *Error by code, and by reason when target sets one, so
// errors.Is(err, New(CodeNotFound, "")) works across wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	if e.code != t.code {
		return false
	}
	return t.reason == "" || e.reason == t.reason
}

// As returns the outermost *Error in err's chain, or nil.
func As(err error) *Error {
	var typed *Error
	if err != nil && stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

func HasReason(err error, reason Reason) bool {
	return As(err).Reason() == reason && reason != ""
}

func IsCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.code == code
}
