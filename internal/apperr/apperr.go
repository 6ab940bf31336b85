// Package apperr defines the error kinds surfaced by the API.
// Every AppError carries a stable, human readable Message that is returned
// to clients as the "detail" field.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation          Kind = "VALIDATION_ERROR"
	KindInsufficientFunds   Kind = "INSUFFICIENT_FUNDS"
	KindCouponInvalid       Kind = "COUPON_INVALID"
	KindIllegalTransition   Kind = "ILLEGAL_TRANSITION"
	KindNotFound            Kind = "NOT_FOUND"
	KindAmbiguousOrNotFound Kind = "AMBIGUOUS_OR_NOT_FOUND"
	KindExternalGateway     Kind = "EXTERNAL_GATEWAY_ERROR"
	KindUnauthorized        Kind = "UNAUTHORIZED"
	KindForbidden           Kind = "FORBIDDEN"
	KindAlreadyExists       Kind = "ALREADY_EXISTS"
	KindRateLimitExceeded   Kind = "RATE_LIMIT_EXCEEDED"
	KindInternal            Kind = "INTERNAL_ERROR"
)

type AppError struct {
	Code    Kind
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

// Is matches any AppError with the same Code, so
// errors.Is(err, apperr.ErrInsufficientFunds) works on wrapped values.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func New(code Kind, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func Wrap(err error, code Kind, message string) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// Sentinels for errors.Is comparisons.
var (
	ErrValidation          = New(KindValidation, "validation failed")
	ErrInsufficientFunds   = New(KindInsufficientFunds, "insufficient funds")
	ErrCouponInvalid       = New(KindCouponInvalid, "coupon invalid")
	ErrIllegalTransition   = New(KindIllegalTransition, "illegal transition")
	ErrNotFound            = New(KindNotFound, "not found")
	ErrAmbiguousOrNotFound = New(KindAmbiguousOrNotFound, "ambiguous or not found")
	ErrExternalGateway     = New(KindExternalGateway, "external gateway error")
)

func Validation(message string) *AppError { return New(KindValidation, message) }

func Validationf(format string, args ...any) *AppError {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

func NotFound(message string) *AppError { return New(KindNotFound, message) }

func IllegalTransition(message string) *AppError { return New(KindIllegalTransition, message) }

func IllegalTransitionf(format string, args ...any) *AppError {
	return New(KindIllegalTransition, fmt.Sprintf(format, args...))
}

func Internal(err error) *AppError {
	return Wrap(err, KindInternal, "Internal server error")
}

// KindOf reports the Kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return KindInternal
}

// HTTPStatus maps a Kind to the response status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindInsufficientFunds:
		return http.StatusPaymentRequired
	case KindCouponInvalid:
		return http.StatusUnprocessableEntity
	case KindIllegalTransition, KindAlreadyExists:
		return http.StatusConflict
	case KindNotFound, KindAmbiguousOrNotFound:
		return http.StatusNotFound
	case KindExternalGateway:
		return http.StatusBadGateway
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindRateLimitExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Detail returns the client-facing message for err. Internal errors never
// leak their cause.
func Detail(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Code != KindInternal {
		return appErr.Message
	}
	return "Internal server error"
}
