package errutil

import (
	"errors"
	"fmt"
)

type Detail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type BaseError struct {
	Code    CoreStatus `json:"code"`
	Message string     `json:"message"`
	Details []Detail   `json:"details,omitempty"`
	Err     error      `json:"-"`
}

func (e BaseError) Status() CoreStatus {
	return e.Code
}

// JSON is the body rendered to HTTP callers. The wrapped cause stays out
// of it; it may carry gateway internals.
func (e BaseError) JSON() interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{
			"code":      e.Code,
			"message":   e.Message,
			"details":   e.Details,
			"retryable": e.Code.Retryable(),
		},
	}
}

func (e BaseError) Unwrap() error {
	return e.Err
}

// Is matches any BaseError carrying the same code, so sentinel values can
// be used with errors.Is.
func (e BaseError) Is(target error) bool {
	var t BaseError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func (e BaseError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.messageWithErr())
}

func (e BaseError) messageWithErr() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

type Option func(*BaseError)

func WithDetails(details ...Detail) Option {
	return func(be *BaseError) { be.Details = details }
}

func WithErr(err error) Option {
	return func(be *BaseError) { be.Err = err }
}

func New(code CoreStatus, message string, opts ...Option) error {
	be := BaseError{Code: code, Message: message}
	for _, opt := range opts {
		opt(&be)
	}
	return be
}

func newWithErr(code CoreStatus, msg string, err error, options []Option) error {
	if err != nil {
		options = append([]Option{WithErr(err)}, options...)
	}
	return New(code, msg, options...)
}

// CodeOf returns the CoreStatus carried by err, StatusUnknown otherwise.
func CodeOf(err error) CoreStatus {
	var be BaseError
	if errors.As(err, &be) {
		return be.Code
	}
	return StatusUnknown
}

func NotFound(msg string, err error, options ...Option) error {
	return newWithErr(StatusNotFound, msg, err, options)
}

func UnprocessableEntity(msg string, err error, options ...Option) error {
	return newWithErr(StatusUnprocessableEntity, msg, err, options)
}

func Conflict(msg string, err error, options ...Option) error {
	return newWithErr(StatusConflict, msg, err, options)
}

func BadRequest(msg string, err error, options ...Option) error {
	return newWithErr(StatusBadRequest, msg, err, options)
}

func ValidationFailed(msg string, err error, options ...Option) error {
	return newWithErr(StatusValidationFailed, msg, err, options)
}

func Internal(msg string, err error, options ...Option) error {
	return newWithErr(StatusInternal, msg, err, options)
}

func Unauthorized(msg string, err error, options ...Option) error {
	return newWithErr(StatusUnauthorized, msg, err, options)
}

func Forbidden(msg string, err error, options ...Option) error {
	return newWithErr(StatusForbidden, msg, err, options)
}

func ServiceUnavailable(msg string, err error, options ...Option) error {
	return newWithErr(StatusServiceUnavailable, msg, err, options)
}

// Indeterminate reports a mutation whose outcome is unknown to the caller:
// the gateway may have committed it before the wait ended.
func Indeterminate(msg string, err error, options ...Option) error {
	return newWithErr(StatusIndeterminate, msg, err, options)
}

var (
	ErrNotEntitled    = New(StatusNotEntitled, "no completed, paid order entitles this buyer to the product")
	ErrTokenNotFound  = New(StatusTokenNotFound, "download link is invalid")
	ErrTokenExpired   = New(StatusTokenExpired, "download link has expired, request a new one from your purchases")
	ErrTokenExhausted = New(StatusTokenExhausted, "download limit reached for this link, request a new one from your purchases")
	ErrTokenRevoked   = New(StatusTokenRevoked, "download link was revoked")

	ErrLicenseNotFound        = New(StatusLicenseNotFound, "license key not recognised")
	ErrDuplicateLicense       = New(StatusDuplicateLicense, "a license was already generated for this order")
	ErrActivationLimitReached = New(StatusActivationLimitReached, "activation limit reached, deactivate a device first")
	ErrDeviceNotFound         = New(StatusDeviceNotFound, "device is not activated on this license")
	ErrInvalidTransition      = New(StatusInvalidTransition, "license status does not allow this operation")
	ErrLicenseExpired         = New(StatusLicenseExpired, "license has expired, renew it to keep using the product")

	ErrRateProviderUnavailable = New(StatusRateProviderUnavailable, "exchange rate provider unavailable")
	ErrUnknownCurrency         = New(StatusUnknownCurrency, "currency is not supported")

	ErrIdempotencyConflict = New(StatusIdempotencyConflict, "idempotency key was already used for a different request")
)

// Wrap attaches a cause and optional details to one of the sentinel errors
// while keeping its code and message.
func Wrap(sentinel error, err error, options ...Option) error {
	var be BaseError
	if !errors.As(sentinel, &be) {
		return sentinel
	}
	if err != nil {
		be.Err = err
	}
	for _, opt := range options {
		opt(&be)
	}
	return be
}
