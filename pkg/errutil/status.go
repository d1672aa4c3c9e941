package errutil

import "net/http"

type CoreStatus string

const (
	StatusUnknown              CoreStatus = "unknown"
	StatusBadRequest           CoreStatus = "bad_request"
	StatusValidationFailed     CoreStatus = "validation_failed"
	StatusUnauthorized         CoreStatus = "unauthorized"
	StatusForbidden            CoreStatus = "forbidden"
	StatusNotFound             CoreStatus = "not_found"
	StatusConflict             CoreStatus = "conflict"
	StatusUnprocessableEntity  CoreStatus = "unprocessable_entity"
	StatusUnsupportedMediaType CoreStatus = "unsupported_media_type"
	StatusTooManyRequests      CoreStatus = "too_many_requests"
	StatusClientClosedRequest  CoreStatus = "client_closed_request"
	StatusInternal             CoreStatus = "internal"
	StatusNotImplemented       CoreStatus = "not_implemented"
	StatusBadGateway           CoreStatus = "bad_gateway"
	StatusServiceUnavailable   CoreStatus = "service_unavailable"
	StatusTimeout              CoreStatus = "timeout"
	StatusGatewayTimeout       CoreStatus = "gateway_timeout"

	// Download tokens
	StatusNotEntitled    CoreStatus = "not_entitled"
	StatusTokenNotFound  CoreStatus = "token_not_found"
	StatusTokenExpired   CoreStatus = "token_expired"
	StatusTokenExhausted CoreStatus = "token_exhausted"
	StatusTokenRevoked   CoreStatus = "token_revoked"

	// Licenses
	StatusLicenseNotFound        CoreStatus = "license_not_found"
	StatusDuplicateLicense       CoreStatus = "duplicate_license"
	StatusActivationLimitReached CoreStatus = "activation_limit_reached"
	StatusDeviceNotFound         CoreStatus = "device_not_found"
	StatusInvalidTransition      CoreStatus = "invalid_transition"
	StatusLicenseExpired         CoreStatus = "license_expired"

	// Exchange rates
	StatusRateProviderUnavailable CoreStatus = "rate_provider_unavailable"
	StatusUnknownCurrency         CoreStatus = "unknown_currency"

	// The gateway may or may not have committed the mutation.
	StatusIndeterminate       CoreStatus = "indeterminate"
	StatusIdempotencyConflict CoreStatus = "idempotency_conflict"
)

func (s CoreStatus) HTTPStatus() int {
	switch s {
	case StatusBadRequest, StatusValidationFailed:
		return http.StatusBadRequest
	case StatusUnauthorized:
		return http.StatusUnauthorized
	case StatusForbidden, StatusNotEntitled:
		return http.StatusForbidden
	case StatusNotFound, StatusTokenNotFound, StatusLicenseNotFound, StatusDeviceNotFound:
		return http.StatusNotFound
	case StatusConflict, StatusDuplicateLicense, StatusActivationLimitReached,
		StatusInvalidTransition, StatusIdempotencyConflict:
		return http.StatusConflict
	case StatusTokenExpired, StatusTokenExhausted, StatusTokenRevoked, StatusLicenseExpired:
		return http.StatusGone
	case StatusUnprocessableEntity, StatusUnknownCurrency:
		return http.StatusUnprocessableEntity
	case StatusUnsupportedMediaType:
		return http.StatusUnsupportedMediaType
	case StatusTooManyRequests:
		return http.StatusTooManyRequests
	case StatusClientClosedRequest:
		return 499
	case StatusNotImplemented:
		return http.StatusNotImplemented
	case StatusBadGateway:
		return http.StatusBadGateway
	case StatusServiceUnavailable, StatusRateProviderUnavailable:
		return http.StatusServiceUnavailable
	case StatusTimeout, StatusGatewayTimeout, StatusIndeterminate:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether a caller should offer a retry instead of a
// terminal failure. Retries of mutations must reuse the idempotency key.
func (s CoreStatus) Retryable() bool {
	switch s {
	case StatusIndeterminate, StatusTimeout, StatusGatewayTimeout,
		StatusBadGateway, StatusServiceUnavailable, StatusRateProviderUnavailable,
		StatusTooManyRequests:
		return true
	default:
		return false
	}
}
