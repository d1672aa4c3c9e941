package errutil

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GRPCCode converts the CoreStatus to its closest gRPC status code equivalent.
func (s CoreStatus) GRPCCode() codes.Code {
	switch s {
	case StatusUnauthorized:
		return codes.Unauthenticated
	case StatusForbidden, StatusNotEntitled:
		return codes.PermissionDenied
	case StatusNotFound, StatusTokenNotFound, StatusLicenseNotFound, StatusDeviceNotFound:
		return codes.NotFound
	case StatusTimeout, StatusGatewayTimeout, StatusIndeterminate:
		return codes.DeadlineExceeded
	case StatusUnprocessableEntity, StatusInvalidTransition, StatusTokenExpired, StatusTokenRevoked,
		StatusLicenseExpired:
		return codes.FailedPrecondition
	case StatusUnsupportedMediaType, StatusBadRequest, StatusValidationFailed, StatusUnknownCurrency:
		return codes.InvalidArgument
	case StatusConflict, StatusDuplicateLicense, StatusIdempotencyConflict:
		return codes.AlreadyExists
	case StatusTooManyRequests, StatusTokenExhausted, StatusActivationLimitReached:
		return codes.ResourceExhausted
	case StatusClientClosedRequest:
		return codes.Canceled
	case StatusNotImplemented:
		return codes.Unimplemented
	case StatusBadGateway, StatusServiceUnavailable, StatusRateProviderUnavailable:
		return codes.Unavailable
	case StatusInternal:
		return codes.Internal
	default:
		return codes.Unknown
	}
}

// ToGRPCError normalises a domain error into a gRPC status error so handlers can
// safely return it to the transport layer.
func ToGRPCError(err error) error {
	if err == nil {
		return nil
	}

	if _, ok := status.FromError(err); ok {
		return err
	}

	if errors.Is(err, context.Canceled) {
		return status.Error(codes.Canceled, err.Error())
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, err.Error())
	}

	var base BaseError
	if errors.As(err, &base) {
		return status.Error(base.Code.GRPCCode(), base.Message)
	}

	return status.Error(codes.Internal, err.Error())
}
