package errutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestSentinelsMatchWrappedErrors(t *testing.T) {
	err := Wrap(ErrActivationLimitReached, errors.New("3 of 3 used"), WithDetails(Detail{Field: "device_id", Message: "limit"}))

	require.ErrorIs(t, err, ErrActivationLimitReached)
	require.NotErrorIs(t, err, ErrDeviceNotFound)
	require.ErrorIs(t, fmt.Errorf("activate: %w", err), ErrActivationLimitReached)
	require.Equal(t, StatusActivationLimitReached, CodeOf(err))

	var be BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, "activation limit reached, deactivate a device first", be.Message)
	require.Len(t, be.Details, 1)
}

func TestJSONOmitsCause(t *testing.T) {
	err := Wrap(ErrRateProviderUnavailable, errors.New("dial tcp 10.0.0.7:443: i/o timeout"))

	var be BaseError
	require.True(t, errors.As(err, &be))
	b, jerr := json.Marshal(be.JSON())
	require.NoError(t, jerr)
	require.NotContains(t, string(b), "10.0.0.7")
	require.Contains(t, string(b), `"retryable":true`)
}

func TestHTTPStatus(t *testing.T) {
	cases := map[CoreStatus]int{
		StatusNotEntitled:             http.StatusForbidden,
		StatusTokenExpired:            http.StatusGone,
		StatusTokenExhausted:          http.StatusGone,
		StatusTokenRevoked:            http.StatusGone,
		StatusLicenseExpired:          http.StatusGone,
		StatusDuplicateLicense:        http.StatusConflict,
		StatusActivationLimitReached:  http.StatusConflict,
		StatusDeviceNotFound:          http.StatusNotFound,
		StatusUnknownCurrency:         http.StatusUnprocessableEntity,
		StatusRateProviderUnavailable: http.StatusServiceUnavailable,
		StatusIndeterminate:           http.StatusGatewayTimeout,
		StatusUnknown:                 http.StatusInternalServerError,
	}
	for code, want := range cases {
		require.Equal(t, want, code.HTTPStatus(), code)
	}
}

func TestRetryable(t *testing.T) {
	require.True(t, StatusIndeterminate.Retryable())
	require.True(t, StatusRateProviderUnavailable.Retryable())
	require.False(t, StatusActivationLimitReached.Retryable())
	require.False(t, StatusNotEntitled.Retryable())
}

func TestToGRPCError(t *testing.T) {
	require.Nil(t, ToGRPCError(nil))

	st, ok := status.FromError(ToGRPCError(ErrNotEntitled))
	require.True(t, ok)
	require.Equal(t, codes.PermissionDenied, st.Code())

	st, _ = status.FromError(ToGRPCError(context.DeadlineExceeded))
	require.Equal(t, codes.DeadlineExceeded, st.Code())

	st, _ = status.FromError(ToGRPCError(errors.New("boom")))
	require.Equal(t, codes.Internal, st.Code())
}
