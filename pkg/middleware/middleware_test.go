package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"payhuk-core/pkg/errutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
	zap.ReplaceGlobals(zap.NewNop())
}

func newRouter(handler gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(RequestLog(), Error())
	r.GET("/test", handler)
	return r
}

func TestError_RendersDomainCode(t *testing.T) {
	r := newRouter(func(c *gin.Context) {
		_ = c.Error(errutil.ErrActivationLimitReached)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	require.Equal(t, http.StatusConflict, w.Code)
	require.JSONEq(t, `{"error":{"code":"activation_limit_reached","message":"activation limit reached, deactivate a device first","details":null,"retryable":false}}`, w.Body.String())
}

func TestError_HidesUnknownErrors(t *testing.T) {
	r := newRouter(func(c *gin.Context) {
		_ = c.Error(errors.New("pq: connection reset by peer"))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.NotContains(t, w.Body.String(), "pq:")
}

func TestError_IndeterminateIsRetryable(t *testing.T) {
	r := newRouter(func(c *gin.Context) {
		_ = c.Error(errutil.Indeterminate("outcome unknown", nil))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	require.Equal(t, http.StatusGatewayTimeout, w.Code)
	require.Contains(t, w.Body.String(), `"retryable":true`)
}

func TestRequestLog_SetsRequestID(t *testing.T) {
	r := newRouter(func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
	require.NotEmpty(t, w.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, "req-42", w.Header().Get(RequestIDHeader))
}
