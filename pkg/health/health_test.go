package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"payhuk-core/services/testutil"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/health/grpc_health_v1"
)

func TestCheck_DatabaseUp(t *testing.T) {
	h := ProvideHealth(HealthParams{DB: testutil.NewTestDB(t)})

	got := h.Check(context.Background())
	require.Equal(t, StatusHealthy, got.Status)
	require.Len(t, got.Deps, 1)
	require.Equal(t, "database", got.Deps[0].Name)
}

func TestCheck_RedisDownDegrades(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })

	h := ProvideHealth(HealthParams{DB: testutil.NewTestDB(t), Redis: rdb})

	got := h.Check(context.Background())
	require.Equal(t, StatusDegraded, got.Status)
	require.True(t, got.Ready())
}

func TestReadiness_DatabaseDown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := testutil.NewTestDB(t)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	h := ProvideHealth(HealthParams{DB: db})
	r := gin.New()
	r.GET("/readyz", h.Readiness)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body Health
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, StatusUnhealthy, body.Status)

	resp, err := (&grpcHealth{svc: h}).Check(context.Background(), &grpc_health_v1.HealthCheckRequest{})
	require.NoError(t, err)
	require.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, resp.Status)
}
