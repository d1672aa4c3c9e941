package sequence

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var keyPattern = regexp.MustCompile(`^PHK-250301-[0-9A-Z]{4}-[A-Z2-9]{4}-[A-Z2-9]{4}-[A-Z2-9]{4}$`)

func TestNextLicenseKey_FallsBackWithoutRedis(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })

	g := &RedisGenerator{rdb: rdb, now: func() time.Time { return time.Date(2025, 3, 1, 23, 0, 0, 0, time.UTC) }}

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		key, err := g.NextLicenseKey(context.Background(), "PHK")
		require.NoError(t, err)
		require.Regexp(t, keyPattern, key)
		require.False(t, seen[key])
		seen[key] = true
	}
}
