package rates

import (
	"context"
	"sync"
	"time"

	"payhuk-core/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("rates.module",
	fx.Provide(
		func(cfg *config.Config) Provider { return NewHTTPProvider(cfg) },
		func(rdb *redis.Client) SnapshotStore { return NewRedisSnapshotStore(rdb) },
		newCacheFromConfig,
	),
	fx.Invoke(registerRefreshLoop),
)

func newCacheFromConfig(cfg *config.Config, provider Provider, snapshots SnapshotStore) *Cache {
	fallback := cfg.Rates.Fallback
	if len(fallback) == 0 {
		fallback = DefaultFallback
	}
	return NewCache(provider, snapshots, cfg.Rates.BaseCurrency, fallback)
}

func registerRefreshLoop(lc fx.Lifecycle, cfg *config.Config, cache *Cache) {
	interval := cfg.Rates.RefreshInterval
	if interval <= 0 {
		interval = time.Hour
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			wg.Add(1)
			go func() {
				defer wg.Done()
				RunRefreshLoop(ctx, cache, interval)
			}()
			zap.L().Info("[Rates] refresh loop started", zap.Duration("interval", interval))
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			wg.Wait()
			return nil
		},
	})
}

// RunRefreshLoop refreshes once immediately, then every interval until ctx
// is done. Failures are logged by Refresh and wait for the next tick.
func RunRefreshLoop(ctx context.Context, cache *Cache, interval time.Duration) {
	cache.Warm(ctx)
	_, _ = cache.Refresh(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = cache.Refresh(ctx)
		}
	}
}
