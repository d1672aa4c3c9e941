package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"payhuk-core/pkg/config"
	"payhuk-core/pkg/errutil"
	"payhuk-core/pkg/rediskey"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("idempotency",
	fx.Provide(
		func(rdb *redis.Client) Store { return NewRedisStore(rdb) },
		NewGuard,
	),
)

const (
	statePending   = "pending"
	stateCompleted = "completed"

	defaultTTL = 24 * time.Hour

	storeWriteTimeout = 2 * time.Second
)

type record struct {
	State  string          `json:"state"`
	Hash   string          `json:"hash"`
	Result json.RawMessage `json:"result,omitempty"`
}

// Guard replays the stored result of a mutation retried with the same
// idempotency key. It is a fast path in front of the database checks, not a
// replacement for them: when the store is unreachable the mutation still
// runs and relies on its own uniqueness constraints.
type Guard struct {
	store Store
	ttl   time.Duration
}

func NewGuard(store Store, cfg *config.Config) *Guard {
	return NewGuardWithTTL(store, cfg.Idempotency.TTL)
}

func NewGuardWithTTL(store Store, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Guard{store: store, ttl: ttl}
}

// Run executes fn at most once per (scope, actor, key). A retry carrying a
// different request under the same key fails with ErrIdempotencyConflict;
// a retry racing the first attempt gets StatusIndeterminate.
func Run[T any](ctx context.Context, g *Guard, scope, actor, key string, request any, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if g == nil || key == "" {
		return fn(ctx)
	}

	hash, err := requestHash(request)
	if err != nil {
		return zero, errutil.Internal("failed to hash request", err)
	}

	storeKey := rediskey.BuildIdempotencyKey(scope, actor, key)
	pending, _ := json.Marshal(record{State: statePending, Hash: hash})

	claimed, err := g.store.SetNX(ctx, storeKey, pending, g.ttl)
	if err != nil {
		zap.L().Warn("[Idempotency] store unavailable, running unguarded", zap.String("scope", scope), zap.Error(err))
		return fn(ctx)
	}

	if !claimed {
		return replay[T](ctx, g, storeKey, hash, scope, fn)
	}

	result, err := fn(ctx)

	// The caller may have gone away while fn ran; the key must still be
	// released or completed, or retries stay blocked for the whole ttl.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeWriteTimeout)
	defer cancel()

	if err != nil {
		if delErr := g.store.Del(wctx, storeKey); delErr != nil {
			zap.L().Warn("[Idempotency] failed to release key", zap.String("scope", scope), zap.Error(delErr))
		}
		return zero, err
	}

	payload, mErr := json.Marshal(result)
	if mErr == nil {
		done, _ := json.Marshal(record{State: stateCompleted, Hash: hash, Result: payload})
		mErr = g.store.Set(wctx, storeKey, done, g.ttl)
	}
	if mErr != nil {
		zap.L().Warn("[Idempotency] failed to record result", zap.String("scope", scope), zap.Error(mErr))
	}
	return result, nil
}

func replay[T any](ctx context.Context, g *Guard, storeKey, hash, scope string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	raw, err := g.store.Get(ctx, storeKey)
	if errors.Is(err, ErrMiss) {
		// released or expired between SetNX and Get
		return fn(ctx)
	}
	if err != nil {
		zap.L().Warn("[Idempotency] store unavailable, running unguarded", zap.String("scope", scope), zap.Error(err))
		return fn(ctx)
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return zero, errutil.Internal("corrupt idempotency record", err)
	}

	if rec.Hash != hash {
		return zero, errutil.ErrIdempotencyConflict
	}
	if rec.State != stateCompleted {
		return zero, errutil.Indeterminate("a request with this idempotency key is still in progress", nil)
	}

	var result T
	if err := json.Unmarshal(rec.Result, &result); err != nil {
		return zero, errutil.Internal("corrupt idempotency record", err)
	}
	zap.L().Debug("[Idempotency] replayed stored result", zap.String("scope", scope))
	return result, nil
}

func requestHash(request any) (string, error) {
	b, err := json.Marshal(request)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
