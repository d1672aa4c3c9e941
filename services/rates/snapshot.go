package rates

import (
	"context"
	"encoding/json"
	"errors"

	"payhuk-core/pkg/rediskey"

	"github.com/redis/go-redis/v9"
)

// SnapshotStore keeps the last live set so a restart does not fall back
// to the static table while the provider is down.
type SnapshotStore interface {
	Load(ctx context.Context, base string) (*ExchangeRateSet, error)
	Save(ctx context.Context, set *ExchangeRateSet) error
}

type RedisSnapshotStore struct {
	rdb *redis.Client
}

func NewRedisSnapshotStore(rdb *redis.Client) *RedisSnapshotStore {
	return &RedisSnapshotStore{rdb: rdb}
}

// Load returns nil, nil when no snapshot exists.
func (s *RedisSnapshotStore) Load(ctx context.Context, base string) (*ExchangeRateSet, error) {
	b, err := s.rdb.Get(ctx, rediskey.BuildRatesKey(base)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var set ExchangeRateSet
	if err := json.Unmarshal(b, &set); err != nil {
		return nil, err
	}
	return &set, nil
}

func (s *RedisSnapshotStore) Save(ctx context.Context, set *ExchangeRateSet) error {
	b, err := json.Marshal(set)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, rediskey.BuildRatesKey(set.BaseCurrency), b, 0).Err()
}
