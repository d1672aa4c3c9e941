package sequence

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"payhuk-core/pkg/rediskey"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("sequence",
	fx.Provide(NewRedisGenerator),
)

type Generator interface {
	NextLicenseKey(ctx context.Context, prefix string) (string, error)
}

type RedisGenerator struct {
	rdb *redis.Client
	now func() time.Time
}

type Params struct {
	fx.In

	Redis *redis.Client
}

func NewRedisGenerator(p Params) Generator {
	return &RedisGenerator{
		rdb: p.Redis,
		now: time.Now,
	}
}

// NextLicenseKey returns keys shaped like PHK-250301-0001-AB3D-9KQ2-7MXP:
// prefix, UTC day, a per-day base36 counter and twelve random characters.
// When Redis is unreachable the counter is replaced by random characters;
// the unique index on license_key still rejects a collision.
func (g *RedisGenerator) NextLicenseKey(ctx context.Context, prefix string) (string, error) {
	day := g.now().UTC().Format("060102")

	counter, err := g.nextDaily(ctx, rediskey.BuildLicenseSeqKey(prefix, day))
	if err != nil {
		zap.L().Warn("[Sequence] redis unavailable, using random counter", zap.Error(err))
		if counter, err = randomAlphaNumeric(4); err != nil {
			return "", err
		}
	}

	suffix, err := randomAlphaNumeric(12)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s-%s-%s-%s-%s-%s", prefix, day, counter, suffix[:4], suffix[4:8], suffix[8:]), nil
}

func (g *RedisGenerator) nextDaily(ctx context.Context, key string) (string, error) {
	seq, err := g.rdb.Incr(ctx, key).Result()
	if err != nil {
		return "", err
	}

	if seq == 1 {
		_ = g.rdb.Expire(ctx, key, 48*time.Hour).Err()
	}

	encoded := strings.ToUpper(strconv.FormatInt(seq, 36))
	if len(encoded) < 4 {
		encoded = strings.Repeat("0", 4-len(encoded)) + encoded
	}
	return encoded, nil
}

func randomAlphaNumeric(n int) (string, error) {
	const chars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	b := make([]byte, n)
	for i := range b {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		if err != nil {
			return "", err
		}
		b[i] = chars[num.Int64()]
	}
	return string(b), nil
}
