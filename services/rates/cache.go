package rates

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"payhuk-core/pkg/errutil"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	refreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rates_refresh_total",
		Help: "Exchange rate refreshes by outcome.",
	}, []string{"outcome"})
	lastRefresh = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rates_last_success_timestamp_seconds",
		Help: "Unix time of the last successful exchange rate refresh.",
	})
)

func init() {
	prometheus.MustRegister(refreshTotal, lastRefresh)
}

// Cache holds the process-wide exchange rate set. Readers load the current
// set through an atomic pointer and never wait on a refresh; concurrent
// refreshes share one provider call.
type Cache struct {
	provider  Provider
	snapshots SnapshotStore
	base      string
	fallback  *ExchangeRateSet

	current atomic.Pointer[ExchangeRateSet]
	group   singleflight.Group

	now func() time.Time
}

// NewCache starts from the fallback table so Convert works before the
// first refresh. snapshots may be nil.
func NewCache(provider Provider, snapshots SnapshotStore, base string, fallback map[string]float64) *Cache {
	base = strings.ToUpper(base)
	c := &Cache{
		provider:  provider,
		snapshots: snapshots,
		base:      base,
		now:       time.Now,
	}

	table := make(map[string]decimal.Decimal, len(fallback)+1)
	for code, r := range fallback {
		if r > 0 {
			table[strings.ToUpper(code)] = decimal.NewFromFloat(r)
		}
	}
	table[base] = decimal.NewFromInt(1)

	c.fallback = &ExchangeRateSet{
		BaseCurrency: base,
		Rates:        table,
		Source:       SourceFallback,
	}
	c.current.Store(c.fallback)
	return c
}

// Current returns the last complete set.
func (c *Cache) Current() *ExchangeRateSet {
	return c.current.Load()
}

// Refresh fetches a new set and publishes it. On failure the held set is
// left untouched and ErrRateProviderUnavailable is returned.
func (c *Cache) Refresh(ctx context.Context) (*ExchangeRateSet, error) {
	v, err, shared := c.group.Do("refresh", func() (any, error) {
		return c.refresh(context.WithoutCancel(ctx))
	})
	if shared {
		zap.L().Debug("[Rates] joined in-flight refresh")
	}
	if err != nil {
		return nil, err
	}
	return v.(*ExchangeRateSet), nil
}

func (c *Cache) refresh(ctx context.Context) (*ExchangeRateSet, error) {
	set, err := c.provider.Fetch(ctx, c.base)
	if err == nil {
		err = c.validate(set)
	}
	if err != nil {
		refreshTotal.WithLabelValues("failed").Inc()
		held := c.Current()
		zap.L().Warn("[Rates] refresh failed, keeping held set",
			zap.String("held_source", string(held.Source)),
			zap.Time("held_fetched_at", held.FetchedAt),
			zap.Error(err),
		)
		return nil, errutil.Wrap(errutil.ErrRateProviderUnavailable, err)
	}

	set.Source = SourceLive
	c.current.Store(set)
	refreshTotal.WithLabelValues("ok").Inc()
	lastRefresh.Set(float64(c.now().Unix()))
	zap.L().Info("[Rates] refreshed",
		zap.String("base", set.BaseCurrency),
		zap.Int("currencies", len(set.Rates)),
		zap.Time("fetched_at", set.FetchedAt),
	)

	if c.snapshots != nil {
		if err := c.snapshots.Save(ctx, set); err != nil {
			zap.L().Warn("[Rates] failed to save snapshot", zap.Error(err))
		}
	}
	return set, nil
}

func (c *Cache) validate(set *ExchangeRateSet) error {
	if set == nil || len(set.Rates) == 0 {
		return errors.New("empty rate set")
	}
	if !strings.EqualFold(set.BaseCurrency, c.base) {
		return fmt.Errorf("rate set base %q, want %q", set.BaseCurrency, c.base)
	}
	if r, ok := set.Rates[c.base]; !ok {
		set.Rates[c.base] = decimal.NewFromInt(1)
	} else if !r.Equal(decimal.NewFromInt(1)) {
		return fmt.Errorf("base currency %s has rate %s", c.base, r)
	}
	for code, r := range set.Rates {
		if !r.IsPositive() {
			return fmt.Errorf("non-positive rate for %s", code)
		}
	}
	if set.FetchedAt.IsZero() {
		set.FetchedAt = c.now().UTC()
	}
	return nil
}

// Warm publishes the stored snapshot when it is the best set available.
func (c *Cache) Warm(ctx context.Context) {
	if c.snapshots == nil {
		return
	}
	set, err := c.snapshots.Load(ctx, c.base)
	if err != nil {
		zap.L().Warn("[Rates] failed to load snapshot", zap.Error(err))
		return
	}
	if set == nil || c.validate(set) != nil {
		return
	}

	warm := *set
	warm.Source = SourceSnapshot
	// only replace the static table, never a live set
	if c.current.CompareAndSwap(c.fallback, &warm) {
		zap.L().Info("[Rates] warmed from snapshot", zap.Time("fetched_at", set.FetchedAt))
	}
}

// Rate resolves code against the held set, then the static table.
func (c *Cache) Rate(code string) (decimal.Decimal, error) {
	return c.rateIn(c.Current(), code)
}

func (c *Cache) rateIn(set *ExchangeRateSet, code string) (decimal.Decimal, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if r, ok := set.Rate(code); ok {
		return r, nil
	}
	if r, ok := c.fallback.Rate(code); ok {
		return r, nil
	}
	return decimal.Decimal{}, errutil.Wrap(errutil.ErrUnknownCurrency, nil, errutil.WithDetails(errutil.Detail{
		Field:   "currency",
		Message: code + " is not supported",
	}))
}

// Convert expresses amount in `from` as an amount in `to`. Both rates come
// from the same set.
func (c *Cache) Convert(amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	set := c.Current()
	fromRate, err := c.rateIn(set, from)
	if err != nil {
		return decimal.Decimal{}, err
	}
	toRate, err := c.rateIn(set, to)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if strings.EqualFold(from, to) {
		return amount, nil
	}
	return amount.Div(fromRate).Mul(toRate), nil
}
