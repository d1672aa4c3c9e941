package rates

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"payhuk-core/pkg/config"
	"payhuk-core/pkg/errutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func eurSet() *ExchangeRateSet {
	return &ExchangeRateSet{
		BaseCurrency: "EUR",
		Rates: map[string]decimal.Decimal{
			"EUR": decimal.NewFromInt(1),
			"USD": decimal.RequireFromString("1.08"),
			"XOF": decimal.RequireFromString("655.957"),
		},
		FetchedAt: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

type memorySnapshots struct {
	mu  sync.Mutex
	set *ExchangeRateSet
}

func (m *memorySnapshots) Load(ctx context.Context, base string) (*ExchangeRateSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.set, nil
}

func (m *memorySnapshots) Save(ctx context.Context, set *ExchangeRateSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set = set
	return nil
}

func TestConvert_StaleSetSurvivesFailedRefresh(t *testing.T) {
	ctrl := gomock.NewController(t)
	provider := NewMockProvider(ctrl)

	gomock.InOrder(
		provider.EXPECT().Fetch(gomock.Any(), "EUR").Return(eurSet(), nil),
		provider.EXPECT().Fetch(gomock.Any(), "EUR").Return(nil, errors.New("dial tcp: i/o timeout")),
	)

	cache := NewCache(provider, nil, "EUR", nil)
	ctx := context.Background()

	_, err := cache.Refresh(ctx)
	require.NoError(t, err)

	_, err = cache.Refresh(ctx)
	require.ErrorIs(t, err, errutil.ErrRateProviderUnavailable)

	got, err := cache.Convert(decimal.NewFromInt(100), "EUR", "USD")
	require.NoError(t, err)
	require.True(t, got.Equal(decimal.NewFromInt(108)), got.String())

	held := cache.Current()
	require.Equal(t, SourceLive, held.Source)
	require.Len(t, held.Rates, 3)
}

func TestConvert_RoundTrip(t *testing.T) {
	ctrl := gomock.NewController(t)
	provider := NewMockProvider(ctrl)
	provider.EXPECT().Fetch(gomock.Any(), "EUR").Return(eurSet(), nil)

	cache := NewCache(provider, nil, "EUR", nil)
	_, err := cache.Refresh(context.Background())
	require.NoError(t, err)

	pairs := [][2]string{{"EUR", "USD"}, {"USD", "XOF"}, {"XOF", "EUR"}}
	for _, amount := range []float64{0.01, 1, 99.99, 12500} {
		for _, p := range pairs {
			x := decimal.NewFromFloat(amount)
			there, err := cache.Convert(x, p[0], p[1])
			require.NoError(t, err)
			back, err := cache.Convert(there, p[1], p[0])
			require.NoError(t, err)
			require.InDelta(t, amount, back.InexactFloat64(), 1e-9, "%s->%s", p[0], p[1])
		}
	}
}

func TestConvert_UnknownCurrency(t *testing.T) {
	cache := NewCache(NewMockProvider(gomock.NewController(t)), nil, "XOF", DefaultFallback)

	_, err := cache.Convert(decimal.NewFromInt(1), "XOF", "ZZZ")
	require.ErrorIs(t, err, errutil.ErrUnknownCurrency)

	_, err = cache.Convert(decimal.NewFromInt(1), "QQQ", "XOF")
	require.ErrorIs(t, err, errutil.ErrUnknownCurrency)
}

func TestConvert_FallbackCoversMissingCodes(t *testing.T) {
	ctrl := gomock.NewController(t)
	provider := NewMockProvider(ctrl)
	provider.EXPECT().Fetch(gomock.Any(), "XOF").Return(&ExchangeRateSet{
		BaseCurrency: "XOF",
		Rates:        map[string]decimal.Decimal{"USD": decimal.RequireFromString("0.0017")},
	}, nil)

	cache := NewCache(provider, nil, "XOF", DefaultFallback)

	// before any refresh the static table answers
	eur, err := cache.Convert(decimal.NewFromInt(655957), "XOF", "EUR")
	require.NoError(t, err)
	require.InDelta(t, 1000, eur.InexactFloat64(), 0.01)

	_, err = cache.Refresh(context.Background())
	require.NoError(t, err)

	usd, err := cache.Convert(decimal.NewFromInt(10000), "XOF", "USD")
	require.NoError(t, err)
	require.True(t, usd.Equal(decimal.NewFromInt(17)), usd.String())

	// EUR is absent from the live set
	_, err = cache.Convert(decimal.NewFromInt(1), "XOF", "eur")
	require.NoError(t, err)
}

func TestConvert_NeverMixesSets(t *testing.T) {
	cache := NewCache(nil, nil, "EUR", nil)

	// each set alone converts 10 USD to 20 GBP; mixing them gives 10 or 40
	sets := []*ExchangeRateSet{
		{BaseCurrency: "EUR", Source: SourceLive, Rates: map[string]decimal.Decimal{
			"EUR": decimal.NewFromInt(1), "USD": decimal.NewFromInt(1), "GBP": decimal.NewFromInt(2),
		}},
		{BaseCurrency: "EUR", Source: SourceLive, Rates: map[string]decimal.Decimal{
			"EUR": decimal.NewFromInt(1), "USD": decimal.NewFromInt(2), "GBP": decimal.NewFromInt(4),
		}},
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
				cache.current.Store(sets[i%2])
			}
		}
	}()

	want := decimal.NewFromInt(20)
	for i := 0; i < 5000; i++ {
		got, err := cache.Convert(decimal.NewFromInt(10), "USD", "GBP")
		require.NoError(t, err)
		if !got.Equal(want) {
			close(stop)
			wg.Wait()
			t.Fatalf("conversion mixed two rate sets: got %s", got)
		}
	}
	close(stop)
	wg.Wait()
}

func TestRefresh_RejectsInvalidSets(t *testing.T) {
	for name, set := range map[string]*ExchangeRateSet{
		"empty":         {BaseCurrency: "EUR", Rates: map[string]decimal.Decimal{}},
		"wrong base":    {BaseCurrency: "USD", Rates: map[string]decimal.Decimal{"EUR": decimal.NewFromInt(1)}},
		"negative rate": {BaseCurrency: "EUR", Rates: map[string]decimal.Decimal{"USD": decimal.NewFromInt(-1)}},
		"base not one":  {BaseCurrency: "EUR", Rates: map[string]decimal.Decimal{"EUR": decimal.NewFromInt(2)}},
	} {
		t.Run(name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			provider := NewMockProvider(ctrl)
			provider.EXPECT().Fetch(gomock.Any(), "EUR").Return(set, nil)

			cache := NewCache(provider, nil, "EUR", map[string]float64{"USD": 1.1})
			before := cache.Current()

			_, err := cache.Refresh(context.Background())
			require.ErrorIs(t, err, errutil.ErrRateProviderUnavailable)
			require.Same(t, before, cache.Current())
		})
	}
}

func TestRefresh_ConcurrentCallsShareOneFetch(t *testing.T) {
	ctrl := gomock.NewController(t)
	provider := NewMockProvider(ctrl)

	release := make(chan struct{})
	provider.EXPECT().Fetch(gomock.Any(), "EUR").
		DoAndReturn(func(ctx context.Context, base string) (*ExchangeRateSet, error) {
			<-release
			return eurSet(), nil
		}).Times(1)

	cache := NewCache(provider, nil, "EUR", nil)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.Refresh(context.Background())
			errs <- err
		}()
	}

	// readers keep the fallback set while the refresh is blocked
	require.Equal(t, SourceFallback, cache.Current().Source)

	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.Equal(t, SourceLive, cache.Current().Source)
}

func TestWarm_UsesSnapshotOnlyOverFallback(t *testing.T) {
	ctrl := gomock.NewController(t)
	provider := NewMockProvider(ctrl)
	provider.EXPECT().Fetch(gomock.Any(), "EUR").Return(eurSet(), nil)

	snapshots := &memorySnapshots{}
	cache := NewCache(provider, snapshots, "EUR", nil)

	_, err := cache.Refresh(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snapshots.set)

	restarted := NewCache(NewMockProvider(ctrl), snapshots, "EUR", nil)
	restarted.Warm(context.Background())
	require.Equal(t, SourceSnapshot, restarted.Current().Source)

	usd, err := restarted.Convert(decimal.NewFromInt(100), "EUR", "USD")
	require.NoError(t, err)
	require.True(t, usd.Equal(decimal.NewFromInt(108)))
}

func TestHTTPProvider_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "EUR", r.URL.Query().Get("base"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"base":"EUR","timestamp":1740819600,"rates":{"EUR":1,"usd":1.08}}`))
	}))
	defer srv.Close()

	cfg := &config.Config{}
	cfg.Rates.ProviderURL = srv.URL
	cfg.Rates.Timeout = time.Second

	set, err := NewHTTPProvider(cfg).Fetch(context.Background(), "EUR")
	require.NoError(t, err)
	require.Equal(t, "EUR", set.BaseCurrency)
	require.True(t, set.Rates["USD"].Equal(decimal.RequireFromString("1.08")))
	require.Equal(t, time.Unix(1740819600, 0).UTC(), set.FetchedAt)
}

func TestHTTPProvider_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := &config.Config{}
	cfg.Rates.ProviderURL = srv.URL
	cfg.Rates.Timeout = time.Second

	cache := NewCache(NewHTTPProvider(cfg), nil, "EUR", map[string]float64{"USD": 1.1})
	_, err := cache.Refresh(context.Background())
	require.ErrorIs(t, err, errutil.ErrRateProviderUnavailable)
	require.Equal(t, SourceFallback, cache.Current().Source)
}
