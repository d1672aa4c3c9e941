package rates

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"payhuk-core/pkg/config"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// Provider fetches the latest rates for a base currency.
type Provider interface {
	Fetch(ctx context.Context, base string) (*ExchangeRateSet, error)
}

type providerResponse struct {
	Base      string                     `json:"base"`
	Timestamp int64                      `json:"timestamp"`
	Rates     map[string]decimal.Decimal `json:"rates"`
}

type HTTPProvider struct {
	client *resty.Client
	url    string
}

func NewHTTPProvider(cfg *config.Config) *HTTPProvider {
	timeout := cfg.Rates.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetHeader("Accept", "application/json")
	return &HTTPProvider{client: client, url: cfg.Rates.ProviderURL}
}

func (p *HTTPProvider) Fetch(ctx context.Context, base string) (*ExchangeRateSet, error) {
	if p.url == "" {
		return nil, errors.New("rate provider url not configured")
	}

	var body providerResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParam("base", base).
		SetResult(&body).
		Get(p.url)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("rate provider returned %s", resp.Status())
	}

	if !strings.EqualFold(body.Base, base) {
		return nil, fmt.Errorf("rate provider answered for base %q, want %q", body.Base, base)
	}

	fetchedAt := time.Now().UTC()
	if body.Timestamp > 0 {
		fetchedAt = time.Unix(body.Timestamp, 0).UTC()
	}

	rates := make(map[string]decimal.Decimal, len(body.Rates))
	for code, r := range body.Rates {
		rates[strings.ToUpper(code)] = r
	}

	return &ExchangeRateSet{
		BaseCurrency: strings.ToUpper(body.Base),
		Rates:        rates,
		FetchedAt:    fetchedAt,
		Source:       SourceLive,
	}, nil
}
