package rates

import (
	"time"

	"github.com/shopspring/decimal"
)

type Source string

const (
	SourceLive     Source = "live"
	SourceFallback Source = "fallback"
	SourceSnapshot Source = "snapshot"
)

// ExchangeRateSet maps currency codes to how many units of that currency
// one unit of BaseCurrency buys. A set is immutable once published.
type ExchangeRateSet struct {
	BaseCurrency string                     `json:"base_currency"`
	Rates        map[string]decimal.Decimal `json:"rates"`
	FetchedAt    time.Time                  `json:"fetched_at"`
	Source       Source                     `json:"source"`
}

func (s *ExchangeRateSet) Rate(code string) (decimal.Decimal, bool) {
	if s == nil {
		return decimal.Decimal{}, false
	}
	r, ok := s.Rates[code]
	return r, ok
}

// Codes returns the currencies the set covers.
func (s *ExchangeRateSet) Codes() []string {
	out := make([]string, 0, len(s.Rates))
	for code := range s.Rates {
		out = append(out, code)
	}
	return out
}

// DefaultFallback is used when no fallback table is configured. Base XOF;
// XAF and EUR follow the fixed CFA franc peg.
var DefaultFallback = map[string]float64{
	"XOF": 1,
	"XAF": 1,
	"EUR": 0.00152449,
	"USD": 0.00165,
	"GBP": 0.0013,
	"CAD": 0.00226,
	"NGN": 2.55,
	"GHS": 0.0253,
	"MAD": 0.0165,
}
