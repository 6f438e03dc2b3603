package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/quantsignal/recengine/internal/domain"
)

// Static serves prices from a fixed in-memory table, keyed by ticker and
// date. Used in tests and offline runs.
type Static struct {
	prices map[string]map[string]float64
	source string
}

// NewStatic creates an empty static provider.
func NewStatic(source string) *Static {
	return &Static{
		prices: make(map[string]map[string]float64),
		source: source,
	}
}

// Set records a close for ticker on date.
func (s *Static) Set(ticker string, date time.Time, close float64) {
	key := date.Format("2006-01-02")
	if s.prices[ticker] == nil {
		s.prices[ticker] = make(map[string]float64)
	}
	s.prices[ticker][key] = close
}

func (s *Static) lookup(ticker string, date time.Time) (float64, string, error) {
	if close, ok := s.prices[ticker][date.Format("2006-01-02")]; ok {
		return close, s.source, nil
	}
	return 0, "", fmt.Errorf("%w: %s @ %s", domain.ErrPriceUnavailable, ticker, date.Format("2006-01-02"))
}

// ResolveAnchorPrice implements the anchor resolver boundary.
func (s *Static) ResolveAnchorPrice(ctx context.Context, ticker string, date time.Time) (float64, string, error) {
	return s.lookup(ticker, date)
}

// GetCurrentPrice implements the evaluation price boundary.
func (s *Static) GetCurrentPrice(ctx context.Context, ticker string, asOf time.Time) (float64, string, error) {
	return s.lookup(ticker, asOf)
}
