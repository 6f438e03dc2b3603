// Package provider implements the external price interfaces consumed by
// the engine and the evaluation scheduler. Prices are never fetched by the
// engine itself; this package is the boundary.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/quantsignal/recengine/internal/domain"
)

// Config configures the HTTP price provider.
type Config struct {
	BaseURL     string        `yaml:"base_url"`
	Timeout     time.Duration `yaml:"timeout"`
	RatePerSec  float64       `yaml:"rate_per_sec"`
	Burst       int           `yaml:"burst"`
	MaxFailures uint32        `yaml:"max_failures"`
}

// DefaultConfig returns conservative client defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:     10 * time.Second,
		RatePerSec:  5,
		Burst:       10,
		MaxFailures: 5,
	}
}

// HTTPProvider resolves prices from an EOD price service over HTTP, with a
// client-side rate limit and a circuit breaker around the upstream.
type HTTPProvider struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

// NewHTTPProvider creates an HTTP price provider.
func NewHTTPProvider(cfg Config, logger zerolog.Logger) *HTTPProvider {
	settings := gobreaker.Settings{
		Name:    "price-provider",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
	}
	return &HTTPProvider{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		breaker: gobreaker.NewCircuitBreaker(settings),
		log:     logger.With().Str("component", "price_provider").Logger(),
	}
}

type priceResponse struct {
	Ticker string  `json:"ticker"`
	Date   string  `json:"date"`
	Close  float64 `json:"close"`
	Source string  `json:"source"`
}

// ResolveAnchorPrice returns the closing price for ticker on the given
// trading date, with its provenance.
func (p *HTTPProvider) ResolveAnchorPrice(ctx context.Context, ticker string, date time.Time) (float64, string, error) {
	return p.fetch(ctx, ticker, date)
}

// GetCurrentPrice returns the latest close for ticker as of the given date.
func (p *HTTPProvider) GetCurrentPrice(ctx context.Context, ticker string, asOf time.Time) (float64, string, error) {
	return p.fetch(ctx, ticker, asOf)
}

func (p *HTTPProvider) fetch(ctx context.Context, ticker string, date time.Time) (float64, string, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return 0, "", fmt.Errorf("rate limiter: %w", err)
	}

	url := fmt.Sprintf("%s/prices/%s?date=%s", p.cfg.BaseURL, ticker, date.Format("2006-01-02"))
	result, err := p.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := p.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s @ %s", domain.ErrPriceUnavailable, ticker, date.Format("2006-01-02"))
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("price service returned %d for %s", resp.StatusCode, ticker)
		}

		var pr priceResponse
		if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
			return nil, fmt.Errorf("failed to decode price response: %w", err)
		}
		return &pr, nil
	})
	if err != nil {
		p.log.Warn().Err(err).Str("ticker", ticker).Msg("price fetch failed")
		return 0, "", err
	}

	pr := result.(*priceResponse)
	if pr.Close <= 0 {
		return 0, "", fmt.Errorf("%w: %s @ %s: non-positive close", domain.ErrPriceUnavailable, ticker, date.Format("2006-01-02"))
	}
	return pr.Close, pr.Source, nil
}
