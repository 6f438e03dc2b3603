package lifecycle

import (
	"fmt"
	"time"

	"github.com/quantsignal/recengine/internal/domain/calendar"
)

// Config carries every tunable the engine needs, passed explicitly at
// construction. There is no runtime-mutable settings manager; changing a
// value means restarting with a new config.
type Config struct {
	// CooldownDays is the minimum trading-day gap after a BROKEN event
	// before the same ticker may be recommended again.
	CooldownDays int `yaml:"cooldown_days"`

	// DefaultTTLDays is the holding window for strategies without an
	// explicit entry in StrategyTTLDays. Zero disables TTL expiry.
	DefaultTTLDays  int            `yaml:"default_ttl_days"`
	StrategyTTLDays map[string]int `yaml:"strategy_ttl_days"`

	// HardStopPct and SoftWarningPct are return thresholds (negative
	// percentages) evaluated against the anchor price.
	HardStopPct    float64 `yaml:"hard_stop_pct"`
	SoftWarningPct float64 `yaml:"soft_warning_pct"`

	// NeutralBandPct is the ± band inside which an archive return is FLAT.
	NeutralBandPct float64 `yaml:"neutral_band_pct"`

	// BrokenLingerDays is how many trading days a BROKEN row stays visible
	// before the evaluation cycle archives it.
	BrokenLingerDays int `yaml:"broken_linger_days"`

	// Holidays are non-trading weekdays, as YYYY-MM-DD.
	Holidays []string `yaml:"holidays"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		CooldownDays:     3,
		DefaultTTLDays:   40,
		StrategyTTLDays:  map[string]int{},
		HardStopPct:      -7.0,
		SoftWarningPct:   -3.0,
		NeutralBandPct:   2.0,
		BrokenLingerDays: 2,
	}
}

// TTLFor returns the holding window for a strategy in trading days.
func (c Config) TTLFor(strategy string) int {
	if ttl, ok := c.StrategyTTLDays[strategy]; ok {
		return ttl
	}
	return c.DefaultTTLDays
}

// Calendar builds the trading calendar from the configured holiday list.
func (c Config) Calendar() (calendar.Calendar, error) {
	holidays := make([]time.Time, 0, len(c.Holidays))
	for _, raw := range c.Holidays {
		d, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return calendar.Calendar{}, fmt.Errorf("invalid holiday %q: %w", raw, err)
		}
		holidays = append(holidays, d)
	}
	return calendar.New(holidays), nil
}

// Validate rejects configs that would make the engine misbehave silently.
func (c Config) Validate() error {
	if c.CooldownDays < 0 {
		return fmt.Errorf("cooldown_days must be >= 0, got %d", c.CooldownDays)
	}
	if c.HardStopPct >= 0 {
		return fmt.Errorf("hard_stop_pct must be negative, got %.2f", c.HardStopPct)
	}
	if c.SoftWarningPct >= 0 {
		return fmt.Errorf("soft_warning_pct must be negative, got %.2f", c.SoftWarningPct)
	}
	if c.SoftWarningPct <= c.HardStopPct {
		return fmt.Errorf("soft_warning_pct (%.2f) must be above hard_stop_pct (%.2f)",
			c.SoftWarningPct, c.HardStopPct)
	}
	if c.NeutralBandPct < 0 {
		return fmt.Errorf("neutral_band_pct must be >= 0, got %.2f", c.NeutralBandPct)
	}
	return nil
}
