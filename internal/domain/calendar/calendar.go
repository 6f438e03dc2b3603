// Package calendar provides trading-day arithmetic for cooldown and TTL
// decisions. Weekends and a configured holiday list are excluded; all math
// is in whole trading days, never calendar days.
package calendar

import "time"

const dayKeyFormat = "2006-01-02"

// Calendar knows which dates are trading days.
type Calendar struct {
	holidays map[string]struct{}
}

// New builds a calendar from a holiday list. Time-of-day and zone are
// ignored; only the date component matters.
func New(holidays []time.Time) Calendar {
	set := make(map[string]struct{}, len(holidays))
	for _, h := range holidays {
		set[h.Format(dayKeyFormat)] = struct{}{}
	}
	return Calendar{holidays: set}
}

// IsTradingDay reports whether d falls on a weekday that is not a holiday.
func (c Calendar) IsTradingDay(d time.Time) bool {
	switch d.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	_, holiday := c.holidays[d.Format(dayKeyFormat)]
	return !holiday
}

// PrevTradingDay returns the closest trading day strictly before d.
func (c Calendar) PrevTradingDay(d time.Time) time.Time {
	d = truncate(d)
	for {
		d = d.AddDate(0, 0, -1)
		if c.IsTradingDay(d) {
			return d
		}
	}
}

// NextTradingDay returns the closest trading day strictly after d.
func (c Calendar) NextTradingDay(d time.Time) time.Time {
	d = truncate(d)
	for {
		d = d.AddDate(0, 0, 1)
		if c.IsTradingDay(d) {
			return d
		}
	}
}

// AnchorDay resolves the trading date a scan should anchor against: the scan
// date itself when it is a trading day, otherwise the prior trading day.
func (c Calendar) AnchorDay(scanDate time.Time) time.Time {
	d := truncate(scanDate)
	if c.IsTradingDay(d) {
		return d
	}
	return c.PrevTradingDay(d)
}

// TradingDaysBetween returns the inclusive count of trading days from a
// through b. Returns 0 when b precedes a.
func (c Calendar) TradingDaysBetween(a, b time.Time) int {
	a, b = truncate(a), truncate(b)
	if b.Before(a) {
		return 0
	}
	count := 0
	for d := a; !d.After(b); d = d.AddDate(0, 0, 1) {
		if c.IsTradingDay(d) {
			count++
		}
	}
	return count
}

// ElapsedTradingDays counts trading days elapsed from a to b: the inclusive
// count minus one, so same-day elapses zero days. Never negative.
func (c Calendar) ElapsedTradingDays(a, b time.Time) int {
	n := c.TradingDaysBetween(a, b)
	if n <= 0 {
		return 0
	}
	return n - 1
}

// CooldownRemaining returns how many trading days must still pass after
// lastBroken before a new recommendation may be created. Zero means the
// cooldown is satisfied.
func (c Calendar) CooldownRemaining(lastBroken, asOf time.Time, cooldownDays int) int {
	elapsed := c.ElapsedTradingDays(lastBroken, asOf)
	if elapsed >= cooldownDays {
		return 0
	}
	return cooldownDays - elapsed
}

// TTLExpired reports whether a recommendation anchored at anchorDate has
// outlived its strategy holding window as of asOf.
func (c Calendar) TTLExpired(anchorDate, asOf time.Time, ttlDays int) bool {
	if ttlDays <= 0 {
		return false
	}
	return c.TradingDaysBetween(anchorDate, asOf) >= ttlDays
}

func truncate(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}
