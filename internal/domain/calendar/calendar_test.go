package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestIsTradingDay(t *testing.T) {
	cal := New([]time.Time{day(2025, time.January, 1)})

	assert.True(t, cal.IsTradingDay(day(2025, time.January, 20)))  // Monday
	assert.False(t, cal.IsTradingDay(day(2025, time.January, 18))) // Saturday
	assert.False(t, cal.IsTradingDay(day(2025, time.January, 19))) // Sunday
	assert.False(t, cal.IsTradingDay(day(2025, time.January, 1)))  // holiday
}

func TestAnchorDay(t *testing.T) {
	cal := New(nil)

	// Trading day anchors to itself.
	assert.Equal(t, day(2025, time.January, 10), cal.AnchorDay(day(2025, time.January, 10)))
	// Weekend anchors back to Friday.
	assert.Equal(t, day(2025, time.January, 10), cal.AnchorDay(day(2025, time.January, 11)))
	assert.Equal(t, day(2025, time.January, 10), cal.AnchorDay(day(2025, time.January, 12)))
}

func TestTradingDaysBetween(t *testing.T) {
	cal := New(nil)

	tests := []struct {
		name string
		a, b time.Time
		want int
	}{
		{"same_day", day(2025, time.January, 20), day(2025, time.January, 20), 1},
		{"mon_to_wed", day(2025, time.January, 20), day(2025, time.January, 22), 3},
		{"over_weekend", day(2025, time.January, 20), day(2025, time.January, 27), 6},
		{"weekend_only", day(2025, time.January, 18), day(2025, time.January, 19), 0},
		{"reversed", day(2025, time.January, 22), day(2025, time.January, 20), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cal.TradingDaysBetween(tt.a, tt.b))
		})
	}
}

func TestTradingDaysBetween_SkipsHolidays(t *testing.T) {
	cal := New([]time.Time{day(2025, time.January, 21)})
	// Mon 20 .. Wed 22 with Tue as holiday.
	assert.Equal(t, 2, cal.TradingDaysBetween(day(2025, time.January, 20), day(2025, time.January, 22)))
}

func TestElapsedTradingDays_SameDayIsZero(t *testing.T) {
	cal := New(nil)
	assert.Equal(t, 0, cal.ElapsedTradingDays(day(2025, time.January, 20), day(2025, time.January, 20)))
	assert.Equal(t, 2, cal.ElapsedTradingDays(day(2025, time.January, 20), day(2025, time.January, 22)))
}

func TestCooldownRemaining(t *testing.T) {
	cal := New(nil)
	broken := day(2025, time.January, 20) // Monday

	// Same day: zero elapsed, fully blocked.
	assert.Equal(t, 3, cal.CooldownRemaining(broken, broken, 3))
	// Two trading days later: one remaining.
	assert.Equal(t, 1, cal.CooldownRemaining(broken, day(2025, time.January, 22), 3))
	// Five trading days later (over the weekend): satisfied.
	assert.Equal(t, 0, cal.CooldownRemaining(broken, day(2025, time.January, 27), 3))
}

func TestTTLExpired(t *testing.T) {
	cal := New(nil)
	anchor := day(2025, time.January, 10) // Friday

	require.False(t, cal.TTLExpired(anchor, anchor, 5))
	// Fri 10, Mon 13, Tue 14, Wed 15, Thu 16 = 5 trading days inclusive.
	assert.False(t, cal.TTLExpired(anchor, day(2025, time.January, 15), 5))
	assert.True(t, cal.TTLExpired(anchor, day(2025, time.January, 16), 5))
	assert.True(t, cal.TTLExpired(anchor, day(2025, time.February, 16), 5))

	// Zero TTL disables expiry.
	assert.False(t, cal.TTLExpired(anchor, day(2026, time.January, 10), 0))
}

func TestPrevNextTradingDay(t *testing.T) {
	cal := New([]time.Time{day(2025, time.January, 17)}) // Friday holiday

	// From Monday the 20th, previous trading day skips the holiday Friday
	// and the weekend back to Thursday the 16th.
	assert.Equal(t, day(2025, time.January, 16), cal.PrevTradingDay(day(2025, time.January, 20)))
	assert.Equal(t, day(2025, time.January, 20), cal.NextTradingDay(day(2025, time.January, 16)))
}
