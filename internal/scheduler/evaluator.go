// Package scheduler runs the batch evaluation cycle: once per cycle it
// feeds current prices into the transition executor for every live
// recommendation. It never writes status directly.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantsignal/recengine/internal/domain"
	"github.com/quantsignal/recengine/internal/domain/calendar"
	"github.com/quantsignal/recengine/internal/lifecycle"
	"github.com/quantsignal/recengine/internal/metrics"
	"github.com/quantsignal/recengine/internal/persistence"
)

// nearExpiryWindow is how many trading days before TTL expiry the
// near_expiry flag is raised.
const nearExpiryWindow = 3

// Lifecycle is the slice of the engine the evaluator needs.
type Lifecycle interface {
	ListByStatus(ctx context.Context, statuses ...domain.Status) ([]persistence.Recommendation, error)
	Transition(ctx context.Context, id string, to domain.Status, reasonCode, reasonText string, snap *domain.EvalSnapshot) (bool, error)
	AugmentFlags(ctx context.Context, id string, mutate func(*domain.Flags)) error
}

// PriceSource supplies current prices. External collaborator.
type PriceSource interface {
	GetCurrentPrice(ctx context.Context, ticker string, asOf time.Time) (price float64, source string, err error)
}

// Stats summarizes one evaluation cycle.
type Stats struct {
	Evaluated int
	Applied   int
	Skipped   int
	Errors    int
}

// Evaluator drives evaluation cycles. Transitions are idempotent, so
// re-running a cycle, or overlapping with another process, is safe.
type Evaluator struct {
	lc     Lifecycle
	prices PriceSource
	cfg    lifecycle.Config
	cal    calendar.Calendar
	log    zerolog.Logger
}

// NewEvaluator creates an evaluator using the engine's config and calendar.
func NewEvaluator(lc Lifecycle, prices PriceSource, cfg lifecycle.Config, cal calendar.Calendar, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		lc:     lc,
		prices: prices,
		cfg:    cfg,
		cal:    cal,
		log:    logger.With().Str("component", "evaluator").Logger(),
	}
}

// RunCycle evaluates every live recommendation as of the given date, plus
// BROKEN rows past their linger window. Per-row failures are logged and
// counted; they never abort the cycle.
func (ev *Evaluator) RunCycle(ctx context.Context, asOf time.Time) (Stats, error) {
	start := time.Now()
	defer func() {
		metrics.EvaluationCycleSeconds.Observe(time.Since(start).Seconds())
	}()

	var stats Stats
	rows, err := ev.lc.ListByStatus(ctx,
		domain.StatusActive, domain.StatusWeakWarning, domain.StatusBroken)
	if err != nil {
		return stats, fmt.Errorf("failed to list recommendations for evaluation: %w", err)
	}

	for i := range rows {
		rec := &rows[i]
		if rec.Status == domain.StatusBroken {
			ev.archiveLingeringBroken(ctx, rec, asOf, &stats)
			continue
		}
		ev.evaluateLive(ctx, rec, asOf, &stats)
	}

	ev.log.Info().
		Time("as_of", asOf).
		Int("evaluated", stats.Evaluated).
		Int("applied", stats.Applied).
		Int("skipped", stats.Skipped).
		Int("errors", stats.Errors).
		Msg("evaluation cycle completed")
	return stats, nil
}

func (ev *Evaluator) archiveLingeringBroken(ctx context.Context, rec *persistence.Recommendation, asOf time.Time, stats *Stats) {
	stats.Evaluated++
	if rec.BrokenAt == nil {
		return
	}
	if ev.cal.ElapsedTradingDays(*rec.BrokenAt, asOf) < ev.cfg.BrokenLingerDays {
		return
	}
	// No snapshot: the executor carries the break snapshot forward.
	applied, err := ev.lc.Transition(ctx, rec.ID, domain.StatusArchived,
		lifecycle.ReasonPostBreak, "archived after break linger window", nil)
	ev.record(rec, applied, err, stats)
}

func (ev *Evaluator) evaluateLive(ctx context.Context, rec *persistence.Recommendation, asOf time.Time, stats *Stats) {
	stats.Evaluated++

	price, source, err := ev.prices.GetCurrentPrice(ctx, rec.Ticker, asOf)
	if err != nil {
		metrics.EvaluationSkips.Inc()
		stats.Skipped++
		ev.log.Warn().Err(err).Str("ticker", rec.Ticker).Msg("no current price, skipping row")
		return
	}

	ret := domain.ReturnPct(rec.AnchorClose, price)
	snap := &domain.EvalSnapshot{
		Price:       price,
		ReturnPct:   ret,
		Source:      source,
		EvaluatedAt: asOf,
	}

	ttlDays := ev.cfg.TTLFor(rec.Strategy)
	held := ev.cal.TradingDaysBetween(rec.AnchorDate, asOf)
	retired := false

	switch {
	case ret <= ev.cfg.HardStopPct:
		retired = true
		applied, err := ev.lc.Transition(ctx, rec.ID, domain.StatusBroken, lifecycle.ReasonHardStop,
			fmt.Sprintf("return %.2f%% breached hard stop %.2f%%", ret, ev.cfg.HardStopPct), snap)
		ev.record(rec, applied, err, stats)

	case ev.cal.TTLExpired(rec.AnchorDate, asOf, ttlDays):
		retired = true
		applied, err := ev.lc.Transition(ctx, rec.ID, domain.StatusArchived, lifecycle.ReasonTTLExpired,
			fmt.Sprintf("held %d trading days, ttl %d", held, ttlDays), snap)
		ev.record(rec, applied, err, stats)

	case ret <= ev.cfg.SoftWarningPct:
		if rec.Status == domain.StatusActive {
			applied, err := ev.lc.Transition(ctx, rec.ID, domain.StatusWeakWarning, lifecycle.ReasonSoftWarning,
				fmt.Sprintf("return %.2f%% below soft warning %.2f%%", ret, ev.cfg.SoftWarningPct), snap)
			ev.record(rec, applied, err, stats)
		}
		if err := ev.lc.AugmentFlags(ctx, rec.ID, func(f *domain.Flags) {
			f.SoftWarning = true
			f.AssumptionBroken = true
		}); err != nil {
			stats.Errors++
			ev.log.Warn().Err(err).Str("id", rec.ID).Msg("failed to augment flags")
		}

	case rec.Status == domain.StatusWeakWarning:
		applied, err := ev.lc.Transition(ctx, rec.ID, domain.StatusActive, lifecycle.ReasonRecovered,
			fmt.Sprintf("return %.2f%% recovered above %.2f%%", ret, ev.cfg.SoftWarningPct), snap)
		ev.record(rec, applied, err, stats)
	}

	if !retired && ttlDays > 0 && ttlDays-held <= nearExpiryWindow {
		if err := ev.lc.AugmentFlags(ctx, rec.ID, func(f *domain.Flags) {
			f.NearExpiry = true
		}); err != nil {
			stats.Errors++
			ev.log.Warn().Err(err).Str("id", rec.ID).Msg("failed to flag near expiry")
		}
	}
}

func (ev *Evaluator) record(rec *persistence.Recommendation, applied bool, err error, stats *Stats) {
	if err != nil {
		stats.Errors++
		ev.log.Error().Err(err).Str("id", rec.ID).Str("ticker", rec.Ticker).Msg("transition failed")
		return
	}
	if applied {
		stats.Applied++
	}
}
