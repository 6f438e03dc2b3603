// Package lifecycle implements the recommendation lifecycle engine: the
// creation protocol, the transition executor, and the read-only query
// surface. All writes to recommendation state go through this package.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/quantsignal/recengine/internal/domain"
	"github.com/quantsignal/recengine/internal/domain/calendar"
	"github.com/quantsignal/recengine/internal/metrics"
	"github.com/quantsignal/recengine/internal/persistence"
)

// Reason codes recorded on state events and archive_reason.
const (
	ReasonScanEntry   = "scan_entry"
	ReasonReplaced    = "replaced"
	ReasonHardStop    = "hard_stop"
	ReasonSoftWarning = "soft_warning"
	ReasonRecovered   = "recovered"
	ReasonTTLExpired  = "ttl_expired"
	ReasonPostBreak   = "post_break"
)

// AnchorResolver supplies the baseline closing price for a trading date.
// External collaborator; the engine never fetches prices on its own.
type AnchorResolver interface {
	ResolveAnchorPrice(ctx context.Context, ticker string, date time.Time) (price float64, source string, err error)
}

// Candidate is one scan-cycle tuple handed to the creation protocol.
type Candidate struct {
	Ticker     string
	Name       string
	ScanDate   time.Time
	Strategy   string
	Score      float64
	ScoreLabel string
	Indicators domain.Indicators
	Flags      domain.Flags
	Details    domain.Details
}

// Engine is the sole writer of recommendation state. Safe for concurrent
// use from multiple processes: all read-before-write paths take row locks,
// and the partial unique index backstops the one-ACTIVE-per-ticker
// invariant at commit time.
type Engine struct {
	db      *sqlx.DB
	repos   *persistence.Repository
	anchors AnchorResolver
	cfg     Config
	cal     calendar.Calendar
	log     zerolog.Logger
	now     func() time.Time
}

// New creates an engine. The config is fixed for the engine's lifetime.
func New(db *sqlx.DB, repos *persistence.Repository, anchors AnchorResolver, cfg Config, logger zerolog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid lifecycle config: %w", err)
	}
	cal, err := cfg.Calendar()
	if err != nil {
		return nil, err
	}
	return &Engine{
		db:      db,
		repos:   repos,
		anchors: anchors,
		cfg:     cfg,
		cal:     cal,
		log:     logger.With().Str("component", "lifecycle").Logger(),
		now:     time.Now,
	}, nil
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config { return e.cfg }

// Calendar returns the engine's trading calendar.
func (e *Engine) Calendar() calendar.Calendar { return e.cal }

// CreateRecommendation runs the creation protocol in one transaction:
// resolve the anchor price, enforce cooldown, retire any prior ACTIVE row
// as REPLACED, insert the new ACTIVE row, and append the creation event.
// All-or-nothing: a failure at any step leaves no partial row.
func (e *Engine) CreateRecommendation(ctx context.Context, cand Candidate) (string, error) {
	anchorDate := e.cal.AnchorDay(cand.ScanDate)
	price, source, err := e.anchors.ResolveAnchorPrice(ctx, cand.Ticker, anchorDate)
	if err != nil {
		return "", fmt.Errorf("%w: %s @ %s: %v",
			domain.ErrPriceUnavailable, cand.Ticker, anchorDate.Format("2006-01-02"), err)
	}

	tx, err := e.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if e.cfg.CooldownDays > 0 {
		lastBroken, err := e.repos.Recommendations.LatestBrokenAt(ctx, tx, cand.Ticker)
		if err != nil {
			return "", err
		}
		if lastBroken != nil {
			if remaining := e.cal.CooldownRemaining(*lastBroken, cand.ScanDate, e.cfg.CooldownDays); remaining > 0 {
				metrics.CooldownBlocks.Inc()
				return "", &domain.CooldownError{Ticker: cand.Ticker, RemainingDays: remaining}
			}
		}
	}

	newID := uuid.New().String()
	now := e.now().UTC()

	prior, err := e.repos.Recommendations.ActiveForUpdate(ctx, tx, cand.Ticker)
	if err != nil {
		return "", err
	}
	if prior != nil {
		// The new anchor price doubles as the evaluation input for the
		// retiring row: same ticker, same trading date.
		snap := &domain.EvalSnapshot{
			Price:       price,
			ReturnPct:   domain.ReturnPct(prior.AnchorClose, price),
			Source:      source,
			EvaluatedAt: now,
		}
		err := e.applyTransition(ctx, tx, prior, domain.StatusReplaced,
			ReasonReplaced, fmt.Sprintf("superseded by %s", newID), snap, &newID, now)
		if err != nil {
			return "", err
		}
	}

	rec := &persistence.Recommendation{
		ID:              newID,
		Ticker:          cand.Ticker,
		Name:            cand.Name,
		AnchorDate:      anchorDate,
		AnchorClose:     price,
		AnchorSource:    source,
		Strategy:        cand.Strategy,
		Score:           cand.Score,
		ScoreLabel:      cand.ScoreLabel,
		Indicators:      cand.Indicators,
		Flags:           cand.Flags,
		Details:         cand.Details,
		Status:          domain.StatusActive,
		StatusChangedAt: now,
		CreatedAt:       now,
	}
	if err := e.repos.Recommendations.Insert(ctx, tx, rec); err != nil {
		return "", err
	}

	creation := &persistence.StateEvent{
		RecommendationID: newID,
		FromStatus:       nil,
		ToStatus:         domain.StatusActive,
		OccurredAt:       now,
		ReasonCode:       ReasonScanEntry,
		ReasonText:       cand.ScoreLabel,
		Metadata: &domain.EvalSnapshot{
			Price:       price,
			Source:      source,
			EvaluatedAt: now,
		},
	}
	if err := e.repos.Events.Append(ctx, tx, creation); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("%w: %s", domain.ErrAlreadyActive, cand.Ticker)
		}
		return "", fmt.Errorf("failed to commit creation: %w", err)
	}

	if prior != nil {
		metrics.Transitions.WithLabelValues(string(prior.Status), string(domain.StatusReplaced)).Inc()
	}
	metrics.Creations.Inc()
	e.log.Info().
		Str("id", newID).
		Str("ticker", cand.Ticker).
		Str("strategy", cand.Strategy).
		Float64("anchor_close", price).
		Str("anchor_date", anchorDate.Format("2006-01-02")).
		Bool("replaced_prior", prior != nil).
		Msg("recommendation created")
	return newID, nil
}

// Transition is the transition executor and the only write entry point for
// the evaluation scheduler. Requesting the current status again is an
// idempotent no-op: (false, nil), no event. A forbidden edge is rejected
// without mutation and must not be retried.
func (e *Engine) Transition(ctx context.Context, id string, to domain.Status, reasonCode, reasonText string, snap *domain.EvalSnapshot) (bool, error) {
	if _, err := domain.ParseStatus(string(to)); err != nil {
		return false, err
	}

	tx, err := e.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rec, err := e.repos.Recommendations.GetForUpdate(ctx, tx, id)
	if err != nil {
		return false, err
	}

	if rec.Status == to {
		return false, nil
	}
	if !domain.IsAllowed(rec.Status, to) {
		metrics.InvalidTransitions.Inc()
		e.log.Error().
			Str("id", id).
			Str("ticker", rec.Ticker).
			Str("from", string(rec.Status)).
			Str("to", string(to)).
			Str("reason_code", reasonCode).
			Msg("forbidden transition rejected; do not retry")
		return false, &domain.InvalidTransitionError{From: rec.Status, To: to}
	}

	now := e.now().UTC()
	if err := e.applyTransition(ctx, tx, rec, to, reasonCode, reasonText, snap, nil, now); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transition: %w", err)
	}

	metrics.Transitions.WithLabelValues(string(rec.Status), string(to)).Inc()
	e.log.Info().
		Str("id", id).
		Str("ticker", rec.Ticker).
		Str("from", string(rec.Status)).
		Str("to", string(to)).
		Str("reason_code", reasonCode).
		Msg("transition applied")
	return true, nil
}

// applyTransition mutates an already-locked row and appends exactly one
// state event, inside the caller's transaction. Terminal snapshots are
// frozen here: a row that passed through BROKEN archives with its break
// snapshot carried forward, never recomputed against a later price.
func (e *Engine) applyTransition(ctx context.Context, tx *sqlx.Tx, rec *persistence.Recommendation, to domain.Status, reasonCode, reasonText string, snap *domain.EvalSnapshot, replacedBy *string, now time.Time) error {
	upd := persistence.StatusUpdate{
		ID:              rec.ID,
		Status:          to,
		StatusChangedAt: now,
		ReplacedBy:      replacedBy,
	}

	switch to {
	case domain.StatusBroken:
		if snap == nil {
			return fmt.Errorf("transition to BROKEN requires an evaluation snapshot")
		}
		ret := snap.ReturnPct
		upd.BrokenAt = &now
		upd.BrokenReturnPct = &ret

	case domain.StatusArchived, domain.StatusReplaced:
		reason := reasonCode
		upd.ArchiveReason = &reason
		upd.ArchivedAt = &now

		if rec.BrokenAt != nil && rec.BrokenReturnPct != nil {
			ret := *rec.BrokenReturnPct
			price := rec.AnchorClose * (1 + ret/100)
			phase := domain.ClassifyPhase(ret, e.cfg.NeutralBandPct)
			upd.ArchiveReturnPct = &ret
			upd.ArchivePrice = &price
			upd.ArchivePhase = &phase
		} else if snap != nil {
			ret := snap.ReturnPct
			price := snap.Price
			phase := domain.ClassifyPhase(ret, e.cfg.NeutralBandPct)
			upd.ArchiveReturnPct = &ret
			upd.ArchivePrice = &price
			upd.ArchivePhase = &phase
		}
	}

	if err := e.repos.Recommendations.ApplyStatus(ctx, tx, upd); err != nil {
		return err
	}

	from := rec.Status
	ev := &persistence.StateEvent{
		RecommendationID: rec.ID,
		FromStatus:       &from,
		ToStatus:         to,
		OccurredAt:       now,
		ReasonCode:       reasonCode,
		ReasonText:       reasonText,
		Metadata:         snap,
	}
	return e.repos.Events.Append(ctx, tx, ev)
}

// AugmentFlags lets the evaluation cycle add evaluation-derived markers to
// a row's flags without touching its committed status. No-op when the
// mutation leaves the flags unchanged.
func (e *Engine) AugmentFlags(ctx context.Context, id string, mutate func(*domain.Flags)) error {
	tx, err := e.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rec, err := e.repos.Recommendations.GetForUpdate(ctx, tx, id)
	if err != nil {
		return err
	}

	flags := rec.Flags
	mutate(&flags)
	if flags == rec.Flags {
		return nil
	}

	if err := e.repos.Recommendations.UpdateFlags(ctx, tx, id, flags); err != nil {
		return err
	}
	return tx.Commit()
}

// Read-only query surface.

// GetByID returns one recommendation, or domain.ErrNotFound.
func (e *Engine) GetByID(ctx context.Context, id string) (*persistence.Recommendation, error) {
	return e.repos.Recommendations.GetByID(ctx, e.db, id)
}

// CurrentByTicker returns the most recent recommendation for a ticker.
func (e *Engine) CurrentByTicker(ctx context.Context, ticker string) (*persistence.Recommendation, error) {
	return e.repos.Recommendations.CurrentByTicker(ctx, e.db, ticker)
}

// ListByStatus returns recommendations in any of the given statuses.
func (e *Engine) ListByStatus(ctx context.Context, statuses ...domain.Status) ([]persistence.Recommendation, error) {
	return e.repos.Recommendations.ListByStatus(ctx, e.db, statuses...)
}

// History returns the full state-event ledger for a recommendation.
func (e *Engine) History(ctx context.Context, id string) ([]persistence.StateEvent, error) {
	if _, err := e.repos.Recommendations.GetByID(ctx, e.db, id); err != nil {
		return nil, err
	}
	return e.repos.Events.ListByRecommendation(ctx, e.db, id)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
