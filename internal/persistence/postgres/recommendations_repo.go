package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/quantsignal/recengine/internal/domain"
	"github.com/quantsignal/recengine/internal/persistence"
)

const recommendationColumns = `
	id, ticker, name, anchor_date, anchor_close, anchor_source,
	strategy, score, score_label, indicators, flags, details,
	status, status_changed_at, broken_at, broken_return_pct,
	archive_reason, archive_return_pct, archive_price, archive_phase, archived_at,
	replaced_by_recommendation_id, created_at`

// recommendationsRepo implements RecommendationsRepo for PostgreSQL.
type recommendationsRepo struct {
	timeout time.Duration
}

// NewRecommendationsRepo creates a PostgreSQL recommendations repository.
func NewRecommendationsRepo(timeout time.Duration) persistence.RecommendationsRepo {
	return &recommendationsRepo{timeout: timeout}
}

func (r *recommendationsRepo) Insert(ctx context.Context, q sqlx.ExtContext, rec *persistence.Recommendation) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	indicatorsJSON, flagsJSON, detailsJSON, err := marshalEvidence(rec)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO recommendations (
			id, ticker, name, anchor_date, anchor_close, anchor_source,
			strategy, score, score_label, indicators, flags, details,
			status, status_changed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err = q.ExecContext(ctx, query,
		rec.ID, rec.Ticker, rec.Name, rec.AnchorDate, rec.AnchorClose, rec.AnchorSource,
		rec.Strategy, rec.Score, rec.ScoreLabel, indicatorsJSON, flagsJSON, detailsJSON,
		rec.Status, rec.StatusChangedAt, rec.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("%w: %s", domain.ErrAlreadyActive, rec.Ticker)
		}
		return fmt.Errorf("failed to insert recommendation: %w", err)
	}

	return nil
}

func (r *recommendationsRepo) GetByID(ctx context.Context, q sqlx.ExtContext, id string) (*persistence.Recommendation, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT` + recommendationColumns + ` FROM recommendations WHERE id = $1`
	rec, err := scanRecommendation(q.QueryRowxContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get recommendation: %w", err)
	}
	return rec, nil
}

func (r *recommendationsRepo) GetForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*persistence.Recommendation, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT` + recommendationColumns + ` FROM recommendations WHERE id = $1 FOR UPDATE`
	rec, err := scanRecommendation(tx.QueryRowxContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to lock recommendation: %w", err)
	}
	return rec, nil
}

func (r *recommendationsRepo) ActiveForUpdate(ctx context.Context, tx *sqlx.Tx, ticker string) (*persistence.Recommendation, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT` + recommendationColumns + `
		FROM recommendations WHERE ticker = $1 AND status = $2 FOR UPDATE`
	rec, err := scanRecommendation(tx.QueryRowxContext(ctx, query, ticker, domain.StatusActive))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to lock active recommendation: %w", err)
	}
	return rec, nil
}

func (r *recommendationsRepo) CurrentByTicker(ctx context.Context, q sqlx.ExtContext, ticker string) (*persistence.Recommendation, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT` + recommendationColumns + `
		FROM recommendations WHERE ticker = $1
		ORDER BY created_at DESC LIMIT 1`
	rec, err := scanRecommendation(q.QueryRowxContext(ctx, query, ticker))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: ticker %s", domain.ErrNotFound, ticker)
		}
		return nil, fmt.Errorf("failed to get current recommendation: %w", err)
	}
	return rec, nil
}

func (r *recommendationsRepo) ListByStatus(ctx context.Context, q sqlx.ExtContext, statuses ...domain.Status) ([]persistence.Recommendation, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	raw := make([]string, len(statuses))
	for i, s := range statuses {
		raw[i] = string(s)
	}

	query := `SELECT` + recommendationColumns + `
		FROM recommendations WHERE status = ANY($1)
		ORDER BY created_at ASC`
	rows, err := q.QueryxContext(ctx, query, pq.Array(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to list recommendations by status: %w", err)
	}
	defer rows.Close()

	var recs []persistence.Recommendation
	for rows.Next() {
		rec, err := scanRecommendation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recommendation: %w", err)
		}
		recs = append(recs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating recommendations: %w", err)
	}
	return recs, nil
}

// ApplyStatus mutates status and status_changed_at, and sets terminal
// snapshot columns only if they are still NULL. Anchor columns are never
// part of any UPDATE statement in this package.
func (r *recommendationsRepo) ApplyStatus(ctx context.Context, q sqlx.ExtContext, upd persistence.StatusUpdate) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE recommendations SET
			status = $2,
			status_changed_at = $3,
			broken_at = COALESCE(broken_at, $4),
			broken_return_pct = COALESCE(broken_return_pct, $5),
			archive_reason = COALESCE(archive_reason, $6),
			archive_return_pct = COALESCE(archive_return_pct, $7),
			archive_price = COALESCE(archive_price, $8),
			archive_phase = COALESCE(archive_phase, $9),
			archived_at = COALESCE(archived_at, $10),
			replaced_by_recommendation_id = COALESCE(replaced_by_recommendation_id, $11)
		WHERE id = $1`

	var phase *string
	if upd.ArchivePhase != nil {
		s := string(*upd.ArchivePhase)
		phase = &s
	}

	res, err := q.ExecContext(ctx, query,
		upd.ID, upd.Status, upd.StatusChangedAt,
		upd.BrokenAt, upd.BrokenReturnPct,
		upd.ArchiveReason, upd.ArchiveReturnPct, upd.ArchivePrice, phase, upd.ArchivedAt,
		upd.ReplacedBy)
	if err != nil {
		return fmt.Errorf("failed to apply status update: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, upd.ID)
	}
	return nil
}

func (r *recommendationsRepo) UpdateFlags(ctx context.Context, q sqlx.ExtContext, id string, flags domain.Flags) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	flagsJSON, err := json.Marshal(flags)
	if err != nil {
		return fmt.Errorf("failed to marshal flags: %w", err)
	}

	res, err := q.ExecContext(ctx, `UPDATE recommendations SET flags = $2 WHERE id = $1`, id, flagsJSON)
	if err != nil {
		return fmt.Errorf("failed to update flags: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return nil
}

func (r *recommendationsRepo) LatestBrokenAt(ctx context.Context, q sqlx.ExtContext, ticker string) (*time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT broken_at FROM recommendations
		WHERE ticker = $1 AND broken_at IS NOT NULL
		ORDER BY broken_at DESC LIMIT 1`

	var brokenAt time.Time
	err := q.QueryRowxContext(ctx, query, ticker).Scan(&brokenAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query latest broken_at: %w", err)
	}
	return &brokenAt, nil
}

// Helpers

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func marshalEvidence(rec *persistence.Recommendation) (indicators, flags, details []byte, err error) {
	if indicators, err = json.Marshal(rec.Indicators); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal indicators: %w", err)
	}
	if flags, err = json.Marshal(rec.Flags); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal flags: %w", err)
	}
	if details, err = json.Marshal(rec.Details); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal details: %w", err)
	}
	return indicators, flags, details, nil
}

func scanRecommendation(row rowScanner) (*persistence.Recommendation, error) {
	var (
		rec            persistence.Recommendation
		indicatorsJSON []byte
		flagsJSON      []byte
		detailsJSON    []byte
		status         string
		archivePhase   *string
	)

	err := row.Scan(
		&rec.ID, &rec.Ticker, &rec.Name, &rec.AnchorDate, &rec.AnchorClose, &rec.AnchorSource,
		&rec.Strategy, &rec.Score, &rec.ScoreLabel, &indicatorsJSON, &flagsJSON, &detailsJSON,
		&status, &rec.StatusChangedAt, &rec.BrokenAt, &rec.BrokenReturnPct,
		&rec.ArchiveReason, &rec.ArchiveReturnPct, &rec.ArchivePrice, &archivePhase, &rec.ArchivedAt,
		&rec.ReplacedBy, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}

	rec.Status = domain.Status(status)
	if archivePhase != nil {
		phase := domain.ArchivePhase(*archivePhase)
		rec.ArchivePhase = &phase
	}
	if len(indicatorsJSON) > 0 {
		if err := json.Unmarshal(indicatorsJSON, &rec.Indicators); err != nil {
			return nil, fmt.Errorf("failed to unmarshal indicators: %w", err)
		}
	}
	if len(flagsJSON) > 0 {
		if err := json.Unmarshal(flagsJSON, &rec.Flags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal flags: %w", err)
		}
	}
	if len(detailsJSON) > 0 {
		if err := json.Unmarshal(detailsJSON, &rec.Details); err != nil {
			return nil, fmt.Errorf("failed to unmarshal details: %w", err)
		}
	}

	return &rec, nil
}
