package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/quantsignal/recengine/internal/domain"
	"github.com/quantsignal/recengine/internal/persistence"
)

// eventsRepo implements StateEventsRepo for PostgreSQL. The table is
// append-only: this repo has no update or delete statements.
type eventsRepo struct {
	timeout time.Duration
}

// NewStateEventsRepo creates a PostgreSQL state-event ledger repository.
func NewStateEventsRepo(timeout time.Duration) persistence.StateEventsRepo {
	return &eventsRepo{timeout: timeout}
}

func (r *eventsRepo) Append(ctx context.Context, q sqlx.ExtContext, ev *persistence.StateEvent) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var metadataJSON []byte
	if ev.Metadata != nil {
		var err error
		if metadataJSON, err = json.Marshal(ev.Metadata); err != nil {
			return fmt.Errorf("failed to marshal event metadata: %w", err)
		}
	}

	var fromStatus *string
	if ev.FromStatus != nil {
		s := string(*ev.FromStatus)
		fromStatus = &s
	}

	query := `
		INSERT INTO state_events (
			recommendation_id, from_status, to_status, occurred_at,
			reason_code, reason_text, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := q.ExecContext(ctx, query,
		ev.RecommendationID, fromStatus, ev.ToStatus, ev.OccurredAt,
		ev.ReasonCode, ev.ReasonText, metadataJSON)
	if err != nil {
		return fmt.Errorf("failed to append state event: %w", err)
	}
	return nil
}

func (r *eventsRepo) ListByRecommendation(ctx context.Context, q sqlx.ExtContext, id string) ([]persistence.StateEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, recommendation_id, from_status, to_status, occurred_at,
		       reason_code, reason_text, metadata
		FROM state_events
		WHERE recommendation_id = $1
		ORDER BY occurred_at ASC, id ASC`

	rows, err := q.QueryxContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query state events: %w", err)
	}
	defer rows.Close()

	var events []persistence.StateEvent
	for rows.Next() {
		var (
			ev           persistence.StateEvent
			fromStatus   *string
			toStatus     string
			metadataJSON []byte
		)
		err := rows.Scan(
			&ev.ID, &ev.RecommendationID, &fromStatus, &toStatus, &ev.OccurredAt,
			&ev.ReasonCode, &ev.ReasonText, &metadataJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to scan state event: %w", err)
		}
		if fromStatus != nil {
			s := domain.Status(*fromStatus)
			ev.FromStatus = &s
		}
		ev.ToStatus = domain.Status(toStatus)
		if len(metadataJSON) > 0 {
			var snap domain.EvalSnapshot
			if err := json.Unmarshal(metadataJSON, &snap); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event metadata: %w", err)
			}
			ev.Metadata = &snap
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating state events: %w", err)
	}
	return events, nil
}
