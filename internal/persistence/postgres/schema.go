package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Schema is the full DDL for the lifecycle store. The partial unique index
// on (ticker) WHERE status = 'ACTIVE' is the backstop for the one-live-row
// invariant: row locks prevent the race, the index makes a locking bug a
// commit-time error instead of corrupted state.
const Schema = `
CREATE TABLE IF NOT EXISTS recommendations (
    id                            UUID PRIMARY KEY,
    ticker                        TEXT NOT NULL,
    name                          TEXT NOT NULL DEFAULT '',
    anchor_date                   DATE NOT NULL,
    anchor_close                  DOUBLE PRECISION NOT NULL,
    anchor_source                 TEXT NOT NULL,
    strategy                      TEXT NOT NULL,
    score                         DOUBLE PRECISION NOT NULL,
    score_label                   TEXT NOT NULL DEFAULT '',
    indicators                    JSONB NOT NULL DEFAULT '{}',
    flags                         JSONB NOT NULL DEFAULT '{}',
    details                       JSONB NOT NULL DEFAULT '{}',
    status                        TEXT NOT NULL,
    status_changed_at             TIMESTAMPTZ NOT NULL,
    broken_at                     TIMESTAMPTZ,
    broken_return_pct             DOUBLE PRECISION,
    archive_reason                TEXT,
    archive_return_pct            DOUBLE PRECISION,
    archive_price                 DOUBLE PRECISION,
    archive_phase                 TEXT,
    archived_at                   TIMESTAMPTZ,
    replaced_by_recommendation_id UUID,
    created_at                    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS recommendations_one_active_per_ticker
    ON recommendations (ticker) WHERE status = 'ACTIVE';

CREATE INDEX IF NOT EXISTS recommendations_ticker_created_idx
    ON recommendations (ticker, created_at DESC);

CREATE INDEX IF NOT EXISTS recommendations_status_idx
    ON recommendations (status);

CREATE TABLE IF NOT EXISTS state_events (
    id                BIGSERIAL PRIMARY KEY,
    recommendation_id UUID NOT NULL REFERENCES recommendations (id),
    from_status       TEXT,
    to_status         TEXT NOT NULL,
    occurred_at       TIMESTAMPTZ NOT NULL,
    reason_code       TEXT NOT NULL,
    reason_text       TEXT NOT NULL DEFAULT '',
    metadata          JSONB
);

CREATE INDEX IF NOT EXISTS state_events_recommendation_idx
    ON state_events (recommendation_id, occurred_at);
`

// Migrate applies the schema. Idempotent.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
