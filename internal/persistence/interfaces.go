// Package persistence defines the stored entities of the recommendation
// lifecycle and the repository interfaces over them. The relational store
// is the single source of truth; there is no cross-node replication.
package persistence

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/quantsignal/recengine/internal/domain"
)

// Recommendation is one recommendation instance. Anchor fields are written
// exactly once at creation and never updated by any code path; terminal
// snapshot fields (broken_*, archive_*) are write-once at the transition
// that first sets them.
type Recommendation struct {
	ID     string `json:"id" db:"id"`
	Ticker string `json:"ticker" db:"ticker"`
	Name   string `json:"name,omitempty" db:"name"`

	AnchorDate   time.Time `json:"anchor_date" db:"anchor_date"`
	AnchorClose  float64   `json:"anchor_close" db:"anchor_close"`
	AnchorSource string    `json:"anchor_source" db:"anchor_source"`

	Strategy   string            `json:"strategy" db:"strategy"`
	Score      float64           `json:"score" db:"score"`
	ScoreLabel string            `json:"score_label,omitempty" db:"score_label"`
	Indicators domain.Indicators `json:"indicators" db:"indicators"`
	Flags      domain.Flags      `json:"flags" db:"flags"`
	Details    domain.Details    `json:"details" db:"details"`

	Status          domain.Status `json:"status" db:"status"`
	StatusChangedAt time.Time     `json:"status_changed_at" db:"status_changed_at"`

	BrokenAt        *time.Time `json:"broken_at,omitempty" db:"broken_at"`
	BrokenReturnPct *float64   `json:"broken_return_pct,omitempty" db:"broken_return_pct"`

	ArchiveReason    *string              `json:"archive_reason,omitempty" db:"archive_reason"`
	ArchiveReturnPct *float64             `json:"archive_return_pct,omitempty" db:"archive_return_pct"`
	ArchivePrice     *float64             `json:"archive_price,omitempty" db:"archive_price"`
	ArchivePhase     *domain.ArchivePhase `json:"archive_phase,omitempty" db:"archive_phase"`
	ArchivedAt       *time.Time           `json:"archived_at,omitempty" db:"archived_at"`

	ReplacedBy *string   `json:"replaced_by_recommendation_id,omitempty" db:"replaced_by_recommendation_id"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// StateEvent is one row of the append-only transition ledger. Never updated
// or deleted by normal operation.
type StateEvent struct {
	ID               int64                `json:"id" db:"id"`
	RecommendationID string               `json:"recommendation_id" db:"recommendation_id"`
	FromStatus       *domain.Status       `json:"from_status,omitempty" db:"from_status"`
	ToStatus         domain.Status        `json:"to_status" db:"to_status"`
	OccurredAt       time.Time            `json:"occurred_at" db:"occurred_at"`
	ReasonCode       string               `json:"reason_code" db:"reason_code"`
	ReasonText       string               `json:"reason_text,omitempty" db:"reason_text"`
	Metadata         *domain.EvalSnapshot `json:"metadata,omitempty" db:"metadata"`
}

// StatusUpdate is the mutation applied by the transition executor. Terminal
// snapshot fields are only honored the first time they are set; the store
// keeps existing values so a later update can never overwrite an earlier
// snapshot.
type StatusUpdate struct {
	ID              string
	Status          domain.Status
	StatusChangedAt time.Time

	BrokenAt        *time.Time
	BrokenReturnPct *float64

	ArchiveReason    *string
	ArchiveReturnPct *float64
	ArchivePrice     *float64
	ArchivePhase     *domain.ArchivePhase
	ArchivedAt       *time.Time

	ReplacedBy *string
}

// RecommendationsRepo provides recommendation persistence. Methods take a
// sqlx.ExtContext so the lifecycle engine can compose them inside a single
// transaction; pass the *sqlx.DB for standalone reads.
type RecommendationsRepo interface {
	// Insert adds a new recommendation row.
	Insert(ctx context.Context, q sqlx.ExtContext, rec *Recommendation) error

	// GetByID fetches one row, or domain.ErrNotFound.
	GetByID(ctx context.Context, q sqlx.ExtContext, id string) (*Recommendation, error)

	// GetForUpdate fetches one row under a row lock (FOR UPDATE).
	GetForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*Recommendation, error)

	// ActiveForUpdate locks and returns the ACTIVE row for ticker, or nil.
	ActiveForUpdate(ctx context.Context, tx *sqlx.Tx, ticker string) (*Recommendation, error)

	// CurrentByTicker returns the most recently created row for ticker.
	CurrentByTicker(ctx context.Context, q sqlx.ExtContext, ticker string) (*Recommendation, error)

	// ListByStatus returns rows in any of the given statuses, oldest first.
	ListByStatus(ctx context.Context, q sqlx.ExtContext, statuses ...domain.Status) ([]Recommendation, error)

	// ApplyStatus applies a status mutation with write-once terminal fields.
	ApplyStatus(ctx context.Context, q sqlx.ExtContext, upd StatusUpdate) error

	// UpdateFlags replaces the flags record without touching status.
	UpdateFlags(ctx context.Context, q sqlx.ExtContext, id string, flags domain.Flags) error

	// LatestBrokenAt returns the most recent broken_at for ticker, or nil.
	LatestBrokenAt(ctx context.Context, q sqlx.ExtContext, ticker string) (*time.Time, error)
}

// StateEventsRepo provides the append-only transition ledger.
type StateEventsRepo interface {
	// Append inserts one event. There is no update or delete.
	Append(ctx context.Context, q sqlx.ExtContext, ev *StateEvent) error

	// ListByRecommendation returns the event history, oldest first.
	ListByRecommendation(ctx context.Context, q sqlx.ExtContext, id string) ([]StateEvent, error)
}

// Repository aggregates all repos behind one wiring point.
type Repository struct {
	Recommendations RecommendationsRepo
	Events          StateEventsRepo
}
