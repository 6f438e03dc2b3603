package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantsignal/recengine/internal/domain"
	"github.com/quantsignal/recengine/internal/metrics"
	"github.com/quantsignal/recengine/internal/persistence"
	"github.com/quantsignal/recengine/internal/persistence/postgres"
	"github.com/quantsignal/recengine/internal/provider"
)

var testNow = time.Date(2025, time.January, 20, 12, 0, 0, 0, time.UTC)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newTestEngine(t *testing.T, prices *provider.Static) (*Engine, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	db := sqlx.NewDb(mockDB, "postgres")
	repos := &persistence.Repository{
		Recommendations: postgres.NewRecommendationsRepo(time.Second),
		Events:          postgres.NewStateEventsRepo(time.Second),
	}

	eng, err := New(db, repos, prices, DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)
	eng.now = func() time.Time { return testNow }
	return eng, mock
}

var recColumns = []string{
	"id", "ticker", "name", "anchor_date", "anchor_close", "anchor_source",
	"strategy", "score", "score_label", "indicators", "flags", "details",
	"status", "status_changed_at", "broken_at", "broken_return_pct",
	"archive_reason", "archive_return_pct", "archive_price", "archive_phase", "archived_at",
	"replaced_by_recommendation_id", "created_at",
}

func recRow(rec *persistence.Recommendation) *sqlmock.Rows {
	var phase *string
	if rec.ArchivePhase != nil {
		s := string(*rec.ArchivePhase)
		phase = &s
	}
	return sqlmock.NewRows(recColumns).AddRow(
		rec.ID, rec.Ticker, rec.Name, rec.AnchorDate, rec.AnchorClose, rec.AnchorSource,
		rec.Strategy, rec.Score, rec.ScoreLabel, []byte(`{}`), []byte(`{}`), []byte(`{}`),
		string(rec.Status), rec.StatusChangedAt, rec.BrokenAt, rec.BrokenReturnPct,
		rec.ArchiveReason, rec.ArchiveReturnPct, rec.ArchivePrice, phase, rec.ArchivedAt,
		rec.ReplacedBy, rec.CreatedAt)
}

func activeRec(id, ticker string, anchorClose float64) *persistence.Recommendation {
	return &persistence.Recommendation{
		ID:              id,
		Ticker:          ticker,
		Name:            "Test Corp",
		AnchorDate:      day(2025, time.January, 10),
		AnchorClose:     anchorClose,
		AnchorSource:    "eod",
		Strategy:        "swing_short",
		Score:           82.5,
		Status:          domain.StatusActive,
		StatusChangedAt: testNow.Add(-72 * time.Hour),
		CreatedAt:       testNow.Add(-72 * time.Hour),
	}
}

func TestCreateRecommendation_NewTicker(t *testing.T) {
	prices := provider.NewStatic("eod")
	prices.Set("ACME", day(2025, time.January, 10), 10000)
	eng, mock := newTestEngine(t, prices)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT broken_at FROM recommendations").
		WillReturnRows(sqlmock.NewRows([]string{"broken_at"}))
	mock.ExpectQuery("FOR UPDATE").
		WillReturnRows(sqlmock.NewRows(recColumns))
	mock.ExpectExec("INSERT INTO recommendations").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO state_events").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	id, err := eng.CreateRecommendation(context.Background(), Candidate{
		Ticker:   "ACME",
		Name:     "Acme Corp",
		ScanDate: day(2025, time.January, 10),
		Strategy: "swing_short",
		Score:    90,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRecommendation_WeekendScanAnchorsToFriday(t *testing.T) {
	prices := provider.NewStatic("eod")
	// Saturday scan must anchor to Friday's close; only Friday has a price.
	prices.Set("ACME", day(2025, time.January, 10), 10000)
	eng, mock := newTestEngine(t, prices)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT broken_at FROM recommendations").
		WillReturnRows(sqlmock.NewRows([]string{"broken_at"}))
	mock.ExpectQuery("FOR UPDATE").
		WillReturnRows(sqlmock.NewRows(recColumns))
	mock.ExpectExec("INSERT INTO recommendations").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO state_events").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	_, err := eng.CreateRecommendation(context.Background(), Candidate{
		Ticker:   "ACME",
		ScanDate: day(2025, time.January, 11),
		Strategy: "swing_short",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRecommendation_PriceUnavailable(t *testing.T) {
	eng, mock := newTestEngine(t, provider.NewStatic("eod"))

	_, err := eng.CreateRecommendation(context.Background(), Candidate{
		Ticker:   "GHOST",
		ScanDate: day(2025, time.January, 10),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrPriceUnavailable))
	assert.NoError(t, mock.ExpectationsWereMet(), "no partial row may be written")
}

func TestCreateRecommendation_InCooldown(t *testing.T) {
	prices := provider.NewStatic("eod")
	prices.Set("ACME", day(2025, time.January, 22), 9800)
	eng, mock := newTestEngine(t, prices)

	brokenAt := day(2025, time.January, 20)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT broken_at FROM recommendations").
		WillReturnRows(sqlmock.NewRows([]string{"broken_at"}).AddRow(brokenAt))
	mock.ExpectRollback()

	// Two trading days after the break with a three-day cooldown.
	_, err := eng.CreateRecommendation(context.Background(), Candidate{
		Ticker:   "ACME",
		ScanDate: day(2025, time.January, 22),
	})
	require.Error(t, err)

	var cooldown *domain.CooldownError
	require.True(t, errors.As(err, &cooldown))
	assert.Equal(t, "ACME", cooldown.Ticker)
	assert.Equal(t, 1, cooldown.RemainingDays)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRecommendation_CooldownSatisfied(t *testing.T) {
	prices := provider.NewStatic("eod")
	prices.Set("ACME", day(2025, time.January, 27), 9800)
	eng, mock := newTestEngine(t, prices)

	brokenAt := day(2025, time.January, 20)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT broken_at FROM recommendations").
		WillReturnRows(sqlmock.NewRows([]string{"broken_at"}).AddRow(brokenAt))
	mock.ExpectQuery("FOR UPDATE").
		WillReturnRows(sqlmock.NewRows(recColumns))
	mock.ExpectExec("INSERT INTO recommendations").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO state_events").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	_, err := eng.CreateRecommendation(context.Background(), Candidate{
		Ticker:   "ACME",
		ScanDate: day(2025, time.January, 27),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRecommendation_ReplacesPriorActive(t *testing.T) {
	prices := provider.NewStatic("eod")
	prices.Set("ACME", day(2025, time.January, 20), 10500)
	eng, mock := newTestEngine(t, prices)

	prior := activeRec("old-id", "ACME", 10000)
	replacedEdge := metrics.Transitions.WithLabelValues("ACTIVE", "REPLACED")
	edgeBefore := testutil.ToFloat64(replacedEdge)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT broken_at FROM recommendations").
		WillReturnRows(sqlmock.NewRows([]string{"broken_at"}))
	mock.ExpectQuery("FOR UPDATE").
		WillReturnRows(recRow(prior))
	// Retire the predecessor in the same transaction.
	mock.ExpectExec("UPDATE recommendations SET").
		WithArgs("old-id", "REPLACED", sqlmock.AnyArg(), nil, nil,
			ReasonReplaced, 5.0, 10500.0, "PROFIT", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO state_events").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO recommendations").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO state_events").
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	id, err := eng.CreateRecommendation(context.Background(), Candidate{
		Ticker:   "ACME",
		ScanDate: day(2025, time.January, 20),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.InDelta(t, edgeBefore+1, testutil.ToFloat64(replacedEdge), 0.001,
		"replaced edge must show up in the transition counter")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRecommendation_InsertFailureRollsBackReplacement(t *testing.T) {
	prices := provider.NewStatic("eod")
	prices.Set("ACME", day(2025, time.January, 20), 10500)
	eng, mock := newTestEngine(t, prices)

	prior := activeRec("old-id", "ACME", 10000)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT broken_at FROM recommendations").
		WillReturnRows(sqlmock.NewRows([]string{"broken_at"}))
	mock.ExpectQuery("FOR UPDATE").
		WillReturnRows(recRow(prior))
	// Predecessor retirement succeeds, then the successor insert fails:
	// the whole transaction must roll back so the prior row stays ACTIVE.
	mock.ExpectExec("UPDATE recommendations SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO state_events").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO recommendations").
		WillReturnError(errors.New("connection reset by peer"))
	mock.ExpectRollback()

	_, err := eng.CreateRecommendation(context.Background(), Candidate{
		Ticker:   "ACME",
		ScanDate: day(2025, time.January, 20),
	})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet(), "retirement must never commit without the successor")
}

func TestCreateRecommendation_AlreadyActiveRace(t *testing.T) {
	prices := provider.NewStatic("eod")
	prices.Set("ACME", day(2025, time.January, 20), 10500)
	eng, mock := newTestEngine(t, prices)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT broken_at FROM recommendations").
		WillReturnRows(sqlmock.NewRows([]string{"broken_at"}))
	mock.ExpectQuery("FOR UPDATE").
		WillReturnRows(sqlmock.NewRows(recColumns))
	mock.ExpectExec("INSERT INTO recommendations").
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	_, err := eng.CreateRecommendation(context.Background(), Candidate{
		Ticker:   "ACME",
		ScanDate: day(2025, time.January, 20),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrAlreadyActive))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransition_HardStopFreezesBreakSnapshot(t *testing.T) {
	eng, mock := newTestEngine(t, provider.NewStatic("eod"))
	rec := activeRec("rec-1", "ACME", 10000)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WillReturnRows(recRow(rec))
	mock.ExpectExec("UPDATE recommendations SET").
		WithArgs("rec-1", "BROKEN", sqlmock.AnyArg(), sqlmock.AnyArg(), -10.0,
			nil, nil, nil, nil, nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO state_events").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	applied, err := eng.Transition(context.Background(), "rec-1", domain.StatusBroken,
		ReasonHardStop, "return -10.00% breached hard stop -7.00%",
		&domain.EvalSnapshot{Price: 9000, ReturnPct: -10.0, Source: "eod", EvaluatedAt: testNow})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransition_ArchiveCarriesBrokenSnapshotForward(t *testing.T) {
	eng, mock := newTestEngine(t, provider.NewStatic("eod"))

	brokenAt := day(2025, time.January, 20)
	brokenRet := -10.0
	rec := activeRec("rec-1", "ACME", 10000)
	rec.Status = domain.StatusBroken
	rec.BrokenAt = &brokenAt
	rec.BrokenReturnPct = &brokenRet

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WillReturnRows(recRow(rec))
	// Archive must freeze the -10% break snapshot, not the -5% the caller
	// is seeing now: archive_return_pct -10, archive_price 9000.
	mock.ExpectExec("UPDATE recommendations SET").
		WithArgs("rec-1", "ARCHIVED", sqlmock.AnyArg(), nil, nil,
			ReasonPostBreak, -10.0, 9000.0, "LOSS", sqlmock.AnyArg(), nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO state_events").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	applied, err := eng.Transition(context.Background(), "rec-1", domain.StatusArchived,
		ReasonPostBreak, "archived after break linger window",
		&domain.EvalSnapshot{Price: 9500, ReturnPct: -5.0, Source: "eod", EvaluatedAt: testNow})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransition_ArchiveWithoutBreakSnapshotsCaller(t *testing.T) {
	eng, mock := newTestEngine(t, provider.NewStatic("eod"))
	rec := activeRec("rec-1", "ACME", 10000)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WillReturnRows(recRow(rec))
	mock.ExpectExec("UPDATE recommendations SET").
		WithArgs("rec-1", "ARCHIVED", sqlmock.AnyArg(), nil, nil,
			ReasonTTLExpired, 1.5, 10150.0, "FLAT", sqlmock.AnyArg(), nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO state_events").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	applied, err := eng.Transition(context.Background(), "rec-1", domain.StatusArchived,
		ReasonTTLExpired, "held 41 trading days, ttl 40",
		&domain.EvalSnapshot{Price: 10150, ReturnPct: 1.5, Source: "eod", EvaluatedAt: testNow})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransition_SameStatusIsNoOp(t *testing.T) {
	eng, mock := newTestEngine(t, provider.NewStatic("eod"))
	rec := activeRec("rec-1", "ACME", 10000)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WillReturnRows(recRow(rec))
	mock.ExpectRollback()

	applied, err := eng.Transition(context.Background(), "rec-1", domain.StatusActive,
		ReasonRecovered, "", nil)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet(), "no mutation and no event on a no-op")
}

func TestTransition_ForbiddenEdgeRejectedWithoutMutation(t *testing.T) {
	eng, mock := newTestEngine(t, provider.NewStatic("eod"))

	brokenAt := day(2025, time.January, 15)
	brokenRet := -12.0
	rec := activeRec("rec-1", "ACME", 10000)
	rec.Status = domain.StatusBroken
	rec.BrokenAt = &brokenAt
	rec.BrokenReturnPct = &brokenRet

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WillReturnRows(recRow(rec))
	mock.ExpectRollback()

	applied, err := eng.Transition(context.Background(), "rec-1", domain.StatusActive,
		ReasonRecovered, "price recovered", nil)
	require.Error(t, err)
	assert.False(t, applied)

	var invalid *domain.InvalidTransitionError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, domain.StatusBroken, invalid.From)
	assert.Equal(t, domain.StatusActive, invalid.To)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransition_NotFound(t *testing.T) {
	eng, mock := newTestEngine(t, provider.NewStatic("eod"))

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WillReturnRows(sqlmock.NewRows(recColumns))
	mock.ExpectRollback()

	applied, err := eng.Transition(context.Background(), "missing", domain.StatusBroken,
		ReasonHardStop, "", &domain.EvalSnapshot{ReturnPct: -9})
	require.Error(t, err)
	assert.False(t, applied)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAugmentFlags_UpdatesWithoutTouchingStatus(t *testing.T) {
	eng, mock := newTestEngine(t, provider.NewStatic("eod"))
	rec := activeRec("rec-1", "ACME", 10000)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WillReturnRows(recRow(rec))
	mock.ExpectExec("SET flags").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := eng.AugmentFlags(context.Background(), "rec-1", func(f *domain.Flags) {
		f.SoftWarning = true
		f.AssumptionBroken = true
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAugmentFlags_NoOpWhenUnchanged(t *testing.T) {
	eng, mock := newTestEngine(t, provider.NewStatic("eod"))
	rec := activeRec("rec-1", "ACME", 10000)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WillReturnRows(recRow(rec))
	mock.ExpectRollback()

	err := eng.AugmentFlags(context.Background(), "rec-1", func(f *domain.Flags) {})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
