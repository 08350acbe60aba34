package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang-matching-service/internal/models"
	apperrors "golang-matching-service/pkg/errors"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresWithPool(mock), mock
}

func recordRows(mock pgxmock.PgxPoolIface) *pgxmock.Rows {
	return mock.NewRows(recordColumns)
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS records`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRecord(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	date := day(0)
	unparsed := `{"description":"¿?"}`

	mock.ExpectQuery(`SELECT .* FROM records WHERE tenant_id = \$1 AND id = \$2`).
		WithArgs("tenant-a", "doc-1").
		WillReturnRows(recordRows(mock).AddRow(
			"doc-1", "tenant-a", "document", "invoice", day(0), &date,
			decimal.NewNullDecimal(decimal.RequireFromString("100.00")), "GBP", "Acme Ltd", "", &unparsed,
		))

	r, err := s.GetRecord(context.Background(), "tenant-a", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.KindDocument, r.Kind)
	assert.Equal(t, "Acme Ltd", r.Vendor)
	require.NotNil(t, r.Date)
	assert.True(t, r.Date.Equal(date))
	assert.True(t, r.Amount.Valid)
	assert.Equal(t, "¿?", r.Unparsed[models.FieldDescription])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRecord_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .* FROM records WHERE tenant_id = \$1 AND id = \$2`).
		WithArgs("tenant-a", "missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRecord(context.Background(), "tenant-a", "missing")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindCandidates(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	var noDate *time.Time
	var noUnparsed *string

	mock.ExpectQuery(`SELECT .* FROM records WHERE tenant_id = \$1 AND id <> \$2 AND kind IN \(\$3\)`).
		WillReturnRows(recordRows(mock).
			AddRow("recent", "tenant-a", "document", "invoice", day(2), noDate,
				decimal.NullDecimal{}, "", "Acme", "", noUnparsed).
			AddRow("older", "tenant-a", "document", "invoice", day(-3), noDate,
				decimal.NullDecimal{}, "", "Acme", "", noUnparsed))

	got, err := s.FindCandidates(context.Background(), candidateQuery())
	require.NoError(t, err)
	assert.Equal(t, []string{"recent", "older"}, ids(got))
	assert.Nil(t, got[0].Date)
	assert.False(t, got[0].Amount.Valid)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindCandidates_StoreDown(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .* FROM records`).
		WillReturnError(errors.New("connection reset by peer"))

	_, err := s.FindCandidates(context.Background(), candidateQuery())
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	run := sampleRun("run-1", record("tenant-a", "target", models.KindDocument, day(0), nil), base)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO match_runs`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO match_run_results`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	require.NoError(t, s.AppendRun(context.Background(), run))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendRun_NoResults(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	run := sampleRun("run-2", record("tenant-a", "target", models.KindDocument, day(0), nil), base)
	run.Decision.Results = nil

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO match_runs`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, s.AppendRun(context.Background(), run))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendRun_RollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	run := sampleRun("run-1", record("tenant-a", "target", models.KindDocument, day(0), nil), base)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO match_runs`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO match_run_results`).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := s.AppendRun(context.Background(), run)
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	target := `{"id":"target","tenant_id":"tenant-a","kind":"document","created_at":"2024-01-10T09:00:00Z","amount":"100"}`

	mock.ExpectQuery(`SELECT .* FROM match_runs WHERE tenant_id = \$1 AND target_id = \$2 ORDER BY recorded_at DESC`).
		WillReturnRows(mock.NewRows(runColumns).
			AddRow("run-1", "tenant-a", "target", "document", "duplicate_detection", "duplicate_detection",
				1, true, "delete_duplicate", true, target, base, base.Add(time.Second)))
	mock.ExpectQuery(`SELECT .* FROM match_run_results WHERE run_id IN \(\$1\)`).
		WithArgs("run-1").
		WillReturnRows(mock.NewRows(resultColumns).
			AddRow("run-1", 0, "recent", "document", day(2), 0.97, "exact",
				`["amount","vendor","date"]`, `[]`, `[{"field":"amount","score":1,"matching":true}]`))

	runs, err := s.ListRuns(context.Background(), RunFilter{TenantID: "tenant-a", TargetID: "target"})
	require.NoError(t, err)
	require.Len(t, runs, 1)

	run := runs[0]
	assert.Equal(t, models.ActionDeleteDuplicate, run.Decision.RecommendedAction)
	assert.True(t, run.Decision.AutoApply)
	assert.Equal(t, "target", run.Target.ID)
	assert.Equal(t, time.Second, run.Duration())
	require.Len(t, run.Decision.Results, 1)
	assert.Equal(t, 0.97, run.Decision.Results[0].Score)
	assert.Equal(t, models.MatchTypeExact, run.Decision.Results[0].MatchType)
	assert.Len(t, run.Decision.Results[0].MatchingFields, 3)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .* FROM match_runs`).
		WillReturnRows(mock.NewRows(runColumns))

	runs, err := s.ListRuns(context.Background(), RunFilter{TenantID: "tenant-a"})
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.NoError(t, mock.ExpectationsWereMet())
}
