package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"golang-matching-service/internal/models"
	apperrors "golang-matching-service/pkg/errors"
)

// SQLiteStore implements Store using modernc.org/sqlite through sqlx.
// Timestamps are stored as fixed-width UTC text and amounts as decimal text.
type SQLiteStore struct {
	db *sqlx.DB
	d  dialect
}

// sqlitePragmas are applied by the driver to every pooled connection.
var sqlitePragmas = []struct{ name, value string }{
	{"journal_mode", "WAL"},
	{"busy_timeout", "5000"},
	{"synchronous", "NORMAL"},
	{"foreign_keys", "1"},
}

// sqliteDSN appends the connection pragmas in modernc's _pragma form.
// Pragmas already present in dsn are left as given.
func sqliteDSN(dsn string) string {
	var b strings.Builder
	b.WriteString(dsn)
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	for _, p := range sqlitePragmas {
		if strings.Contains(dsn, "_pragma="+p.name+"(") {
			continue
		}
		fmt.Fprintf(&b, "%s_pragma=%s(%s)", sep, p.name, p.value)
		sep = "&"
	}
	return b.String()
}

// NewSQLite opens a SQLite database at the given path in WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", sqliteDSN(dsn))
	if err != nil {
		return nil, apperrors.TransientStoreError(apperrors.CodeStoreUnavailable, "sqlite open", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, apperrors.TransientStoreError(apperrors.CodeStoreUnavailable, "sqlite open", err)
	}
	return &SQLiteStore{db: db, d: sqliteDialect}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS records (
	tenant_id   TEXT NOT NULL,
	id          TEXT NOT NULL,
	kind        TEXT NOT NULL,
	category    TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL,
	record_date TEXT,
	amount      TEXT,
	currency    TEXT NOT NULL DEFAULT '',
	vendor      TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	unparsed    TEXT,
	PRIMARY KEY (tenant_id, id)
);

CREATE TABLE IF NOT EXISTS match_runs (
	id                 TEXT PRIMARY KEY,
	tenant_id          TEXT NOT NULL,
	target_id          TEXT NOT NULL,
	target_kind        TEXT NOT NULL,
	profile            TEXT NOT NULL,
	variant            TEXT NOT NULL,
	candidate_count    INTEGER NOT NULL,
	has_strong_match   INTEGER NOT NULL,
	recommended_action TEXT NOT NULL,
	auto_apply         INTEGER NOT NULL,
	target             TEXT NOT NULL,
	started_at         TEXT NOT NULL,
	recorded_at        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS match_run_results (
	run_id               TEXT NOT NULL REFERENCES match_runs(id),
	rank                 INTEGER NOT NULL,
	candidate_id         TEXT NOT NULL,
	candidate_kind       TEXT NOT NULL,
	candidate_created_at TEXT NOT NULL,
	score                REAL NOT NULL,
	match_type           TEXT NOT NULL DEFAULT '',
	matching_fields      TEXT NOT NULL,
	differences          TEXT NOT NULL,
	field_scores         TEXT NOT NULL,
	PRIMARY KEY (run_id, rank)
);

CREATE INDEX IF NOT EXISTS idx_records_tenant_kind_created ON records (tenant_id, kind, created_at);
CREATE INDEX IF NOT EXISTS idx_records_tenant_kind_date ON records (tenant_id, kind, record_date);
CREATE INDEX IF NOT EXISTS idx_match_runs_target ON match_runs (tenant_id, target_id, recorded_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteMigration); err != nil {
		return apperrors.TransientStoreError(apperrors.CodeWriteFailed, "sqlite migrate", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqliteRecordRow struct {
	ID          string              `db:"id"`
	TenantID    string              `db:"tenant_id"`
	Kind        string              `db:"kind"`
	Category    string              `db:"category"`
	CreatedAt   string              `db:"created_at"`
	RecordDate  sql.NullString      `db:"record_date"`
	Amount      decimal.NullDecimal `db:"amount"`
	Currency    string              `db:"currency"`
	Vendor      string              `db:"vendor"`
	Description string              `db:"description"`
	Unparsed    sql.NullString      `db:"unparsed"`
}

func (row *sqliteRecordRow) toRecord() (models.Record, error) {
	r := models.Record{
		ID:          row.ID,
		TenantID:    row.TenantID,
		Kind:        models.RecordKind(row.Kind),
		Category:    row.Category,
		Amount:      row.Amount,
		Currency:    row.Currency,
		Vendor:      row.Vendor,
		Description: row.Description,
	}

	created, err := parseSQLiteTime(row.CreatedAt)
	if err != nil {
		return r, err
	}
	r.CreatedAt = created

	if row.RecordDate.Valid && row.RecordDate.String != "" {
		date, err := parseSQLiteTime(row.RecordDate.String)
		if err != nil {
			return r, err
		}
		r.Date = &date
	}

	if row.Unparsed.Valid {
		m, err := decodeUnparsed(&row.Unparsed.String)
		if err != nil {
			return r, err
		}
		r.Unparsed = m
	}
	return r, nil
}

type sqliteRunRow struct {
	runRow
	StartedAtText  string `db:"started_at"`
	RecordedAtText string `db:"recorded_at"`
}

type sqliteResultRow struct {
	resultRow
	CandidateCreatedAtText string `db:"candidate_created_at"`
}

func (s *SQLiteStore) GetRecord(ctx context.Context, tenantID, id string) (*models.Record, error) {
	query, args := s.d.selectRecord(tenantID, id)

	var row sqliteRecordRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFoundError(apperrors.CodeTargetNotFound, tenantID, id)
		}
		return nil, apperrors.TransientStoreError(apperrors.CodeQueryFailed, "get record", err)
	}

	r, err := row.toRecord()
	if err != nil {
		return nil, apperrors.InternalError("decode record", err)
	}
	return &r, nil
}

func (s *SQLiteStore) FindCandidates(ctx context.Context, q CandidateQuery) ([]models.Record, error) {
	query, args := s.d.selectCandidates(q)

	var rows []sqliteRecordRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, apperrors.TransientStoreError(apperrors.CodeQueryFailed, "find candidates", err)
	}

	out := make([]models.Record, 0, len(rows))
	for i := range rows {
		r, err := rows[i].toRecord()
		if err != nil {
			return nil, apperrors.InternalError("decode candidate", err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *SQLiteStore) PutRecords(ctx context.Context, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}
	query, args, err := s.d.upsertRecords(records)
	if err != nil {
		return apperrors.InternalError("encode records", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return apperrors.TransientStoreError(apperrors.CodeWriteFailed, "put records", err)
	}
	return nil
}

// AppendRun inserts the run row and every result row in one transaction.
func (s *SQLiteStore) AppendRun(ctx context.Context, run *models.MatchRun) error {
	runQuery, runArgs, err := s.d.insertRun(run)
	if err != nil {
		return apperrors.InternalError("encode run", err)
	}
	resQuery, resArgs, err := s.d.insertResults(run)
	if err != nil {
		return apperrors.InternalError("encode results", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.TransientStoreError(apperrors.CodeStoreUnavailable, "begin append run", err)
	}
	if _, err := tx.ExecContext(ctx, runQuery, runArgs...); err != nil {
		_ = tx.Rollback()
		return apperrors.TransientStoreError(apperrors.CodeWriteFailed, "insert run", err)
	}
	if resQuery != "" {
		if _, err := tx.ExecContext(ctx, resQuery, resArgs...); err != nil {
			_ = tx.Rollback()
			return apperrors.TransientStoreError(apperrors.CodeWriteFailed, "insert run results", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return apperrors.TransientStoreError(apperrors.CodeWriteFailed, "commit append run", err)
	}
	return nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]models.MatchRun, error) {
	query, args := s.d.selectRuns(filter)

	var runRows []sqliteRunRow
	if err := s.db.SelectContext(ctx, &runRows, query, args...); err != nil {
		return nil, apperrors.TransientStoreError(apperrors.CodeQueryFailed, "list runs", err)
	}

	runs := make([]models.MatchRun, 0, len(runRows))
	ids := make([]string, 0, len(runRows))
	for i := range runRows {
		row := &runRows[i]
		var err error
		if row.StartedAt, err = parseSQLiteTime(row.StartedAtText); err != nil {
			return nil, apperrors.InternalError("decode run", err)
		}
		if row.RecordedAt, err = parseSQLiteTime(row.RecordedAtText); err != nil {
			return nil, apperrors.InternalError("decode run", err)
		}
		run, err := row.toRun()
		if err != nil {
			return nil, apperrors.InternalError("decode run", err)
		}
		runs = append(runs, run)
		ids = append(ids, run.ID)
	}
	if len(ids) == 0 {
		return runs, nil
	}

	query, args = s.d.selectResults(ids)
	var resRows []sqliteResultRow
	if err := s.db.SelectContext(ctx, &resRows, query, args...); err != nil {
		return nil, apperrors.TransientStoreError(apperrors.CodeQueryFailed, "list run results", err)
	}

	results := make([]resultRow, len(resRows))
	for i := range resRows {
		created, err := parseSQLiteTime(resRows[i].CandidateCreatedAtText)
		if err != nil {
			return nil, apperrors.InternalError("decode run result", err)
		}
		results[i] = resRows[i].resultRow
		results[i].CandidateCreatedAt = created
	}

	runs, err := attachResults(runs, results)
	if err != nil {
		return nil, apperrors.InternalError("decode run results", err)
	}
	return runs, nil
}
