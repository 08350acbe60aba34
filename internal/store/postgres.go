package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"golang-matching-service/internal/models"
	apperrors "golang-matching-service/pkg/errors"
)

// Pool is the subset of pgxpool.Pool used by PostgresStore. pgxmock pools
// satisfy it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
	d    dialect
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "store.dsn", "postgres", err)
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, apperrors.TransientStoreError(apperrors.CodeStoreUnavailable, "postgres connect", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, apperrors.TransientStoreError(apperrors.CodeStoreUnavailable, "postgres ping", err)
	}
	return &PostgresStore{pool: pool, d: postgresDialect}, nil
}

// NewPostgresWithPool wraps an existing pool.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool, d: postgresDialect}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS records (
	tenant_id   TEXT NOT NULL,
	id          TEXT NOT NULL,
	kind        TEXT NOT NULL,
	category    TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL,
	record_date TIMESTAMPTZ,
	amount      NUMERIC(20, 6),
	currency    TEXT NOT NULL DEFAULT '',
	vendor      TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	unparsed    JSONB,
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
	has_strong_match   BOOLEAN NOT NULL,
	recommended_action TEXT NOT NULL,
	auto_apply         BOOLEAN NOT NULL,
	target             JSONB NOT NULL,
	started_at         TIMESTAMPTZ NOT NULL,
	recorded_at        TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS match_run_results (
	run_id               TEXT NOT NULL REFERENCES match_runs(id),
	rank                 INTEGER NOT NULL,
	candidate_id         TEXT NOT NULL,
	candidate_kind       TEXT NOT NULL,
	candidate_created_at TIMESTAMPTZ NOT NULL,
	score                DOUBLE PRECISION NOT NULL,
	match_type           TEXT NOT NULL DEFAULT '',
	matching_fields      JSONB NOT NULL,
	differences          JSONB NOT NULL,
	field_scores         JSONB NOT NULL,
	PRIMARY KEY (run_id, rank)
);

CREATE INDEX IF NOT EXISTS idx_records_tenant_kind_created ON records (tenant_id, kind, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_records_tenant_kind_date ON records (tenant_id, kind, record_date);
CREATE INDEX IF NOT EXISTS idx_match_runs_target ON match_runs (tenant_id, target_id, recorded_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return apperrors.TransientStoreError(apperrors.CodeWriteFailed, "postgres migrate", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) GetRecord(ctx context.Context, tenantID, id string) (*models.Record, error) {
	query, args := s.d.selectRecord(tenantID, id)
	r, err := scanPostgresRecord(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFoundError(apperrors.CodeTargetNotFound, tenantID, id)
	}
	if err != nil {
		return nil, apperrors.TransientStoreError(apperrors.CodeQueryFailed, "get record", err)
	}
	return r, nil
}

func (s *PostgresStore) FindCandidates(ctx context.Context, q CandidateQuery) ([]models.Record, error) {
	query, args := s.d.selectCandidates(q)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.TransientStoreError(apperrors.CodeQueryFailed, "find candidates", err)
	}
	defer rows.Close()

	var out []models.Record
	for rows.Next() {
		r, err := scanPostgresRecord(rows)
		if err != nil {
			return nil, apperrors.TransientStoreError(apperrors.CodeQueryFailed, "scan candidate", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.TransientStoreError(apperrors.CodeQueryFailed, "find candidates", err)
	}
	return out, nil
}

func (s *PostgresStore) PutRecords(ctx context.Context, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}
	query, args, err := s.d.upsertRecords(records)
	if err != nil {
		return apperrors.InternalError("encode records", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return apperrors.TransientStoreError(apperrors.CodeWriteFailed, "put records", err)
	}
	return nil
}

// AppendRun inserts the run row and every result row in one transaction.
func (s *PostgresStore) AppendRun(ctx context.Context, run *models.MatchRun) error {
	runQuery, runArgs, err := s.d.insertRun(run)
	if err != nil {
		return apperrors.InternalError("encode run", err)
	}
	resQuery, resArgs, err := s.d.insertResults(run)
	if err != nil {
		return apperrors.InternalError("encode results", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperrors.TransientStoreError(apperrors.CodeStoreUnavailable, "begin append run", err)
	}

	if _, err := tx.Exec(ctx, runQuery, runArgs...); err != nil {
		_ = tx.Rollback(ctx)
		return apperrors.TransientStoreError(apperrors.CodeWriteFailed, "insert run", err)
	}
	if resQuery != "" {
		if _, err := tx.Exec(ctx, resQuery, resArgs...); err != nil {
			_ = tx.Rollback(ctx)
			return apperrors.TransientStoreError(apperrors.CodeWriteFailed, "insert run results", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return apperrors.TransientStoreError(apperrors.CodeWriteFailed, "commit append run", err)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]models.MatchRun, error) {
	query, args := s.d.selectRuns(filter)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.TransientStoreError(apperrors.CodeQueryFailed, "list runs", err)
	}

	runs := []models.MatchRun{}
	var ids []string
	for rows.Next() {
		var row runRow
		if err := rows.Scan(&row.ID, &row.TenantID, &row.TargetID, &row.TargetKind, &row.Profile, &row.Variant,
			&row.CandidateCount, &row.HasStrongMatch, &row.RecommendedAction, &row.AutoApply,
			&row.Target, &row.StartedAt, &row.RecordedAt); err != nil {
			rows.Close()
			return nil, apperrors.TransientStoreError(apperrors.CodeQueryFailed, "scan run", err)
		}
		run, err := row.toRun()
		if err != nil {
			rows.Close()
			return nil, apperrors.InternalError("decode run", err)
		}
		runs = append(runs, run)
		ids = append(ids, run.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, apperrors.TransientStoreError(apperrors.CodeQueryFailed, "list runs", err)
	}
	if len(ids) == 0 {
		return runs, nil
	}

	query, args = s.d.selectResults(ids)
	resRows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.TransientStoreError(apperrors.CodeQueryFailed, "list run results", err)
	}
	defer resRows.Close()

	var results []resultRow
	for resRows.Next() {
		var row resultRow
		if err := resRows.Scan(&row.RunID, &row.Rank, &row.CandidateID, &row.CandidateKind, &row.CandidateCreatedAt,
			&row.Score, &row.MatchType, &row.MatchingFields, &row.Differences, &row.FieldScores); err != nil {
			return nil, apperrors.TransientStoreError(apperrors.CodeQueryFailed, "scan run result", err)
		}
		results = append(results, row)
	}
	if err := resRows.Err(); err != nil {
		return nil, apperrors.TransientStoreError(apperrors.CodeQueryFailed, "list run results", err)
	}

	runs, err = attachResults(runs, results)
	if err != nil {
		return nil, apperrors.InternalError("decode run results", err)
	}
	return runs, nil
}

func scanPostgresRecord(row pgx.Row) (*models.Record, error) {
	var (
		r        models.Record
		kind     string
		date     *time.Time
		unparsed *string
	)
	if err := row.Scan(&r.ID, &r.TenantID, &kind, &r.Category, &r.CreatedAt, &date,
		&r.Amount, &r.Currency, &r.Vendor, &r.Description, &unparsed); err != nil {
		return nil, err
	}

	r.Kind = models.RecordKind(kind)
	r.Date = date
	m, err := decodeUnparsed(unparsed)
	if err != nil {
		return nil, err
	}
	r.Unparsed = m
	return &r, nil
}
