package store

import (
	"encoding/json"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/pkg/errors"

	"golang-matching-service/internal/models"
)

const (
	recordsTable = "records"
	runsTable    = "match_runs"
	resultsTable = "match_run_results"
)

var recordColumns = []string{
	"id", "tenant_id", "kind", "category", "created_at", "record_date",
	"amount", "currency", "vendor", "description", "unparsed",
}

var runColumns = []string{
	"id", "tenant_id", "target_id", "target_kind", "profile", "variant",
	"candidate_count", "has_strong_match", "recommended_action", "auto_apply",
	"target", "started_at", "recorded_at",
}

var resultColumns = []string{
	"run_id", "rank", "candidate_id", "candidate_kind", "candidate_created_at",
	"score", "match_type", "matching_fields", "differences", "field_scores",
}

// dialect builds the statements shared by the SQL stores. The flavor picks
// the placeholder style; timeArg converts timestamps into the driver's
// bind representation.
type dialect struct {
	flavor  sqlbuilder.Flavor
	timeArg func(time.Time) interface{}
}

var postgresDialect = dialect{
	flavor:  sqlbuilder.PostgreSQL,
	timeArg: func(t time.Time) interface{} { return t.UTC() },
}

var sqliteDialect = dialect{
	flavor:  sqlbuilder.SQLite,
	timeArg: func(t time.Time) interface{} { return formatSQLiteTime(t) },
}

func (d dialect) nullableTime(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return d.timeArg(*t)
}

func (d dialect) selectRecord(tenantID, id string) (string, []interface{}) {
	sb := d.flavor.NewSelectBuilder()
	sb.Select(recordColumns...)
	sb.From(recordsTable)
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("id", id),
	)
	return sb.Build()
}

// selectCandidates expresses CandidateQuery.Matches in SQL.
func (d dialect) selectCandidates(q CandidateQuery) (string, []interface{}) {
	sb := d.flavor.NewSelectBuilder()
	sb.Select(recordColumns...)
	sb.From(recordsTable)

	where := []string{
		sb.Equal("tenant_id", q.TenantID),
		sb.NotEqual("id", q.ExcludeID),
	}

	if len(q.Kinds) > 0 {
		kinds := make([]interface{}, len(q.Kinds))
		for i, k := range q.Kinds {
			kinds[i] = string(k)
		}
		where = append(where, sb.In("kind", kinds...))
	}

	if q.Category != nil {
		where = append(where, sb.Equal("category", *q.Category))
	}

	createdWindow := sb.And(
		sb.GreaterEqualThan("created_at", d.timeArg(q.CreatedFrom)),
		sb.LessEqualThan("created_at", d.timeArg(q.CreatedTo)),
	)
	if q.DateFrom != nil && q.DateTo != nil {
		dateWindow := sb.And(
			sb.GreaterEqualThan("record_date", d.timeArg(*q.DateFrom)),
			sb.LessEqualThan("record_date", d.timeArg(*q.DateTo)),
		)
		where = append(where, sb.Or(createdWindow, dateWindow))
	} else {
		where = append(where, createdWindow)
	}

	sb.Where(where...)
	sb.OrderBy("created_at DESC", "id ASC")
	if q.Limit > 0 {
		sb.Limit(q.Limit)
	}
	return sb.Build()
}

// upsertRecords inserts records, replacing existing rows with the same
// (tenant_id, id). Both PostgreSQL and SQLite accept this ON CONFLICT form.
func (d dialect) upsertRecords(records []models.Record) (string, []interface{}, error) {
	ib := d.flavor.NewInsertBuilder()
	ib.InsertInto(recordsTable)
	ib.Cols(recordColumns...)

	for i := range records {
		r := &records[i]
		unparsed, err := encodeUnparsed(r.Unparsed)
		if err != nil {
			return "", nil, err
		}
		ib.Values(r.ID, r.TenantID, string(r.Kind), r.Category, d.timeArg(r.CreatedAt), d.nullableTime(r.Date),
			r.Amount, r.Currency, r.Vendor, r.Description, unparsed)
	}

	query, args := ib.Build()
	query += " ON CONFLICT (tenant_id, id) DO UPDATE SET kind = excluded.kind, category = excluded.category," +
		" created_at = excluded.created_at, record_date = excluded.record_date, amount = excluded.amount," +
		" currency = excluded.currency, vendor = excluded.vendor, description = excluded.description," +
		" unparsed = excluded.unparsed"
	return query, args, nil
}

func (d dialect) insertRun(run *models.MatchRun) (string, []interface{}, error) {
	target, err := json.Marshal(run.Target)
	if err != nil {
		return "", nil, errors.Wrap(err, "marshal target")
	}

	ib := d.flavor.NewInsertBuilder()
	ib.InsertInto(runsTable)
	ib.Cols(runColumns...)
	ib.Values(run.ID, run.TenantID, run.TargetID, string(run.TargetKind), run.Profile, string(run.Variant),
		run.CandidateCount, run.Decision.HasStrongMatch, string(run.Decision.RecommendedAction), run.Decision.AutoApply,
		string(target), d.timeArg(run.StartedAt), d.timeArg(run.RecordedAt))

	query, args := ib.Build()
	return query, args, nil
}

// insertResults returns an empty query when the run has no results.
func (d dialect) insertResults(run *models.MatchRun) (string, []interface{}, error) {
	if len(run.Decision.Results) == 0 {
		return "", nil, nil
	}

	ib := d.flavor.NewInsertBuilder()
	ib.InsertInto(resultsTable)
	ib.Cols(resultColumns...)

	for rank, res := range run.Decision.Results {
		matching, err := json.Marshal(nonNil(res.MatchingFields))
		if err != nil {
			return "", nil, errors.Wrap(err, "marshal matching fields")
		}
		diffs, err := json.Marshal(nonNil(res.Differences))
		if err != nil {
			return "", nil, errors.Wrap(err, "marshal differences")
		}
		scores, err := json.Marshal(nonNil(res.FieldScores))
		if err != nil {
			return "", nil, errors.Wrap(err, "marshal field scores")
		}
		ib.Values(run.ID, rank, res.CandidateID, string(res.CandidateKind), d.timeArg(res.CandidateCreatedAt),
			res.Score, string(res.MatchType), string(matching), string(diffs), string(scores))
	}

	query, args := ib.Build()
	return query, args, nil
}

func (d dialect) selectRuns(filter RunFilter) (string, []interface{}) {
	sb := d.flavor.NewSelectBuilder()
	sb.Select(runColumns...)
	sb.From(runsTable)

	where := []string{sb.Equal("tenant_id", filter.TenantID)}
	if filter.TargetID != "" {
		where = append(where, sb.Equal("target_id", filter.TargetID))
	}
	sb.Where(where...)
	sb.OrderBy("recorded_at DESC", "id ASC")

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	sb.Limit(limit)
	if filter.Offset > 0 {
		sb.Offset(filter.Offset)
	}
	return sb.Build()
}

func (d dialect) selectResults(runIDs []string) (string, []interface{}) {
	ids := make([]interface{}, len(runIDs))
	for i, id := range runIDs {
		ids[i] = id
	}

	sb := d.flavor.NewSelectBuilder()
	sb.Select(resultColumns...)
	sb.From(resultsTable)
	sb.Where(sb.In("run_id", ids...))
	sb.OrderBy("run_id ASC", "rank ASC")
	return sb.Build()
}

func encodeUnparsed(m map[models.FieldName]string) (interface{}, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "marshal unparsed fields")
	}
	return string(b), nil
}

func decodeUnparsed(raw *string) (map[models.FieldName]string, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	var m map[models.FieldName]string
	if err := json.Unmarshal([]byte(*raw), &m); err != nil {
		return nil, errors.Wrap(err, "unmarshal unparsed fields")
	}
	return m, nil
}

// resultRow is the column set of match_run_results with the JSON columns
// still encoded.
type resultRow struct {
	RunID              string    `db:"run_id"`
	Rank               int       `db:"rank"`
	CandidateID        string    `db:"candidate_id"`
	CandidateKind      string    `db:"candidate_kind"`
	CandidateCreatedAt time.Time `db:"-"`
	Score              float64   `db:"score"`
	MatchType          string    `db:"match_type"`
	MatchingFields     string    `db:"matching_fields"`
	Differences        string    `db:"differences"`
	FieldScores        string    `db:"field_scores"`
}

func (r *resultRow) toResult() (models.MatchResult, error) {
	res := models.MatchResult{
		CandidateID:        r.CandidateID,
		CandidateKind:      models.RecordKind(r.CandidateKind),
		CandidateCreatedAt: r.CandidateCreatedAt,
		Score:              r.Score,
		MatchType:          models.MatchType(r.MatchType),
	}
	if err := json.Unmarshal([]byte(r.MatchingFields), &res.MatchingFields); err != nil {
		return res, errors.Wrap(err, "unmarshal matching fields")
	}
	if err := json.Unmarshal([]byte(r.Differences), &res.Differences); err != nil {
		return res, errors.Wrap(err, "unmarshal differences")
	}
	if err := json.Unmarshal([]byte(r.FieldScores), &res.FieldScores); err != nil {
		return res, errors.Wrap(err, "unmarshal field scores")
	}
	return res, nil
}

// runRow is the column set of match_runs.
type runRow struct {
	ID                string    `db:"id"`
	TenantID          string    `db:"tenant_id"`
	TargetID          string    `db:"target_id"`
	TargetKind        string    `db:"target_kind"`
	Profile           string    `db:"profile"`
	Variant           string    `db:"variant"`
	CandidateCount    int       `db:"candidate_count"`
	HasStrongMatch    bool      `db:"has_strong_match"`
	RecommendedAction string    `db:"recommended_action"`
	AutoApply         bool      `db:"auto_apply"`
	Target            string    `db:"target"`
	StartedAt         time.Time `db:"-"`
	RecordedAt        time.Time `db:"-"`
}

func (r *runRow) toRun() (models.MatchRun, error) {
	run := models.MatchRun{
		ID:             r.ID,
		TenantID:       r.TenantID,
		TargetID:       r.TargetID,
		TargetKind:     models.RecordKind(r.TargetKind),
		Profile:        r.Profile,
		Variant:        models.Variant(r.Variant),
		CandidateCount: r.CandidateCount,
		Decision: models.MatchDecision{
			Results:           []models.MatchResult{},
			HasStrongMatch:    r.HasStrongMatch,
			RecommendedAction: models.RecommendedAction(r.RecommendedAction),
			AutoApply:         r.AutoApply,
		},
		StartedAt:  r.StartedAt,
		RecordedAt: r.RecordedAt,
	}
	if err := json.Unmarshal([]byte(r.Target), &run.Target); err != nil {
		return run, errors.Wrap(err, "unmarshal target")
	}
	return run, nil
}

// attachResults groups result rows onto their runs, preserving run order.
func attachResults(runs []models.MatchRun, rows []resultRow) ([]models.MatchRun, error) {
	index := make(map[string]int, len(runs))
	for i := range runs {
		index[runs[i].ID] = i
	}
	for i := range rows {
		pos, ok := index[rows[i].RunID]
		if !ok {
			continue
		}
		res, err := rows[i].toResult()
		if err != nil {
			return nil, err
		}
		runs[pos].Decision.Results = append(runs[pos].Decision.Results, res)
	}
	return runs, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// formatSQLiteTime renders a fixed-width UTC timestamp so that text
// comparison in SQLite orders the same way as time comparison.
func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseSQLiteTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "parse time %q", s)
	}
	return t, nil
}
