// Package store persists the records the engine matches over and the
// append-only history of match runs.
package store

import (
	"context"
	"sort"
	"time"

	"golang-matching-service/internal/models"
)

// CandidateQuery describes the pre-filter applied by the candidate selector.
// Every field is a hard filter except the two time windows, which are
// OR-ed: a record qualifies if its creation time falls in the created
// window or its semantic date falls in the date window.
type CandidateQuery struct {
	TenantID  string
	ExcludeID string
	Kinds     []models.RecordKind

	// Category, when non-nil, requires an exact category match.
	Category *string

	CreatedFrom time.Time
	CreatedTo   time.Time

	// DateFrom and DateTo are nil when the target has no semantic date.
	DateFrom *time.Time
	DateTo   *time.Time

	Limit int
}

// Matches reports whether r passes the query filters. SQL stores express
// the same predicate in their WHERE clause.
func (q CandidateQuery) Matches(r *models.Record) bool {
	if r.TenantID != q.TenantID || r.ID == q.ExcludeID {
		return false
	}

	if len(q.Kinds) > 0 {
		found := false
		for _, k := range q.Kinds {
			if r.Kind == k {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if q.Category != nil && r.Category != *q.Category {
		return false
	}

	inCreated := !r.CreatedAt.Before(q.CreatedFrom) && !r.CreatedAt.After(q.CreatedTo)
	inDate := q.DateFrom != nil && q.DateTo != nil && r.Date != nil &&
		!r.Date.Before(*q.DateFrom) && !r.Date.After(*q.DateTo)

	return inCreated || inDate
}

// SortByRecency orders records by creation time descending, then ID
// ascending, the order every store returns candidates in.
func SortByRecency(records []models.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		}
		return records[i].ID < records[j].ID
	})
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	TenantID string `json:"tenant_id"`
	TargetID string `json:"target_id,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Offset   int    `json:"offset,omitempty"`
}

// RecordStore provides tenant-scoped record lookups.
type RecordStore interface {
	// GetRecord returns a NotFound error when no record with the ID exists
	// in the tenant.
	GetRecord(ctx context.Context, tenantID, id string) (*models.Record, error)
	FindCandidates(ctx context.Context, q CandidateQuery) ([]models.Record, error)
	PutRecords(ctx context.Context, records []models.Record) error
}

// RunStore is the append-only audit trail of match runs.
type RunStore interface {
	// AppendRun writes the run and all of its results in one transaction.
	AppendRun(ctx context.Context, run *models.MatchRun) error
	// ListRuns returns runs newest first.
	ListRuns(ctx context.Context, filter RunFilter) ([]models.MatchRun, error)
}

// Store combines both interfaces with lifecycle management.
type Store interface {
	RecordStore
	RunStore

	Migrate(ctx context.Context) error
	Close() error
}
