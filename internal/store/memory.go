package store

import (
	"context"
	"sort"
	"sync"

	"golang-matching-service/internal/models"
	apperrors "golang-matching-service/pkg/errors"
)

// MemoryStore keeps records and runs in process memory. It is used by tests
// and by the CLI when no database is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]map[string]models.Record
	runs    []models.MatchRun
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{records: make(map[string]map[string]models.Record)}
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) GetRecord(_ context.Context, tenantID, id string) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[tenantID][id]
	if !ok {
		return nil, apperrors.NotFoundError(apperrors.CodeTargetNotFound, tenantID, id)
	}
	return &r, nil
}

func (s *MemoryStore) FindCandidates(ctx context.Context, q CandidateQuery) ([]models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.TransientStoreError(apperrors.CodeQueryFailed, "find candidates", err)
	}

	s.mu.RLock()
	var out []models.Record
	for _, r := range s.records[q.TenantID] {
		if q.Matches(&r) {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()

	SortByRecency(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *MemoryStore) PutRecords(_ context.Context, records []models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		byID, ok := s.records[r.TenantID]
		if !ok {
			byID = make(map[string]models.Record)
			s.records[r.TenantID] = byID
		}
		byID[r.ID] = r
	}
	return nil
}

func (s *MemoryStore) AppendRun(ctx context.Context, run *models.MatchRun) error {
	if err := ctx.Err(); err != nil {
		return apperrors.TransientStoreError(apperrors.CodeWriteFailed, "append run", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, *run)
	return nil
}

func (s *MemoryStore) ListRuns(_ context.Context, filter RunFilter) ([]models.MatchRun, error) {
	s.mu.RLock()
	var out []models.MatchRun
	for _, run := range s.runs {
		if run.TenantID != filter.TenantID {
			continue
		}
		if filter.TargetID != "" && run.TargetID != filter.TargetID {
			continue
		}
		out = append(out, run)
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RecordedAt.After(out[j].RecordedAt)
	})
	return paginate(out, filter.Offset, filter.Limit), nil
}

func paginate(runs []models.MatchRun, offset, limit int) []models.MatchRun {
	if offset >= len(runs) {
		return []models.MatchRun{}
	}
	runs = runs[offset:]
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs
}
