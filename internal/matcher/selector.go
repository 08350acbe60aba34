package matcher

import (
	"context"

	"golang-matching-service/internal/models"
	"golang-matching-service/internal/store"
	"golang-matching-service/pkg/logger"
)

// Selector loads a target and the candidate pool it is compared against.
type Selector struct {
	records store.RecordStore
	logger  logger.Logger
}

// NewSelector creates a selector over a record store.
func NewSelector(records store.RecordStore, log logger.Logger) *Selector {
	if log == nil {
		log = logger.Nop()
	}
	return &Selector{records: records, logger: log}
}

// Select returns the target record and its candidates, newest first. The
// target itself and records of other tenants are never returned.
func (s *Selector) Select(ctx context.Context, tenantID, targetID string, profile *Profile) (*models.Record, []models.Record, error) {
	target, err := s.records.GetRecord(ctx, tenantID, targetID)
	if err != nil {
		return nil, nil, err
	}

	q := BuildCandidateQuery(target, profile)
	found, err := s.records.FindCandidates(ctx, q)
	if err != nil {
		return target, nil, err
	}

	candidates := found[:0]
	for _, r := range found {
		if r.TenantID != tenantID || r.ID == target.ID {
			s.logger.WithFields(logger.Fields{
				logger.FieldTenantID: tenantID,
				logger.FieldTargetID: targetID,
				"candidate_id":       r.ID,
				"candidate_tenant":   r.TenantID,
			}).Warn("Store returned a record outside the candidate filter")
			continue
		}
		candidates = append(candidates, r)
	}

	if len(candidates) > profile.MaxCandidates {
		candidates = candidates[:profile.MaxCandidates]
	}

	return target, candidates, nil
}

// BuildCandidateQuery derives the store pre-filter for a target. The
// created window is always applied; the date window only when the target
// carries a date.
func BuildCandidateQuery(target *models.Record, profile *Profile) store.CandidateQuery {
	window := profile.Window()

	q := store.CandidateQuery{
		TenantID:    target.TenantID,
		ExcludeID:   target.ID,
		Kinds:       profile.KindsFor(target),
		CreatedFrom: target.CreatedAt.Add(-window),
		CreatedTo:   target.CreatedAt.Add(window),
		Limit:       profile.MaxCandidates,
	}

	if profile.MatchCategory {
		category := target.Category
		q.Category = &category
	}

	if target.Date != nil {
		from, to := target.Date.Add(-window), target.Date.Add(window)
		q.DateFrom, q.DateTo = &from, &to
	}

	return q
}
