package models

import (
	"time"
)

// MatchType labels how closely a single candidate agrees with the target.
type MatchType string

const (
	MatchTypeExact   MatchType = "exact"
	MatchTypePartial MatchType = "partial"
	MatchTypeFuzzy   MatchType = "fuzzy"
)

// RecommendedAction is the next step suggested to the caller.
type RecommendedAction string

const (
	ActionDeleteDuplicate RecommendedAction = "delete_duplicate"
	ActionMerge           RecommendedAction = "merge"
	ActionKeepBoth        RecommendedAction = "keep_both"
	ActionReview          RecommendedAction = "review"
	ActionConfirm         RecommendedAction = "confirm"
)

// IsDestructive reports whether applying the action removes or rewrites a record.
func (a RecommendedAction) IsDestructive() bool {
	return a == ActionDeleteDuplicate || a == ActionMerge
}

// Variant selects the classification rules applied to a result set.
type Variant string

const (
	VariantDuplicate      Variant = "duplicate_detection"
	VariantReconciliation Variant = "reconciliation"
)

// FieldScore is the outcome of comparing one field of a target/candidate pair.
type FieldScore struct {
	Field    FieldName `json:"field"`
	Score    float64   `json:"score"`
	Matching bool      `json:"matching"`
	// Excluded is set when neither side carries the field and the
	// comparator treats that as no signal.
	Excluded bool `json:"excluded,omitempty"`
}

// FieldDifference records a considered field that did not match.
type FieldDifference struct {
	Field          FieldName `json:"field"`
	TargetValue    string    `json:"target_value"`
	CandidateValue string    `json:"candidate_value"`
	Score          float64   `json:"score"`
}

// MatchResult is the composite outcome for one (target, candidate) pair.
type MatchResult struct {
	CandidateID        string            `json:"candidate_id"`
	CandidateKind      RecordKind        `json:"candidate_kind"`
	CandidateCreatedAt time.Time         `json:"candidate_created_at"`
	Score              float64           `json:"score"`
	MatchType          MatchType         `json:"match_type,omitempty"`
	MatchingFields     []FieldName       `json:"matching_fields"`
	Differences        []FieldDifference `json:"differences"`
	FieldScores        []FieldScore      `json:"field_scores"`
}

// ConsideredFields returns every field that took part in scoring, matching or not.
func (r *MatchResult) ConsideredFields() []FieldName {
	fields := make([]FieldName, 0, len(r.MatchingFields)+len(r.Differences))
	fields = append(fields, r.MatchingFields...)
	for _, d := range r.Differences {
		fields = append(fields, d.Field)
	}
	return fields
}

// MatchDecision aggregates the ranked results for one target. It is always
// recomputed from Results, never edited in place.
type MatchDecision struct {
	Results           []MatchResult     `json:"results"`
	HasStrongMatch    bool              `json:"has_strong_match"`
	RecommendedAction RecommendedAction `json:"recommended_action"`
	AutoApply         bool              `json:"auto_apply"`
}

// Top returns the highest ranked result, or nil when there are none.
func (d *MatchDecision) Top() *MatchResult {
	if len(d.Results) == 0 {
		return nil
	}
	return &d.Results[0]
}

// MatchRun is the write-once audit envelope for one engine invocation.
// Re-running a match for the same target appends a new run.
type MatchRun struct {
	ID             string        `json:"id"`
	TenantID       string        `json:"tenant_id"`
	TargetID       string        `json:"target_id"`
	TargetKind     RecordKind    `json:"target_kind"`
	Target         Record        `json:"target"`
	Profile        string        `json:"profile"`
	Variant        Variant       `json:"variant"`
	CandidateCount int           `json:"candidate_count"`
	Decision       MatchDecision `json:"decision"`
	StartedAt      time.Time     `json:"started_at"`
	RecordedAt     time.Time     `json:"recorded_at"`
}

// Duration is the wall time between the start of the run and its recording.
func (r *MatchRun) Duration() time.Duration {
	if r.RecordedAt.IsZero() {
		return 0
	}
	return r.RecordedAt.Sub(r.StartedAt)
}
