// Package matcher provides the similarity-based matching engine shared by
// duplicate-document detection and bank-transaction reconciliation.
//
// One engine serves both callers. A Profile supplies everything that
// differs between them:
//   - the ordered weight table (field, comparator, weight, threshold)
//   - which record kinds form the candidate pool
//   - whether candidates must share the target's category
//   - the candidate time window and cap
//   - the decision thresholds and classification variant
//
// The pipeline for one target is:
//  1. Candidate selection from the tenant-scoped record store
//  2. Composite scoring of every candidate, fanned out across goroutines
//  3. Classification into a ranked MatchDecision
//  4. Append-only recording of the run for audit
//
// Example usage:
//
//	profile := matcher.DuplicateDetectionProfile()
//	profile.MaxCandidates = 25
//
//	engine, err := matcher.NewEngine(records, runs, matcher.WithLogger(log))
//	run, err := engine.Match(ctx, tenantID, documentID, profile)
package matcher

import (
	"fmt"
	"strings"
	"time"

	"golang-matching-service/internal/models"
	apperrors "golang-matching-service/pkg/errors"

	"github.com/shopspring/decimal"
)

// ComparatorKind selects the field comparator applied to a weight table entry.
type ComparatorKind string

const (
	// ComparatorNumeric compares amounts relative to the target magnitude.
	ComparatorNumeric ComparatorKind = "numeric"

	// ComparatorString compares case-folded text by edit distance.
	ComparatorString ComparatorKind = "string"

	// ComparatorDate is a step function over the distance between two dates.
	ComparatorDate ComparatorKind = "date"
)

// String returns the string representation of ComparatorKind
func (k ComparatorKind) String() string {
	return string(k)
}

// FieldRule is one entry of a weight table.
type FieldRule struct {
	Field      models.FieldName `json:"field" mapstructure:"field"`
	Comparator ComparatorKind   `json:"comparator" mapstructure:"comparator"`
	Weight     decimal.Decimal  `json:"weight" mapstructure:"weight"`

	// Threshold is the score a field must exceed to count as matching.
	Threshold float64 `json:"threshold" mapstructure:"threshold"`

	// Window is the date comparator's proximity window. Ignored by the
	// other comparators.
	Window time.Duration `json:"window,omitempty" mapstructure:"window"`

	// CompareMagnitude makes the numeric comparator ignore signs, so a bank
	// debit of -100 matches a document of 100.
	CompareMagnitude bool `json:"compare_magnitude,omitempty" mapstructure:"compare_magnitude"`
}

// WeightTable is the ordered list of fields scored for one comparison type.
type WeightTable []FieldRule

// Validate checks that every rule is usable and that the weights sum to
// exactly 1. The sum is computed in decimal so 0.4+0.3+0.2+0.1 is exact.
func (wt WeightTable) Validate() error {
	if len(wt) == 0 {
		return apperrors.ValidationError(apperrors.CodeInvalidWeights, "weights", "empty", nil)
	}

	seen := make(map[models.FieldName]bool, len(wt))
	total := decimal.Zero
	for _, rule := range wt {
		if seen[rule.Field] {
			return apperrors.ValidationError(apperrors.CodeInvalidWeights, string(rule.Field), "duplicate field", nil)
		}
		seen[rule.Field] = true

		switch rule.Comparator {
		case ComparatorNumeric, ComparatorString:
		case ComparatorDate:
			if rule.Window <= 0 {
				return apperrors.ValidationError(apperrors.CodeInvalidWeights, string(rule.Field), "date window must be positive", nil)
			}
		default:
			return apperrors.ValidationError(apperrors.CodeInvalidWeights, string(rule.Field),
				fmt.Sprintf("unknown comparator %q", rule.Comparator), nil)
		}

		if !rule.Weight.IsPositive() {
			return apperrors.ValidationError(apperrors.CodeInvalidWeights, string(rule.Field),
				fmt.Sprintf("weight %s must be positive", rule.Weight), nil)
		}
		if rule.Threshold < 0 || rule.Threshold >= 1 {
			return apperrors.ValidationError(apperrors.CodeOutOfRange, string(rule.Field),
				fmt.Sprintf("threshold %.4f must be in [0, 1)", rule.Threshold), nil)
		}
		total = total.Add(rule.Weight)
	}

	if !total.Equal(decimal.NewFromInt(1)) {
		return apperrors.ValidationError(apperrors.CodeInvalidWeights, "weights",
			fmt.Sprintf("sum is %s", total), nil)
	}

	return nil
}

// Fields returns the field names in table order.
func (wt WeightTable) Fields() []models.FieldName {
	fields := make([]models.FieldName, len(wt))
	for i, rule := range wt {
		fields[i] = rule.Field
	}
	return fields
}

// Standard field rules. Thresholds follow the comparator contracts: an
// amount must be within about 1 percent, a vendor name above 0.8 and a
// free-text description above 0.7.
func AmountRule(weight string) FieldRule {
	return FieldRule{Field: models.FieldAmount, Comparator: ComparatorNumeric, Weight: decimal.RequireFromString(weight), Threshold: 0.99}
}

// MagnitudeRule returns rule with signs ignored by the numeric comparator.
func MagnitudeRule(rule FieldRule) FieldRule {
	rule.CompareMagnitude = true
	return rule
}

func VendorRule(weight string) FieldRule {
	return FieldRule{Field: models.FieldVendor, Comparator: ComparatorString, Weight: decimal.RequireFromString(weight), Threshold: 0.8}
}

func DescriptionRule(weight string) FieldRule {
	return FieldRule{Field: models.FieldDescription, Comparator: ComparatorString, Weight: decimal.RequireFromString(weight), Threshold: 0.7}
}

func DateRule(weight string) FieldRule {
	return FieldRule{Field: models.FieldDate, Comparator: ComparatorDate, Weight: decimal.RequireFromString(weight), Threshold: 0.5, Window: 24 * time.Hour}
}

// Thresholds holds the decision bands used by the classifier.
type Thresholds struct {
	// StrongMatch is the top score above which a decision reports a strong match.
	StrongMatch float64 `json:"strong_match" mapstructure:"strong_match"`

	// DeleteDuplicate is the score above which a duplicate may be deleted.
	DeleteDuplicate float64 `json:"delete_duplicate" mapstructure:"delete_duplicate"`

	// Merge is the lowest score at which merging is recommended.
	Merge float64 `json:"merge" mapstructure:"merge"`

	// Exact and Partial are the lower bounds of the match-type bands.
	Exact   float64 `json:"exact" mapstructure:"exact"`
	Partial float64 `json:"partial" mapstructure:"partial"`
}

// DefaultThresholds returns the standard decision bands.
func DefaultThresholds() Thresholds {
	return Thresholds{
		StrongMatch:     0.9,
		DeleteDuplicate: 0.95,
		Merge:           0.85,
		Exact:           0.95,
		Partial:         0.8,
	}
}

// Validate checks if the thresholds are ordered and within [0, 1]
func (t Thresholds) Validate() error {
	for name, v := range map[string]float64{
		"strong_match":     t.StrongMatch,
		"delete_duplicate": t.DeleteDuplicate,
		"merge":            t.Merge,
		"exact":            t.Exact,
		"partial":          t.Partial,
	} {
		if v < 0 || v > 1 {
			return apperrors.ValidationError(apperrors.CodeOutOfRange, name, v, nil)
		}
	}
	if t.Merge > t.DeleteDuplicate {
		return apperrors.ValidationError(apperrors.CodeOutOfRange, "merge",
			fmt.Sprintf("%.2f is above delete_duplicate %.2f", t.Merge, t.DeleteDuplicate), nil)
	}
	if t.Partial > t.Exact {
		return apperrors.ValidationError(apperrors.CodeOutOfRange, "partial",
			fmt.Sprintf("%.2f is above exact %.2f", t.Partial, t.Exact), nil)
	}
	return nil
}

// Default candidate selection limits.
const (
	DefaultMaxCandidates = 50
	DefaultWindowDays    = 7

	// MaxCandidatesLimit keeps one run's result insert under SQLite's
	// 32766 bind variables.
	MaxCandidatesLimit = 1000
)

// Profile parameterises one caller of the engine.
type Profile struct {
	Name    string         `json:"name"`
	Variant models.Variant `json:"variant"`
	Weights WeightTable    `json:"weights"`

	// CandidateKinds restricts the candidate pool. Empty means the
	// target's own kind.
	CandidateKinds []models.RecordKind `json:"candidate_kinds,omitempty"`

	// MatchCategory requires candidates to share the target's category.
	MatchCategory bool `json:"match_category"`

	// WindowDays is the pre-filter window applied to both the creation
	// time and the semantic date of candidates.
	WindowDays int `json:"window_days"`

	// MaxCandidates caps the number of candidates scored per target.
	MaxCandidates int `json:"max_candidates"`

	Thresholds Thresholds `json:"thresholds"`
}

// DuplicateDetectionProfile returns the profile used by the document
// ingestion pipeline.
func DuplicateDetectionProfile() *Profile {
	return &Profile{
		Name:    string(models.VariantDuplicate),
		Variant: models.VariantDuplicate,
		Weights: WeightTable{
			AmountRule("0.4"),
			VendorRule("0.3"),
			DateRule("0.2"),
			DescriptionRule("0.1"),
		},
		MatchCategory: true,
		WindowDays:    DefaultWindowDays,
		MaxCandidates: DefaultMaxCandidates,
		Thresholds:    DefaultThresholds(),
	}
}

// ReconciliationProfile returns the profile used to match an unmatched bank
// transaction against documents and ledger entries.
func ReconciliationProfile() *Profile {
	return &Profile{
		Name:    string(models.VariantReconciliation),
		Variant: models.VariantReconciliation,
		Weights: WeightTable{
			MagnitudeRule(AmountRule("0.5")),
			VendorRule("0.3"),
			DateRule("0.2"),
		},
		CandidateKinds: []models.RecordKind{models.KindDocument, models.KindLedgerEntry},
		MatchCategory:  false,
		WindowDays:     DefaultWindowDays,
		MaxCandidates:  DefaultMaxCandidates,
		Thresholds:     DefaultThresholds(),
	}
}

// ProfileByName returns a fresh copy of a built-in profile.
func ProfileByName(name string) (*Profile, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case string(models.VariantDuplicate), "duplicates", "dedup":
		return DuplicateDetectionProfile(), nil
	case string(models.VariantReconciliation), "reconcile":
		return ReconciliationProfile(), nil
	default:
		return nil, apperrors.ConfigurationError(apperrors.CodeUnknownProfile, "profile", name, nil)
	}
}

// Validate checks if the profile is usable by the engine
func (p *Profile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return apperrors.ValidationError(apperrors.CodeMissingField, "name", p.Name, nil)
	}

	switch p.Variant {
	case models.VariantDuplicate, models.VariantReconciliation:
	default:
		return apperrors.ValidationError(apperrors.CodeInvalidRecord, "variant", p.Variant, nil)
	}

	for _, kind := range p.CandidateKinds {
		if !kind.IsValid() {
			return apperrors.ValidationError(apperrors.CodeInvalidRecord, "candidate_kinds", kind, nil)
		}
	}

	if p.WindowDays <= 0 {
		return apperrors.ValidationError(apperrors.CodeOutOfRange, "window_days", p.WindowDays, nil)
	}

	if p.MaxCandidates <= 0 || p.MaxCandidates > MaxCandidatesLimit {
		return apperrors.ValidationError(apperrors.CodeOutOfRange, "max_candidates", p.MaxCandidates, nil)
	}

	if err := p.Weights.Validate(); err != nil {
		return err
	}

	return p.Thresholds.Validate()
}

// KindsFor returns the candidate kinds for a given target.
func (p *Profile) KindsFor(target *models.Record) []models.RecordKind {
	if len(p.CandidateKinds) == 0 {
		return []models.RecordKind{target.Kind}
	}
	return p.CandidateKinds
}

// Window returns the candidate pre-filter window as a duration.
func (p *Profile) Window() time.Duration {
	return time.Duration(p.WindowDays) * 24 * time.Hour
}

// Clone creates a deep copy of the profile
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}

	clone := *p
	clone.Weights = append(WeightTable(nil), p.Weights...)
	clone.CandidateKinds = append([]models.RecordKind(nil), p.CandidateKinds...)
	return &clone
}

// String returns a human-readable description of the profile
func (p *Profile) String() string {
	parts := make([]string, len(p.Weights))
	for i, rule := range p.Weights {
		parts[i] = fmt.Sprintf("%s:%s", rule.Field, rule.Weight)
	}
	return fmt.Sprintf("Profile{Name: %s, Variant: %s, Weights: [%s], Window: %d days, MaxCandidates: %d}",
		p.Name, p.Variant, strings.Join(parts, " "), p.WindowDays, p.MaxCandidates)
}
