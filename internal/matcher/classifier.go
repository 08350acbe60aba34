package matcher

import (
	"sort"

	"golang-matching-service/internal/models"
)

// Classifier turns scored results into a MatchDecision.
type Classifier struct {
	variant    models.Variant
	thresholds Thresholds
}

// NewClassifier creates a classifier for a profile variant.
func NewClassifier(variant models.Variant, thresholds Thresholds) *Classifier {
	return &Classifier{variant: variant, thresholds: thresholds}
}

// Classify ranks results and derives the decision from them. The input
// slice is not modified.
//
// Ranking is by score descending; ties go to the most recently created
// candidate and then to the lowest candidate ID, so the output does not
// depend on the order candidates were scored in.
func (c *Classifier) Classify(results []models.MatchResult) models.MatchDecision {
	ranked := make([]models.MatchResult, len(results))
	copy(ranked, results)
	SortResults(ranked)

	for i := range ranked {
		ranked[i].MatchType = c.matchType(ranked[i].Score)
	}

	decision := models.MatchDecision{Results: ranked}
	if len(ranked) == 0 {
		decision.RecommendedAction = models.ActionReview
		return decision
	}

	top := ranked[0].Score
	decision.HasStrongMatch = top > c.thresholds.StrongMatch

	switch c.variant {
	case models.VariantReconciliation:
		// Financial matches are always confirmed by a person.
		decision.RecommendedAction = models.ActionConfirm
	default:
		switch {
		case top > c.thresholds.DeleteDuplicate:
			decision.RecommendedAction = models.ActionDeleteDuplicate
			decision.AutoApply = true
		case top >= c.thresholds.Merge:
			decision.RecommendedAction = models.ActionMerge
		default:
			decision.RecommendedAction = models.ActionKeepBoth
		}
	}

	return decision
}

func (c *Classifier) matchType(score float64) models.MatchType {
	switch {
	case score >= c.thresholds.Exact:
		return models.MatchTypeExact
	case score >= c.thresholds.Partial:
		return models.MatchTypePartial
	default:
		return models.MatchTypeFuzzy
	}
}

// SortResults orders results by score descending, then candidate recency,
// then candidate ID.
func SortResults(results []models.MatchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.CandidateCreatedAt.Equal(b.CandidateCreatedAt) {
			return a.CandidateCreatedAt.After(b.CandidateCreatedAt)
		}
		return a.CandidateID < b.CandidateID
	})
}

// FallbackDecision is what a caller reports when a run fails: duplicate
// detection keeps both records, reconciliation reports no matches. Neither
// is ever auto-applied.
func FallbackDecision(variant models.Variant) models.MatchDecision {
	decision := models.MatchDecision{Results: []models.MatchResult{}}
	if variant == models.VariantReconciliation {
		decision.RecommendedAction = models.ActionReview
	} else {
		decision.RecommendedAction = models.ActionKeepBoth
	}
	return decision
}
