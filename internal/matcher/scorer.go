package matcher

import (
	"github.com/shopspring/decimal"

	"golang-matching-service/internal/metrics"
	"golang-matching-service/internal/models"
	"golang-matching-service/pkg/logger"
)

// Scorer computes the composite score of one candidate against a target
// using a weight table.
//
// Only matching fields contribute to the composite, each as score*weight.
// Non-matching fields are listed as differences and add nothing, so weak
// partial agreement never inflates the score. String fields absent on both
// sides are excluded and the composite is renormalised over the weight of
// the fields actually considered; with every field considered this is the
// plain weighted sum.
type Scorer struct {
	weights WeightTable
	logger  logger.Logger
	metrics *metrics.Metrics
}

// NewScorer creates a scorer for the given weight table. The table is
// assumed valid; see WeightTable.Validate.
func NewScorer(weights WeightTable, log logger.Logger, m *metrics.Metrics) *Scorer {
	if log == nil {
		log = logger.Nop()
	}
	return &Scorer{weights: weights, logger: log, metrics: m}
}

// Score compares candidate against target. It is deterministic and safe for
// concurrent use.
func (s *Scorer) Score(target, candidate *models.Record) models.MatchResult {
	result := models.MatchResult{
		CandidateID:        candidate.ID,
		CandidateKind:      candidate.Kind,
		CandidateCreatedAt: candidate.CreatedAt,
		MatchingFields:     make([]models.FieldName, 0, len(s.weights)),
		Differences:        make([]models.FieldDifference, 0, len(s.weights)),
		FieldScores:        make([]models.FieldScore, 0, len(s.weights)),
	}

	sum := decimal.Zero
	considered := decimal.Zero

	for _, rule := range s.weights {
		tv := target.Field(rule.Field)
		cv := candidate.Field(rule.Field)
		c := Compare(rule, tv, cv)

		if c.Problem != "" {
			s.logger.WithFields(logger.Fields{
				"field":        rule.Field,
				"candidate_id": candidate.ID,
				"problem":      c.Problem,
			}).Debug("Field scored zero")
			s.metrics.ComparatorIssue(string(rule.Field))
		}

		result.FieldScores = append(result.FieldScores, models.FieldScore{
			Field:    rule.Field,
			Score:    c.Score,
			Matching: c.Matching,
			Excluded: c.Excluded,
		})

		if c.Excluded {
			continue
		}
		considered = considered.Add(rule.Weight)

		if c.Matching {
			sum = sum.Add(decimal.NewFromFloat(c.Score).Mul(rule.Weight))
			result.MatchingFields = append(result.MatchingFields, rule.Field)
			continue
		}

		result.Differences = append(result.Differences, models.FieldDifference{
			Field:          rule.Field,
			TargetValue:    models.FormatFieldValue(tv),
			CandidateValue: models.FormatFieldValue(cv),
			Score:          c.Score,
		})
	}

	result.Score = composite(sum, considered)
	return result
}

func composite(sum, considered decimal.Decimal) float64 {
	if !considered.IsPositive() {
		return 0
	}
	score := sum.DivRound(considered, 8).Round(scoreDP)
	if score.GreaterThan(one) {
		score = one
	}
	return score.InexactFloat64()
}
