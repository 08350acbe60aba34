package matcher

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang-matching-service/internal/metrics"
	"golang-matching-service/internal/models"
)

var invoiceDate = time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

func invoice(id, amt, vendor, description string, date time.Time) models.Record {
	d := date
	return models.Record{
		ID:          id,
		TenantID:    "tenant-a",
		Kind:        models.KindDocument,
		Category:    "invoice",
		CreatedAt:   date.Add(9 * time.Hour),
		Date:        &d,
		Amount:      decimal.NewNullDecimal(decimal.RequireFromString(amt)),
		Currency:    "GBP",
		Vendor:      vendor,
		Description: description,
	}
}

func duplicateScorer() *Scorer {
	return NewScorer(DuplicateDetectionProfile().Weights, nil, nil)
}

func TestScoreIdenticalRecords(t *testing.T) {
	target := invoice("t", "100.00", "Acme Ltd", "January rent", invoiceDate)
	candidate := invoice("c", "100.00", "Acme Ltd", "January rent", invoiceDate)

	result := duplicateScorer().Score(&target, &candidate)

	assert.Equal(t, 1.0, result.Score)
	assert.Equal(t, "c", result.CandidateID)
	assert.Equal(t, models.KindDocument, result.CandidateKind)
	assert.Equal(t, []models.FieldName{
		models.FieldAmount, models.FieldVendor, models.FieldDate, models.FieldDescription,
	}, result.MatchingFields)
	assert.Empty(t, result.Differences)
	assert.Len(t, result.FieldScores, 4)
}

func TestScoreAmountOnlyMatch(t *testing.T) {
	target := invoice("t", "100.00", "Acme Ltd", "January rent", invoiceDate)
	candidate := invoice("c", "100.00", "Globex", "Printer toner", invoiceDate.AddDate(0, 0, 3))

	result := duplicateScorer().Score(&target, &candidate)

	assert.InDelta(t, 0.4, result.Score, 1e-9)
	assert.Equal(t, []models.FieldName{models.FieldAmount}, result.MatchingFields)
	require.Len(t, result.Differences, 3)
	assert.Equal(t, models.FieldVendor, result.Differences[0].Field)
	assert.Equal(t, "Acme Ltd", result.Differences[0].TargetValue)
	assert.Equal(t, "Globex", result.Differences[0].CandidateValue)
}

func TestScoreNoMatch(t *testing.T) {
	target := invoice("t", "100.00", "Acme Ltd", "January rent", invoiceDate)
	candidate := invoice("c", "12.00", "Globex", "Printer toner", invoiceDate.AddDate(0, 1, 0))

	result := duplicateScorer().Score(&target, &candidate)

	assert.Equal(t, 0.0, result.Score)
	assert.Empty(t, result.MatchingFields)
	assert.NotNil(t, result.MatchingFields)
	assert.Len(t, result.Differences, 4)
}

func TestScorePartialVendorAgreement(t *testing.T) {
	target := invoice("t", "100.00", "Acme Ltd", "January rent", invoiceDate)
	candidate := invoice("c", "100.00", "Acme Ltd.", "January rent", invoiceDate)

	result := duplicateScorer().Score(&target, &candidate)

	// 0.4 + 0.3*0.8889 + 0.2 + 0.1
	assert.InDelta(t, 0.9667, result.Score, 1e-9)
}

func TestScoreExcludesDescriptionAbsentOnBothSides(t *testing.T) {
	target := invoice("t", "100.00", "Acme Ltd", "", invoiceDate)
	candidate := invoice("c", "100.00", "ACME LTD", "", invoiceDate)

	result := duplicateScorer().Score(&target, &candidate)

	assert.Equal(t, 1.0, result.Score)
	assert.NotContains(t, result.ConsideredFields(), models.FieldDescription)

	last := result.FieldScores[len(result.FieldScores)-1]
	assert.Equal(t, models.FieldDescription, last.Field)
	assert.True(t, last.Excluded)
}

func TestScoreDescriptionMissingOnOneSide(t *testing.T) {
	target := invoice("t", "100.00", "Acme Ltd", "January rent", invoiceDate)
	candidate := invoice("c", "100.00", "Acme Ltd", "", invoiceDate)

	result := duplicateScorer().Score(&target, &candidate)

	assert.InDelta(t, 0.9, result.Score, 1e-9)
	require.Len(t, result.Differences, 1)
	assert.Equal(t, models.FieldDescription, result.Differences[0].Field)
	assert.Equal(t, "", result.Differences[0].CandidateValue)
}

func TestScoreMissingAmountIsADifference(t *testing.T) {
	target := invoice("t", "100.00", "Acme Ltd", "January rent", invoiceDate)
	target.Amount = decimal.NullDecimal{}
	candidate := invoice("c", "100.00", "Acme Ltd", "January rent", invoiceDate)

	result := duplicateScorer().Score(&target, &candidate)

	assert.InDelta(t, 0.6, result.Score, 1e-9)
	assert.Contains(t, result.ConsideredFields(), models.FieldAmount)
}

func TestScoreUnparsedField(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	scorer := NewScorer(DuplicateDetectionProfile().Weights, nil, m)

	target := invoice("t", "100.00", "Acme Ltd", "January rent", invoiceDate)
	candidate := invoice("c", "100.00", "Acme Ltd", "January rent", invoiceDate)
	candidate.Unparsed = map[models.FieldName]string{models.FieldAmount: "1OO.OO"}

	result := scorer.Score(&target, &candidate)

	assert.InDelta(t, 0.6, result.Score, 1e-9)
	require.Len(t, result.Differences, 1)
	assert.Equal(t, models.FieldAmount, result.Differences[0].Field)
	assert.Equal(t, "1OO.OO", result.Differences[0].CandidateValue)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ComparatorIssues.WithLabelValues("amount")))
}

func TestScoreIsDeterministic(t *testing.T) {
	target := invoice("t", "100.00", "Acme Ltd", "January rent", invoiceDate)
	candidate := invoice("c", "98.40", "Acme Limited", "Jan rent", invoiceDate.Add(6*time.Hour))
	scorer := duplicateScorer()

	first := scorer.Score(&target, &candidate)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, scorer.Score(&target, &candidate))
	}
}

func TestScoreIsMonotonicInAmountAgreement(t *testing.T) {
	target := invoice("t", "100.00", "Acme Ltd", "January rent", invoiceDate)
	scorer := duplicateScorer()

	previous := -1.0
	for _, amt := range []string{"10", "50", "90", "98.9", "99", "99.5", "99.99", "100"} {
		candidate := invoice("c", amt, "Acme Ltd", "January rent", invoiceDate)
		score := scorer.Score(&target, &candidate).Score
		assert.GreaterOrEqual(t, score, previous, "amount %s", amt)
		previous = score
	}
}

func TestScoreIsMonotonicInVendorAgreement(t *testing.T) {
	target := invoice("t", "100.00", "Acme Trading Ltd", "January rent", invoiceDate)
	scorer := duplicateScorer()

	previous := -1.0
	for _, vendor := range []string{"Globex", "Acme", "Acme Trading", "Acme Trading Lt", "acme trading ltd"} {
		candidate := invoice("c", "100.00", vendor, "January rent", invoiceDate)
		score := scorer.Score(&target, &candidate).Score
		assert.GreaterOrEqual(t, score, previous, "vendor %q", vendor)
		previous = score
	}
}

func TestScoreIsBounded(t *testing.T) {
	scorer := duplicateScorer()
	records := []models.Record{
		invoice("a", "100.00", "Acme Ltd", "January rent", invoiceDate),
		invoice("b", "0", "", "", invoiceDate),
		invoice("c", "-250.10", "Globex", "Refund", invoiceDate.AddDate(0, 0, 2)),
		invoice("d", "1000000", "ACME LTD", "january rent", invoiceDate.Add(time.Hour)),
		{ID: "e", TenantID: "tenant-a", Kind: models.KindDocument, CreatedAt: invoiceDate},
	}

	for i := range records {
		for j := range records {
			result := scorer.Score(&records[i], &records[j])
			assert.GreaterOrEqual(t, result.Score, 0.0)
			assert.LessOrEqual(t, result.Score, 1.0)
			assert.Len(t, result.FieldScores, 4)
		}
	}
}

func TestScoreAllFieldsExcluded(t *testing.T) {
	weights := WeightTable{VendorRule("0.5"), DescriptionRule("0.5")}
	scorer := NewScorer(weights, nil, nil)

	target := models.Record{ID: "t"}
	candidate := models.Record{ID: "c"}

	result := scorer.Score(&target, &candidate)
	assert.Equal(t, 0.0, result.Score)
	assert.Empty(t, result.ConsideredFields())
}
