package matcher

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"golang-matching-service/internal/models"
)

func amount(s, currency string) models.FieldValue {
	return models.AmountValue{Amount: decimal.RequireFromString(s), Currency: currency}
}

func text(s string) models.FieldValue {
	return models.TextValue{Text: s}
}

func date(t time.Time) models.FieldValue {
	return models.DateValue{Time: t}
}

func TestCompareAmounts(t *testing.T) {
	rule := AmountRule("1")

	tests := []struct {
		name      string
		target    models.FieldValue
		candidate models.FieldValue
		score     float64
		matching  bool
		problem   bool
	}{
		{"exact", amount("100.00", "GBP"), amount("100", "GBP"), 1, true, false},
		{"within one percent", amount("100", "GBP"), amount("99.5", "GBP"), 0.995, true, false},
		{"threshold is exclusive", amount("100", "GBP"), amount("99", "GBP"), 0.99, false, false},
		{"half", amount("100", ""), amount("50", ""), 0.5, false, false},
		{"relative to target", amount("50", ""), amount("100", ""), 0, false, false},
		{"clamped at zero", amount("10", ""), amount("1000", ""), 0, false, false},
		{"zero matches zero", amount("0", "GBP"), amount("0.00", "GBP"), 1, true, false},
		{"zero target", amount("0", "GBP"), amount("5", "GBP"), 0, false, false},
		{"credit note against invoice", amount("100", "GBP"), amount("-100", "GBP"), 0, false, false},
		{"refund against payment", amount("-100", "GBP"), amount("100", "GBP"), 0, false, false},
		{"both negative", amount("-100", "GBP"), amount("-99.5", "GBP"), 0.995, true, false},
		{"currency on one side only", amount("100", "gbp"), amount("100", ""), 1, true, false},
		{"currency mismatch", amount("100", "GBP"), amount("100", "USD"), 0, false, true},
		{"missing candidate", amount("100", "GBP"), nil, 0, false, false},
		{"missing target", nil, amount("100", "GBP"), 0, false, false},
		{"unparsed", models.UnknownValue{Raw: "1OO"}, amount("100", "GBP"), 0, false, true},
		{"wrong type", amount("100", "GBP"), text("100"), 0, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Compare(rule, tt.target, tt.candidate)
			assert.InDelta(t, tt.score, c.Score, 1e-9)
			assert.Equal(t, tt.matching, c.Matching)
			assert.Equal(t, tt.problem, c.Problem != "", "problem: %q", c.Problem)
			assert.False(t, c.Excluded)
		})
	}
}

func TestCompareAmountsByMagnitude(t *testing.T) {
	rule := MagnitudeRule(AmountRule("1"))

	tests := []struct {
		name      string
		target    models.FieldValue
		candidate models.FieldValue
		score     float64
	}{
		{"debit against document", amount("-100", "GBP"), amount("100", "GBP"), 1},
		{"document against debit", amount("100", "GBP"), amount("-99.5", "GBP"), 0.995},
		{"same sign", amount("-100", "GBP"), amount("-50", "GBP"), 0.5},
		{"zero target", amount("0", "GBP"), amount("-5", "GBP"), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Compare(rule, tt.target, tt.candidate)
			assert.InDelta(t, tt.score, c.Score, 1e-9)
			assert.Empty(t, c.Problem)
		})
	}

	assert.False(t, AmountRule("1").CompareMagnitude)
}

func TestCompareAmountsIsAsymmetric(t *testing.T) {
	rule := AmountRule("1")

	forward := Compare(rule, amount("100", ""), amount("50", ""))
	backward := Compare(rule, amount("50", ""), amount("100", ""))

	assert.InDelta(t, 0.5, forward.Score, 1e-9)
	assert.InDelta(t, 0, backward.Score, 1e-9)
}

func TestCompareText(t *testing.T) {
	vendor := VendorRule("1")
	description := DescriptionRule("1")

	t.Run("case folded", func(t *testing.T) {
		c := Compare(vendor, text("Acme Ltd"), text("ACME LTD"))
		assert.Equal(t, 1.0, c.Score)
		assert.True(t, c.Matching)
	})

	t.Run("whitespace collapsed", func(t *testing.T) {
		c := Compare(vendor, text("  Acme   Ltd "), text("acme ltd"))
		assert.Equal(t, 1.0, c.Score)
	})

	t.Run("unicode folding", func(t *testing.T) {
		c := Compare(vendor, text("ÉCOLE Café"), text("école CAFÉ"))
		assert.Equal(t, 1.0, c.Score)
	})

	t.Run("edit distance", func(t *testing.T) {
		c := Compare(vendor, text("kitten"), text("sitting"))
		assert.InDelta(t, 0.5714, c.Score, 1e-9)
		assert.False(t, c.Matching)
	})

	t.Run("vendor threshold", func(t *testing.T) {
		c := Compare(vendor, text("Acme Ltd"), text("Acme Ltd."))
		assert.InDelta(t, 0.8889, c.Score, 1e-9)
		assert.True(t, c.Matching)
	})

	t.Run("description tolerates more noise", func(t *testing.T) {
		// 3 edits over 11 runes
		c := Compare(description, text("office rent"), text("ofice rmt"))
		assert.InDelta(t, 0.7273, c.Score, 1e-9)
		assert.True(t, c.Matching)

		c = Compare(vendor, text("office rent"), text("ofice rmt"))
		assert.False(t, c.Matching)
	})

	t.Run("symmetric", func(t *testing.T) {
		a := Compare(vendor, text("Globex Corporation"), text("Globex Corp"))
		b := Compare(vendor, text("Globex Corp"), text("Globex Corporation"))
		assert.Equal(t, a, b)
	})

	t.Run("both absent excluded", func(t *testing.T) {
		c := Compare(description, nil, nil)
		assert.True(t, c.Excluded)
		assert.False(t, c.Matching)
		assert.Equal(t, 0.0, c.Score)
	})

	t.Run("blank counts as absent", func(t *testing.T) {
		c := Compare(description, text("   "), nil)
		assert.True(t, c.Excluded)
	})

	t.Run("one side absent", func(t *testing.T) {
		c := Compare(vendor, text("Acme Ltd"), nil)
		assert.False(t, c.Excluded)
		assert.Equal(t, 0.0, c.Score)
		assert.False(t, c.Matching)
	})

	t.Run("unparsed", func(t *testing.T) {
		c := Compare(vendor, text("Acme Ltd"), models.UnknownValue{Raw: "\x00"})
		assert.NotEmpty(t, c.Problem)
		assert.Equal(t, 0.0, c.Score)
	})
}

func TestStringSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, StringSimilarity("", ""))
	assert.Equal(t, 0.0, StringSimilarity("abc", ""))
	assert.Equal(t, 1.0, StringSimilarity("same", "same"))
	assert.InDelta(t, 0.75, StringSimilarity("café", "cafe"), 1e-9)
}

func TestCompareDates(t *testing.T) {
	rule := DateRule("1")
	day := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		candidate models.FieldValue
		score     float64
	}{
		{"same instant", date(day), 1},
		{"inside window", date(day.Add(23 * time.Hour)), 1},
		{"before target", date(day.Add(-23 * time.Hour)), 1},
		{"window is exclusive", date(day.Add(24 * time.Hour)), 0},
		{"far apart", date(day.AddDate(0, 0, 5)), 0},
		{"absent", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Compare(rule, date(day), tt.candidate)
			assert.Equal(t, tt.score, c.Score)
			assert.Equal(t, tt.score == 1, c.Matching)
			assert.False(t, c.Excluded)
		})
	}
}

func TestCompareUnknownComparator(t *testing.T) {
	rule := FieldRule{Field: models.FieldVendor, Comparator: "phonetic", Weight: decimal.NewFromInt(1)}

	c := Compare(rule, text("a"), text("a"))
	assert.Contains(t, c.Problem, "phonetic")
	assert.Equal(t, 0.0, c.Score)
}

func TestComparatorScoresAreBounded(t *testing.T) {
	values := []models.FieldValue{
		nil,
		amount("0", ""), amount("1", ""), amount("-3.5", ""), amount("1000000", ""),
		text(""), text("a"), text("Acme Ltd"), text("ÅÄÖ"),
		date(time.Unix(0, 0)), date(time.Unix(1700000000, 0)),
		models.UnknownValue{Raw: "?"},
	}
	rules := []FieldRule{AmountRule("1"), MagnitudeRule(AmountRule("1")), VendorRule("1"), DescriptionRule("1"), DateRule("1")}

	for _, rule := range rules {
		for _, a := range values {
			for _, b := range values {
				c := Compare(rule, a, b)
				assert.GreaterOrEqual(t, c.Score, 0.0)
				assert.LessOrEqual(t, c.Score, 1.0)
			}
		}
	}
}
