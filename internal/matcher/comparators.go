package matcher

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang-matching-service/internal/models"

	"github.com/agnivade/levenshtein"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
)

// Comparison is the outcome of comparing one field. Problems are reported
// in Problem instead of being returned as errors; the scorer folds them
// into the result's differences.
type Comparison struct {
	Score    float64
	Matching bool
	Excluded bool
	Problem  string
}

var (
	one     = decimal.NewFromInt(1)
	scoreDP = int32(4)
)

// Compare dispatches to the comparator named by the rule. It is pure and
// never reads the clock.
func Compare(rule FieldRule, target, candidate models.FieldValue) Comparison {
	if problem := unknownProblem(target, candidate); problem != "" {
		return Comparison{Problem: problem}
	}

	// Only string fields may be absent on both sides without penalty.
	if rule.Comparator != ComparatorString && (target == nil || candidate == nil) {
		return Comparison{Score: 0}
	}

	var c Comparison
	switch rule.Comparator {
	case ComparatorNumeric:
		c = compareAmounts(target, candidate, rule.CompareMagnitude)
	case ComparatorString:
		c = compareText(target, candidate)
	case ComparatorDate:
		c = compareDates(target, candidate, rule.Window)
	default:
		return Comparison{Problem: fmt.Sprintf("unknown comparator %q", rule.Comparator)}
	}

	if !c.Excluded && c.Problem == "" {
		c.Matching = c.Score > rule.Threshold
	}
	return c
}

func unknownProblem(values ...models.FieldValue) string {
	for _, v := range values {
		if u, ok := v.(models.UnknownValue); ok {
			return fmt.Sprintf("unparsed value %q: %s", u.Raw, u.Reason)
		}
	}
	return ""
}

// compareAmounts scores the candidate amount relative to the target:
//
//	score = 1 - min(|t - c| / |t|, 1)
//
// The comparison is asymmetric. Swapping target and candidate changes the
// denominator, so 100 vs 50 scores 0.5 while 50 vs 100 scores 0. Signs
// count: -100 vs 100 scores 0 unless magnitude is set, in which case both
// sides are compared as absolute values. A zero target only matches a zero
// candidate. Amounts in different currencies never match.
func compareAmounts(target, candidate models.FieldValue, magnitude bool) Comparison {
	t, tok := target.(models.AmountValue)
	c, cok := candidate.(models.AmountValue)
	if !tok || !cok {
		return typeMismatch(target, candidate)
	}

	tc, cc := models.NormalizeCurrency(t.Currency), models.NormalizeCurrency(c.Currency)
	if tc != "" && cc != "" && tc != cc {
		return Comparison{Problem: fmt.Sprintf("currency mismatch %s vs %s", tc, cc)}
	}

	ta, ca := t.Amount, c.Amount
	if magnitude {
		ta, ca = ta.Abs(), ca.Abs()
	}
	if ta.IsZero() {
		if ca.IsZero() {
			return Comparison{Score: 1}
		}
		return Comparison{Score: 0}
	}

	ratio := ta.Sub(ca).Abs().DivRound(ta.Abs(), 8)
	if ratio.GreaterThan(one) {
		ratio = one
	}
	return Comparison{Score: one.Sub(ratio).Round(scoreDP).InexactFloat64()}
}

// compareText scores case-folded, whitespace-collapsed strings by unit-cost
// Levenshtein distance over runes. Two empty values carry no signal and are
// excluded from scoring.
func compareText(target, candidate models.FieldValue) Comparison {
	a, aok := textOf(target)
	b, bok := textOf(candidate)
	if !aok || !bok {
		return typeMismatch(target, candidate)
	}

	a, b = normalizeText(a), normalizeText(b)
	switch {
	case a == "" && b == "":
		return Comparison{Excluded: true}
	case a == "" || b == "":
		return Comparison{Score: 0}
	case a == b:
		return Comparison{Score: 1}
	}

	return Comparison{Score: roundScore(StringSimilarity(a, b))}
}

func textOf(v models.FieldValue) (string, bool) {
	switch tv := v.(type) {
	case nil:
		return "", true
	case models.TextValue:
		return tv.Text, true
	default:
		return "", false
	}
}

// normalizeText applies Unicode case folding and collapses runs of
// whitespace. A Caser is stateful, so each call builds its own.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(cases.Fold().String(s)), " ")
}

// StringSimilarity returns 1 - lev(a, b) / max(len(a), len(b)) measured in
// runes. Inputs are compared as given.
func StringSimilarity(a, b string) float64 {
	maxLen := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > maxLen {
		maxLen = n
	}
	if maxLen == 0 {
		return 1
	}

	distance := levenshtein.ComputeDistance(a, b)
	return 1 - float64(distance)/float64(maxLen)
}

// compareDates is a step function: 1 inside the window, 0 outside.
func compareDates(target, candidate models.FieldValue, window time.Duration) Comparison {
	t, tok := target.(models.DateValue)
	c, cok := candidate.(models.DateValue)
	if !tok || !cok {
		return typeMismatch(target, candidate)
	}

	diff := t.Time.Sub(c.Time)
	if diff < 0 {
		diff = -diff
	}
	if diff < window {
		return Comparison{Score: 1}
	}
	return Comparison{Score: 0}
}

func typeMismatch(target, candidate models.FieldValue) Comparison {
	return Comparison{Problem: fmt.Sprintf("cannot compare %T with %T", target, candidate)}
}

func roundScore(f float64) float64 {
	return decimal.NewFromFloat(f).Round(scoreDP).InexactFloat64()
}
