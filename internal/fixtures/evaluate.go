package fixtures

import (
	"fmt"
	"sort"
	"strings"

	"golang-matching-service/internal/models"
)

// Outcome is how one planted match fared
type Outcome struct {
	Expectation Expectation
	RunID       string
	TopID       string
	Score       float64
	Found       bool
}

// Accuracy compares match runs with the planted matches of a dataset.
type Accuracy struct {
	Runs     int
	Expected int
	Found    int
	Missed   []Outcome
	// FalsePositives are runs that reported a strong match for a target
	// with nothing planted.
	FalsePositives []string
	// Unevaluated lists planted targets no run was given for.
	Unevaluated []string
}

// Recall is the share of evaluated planted matches that were found.
func (a *Accuracy) Recall() float64 {
	evaluated := a.Expected - len(a.Unevaluated)
	if evaluated == 0 {
		return 0
	}
	return float64(a.Found) / float64(evaluated)
}

// Precision is the share of strong matches that were planted.
func (a *Accuracy) Precision() float64 {
	reported := a.Found + len(a.FalsePositives)
	if reported == 0 {
		return 0
	}
	return float64(a.Found) / float64(reported)
}

// String returns a multi-line summary
func (a *Accuracy) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Runs evaluated: %d\n", a.Runs)
	fmt.Fprintf(&b, "Planted matches: %d (found %d, missed %d, not run %d)\n",
		a.Expected, a.Found, len(a.Missed), len(a.Unevaluated))
	fmt.Fprintf(&b, "Recall: %.1f%%  Precision: %.1f%%\n", a.Recall()*100, a.Precision()*100)

	for _, m := range a.Missed {
		fmt.Fprintf(&b, "  missed %s %s: top %q (%.3f), want one of %s\n",
			m.Expectation.Variant, m.Expectation.TargetID, m.TopID, m.Score,
			strings.Join(m.Expectation.Candidates, ", "))
	}
	for _, id := range a.FalsePositives {
		fmt.Fprintf(&b, "  unexpected strong match for %s\n", id)
	}
	return b.String()
}

// Evaluate scores runs against expected. A planted match is found when the
// run for its target reports a strong match whose top candidate is one of
// the accepted candidates. Duplicate pairs are symmetric: a run for the
// original that tops with the copy also counts.
func Evaluate(expected []Expectation, runs []models.MatchRun) *Accuracy {
	acc := &Accuracy{Runs: len(runs), Expected: len(expected)}

	type key struct {
		variant models.Variant
		target  string
	}
	byTarget := make(map[key]int, len(expected))
	for i, e := range expected {
		byTarget[key{e.Variant, e.TargetID}] = i
	}
	mirrored := make(map[key]int)
	for i, e := range expected {
		if e.Variant == models.VariantDuplicate {
			for _, c := range e.Candidates {
				mirrored[key{e.Variant, c}] = i
			}
		}
	}

	outcomes := make(map[int]*Outcome, len(expected))
	for i := range runs {
		run := &runs[i]
		top := run.Decision.Top()

		idx, planted := byTarget[key{run.Variant, run.TargetID}]
		if !planted {
			if mi, ok := mirrored[key{run.Variant, run.TargetID}]; ok {
				if top != nil && run.Decision.HasStrongMatch && top.CandidateID == expected[mi].TargetID {
					continue
				}
			}
			if run.Decision.HasStrongMatch {
				acc.FalsePositives = append(acc.FalsePositives, run.TargetID)
			}
			continue
		}

		outcome := &Outcome{Expectation: expected[idx], RunID: run.ID}
		if top != nil {
			outcome.TopID = top.CandidateID
			outcome.Score = top.Score
			outcome.Found = run.Decision.HasStrongMatch && contains(expected[idx].Candidates, top.CandidateID)
		}
		outcomes[idx] = outcome
	}

	for i, e := range expected {
		outcome, ok := outcomes[i]
		switch {
		case !ok:
			acc.Unevaluated = append(acc.Unevaluated, e.TargetID)
		case outcome.Found:
			acc.Found++
		default:
			acc.Missed = append(acc.Missed, *outcome)
		}
	}

	sort.Strings(acc.FalsePositives)
	return acc
}

func contains(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
