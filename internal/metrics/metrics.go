// Package metrics provides Prometheus metrics for the matching engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Run outcomes recorded on RunsTotal.
const (
	OutcomeRecorded   = "recorded"
	OutcomeNotFound   = "not_found"
	OutcomeInvalid    = "invalid"
	OutcomeStoreError = "store_error"
	OutcomeBusy       = "in_progress"
	OutcomeCancelled  = "cancelled"
)

// Metrics holds the engine collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	RunsTotal        *prometheus.CounterVec
	RunDuration      *prometheus.HistogramVec
	CandidatesScored *prometheus.CounterVec
	Decisions        *prometheus.CounterVec
	ComparatorIssues *prometheus.CounterVec
}

// New registers the engine collectors on reg. Pass prometheus.NewRegistry()
// in tests to avoid clashing with the default registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "matcher",
				Subsystem: "engine",
				Name:      "runs_total",
				Help:      "Total number of match runs by profile and outcome",
			},
			[]string{"profile", "outcome"},
		),
		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "matcher",
				Subsystem: "engine",
				Name:      "run_duration_seconds",
				Help:      "Duration of match runs in seconds",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"profile"},
		),
		CandidatesScored: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "matcher",
				Subsystem: "engine",
				Name:      "candidates_scored_total",
				Help:      "Total number of candidates scored",
			},
			[]string{"profile"},
		),
		Decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "matcher",
				Subsystem: "classifier",
				Name:      "decisions_total",
				Help:      "Total number of decisions by recommended action",
			},
			[]string{"profile", "action"},
		),
		ComparatorIssues: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "matcher",
				Subsystem: "scorer",
				Name:      "comparator_issues_total",
				Help:      "Fields scored zero because a value was unparsed or incomparable",
			},
			[]string{"field"},
		),
	}
}

// ObserveRun records the outcome and duration of one run.
func (m *Metrics) ObserveRun(profile, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(profile, outcome).Inc()
	m.RunDuration.WithLabelValues(profile).Observe(d.Seconds())
}

// AddCandidates counts scored candidates.
func (m *Metrics) AddCandidates(profile string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.CandidatesScored.WithLabelValues(profile).Add(float64(n))
}

// ObserveDecision counts a recommended action.
func (m *Metrics) ObserveDecision(profile, action string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(profile, action).Inc()
}

// ComparatorIssue counts a field that could not be compared.
func (m *Metrics) ComparatorIssue(field string) {
	if m == nil {
		return
	}
	m.ComparatorIssues.WithLabelValues(field).Inc()
}
