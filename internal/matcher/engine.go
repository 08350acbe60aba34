package matcher

import (
	"context"
	"errors"
	"time"

	"golang-matching-service/internal/guard"
	"golang-matching-service/internal/metrics"
	"golang-matching-service/internal/models"
	"golang-matching-service/internal/store"
	apperrors "golang-matching-service/pkg/errors"
	"golang-matching-service/pkg/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is the number of candidates scored in parallel.
const DefaultConcurrency = 8

// Engine runs the select, score, classify and record pipeline for one
// target at a time. It holds no per-run state and is safe for concurrent
// use.
type Engine struct {
	selector    *Selector
	recorder    *Recorder
	guard       guard.RunGuard
	logger      logger.Logger
	metrics     *metrics.Metrics
	concurrency int
	now         func() time.Time
	newID       func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(log logger.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.logger = log
		}
	}
}

// WithGuard sets the run guard. The default never blocks.
func WithGuard(g guard.RunGuard) Option {
	return func(e *Engine) {
		if g != nil {
			e.guard = g
		}
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithConcurrency bounds the number of candidates scored in parallel.
func WithConcurrency(n int) Option {
	return func(e *Engine) { e.concurrency = n }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator replaces the run ID generator.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) {
		if newID != nil {
			e.newID = newID
		}
	}
}

// NewEngine creates an engine over the given stores.
func NewEngine(records store.RecordStore, runs store.RunStore, opts ...Option) (*Engine, error) {
	if records == nil {
		return nil, apperrors.ConfigurationError(apperrors.CodeMissingConfig, "record_store", nil, nil)
	}
	if runs == nil {
		return nil, apperrors.ConfigurationError(apperrors.CodeMissingConfig, "run_store", nil, nil)
	}

	e := &Engine{
		guard:       guard.None{},
		logger:      logger.GetGlobalLogger(),
		concurrency: DefaultConcurrency,
		now:         time.Now,
		newID:       func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.concurrency < 1 {
		return nil, apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "engine.concurrency", e.concurrency, nil).
			WithSuggestion("set engine.concurrency to at least 1")
	}

	e.logger = e.logger.WithComponent("matcher")
	e.selector = NewSelector(records, e.logger)
	e.recorder = NewRecorder(runs, e.now)
	return e, nil
}

// Match compares the target against its candidate pool and records the
// decision. Store errors are returned as they come from the store; nothing
// is recorded when any step fails.
func (e *Engine) Match(ctx context.Context, tenantID, targetID string, profile *Profile) (*models.MatchRun, error) {
	started := e.now()

	if profile == nil {
		return nil, apperrors.ValidationError(apperrors.CodeMissingField, "profile", nil, nil)
	}
	if err := e.validateRequest(tenantID, targetID, profile); err != nil {
		e.metrics.ObserveRun(profile.Name, metrics.OutcomeInvalid, e.now().Sub(started))
		return nil, err
	}

	log := e.logger.WithFields(logger.Fields{
		logger.FieldTenantID: tenantID,
		logger.FieldTargetID: targetID,
		logger.FieldProfile:  profile.Name,
	})

	run, err := e.match(ctx, log, tenantID, targetID, profile, started)
	if err != nil {
		outcome := outcomeOf(err)
		e.metrics.ObserveRun(profile.Name, outcome, e.now().Sub(started))
		if outcome == metrics.OutcomeStoreError {
			log.WithError(err).Error("Match run failed")
		} else {
			log.WithError(err).Warn("Match run aborted")
		}
		return nil, err
	}

	e.metrics.ObserveRun(profile.Name, metrics.OutcomeRecorded, run.Duration())
	e.metrics.AddCandidates(profile.Name, run.CandidateCount)
	e.metrics.ObserveDecision(profile.Name, string(run.Decision.RecommendedAction))

	log.WithFields(logger.Fields{
		logger.FieldRunID:  run.ID,
		"candidates":       run.CandidateCount,
		"action":           run.Decision.RecommendedAction,
		"has_strong_match": run.Decision.HasStrongMatch,
		"duration_ms":      run.Duration().Milliseconds(),
	}).Info("Match run recorded")

	return run, nil
}

func (e *Engine) match(ctx context.Context, log logger.Logger, tenantID, targetID string, profile *Profile, started time.Time) (*models.MatchRun, error) {
	release, err := e.guard.Acquire(ctx, tenantID, targetID)
	if err != nil {
		if errors.Is(err, guard.ErrRunInProgress) {
			busy := apperrors.RunInProgressError(tenantID, targetID)
			busy.Cause = err
			return nil, busy
		}
		return nil, err
	}
	defer release()

	target, candidates, err := e.selector.Select(ctx, tenantID, targetID, profile)
	if err != nil {
		return nil, err
	}
	log.Debugf("Scoring %d candidates", len(candidates))

	results, err := e.scoreAll(ctx, NewScorer(profile.Weights, log, e.metrics), target, candidates)
	if err != nil {
		return nil, err
	}

	run := &models.MatchRun{
		ID:             e.newID(),
		TenantID:       tenantID,
		TargetID:       target.ID,
		TargetKind:     target.Kind,
		Target:         *target,
		Profile:        profile.Name,
		Variant:        profile.Variant,
		CandidateCount: len(candidates),
		Decision:       NewClassifier(profile.Variant, profile.Thresholds).Classify(results),
		StartedAt:      started.UTC(),
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := e.recorder.Record(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// scoreAll scores candidates in parallel. Each goroutine owns one slot of
// the result slice, so the output order follows the input order.
func (e *Engine) scoreAll(ctx context.Context, scorer *Scorer, target *models.Record, candidates []models.Record) ([]models.MatchResult, error) {
	results := make([]models.MatchResult, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for i := range candidates {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = scorer.Score(target, &candidates[i])
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Engine) validateRequest(tenantID, targetID string, profile *Profile) error {
	if tenantID == "" {
		return apperrors.ValidationError(apperrors.CodeMissingField, "tenant_id", tenantID, nil)
	}
	if targetID == "" {
		return apperrors.ValidationError(apperrors.CodeMissingField, "target_id", targetID, nil)
	}
	return profile.Validate()
}

// Evaluate scores and classifies candidates without touching a store. It
// applies no pre-filter: every candidate passed in is scored.
func Evaluate(target *models.Record, candidates []models.Record, profile *Profile) (models.MatchDecision, error) {
	if err := profile.Validate(); err != nil {
		return models.MatchDecision{}, err
	}

	scorer := NewScorer(profile.Weights, nil, nil)
	results := make([]models.MatchResult, 0, len(candidates))
	for i := range candidates {
		results = append(results, scorer.Score(target, &candidates[i]))
	}
	return NewClassifier(profile.Variant, profile.Thresholds).Classify(results), nil
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return metrics.OutcomeCancelled
	case apperrors.IsNotFound(err):
		return metrics.OutcomeNotFound
	case apperrors.HasCategory(err, apperrors.CategoryValidation):
		return metrics.OutcomeInvalid
	case apperrors.HasCategory(err, apperrors.CategoryConcurrency):
		return metrics.OutcomeBusy
	default:
		return metrics.OutcomeStoreError
	}
}
