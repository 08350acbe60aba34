package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"golang-matching-service/internal/matcher"
	"golang-matching-service/internal/models"
	"golang-matching-service/internal/store"
	apperrors "golang-matching-service/pkg/errors"
	"golang-matching-service/pkg/logger"
)

// MatchRequest holds optional per-request profile overrides. An empty body
// uses the configured profile unchanged.
type MatchRequest struct {
	WindowDays    int `json:"window_days" validate:"omitempty,min=1,max=365"`
	MaxCandidates int `json:"max_candidates" validate:"omitempty,min=1,max=500"`
}

// MatchResponse is returned by both match endpoints. Degraded is set when
// the engine failed and Decision is the caller's safe fallback.
type MatchResponse struct {
	RunID          string               `json:"run_id,omitempty"`
	TenantID       string               `json:"tenant_id"`
	TargetID       string               `json:"target_id"`
	Profile        string               `json:"profile"`
	CandidateCount int                  `json:"candidate_count"`
	Decision       models.MatchDecision `json:"decision"`
	Degraded       bool                 `json:"degraded"`
	Message        string               `json:"message,omitempty"`
	RecordedAt     *time.Time           `json:"recorded_at,omitempty"`
}

// RunsQuery pages through a target's audit history.
type RunsQuery struct {
	Limit  int `query:"limit" validate:"omitempty,min=1,max=1000"`
	Offset int `query:"offset" validate:"omitempty,min=0"`
}

// RunsResponse lists runs newest first.
type RunsResponse struct {
	TenantID string            `json:"tenant_id"`
	TargetID string            `json:"target_id"`
	Runs     []models.MatchRun `json:"runs"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

func (s *Server) detectDuplicates(c echo.Context) error {
	return s.match(c, models.VariantDuplicate)
}

func (s *Server) reconcileTransaction(c echo.Context) error {
	return s.match(c, models.VariantReconciliation)
}

func (s *Server) match(c echo.Context, variant models.Variant) error {
	tenantID := tenantFrom(c)
	targetID := c.Param("id")

	var req MatchRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := c.Validate(&req); err != nil {
		return apperrors.ValidationError(apperrors.CodeOutOfRange, "request", err.Error(), err)
	}

	base, ok := s.profiles[variant]
	if !ok {
		return apperrors.ConfigurationError(apperrors.CodeUnknownProfile, "profile", string(variant), nil)
	}
	profile := base.Clone()
	if req.WindowDays > 0 {
		profile.WindowDays = req.WindowDays
	}
	if req.MaxCandidates > 0 {
		profile.MaxCandidates = req.MaxCandidates
	}

	log := s.logger.WithFields(logger.Fields{
		logger.FieldTenantID: tenantID,
		logger.FieldTargetID: targetID,
		logger.FieldProfile:  profile.Name,
	})

	run, err := s.engine.Match(c.Request().Context(), tenantID, targetID, profile)
	if err != nil {
		if apperrors.IsNotFound(err) || apperrors.HasCategory(err, apperrors.CategoryValidation) {
			return err
		}

		log.WithError(err).Warn("Match failed, returning fallback decision")
		return c.JSON(http.StatusOK, MatchResponse{
			TenantID: tenantID,
			TargetID: targetID,
			Profile:  profile.Name,
			Decision: matcher.FallbackDecision(variant),
			Degraded: true,
			Message:  fallbackMessage(err),
		})
	}

	recordedAt := run.RecordedAt
	return c.JSON(http.StatusOK, MatchResponse{
		RunID:          run.ID,
		TenantID:       run.TenantID,
		TargetID:       run.TargetID,
		Profile:        run.Profile,
		CandidateCount: run.CandidateCount,
		Decision:       run.Decision,
		RecordedAt:     &recordedAt,
	})
}

func fallbackMessage(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "matching timed out"
	case apperrors.HasCategory(err, apperrors.CategoryConcurrency):
		return "a match for this record is already running"
	default:
		return "matching is temporarily unavailable"
	}
}

func (s *Server) listRuns(c echo.Context) error {
	tenantID := tenantFrom(c)
	targetID := c.Param("id")

	var q RunsQuery
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, &q); err != nil {
		return err
	}
	if err := c.Validate(&q); err != nil {
		return apperrors.ValidationError(apperrors.CodeOutOfRange, "query", err.Error(), err)
	}
	if q.Limit == 0 || q.Limit > s.config.MaxHistory {
		q.Limit = s.config.MaxHistory
	}

	runs, err := s.runs.ListRuns(c.Request().Context(), store.RunFilter{
		TenantID: tenantID,
		TargetID: targetID,
		Limit:    q.Limit,
		Offset:   q.Offset,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, RunsResponse{
		TenantID: tenantID,
		TargetID: targetID,
		Runs:     runs,
		Limit:    q.Limit,
		Offset:   q.Offset,
	})
}
