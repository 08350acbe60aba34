package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/segmentio/kafka-go"

	"golang-matching-service/internal/matcher"
	"golang-matching-service/internal/models"
	apperrors "golang-matching-service/pkg/errors"
	"golang-matching-service/pkg/logger"
)

// DocumentEvent is published by the ingestion pipeline once a document's
// fields have been extracted and stored.
type DocumentEvent struct {
	EventID    string    `json:"event_id"`
	TenantID   string    `json:"tenant_id" validate:"required"`
	DocumentID string    `json:"document_id" validate:"required"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Matcher runs one match for a target. *matcher.Engine satisfies it.
type Matcher interface {
	Match(ctx context.Context, tenantID, targetID string, profile *matcher.Profile) (*models.MatchRun, error)
}

type retryableError struct {
	err error
}

func (e retryableError) Error() string { return e.err.Error() }
func (e retryableError) Unwrap() error { return e.err }

// Retryable marks err as worth another attempt on the same message.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return retryableError{err: err}
}

// IsRetryable reports whether err was marked with Retryable.
func IsRetryable(err error) bool {
	var r retryableError
	return errors.As(err, &r)
}

// DuplicateHandler runs duplicate detection for each document event.
type DuplicateHandler struct {
	engine     Matcher
	profile    *matcher.Profile
	validate   *validator.Validate
	logger     logger.Logger
	onDecision func(*models.MatchRun)
}

// HandlerOption configures a DuplicateHandler.
type HandlerOption func(*DuplicateHandler)

// OnDecision registers a callback invoked with every recorded run.
func OnDecision(fn func(*models.MatchRun)) HandlerOption {
	return func(h *DuplicateHandler) {
		h.onDecision = fn
	}
}

// NewDuplicateHandler creates a handler that matches with profile, which
// must be a duplicate-detection profile.
func NewDuplicateHandler(engine Matcher, profile *matcher.Profile, log logger.Logger, opts ...HandlerOption) (*DuplicateHandler, error) {
	if engine == nil {
		return nil, errors.New("consumer: engine is required")
	}
	if profile == nil {
		profile = matcher.DuplicateDetectionProfile()
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	if profile.Variant != models.VariantDuplicate {
		return nil, apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "consumer.profile", profile.Name,
			errors.New("the document consumer only runs duplicate detection"))
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	h := &DuplicateHandler{
		engine:   engine,
		profile:  profile,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   log.WithComponent("duplicate_handler"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Handle decodes a DocumentEvent and matches the document. Malformed
// events, unknown documents and runs already in progress are not retried.
func (h *DuplicateHandler) Handle(ctx context.Context, msg kafka.Message) error {
	var event DocumentEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return apperrors.ValidationError(apperrors.CodeInvalidRecord, "message", string(msg.Key), err)
	}
	if err := h.validate.Struct(event); err != nil {
		return apperrors.ValidationError(apperrors.CodeMissingField, "message", string(msg.Key), err)
	}

	log := h.logger.WithFields(logger.Fields{
		logger.FieldTenantID: event.TenantID,
		logger.FieldTargetID: event.DocumentID,
		"event_id":           event.EventID,
	})

	run, err := h.engine.Match(ctx, event.TenantID, event.DocumentID, h.profile)
	if err != nil {
		switch {
		case apperrors.IsRetryable(err):
			return Retryable(err)
		case apperrors.HasCategory(err, apperrors.CategoryConcurrency):
			log.Info("Duplicate detection already running for document, skipping event")
			return nil
		default:
			return err
		}
	}

	log.WithFields(logger.Fields{
		logger.FieldRunID: run.ID,
		"action":          run.Decision.RecommendedAction,
		"auto_apply":      run.Decision.AutoApply,
	}).Info("Duplicate detection completed")

	if h.onDecision != nil {
		h.onDecision(run)
	}
	return nil
}
