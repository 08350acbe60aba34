package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang-matching-service/internal/guard"
	"golang-matching-service/internal/matcher"
	"golang-matching-service/internal/metrics"
	"golang-matching-service/internal/models"
	"golang-matching-service/internal/store"
	apperrors "golang-matching-service/pkg/errors"
	"golang-matching-service/pkg/logger"
)

const tenantA = "tenant-a"

var base = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

func testRecord(id string, kind models.RecordKind, vendor string, created time.Time) models.Record {
	date := created.Truncate(24 * time.Hour)
	return models.Record{
		ID:        id,
		TenantID:  tenantA,
		Kind:      kind,
		Category:  "invoice",
		CreatedAt: created,
		Date:      &date,
		Amount:    decimal.NewNullDecimal(decimal.RequireFromString("100.00")),
		Currency:  "GBP",
		Vendor:    vendor,
	}
}

func seed(t *testing.T) *store.MemoryStore {
	t.Helper()

	tx := testRecord("tx-1", models.KindTransaction, "ACME LTD", base.Add(2*time.Hour))
	tx.Category = ""

	other := testRecord("doc-b", models.KindDocument, "Acme Ltd", base)
	other.TenantID = "tenant-b"

	s := store.NewMemory()
	require.NoError(t, s.PutRecords(context.Background(), []models.Record{
		testRecord("doc-1", models.KindDocument, "Acme Ltd", base),
		testRecord("doc-dup", models.KindDocument, "Acme Ltd", base.Add(time.Hour)),
		testRecord("le-1", models.KindLedgerEntry, "Acme", base.AddDate(0, 0, 1)),
		tx,
		other,
	}))
	return s
}

type testServer struct {
	server   *Server
	store    *store.MemoryStore
	registry *prometheus.Registry
}

func newTestServer(t *testing.T, records store.RecordStore, opts ...matcher.Option) *testServer {
	t.Helper()

	mem := seed(t)
	if records == nil {
		records = mem
	}

	registry := prometheus.NewRegistry()
	runID := 0
	opts = append([]matcher.Option{
		matcher.WithLogger(logger.Nop()),
		matcher.WithMetrics(metrics.New(registry)),
		matcher.WithIDGenerator(func() string {
			runID++
			return fmt.Sprintf("run-%d", runID)
		}),
	}, opts...)

	engine, err := matcher.NewEngine(records, mem, opts...)
	require.NoError(t, err)

	server, err := NewServer(DefaultConfig(), engine, mem,
		[]*matcher.Profile{matcher.DuplicateDetectionProfile(), matcher.ReconciliationProfile()},
		registry, logger.Nop())
	require.NoError(t, err)

	return &testServer{server: server, store: mem, registry: registry}
}

func (ts *testServer) do(t *testing.T, method, path, tenant, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if tenant != "" {
		req.Header.Set(HeaderTenantID, tenant)
	}

	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// failingRecords fails every record lookup as an unreachable database would.
type failingRecords struct {
	store.RecordStore
}

func (failingRecords) GetRecord(context.Context, string, string) (*models.Record, error) {
	return nil, apperrors.TransientStoreError(apperrors.CodeStoreUnavailable, "get_record", errors.New("connection refused"))
}

type busyGuard struct{}

func (busyGuard) Acquire(context.Context, string, string) (guard.Release, error) {
	return nil, guard.ErrRunInProgress
}

func TestNewServer(t *testing.T) {
	mem := store.NewMemory()
	engine, err := matcher.NewEngine(mem, mem, matcher.WithLogger(logger.Nop()))
	require.NoError(t, err)

	_, err = NewServer(DefaultConfig(), nil, mem, nil, nil, logger.Nop())
	assert.Error(t, err)

	broken := matcher.DuplicateDetectionProfile()
	broken.Weights = matcher.WeightTable{matcher.AmountRule("0.5")}
	_, err = NewServer(DefaultConfig(), engine, mem, []*matcher.Profile{broken}, nil, logger.Nop())
	assert.True(t, apperrors.HasCategory(err, apperrors.CategoryValidation))
}

func TestDetectDuplicates(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/v1/documents/doc-1/duplicates", tenantA, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[MatchResponse](t, rec)
	assert.Equal(t, "run-1", resp.RunID)
	assert.Equal(t, tenantA, resp.TenantID)
	assert.Equal(t, "doc-1", resp.TargetID)
	assert.Equal(t, string(models.VariantDuplicate), resp.Profile)
	assert.False(t, resp.Degraded)
	assert.NotNil(t, resp.RecordedAt)

	require.Len(t, resp.Decision.Results, 1)
	assert.Equal(t, "doc-dup", resp.Decision.Results[0].CandidateID)
	assert.Equal(t, 1.0, resp.Decision.Results[0].Score)
	assert.Equal(t, models.ActionDeleteDuplicate, resp.Decision.RecommendedAction)
	assert.True(t, resp.Decision.AutoApply)
	assert.True(t, resp.Decision.HasStrongMatch)
}

func TestDetectDuplicates_Overrides(t *testing.T) {
	ts := newTestServer(t, nil)

	t.Run("valid override", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/v1/transactions/tx-1/matches", tenantA, `{"max_candidates": 1}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		resp := decode[MatchResponse](t, rec)
		assert.Len(t, resp.Decision.Results, 1)
	})

	t.Run("out of range override", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/v1/documents/doc-1/duplicates", tenantA, `{"max_candidates": 1000}`)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		resp := decode[ErrorResponse](t, rec)
		assert.Equal(t, string(apperrors.CategoryValidation), resp.Category)
	})

	t.Run("malformed body", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/v1/documents/doc-1/duplicates", tenantA, `{"max_candidates":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestReconcileTransaction(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/v1/transactions/tx-1/matches", tenantA, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[MatchResponse](t, rec)
	assert.Equal(t, string(models.VariantReconciliation), resp.Profile)
	assert.Equal(t, 3, resp.CandidateCount)
	require.Len(t, resp.Decision.Results, 3)
	assert.Equal(t, models.ActionConfirm, resp.Decision.RecommendedAction)
	assert.False(t, resp.Decision.AutoApply)

	for _, result := range resp.Decision.Results {
		assert.NotEqual(t, models.KindTransaction, result.CandidateKind)
	}
}

func TestMatch_ClientErrors(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name     string
		path     string
		tenant   string
		status   int
		category apperrors.ErrorCategory
	}{
		{name: "missing tenant", path: "/v1/documents/doc-1/duplicates", status: http.StatusBadRequest},
		{name: "unknown target", path: "/v1/documents/nope/duplicates", tenant: tenantA, status: http.StatusNotFound, category: apperrors.CategoryNotFound},
		{name: "other tenant's record", path: "/v1/documents/doc-1/duplicates", tenant: "tenant-b", status: http.StatusNotFound, category: apperrors.CategoryNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, tt.path, tt.tenant, "")
			assert.Equal(t, tt.status, rec.Code)

			resp := decode[ErrorResponse](t, rec)
			assert.NotEmpty(t, resp.Message)
			assert.Equal(t, string(tt.category), resp.Category)
			assert.NotEmpty(t, resp.RequestID)
		})
	}

	runs, err := ts.store.ListRuns(context.Background(), store.RunFilter{TenantID: tenantA})
	require.NoError(t, err)
	assert.Empty(t, runs, "failed requests record nothing")
}

func TestMatch_DegradedFallback(t *testing.T) {
	t.Run("store failure", func(t *testing.T) {
		ts := newTestServer(t, failingRecords{})

		rec := ts.do(t, http.MethodPost, "/v1/documents/doc-1/duplicates", tenantA, "")
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[MatchResponse](t, rec)
		assert.True(t, resp.Degraded)
		assert.Empty(t, resp.RunID)
		assert.Equal(t, models.ActionKeepBoth, resp.Decision.RecommendedAction)
		assert.False(t, resp.Decision.AutoApply)
		assert.Empty(t, resp.Decision.Results)
		assert.Equal(t, "matching is temporarily unavailable", resp.Message)

		rec = ts.do(t, http.MethodPost, "/v1/transactions/tx-1/matches", tenantA, "")
		require.Equal(t, http.StatusOK, rec.Code)
		resp = decode[MatchResponse](t, rec)
		assert.True(t, resp.Degraded)
		assert.Equal(t, models.ActionReview, resp.Decision.RecommendedAction)
		assert.NotNil(t, resp.Decision.Results)
		assert.Empty(t, resp.Decision.Results)
	})

	t.Run("run in progress", func(t *testing.T) {
		ts := newTestServer(t, nil, matcher.WithGuard(busyGuard{}))

		rec := ts.do(t, http.MethodPost, "/v1/documents/doc-1/duplicates", tenantA, "")
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[MatchResponse](t, rec)
		assert.True(t, resp.Degraded)
		assert.Equal(t, "a match for this record is already running", resp.Message)
	})
}

func TestListRuns(t *testing.T) {
	ts := newTestServer(t, nil)

	for i := 0; i < 2; i++ {
		rec := ts.do(t, http.MethodPost, "/v1/documents/doc-1/duplicates", tenantA, "")
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := ts.do(t, http.MethodGet, "/v1/targets/doc-1/runs", tenantA, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[RunsResponse](t, rec)
	require.Len(t, resp.Runs, 2)
	assert.Equal(t, DefaultConfig().MaxHistory, resp.Limit)
	for _, run := range resp.Runs {
		assert.Equal(t, "doc-1", run.TargetID)
		assert.Equal(t, tenantA, run.TenantID)
	}

	rec = ts.do(t, http.MethodGet, "/v1/targets/doc-1/runs?limit=1", tenantA, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[RunsResponse](t, rec).Runs, 1)

	rec = ts.do(t, http.MethodGet, "/v1/targets/doc-1/runs", "tenant-b", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[RunsResponse](t, rec).Runs)

	rec = ts.do(t, http.MethodGet, "/v1/targets/doc-1/runs?limit=5000", tenantA, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/targets/doc-1/runs?limit=abc", tenantA, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/v1/documents/doc-1/duplicates", tenantA, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "matcher_engine_runs_total")
	assert.Contains(t, rec.Body.String(), `outcome="recorded"`)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/health/live", "", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, ts.do(t, http.MethodGet, "/health/ready", "", "").Code)

	ts.server.SetReady(true)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/health/ready", "", "").Code)
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err      error
		expected int
	}{
		{apperrors.NotFoundError(apperrors.CodeTargetNotFound, tenantA, "x"), http.StatusNotFound},
		{apperrors.ValidationError(apperrors.CodeMissingField, "tenant_id", "", nil), http.StatusUnprocessableEntity},
		{apperrors.RunInProgressError(tenantA, "x"), http.StatusConflict},
		{apperrors.TransientStoreError(apperrors.CodeQueryFailed, "find", errors.New("boom")), http.StatusServiceUnavailable},
		{apperrors.InternalError("match", nil), http.StatusInternalServerError},
		{echo.NewHTTPError(http.StatusTeapot, "tea"), http.StatusTeapot},
		{errors.New("plain"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.expected, StatusCode(tt.err))
		})
	}
}
