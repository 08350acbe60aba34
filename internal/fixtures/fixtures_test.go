package fixtures

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang-matching-service/internal/matcher"
	"golang-matching-service/internal/models"
	"golang-matching-service/internal/parsers"
	"golang-matching-service/internal/store"
	"golang-matching-service/pkg/logger"
)

func smallConfig(seed int64) Config {
	cfg := DefaultConfig()
	cfg.Documents = 60
	cfg.DuplicateRatio = 0.2
	cfg.Noise = 8
	cfg.Seed = seed
	return cfg
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty tenant", func(c *Config) { c.TenantID = " " }},
		{"no documents", func(c *Config) { c.Documents = 0 }},
		{"ratio above one", func(c *Config) { c.MatchRatio = 1.5 }},
		{"negative ratio", func(c *Config) { c.DuplicateRatio = -0.1 }},
		{"negative noise", func(c *Config) { c.Noise = -1 }},
		{"inverted dates", func(c *Config) { c.EndDate = c.StartDate }},
		{"empty amount range", func(c *Config) { c.MaxAmount = c.MinAmount }},
		{"zero minimum", func(c *Config) { c.MinAmount = decimal.Zero }},
		{"bad currency", func(c *Config) { c.Currency = "EURO" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())

			_, err := NewGenerator(cfg)
			assert.Error(t, err)
		})
	}
}

func TestGenerate(t *testing.T) {
	cfg := smallConfig(42)
	gen, err := NewGenerator(cfg)
	require.NoError(t, err)
	ds := gen.Generate()

	dups := ds.Targets(models.VariantDuplicate)
	payments := ds.Targets(models.VariantReconciliation)

	assert.Len(t, ds.Documents, cfg.Documents+len(dups))
	assert.Len(t, ds.Transactions, len(payments)+cfg.Noise)
	assert.LessOrEqual(t, len(ds.LedgerEntries), len(payments))
	assert.Len(t, ds.Records(), len(ds.Documents)+len(ds.Transactions)+len(ds.LedgerEntries))

	ids := make(map[string]bool)
	for _, r := range ds.Records() {
		assert.False(t, ids[r.ID], "duplicate record ID %s", r.ID)
		ids[r.ID] = true

		require.NoError(t, r.Validate())
		assert.Equal(t, cfg.TenantID, r.TenantID)
		assert.True(t, r.Amount.Valid)
		require.NotNil(t, r.Date)
		assert.False(t, r.Date.Before(cfg.StartDate))
		assert.True(t, r.Date.Before(cfg.EndDate))
	}

	for _, e := range ds.Expected {
		assert.True(t, ids[e.TargetID], "unknown target %s", e.TargetID)
		for _, c := range e.Candidates {
			assert.True(t, ids[c], "unknown candidate %s", c)
		}
	}

	again, err := NewGenerator(cfg)
	require.NoError(t, err)
	assert.Equal(t, ds, again.Generate(), "same seed must yield the same dataset")
}

func TestWriteDatasetRoundTrip(t *testing.T) {
	gen, err := NewGenerator(smallConfig(7))
	require.NoError(t, err)
	ds := gen.Generate()

	files, err := WriteDataset(filepath.Join(t.TempDir(), "out"), ds)
	require.NoError(t, err)

	for _, tc := range []struct {
		path     string
		expected []models.Record
		config   *parsers.RecordParserConfig
	}{
		{files.Documents, ds.Documents, parsers.StandardRecordConfig()},
		{files.Transactions, ds.Transactions, parsers.BankFeedConfig()},
		{files.Ledger, ds.LedgerEntries, parsers.LedgerConfig()},
	} {
		t.Run(filepath.Base(tc.path), func(t *testing.T) {
			detected, err := parsers.DetectFileConfig(tc.path)
			require.NoError(t, err)
			assert.Equal(t, tc.config.Name, detected.Name)

			parser, err := parsers.NewRecordParser(tc.config, nil, logger.Nop())
			require.NoError(t, err)

			records, stats, err := parser.ParseRecords(context.Background(), tc.path)
			require.NoError(t, err)
			assert.False(t, stats.HasErrors(), stats.GetSampleErrors(5))
			require.Len(t, records, len(tc.expected))

			for i, got := range records {
				want := tc.expected[i]
				assert.Equal(t, want.ID, got.ID)
				assert.Equal(t, want.Kind, got.Kind)
				assert.Equal(t, want.Category, got.Category)
				assert.True(t, want.CreatedAt.Equal(got.CreatedAt), "created_at of %s", want.ID)
				require.NotNil(t, got.Date)
				assert.True(t, want.Date.Equal(*got.Date), "date of %s", want.ID)
				assert.True(t, want.Amount.Decimal.Equal(got.Amount.Decimal), "amount of %s", want.ID)
				assert.Equal(t, want.Vendor, got.Vendor)
				assert.Equal(t, want.Description, got.Description)
			}
		})
	}

	expected, err := ReadExpectations(files.Expected)
	require.NoError(t, err)
	assert.Equal(t, ds.Expected, expected)
}

func TestWriteCSVWithoutHeader(t *testing.T) {
	gen, err := NewGenerator(smallConfig(3))
	require.NoError(t, err)
	ds := gen.Generate()

	config := parsers.StandardRecordConfig()
	config.HasHeader = false

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, ds.Documents[:2], config))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], ds.Documents[0].ID+","))
}

func TestEngineFindsPlantedMatches(t *testing.T) {
	ctx := context.Background()
	gen, err := NewGenerator(smallConfig(11))
	require.NoError(t, err)
	ds := gen.Generate()

	st := store.NewMemory()
	require.NoError(t, st.PutRecords(ctx, ds.Records()))

	engine, err := matcher.NewEngine(st, st, matcher.WithLogger(logger.Nop()))
	require.NoError(t, err)

	var runs []models.MatchRun
	match := func(profile *matcher.Profile, ids []string) {
		for _, id := range ids {
			run, err := engine.Match(ctx, ds.Documents[0].TenantID, id, profile)
			require.NoError(t, err, id)
			runs = append(runs, *run)
		}
	}

	match(matcher.DuplicateDetectionProfile(), ds.Targets(models.VariantDuplicate))

	var transactions []string
	for _, tx := range ds.Transactions {
		transactions = append(transactions, tx.ID)
	}
	match(matcher.ReconciliationProfile(), transactions)

	acc := Evaluate(ds.Expected, runs)
	assert.Empty(t, acc.Missed, acc.String())
	assert.Empty(t, acc.FalsePositives, acc.String())
	assert.Empty(t, acc.Unevaluated)
	assert.Equal(t, 1.0, acc.Recall())
	assert.Equal(t, 1.0, acc.Precision())
}

func TestEvaluate(t *testing.T) {
	strong := func(variant models.Variant, target, top string, score float64) models.MatchRun {
		return models.MatchRun{
			ID:       "run-" + target,
			TargetID: target,
			Variant:  variant,
			Decision: models.MatchDecision{
				Results:        []models.MatchResult{{CandidateID: top, Score: score}},
				HasStrongMatch: score > 0.9,
			},
		}
	}

	expected := []Expectation{
		{Variant: models.VariantDuplicate, TargetID: "d1-dup", Candidates: []string{"d1"}},
		{Variant: models.VariantReconciliation, TargetID: "tx1", Candidates: []string{"d2", "le2"}},
		{Variant: models.VariantReconciliation, TargetID: "tx2", Candidates: []string{"d3"}},
		{Variant: models.VariantReconciliation, TargetID: "tx3", Candidates: []string{"d4"}},
	}

	runs := []models.MatchRun{
		strong(models.VariantDuplicate, "d1-dup", "d1", 0.97),
		// mirror of the planted duplicate pair
		strong(models.VariantDuplicate, "d1", "d1-dup", 0.97),
		strong(models.VariantReconciliation, "tx1", "le2", 1.0),
		// weak top result
		strong(models.VariantReconciliation, "tx2", "d3", 0.8),
		strong(models.VariantReconciliation, "noise", "d9", 0.95),
	}

	acc := Evaluate(expected, runs)
	assert.Equal(t, 5, acc.Runs)
	assert.Equal(t, 4, acc.Expected)
	assert.Equal(t, 2, acc.Found)
	require.Len(t, acc.Missed, 1)
	assert.Equal(t, "tx2", acc.Missed[0].Expectation.TargetID)
	assert.Equal(t, "d3", acc.Missed[0].TopID)
	assert.Equal(t, []string{"noise"}, acc.FalsePositives)
	assert.Equal(t, []string{"tx3"}, acc.Unevaluated)
	assert.InDelta(t, 2.0/3.0, acc.Recall(), 1e-9)
	assert.InDelta(t, 2.0/3.0, acc.Precision(), 1e-9)

	summary := acc.String()
	assert.Contains(t, summary, "missed reconciliation tx2")
	assert.Contains(t, summary, "unexpected strong match for noise")

	empty := Evaluate(nil, nil)
	assert.Zero(t, empty.Recall())
	assert.Zero(t, empty.Precision())
}
