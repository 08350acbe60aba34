package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang-matching-service/internal/models"
	apperrors "golang-matching-service/pkg/errors"
)

func TestBuiltInProfilesAreValid(t *testing.T) {
	for _, p := range []*Profile{DuplicateDetectionProfile(), ReconciliationProfile()} {
		t.Run(p.Name, func(t *testing.T) {
			require.NoError(t, p.Validate())
		})
	}
}

func TestDuplicateDetectionProfile(t *testing.T) {
	p := DuplicateDetectionProfile()

	assert.Equal(t, models.VariantDuplicate, p.Variant)
	assert.Equal(t, []models.FieldName{
		models.FieldAmount, models.FieldVendor, models.FieldDate, models.FieldDescription,
	}, p.Weights.Fields())
	assert.True(t, p.MatchCategory)
	assert.Equal(t, 7, p.WindowDays)
	assert.Equal(t, 50, p.MaxCandidates)

	target := &models.Record{Kind: models.KindDocument}
	assert.Equal(t, []models.RecordKind{models.KindDocument}, p.KindsFor(target))
}

func TestReconciliationProfile(t *testing.T) {
	p := ReconciliationProfile()

	assert.Equal(t, models.VariantReconciliation, p.Variant)
	assert.Equal(t, []models.FieldName{models.FieldAmount, models.FieldVendor, models.FieldDate}, p.Weights.Fields())
	assert.False(t, p.MatchCategory)

	target := &models.Record{Kind: models.KindTransaction}
	assert.Equal(t, []models.RecordKind{models.KindDocument, models.KindLedgerEntry}, p.KindsFor(target))
}

func TestWeightTableValidate(t *testing.T) {
	tests := []struct {
		name    string
		table   WeightTable
		wantErr bool
	}{
		{"standard", WeightTable{AmountRule("0.4"), VendorRule("0.3"), DateRule("0.2"), DescriptionRule("0.1")}, false},
		{"single field", WeightTable{AmountRule("1")}, false},
		{"empty", WeightTable{}, true},
		{"sum below one", WeightTable{AmountRule("0.4"), VendorRule("0.3"), DateRule("0.2")}, true},
		{"sum above one", WeightTable{AmountRule("0.6"), VendorRule("0.5")}, true},
		{"duplicate field", WeightTable{AmountRule("0.5"), AmountRule("0.5")}, true},
		{"zero weight", WeightTable{AmountRule("1"), VendorRule("0")}, true},
		{"negative weight", WeightTable{AmountRule("1.1"), VendorRule("-0.1")}, true},
		{"unknown comparator", WeightTable{{Field: models.FieldVendor, Comparator: "soundex", Weight: AmountRule("1").Weight}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.table.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperrors.HasCategory(err, apperrors.CategoryValidation))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestWeightTableValidateRuleParameters(t *testing.T) {
	noWindow := DateRule("1")
	noWindow.Window = 0
	assert.Error(t, WeightTable{noWindow}.Validate())

	highThreshold := AmountRule("1")
	highThreshold.Threshold = 1
	assert.Error(t, WeightTable{highThreshold}.Validate())
}

func TestThresholdsValidate(t *testing.T) {
	assert.NoError(t, DefaultThresholds().Validate())

	inverted := DefaultThresholds()
	inverted.Merge = 0.97
	assert.Error(t, inverted.Validate())

	outOfRange := DefaultThresholds()
	outOfRange.StrongMatch = 1.5
	assert.Error(t, outOfRange.Validate())

	bands := DefaultThresholds()
	bands.Partial = 0.99
	assert.Error(t, bands.Validate())
}

func TestProfileValidate(t *testing.T) {
	mutate := func(fn func(p *Profile)) *Profile {
		p := DuplicateDetectionProfile()
		fn(p)
		return p
	}

	tests := []struct {
		name    string
		profile *Profile
	}{
		{"no name", mutate(func(p *Profile) { p.Name = " " })},
		{"unknown variant", mutate(func(p *Profile) { p.Variant = "clustering" })},
		{"bad kind", mutate(func(p *Profile) { p.CandidateKinds = []models.RecordKind{"invoice"} })},
		{"zero window", mutate(func(p *Profile) { p.WindowDays = 0 })},
		{"zero cap", mutate(func(p *Profile) { p.MaxCandidates = 0 })},
		{"cap above limit", mutate(func(p *Profile) { p.MaxCandidates = MaxCandidatesLimit + 1 })},
		{"bad weights", mutate(func(p *Profile) { p.Weights = p.Weights[:2] })},
		{"bad thresholds", mutate(func(p *Profile) { p.Thresholds.Exact = -1 })},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.profile.Validate())
		})
	}
}

func TestProfileByName(t *testing.T) {
	p, err := ProfileByName("duplicate_detection")
	require.NoError(t, err)
	assert.Equal(t, models.VariantDuplicate, p.Variant)

	p, err = ProfileByName(" Reconcile ")
	require.NoError(t, err)
	assert.Equal(t, models.VariantReconciliation, p.Variant)

	_, err = ProfileByName("clustering")
	require.Error(t, err)
	assert.True(t, apperrors.HasCategory(err, apperrors.CategoryConfiguration))
}

func TestProfileClone(t *testing.T) {
	original := ReconciliationProfile()
	clone := original.Clone()

	clone.Weights[0] = VendorRule("0.5")
	clone.CandidateKinds[0] = models.KindTransaction
	clone.MaxCandidates = 5

	assert.Equal(t, models.FieldAmount, original.Weights[0].Field)
	assert.Equal(t, models.KindDocument, original.CandidateKinds[0])
	assert.Equal(t, DefaultMaxCandidates, original.MaxCandidates)
	assert.Nil(t, (*Profile)(nil).Clone())
}

func TestProfileWindowAndString(t *testing.T) {
	p := DuplicateDetectionProfile()
	assert.Equal(t, 7*24, int(p.Window().Hours()))
	assert.Contains(t, p.String(), "amount:0.4")
}
