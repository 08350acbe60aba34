package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord() Record {
	date := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	return Record{
		ID:          "doc-1",
		TenantID:    "tenant-a",
		Kind:        KindDocument,
		Category:    "invoice",
		CreatedAt:   date.Add(2 * time.Hour),
		Date:        &date,
		Amount:      decimal.NewNullDecimal(decimal.RequireFromString("100.00")),
		Currency:    "GBP",
		Vendor:      "Acme Ltd",
		Description: "",
	}
}

func TestRecordKind(t *testing.T) {
	assert.True(t, KindDocument.IsValid())
	assert.True(t, KindLedgerEntry.IsValid())
	assert.False(t, RecordKind("invoice").IsValid())

	tests := map[string]RecordKind{
		"document":    KindDocument,
		" TXN ":       KindTransaction,
		"ledger":      KindLedgerEntry,
		"Transaction": KindTransaction,
	}
	for input, want := range tests {
		got, err := ParseRecordKind(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got)
	}

	_, err := ParseRecordKind("payslip")
	assert.Error(t, err)
}

func TestRecord_Validate(t *testing.T) {
	r := sampleRecord()
	assert.NoError(t, r.Validate())

	noTenant := sampleRecord()
	noTenant.TenantID = " "
	assert.Error(t, noTenant.Validate())

	badKind := sampleRecord()
	badKind.Kind = "payslip"
	assert.Error(t, badKind.Validate())

	noCreated := sampleRecord()
	noCreated.CreatedAt = time.Time{}
	assert.Error(t, noCreated.Validate())
}

func TestRecord_Field(t *testing.T) {
	r := sampleRecord()

	amount, ok := r.Field(FieldAmount).(AmountValue)
	require.True(t, ok)
	assert.True(t, amount.Amount.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, "GBP", amount.Currency)

	date, ok := r.Field(FieldDate).(DateValue)
	require.True(t, ok)
	assert.Equal(t, 10, date.Time.Day())

	vendor, ok := r.Field(FieldVendor).(TextValue)
	require.True(t, ok)
	assert.Equal(t, "Acme Ltd", vendor.Text)

	assert.Nil(t, r.Field(FieldDescription))

	r.Amount = decimal.NullDecimal{}
	r.Date = nil
	assert.Nil(t, r.Field(FieldAmount))
	assert.Nil(t, r.Field(FieldDate))
}

func TestRecord_FieldUnparsed(t *testing.T) {
	r := sampleRecord()
	r.Unparsed = map[FieldName]string{FieldDate: "31/02/2024"}

	v, ok := r.Field(FieldDate).(UnknownValue)
	require.True(t, ok)
	assert.Equal(t, "31/02/2024", v.Raw)
	assert.Equal(t, "31/02/2024", FormatFieldValue(v))

	_, ok = r.Field(FieldName("iban")).(UnknownValue)
	assert.True(t, ok)
}

func TestRecord_JSON(t *testing.T) {
	r := sampleRecord()
	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"amount":"100"`)

	r.Amount = decimal.NullDecimal{}
	data, err = json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"amount":null`)
}

func TestFormatFieldValue(t *testing.T) {
	assert.Equal(t, "", FormatFieldValue(nil))
	assert.Equal(t, "100.5 EUR", FormatFieldValue(AmountValue{Amount: decimal.RequireFromString("100.50"), Currency: "EUR"}))
	assert.Equal(t, "12", FormatFieldValue(AmountValue{Amount: decimal.NewFromInt(12)}))
	assert.Equal(t, "Acme", FormatFieldValue(TextValue{Text: "Acme"}))
}

func TestParseDecimalFromString(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"100.50", "100.5", false},
		{"$1,234.56", "1234.56", false},
		{"£99", "99", false},
		{"-25.00", "-25", false},
		{"", "", true},
		{"abc", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDecimalFromString(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestParseTimeWithFormats(t *testing.T) {
	for _, input := range []string{"2024-01-10", "2024-01-10T08:30:00Z", "01/10/2024", "Jan 10, 2024"} {
		got, err := ParseTimeWithFormats(input)
		require.NoError(t, err, input)
		assert.Equal(t, 2024, got.Year())
		assert.Equal(t, time.January, got.Month())
		assert.Equal(t, 10, got.Day())
	}

	_, err := ParseTimeWithFormats("tomorrow")
	assert.Error(t, err)
}

func TestMatchDecisionTop(t *testing.T) {
	var d MatchDecision
	assert.Nil(t, d.Top())

	d.Results = []MatchResult{{CandidateID: "a", Score: 0.9}, {CandidateID: "b", Score: 0.5}}
	assert.Equal(t, "a", d.Top().CandidateID)
}

func TestMatchResultConsideredFields(t *testing.T) {
	r := MatchResult{
		MatchingFields: []FieldName{FieldAmount, FieldDate},
		Differences:    []FieldDifference{{Field: FieldVendor}},
	}
	assert.ElementsMatch(t, []FieldName{FieldAmount, FieldDate, FieldVendor}, r.ConsideredFields())
}

func TestRecommendedActionIsDestructive(t *testing.T) {
	assert.True(t, ActionDeleteDuplicate.IsDestructive())
	assert.True(t, ActionMerge.IsDestructive())
	assert.False(t, ActionKeepBoth.IsDestructive())
	assert.False(t, ActionConfirm.IsDestructive())
}
