package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RecordKind identifies which pool a record belongs to.
type RecordKind string

const (
	// KindDocument is an ingested document such as an invoice or receipt
	KindDocument RecordKind = "document"
	// KindTransaction is a bank-feed transaction
	KindTransaction RecordKind = "transaction"
	// KindLedgerEntry is a posted ledger entry
	KindLedgerEntry RecordKind = "ledger_entry"
)

// String returns the string representation of RecordKind
func (k RecordKind) String() string {
	return string(k)
}

// IsValid checks if the record kind is known
func (k RecordKind) IsValid() bool {
	switch k {
	case KindDocument, KindTransaction, KindLedgerEntry:
		return true
	}
	return false
}

// ParseRecordKind parses a record kind, accepting a few common aliases.
func ParseRecordKind(s string) (RecordKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "document", "doc", "invoice", "receipt":
		return KindDocument, nil
	case "transaction", "txn", "bank_transaction":
		return KindTransaction, nil
	case "ledger_entry", "ledger", "entry":
		return KindLedgerEntry, nil
	default:
		return "", fmt.Errorf("invalid record kind '%s': must be document, transaction or ledger_entry", s)
	}
}

// FieldName names a comparable attribute of a Record.
type FieldName string

const (
	FieldAmount      FieldName = "amount"
	FieldVendor      FieldName = "vendor"
	FieldDate        FieldName = "date"
	FieldDescription FieldName = "description"
)

// Record is a read-only snapshot of a document, transaction or ledger entry.
// The same shape is used for the match target and for every candidate.
type Record struct {
	ID          string              `json:"id"`
	TenantID    string              `json:"tenant_id"`
	Kind        RecordKind          `json:"kind"`
	Category    string              `json:"category,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	Date        *time.Time          `json:"date,omitempty"`
	Amount      decimal.NullDecimal `json:"amount"`
	Currency    string              `json:"currency,omitempty"`
	Vendor      string              `json:"vendor,omitempty"`
	Description string              `json:"description,omitempty"`

	// Unparsed holds extracted values that could not be parsed at
	// ingestion, keyed by the field they were meant for.
	Unparsed map[FieldName]string `json:"unparsed,omitempty"`
}

// Validate performs basic validation on the Record
func (r *Record) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("record ID cannot be empty")
	}

	if strings.TrimSpace(r.TenantID) == "" {
		return fmt.Errorf("record %s has no tenant", r.ID)
	}

	if !r.Kind.IsValid() {
		return fmt.Errorf("invalid record kind: %s", r.Kind)
	}

	if r.CreatedAt.IsZero() {
		return fmt.Errorf("record %s has no creation time", r.ID)
	}

	return nil
}

// Field returns the typed value of the named field, or nil when the record
// carries no value for it.
func (r *Record) Field(name FieldName) FieldValue {
	if raw, ok := r.Unparsed[name]; ok {
		return UnknownValue{Raw: raw, Reason: "unparsed at ingestion"}
	}

	switch name {
	case FieldAmount:
		if !r.Amount.Valid {
			return nil
		}
		return AmountValue{Amount: r.Amount.Decimal, Currency: r.Currency}
	case FieldDate:
		if r.Date == nil || r.Date.IsZero() {
			return nil
		}
		return DateValue{Time: *r.Date}
	case FieldVendor:
		return textOrNil(r.Vendor)
	case FieldDescription:
		return textOrNil(r.Description)
	default:
		return UnknownValue{Reason: fmt.Sprintf("unsupported field %q", name)}
	}
}

func textOrNil(s string) FieldValue {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return TextValue{Text: s}
}

// String returns a string representation of the Record
func (r *Record) String() string {
	amount := "-"
	if r.Amount.Valid {
		amount = strings.TrimSpace(r.Amount.Decimal.String() + " " + r.Currency)
	}
	return fmt.Sprintf("Record{ID: %s, Kind: %s, Amount: %s, Vendor: %q, Created: %s}",
		r.ID, r.Kind, amount, r.Vendor, r.CreatedAt.Format(time.RFC3339))
}

// FieldValue is the typed value of one record field. The concrete type is
// one of AmountValue, DateValue, TextValue or UnknownValue.
type FieldValue interface {
	fieldValue()
	String() string
}

// AmountValue is a monetary amount with its ISO currency code.
type AmountValue struct {
	Amount   decimal.Decimal
	Currency string
}

// DateValue is a semantic date such as an invoice date.
type DateValue struct {
	Time time.Time
}

// TextValue is free text such as a vendor name or description.
type TextValue struct {
	Text string
}

// UnknownValue is an extracted value that could not be parsed.
type UnknownValue struct {
	Raw    string
	Reason string
}

func (AmountValue) fieldValue()  {}
func (DateValue) fieldValue()    {}
func (TextValue) fieldValue()    {}
func (UnknownValue) fieldValue() {}

func (v AmountValue) String() string {
	return strings.TrimSpace(v.Amount.String() + " " + v.Currency)
}

func (v DateValue) String() string {
	return v.Time.Format(time.RFC3339)
}

func (v TextValue) String() string {
	return v.Text
}

func (v UnknownValue) String() string {
	return v.Raw
}

// FormatFieldValue renders a possibly nil value for differences and reports.
func FormatFieldValue(v FieldValue) string {
	if v == nil {
		return ""
	}
	return v.String()
}

// ParseDecimalFromString parses an amount, stripping currency symbols and
// thousand separators.
func ParseDecimalFromString(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount string cannot be empty")
	}

	for _, symbol := range []string{"$", "£", "€", ","} {
		s = strings.ReplaceAll(s, symbol, "")
	}
	s = strings.TrimSpace(s)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal format '%s': %w", s, err)
	}

	return d, nil
}

// ParseTimeWithFormats attempts to parse time from string using multiple common formats
func ParseTimeWithFormats(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("time string cannot be empty")
	}

	formats := []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02",
		"01/02/2006 15:04:05",
		"01/02/2006",
		"2006/01/02",
		"Jan 2, 2006",
		"January 2, 2006",
	}

	var lastErr error
	for _, format := range formats {
		t, err := time.Parse(format, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("unable to parse time '%s': %w", s, lastErr)
}

// NormalizeCurrency upper-cases and trims an ISO currency code.
func NormalizeCurrency(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
