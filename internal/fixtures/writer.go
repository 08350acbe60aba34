package fixtures

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"golang-matching-service/internal/models"
	"golang-matching-service/internal/parsers"
)

// File names written by WriteDataset
const (
	DocumentsFile    = "documents.csv"
	TransactionsFile = "transactions.csv"
	LedgerFile       = "ledger.csv"
	ExpectedFile     = "expected.yaml"
)

var columns = []string{
	parsers.ColumnID,
	parsers.ColumnTenant,
	parsers.ColumnKind,
	parsers.ColumnCategory,
	parsers.ColumnCreatedAt,
	parsers.ColumnDate,
	parsers.ColumnAmount,
	parsers.ColumnCurrency,
	parsers.ColumnVendor,
	parsers.ColumnDescription,
}

// WriteCSV writes records in the import format described by config, so the
// output can be read back with a parser using the same config.
func WriteCSV(w io.Writer, records []models.Record, config *parsers.RecordParserConfig) error {
	writer := csv.NewWriter(w)
	writer.Comma = config.Delimiter

	dateFormat := config.DateFormat
	if dateFormat == "" {
		dateFormat = "2006-01-02"
	}

	if config.HasHeader {
		header := make([]string, len(columns))
		for i, column := range columns {
			header[i] = config.GetColumnName(column)
		}
		if err := writer.Write(header); err != nil {
			return err
		}
	}

	for _, r := range records {
		row := []string{
			r.ID,
			r.TenantID,
			string(r.Kind),
			r.Category,
			r.CreatedAt.UTC().Format(time.RFC3339),
			"",
			"",
			r.Currency,
			r.Vendor,
			r.Description,
		}
		if r.Date != nil {
			row[5] = r.Date.Format(dateFormat)
		}
		if r.Amount.Valid {
			row[6] = r.Amount.Decimal.StringFixed(2)
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// Files lists the paths written by WriteDataset
type Files struct {
	Documents    string
	Transactions string
	Ledger       string
	Expected     string
}

// WriteDataset writes documents in the standard format, transactions as a
// bank feed, ledger entries as a ledger export and the planted matches as
// YAML.
func WriteDataset(dir string, ds *Dataset) (*Files, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	files := &Files{
		Documents:    filepath.Join(dir, DocumentsFile),
		Transactions: filepath.Join(dir, TransactionsFile),
		Ledger:       filepath.Join(dir, LedgerFile),
		Expected:     filepath.Join(dir, ExpectedFile),
	}

	for _, out := range []struct {
		path    string
		records []models.Record
		config  *parsers.RecordParserConfig
	}{
		{files.Documents, ds.Documents, parsers.StandardRecordConfig()},
		{files.Transactions, ds.Transactions, parsers.BankFeedConfig()},
		{files.Ledger, ds.LedgerEntries, parsers.LedgerConfig()},
	} {
		if err := writeCSVFile(out.path, out.records, out.config); err != nil {
			return nil, err
		}
	}

	data, err := yaml.Marshal(ds.Expected)
	if err != nil {
		return nil, fmt.Errorf("encode expectations: %w", err)
	}
	if err := os.WriteFile(files.Expected, data, 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", files.Expected, err)
	}

	return files, nil
}

func writeCSVFile(path string, records []models.Record, config *parsers.RecordParserConfig) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer file.Close()

	if err := WriteCSV(file, records, config); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return file.Close()
}

// ReadExpectations loads the planted matches written by WriteDataset.
func ReadExpectations(path string) ([]Expectation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var expected []Expectation
	if err := yaml.Unmarshal(data, &expected); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return expected, nil
}
