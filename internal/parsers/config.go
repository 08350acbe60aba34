package parsers

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang-matching-service/internal/models"
)

// Standard column names. A RecordParserConfig maps them to the headers of
// a particular export.
const (
	ColumnID          = "id"
	ColumnTenant      = "tenant_id"
	ColumnKind        = "kind"
	ColumnCategory    = "category"
	ColumnCreatedAt   = "created_at"
	ColumnDate        = "date"
	ColumnAmount      = "amount"
	ColumnCurrency    = "currency"
	ColumnVendor      = "vendor"
	ColumnDescription = "description"
)

// RecordParserConfig represents configuration for parsing one CSV export format
type RecordParserConfig struct {
	Name      string `json:"name" mapstructure:"name"`
	HasHeader bool   `json:"has_header" mapstructure:"has_header"`
	Delimiter rune   `json:"delimiter" mapstructure:"delimiter"`

	// DateFormat is tried before the common formats when set.
	DateFormat string `json:"date_format,omitempty" mapstructure:"date_format"`

	// Defaults apply when the export has no such column or the cell is empty.
	DefaultKind     models.RecordKind `json:"default_kind,omitempty" mapstructure:"default_kind"`
	DefaultTenant   string            `json:"default_tenant,omitempty" mapstructure:"default_tenant"`
	DefaultCurrency string            `json:"default_currency,omitempty" mapstructure:"default_currency"`

	// ColumnAliases maps standard column names to the export's headers.
	ColumnAliases map[string]string `json:"column_aliases,omitempty" mapstructure:"column_aliases"`
	Description   string            `json:"description,omitempty" mapstructure:"description"`
}

// Validate checks if the parser configuration is valid
func (c *RecordParserConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("config name cannot be empty")
	}

	switch c.Delimiter {
	case 0, '\n', '\r', '"':
		return fmt.Errorf("invalid delimiter %q", c.Delimiter)
	}

	if c.DefaultKind != "" && !c.DefaultKind.IsValid() {
		return fmt.Errorf("invalid default kind: %s", c.DefaultKind)
	}

	for standard := range c.ColumnAliases {
		if !isStandardColumn(standard) {
			return fmt.Errorf("alias for unknown column %q", standard)
		}
	}

	return nil
}

// GetColumnName returns the actual column name, checking aliases first
func (c *RecordParserConfig) GetColumnName(standardName string) string {
	if alias, exists := c.ColumnAliases[standardName]; exists {
		return alias
	}
	return standardName
}

// RequiredColumns lists the headers an export must carry. Kind and tenant
// are only required when the configuration supplies no default.
func (c *RecordParserConfig) RequiredColumns() []string {
	required := []string{c.GetColumnName(ColumnID)}
	if c.DefaultTenant == "" {
		required = append(required, c.GetColumnName(ColumnTenant))
	}
	if c.DefaultKind == "" {
		required = append(required, c.GetColumnName(ColumnKind))
	}
	return required
}

// Clone returns a copy that can be modified without touching c.
func (c *RecordParserConfig) Clone() *RecordParserConfig {
	clone := *c
	clone.ColumnAliases = make(map[string]string, len(c.ColumnAliases))
	for k, v := range c.ColumnAliases {
		clone.ColumnAliases[k] = v
	}
	return &clone
}

func isStandardColumn(name string) bool {
	switch name {
	case ColumnID, ColumnTenant, ColumnKind, ColumnCategory, ColumnCreatedAt,
		ColumnDate, ColumnAmount, ColumnCurrency, ColumnVendor, ColumnDescription:
		return true
	}
	return false
}

// StandardRecordConfig is the platform's own export format, one column per
// record attribute.
func StandardRecordConfig() *RecordParserConfig {
	return &RecordParserConfig{
		Name:          "standard",
		HasHeader:     true,
		Delimiter:     ',',
		ColumnAliases: map[string]string{},
		Description:   "Standard record export with one column per attribute",
	}
}

// BankFeedConfig reads bank-feed transaction exports.
func BankFeedConfig() *RecordParserConfig {
	return &RecordParserConfig{
		Name:        "bank_feed",
		HasHeader:   true,
		Delimiter:   ',',
		DateFormat:  "01/02/2006",
		DefaultKind: models.KindTransaction,
		ColumnAliases: map[string]string{
			ColumnID:          "transaction_id",
			ColumnAmount:      "transaction_amount",
			ColumnDate:        "posting_date",
			ColumnVendor:      "payee",
			ColumnDescription: "transaction_description",
		},
		Description: "Bank feed export with MM/DD/YYYY posting dates",
	}
}

// LedgerConfig reads semicolon-delimited ledger exports.
func LedgerConfig() *RecordParserConfig {
	return &RecordParserConfig{
		Name:        "ledger",
		HasHeader:   true,
		Delimiter:   ';',
		DateFormat:  "2006-01-02",
		DefaultKind: models.KindLedgerEntry,
		ColumnAliases: map[string]string{
			ColumnID:          "entry_id",
			ColumnAmount:      "debit_credit_amount",
			ColumnDate:        "value_date",
			ColumnVendor:      "counterparty",
			ColumnDescription: "narrative",
			ColumnCategory:    "account",
		},
		Description: "Ledger export with semicolon delimiter",
	}
}

// ListAvailableRecordConfigs returns all predefined configurations
func ListAvailableRecordConfigs() []*RecordParserConfig {
	return []*RecordParserConfig{
		StandardRecordConfig(),
		BankFeedConfig(),
		LedgerConfig(),
	}
}

// GetRecordConfig returns a predefined configuration by name, or nil
func GetRecordConfig(name string) *RecordParserConfig {
	for _, config := range ListAvailableRecordConfigs() {
		if strings.EqualFold(config.Name, strings.TrimSpace(name)) {
			return config
		}
	}
	return nil
}

// AutoDetectRecordConfig picks the predefined configuration whose ID,
// amount and date headers all appear in headers. It falls back to the
// standard format.
func AutoDetectRecordConfig(headers []string) *RecordParserConfig {
	headerMap := make(map[string]bool)
	for _, header := range headers {
		headerMap[strings.ToLower(strings.TrimSpace(header))] = true
	}

	for _, config := range ListAvailableRecordConfigs() {
		score := 0
		for _, column := range []string{ColumnID, ColumnAmount, ColumnDate} {
			if headerMap[strings.ToLower(config.GetColumnName(column))] {
				score++
			}
		}
		if score == 3 {
			return config
		}
	}

	return StandardRecordConfig()
}

// DetectFileConfig reads the first line of the file at path and picks a
// predefined configuration for it.
func DetectFileConfig(path string) (*RecordParserConfig, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("file %s is empty", path)
	}

	line := strings.TrimPrefix(scanner.Text(), "\ufeff")
	delimiter := ","
	if strings.Count(line, ";") > strings.Count(line, ",") {
		delimiter = ";"
	}
	return AutoDetectRecordConfig(strings.Split(line, delimiter)), nil
}

// MaxBatchSize keeps one record upsert under SQLite's 32766 bind variables
// at eleven columns per record.
const MaxBatchSize = 2000

// ImportConfig holds configuration for batched imports
type ImportConfig struct {
	BatchSize       int  `json:"batch_size" mapstructure:"batch_size"`
	ContinueOnError bool `json:"continue_on_error" mapstructure:"continue_on_error"`
	MaxErrors       int  `json:"max_errors" mapstructure:"max_errors"`
}

// DefaultImportConfig returns a configuration with sensible defaults
func DefaultImportConfig() *ImportConfig {
	return &ImportConfig{
		BatchSize:       500,
		ContinueOnError: true,
		MaxErrors:       100,
	}
}

// Validate checks if the import configuration is valid
func (ic *ImportConfig) Validate() error {
	if ic.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", ic.BatchSize)
	}

	if ic.BatchSize > MaxBatchSize {
		return fmt.Errorf("batch size cannot exceed %d, got %d", MaxBatchSize, ic.BatchSize)
	}

	if ic.MaxErrors < 0 {
		return fmt.Errorf("max errors cannot be negative, got %d", ic.MaxErrors)
	}

	return nil
}
