// Package parsers imports records from CSV exports.
//
// Real-world exports differ in delimiter, header names and date layout, so
// every format is described by a RecordParserConfig that maps the standard
// record columns onto the export's headers. Rows are validated one at a
// time; a bad row is reported with its line number and skipped unless the
// import is configured to stop on the first error.
//
// Amount and date cells that cannot be parsed do not fail the row. The raw
// text is kept in Record.Unparsed so the matching engine can score the field
// as unknown instead of silently treating it as missing.
//
// Example usage:
//
//	parser, err := NewRecordParser(BankFeedConfig(), DefaultImportConfig(), log)
//	records, stats, err := parser.ParseRecords(ctx, "feed.csv")
//
//	// Large files
//	stats, err = parser.StreamRecords(ctx, file, "feed.csv", func(batch []models.Record) error {
//		return store.PutRecords(ctx, batch)
//	})
package parsers

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	apperrors "golang-matching-service/pkg/errors"
	"golang-matching-service/pkg/logger"
)

// ParseConfig holds configuration for CSV reading
type ParseConfig struct {
	HasHeader        bool
	Delimiter        rune
	Comment          rune
	TrimLeadingSpace bool
	SkipEmptyRows    bool
	MaxFieldSize     int
	ValidateEncoding bool
}

// DefaultParseConfig returns a configuration with sensible defaults
func DefaultParseConfig() *ParseConfig {
	return &ParseConfig{
		HasHeader:        true,
		Delimiter:        ',',
		TrimLeadingSpace: true,
		SkipEmptyRows:    true,
		MaxFieldSize:     64 * 1024,
		ValidateEncoding: true,
	}
}

// BaseParser provides common CSV reading functionality
type BaseParser struct {
	config *ParseConfig
	logger logger.Logger
}

// NewBaseParser creates a new BaseParser with the given configuration
func NewBaseParser(config *ParseConfig, log logger.Logger) *BaseParser {
	if config == nil {
		config = DefaultParseConfig()
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	log = log.WithComponent("csv_reader")
	log.WithFields(logger.Fields{
		"has_header":        config.HasHeader,
		"delimiter":         string(config.Delimiter),
		"validate_encoding": config.ValidateEncoding,
		"max_field_size":    config.MaxFieldSize,
	}).Debug("Created base parser")

	return &BaseParser{
		config: config,
		logger: log,
	}
}

// ParseContext holds state during one parsing operation
type ParseContext struct {
	Source     string
	LineNumber int
	Headers    []string
	HeaderMap  map[string]int
	ctx        context.Context
}

// NewParseContext creates a new parsing context for the named source
func NewParseContext(ctx context.Context, source string) *ParseContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &ParseContext{
		Source:    source,
		Headers:   make([]string, 0),
		HeaderMap: make(map[string]int),
		ctx:       ctx,
	}
}

// Err returns the context error once parsing has been cancelled.
func (pc *ParseContext) Err() error {
	return pc.ctx.Err()
}

// GetColumnIndex returns the index of a column by name, or -1 if not found
func (pc *ParseContext) GetColumnIndex(name string) int {
	if index, exists := pc.HeaderMap[name]; exists {
		return index
	}

	for header, index := range pc.HeaderMap {
		if strings.EqualFold(header, name) {
			return index
		}
	}

	return -1
}

// OpenFile opens a CSV file and returns a configured csv.Reader over it.
// The caller closes the file.
func (bp *BaseParser) OpenFile(filePath string) (*os.File, *csv.Reader, error) {
	bp.logger.WithField("file_path", filePath).Debug("Opening CSV file")

	file, err := os.Open(filePath)
	if err != nil {
		bp.logger.WithError(err).WithField("file_path", filePath).Error("Failed to open CSV file")

		suggestion := "check the file path and try again"
		if os.IsPermission(err) {
			suggestion = "check read permissions on the file"
		}
		return nil, nil, apperrors.Wrap(err, apperrors.CategoryImport, apperrors.CodeInvalidFormat,
			fmt.Sprintf("cannot open %s", filePath)).
			WithSuggestion(suggestion).
			WithContext("file", filePath)
	}

	return file, bp.NewReader(file), nil
}

// NewReader returns a csv.Reader over r configured for this parser.
func (bp *BaseParser) NewReader(r io.Reader) *csv.Reader {
	reader := csv.NewReader(r)
	reader.Comma = bp.config.Delimiter
	reader.Comment = bp.config.Comment
	reader.TrimLeadingSpace = bp.config.TrimLeadingSpace
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = false
	return reader
}

// ReadHeaders reads the header row and checks that every required column is
// present. Without a header row the required columns are used positionally.
func (bp *BaseParser) ReadHeaders(reader *csv.Reader, pc *ParseContext, requiredHeaders []string) error {
	bp.logger.WithFields(logger.Fields{
		"has_header":       bp.config.HasHeader,
		"required_headers": requiredHeaders,
	}).Debug("Reading CSV headers")

	if !bp.config.HasHeader {
		pc.Headers = append([]string(nil), requiredHeaders...)
		bp.buildHeaderMap(pc)
		return nil
	}

	headers, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return apperrors.ImportError(apperrors.CodeInvalidFormat, pc.Source, 1, "headers", "",
				fmt.Errorf("file is empty")).
				WithSuggestion("ensure the file contains a header row and data rows")
		}

		bp.logger.WithError(err).Error("Failed to read header row")
		return apperrors.ImportError(apperrors.CodeInvalidFormat, pc.Source, 1, "headers", "", err)
	}

	pc.LineNumber++
	pc.Headers = cleanHeaders(headers)
	bp.buildHeaderMap(pc)

	if missing := bp.findMissingHeaders(pc, requiredHeaders); len(missing) > 0 {
		bp.logger.WithFields(logger.Fields{
			"missing_headers":   missing,
			"available_headers": pc.Headers,
		}).Error("Required headers are missing")

		return apperrors.ImportError(apperrors.CodeMissingColumn, pc.Source, pc.LineNumber,
			strings.Join(missing, ", "), "", nil)
	}

	bp.logger.WithField("headers", pc.Headers).Debug("Successfully read headers")
	return nil
}

func cleanHeaders(headers []string) []string {
	cleaned := make([]string, len(headers))
	for i, header := range headers {
		header = strings.TrimSpace(header)
		if i == 0 {
			header = strings.TrimPrefix(header, "\ufeff")
		}
		cleaned[i] = header
	}
	return cleaned
}

func (bp *BaseParser) buildHeaderMap(pc *ParseContext) {
	pc.HeaderMap = make(map[string]int, len(pc.Headers))
	for i, header := range pc.Headers {
		pc.HeaderMap[header] = i
	}
}

func (bp *BaseParser) findMissingHeaders(pc *ParseContext, required []string) []string {
	var missing []string
	for _, header := range required {
		if pc.GetColumnIndex(header) == -1 {
			missing = append(missing, header)
		}
	}
	return missing
}

// ReadRecord reads the next non-empty row. It returns io.EOF at the end of
// input and the context error once parsing has been cancelled.
func (bp *BaseParser) ReadRecord(reader *csv.Reader, pc *ParseContext) ([]string, error) {
	for {
		if err := pc.Err(); err != nil {
			return nil, err
		}

		row, err := reader.Read()
		if err != nil {
			if err == io.EOF {
				return nil, err
			}
			pc.LineNumber++
			bp.logger.WithError(err).WithField("line_number", pc.LineNumber).Warn("Failed to read CSV record")
			return nil, apperrors.ImportError(apperrors.CodeInvalidFormat, pc.Source, pc.LineNumber, "", "", err)
		}

		pc.LineNumber, _ = reader.FieldPos(0)

		if bp.config.SkipEmptyRows && isEmptyRecord(row) {
			bp.logger.WithField("line_number", pc.LineNumber).Debug("Skipping empty record")
			continue
		}

		for i, field := range row {
			column := columnName(pc, i)
			if bp.config.MaxFieldSize > 0 && len(field) > bp.config.MaxFieldSize {
				return nil, apperrors.ImportError(apperrors.CodeInvalidData, pc.Source, pc.LineNumber,
					column, preview(field), fmt.Errorf("field exceeds %d bytes", bp.config.MaxFieldSize))
			}
			if bp.config.ValidateEncoding && !utf8.ValidString(field) {
				return nil, apperrors.ImportError(apperrors.CodeInvalidData, pc.Source, pc.LineNumber,
					column, "", fmt.Errorf("invalid UTF-8 encoding")).
					WithSuggestion("save the file in UTF-8 encoding and try again")
			}
		}

		return row, nil
	}
}

func columnName(pc *ParseContext, index int) string {
	if index < len(pc.Headers) {
		return pc.Headers[index]
	}
	return fmt.Sprintf("field_%d", index)
}

func preview(field string) string {
	if len(field) <= 50 {
		return field
	}
	return field[:50] + "..."
}

func isEmptyRecord(row []string) bool {
	for _, field := range row {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

// GetFieldValue returns the trimmed value of the named column. A column
// missing from the headers yields an empty string; a row shorter than the
// header row is an error.
func (bp *BaseParser) GetFieldValue(row []string, pc *ParseContext, fieldName string) (string, error) {
	index := pc.GetColumnIndex(fieldName)
	if index == -1 {
		return "", nil
	}

	if index >= len(row) {
		bp.logger.WithFields(logger.Fields{
			"field_name":    fieldName,
			"field_index":   index,
			"record_length": len(row),
			"line_number":   pc.LineNumber,
		}).Warn("Field index exceeds record length")

		return "", apperrors.ImportError(apperrors.CodeInvalidData, pc.Source, pc.LineNumber, fieldName, "",
			fmt.Errorf("row has %d fields, column '%s' is at index %d", len(row), fieldName, index)).
			WithSuggestion("check that all rows have the same number of columns as the header")
	}

	return strings.TrimSpace(row[index]), nil
}

// ParseStats holds statistics about an import
type ParseStats struct {
	TotalLines    int
	RecordsParsed int
	RecordsValid  int
	UnparsedCells int
	ErrorCount    int
	Errors        []*apperrors.MatchError
}

// NewParseStats creates a new ParseStats instance
func NewParseStats() *ParseStats {
	return &ParseStats{
		Errors: make([]*apperrors.MatchError, 0),
	}
}

// AddError adds an error to the statistics
func (ps *ParseStats) AddError(err *apperrors.MatchError) {
	ps.Errors = append(ps.Errors, err)
	ps.ErrorCount++
}

// HasErrors returns true if any row was rejected
func (ps *ParseStats) HasErrors() bool {
	return ps.ErrorCount > 0
}

// Summary groups the collected errors by category and code.
func (ps *ParseStats) Summary() *apperrors.ErrorSummary {
	return apperrors.NewErrorSummary(ps.Errors)
}

// String returns a human-readable summary of the statistics
func (ps *ParseStats) String() string {
	return fmt.Sprintf("Parsed %d lines, %d records (%d valid, %d unparsed cells), %d errors",
		ps.TotalLines, ps.RecordsParsed, ps.RecordsValid, ps.UnparsedCells, ps.ErrorCount)
}

// GetSampleErrors returns up to maxSamples error messages for logging
func (ps *ParseStats) GetSampleErrors(maxSamples int) []string {
	if len(ps.Errors) == 0 {
		return nil
	}

	limit := len(ps.Errors)
	if maxSamples > 0 && maxSamples < limit {
		limit = maxSamples
	}

	samples := make([]string, 0, limit)
	for _, err := range ps.Errors[:limit] {
		samples = append(samples, err.Error())
	}
	return samples
}
