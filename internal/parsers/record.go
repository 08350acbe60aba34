package parsers

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"golang-matching-service/internal/models"
	apperrors "golang-matching-service/pkg/errors"
	"golang-matching-service/pkg/logger"
)

// standardColumnOrder is the positional layout used for files without a
// header row.
var standardColumnOrder = []string{
	ColumnID, ColumnTenant, ColumnKind, ColumnCategory, ColumnCreatedAt,
	ColumnDate, ColumnAmount, ColumnCurrency, ColumnVendor, ColumnDescription,
}

// recordRow carries the identity columns that must be well formed for a row
// to be imported at all.
type recordRow struct {
	ID       string            `csv:"id" validate:"required,max=256"`
	TenantID string            `csv:"tenant_id" validate:"required,max=256"`
	Kind     models.RecordKind `csv:"kind" validate:"required,oneof=document transaction ledger_entry"`
	Currency string            `csv:"currency" validate:"omitempty,len=3,alpha"`
}

// RecordParser turns CSV rows into records.
type RecordParser struct {
	*BaseParser
	config       *RecordParserConfig
	importConfig *ImportConfig
	validate     *validator.Validate
	logger       logger.Logger
	now          func() time.Time
}

// NewRecordParser creates a parser for the given export format.
func NewRecordParser(config *RecordParserConfig, importConfig *ImportConfig, log logger.Logger) (*RecordParser, error) {
	if config == nil {
		config = StandardRecordConfig()
	}
	if importConfig == nil {
		importConfig = DefaultImportConfig()
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	if err := config.Validate(); err != nil {
		return nil, apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "parser_config", config.Name, err)
	}
	if err := importConfig.Validate(); err != nil {
		return nil, apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "import_config", importConfig.BatchSize, err)
	}

	parseConfig := DefaultParseConfig()
	parseConfig.HasHeader = config.HasHeader
	parseConfig.Delimiter = config.Delimiter

	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		return field.Tag.Get("csv")
	})

	return &RecordParser{
		BaseParser:   NewBaseParser(parseConfig, log),
		config:       config,
		importConfig: importConfig,
		validate:     validate,
		logger:       log.WithComponent("record_parser").WithField("format", config.Name),
		now:          time.Now,
	}, nil
}

// Config returns the export format the parser reads.
func (p *RecordParser) Config() *RecordParserConfig {
	return p.config
}

// ParseRecords reads every valid record from the file at path.
func (p *RecordParser) ParseRecords(ctx context.Context, path string) ([]models.Record, *ParseStats, error) {
	file, reader, err := p.OpenFile(path)
	if err != nil {
		return nil, NewParseStats(), err
	}
	defer file.Close()

	return p.parseAll(ctx, reader, path)
}

// ParseReader reads every valid record from r. The source name is only used
// in error messages.
func (p *RecordParser) ParseReader(ctx context.Context, r io.Reader, source string) ([]models.Record, *ParseStats, error) {
	return p.parseAll(ctx, p.NewReader(r), source)
}

func (p *RecordParser) parseAll(ctx context.Context, reader *csv.Reader, source string) ([]models.Record, *ParseStats, error) {
	records := make([]models.Record, 0)
	stats, err := p.parse(ctx, reader, source, func(record models.Record) error {
		records = append(records, record)
		return nil
	})
	if err != nil {
		return nil, stats, err
	}

	p.logger.WithFields(logger.Fields{
		"source":  source,
		"records": len(records),
		"errors":  stats.ErrorCount,
	}).Info("Parsed records")

	return records, stats, nil
}

// StreamRecords reads r and hands valid records to callback in batches of
// the configured batch size. A callback error stops the import.
func (p *RecordParser) StreamRecords(ctx context.Context, r io.Reader, source string, callback func(batch []models.Record) error) (*ParseStats, error) {
	batchSize := p.importConfig.BatchSize
	batch := make([]models.Record, 0, batchSize)
	batches := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		batches++
		p.logger.WithFields(logger.Fields{
			"batch":      batches,
			"batch_size": len(batch),
		}).Debug("Flushing record batch")

		if err := callback(batch); err != nil {
			return err
		}
		batch = make([]models.Record, 0, batchSize)
		return nil
	}

	stats, err := p.parse(ctx, p.NewReader(r), source, func(record models.Record) error {
		batch = append(batch, record)
		if len(batch) >= batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return stats, err
	}

	if err := flush(); err != nil {
		return stats, err
	}
	return stats, nil
}

func (p *RecordParser) parse(ctx context.Context, reader *csv.Reader, source string, emit func(models.Record) error) (*ParseStats, error) {
	pc := NewParseContext(ctx, source)
	stats := NewParseStats()

	required := p.config.RequiredColumns()
	if !p.config.HasHeader {
		required = p.positionalColumns()
	}
	if err := p.ReadHeaders(reader, pc, required); err != nil {
		return stats, err
	}

	seen := make(map[string]int)
	for {
		row, err := p.ReadRecord(reader, pc)
		if err == io.EOF {
			break
		}
		stats.TotalLines = pc.LineNumber
		if err != nil {
			matchErr, ok := apperrors.AsMatchError(err)
			if !ok {
				return stats, err
			}
			if stop := p.reject(stats, matchErr); stop != nil {
				return stats, stop
			}
			continue
		}

		stats.RecordsParsed++
		record, rowErrs := p.parseRow(row, pc)
		if len(rowErrs) == 0 {
			key := record.TenantID + "\x00" + record.ID
			if first, dup := seen[key]; dup {
				rowErrs = append(rowErrs, apperrors.ImportError(apperrors.CodeInvalidData, source, pc.LineNumber,
					p.config.GetColumnName(ColumnID), record.ID, fmt.Errorf("duplicate of line %d", first)))
			} else {
				seen[key] = pc.LineNumber
			}
		}

		if len(rowErrs) > 0 {
			for _, rowErr := range rowErrs {
				if stop := p.reject(stats, rowErr); stop != nil {
					return stats, stop
				}
			}
			continue
		}

		stats.RecordsValid++
		stats.UnparsedCells += len(record.Unparsed)
		if err := emit(record); err != nil {
			return stats, err
		}
	}

	return stats, nil
}

func (p *RecordParser) positionalColumns() []string {
	columns := make([]string, len(standardColumnOrder))
	for i, column := range standardColumnOrder {
		columns[i] = p.config.GetColumnName(column)
	}
	return columns
}

// reject records a row error and returns non-nil when the import must stop.
func (p *RecordParser) reject(stats *ParseStats, err *apperrors.MatchError) error {
	stats.AddError(err)
	p.logger.WithError(err).Warn("Rejected CSV row")

	if !p.importConfig.ContinueOnError {
		return err
	}
	if p.importConfig.MaxErrors > 0 && stats.ErrorCount > p.importConfig.MaxErrors {
		return apperrors.Wrap(stats.Summary(), apperrors.CategoryImport, apperrors.CodeInvalidData,
			fmt.Sprintf("import aborted after %d errors", stats.ErrorCount)).
			WithSuggestion("fix the reported rows or raise max_errors")
	}
	return nil
}

func (p *RecordParser) parseRow(row []string, pc *ParseContext) (models.Record, []*apperrors.MatchError) {
	var errs []*apperrors.MatchError
	value := func(column string) string {
		v, err := p.GetFieldValue(row, pc, p.config.GetColumnName(column))
		if err != nil {
			if matchErr, ok := apperrors.AsMatchError(err); ok {
				errs = append(errs, matchErr)
			}
			return ""
		}
		return v
	}

	fields := recordRow{
		ID:       value(ColumnID),
		TenantID: orDefault(value(ColumnTenant), p.config.DefaultTenant),
		Currency: strings.ToUpper(orDefault(value(ColumnCurrency), p.config.DefaultCurrency)),
	}
	kind := value(ColumnKind)
	if kind == "" {
		fields.Kind = p.config.DefaultKind
	} else if parsed, err := models.ParseRecordKind(kind); err == nil {
		fields.Kind = parsed
	} else {
		fields.Kind = models.RecordKind(kind)
	}

	if len(errs) > 0 {
		return models.Record{}, errs
	}
	if err := p.validate.Struct(fields); err != nil {
		return models.Record{}, p.validationErrors(err, pc)
	}

	record := models.Record{
		ID:          fields.ID,
		TenantID:    fields.TenantID,
		Kind:        fields.Kind,
		Category:    value(ColumnCategory),
		Currency:    fields.Currency,
		Vendor:      value(ColumnVendor),
		Description: value(ColumnDescription),
	}

	if raw := value(ColumnAmount); raw != "" {
		if amount, err := parseAmount(raw); err == nil {
			record.Amount = decimal.NullDecimal{Decimal: amount, Valid: true}
		} else {
			p.markUnparsed(&record, models.FieldAmount, raw, pc, err)
		}
	}

	if raw := value(ColumnDate); raw != "" {
		if date, err := p.parseTime(raw); err == nil {
			record.Date = &date
		} else {
			p.markUnparsed(&record, models.FieldDate, raw, pc, err)
		}
	}

	switch raw := value(ColumnCreatedAt); {
	case raw != "":
		createdAt, err := p.parseTime(raw)
		if err != nil {
			column := p.config.GetColumnName(ColumnCreatedAt)
			return models.Record{}, []*apperrors.MatchError{
				apperrors.ImportError(apperrors.CodeInvalidData, pc.Source, pc.LineNumber, column, raw, err),
			}
		}
		record.CreatedAt = createdAt
	case record.Date != nil:
		record.CreatedAt = *record.Date
	default:
		record.CreatedAt = p.now().UTC()
	}

	if len(errs) > 0 {
		return models.Record{}, errs
	}
	return record, nil
}

func (p *RecordParser) validationErrors(err error, pc *ParseContext) []*apperrors.MatchError {
	validationErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []*apperrors.MatchError{
			apperrors.ImportError(apperrors.CodeInvalidData, pc.Source, pc.LineNumber, "", "", err),
		}
	}

	errs := make([]*apperrors.MatchError, 0, len(validationErrs))
	for _, fe := range validationErrs {
		reason := fe.Tag()
		if fe.Param() != "" {
			reason += "=" + fe.Param()
		}
		errs = append(errs, apperrors.ImportError(
			apperrors.CodeInvalidData,
			pc.Source,
			pc.LineNumber,
			p.config.GetColumnName(fe.Field()),
			fmt.Sprint(fe.Value()),
			fmt.Errorf("failed '%s' validation", reason),
		))
	}
	return errs
}

func (p *RecordParser) markUnparsed(record *models.Record, field models.FieldName, raw string, pc *ParseContext, err error) {
	if record.Unparsed == nil {
		record.Unparsed = make(map[models.FieldName]string)
	}
	record.Unparsed[field] = raw

	p.logger.WithFields(logger.Fields{
		"line_number": pc.LineNumber,
		"field":       field,
		"value":       raw,
	}).WithError(err).Debug("Keeping unparseable value")
}

func (p *RecordParser) parseTime(raw string) (time.Time, error) {
	if p.config.DateFormat != "" {
		if t, err := time.Parse(p.config.DateFormat, raw); err == nil {
			return t.UTC(), nil
		}
	}
	t, err := models.ParseTimeWithFormats(raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// parseAmount accepts accounting notation, where "(12.50)" is -12.50.
func parseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "(") && strings.HasSuffix(raw, ")") {
		amount, err := models.ParseDecimalFromString(raw[1 : len(raw)-1])
		if err != nil {
			return decimal.Zero, err
		}
		return amount.Neg(), nil
	}
	return models.ParseDecimalFromString(raw)
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
