package reporter

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang-matching-service/internal/models"
	"golang-matching-service/pkg/errors"
	"golang-matching-service/pkg/logger"
)

// SafeReportGenerator wraps ReportGenerator with logging and fallbacks.
// When a structured format fails it falls back to console output, and when
// a file cannot be written it writes a backup file next to it.
type SafeReportGenerator struct {
	*ReportGenerator
	logger logger.Logger
}

// NewSafeReportGenerator creates a new safe report generator with error handling
func NewSafeReportGenerator(config *ReportConfig, log logger.Logger) (*SafeReportGenerator, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	generator, err := NewReportGenerator(config)
	if err != nil {
		return nil, errors.ConfigurationError(
			errors.CodeInvalidConfig,
			"report_config",
			config,
			err,
		).WithSuggestion("Check the report configuration values")
	}

	return &SafeReportGenerator{
		ReportGenerator: generator,
		logger:          log.WithComponent("reporter"),
	}, nil
}

// GenerateReportSafely generates a report, falling back to console output
// when the requested format fails.
func (srg *SafeReportGenerator) GenerateReportSafely(runs []models.MatchRun, writer io.Writer) error {
	srg.logger.WithFields(logger.Fields{
		"format": srg.config.Format,
		"runs":   len(runs),
		"output": getWriterDescription(writer),
	}).Debug("Starting report generation")

	if writer == nil {
		return errors.ValidationError(errors.CodeMissingField, "writer", nil, nil).
			WithSuggestion("Provide a valid output writer")
	}
	if runs == nil {
		runs = []models.MatchRun{}
	}

	err := srg.GenerateReport(runs, writer)
	if err == nil {
		return nil
	}

	srg.logger.WithError(err).Warn("Primary report generation failed, attempting fallback")
	if srg.config.Format == FormatConsole {
		return srg.wrapGenerationError(err)
	}

	fallbackConfig := *srg.config
	fallbackConfig.Format = FormatConsole
	fallback, ferr := NewReportGenerator(&fallbackConfig)
	if ferr != nil {
		return srg.wrapGenerationError(err)
	}
	fallback.now = srg.now

	fmt.Fprintf(writer, "NOTE: Report generated in fallback format due to error with requested format\n")
	fmt.Fprintf(writer, "Original error: %v\n\n", err)

	if ferr := fallback.GenerateReport(runs, writer); ferr != nil {
		return errors.InternalError("report_fallback",
			fmt.Errorf("both primary and fallback generation failed: primary=%v, fallback=%v", err, ferr))
	}

	srg.logger.WithField("fallback_format", FormatConsole).Info("Report generated using format fallback")
	return nil
}

// WriteReportFile writes the report to path. If the file cannot be created
// the report goes to a backup path in the same directory, which is returned.
func (srg *SafeReportGenerator) WriteReportFile(runs []models.MatchRun, path string) (string, error) {
	file, err := os.Create(path)
	if err != nil {
		if !isFileError(err) {
			return "", srg.wrapGenerationError(err)
		}

		backupPath := generateBackupPath(path)
		srg.logger.WithFields(logger.Fields{
			"original_file": path,
			"backup_file":   backupPath,
		}).WithError(err).Warn("Attempting output fallback")

		backup, berr := os.Create(backupPath)
		if berr != nil {
			return "", srg.wrapGenerationError(err)
		}
		defer backup.Close()

		if gerr := srg.GenerateReportSafely(runs, backup); gerr != nil {
			return "", gerr
		}
		return backupPath, nil
	}
	defer file.Close()

	if err := srg.GenerateReportSafely(runs, file); err != nil {
		return "", err
	}
	return path, nil
}

// wrapGenerationError wraps generation errors with context
func (srg *SafeReportGenerator) wrapGenerationError(err error) error {
	if matchErr, ok := errors.AsMatchError(err); ok {
		return matchErr
	}

	return errors.InternalError("report_generation", err).
		WithSuggestion("Check the output destination and report format settings")
}

// isFileError checks if the error is file-related
func isFileError(err error) bool {
	return os.IsPermission(err) ||
		os.IsNotExist(err) ||
		os.IsExist(err) ||
		isSpaceError(err)
}

// generateBackupPath creates a backup file path
func generateBackupPath(originalPath string) string {
	dir := filepath.Dir(originalPath)
	base := filepath.Base(originalPath)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)

	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		dir = os.TempDir()
	}

	return filepath.Join(dir, fmt.Sprintf("%s_backup%s", name, ext))
}

func getWriterDescription(writer io.Writer) string {
	switch w := writer.(type) {
	case *os.File:
		if w.Name() != "" {
			return fmt.Sprintf("file:%s", w.Name())
		}
		return "file:unnamed"
	default:
		return fmt.Sprintf("writer:%T", writer)
	}
}

func isSpaceError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "no space left") ||
		strings.Contains(errStr, "disk full") ||
		strings.Contains(errStr, "device full")
}
