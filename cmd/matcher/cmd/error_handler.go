package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"syscall"

	apperrors "golang-matching-service/pkg/errors"
	"golang-matching-service/pkg/logger"
)

// CLIErrorHandler provides user-friendly error handling for CLI operations
type CLIErrorHandler struct {
	logger  logger.Logger
	out     io.Writer
	verbose bool
}

// NewCLIErrorHandler creates a CLI error handler writing to out.
func NewCLIErrorHandler(out io.Writer, verbose bool) *CLIErrorHandler {
	return &CLIErrorHandler{
		logger:  logger.GetGlobalLogger().WithComponent("cli"),
		out:     out,
		verbose: verbose,
	}
}

// HandleError prints err and returns the process exit code.
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}

	h.logger.WithError(err).Debug("Command failed")

	var summary *apperrors.ErrorSummary
	if errors.As(err, &summary) {
		return h.handleSummary(summary)
	}

	if matchErr, ok := apperrors.AsMatchError(err); ok {
		return h.handleMatchError(matchErr)
	}

	return h.handleGenericError(err)
}

func (h *CLIErrorHandler) handleMatchError(err *apperrors.MatchError) int {
	fmt.Fprintf(h.out, "Error: %s\n", err.Message)

	if len(err.Context) > 0 {
		keys := make([]string, 0, len(err.Context))
		for key := range err.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		fmt.Fprintf(h.out, "\nContext:\n")
		for _, key := range keys {
			fmt.Fprintf(h.out, "  %s: %v\n", key, err.Context[key])
		}
	}

	if err.Suggestion != "" {
		fmt.Fprintf(h.out, "\nSuggestion: %s\n", err.Suggestion)
	}

	fmt.Fprintf(h.out, "\n%s\n", getCategoryHelp(err.Category))

	if h.verbose && err.Cause != nil {
		fmt.Fprintf(h.out, "\nUnderlying error: %v\n", err.Cause)
	}

	return err.GetExitCode()
}

// handleSummary prints every failure of a multi-target command. The exit
// code is taken from the first failure.
func (h *CLIErrorHandler) handleSummary(summary *apperrors.ErrorSummary) int {
	if summary.Total == 0 {
		return 0
	}

	fmt.Fprintf(h.out, "Error: %s\n\n", summary.Error())
	for i, err := range summary.Errors {
		fmt.Fprintf(h.out, "  %d. %s\n", i+1, err.Error())
		if i >= 9 && summary.Total > 10 {
			fmt.Fprintf(h.out, "  ... and %d more errors\n", summary.Total-10)
			break
		}
	}

	return summary.Errors[0].GetExitCode()
}

func (h *CLIErrorHandler) handleGenericError(err error) int {
	if isFileNotFoundError(err) {
		fmt.Fprintf(h.out, "Error: File not found\n")
		fmt.Fprintf(h.out, "Suggestion: Check if the file path is correct and the file exists\n")
		return 2
	}

	if isPermissionError(err) {
		fmt.Fprintf(h.out, "Error: Permission denied\n")
		fmt.Fprintf(h.out, "Suggestion: Check file permissions and ensure you have read access\n")
		return 2
	}

	if isDiskFullError(err) {
		fmt.Fprintf(h.out, "Error: Insufficient disk space\n")
		fmt.Fprintf(h.out, "Suggestion: Free up disk space and try again\n")
		return 2
	}

	fmt.Fprintf(h.out, "Error: %v\n", err)
	if !h.verbose {
		fmt.Fprintf(h.out, "\nRun with --verbose for more detail\n")
	}
	return 1
}

func getCategoryHelp(category apperrors.ErrorCategory) string {
	switch category {
	case apperrors.CategoryNotFound:
		return `Not found help:
• Check the record ID and the --tenant value
• Records are only visible to the tenant that imported them
• Use 'matcher import' to load records before matching`

	case apperrors.CategoryValidation:
		return `Validation error help:
• Check that all required fields have values
• Verify numeric flags are within their documented ranges`

	case apperrors.CategoryConfiguration:
		return `Configuration error help:
• Check your command-line flags and MATCHER_* environment variables
• Verify configuration file syntax if using --config
• Try running with default settings first`

	case apperrors.CategoryImport:
		return `Import error help:
• Verify the CSV format matches --format (or use --format auto)
• Check for proper column headers and UTF-8 encoding
• Dates use the format's date layout, amounts are plain decimals`

	case apperrors.CategoryStore:
		return `Store error help:
• Check that the database is reachable with the configured store.dsn
• Run 'matcher migrate' if the schema has not been created
• The operation can be retried once the store is available`

	case apperrors.CategoryConcurrency:
		return `Concurrency help:
• Another match for the same record is running
• Retry once it has finished`

	default:
		return `For more help:
• Use 'matcher --help' for general help
• Use 'matcher <command> --help' for command-specific help`
	}
}

func isFileNotFoundError(err error) bool {
	return errors.Is(err, os.ErrNotExist) || strings.Contains(err.Error(), "no such file or directory")
}

func isPermissionError(err error) bool {
	return errors.Is(err, os.ErrPermission) ||
		strings.Contains(err.Error(), "permission denied") ||
		strings.Contains(err.Error(), "access denied")
}

func isDiskFullError(err error) bool {
	if errors.Is(err, syscall.ENOSPC) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "no space left") ||
		strings.Contains(errStr, "disk full") ||
		strings.Contains(errStr, "device full")
}
