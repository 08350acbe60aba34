package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"golang-matching-service/cmd/matcher/config"
	"golang-matching-service/internal/models"
	"golang-matching-service/internal/parsers"
	apperrors "golang-matching-service/pkg/errors"
	"golang-matching-service/pkg/logger"
)

func newImportCmd(opts *rootOptions) *cobra.Command {
	var (
		format          string
		currency        string
		batchSize       int
		continueOnError bool
		maxErrors       int
		dryRun          bool
	)

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Load records from a CSV export into the store",
		Long: `Import reads documents, bank transactions or ledger entries from a CSV
file and stores them in batches. Rows that fail validation are reported
and skipped; cells that cannot be parsed are kept as unparsed values.

Formats:
  standard   id, tenant_id, kind, category, date, amount, currency, vendor, description
  bank_feed  transaction_id, transaction_amount, posting_date (MM/DD/YYYY), payee
  ledger     entry_id, debit_credit_amount, value_date, counterparty (';' delimited)

Examples:
  matcher import records.csv
  matcher import bank.csv --tenant acme --format bank_feed --currency EUR
  matcher import ledger.csv --tenant acme --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if err := validateFileExists(path); err != nil {
				return err
			}

			parserConfig, err := config.CreateParserConfig(format, path, opts.v.GetString("tenant"), currency)
			if err != nil {
				return err
			}

			a, err := opts.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			importConfig := a.config.Import
			if cmd.Flags().Changed("batch-size") {
				importConfig.BatchSize = batchSize
			}
			if cmd.Flags().Changed("continue-on-error") {
				importConfig.ContinueOnError = continueOnError
			}
			if cmd.Flags().Changed("max-errors") {
				importConfig.MaxErrors = maxErrors
			}

			parser, err := parsers.NewRecordParser(parserConfig, &importConfig, a.logger)
			if err != nil {
				return err
			}

			file, _, err := parser.OpenFile(path)
			if err != nil {
				return err
			}
			defer file.Close()

			log := a.logger.WithComponent("import").WithFields(logger.Fields{
				"file":    path,
				"format":  parserConfig.Name,
				"dry_run": dryRun,
			})
			progress := logger.NewProgressTracker(logger.ProgressConfig{
				Operation: "import",
				Logger:    log,
			})

			ctx := cmd.Context()
			stats, err := parser.StreamRecords(ctx, file, path, func(batch []models.Record) error {
				if !dryRun {
					if err := a.store.PutRecords(ctx, batch); err != nil {
						return err
					}
				}
				for range batch {
					progress.Increment()
				}
				return nil
			})
			if stats != nil {
				printImportSummary(cmd, parserConfig.Name, stats, dryRun)
			}
			if err != nil {
				return err
			}

			log.Info(progress.Complete().String())
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "auto", "file format: auto, standard, bank_feed, ledger")
	cmd.Flags().StringVar(&currency, "currency", "", "currency for rows without one (ISO 4217)")
	cmd.Flags().IntVar(&batchSize, "batch-size", parsers.DefaultImportConfig().BatchSize, "records stored per batch")
	cmd.Flags().BoolVar(&continueOnError, "continue-on-error", true, "skip invalid rows instead of stopping")
	cmd.Flags().IntVar(&maxErrors, "max-errors", parsers.DefaultImportConfig().MaxErrors, "abort after this many invalid rows")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "parse and validate without storing")
	return cmd
}

func printImportSummary(cmd *cobra.Command, format string, stats *parsers.ParseStats, dryRun bool) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Format: %s\n", format)
	fmt.Fprintln(out, stats.String())
	if dryRun {
		fmt.Fprintln(out, "Dry run: no records were stored")
	}

	if stats.HasErrors() {
		fmt.Fprintln(out, "\nRejected rows:")
		for _, sample := range stats.GetSampleErrors(10) {
			fmt.Fprintf(out, "  - %s\n", sample)
		}
		if stats.ErrorCount > 10 {
			fmt.Fprintf(out, "  ... and %d more\n", stats.ErrorCount-10)
		}
	}
}

func validateFileExists(filePath string) error {
	if filePath == "" {
		return apperrors.ValidationError(apperrors.CodeMissingField, "file", filePath, nil)
	}

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return apperrors.Wrap(err, apperrors.CategoryImport, apperrors.CodeInvalidFormat,
			fmt.Sprintf("import file does not exist: %s", filePath)).
			WithSuggestion("check the file path and try again").
			WithContext("file", filePath)
	}
	if err != nil {
		return apperrors.Wrap(err, apperrors.CategoryImport, apperrors.CodeInvalidFormat,
			fmt.Sprintf("error accessing %s", filePath)).
			WithContext("file", filePath)
	}

	if info.IsDir() {
		return apperrors.New(apperrors.CategoryImport, apperrors.CodeInvalidFormat,
			fmt.Sprintf("%s is a directory, expected a file", filePath)).
			WithContext("file", filePath)
	}
	return nil
}
