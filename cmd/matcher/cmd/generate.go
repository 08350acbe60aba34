package cmd

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"golang-matching-service/internal/fixtures"
	"golang-matching-service/internal/models"
	"golang-matching-service/internal/store"
	apperrors "golang-matching-service/pkg/errors"
)

func newGenerateCmd(opts *rootOptions) *cobra.Command {
	var (
		cfg       = fixtures.DefaultConfig()
		outputDir string
		startDate string
		endDate   string
		minAmount float64
		maxAmount float64
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate synthetic records with planted duplicates and matches",
		Long: `Generate writes a synthetic dataset for trying out and tuning the
matcher: documents in the standard format, bank transactions as a bank feed,
ledger entries as a ledger export, and expected.yaml listing every planted
duplicate and bank match.

Examples:
  matcher generate --tenant acme --output-dir fixtures
  matcher generate --tenant acme --documents 1000 --duplicate-ratio 0.05 --seed 7
  matcher import fixtures/documents.csv && matcher evaluate fixtures/expected.yaml --tenant acme`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if tenant := opts.v.GetString("tenant"); tenant != "" {
				cfg.TenantID = tenant
			}

			start, err := time.Parse("2006-01-02", startDate)
			if err != nil {
				return apperrors.ValidationError(apperrors.CodeOutOfRange, "start-date", startDate, err)
			}
			end, err := time.Parse("2006-01-02", endDate)
			if err != nil {
				return apperrors.ValidationError(apperrors.CodeOutOfRange, "end-date", endDate, err)
			}
			cfg.StartDate, cfg.EndDate = start, end
			cfg.MinAmount = decimal.NewFromFloat(minAmount)
			cfg.MaxAmount = decimal.NewFromFloat(maxAmount)

			generator, err := fixtures.NewGenerator(cfg)
			if err != nil {
				return apperrors.ValidationError(apperrors.CodeOutOfRange, "generator", cfg.TenantID, err)
			}

			ds := generator.Generate()
			files, err := fixtures.WriteDataset(outputDir, ds)
			if err != nil {
				return apperrors.InternalError("write dataset", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Generated %d documents, %d transactions, %d ledger entries for tenant %s\n",
				len(ds.Documents), len(ds.Transactions), len(ds.LedgerEntries), cfg.TenantID)
			fmt.Fprintf(out, "Planted %d duplicates and %d bank matches (seed %d)\n",
				len(ds.Targets(models.VariantDuplicate)), len(ds.Targets(models.VariantReconciliation)), cfg.Seed)
			for _, path := range []string{files.Documents, files.Transactions, files.Ledger, files.Expected} {
				fmt.Fprintf(out, "  %s\n", path)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&outputDir, "output-dir", "fixtures", "directory for the generated files")
	flags.IntVar(&cfg.Documents, "documents", cfg.Documents, "number of original documents")
	flags.Float64Var(&cfg.DuplicateRatio, "duplicate-ratio", cfg.DuplicateRatio, "share of documents that get a near-duplicate")
	flags.Float64Var(&cfg.MatchRatio, "match-ratio", cfg.MatchRatio, "share of remaining documents paid by a bank transaction")
	flags.Float64Var(&cfg.LedgerRatio, "ledger-ratio", cfg.LedgerRatio, "share of paid documents booked as ledger entries")
	flags.IntVar(&cfg.Noise, "noise", cfg.Noise, "bank transactions with no counterpart")
	flags.StringVar(&startDate, "start-date", cfg.StartDate.Format("2006-01-02"), "first document date (YYYY-MM-DD)")
	flags.StringVar(&endDate, "end-date", cfg.EndDate.Format("2006-01-02"), "last document date (YYYY-MM-DD)")
	flags.Float64Var(&minAmount, "min-amount", cfg.MinAmount.InexactFloat64(), "smallest document amount")
	flags.Float64Var(&maxAmount, "max-amount", cfg.MaxAmount.InexactFloat64(), "largest document amount")
	flags.StringVar(&cfg.Currency, "currency", cfg.Currency, "currency of every record")
	flags.Int64Var(&cfg.Seed, "seed", cfg.Seed, "random seed")
	return cmd
}

func newEvaluateCmd(opts *rootOptions) *cobra.Command {
	var minRecall float64

	cmd := &cobra.Command{
		Use:   "evaluate <expected.yaml>",
		Short: "Score recorded runs against the matches planted by generate",
		Long: `Evaluate compares the newest recorded run of every target with the
matches listed in a generated expected.yaml and prints recall and precision.

Examples:
  matcher evaluate fixtures/expected.yaml --tenant acme
  matcher evaluate fixtures/expected.yaml --tenant acme --min-recall 0.95`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := opts.tenant()
			if err != nil {
				return err
			}

			expected, err := fixtures.ReadExpectations(args[0])
			if err != nil {
				return apperrors.Wrap(err, apperrors.CategoryImport, apperrors.CodeInvalidFormat,
					fmt.Sprintf("cannot read expectations from %s", args[0])).
					WithContext("file", args[0])
			}

			a, err := opts.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			runs, err := latestRuns(cmd, a.store, tenant)
			if err != nil {
				return err
			}

			acc := fixtures.Evaluate(expected, runs)
			fmt.Fprint(cmd.OutOrStdout(), acc.String())

			if acc.Recall() < minRecall {
				return apperrors.New(apperrors.CategoryValidation, apperrors.CodeOutOfRange,
					fmt.Sprintf("recall %.3f is below %.3f", acc.Recall(), minRecall)).
					WithSuggestion("inspect the missed matches above and the profile thresholds")
			}
			return nil
		},
	}

	cmd.Flags().Float64Var(&minRecall, "min-recall", 0, "fail when recall is below this value")
	return cmd
}

// latestRuns pages through the tenant's audit trail and keeps the newest
// run per profile and target.
func latestRuns(cmd *cobra.Command, runs store.RunStore, tenant string) ([]models.MatchRun, error) {
	const page = 500

	type key struct {
		variant models.Variant
		target  string
	}
	seen := make(map[key]bool)

	var latest []models.MatchRun
	for offset := 0; ; offset += page {
		batch, err := runs.ListRuns(cmd.Context(), store.RunFilter{TenantID: tenant, Limit: page, Offset: offset})
		if err != nil {
			return nil, err
		}
		for _, run := range batch {
			k := key{run.Variant, run.TargetID}
			if !seen[k] {
				seen[k] = true
				latest = append(latest, run)
			}
		}
		if len(batch) < page {
			return latest, nil
		}
	}
}
