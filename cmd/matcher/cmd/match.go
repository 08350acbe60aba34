package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"golang-matching-service/internal/matcher"
	"golang-matching-service/internal/models"
	apperrors "golang-matching-service/pkg/errors"
	"golang-matching-service/pkg/logger"
)

// matchFlags configure a duplicates or reconcile run.
type matchFlags struct {
	report        reportFlags
	windowDays    int
	maxCandidates int
	timeout       time.Duration
}

func newDuplicatesCmd(opts *rootOptions) *cobra.Command {
	flags := &matchFlags{}
	cmd := &cobra.Command{
		Use:   "duplicates <document-id>...",
		Short: "Find likely duplicates of stored documents",
		Long: `Duplicates scores each document against recent documents of the same
tenant and category and recommends whether to keep it or flag it as a
duplicate. Each run is appended to the audit trail.

Examples:
  matcher duplicates doc-123 --tenant acme
  matcher duplicates doc-123 doc-124 --tenant acme --output-format json --output-file dupes.json
  matcher duplicates doc-123 --tenant acme --window-days 14`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMatch(cmd, opts, flags, string(models.VariantDuplicate), args)
		},
	}
	flags.register(cmd)
	return cmd
}

func newReconcileCmd(opts *rootOptions) *cobra.Command {
	flags := &matchFlags{}
	cmd := &cobra.Command{
		Use:   "reconcile <transaction-id>...",
		Short: "Match bank transactions against documents and ledger entries",
		Long: `Reconcile scores each unmatched bank transaction against documents and
ledger entries of the same tenant and recommends the best candidate to
confirm. Each run is appended to the audit trail.

Examples:
  matcher reconcile tx-456 --tenant acme
  matcher reconcile tx-456 tx-457 --tenant acme --output-format csv --output-file matches.csv
  matcher reconcile tx-456 --tenant acme --max-candidates 100`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMatch(cmd, opts, flags, string(models.VariantReconciliation), args)
		},
	}
	flags.register(cmd)
	return cmd
}

func (f *matchFlags) register(cmd *cobra.Command) {
	f.report.register(cmd)
	cmd.Flags().IntVar(&f.windowDays, "window-days", 0, "candidate time window in days (default from engine.window_days)")
	cmd.Flags().IntVar(&f.maxCandidates, "max-candidates", 0, "maximum candidates scored per run (default from engine.max_candidates)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 30*time.Second, "timeout for each run")
}

// runMatch matches every target in ids and reports the runs that
// completed. Targets that fail do not stop the others.
func runMatch(cmd *cobra.Command, opts *rootOptions, flags *matchFlags, profileName string, ids []string) error {
	if cmd.Flags().Changed("window-days") {
		opts.v.Set("engine.window_days", flags.windowDays)
	}
	if cmd.Flags().Changed("max-candidates") {
		opts.v.Set("engine.max_candidates", flags.maxCandidates)
	}
	if flags.timeout <= 0 {
		return apperrors.ValidationError(apperrors.CodeOutOfRange, "timeout", flags.timeout, nil)
	}

	tenant, err := opts.tenant()
	if err != nil {
		return err
	}
	reportConfig, err := flags.report.config()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := opts.openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	profile, err := a.config.Profile(profileName)
	if err != nil {
		return err
	}
	engine, err := a.newEngine(nil)
	if err != nil {
		return err
	}

	log := a.logger.WithComponent("cli").WithFields(logger.Fields{
		logger.FieldTenantID: tenant,
		logger.FieldProfile:  profile.Name,
	})
	progress := logger.NewProgressTracker(logger.ProgressConfig{
		Operation: profile.Name,
		Total:     int64(len(ids)),
		Logger:    log,
	})

	runs := make([]models.MatchRun, 0, len(ids))
	var failures []*apperrors.MatchError
	for _, id := range ids {
		run, err := matchOne(ctx, engine, tenant, id, profile, flags.timeout)
		if err != nil {
			progress.Fail()
			log.WithField(logger.FieldTargetID, id).WithError(err).Warn("Match failed")
			failures = append(failures, apperrors.WrapIfNeeded(err, apperrors.CategoryInternal,
				apperrors.CodeUnexpectedError, "match "+id))
			continue
		}
		progress.Increment()
		runs = append(runs, *run)
	}
	log.Info(progress.Complete().String())

	if len(runs) > 0 {
		if err := writeReport(cmd, runs, reportConfig, flags.report.file, log); err != nil {
			return err
		}
	}

	switch len(failures) {
	case 0:
		return nil
	case 1:
		return failures[0]
	default:
		return apperrors.NewErrorSummary(failures)
	}
}

func matchOne(ctx context.Context, engine *matcher.Engine, tenant, id string, profile *matcher.Profile, timeout time.Duration) (*models.MatchRun, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return engine.Match(ctx, tenant, id, profile)
}
