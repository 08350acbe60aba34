package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"golang-matching-service/internal/store"
	apperrors "golang-matching-service/pkg/errors"
	"golang-matching-service/pkg/logger"
)

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var (
		report reportFlags
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "history [target-id]",
		Short: "Show recorded match runs",
		Long: `History lists the audit trail of match runs for a tenant, newest first.
With a target ID only the runs for that record are shown.

Examples:
  matcher history --tenant acme --limit 10
  matcher history tx-456 --tenant acme --output-format yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 1 {
				return apperrors.ValidationError(apperrors.CodeOutOfRange, "limit", limit, nil)
			}
			if offset < 0 {
				return apperrors.ValidationError(apperrors.CodeOutOfRange, "offset", offset, nil)
			}

			tenant, err := opts.tenant()
			if err != nil {
				return err
			}
			reportConfig, err := report.config()
			if err != nil {
				return err
			}

			a, err := opts.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			filter := store.RunFilter{TenantID: tenant, Limit: limit, Offset: offset}
			if len(args) == 1 {
				filter.TargetID = args[0]
			}

			runs, err := a.store.ListRuns(cmd.Context(), filter)
			if err != nil {
				return err
			}

			log := a.logger.WithComponent("cli").WithFields(logger.Fields{
				logger.FieldTenantID: tenant,
				logger.FieldTargetID: filter.TargetID,
				"runs":               len(runs),
			})
			log.Debug("Loaded run history")

			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No match runs recorded")
				return nil
			}
			return writeReport(cmd, runs, reportConfig, report.file, log)
		},
	}

	report.register(cmd)
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of runs to skip")
	return cmd
}
