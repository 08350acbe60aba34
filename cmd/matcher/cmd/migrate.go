package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"golang-matching-service/cmd/matcher/config"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the store schema",
		Long: `Migrate creates the records and match run tables. It is safe to run
repeatedly. SQLite stores are also migrated whenever a command opens them.

Examples:
  matcher migrate --store-driver postgres --store-dsn postgres://matcher@localhost/matcher`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}

			st, err := config.OpenStore(cmd.Context(), cfg.Store)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.Migrate(cmd.Context()); err != nil {
				return err
			}

			log.WithField("driver", cfg.Store.Driver).Info("Schema migrated")
			fmt.Fprintf(cmd.OutOrStdout(), "Schema is up to date (%s)\n", cfg.Store.Driver)
			return nil
		},
	}
}
