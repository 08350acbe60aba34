package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"golang-matching-service/cmd/matcher/config"
	"golang-matching-service/pkg/logger"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// rootOptions holds the state shared by every subcommand of one invocation.
type rootOptions struct {
	cfgFile string
	envFile string
	verbose bool
	v       *viper.Viper
}

// NewRootCmd builds the matcher command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:   "matcher",
		Short: "Similarity matching for duplicate documents and bank reconciliation",
		Long: `Matcher scores stored financial records against each other to flag
duplicate documents and to reconcile bank transactions with documents and
ledger entries. Every run is written to an audit trail.

Examples:
  matcher import records.csv --tenant acme
  matcher duplicates doc-123 --tenant acme
  matcher reconcile tx-456 --tenant acme --output-format json
  matcher history tx-456 --tenant acme
  matcher serve --config matcher.yaml`,
		Version:       getVersionString(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.initConfig()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.cfgFile, "config", "", "config file (optional)")
	flags.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading MATCHER_* variables")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output")
	flags.String("tenant", "", "tenant the command operates on")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("store-driver", "", "store driver: sqlite, postgres, memory")
	flags.String("store-dsn", "", "store data source name")

	opts.v.BindPFlag("verbose", flags.Lookup("verbose"))
	opts.v.BindPFlag("tenant", flags.Lookup("tenant"))
	opts.v.BindPFlag("log.level", flags.Lookup("log-level"))
	opts.v.BindPFlag("store.driver", flags.Lookup("store-driver"))
	opts.v.BindPFlag("store.dsn", flags.Lookup("store-dsn"))

	rootCmd.AddCommand(
		newDuplicatesCmd(opts),
		newReconcileCmd(opts),
		newHistoryCmd(opts),
		newImportCmd(opts),
		newMigrateCmd(opts),
		newServeCmd(opts),
		newConsumeCmd(opts),
		newGenerateCmd(opts),
		newEvaluateCmd(opts),
	)

	return rootCmd
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := NewRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		verbose, _ := rootCmd.PersistentFlags().GetBool("verbose")
		return NewCLIErrorHandler(os.Stderr, verbose).HandleError(err)
	}
	return 0
}

// initConfig reads the dotenv file, the config file and MATCHER_* variables.
// Flags bound to viper take precedence over all of them.
func (o *rootOptions) initConfig() error {
	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return config.ConfigFileError(o.envFile, err)
		}
	}

	config.Configure(o.v)

	if o.cfgFile != "" {
		o.v.SetConfigFile(o.cfgFile)
		if err := o.v.ReadInConfig(); err != nil {
			return config.ConfigFileError(o.cfgFile, err)
		}
	}

	if o.v.GetBool("verbose") && o.v.GetString("log.level") == string(logger.InfoLevel) {
		o.v.Set("log.level", string(logger.DebugLevel))
	}
	return nil
}

// load decodes the configuration and installs its logger globally.
func (o *rootOptions) load() (*config.Config, logger.Logger, error) {
	cfg, err := config.Load(o.v)
	if err != nil {
		return nil, nil, err
	}

	log, err := cfg.NewLogger()
	if err != nil {
		return nil, nil, err
	}
	logger.SetGlobalLogger(log)

	if used := o.v.ConfigFileUsed(); used != "" {
		log.WithField("config_file", used).Debug("Using config file")
	}
	return cfg, log, nil
}

// tenant returns the --tenant flag or MATCHER_TENANT, failing when unset.
func (o *rootOptions) tenant() (string, error) {
	tenant := o.v.GetString("tenant")
	if tenant == "" {
		return "", config.MissingTenantError()
	}
	return tenant, nil
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
