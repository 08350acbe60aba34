package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"golang-matching-service/cmd/matcher/config"
	"golang-matching-service/internal/matcher"
	"golang-matching-service/internal/metrics"
	"golang-matching-service/internal/models"
	"golang-matching-service/internal/reporter"
	"golang-matching-service/internal/store"
	"golang-matching-service/pkg/logger"
)

// app holds the components opened for one command run.
type app struct {
	config  *config.Config
	logger  logger.Logger
	store   store.Store
	closers []func() error
}

// openApp loads the configuration and opens the store. SQLite and memory
// stores are migrated on open; Postgres schemas are managed with the
// migrate command.
func (o *rootOptions) openApp(ctx context.Context) (*app, error) {
	cfg, log, err := o.load()
	if err != nil {
		return nil, err
	}

	st, err := config.OpenStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	a := &app{config: cfg, logger: log, store: st, closers: []func() error{st.Close}}
	if cfg.Store.Driver != config.DriverPostgres {
		if err := st.Migrate(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}

	log.WithFields(logger.Fields{
		"driver": cfg.Store.Driver,
		"guard":  cfg.Engine.Guard,
	}).Debug("Store opened")
	return a, nil
}

// newEngine builds an engine over the app's store. m may be nil.
func (a *app) newEngine(m *metrics.Metrics) (*matcher.Engine, error) {
	engine, closeGuard, err := a.config.NewEngine(a.store, a.logger, m)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeGuard)
	return engine, nil
}

// Close releases everything opened by the app, newest first.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.WithError(err).Warn("Failed to release resource")
		}
	}
	a.closers = nil
}

// reportFlags are the output flags shared by commands that print runs.
type reportFlags struct {
	format      string
	file        string
	maxResults  int
	fieldScores bool
}

func (f *reportFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.format, "output-format", "f", string(reporter.FormatConsole), "output format: console, json, yaml, csv")
	cmd.Flags().StringVarP(&f.file, "output-file", "o", "", "output file path (default: stdout)")
	cmd.Flags().IntVar(&f.maxResults, "max-results", 0, "maximum results shown per run (0 = all)")
	cmd.Flags().BoolVar(&f.fieldScores, "field-scores", true, "include per-field scores")
}

func (f *reportFlags) config() (*reporter.ReportConfig, error) {
	return config.CreateReportConfig(f.format, f.maxResults, f.fieldScores)
}

// writeReport renders runs to the output file, or to the command's stdout
// when no file was given.
func writeReport(cmd *cobra.Command, runs []models.MatchRun, reportConfig *reporter.ReportConfig, outputFile string, log logger.Logger) error {
	generator, err := reporter.NewSafeReportGenerator(reportConfig, log)
	if err != nil {
		return err
	}

	if outputFile == "" {
		return generator.GenerateReportSafely(runs, cmd.OutOrStdout())
	}

	written, err := generator.WriteReportFile(runs, outputFile)
	if err != nil {
		return err
	}
	if written != outputFile {
		fmt.Fprintf(cmd.ErrOrStderr(), "Could not write %s, report saved to %s\n", outputFile, written)
	}
	log.WithField("output_file", written).Info("Report written")
	return nil
}
