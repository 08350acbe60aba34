package cmd

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"golang-matching-service/internal/api"
	"golang-matching-service/internal/consumer"
	"golang-matching-service/internal/matcher"
	"golang-matching-service/internal/metrics"
	"golang-matching-service/internal/models"
	apperrors "golang-matching-service/pkg/errors"
	"golang-matching-service/pkg/logger"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		addr         string
		withConsumer bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP matching API",
		Long: `Serve exposes the matching engine over HTTP:

  POST /v1/documents/:id/duplicates    duplicate detection for a stored document
  POST /v1/transactions/:id/matches    reconciliation for a bank transaction
  GET  /v1/targets/:id/runs            audit trail for a record
  GET  /health/live, /health/ready     probes
  GET  /metrics                        Prometheus metrics

Requests carry the tenant in the X-Tenant-ID header. With --with-consumer
the Kafka ingestion consumer runs in the same process.

Examples:
  matcher serve --config matcher.yaml
  matcher serve --addr :9090 --with-consumer`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				opts.v.Set("http.addr", addr)
			}

			ctx := cmd.Context()
			a, err := opts.openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			registry := newRegistry()
			engine, err := a.newEngine(metrics.New(registry))
			if err != nil {
				return err
			}

			profiles, err := a.config.Profiles()
			if err != nil {
				return err
			}

			server, err := api.NewServer(a.config.HTTP, engine, a.store, profiles, registry, a.logger)
			if err != nil {
				return err
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return server.Run(gctx)
			})

			if withConsumer {
				c, err := newDuplicateConsumer(a, engine, profiles)
				if err != nil {
					return err
				}
				defer c.Close()

				g.Go(func() error {
					return c.Run(gctx)
				})
			}

			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from http.addr)")
	cmd.Flags().BoolVar(&withConsumer, "with-consumer", false, "also consume document ingestion events from Kafka")
	return cmd
}

func newConsumeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "consume",
		Short: "Run duplicate detection for documents ingested through Kafka",
		Long: `Consume reads document ingestion events from the configured Kafka topic
and runs duplicate detection for each document. Offsets are committed once
an event has been handled; store failures are retried with backoff first.

Event payload:
  {"event_id": "...", "tenant_id": "acme", "document_id": "doc-123"}

Examples:
  matcher consume --config matcher.yaml
  MATCHER_KAFKA_BROKERS=kafka:9092 MATCHER_KAFKA_TOPIC=documents matcher consume`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			engine, err := a.newEngine(metrics.New(newRegistry()))
			if err != nil {
				return err
			}
			profiles, err := a.config.Profiles()
			if err != nil {
				return err
			}

			c, err := newDuplicateConsumer(a, engine, profiles)
			if err != nil {
				return err
			}
			defer c.Close()

			return c.Run(cmd.Context())
		},
	}
}

// newDuplicateConsumer wires the Kafka reader to duplicate detection.
func newDuplicateConsumer(a *app, engine *matcher.Engine, profiles []*matcher.Profile) (*consumer.Consumer, error) {
	if err := a.config.Kafka.Validate(); err != nil {
		return nil, apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "kafka", a.config.Kafka.Topic, err)
	}

	var profile *matcher.Profile
	for _, p := range profiles {
		if p.Variant == models.VariantDuplicate {
			profile = p
		}
	}

	log := a.logger.WithComponent("consumer")
	handler, err := consumer.NewDuplicateHandler(engine, profile, log,
		consumer.OnDecision(func(run *models.MatchRun) {
			top := run.Decision.Top()
			if !run.Decision.HasStrongMatch || top == nil {
				return
			}
			log.WithFields(logger.Fields{
				logger.FieldRunID:    run.ID,
				logger.FieldTenantID: run.TenantID,
				logger.FieldTargetID: run.TargetID,
				"candidate_id":       top.CandidateID,
				"score":              top.Score,
				"action":             run.Decision.RecommendedAction,
			}).Info("Duplicate flagged")
		}),
	)
	if err != nil {
		return nil, err
	}

	return consumer.New(consumer.NewReader(a.config.Kafka), handler, a.config.Kafka, log)
}

// newRegistry returns a Prometheus registry with the Go runtime and process
// collectors registered.
func newRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}
