// Package config builds the matcher's runtime components from viper
// settings: config file, MATCHER_* environment variables and flags.
package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"golang-matching-service/internal/api"
	"golang-matching-service/internal/consumer"
	"golang-matching-service/internal/guard"
	"golang-matching-service/internal/matcher"
	"golang-matching-service/internal/metrics"
	"golang-matching-service/internal/models"
	"golang-matching-service/internal/parsers"
	"golang-matching-service/internal/reporter"
	"golang-matching-service/internal/store"
	apperrors "golang-matching-service/pkg/errors"
	"golang-matching-service/pkg/logger"
)

// EnvPrefix is the prefix of environment variables read by the matcher.
const EnvPrefix = "MATCHER"

// Config is the full runtime configuration
type Config struct {
	Store  StoreConfig          `mapstructure:"store"`
	Engine EngineConfig         `mapstructure:"engine"`
	Redis  RedisConfig          `mapstructure:"redis"`
	Kafka  consumer.Config      `mapstructure:"kafka"`
	HTTP   api.Config           `mapstructure:"http"`
	Log    logger.Config        `mapstructure:"log"`
	Import parsers.ImportConfig `mapstructure:"import"`
}

// StoreConfig selects and configures the record/run store
type StoreConfig struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// EngineConfig overrides the built-in profiles
type EngineConfig struct {
	MaxCandidates int    `mapstructure:"max_candidates"`
	WindowDays    int    `mapstructure:"window_days"`
	Concurrency   int    `mapstructure:"concurrency"`
	Guard         string `mapstructure:"guard"`
}

// RedisConfig configures the distributed run guard
type RedisConfig struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	LockTTL   time.Duration `mapstructure:"lock_ttl"`
	KeyPrefix string        `mapstructure:"key_prefix"`
}

// Store drivers
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Configure registers defaults and environment variable lookup on v.
func Configure(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.dsn", "matcher.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)

	v.SetDefault("engine.max_candidates", matcher.DefaultMaxCandidates)
	v.SetDefault("engine.window_days", matcher.DefaultWindowDays)
	v.SetDefault("engine.concurrency", matcher.DefaultConcurrency)
	v.SetDefault("engine.guard", string(guard.KindNone))

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_ttl", guard.DefaultLockTTL)
	v.SetDefault("redis.key_prefix", "matcher:run:")

	kafka := consumer.DefaultConfig()
	v.SetDefault("kafka.brokers", kafka.Brokers)
	v.SetDefault("kafka.topic", kafka.Topic)
	v.SetDefault("kafka.group", kafka.GroupID)
	v.SetDefault("kafka.min_bytes", kafka.MinBytes)
	v.SetDefault("kafka.max_bytes", kafka.MaxBytes)
	v.SetDefault("kafka.max_wait", kafka.MaxWait)
	v.SetDefault("kafka.max_attempts", kafka.MaxAttempts)
	v.SetDefault("kafka.retry_backoff", kafka.RetryBackoff)

	httpCfg := api.DefaultConfig()
	v.SetDefault("http.addr", httpCfg.Addr)
	v.SetDefault("http.request_timeout", httpCfg.RequestTimeout)
	v.SetDefault("http.shutdown_timeout", httpCfg.ShutdownTimeout)
	v.SetDefault("http.max_history", httpCfg.MaxHistory)

	v.SetDefault("log.level", string(logger.InfoLevel))
	v.SetDefault("log.format", string(logger.TextFormat))
	v.SetDefault("log.output", string(logger.StderrOutput))
	v.SetDefault("log.file", "")

	imp := parsers.DefaultImportConfig()
	v.SetDefault("import.batch_size", imp.BatchSize)
	v.SetDefault("import.continue_on_error", imp.ContinueOnError)
	v.SetDefault("import.max_errors", imp.MaxErrors)
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "config", v.ConfigFileUsed(), err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings shared by every command. Kafka settings are
// only checked by the consume command.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres:
		if strings.TrimSpace(c.Store.DSN) == "" {
			return apperrors.ConfigurationError(apperrors.CodeMissingConfig, "store.dsn", "", nil)
		}
	default:
		return apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "store.driver", c.Store.Driver,
			fmt.Errorf("must be one of %s, %s or %s", DriverSQLite, DriverPostgres, DriverMemory))
	}

	if c.Engine.MaxCandidates < 1 || c.Engine.MaxCandidates > matcher.MaxCandidatesLimit {
		return apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "engine.max_candidates", c.Engine.MaxCandidates, nil)
	}
	if c.Engine.WindowDays < 1 {
		return apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "engine.window_days", c.Engine.WindowDays, nil)
	}
	if c.Engine.Concurrency < 1 {
		return apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "engine.concurrency", c.Engine.Concurrency, nil)
	}

	kind, err := guard.ParseKind(c.Engine.Guard)
	if err != nil {
		return apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "engine.guard", c.Engine.Guard, err)
	}
	if kind == guard.KindRedis && strings.TrimSpace(c.Redis.Addr) == "" {
		return apperrors.ConfigurationError(apperrors.CodeMissingConfig, "redis.addr", "", nil)
	}

	if err := c.Log.Validate(); err != nil {
		return apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "log", c.Log.Level, err)
	}
	if err := c.Import.Validate(); err != nil {
		return apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "import", c.Import.BatchSize, err)
	}
	return nil
}

// Profile returns the named built-in profile with the engine overrides applied.
func (c *Config) Profile(name string) (*matcher.Profile, error) {
	profile, err := matcher.ProfileByName(name)
	if err != nil {
		return nil, err
	}
	profile.MaxCandidates = c.Engine.MaxCandidates
	profile.WindowDays = c.Engine.WindowDays
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	return profile, nil
}

// Profiles returns every built-in profile with the engine overrides applied.
func (c *Config) Profiles() ([]*matcher.Profile, error) {
	var profiles []*matcher.Profile
	for _, variant := range []models.Variant{models.VariantDuplicate, models.VariantReconciliation} {
		p, err := c.Profile(string(variant))
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

// NewLogger creates the logger described by the log section.
func (c *Config) NewLogger() (logger.Logger, error) {
	log, err := logger.NewLogger(&c.Log)
	if err != nil {
		return nil, apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "log", c.Log.Output, err)
	}
	return log, nil
}

// OpenStore opens the configured store. The caller closes it.
func OpenStore(ctx context.Context, cfg StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case DriverMemory:
		return store.NewMemory(), nil
	case DriverSQLite:
		st, err := store.NewSQLite(cfg.DSN)
		if err != nil {
			return nil, err
		}
		return st, nil
	case DriverPostgres:
		st, err := store.NewPostgres(ctx, cfg.DSN, &store.PoolConfig{
			MaxConns: cfg.MaxConns,
			MinConns: cfg.MinConns,
		})
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "store.driver", cfg.Driver, nil)
	}
}

// NewGuard creates the configured run guard and a function releasing its
// resources.
func (c *Config) NewGuard(log logger.Logger) (guard.RunGuard, func() error, error) {
	noop := func() error { return nil }

	kind, err := guard.ParseKind(c.Engine.Guard)
	if err != nil {
		return nil, nil, apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "engine.guard", c.Engine.Guard, err)
	}

	switch kind {
	case guard.KindMemory:
		return guard.NewMemory(), noop, nil
	case guard.KindRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		})
		return guard.NewRedis(client, c.Redis.KeyPrefix, c.Redis.LockTTL, log), client.Close, nil
	default:
		return guard.None{}, noop, nil
	}
}

// NewEngine wires an engine over st with the configured guard.
func (c *Config) NewEngine(st store.Store, log logger.Logger, m *metrics.Metrics) (*matcher.Engine, func() error, error) {
	runGuard, closeGuard, err := c.NewGuard(log)
	if err != nil {
		return nil, nil, err
	}

	engine, err := matcher.NewEngine(st, st,
		matcher.WithLogger(log),
		matcher.WithGuard(runGuard),
		matcher.WithMetrics(m),
		matcher.WithConcurrency(c.Engine.Concurrency),
	)
	if err != nil {
		_ = closeGuard()
		return nil, nil, err
	}
	return engine, closeGuard, nil
}

// CreateReportConfig creates a report configuration for the specified output format
func CreateReportConfig(format string, maxResults int, includeFieldScores bool) (*reporter.ReportConfig, error) {
	config := reporter.DefaultReportConfig()
	config.Format = reporter.OutputFormat(strings.ToLower(strings.TrimSpace(format)))
	config.MaxResults = maxResults
	config.IncludeFieldScores = includeFieldScores

	if config.Format == reporter.FormatCSV {
		config.IncludeDifferences = false
	}

	if err := config.Validate(); err != nil {
		return nil, apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "output-format", format, err)
	}
	return config, nil
}

// CreateParserConfig returns the import format for path. "auto" inspects
// the file's header row. Tenant and currency become the format's defaults
// when non-empty.
func CreateParserConfig(format, path, tenant, currency string) (*parsers.RecordParserConfig, error) {
	var config *parsers.RecordParserConfig
	if strings.EqualFold(strings.TrimSpace(format), "auto") || format == "" {
		detected, err := parsers.DetectFileConfig(path)
		if err != nil {
			return nil, apperrors.ImportError(apperrors.CodeInvalidFormat, path, 1, "headers", "", err)
		}
		config = detected
	} else {
		config = parsers.GetRecordConfig(format)
		if config == nil {
			return nil, apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "format", format,
				fmt.Errorf("unknown import format"))
		}
	}

	config = config.Clone()
	if tenant != "" {
		config.DefaultTenant = tenant
	}
	if currency != "" {
		config.DefaultCurrency = strings.ToUpper(currency)
	}
	if err := config.Validate(); err != nil {
		return nil, apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "format", config.Name, err)
	}
	return config, nil
}

// ConfigFileError reports a config or dotenv file that could not be read.
func ConfigFileError(path string, err error) error {
	return apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "config", path, err).
		WithSuggestion("check that the file exists and is valid YAML or dotenv syntax")
}

// MissingTenantError reports a command run without a tenant.
func MissingTenantError() error {
	return apperrors.ValidationError(apperrors.CodeMissingField, "tenant", "", nil).
		WithSuggestion("pass --tenant or set MATCHER_TENANT")
}
