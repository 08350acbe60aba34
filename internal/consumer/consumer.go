// Package consumer runs duplicate detection for documents announced on a
// Kafka topic by the ingestion pipeline.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/segmentio/kafka-go"

	"golang-matching-service/pkg/logger"
)

// Config holds Kafka consumer configuration
type Config struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	GroupID      string        `mapstructure:"group"`
	MinBytes     int           `mapstructure:"min_bytes"`
	MaxBytes     int           `mapstructure:"max_bytes"`
	MaxWait      time.Duration `mapstructure:"max_wait"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		Brokers:      []string{"localhost:9092"},
		Topic:        "documents.ingested",
		GroupID:      "matcher-duplicates",
		MinBytes:     10e3,
		MaxBytes:     10e6,
		MaxWait:      500 * time.Millisecond,
		MaxAttempts:  3,
		RetryBackoff: time.Second,
	}
}

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("at least one kafka broker is required")
	}
	if c.Topic == "" {
		return fmt.Errorf("kafka topic cannot be empty")
	}
	if c.GroupID == "" {
		return fmt.Errorf("kafka consumer group cannot be empty")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	return nil
}

// NewReader creates a consumer-group reader for the configured topic.
// Offsets are committed explicitly after each message.
func NewReader(cfg Config) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		MinBytes:    cfg.MinBytes,
		MaxBytes:    cfg.MaxBytes,
		MaxWait:     cfg.MaxWait,
		StartOffset: kafka.FirstOffset,
	})
}

// MessageReader is the subset of *kafka.Reader used by the consumer.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Handler processes one message. Returning an error marked retryable asks
// the consumer to try the same message again.
type Handler interface {
	Handle(ctx context.Context, msg kafka.Message) error
}

// Consumer fetches messages one at a time, hands them to the handler and
// commits each offset once the handler is done with it.
type Consumer struct {
	reader   MessageReader
	handler  Handler
	config   Config
	logger   logger.Logger
	progress *logger.ProgressTracker
	sleep    func(ctx context.Context, d time.Duration) error
}

// New creates a consumer over reader.
func New(reader MessageReader, handler Handler, cfg Config, log logger.Logger) (*Consumer, error) {
	if reader == nil || handler == nil {
		return nil, errors.New("consumer: reader and handler are required")
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	log = log.WithComponent("consumer").WithField("topic", cfg.Topic)

	return &Consumer{
		reader:  reader,
		handler: handler,
		config:  cfg,
		logger:  log,
		progress: logger.NewProgressTracker(logger.ProgressConfig{
			Operation:   "consume " + cfg.Topic,
			LogInterval: 30 * time.Second,
			Logger:      log,
		}),
		sleep: sleepContext,
	}, nil
}

// Run consumes until ctx is cancelled or the reader is closed. It returns
// nil on a clean stop.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("Kafka consumer started")
	defer func() {
		stats := c.progress.Complete()
		c.logger.WithField("stats", stats.String()).Info("Kafka consumer stopped")
	}()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		if err := c.process(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// Stats returns the number of processed and failed messages so far.
func (c *Consumer) Stats() logger.ProgressStats {
	return c.progress.GetStats()
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) error {
	log := c.logger.WithFields(logger.Fields{
		"partition": msg.Partition,
		"offset":    msg.Offset,
	})

	var err error
	for attempt := 1; attempt <= c.config.MaxAttempts; attempt++ {
		err = c.handler.Handle(ctx, msg)
		if err == nil || !IsRetryable(err) {
			break
		}
		if attempt == c.config.MaxAttempts {
			break
		}

		log.WithError(err).WithField("attempt", attempt).Warn("Retrying message")
		if sleepErr := c.sleep(ctx, c.backoff(attempt)); sleepErr != nil {
			return sleepErr
		}
	}

	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.progress.Fail()
		log.WithError(err).Error("Dropping message after failed processing")
	} else {
		c.progress.Increment()
	}

	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
	}
	return nil
}

func (c *Consumer) backoff(attempt int) time.Duration {
	return c.config.RetryBackoff * time.Duration(1<<(attempt-1))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
