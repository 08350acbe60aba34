package logger

import (
	"fmt"
	"sync"
	"time"
)

// ProgressTracker logs throughput of long-running batch work such as CSV
// imports or a consumer draining a topic.
type ProgressTracker struct {
	logger      Logger
	operation   string
	total       int64
	current     int64
	failed      int64
	startTime   time.Time
	lastLogTime time.Time
	logInterval time.Duration
	now         func() time.Time
	mutex       sync.Mutex
}

// ProgressConfig configures progress tracking behavior
type ProgressConfig struct {
	Operation   string
	Total       int64
	LogInterval time.Duration
	Logger      Logger
}

// NewProgressTracker creates a new progress tracker
func NewProgressTracker(config ProgressConfig) *ProgressTracker {
	if config.Logger == nil {
		config.Logger = GetGlobalLogger()
	}
	if config.LogInterval == 0 {
		config.LogInterval = 5 * time.Second
	}

	start := time.Now()
	tracker := &ProgressTracker{
		logger:      config.Logger.WithComponent("progress"),
		operation:   config.Operation,
		total:       config.Total,
		startTime:   start,
		lastLogTime: start,
		logInterval: config.LogInterval,
		now:         time.Now,
	}

	tracker.logger.WithFields(Fields{
		"operation": config.Operation,
		"total":     config.Total,
	}).Info("Starting operation")

	return tracker
}

// Increment records one processed item.
func (p *ProgressTracker) Increment() {
	p.add(1, 0)
}

// Fail records one item that could not be processed.
func (p *ProgressTracker) Fail() {
	p.add(1, 1)
}

func (p *ProgressTracker) add(processed, failed int64) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.current += processed
	p.failed += failed

	now := p.now()
	if now.Sub(p.lastLogTime) >= p.logInterval {
		p.logger.WithFields(p.fields(now)).Info("Progress update")
		p.lastLogTime = now
	}
}

// Complete logs final statistics and returns them.
func (p *ProgressTracker) Complete() ProgressStats {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	stats := p.stats(p.now())
	p.logger.WithFields(p.fields(p.now())).Info("Operation completed")
	return stats
}

// GetStats returns current progress statistics
func (p *ProgressTracker) GetStats() ProgressStats {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.stats(p.now())
}

func (p *ProgressTracker) stats(now time.Time) ProgressStats {
	duration := now.Sub(p.startTime)
	var rate float64
	if duration.Seconds() > 0 {
		rate = float64(p.current) / duration.Seconds()
	}
	return ProgressStats{
		Operation: p.operation,
		Total:     p.total,
		Current:   p.current,
		Failed:    p.failed,
		Duration:  duration,
		Rate:      rate,
	}
}

func (p *ProgressTracker) fields(now time.Time) Fields {
	s := p.stats(now)
	fields := Fields{
		"operation": s.Operation,
		"processed": s.Current,
		"failed":    s.Failed,
		"rate":      fmt.Sprintf("%.2f/sec", s.Rate),
	}
	if s.Total > 0 {
		fields["total"] = s.Total
		fields["percentage"] = fmt.Sprintf("%.1f%%", float64(s.Current)/float64(s.Total)*100)
	}
	return fields
}

// ProgressStats contains progress statistics
type ProgressStats struct {
	Operation string        `json:"operation"`
	Total     int64         `json:"total"`
	Current   int64         `json:"current"`
	Failed    int64         `json:"failed"`
	Duration  time.Duration `json:"duration"`
	Rate      float64       `json:"rate"`
}

// String returns a human-readable representation of the progress
func (ps ProgressStats) String() string {
	if ps.Total > 0 {
		return fmt.Sprintf("%s: %d/%d processed (%d failed) at %.2f/sec",
			ps.Operation, ps.Current, ps.Total, ps.Failed, ps.Rate)
	}
	return fmt.Sprintf("%s: %d processed (%d failed) at %.2f/sec, elapsed: %v",
		ps.Operation, ps.Current, ps.Failed, ps.Rate, ps.Duration)
}
