package matcher

import (
	"context"
	"time"

	"golang-matching-service/internal/models"
	"golang-matching-service/internal/store"
)

// Recorder appends completed runs to the audit trail.
type Recorder struct {
	runs store.RunStore
	now  func() time.Time
}

// NewRecorder creates a recorder. A nil clock defaults to time.Now.
func NewRecorder(runs store.RunStore, now func() time.Time) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{runs: runs, now: now}
}

// Record stamps the run and writes it. Runs are never updated; a rerun for
// the same target produces a second record.
func (r *Recorder) Record(ctx context.Context, run *models.MatchRun) error {
	run.RecordedAt = r.now().UTC()
	return r.runs.AppendRun(ctx, run)
}
