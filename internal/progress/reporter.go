// Package progress delivers job progress snapshots to the job record and the
// log. Reporters run synchronously on the job's goroutine, so snapshots are
// observed in the order they were produced.
package progress

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/sheet-similarity/internal/sheetsim"
)

// StoreReporter writes each snapshot into the job store as a Processing update.
type StoreReporter struct {
	store  sheetsim.JobStore
	logger *zap.Logger
}

// NewStoreReporter constructs a StoreReporter.
func NewStoreReporter(store sheetsim.JobStore, logger *zap.Logger) *StoreReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreReporter{store: store, logger: logger}
}

// Report persists p. Store errors are logged; progress is best effort.
func (r *StoreReporter) Report(ctx context.Context, jobID string, p sheetsim.Progress) {
	err := r.store.UpdateJob(ctx, jobID, sheetsim.JobUpdate{
		Status:   sheetsim.JobStatusProcessing,
		Progress: &p,
	})
	if err == nil {
		return
	}
	level := r.logger.Warn
	if errors.Is(err, sheetsim.ErrInvalidTransition) {
		level = r.logger.Debug
	}
	level("progress update dropped", zap.String("job_id", jobID), zap.String("stage", p.Stage), zap.Error(err))
}

// LogReporter logs each snapshot at debug level.
type LogReporter struct {
	logger *zap.Logger
}

// NewLogReporter constructs a LogReporter.
func NewLogReporter(logger *zap.Logger) *LogReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogReporter{logger: logger}
}

// Report logs p.
func (r *LogReporter) Report(_ context.Context, jobID string, p sheetsim.Progress) {
	r.logger.Debug("job progress",
		zap.String("job_id", jobID),
		zap.String("stage", p.Stage),
		zap.Int("current", p.Current),
		zap.Int("total", p.Total),
		zap.Int("row", p.Row),
	)
}

// Multi fans a snapshot out to several reporters in order.
type Multi []sheetsim.ProgressReporter

// Report forwards p to every reporter.
func (m Multi) Report(ctx context.Context, jobID string, p sheetsim.Progress) {
	for _, r := range m {
		if r != nil {
			r.Report(ctx, jobID, p)
		}
	}
}

// Func adapts a function to sheetsim.ProgressReporter.
type Func func(ctx context.Context, jobID string, p sheetsim.Progress)

// Report calls f.
func (f Func) Report(ctx context.Context, jobID string, p sheetsim.Progress) {
	f(ctx, jobID, p)
}
