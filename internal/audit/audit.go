// Package audit records the lifecycle of every fetch attempt:
// running → success or running → error. Rows are append-only; a run left
// permanently running is an anomaly the operator queries for, not one the
// logger prevents transactionally.
package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"energy-ingest/internal/model"
)

// RunStore is the persistence surface the logger writes through.
type RunStore interface {
	InsertFetchRun(ctx context.Context, run model.FetchRun) (int64, error)
	CompleteFetchRun(ctx context.Context, id int64, completedAt time.Time, fetched, inserted, updated int) error
	FailFetchRun(ctx context.Context, id int64, completedAt time.Time, errMsg string) error
	ListStaleRuns(ctx context.Context, olderThan time.Time) ([]model.FetchRun, error)
}

// Logger opens and closes audit runs around fetch attempts.
type Logger struct {
	store  RunStore
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs an audit logger over a run store.
func New(store RunStore, logger zerolog.Logger) *Logger {
	return &Logger{
		store:  store,
		logger: logger.With().Str("component", "audit").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Open creates a run record with status running and returns its id.
func (l *Logger) Open(ctx context.Context, fetchType string, metadata map[string]string) (int64, error) {
	id, err := l.store.InsertFetchRun(ctx, model.FetchRun{
		FetchType: fetchType,
		StartedAt: l.now(),
		Status:    model.RunRunning,
		Metadata:  metadata,
	})
	if err != nil {
		return 0, err
	}

	l.logger.Debug().Int64("run_id", id).Str("fetch_type", fetchType).Msg("audit run opened")
	return id, nil
}

// Close finalises a run as success with its counts.
func (l *Logger) Close(ctx context.Context, runID int64, fetched, inserted, updated int) error {
	// Finalisation must survive a cancelled or expired request context so
	// no run is left dangling in running.
	ctx = context.WithoutCancel(ctx)
	if err := l.store.CompleteFetchRun(ctx, runID, l.now(), fetched, inserted, updated); err != nil {
		l.logger.Error().Err(err).Int64("run_id", runID).Msg("failed to close audit run")
		return err
	}
	return nil
}

// Fail finalises a run as errored with the cause.
func (l *Logger) Fail(ctx context.Context, runID int64, cause error) error {
	ctx = context.WithoutCancel(ctx)
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := l.store.FailFetchRun(ctx, runID, l.now(), msg); err != nil {
		l.logger.Error().Err(err).Int64("run_id", runID).Msg("failed to fail audit run")
		return err
	}
	return nil
}

// StaleRuns lists runs still running after the given age — the residue of
// a crash mid-run.
func (l *Logger) StaleRuns(ctx context.Context, age time.Duration) ([]model.FetchRun, error) {
	return l.store.ListStaleRuns(ctx, l.now().Add(-age))
}
