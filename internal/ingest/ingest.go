// Package ingest drives the fetch → normalize → upsert → audit pipeline.
// The orchestrator runs sources in parallel but at most one fetch per
// source at a time, and every attempt opens exactly one audit run.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"energy-ingest/internal/client"
	"energy-ingest/internal/model"
	"energy-ingest/internal/normalize"
	"energy-ingest/internal/storage"
)

// AlreadyRunningError rejects a fetch for a source that already has one in
// flight. Callers get it immediately; nothing is queued.
type AlreadyRunningError struct {
	Source model.Source
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("fetch already running for source %s", e.Source)
}

// Store is the persistence surface the orchestrator writes through.
type Store interface {
	UpsertSettlementPrices(ctx context.Context, points []model.SettlementPricePoint) (storage.UpsertStats, error)
	UpsertDayAheadPrices(ctx context.Context, points []model.DayAheadPricePoint) (storage.UpsertStats, error)
	UpsertCarbonIntensity(ctx context.Context, readings []model.CarbonIntensityReading) (storage.UpsertStats, error)
	UpsertFuelMix(ctx context.Context, samples []model.FuelMixSample) (storage.UpsertStats, error)
	HasSuccessfulRun(ctx context.Context, fetchType string, from, to time.Time) (bool, error)
}

// Auditor opens and closes the audit run around each fetch attempt.
type Auditor interface {
	Open(ctx context.Context, fetchType string, metadata map[string]string) (int64, error)
	Close(ctx context.Context, runID int64, fetched, inserted, updated int) error
	Fail(ctx context.Context, runID int64, cause error) error
}

// Options tune the orchestrator.
type Options struct {
	DaysBack          int
	SourceTimeout     time.Duration
	BackfillChunkDays int
}

// Orchestrator coordinates the per-source ingestion pipelines.
type Orchestrator struct {
	clients map[model.Source]client.SourceClient
	store   Store
	audit   Auditor
	logger  zerolog.Logger
	opts    Options
	now     func() time.Time

	mu       sync.Mutex
	inflight map[model.Source]bool
}

// New constructs an orchestrator over the given source clients.
func New(clients []client.SourceClient, store Store, auditor Auditor, opts Options, logger zerolog.Logger) *Orchestrator {
	if opts.DaysBack <= 0 {
		opts.DaysBack = 2
	}
	if opts.SourceTimeout <= 0 {
		opts.SourceTimeout = 10 * time.Minute
	}
	if opts.BackfillChunkDays <= 0 {
		opts.BackfillChunkDays = 7
	}

	bySource := make(map[model.Source]client.SourceClient, len(clients))
	for _, c := range clients {
		bySource[c.Source()] = c
	}

	return &Orchestrator{
		clients:  bySource,
		store:    store,
		audit:    auditor,
		logger:   logger.With().Str("component", "orchestrator").Logger(),
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
		inflight: make(map[model.Source]bool),
	}
}

// FetchRecent runs the pipeline for each requested source over
// [today - daysBack, today]. Sources run in parallel and fail
// independently: one source's error never prevents the others.
func (o *Orchestrator) FetchRecent(ctx context.Context, sources []model.Source, daysBack int) map[model.Source]model.Result {
	if len(sources) == 0 {
		sources = model.AllSources()
	}
	if daysBack <= 0 {
		daysBack = o.opts.DaysBack
	}

	to := model.DateOnly(o.now())
	from := to.AddDate(0, 0, -daysBack)

	results := make(map[model.Source]model.Result, len(sources))
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	for _, source := range sources {
		wg.Add(1)
		go func(source model.Source) {
			defer wg.Done()

			res, err := o.fetchSource(ctx, source, from, to)
			if err != nil && !containsError(res.Errors, err) {
				res.Errors = append(res.Errors, err.Error())
			}

			mu.Lock()
			results[source] = res
			mu.Unlock()
		}(source)
	}
	wg.Wait()

	return results
}

// Backfill runs the pipeline for one source over an arbitrary historical
// range, chunked into windows. Failed windows accumulate into the result;
// only cancellation aborts the loop. Windows whose audit log shows a prior
// success over the exact same range are skipped unless force is set.
func (o *Orchestrator) Backfill(ctx context.Context, source model.Source, from, to time.Time, force bool) (model.Result, error) {
	var res model.Result

	from = model.DateOnly(from)
	to = model.DateOnly(to)
	if from.After(to) {
		return res, fmt.Errorf("backfill range is empty: %s after %s", from.Format("2006-01-02"), to.Format("2006-01-02"))
	}

	src, ok := o.clients[source]
	if !ok {
		return res, fmt.Errorf("no client registered for source %s", source)
	}

	if !o.tryAcquire(source) {
		return res, &AlreadyRunningError{Source: source}
	}
	defer o.release(source)

	ctx, cancel := context.WithTimeout(ctx, o.opts.SourceTimeout)
	defer cancel()

	for winFrom := from; !winFrom.After(to); winFrom = winFrom.AddDate(0, 0, o.opts.BackfillChunkDays) {
		// Cooperative cancellation between chunks; the in-flight chunk
		// completes or times out rather than being killed.
		if err := ctx.Err(); err != nil {
			res.Errors = append(res.Errors, err.Error())
			return res, err
		}

		winTo := winFrom.AddDate(0, 0, o.opts.BackfillChunkDays-1)
		if winTo.After(to) {
			winTo = to
		}

		if !force && o.windowCovered(ctx, source, winFrom, winTo) {
			o.logger.Info().
				Str("source", string(source)).
				Time("from", winFrom).
				Time("to", winTo).
				Msg("skipping window already covered by a successful run")
			continue
		}

		winRes, err := o.runWindow(ctx, src, winFrom, winTo, "backfill")
		res.Merge(winRes)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			// Window failures never abort the backfill; they are reported.
			continue
		}
	}

	o.logger.Info().
		Str("source", string(source)).
		Int("fetched", res.Fetched).
		Int("inserted", res.Inserted).
		Int("updated", res.Updated).
		Int("skipped", res.Skipped).
		Int("errors", len(res.Errors)).
		Msg("backfill finished")
	return res, nil
}

func (o *Orchestrator) fetchSource(ctx context.Context, source model.Source, from, to time.Time) (model.Result, error) {
	src, ok := o.clients[source]
	if !ok {
		return model.Result{}, fmt.Errorf("no client registered for source %s", source)
	}

	if !o.tryAcquire(source) {
		return model.Result{}, &AlreadyRunningError{Source: source}
	}
	defer o.release(source)

	ctx, cancel := context.WithTimeout(ctx, o.opts.SourceTimeout)
	defer cancel()

	return o.runWindow(ctx, src, from, to, "recent")
}

// runWindow executes one audited pass of the pipeline over [from, to].
// The audit run opened here is always closed: success when every chunk
// fetched, error on chunk failures (so a retried backfill re-fetches the
// window), storage failure, or timeout.
func (o *Orchestrator) runWindow(ctx context.Context, src client.SourceClient, from, to time.Time, mode string) (model.Result, error) {
	var res model.Result
	source := src.Source()
	fetchType := source.FetchType()

	metadata := map[string]string{
		"from": from.Format("2006-01-02"),
		"to":   to.Format("2006-01-02"),
		"mode": mode,
	}

	runID, err := o.audit.Open(ctx, fetchType, metadata)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		return res, fmt.Errorf("open audit run for %s: %w", fetchType, err)
	}

	outcome, err := src.Fetch(ctx, from, to)
	if err != nil {
		err = o.describeFailure(ctx, err)
		_ = o.audit.Fail(ctx, runID, err)
		res.Errors = append(res.Errors, err.Error())
		return res, err
	}

	res.Fetched = len(outcome.Records)
	for i := range outcome.ChunkErrors {
		res.Errors = append(res.Errors, outcome.ChunkErrors[i].Error())
	}

	stats, skipped, err := o.persist(ctx, source, outcome.Records)
	if err != nil {
		err = o.describeFailure(ctx, err)
		_ = o.audit.Fail(ctx, runID, err)
		res.Errors = append(res.Errors, err.Error())
		return res, err
	}

	res.Inserted = stats.Inserted
	res.Updated = stats.Updated
	res.Skipped = skipped

	if len(outcome.ChunkErrors) > 0 {
		// Incomplete window: close as error so nothing records this range
		// as fully covered. The records that did arrive are already stored.
		_ = o.audit.Fail(ctx, runID, fmt.Errorf("%d of %d chunks failed: %s",
			len(outcome.ChunkErrors), outcome.Chunks, joinChunkErrors(outcome.ChunkErrors)))
	} else {
		if err := o.audit.Close(ctx, runID, res.Fetched, res.Inserted, res.Updated); err != nil {
			res.Errors = append(res.Errors, err.Error())
		}
	}

	o.logger.Info().
		Str("source", string(source)).
		Str("mode", mode).
		Time("from", from).
		Time("to", to).
		Int("fetched", res.Fetched).
		Int("inserted", res.Inserted).
		Int("updated", res.Updated).
		Int("skipped", res.Skipped).
		Int("chunk_errors", len(outcome.ChunkErrors)).
		Msg("window processed")
	return res, nil
}

// persist normalizes raw records for the source and upserts the batch.
// Validation failures are skipped and counted, never fatal.
func (o *Orchestrator) persist(ctx context.Context, source model.Source, raws []json.RawMessage) (storage.UpsertStats, int, error) {
	var (
		stats storage.UpsertStats
		verrs []normalize.ValidationError
		err   error
	)

	switch source {
	case model.SourceSystemPrice:
		var points []model.SettlementPricePoint
		points, verrs = normalize.SystemPrices(raws)
		stats, err = o.store.UpsertSettlementPrices(ctx, points)
	case model.SourceDayAhead:
		var points []model.DayAheadPricePoint
		points, verrs = normalize.DayAheadPrices(raws)
		stats, err = o.store.UpsertDayAheadPrices(ctx, points)
	case model.SourceCarbonIntensity:
		var readings []model.CarbonIntensityReading
		readings, verrs = normalize.CarbonReadings(raws)
		stats, err = o.store.UpsertCarbonIntensity(ctx, readings)
	case model.SourceFuelMix:
		var samples []model.FuelMixSample
		samples, verrs = normalize.FuelMixes(raws)
		stats, err = o.store.UpsertFuelMix(ctx, samples)
	default:
		return stats, 0, fmt.Errorf("no normalizer for source %s", source)
	}

	for i := range verrs {
		o.logger.Warn().
			Str("source", string(source)).
			Str("reason", verrs[i].Error()).
			Msg("record failed validation, skipped")
	}

	if err != nil {
		return storage.UpsertStats{}, len(verrs), err
	}
	return stats, len(verrs), nil
}

// windowCovered consults the audit log for a prior success over exactly
// this range. Failures here only disable the optimization.
func (o *Orchestrator) windowCovered(ctx context.Context, source model.Source, from, to time.Time) bool {
	covered, err := o.store.HasSuccessfulRun(ctx, source.FetchType(), from, to)
	if err != nil {
		o.logger.Warn().Err(err).Str("source", string(source)).Msg("coverage check failed, refetching window")
		return false
	}
	return covered
}

func (o *Orchestrator) describeFailure(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("source timed out after %s: %w", o.opts.SourceTimeout, err)
	}
	return err
}

func (o *Orchestrator) tryAcquire(source model.Source) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inflight[source] {
		return false
	}
	o.inflight[source] = true
	return true
}

func (o *Orchestrator) release(source model.Source) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight, source)
}

func joinChunkErrors(chunkErrs []client.ChunkError) string {
	parts := make([]string, 0, len(chunkErrs))
	for i := range chunkErrs {
		parts = append(parts, chunkErrs[i].Error())
	}
	return strings.Join(parts, "; ")
}

func containsError(errs []string, err error) bool {
	for _, e := range errs {
		if e == err.Error() {
			return true
		}
	}
	return false
}
