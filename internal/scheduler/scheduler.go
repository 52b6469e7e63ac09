// Package scheduler runs the recurring fetch jobs: interval jobs for the
// three half-hourly sources, a daily fuel mix job, and a nightly maintenance
// backfill that re-covers the trailing window.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"energy-ingest/internal/config"
	"energy-ingest/internal/ingest"
	"energy-ingest/internal/model"
)

// Scheduler owns the cron runner and its job wiring.
type Scheduler struct {
	cron   *cron.Cron
	orch   *ingest.Orchestrator
	cfg    config.SchedulerConfig
	logger zerolog.Logger
}

// New registers all recurring jobs against the orchestrator. Overlap within
// a source is handled by the orchestrator's in-flight guard, so jobs fire on
// schedule and let a busy source reject them.
func New(orch *ingest.Orchestrator, cfg config.SchedulerConfig, logger zerolog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:   cron.New(),
		orch:   orch,
		cfg:    cfg,
		logger: logger.With().Str("component", "scheduler").Logger(),
	}

	jobs := []struct {
		spec string
		name string
		run  func(context.Context)
	}{
		{everySpec(cfg.PricesInterval), "system_prices", s.fetchJob(model.SourceSystemPrice)},
		{everySpec(cfg.DayAheadInterval), "day_ahead_prices", s.fetchJob(model.SourceDayAhead)},
		{everySpec(cfg.CarbonInterval), "carbon_intensity", s.fetchJob(model.SourceCarbonIntensity)},
		{cfg.FuelMixSpec, "fuel_mix", s.fetchJob(model.SourceFuelMix)},
		{cfg.MaintenanceSpec, "maintenance", s.maintenanceJob()},
	}

	for _, job := range jobs {
		job := job
		if _, err := s.cron.AddFunc(job.spec, func() {
			job.run(context.Background())
		}); err != nil {
			return nil, fmt.Errorf("schedule %s (%q): %w", job.name, job.spec, err)
		}
		s.logger.Info().Str("job", job.name).Str("spec", job.spec).Msg("job scheduled")
	}

	return s, nil
}

// Run starts the scheduler and blocks until the context is cancelled, then
// waits for running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) {
	s.cron.Start()
	s.logger.Info().Msg("scheduler started")

	<-ctx.Done()

	stopped := s.cron.Stop()
	<-stopped.Done()
	s.logger.Info().Msg("scheduler stopped")
}

func (s *Scheduler) fetchJob(source model.Source) func(context.Context) {
	return func(ctx context.Context) {
		results := s.orch.FetchRecent(ctx, []model.Source{source}, 0)
		s.logResults("scheduled fetch", results)
	}
}

// maintenanceJob re-runs all sources over the trailing window to repair
// gaps left by transient failures. Windows already covered by successful
// runs are skipped by the orchestrator.
func (s *Scheduler) maintenanceJob() func(context.Context) {
	return func(ctx context.Context) {
		to := model.DateOnly(time.Now().UTC())
		from := to.AddDate(0, 0, -s.cfg.MaintenanceDays)

		for _, source := range model.AllSources() {
			res, err := s.orch.Backfill(ctx, source, from, to, false)
			if err != nil {
				s.logger.Error().Err(err).Str("source", string(source)).Msg("maintenance backfill failed")
				continue
			}
			s.logResult("maintenance backfill", source, res)
		}
	}
}

func (s *Scheduler) logResults(job string, results map[model.Source]model.Result) {
	for source, res := range results {
		s.logResult(job, source, res)
	}
}

func (s *Scheduler) logResult(job string, source model.Source, res model.Result) {
	event := s.logger.Info()
	if len(res.Errors) > 0 {
		event = s.logger.Error().Strs("errors", res.Errors)
	}
	event.
		Str("job", job).
		Str("source", string(source)).
		Int("fetched", res.Fetched).
		Int("inserted", res.Inserted).
		Int("updated", res.Updated).
		Int("skipped", res.Skipped).
		Msg("job finished")
}

// everySpec renders an interval as a cron @every spec.
func everySpec(interval time.Duration) string {
	return "@every " + interval.String()
}
