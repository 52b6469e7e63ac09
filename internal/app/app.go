package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"energy-ingest/internal/audit"
	"energy-ingest/internal/client"
	"energy-ingest/internal/config"
	"energy-ingest/internal/ingest"
	"energy-ingest/internal/model"
	"energy-ingest/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newClients() []client.SourceClient {
	elexon := client.NewElexon(client.ElexonOptions{
		BaseURL:     a.Config.Elexon.BaseURL,
		Timeout:     a.Config.Elexon.RequestTimeout,
		MaxAttempts: a.Config.Elexon.MaxAttempts,
		UserAgent:   a.Config.Fetch.UserAgent,
		Providers:   a.Config.Fetch.MarketProviders,
	}, a.Logger)

	carbon := client.NewCarbon(client.CarbonOptions{
		BaseURL:     a.Config.Carbon.BaseURL,
		Timeout:     a.Config.Carbon.RequestTimeout,
		MaxAttempts: a.Config.Carbon.MaxAttempts,
		UserAgent:   a.Config.Fetch.UserAgent,
	}, a.Logger)

	return []client.SourceClient{
		client.NewSystemPriceSource(elexon),
		client.NewDayAheadSource(elexon),
		client.NewCarbonIntensitySource(carbon),
		client.NewFuelMixSource(carbon),
	}
}

func (a *App) newOrchestrator(store *storage.Store) *ingest.Orchestrator {
	auditor := audit.New(store, a.Logger)
	opts := ingest.Options{
		DaysBack:          a.Config.Fetch.DaysBack,
		SourceTimeout:     a.Config.Fetch.SourceTimeout,
		BackfillChunkDays: a.Config.Fetch.BackfillChunkDays,
	}
	return ingest.New(a.newClients(), store, auditor, opts, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// FetchOptions configure a one-shot fetch.
type FetchOptions struct {
	Sources  []model.Source
	DaysBack int
}

// BackfillOptions configure the backfill job.
type BackfillOptions struct {
	Sources []model.Source
	From    time.Time
	To      time.Time
	Force   bool
}

// StatusOptions configure the status report.
type StatusOptions struct {
	StaleAfter time.Duration
}

// ExportOptions hold parameters for exporting settlement prices.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}
