package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"energy-ingest/internal/model"
	"energy-ingest/internal/retry"
)

// CarbonOptions parameterise the National Grid carbon intensity client.
type CarbonOptions struct {
	BaseURL     string
	Timeout     time.Duration
	MaxAttempts int
	UserAgent   string
}

// Carbon fetches grid carbon intensity and generation mix from the
// National Grid Carbon Intensity API. No authentication required.
type Carbon struct {
	opts    CarbonOptions
	logger  zerolog.Logger
	http    *retry.Client
	baseURL string
}

// NewCarbon constructs a carbon intensity client.
func NewCarbon(opts CarbonOptions, logger zerolog.Logger) *Carbon {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.carbonintensity.org.uk"
	}

	httpClient := retry.New(retry.Options{
		MaxAttempts: opts.MaxAttempts,
		Timeout:     opts.Timeout,
		UserAgent:   opts.UserAgent,
	}, logger)

	return &Carbon{
		opts:    opts,
		logger:  logger.With().Str("component", "carbon_client").Logger(),
		http:    httpClient,
		baseURL: baseURL,
	}
}

// Intensity fetches half-hourly carbon intensity readings for [from, to],
// one request per date.
func (c *Carbon) Intensity(ctx context.Context, from, to time.Time) (*Outcome, error) {
	out := &Outcome{}
	err := eachDay(ctx, out, from, to, func(day time.Time) ([]json.RawMessage, error) {
		endpoint := fmt.Sprintf("%s/intensity/date/%s", c.baseURL, day.Format("2006-01-02"))
		body, err := c.http.GetJSON(ctx, endpoint)
		if err != nil {
			return nil, &UpstreamError{Source: model.SourceCarbonIntensity, From: day, To: day, Err: err}
		}
		return decodeEnvelope(body)
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info().
		Int("records", len(out.Records)).
		Int("chunks", out.Chunks).
		Int("failed_chunks", len(out.ChunkErrors)).
		Msg("fetched carbon intensity")
	return out, nil
}

// GenerationMix fetches half-hourly fuel mix samples for [from, to],
// one request per date.
func (c *Carbon) GenerationMix(ctx context.Context, from, to time.Time) (*Outcome, error) {
	out := &Outcome{}
	err := eachDay(ctx, out, from, to, func(day time.Time) ([]json.RawMessage, error) {
		// The generation endpoint takes an explicit datetime window.
		fromStr := day.Format("2006-01-02T15:04Z")
		toStr := day.Add(24*time.Hour - time.Minute).Format("2006-01-02T15:04Z")
		endpoint := fmt.Sprintf("%s/generation/%s/%s", c.baseURL, fromStr, toStr)
		body, err := c.http.GetJSON(ctx, endpoint)
		if err != nil {
			return nil, &UpstreamError{Source: model.SourceFuelMix, From: day, To: day, Err: err}
		}
		return decodeEnvelope(body)
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info().
		Int("records", len(out.Records)).
		Int("chunks", out.Chunks).
		Int("failed_chunks", len(out.ChunkErrors)).
		Msg("fetched generation mix")
	return out, nil
}

type carbonIntensitySource struct{ c *Carbon }

func (s carbonIntensitySource) Source() model.Source { return model.SourceCarbonIntensity }
func (s carbonIntensitySource) Fetch(ctx context.Context, from, to time.Time) (*Outcome, error) {
	return s.c.Intensity(ctx, from, to)
}

// NewCarbonIntensitySource exposes intensity readings as a SourceClient.
func NewCarbonIntensitySource(c *Carbon) SourceClient { return carbonIntensitySource{c: c} }

type fuelMixSource struct{ c *Carbon }

func (s fuelMixSource) Source() model.Source { return model.SourceFuelMix }
func (s fuelMixSource) Fetch(ctx context.Context, from, to time.Time) (*Outcome, error) {
	return s.c.GenerationMix(ctx, from, to)
}

// NewFuelMixSource exposes generation mix samples as a SourceClient.
func NewFuelMixSource(c *Carbon) SourceClient { return fuelMixSource{c: c} }
