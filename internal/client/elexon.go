package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"energy-ingest/internal/model"
	"energy-ingest/internal/retry"
)

const (
	systemPricesPath = "/balancing/settlement/system-prices"
	marketIndexPath  = "/balancing/pricing/market-index"

	// The market-index endpoint caps the queryable window.
	marketIndexMaxDays = 7
)

// ElexonOptions parameterise the Elexon BMRS client.
type ElexonOptions struct {
	BaseURL     string
	Timeout     time.Duration
	MaxAttempts int
	UserAgent   string
	// Providers restricts market-index quotes to these exchanges.
	Providers []string
}

// Elexon fetches UK settlement data from the Elexon BMRS API.
// No authentication required; all endpoints are public.
type Elexon struct {
	opts    ElexonOptions
	logger  zerolog.Logger
	http    *retry.Client
	baseURL string
}

// NewElexon constructs an Elexon BMRS client.
func NewElexon(opts ElexonOptions, logger zerolog.Logger) *Elexon {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://data.elexon.co.uk/bmrs/api/v1"
	}

	httpClient := retry.New(retry.Options{
		MaxAttempts: opts.MaxAttempts,
		Timeout:     opts.Timeout,
		UserAgent:   opts.UserAgent,
	}, logger)

	return &Elexon{
		opts:    opts,
		logger:  logger.With().Str("component", "elexon_client").Logger(),
		http:    httpClient,
		baseURL: baseURL,
	}
}

// SystemPrices fetches SSP/SBP records for [from, to], one request per
// settlement date.
func (e *Elexon) SystemPrices(ctx context.Context, from, to time.Time) (*Outcome, error) {
	out := &Outcome{}
	err := eachDay(ctx, out, from, to, func(day time.Time) ([]json.RawMessage, error) {
		endpoint := fmt.Sprintf("%s%s/%s", e.baseURL, systemPricesPath, day.Format("2006-01-02"))
		body, err := e.http.GetJSON(ctx, endpoint)
		if err != nil {
			return nil, &UpstreamError{Source: model.SourceSystemPrice, From: day, To: day, Err: err}
		}
		return decodeEnvelope(body)
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info().
		Int("records", len(out.Records)).
		Int("chunks", out.Chunks).
		Int("failed_chunks", len(out.ChunkErrors)).
		Msg("fetched system prices")
	return out, nil
}

// MarketIndex fetches day-ahead market-index quotes for [from, to],
// chunked into windows the endpoint accepts.
func (e *Elexon) MarketIndex(ctx context.Context, from, to time.Time) (*Outcome, error) {
	out := &Outcome{}

	start := model.DateOnly(from)
	end := model.DateOnly(to)
	for cur := start; !cur.After(end); cur = cur.AddDate(0, 0, marketIndexMaxDays) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		winEnd := cur.AddDate(0, 0, marketIndexMaxDays-1)
		if winEnd.After(end) {
			winEnd = end
		}

		out.Chunks++
		records, err := e.fetchMarketIndexWindow(ctx, cur, winEnd)
		if err != nil {
			out.ChunkErrors = append(out.ChunkErrors, ChunkError{From: cur, To: winEnd, Err: err})
			continue
		}
		out.Records = append(out.Records, records...)
	}

	e.logger.Info().
		Int("records", len(out.Records)).
		Int("chunks", out.Chunks).
		Int("failed_chunks", len(out.ChunkErrors)).
		Msg("fetched market index prices")
	return out, nil
}

func (e *Elexon) fetchMarketIndexWindow(ctx context.Context, from, to time.Time) ([]json.RawMessage, error) {
	params := url.Values{}
	params.Set("from", from.Format("2006-01-02"))
	params.Set("to", to.Format("2006-01-02"))
	if len(e.opts.Providers) > 0 {
		params.Set("dataProviders", strings.Join(e.opts.Providers, ","))
	}

	endpoint := e.baseURL + marketIndexPath + "?" + params.Encode()
	body, err := e.http.GetJSON(ctx, endpoint)
	if err != nil {
		return nil, &UpstreamError{Source: model.SourceDayAhead, From: from, To: to, Err: err}
	}
	return decodeEnvelope(body)
}

// systemPriceSource adapts SystemPrices to the SourceClient interface.
type systemPriceSource struct{ e *Elexon }

func (s systemPriceSource) Source() model.Source { return model.SourceSystemPrice }
func (s systemPriceSource) Fetch(ctx context.Context, from, to time.Time) (*Outcome, error) {
	return s.e.SystemPrices(ctx, from, to)
}

// NewSystemPriceSource exposes the system-price endpoint as a SourceClient.
func NewSystemPriceSource(e *Elexon) SourceClient { return systemPriceSource{e: e} }

type dayAheadSource struct{ e *Elexon }

func (s dayAheadSource) Source() model.Source { return model.SourceDayAhead }
func (s dayAheadSource) Fetch(ctx context.Context, from, to time.Time) (*Outcome, error) {
	return s.e.MarketIndex(ctx, from, to)
}

// NewDayAheadSource exposes the market-index endpoint as a SourceClient.
func NewDayAheadSource(e *Elexon) SourceClient { return dayAheadSource{e: e} }
