// Package client implements one fetch client per upstream API. Each client
// chunks multi-day ranges into the upstream's supported request granularity
// and reports per-chunk failures as a partial result instead of aborting.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"energy-ingest/internal/model"
)

// ChunkError records the failure of a single request chunk.
type ChunkError struct {
	From time.Time
	To   time.Time
	Err  error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %s..%s: %v", e.From.Format("2006-01-02"), e.To.Format("2006-01-02"), e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// UpstreamError wraps a request-level failure with its source and range.
type UpstreamError struct {
	Source model.Source
	From   time.Time
	To     time.Time
	Err    error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s upstream %s..%s: %v",
		e.Source, e.From.Format("2006-01-02"), e.To.Format("2006-01-02"), e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Outcome is the result of one ranged fetch: the raw records that decoded,
// plus any chunks that failed. Records keep upstream order; downstream
// upsert is keyed, so no sort is imposed here.
type Outcome struct {
	Records     []json.RawMessage
	Chunks      int
	ChunkErrors []ChunkError
}

// SourceClient fetches raw records for a date range from one upstream.
// Implementations are stateless between calls: the returned sequence is
// finite and a repeated call restarts from scratch.
type SourceClient interface {
	Source() model.Source
	Fetch(ctx context.Context, from, to time.Time) (*Outcome, error)
}

// eachDay invokes fn once per calendar day in [from, to], stopping early
// only on context cancellation. Chunk failures accumulate into out.
func eachDay(ctx context.Context, out *Outcome, from, to time.Time, fn func(day time.Time) ([]json.RawMessage, error)) error {
	for day := model.DateOnly(from); !day.After(model.DateOnly(to)); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return err
		}

		out.Chunks++
		records, err := fn(day)
		if err != nil {
			out.ChunkErrors = append(out.ChunkErrors, ChunkError{From: day, To: day, Err: err})
			continue
		}
		out.Records = append(out.Records, records...)
	}
	return nil
}

// dataEnvelope matches the {"data": [...]} wrapper both upstreams use.
type dataEnvelope struct {
	Data []json.RawMessage `json:"data"`
}

func decodeEnvelope(body []byte) ([]json.RawMessage, error) {
	var env dataEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode response envelope: %w", err)
	}
	return env.Data, nil
}
