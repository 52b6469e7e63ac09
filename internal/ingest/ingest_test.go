package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"energy-ingest/internal/client"
	"energy-ingest/internal/model"
	"energy-ingest/internal/storage"
)

type auditRun struct {
	fetchType string
	metadata  map[string]string
	status    model.RunStatus
	fetched   int
	inserted  int
	updated   int
	errMsg    string
}

type fakeAudit struct {
	mu   sync.Mutex
	next int64
	runs map[int64]*auditRun
}

func newFakeAudit() *fakeAudit {
	return &fakeAudit{runs: make(map[int64]*auditRun)}
}

func (f *fakeAudit) Open(_ context.Context, fetchType string, metadata map[string]string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.runs[f.next] = &auditRun{fetchType: fetchType, metadata: metadata, status: model.RunRunning}
	return f.next, nil
}

func (f *fakeAudit) Close(_ context.Context, runID int64, fetched, inserted, updated int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run := f.runs[runID]
	run.status = model.RunSuccess
	run.fetched = fetched
	run.inserted = inserted
	run.updated = updated
	return nil
}

func (f *fakeAudit) Fail(_ context.Context, runID int64, cause error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run := f.runs[runID]
	run.status = model.RunError
	if cause != nil {
		run.errMsg = cause.Error()
	}
	return nil
}

func (f *fakeAudit) byStatus(status model.RunStatus) []*auditRun {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*auditRun
	for id := int64(1); id <= f.next; id++ {
		if f.runs[id].status == status {
			out = append(out, f.runs[id])
		}
	}
	return out
}

// fakeStore keys rows the way the real tables do, so a second upsert of the
// same records resolves as updates. Coverage checks consult the audit fake,
// mirroring how the real store reads the fetch_runs table.
type fakeStore struct {
	mu     sync.Mutex
	system map[string]model.SettlementPricePoint
	audit  *fakeAudit
}

func newFakeStore(audit *fakeAudit) *fakeStore {
	return &fakeStore{system: make(map[string]model.SettlementPricePoint), audit: audit}
}

func (f *fakeStore) UpsertSettlementPrices(_ context.Context, points []model.SettlementPricePoint) (storage.UpsertStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var stats storage.UpsertStats
	for _, p := range points {
		key := fmt.Sprintf("%s|%d", p.SettlementDate.Format("2006-01-02"), p.SettlementPeriod)
		if _, ok := f.system[key]; ok {
			stats.Updated++
		} else {
			stats.Inserted++
		}
		f.system[key] = p
	}
	return stats, nil
}

func (f *fakeStore) UpsertDayAheadPrices(_ context.Context, points []model.DayAheadPricePoint) (storage.UpsertStats, error) {
	return storage.UpsertStats{Inserted: len(points)}, nil
}

func (f *fakeStore) UpsertCarbonIntensity(_ context.Context, readings []model.CarbonIntensityReading) (storage.UpsertStats, error) {
	return storage.UpsertStats{Inserted: len(readings)}, nil
}

func (f *fakeStore) UpsertFuelMix(_ context.Context, samples []model.FuelMixSample) (storage.UpsertStats, error) {
	return storage.UpsertStats{Inserted: len(samples)}, nil
}

func (f *fakeStore) HasSuccessfulRun(_ context.Context, fetchType string, from, to time.Time) (bool, error) {
	f.audit.mu.Lock()
	defer f.audit.mu.Unlock()
	fromStr := from.Format("2006-01-02")
	toStr := to.Format("2006-01-02")
	for _, run := range f.audit.runs {
		if run.status == model.RunSuccess && run.fetchType == fetchType &&
			run.metadata["from"] == fromStr && run.metadata["to"] == toStr {
			return true, nil
		}
	}
	return false, nil
}

type fakeClient struct {
	source model.Source
	fetch  func(ctx context.Context, from, to time.Time) (*client.Outcome, error)

	mu    sync.Mutex
	calls int
}

func (f *fakeClient) Source() model.Source { return f.source }

func (f *fakeClient) Fetch(ctx context.Context, from, to time.Time) (*client.Outcome, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fetch(ctx, from, to)
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// systemPriceRecords emits one valid raw record per settlement period per
// day in [from, to].
func systemPriceRecords(from, to time.Time) []json.RawMessage {
	var records []json.RawMessage
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		for period := 1; period <= 48; period++ {
			records = append(records, json.RawMessage(fmt.Sprintf(
				`{"settlementDate":%q,"settlementPeriod":%d,"systemSellPrice":65.50,"systemBuyPrice":70.10}`,
				day.Format("2006-01-02"), period)))
		}
	}
	return records
}

func newTestOrchestrator(c client.SourceClient, opts Options) (*Orchestrator, *fakeStore, *fakeAudit) {
	audit := newFakeAudit()
	store := newFakeStore(audit)
	orch := New([]client.SourceClient{c}, store, audit, opts, zerolog.Nop())
	return orch, store, audit
}

func TestFetchRecentInsertsFreshBatch(t *testing.T) {
	src := &fakeClient{
		source: model.SourceSystemPrice,
		fetch: func(_ context.Context, from, to time.Time) (*client.Outcome, error) {
			return &client.Outcome{Records: systemPriceRecords(from, to), Chunks: 2}, nil
		},
	}
	orch, store, audit := newTestOrchestrator(src, Options{})

	results := orch.FetchRecent(context.Background(), []model.Source{model.SourceSystemPrice}, 1)

	res := results[model.SourceSystemPrice]
	assert.Equal(t, 96, res.Fetched)
	assert.Equal(t, 96, res.Inserted)
	assert.Equal(t, 0, res.Updated)
	assert.Equal(t, 0, res.Skipped)
	assert.Empty(t, res.Errors)
	assert.Len(t, store.system, 96)

	successes := audit.byStatus(model.RunSuccess)
	require.Len(t, successes, 1)
	assert.Equal(t, "system_prices", successes[0].fetchType)
	assert.Equal(t, 96, successes[0].fetched)
	assert.Equal(t, 96, successes[0].inserted)
	assert.Empty(t, audit.byStatus(model.RunError))
	assert.Empty(t, audit.byStatus(model.RunRunning))
}

func TestFetchRecentSkipsMalformedRecords(t *testing.T) {
	records := make([]json.RawMessage, 0, 10)
	for period := 1; period <= 9; period++ {
		records = append(records, json.RawMessage(fmt.Sprintf(
			`{"settlementDate":"2024-11-01","settlementPeriod":%d,"systemSellPrice":50.00,"systemBuyPrice":52.00}`, period)))
	}
	records = append(records, json.RawMessage(`{"settlementDate":"not-a-date","settlementPeriod":10,"systemSellPrice":50.00,"systemBuyPrice":52.00}`))

	src := &fakeClient{
		source: model.SourceSystemPrice,
		fetch: func(_ context.Context, _, _ time.Time) (*client.Outcome, error) {
			return &client.Outcome{Records: records, Chunks: 1}, nil
		},
	}
	orch, store, audit := newTestOrchestrator(src, Options{})

	results := orch.FetchRecent(context.Background(), []model.Source{model.SourceSystemPrice}, 1)

	res := results[model.SourceSystemPrice]
	assert.Equal(t, 10, res.Fetched)
	assert.Equal(t, 9, res.Inserted)
	assert.Equal(t, 1, res.Skipped)
	assert.Empty(t, res.Errors)
	assert.Len(t, store.system, 9)

	// A bad record is a skip, not a failed run.
	require.Len(t, audit.byStatus(model.RunSuccess), 1)
	assert.Empty(t, audit.byStatus(model.RunError))
}

func TestFetchRecentFailureClosesRunAsError(t *testing.T) {
	src := &fakeClient{
		source: model.SourceSystemPrice,
		fetch: func(_ context.Context, _, _ time.Time) (*client.Outcome, error) {
			return nil, errors.New("upstream down")
		},
	}
	orch, _, audit := newTestOrchestrator(src, Options{})

	results := orch.FetchRecent(context.Background(), []model.Source{model.SourceSystemPrice}, 1)

	res := results[model.SourceSystemPrice]
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "upstream down")

	failures := audit.byStatus(model.RunError)
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0].errMsg, "upstream down")
	assert.Empty(t, audit.byStatus(model.RunRunning))
}

func TestBackfillRejectsConcurrentRun(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	src := &fakeClient{
		source: model.SourceSystemPrice,
		fetch: func(ctx context.Context, from, to time.Time) (*client.Outcome, error) {
			close(started)
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return &client.Outcome{Records: systemPriceRecords(from, to), Chunks: 1}, nil
		},
	}
	orch, _, _ := newTestOrchestrator(src, Options{})

	from := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := orch.Backfill(context.Background(), model.SourceSystemPrice, from, to, false)
		assert.NoError(t, err)
	}()

	<-started
	_, err := orch.Backfill(context.Background(), model.SourceSystemPrice, from, to, false)

	var already *AlreadyRunningError
	require.ErrorAs(t, err, &already)
	assert.Equal(t, model.SourceSystemPrice, already.Source)

	close(release)
	<-done
}

func TestBackfillSurvivesFailedWindow(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 83) // 12 windows of 7 days
	badWindow := from.AddDate(0, 0, 5*7)

	src := &fakeClient{
		source: model.SourceSystemPrice,
		fetch: func(_ context.Context, winFrom, winTo time.Time) (*client.Outcome, error) {
			if winFrom.Equal(badWindow) {
				return nil, errors.New("gateway timeout")
			}
			return &client.Outcome{Records: systemPriceRecords(winFrom, winFrom), Chunks: 1}, nil
		},
	}
	orch, _, audit := newTestOrchestrator(src, Options{})

	res, err := orch.Backfill(context.Background(), model.SourceSystemPrice, from, to, false)
	require.NoError(t, err)

	assert.Equal(t, 12, src.callCount())
	assert.Equal(t, 11*48, res.Fetched)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "gateway timeout")

	assert.Len(t, audit.byStatus(model.RunSuccess), 11)
	failures := audit.byStatus(model.RunError)
	require.Len(t, failures, 1)
	assert.Equal(t, badWindow.Format("2006-01-02"), failures[0].metadata["from"])
}

func TestBackfillClosesIncompleteWindowAsError(t *testing.T) {
	day1 := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)
	day3 := day1.AddDate(0, 0, 2)

	src := &fakeClient{source: model.SourceSystemPrice}
	src.fetch = func(_ context.Context, winFrom, winTo time.Time) (*client.Outcome, error) {
		if src.callCount() == 1 {
			// Middle day down: partial records plus a chunk error.
			records := append(systemPriceRecords(day1, day1), systemPriceRecords(day3, day3)...)
			return &client.Outcome{
				Records:     records,
				Chunks:      3,
				ChunkErrors: []client.ChunkError{{From: day2, To: day2, Err: errors.New("bmrs 502")}},
			}, nil
		}
		return &client.Outcome{Records: systemPriceRecords(winFrom, winTo), Chunks: 3}, nil
	}
	orch, store, audit := newTestOrchestrator(src, Options{})

	res, err := orch.Backfill(context.Background(), model.SourceSystemPrice, day1, day3, false)
	require.NoError(t, err)

	// Surviving chunks are stored, the failure is reported.
	assert.Equal(t, 96, res.Fetched)
	assert.Equal(t, 96, res.Inserted)
	assert.Len(t, store.system, 96)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "bmrs 502")

	// An incomplete window never closes as success.
	assert.Empty(t, audit.byStatus(model.RunSuccess))
	failures := audit.byStatus(model.RunError)
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0].errMsg, "1 of 3 chunks failed")

	// The range was not recorded as covered, so a retry re-fetches it.
	second, err := orch.Backfill(context.Background(), model.SourceSystemPrice, day1, day3, false)
	require.NoError(t, err)
	assert.Equal(t, 2, src.callCount())
	assert.Empty(t, second.Errors)
	assert.Equal(t, 3*48, second.Fetched)
	require.Len(t, audit.byStatus(model.RunSuccess), 1)
}

func TestSourceTimeoutFailsRunWithTimeoutCause(t *testing.T) {
	src := &fakeClient{
		source: model.SourceSystemPrice,
		fetch: func(ctx context.Context, _, _ time.Time) (*client.Outcome, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	orch, _, audit := newTestOrchestrator(src, Options{SourceTimeout: 10 * time.Millisecond})

	results := orch.FetchRecent(context.Background(), []model.Source{model.SourceSystemPrice}, 1)

	res := results[model.SourceSystemPrice]
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "timed out")

	failures := audit.byStatus(model.RunError)
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0].errMsg, "timed out")
	assert.Empty(t, audit.byStatus(model.RunRunning))
}

func TestBackfillIsIdempotentUnderForce(t *testing.T) {
	src := &fakeClient{
		source: model.SourceSystemPrice,
		fetch: func(_ context.Context, winFrom, winTo time.Time) (*client.Outcome, error) {
			return &client.Outcome{Records: systemPriceRecords(winFrom, winTo), Chunks: 1}, nil
		},
	}
	orch, store, _ := newTestOrchestrator(src, Options{})

	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC)

	first, err := orch.Backfill(context.Background(), model.SourceSystemPrice, from, to, false)
	require.NoError(t, err)
	assert.Equal(t, 14*48, first.Inserted)
	assert.Equal(t, 0, first.Updated)

	second, err := orch.Backfill(context.Background(), model.SourceSystemPrice, from, to, true)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, first.Inserted, second.Updated)
	assert.Len(t, store.system, 14*48)
}

func TestBackfillSkipsCoveredWindows(t *testing.T) {
	src := &fakeClient{
		source: model.SourceSystemPrice,
		fetch: func(_ context.Context, winFrom, winTo time.Time) (*client.Outcome, error) {
			return &client.Outcome{Records: systemPriceRecords(winFrom, winTo), Chunks: 1}, nil
		},
	}
	orch, _, audit := newTestOrchestrator(src, Options{})

	from := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 5, 14, 0, 0, 0, 0, time.UTC)

	_, err := orch.Backfill(context.Background(), model.SourceSystemPrice, from, to, false)
	require.NoError(t, err)
	firstCalls := src.callCount()
	assert.Equal(t, 2, firstCalls)

	res, err := orch.Backfill(context.Background(), model.SourceSystemPrice, from, to, false)
	require.NoError(t, err)

	assert.Equal(t, firstCalls, src.callCount(), "covered windows must not be refetched")
	assert.Equal(t, 0, res.Fetched)
	assert.Len(t, audit.byStatus(model.RunSuccess), 2)
}

func TestBackfillRejectsEmptyRange(t *testing.T) {
	src := &fakeClient{source: model.SourceSystemPrice}
	orch, _, _ := newTestOrchestrator(src, Options{})

	from := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	_, err := orch.Backfill(context.Background(), model.SourceSystemPrice, from, to, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestFetchRecentRunsSourcesIndependently(t *testing.T) {
	good := &fakeClient{
		source: model.SourceSystemPrice,
		fetch: func(_ context.Context, from, to time.Time) (*client.Outcome, error) {
			return &client.Outcome{Records: systemPriceRecords(from, from), Chunks: 1}, nil
		},
	}
	bad := &fakeClient{
		source: model.SourceCarbonIntensity,
		fetch: func(_ context.Context, _, _ time.Time) (*client.Outcome, error) {
			return nil, errors.New("intensity api unreachable")
		},
	}

	audit := newFakeAudit()
	store := newFakeStore(audit)
	orch := New([]client.SourceClient{good, bad}, store, audit, Options{}, zerolog.Nop())

	results := orch.FetchRecent(context.Background(),
		[]model.Source{model.SourceSystemPrice, model.SourceCarbonIntensity}, 1)

	require.Len(t, results, 2)
	assert.Empty(t, results[model.SourceSystemPrice].Errors)
	assert.Equal(t, 48, results[model.SourceSystemPrice].Inserted)
	require.Len(t, results[model.SourceCarbonIntensity].Errors, 1)
	assert.Contains(t, results[model.SourceCarbonIntensity].Errors[0], "unreachable")
}
