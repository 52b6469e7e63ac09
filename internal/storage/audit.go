package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"energy-ingest/internal/model"
)

const (
	insertFetchRunSQL = `INSERT INTO fetch_runs (
        fetch_type,
        started_at,
        status,
        metadata
    ) VALUES (
        $1,$2,'running',$3
    )
    RETURNING id;`

	completeFetchRunSQL = `UPDATE fetch_runs
    SET status = 'success',
        completed_at = $2,
        records_fetched = $3,
        records_inserted = $4,
        records_updated = $5
    WHERE id = $1;`

	failFetchRunSQL = `UPDATE fetch_runs
    SET status = 'error',
        completed_at = $2,
        error_message = $3
    WHERE id = $1;`

	latestFetchRunSQL = `SELECT
        id, fetch_type, started_at, completed_at,
        records_fetched, records_inserted, records_updated,
        status, error_message, metadata
    FROM fetch_runs
    WHERE fetch_type = $1
      AND status = 'success'
    ORDER BY completed_at DESC
    LIMIT 1;`

	listStaleRunsSQL = `SELECT
        id, fetch_type, started_at, completed_at,
        records_fetched, records_inserted, records_updated,
        status, error_message, metadata
    FROM fetch_runs
    WHERE status = 'running'
      AND started_at < $1
    ORDER BY started_at;`

	hasSuccessfulRunSQL = `SELECT EXISTS (
        SELECT 1 FROM fetch_runs
        WHERE fetch_type = $1
          AND status = 'success'
          AND metadata->>'from' = $2
          AND metadata->>'to' = $3
    );`
)

// InsertFetchRun opens an audit row with status running and returns its id.
func (s *Store) InsertFetchRun(ctx context.Context, run model.FetchRun) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	metadata, err := json.Marshal(run.Metadata)
	if err != nil {
		return 0, &StorageError{Op: "insert fetch run", Err: err}
	}

	var id int64
	if err := pool.QueryRow(ctx, insertFetchRunSQL, run.FetchType, run.StartedAt, metadata).Scan(&id); err != nil {
		return 0, &StorageError{Op: "insert fetch run", Err: err}
	}
	return id, nil
}

// CompleteFetchRun closes a run as success with its record counts.
func (s *Store) CompleteFetchRun(ctx context.Context, id int64, completedAt time.Time, fetched, inserted, updated int) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tag, execErr := pool.Exec(ctx, completeFetchRunSQL, id, completedAt, fetched, inserted, updated)
	if execErr != nil {
		return &StorageError{Op: "complete fetch run", Err: execErr}
	}
	if tag.RowsAffected() == 0 {
		return &StorageError{Op: "complete fetch run", Err: pgx.ErrNoRows}
	}
	return nil
}

// FailFetchRun closes a run as errored with a message.
func (s *Store) FailFetchRun(ctx context.Context, id int64, completedAt time.Time, errMsg string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tag, execErr := pool.Exec(ctx, failFetchRunSQL, id, completedAt, errMsg)
	if execErr != nil {
		return &StorageError{Op: "fail fetch run", Err: execErr}
	}
	if tag.RowsAffected() == 0 {
		return &StorageError{Op: "fail fetch run", Err: pgx.ErrNoRows}
	}
	return nil
}

// LatestFetchRun returns the most recent successful run for a fetch type,
// or nil when none exists.
func (s *Store) LatestFetchRun(ctx context.Context, fetchType string) (*model.FetchRun, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, latestFetchRunSQL, fetchType)
	if queryErr != nil {
		return nil, &StorageError{Op: "latest fetch run", Err: queryErr}
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	run, scanErr := scanFetchRun(rows)
	if scanErr != nil {
		return nil, &StorageError{Op: "latest fetch run", Err: scanErr}
	}
	return &run, nil
}

// ListStaleRuns lists runs still marked running that started before the
// cutoff — the detectable anomaly left by a crash mid-run.
func (s *Store) ListStaleRuns(ctx context.Context, olderThan time.Time) ([]model.FetchRun, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listStaleRunsSQL, olderThan)
	if queryErr != nil {
		return nil, &StorageError{Op: "list stale runs", Err: queryErr}
	}
	defer rows.Close()

	runs := make([]model.FetchRun, 0)
	for rows.Next() {
		run, scanErr := scanFetchRun(rows)
		if scanErr != nil {
			return nil, &StorageError{Op: "list stale runs", Err: scanErr}
		}
		runs = append(runs, run)
	}
	if rows.Err() != nil {
		return nil, &StorageError{Op: "list stale runs", Err: rows.Err()}
	}
	return runs, nil
}

// HasSuccessfulRun reports whether the audit log records a prior success
// for this fetch type covering exactly [from, to]. Used by backfill to
// skip already-covered chunks.
func (s *Store) HasSuccessfulRun(ctx context.Context, fetchType string, from, to time.Time) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	var exists bool
	fromStr := from.Format("2006-01-02")
	toStr := to.Format("2006-01-02")
	if err := pool.QueryRow(ctx, hasSuccessfulRunSQL, fetchType, fromStr, toStr).Scan(&exists); err != nil {
		return false, &StorageError{Op: "has successful run", Err: err}
	}
	return exists, nil
}

func scanFetchRun(rows pgx.Rows) (model.FetchRun, error) {
	var (
		run         model.FetchRun
		completedAt sql.NullTime
		fetched     sql.NullInt64
		inserted    sql.NullInt64
		updated     sql.NullInt64
		errMsg      sql.NullString
		metadata    []byte
		status      string
	)

	if err := rows.Scan(
		&run.ID,
		&run.FetchType,
		&run.StartedAt,
		&completedAt,
		&fetched,
		&inserted,
		&updated,
		&status,
		&errMsg,
		&metadata,
	); err != nil {
		return model.FetchRun{}, err
	}

	run.Status = model.RunStatus(status)
	if completedAt.Valid {
		value := completedAt.Time
		run.CompletedAt = &value
	}
	run.RecordsFetched = int(fetched.Int64)
	run.RecordsInserted = int(inserted.Int64)
	run.RecordsUpdated = int(updated.Int64)
	if errMsg.Valid {
		msg := errMsg.String
		run.ErrorMessage = &msg
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &run.Metadata); err != nil {
			return model.FetchRun{}, err
		}
	}

	return run, nil
}
