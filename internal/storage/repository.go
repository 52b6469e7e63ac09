package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"energy-ingest/internal/model"
)

const (
	upsertSystemPriceSQL = `INSERT INTO system_prices (
        settlement_date,
        settlement_period,
        system_sell_price,
        system_buy_price,
        price,
        data_source,
        fetched_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,now()
    )
    ON CONFLICT (settlement_date, settlement_period) DO UPDATE
    SET
        system_sell_price = EXCLUDED.system_sell_price,
        system_buy_price  = EXCLUDED.system_buy_price,
        price             = EXCLUDED.price,
        data_source       = EXCLUDED.data_source,
        fetched_at        = now()
    RETURNING (xmax = 0) AS inserted;`

	upsertDayAheadPriceSQL = `INSERT INTO day_ahead_prices (
        settlement_date,
        settlement_period,
        price,
        data_provider,
        data_source,
        fetched_at
    ) VALUES (
        $1,$2,$3,$4,$5,now()
    )
    ON CONFLICT (settlement_date, settlement_period, data_provider) DO UPDATE
    SET
        price       = EXCLUDED.price,
        data_source = EXCLUDED.data_source,
        fetched_at  = now()
    RETURNING (xmax = 0) AS inserted;`

	upsertCarbonIntensitySQL = `INSERT INTO carbon_intensity (
        datetime,
        intensity,
        intensity_index,
        data_source,
        fetched_at
    ) VALUES (
        $1,$2,$3,$4,now()
    )
    ON CONFLICT (datetime) DO UPDATE
    SET
        intensity       = EXCLUDED.intensity,
        intensity_index = EXCLUDED.intensity_index,
        data_source     = EXCLUDED.data_source,
        fetched_at      = now()
    RETURNING (xmax = 0) AS inserted;`

	upsertFuelMixSQL = `INSERT INTO fuel_mix (
        datetime,
        biomass,
        coal,
        gas,
        hydro,
        imports,
        nuclear,
        other,
        solar,
        wind,
        data_source,
        fetched_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now()
    )
    ON CONFLICT (datetime) DO UPDATE
    SET
        biomass     = EXCLUDED.biomass,
        coal        = EXCLUDED.coal,
        gas         = EXCLUDED.gas,
        hydro       = EXCLUDED.hydro,
        imports     = EXCLUDED.imports,
        nuclear     = EXCLUDED.nuclear,
        other       = EXCLUDED.other,
        solar       = EXCLUDED.solar,
        wind        = EXCLUDED.wind,
        data_source = EXCLUDED.data_source,
        fetched_at  = now()
    RETURNING (xmax = 0) AS inserted;`

	settlementPriceRangeSQL = `SELECT MIN(settlement_date), MAX(settlement_date) FROM system_prices;`

	listSystemPricesBetweenSQL = `SELECT
        settlement_date,
        settlement_period,
        system_sell_price,
        system_buy_price,
        price
    FROM system_prices
    WHERE settlement_date >= $1
      AND settlement_date <= $2
    ORDER BY settlement_date, settlement_period;`
)

// Store provides keyed-upsert persistence for all canonical entities plus
// the fetch-run audit table.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertSettlementPrices writes a batch of system prices keyed on
// (settlement_date, settlement_period). Last write wins on conflict.
func (s *Store) UpsertSettlementPrices(ctx context.Context, points []model.SettlementPricePoint) (UpsertStats, error) {
	args := make([][]any, 0, len(points))
	for _, p := range points {
		args = append(args, []any{
			p.SettlementDate,
			p.SettlementPeriod,
			p.SystemSellPrice.String(),
			p.SystemBuyPrice.String(),
			p.Price.String(),
			p.DataSource,
		})
	}
	return s.upsertBatch(ctx, "upsert system prices", upsertSystemPriceSQL, args)
}

// UpsertDayAheadPrices writes a batch of market-index quotes keyed on
// (settlement_date, settlement_period, data_provider).
func (s *Store) UpsertDayAheadPrices(ctx context.Context, points []model.DayAheadPricePoint) (UpsertStats, error) {
	args := make([][]any, 0, len(points))
	for _, p := range points {
		args = append(args, []any{
			p.SettlementDate,
			p.SettlementPeriod,
			p.Price.String(),
			p.Provider,
			p.DataSource,
		})
	}
	return s.upsertBatch(ctx, "upsert day-ahead prices", upsertDayAheadPriceSQL, args)
}

// UpsertCarbonIntensity writes a batch of intensity readings keyed on datetime.
func (s *Store) UpsertCarbonIntensity(ctx context.Context, readings []model.CarbonIntensityReading) (UpsertStats, error) {
	args := make([][]any, 0, len(readings))
	for _, r := range readings {
		args = append(args, []any{
			r.Datetime,
			r.Intensity,
			r.Band,
			r.DataSource,
		})
	}
	return s.upsertBatch(ctx, "upsert carbon intensity", upsertCarbonIntensitySQL, args)
}

// UpsertFuelMix writes a batch of generation mix samples keyed on datetime.
func (s *Store) UpsertFuelMix(ctx context.Context, samples []model.FuelMixSample) (UpsertStats, error) {
	args := make([][]any, 0, len(samples))
	for _, m := range samples {
		args = append(args, []any{
			m.Datetime,
			m.Biomass,
			m.Coal,
			m.Gas,
			m.Hydro,
			m.Imports,
			m.Nuclear,
			m.Other,
			m.Solar,
			m.Wind,
			m.DataSource,
		})
	}
	return s.upsertBatch(ctx, "upsert fuel mix", upsertFuelMixSQL, args)
}

// upsertBatch sends one INSERT per record inside a single transaction so
// the batch commits or rolls back as a unit. The (xmax = 0) return value
// distinguishes fresh inserts from overwritten rows.
func (s *Store) upsertBatch(ctx context.Context, op string, sql string, args [][]any) (UpsertStats, error) {
	var stats UpsertStats
	if len(args) == 0 {
		return stats, nil
	}

	pool, err := s.getPool()
	if err != nil {
		return stats, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return stats, &StorageError{Op: op, Err: err}
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, rowArgs := range args {
		batch.Queue(sql, rowArgs...)
	}

	results := tx.SendBatch(ctx, batch)
	for range args {
		var inserted bool
		if err := results.QueryRow().Scan(&inserted); err != nil {
			results.Close()
			return UpsertStats{}, &StorageError{Op: op, Err: err}
		}
		if inserted {
			stats.Inserted++
		} else {
			stats.Updated++
		}
	}
	if err := results.Close(); err != nil {
		return UpsertStats{}, &StorageError{Op: op, Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return UpsertStats{}, &StorageError{Op: op, Err: err}
	}
	return stats, nil
}

// SettlementPriceDateRange reports the stored coverage of system prices.
// Both bounds are nil when the table is empty.
func (s *Store) SettlementPriceDateRange(ctx context.Context) (*time.Time, *time.Time, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, nil, err
	}

	var minDate, maxDate *time.Time
	if err := pool.QueryRow(ctx, settlementPriceRangeSQL).Scan(&minDate, &maxDate); err != nil {
		return nil, nil, &StorageError{Op: "settlement price range", Err: err}
	}
	return minDate, maxDate, nil
}

// ListSettlementPricesBetween lists system prices for [from, to] by
// settlement date, ordered by date then period.
func (s *Store) ListSettlementPricesBetween(ctx context.Context, from, to time.Time) ([]model.SettlementPricePoint, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSystemPricesBetweenSQL, from, to)
	if queryErr != nil {
		return nil, &StorageError{Op: "list system prices", Err: queryErr}
	}
	defer rows.Close()

	points := make([]model.SettlementPricePoint, 0)
	for rows.Next() {
		point, scanErr := scanSettlementPrice(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		points = append(points, point)
	}
	if rows.Err() != nil {
		return nil, &StorageError{Op: "list system prices", Err: rows.Err()}
	}
	return points, nil
}

func scanSettlementPrice(rows pgx.Rows) (model.SettlementPricePoint, error) {
	var (
		date    time.Time
		period  int
		sspStr  string
		sbpStr  string
		netStr  string
	)

	if err := rows.Scan(&date, &period, &sspStr, &sbpStr, &netStr); err != nil {
		return model.SettlementPricePoint{}, err
	}

	ssp, err := decimal.NewFromString(sspStr)
	if err != nil {
		return model.SettlementPricePoint{}, fmt.Errorf("parse system sell price: %w", err)
	}
	sbp, err := decimal.NewFromString(sbpStr)
	if err != nil {
		return model.SettlementPricePoint{}, fmt.Errorf("parse system buy price: %w", err)
	}
	net, err := decimal.NewFromString(netStr)
	if err != nil {
		return model.SettlementPricePoint{}, fmt.Errorf("parse net price: %w", err)
	}

	return model.SettlementPricePoint{
		SettlementDate:   date,
		SettlementPeriod: period,
		SystemSellPrice:  ssp,
		SystemBuyPrice:   sbp,
		Price:            net,
	}, nil
}
