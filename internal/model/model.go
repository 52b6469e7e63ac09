// Package model holds the canonical entities shared by the ingestion
// pipeline: one value type per stored table plus the audit run record.
package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Source identifies an upstream data source.
type Source string

const (
	SourceSystemPrice     Source = "system"
	SourceDayAhead        Source = "dayahead"
	SourceCarbonIntensity Source = "carbon"
	SourceFuelMix         Source = "fuelmix"
)

// AllSources lists every known source in fetch order.
func AllSources() []Source {
	return []Source{SourceSystemPrice, SourceDayAhead, SourceCarbonIntensity, SourceFuelMix}
}

// ParseSource validates a source tag from user input.
func ParseSource(s string) (Source, error) {
	switch Source(s) {
	case SourceSystemPrice, SourceDayAhead, SourceCarbonIntensity, SourceFuelMix:
		return Source(s), nil
	}
	return "", fmt.Errorf("unknown source %q (expected system, dayahead, carbon, or fuelmix)", s)
}

// FetchType returns the audit-trail identifier for the source.
func (s Source) FetchType() string {
	switch s {
	case SourceSystemPrice:
		return "system_prices"
	case SourceDayAhead:
		return "day_ahead_prices"
	case SourceCarbonIntensity:
		return "carbon_intensity"
	case SourceFuelMix:
		return "fuel_mix"
	}
	return string(s)
}

// SettlementPricePoint is one half-hourly SSP/SBP observation.
// Natural key: (SettlementDate, SettlementPeriod).
type SettlementPricePoint struct {
	SettlementDate   time.Time // calendar date at UTC midnight
	SettlementPeriod int       // 1..48, 46 or 50 on clock-change days
	SystemSellPrice  decimal.Decimal
	SystemBuyPrice   decimal.Decimal
	Price            decimal.Decimal // SSP/SBP average, the PPA settlement index
	DataSource       string
}

// DayAheadPricePoint is one half-hourly market-index quote.
// Natural key: (SettlementDate, SettlementPeriod, Provider) — the same
// period may carry quotes from multiple exchanges.
type DayAheadPricePoint struct {
	SettlementDate   time.Time
	SettlementPeriod int
	Price            decimal.Decimal
	Provider         string // APXMIDP or N2EXMIDP
	DataSource       string
}

// CarbonIntensityReading is one half-hour grid carbon observation.
// Natural key: Datetime.
type CarbonIntensityReading struct {
	Datetime   time.Time
	Intensity  int // gCO2/kWh, actual preferred over forecast
	Band       string
	DataSource string
}

// FuelMixSample is one half-hour generation mix observation.
// Percentages need not sum to exactly 100 (rounding, import flows).
// Natural key: Datetime.
type FuelMixSample struct {
	Datetime   time.Time
	Biomass    float64
	Coal       float64
	Gas        float64
	Hydro      float64
	Imports    float64
	Nuclear    float64
	Other      float64
	Solar      float64
	Wind       float64
	DataSource string
}

// RunStatus is the audit state of a fetch attempt.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// FetchRun is the audit record for one fetch attempt. Rows are append-only:
// a run moves running → success or running → error and is never deleted.
type FetchRun struct {
	ID              int64
	FetchType       string
	StartedAt       time.Time
	CompletedAt     *time.Time
	RecordsFetched  int
	RecordsInserted int
	RecordsUpdated  int
	Status          RunStatus
	ErrorMessage    *string
	Metadata        map[string]string
}

// Result summarises one source's outcome for a fetch or backfill.
type Result struct {
	Fetched  int
	Inserted int
	Updated  int
	Skipped  int // malformed records dropped during normalization
	Errors   []string
}

// Merge folds another result into r.
func (r *Result) Merge(other Result) {
	r.Fetched += other.Fetched
	r.Inserted += other.Inserted
	r.Updated += other.Updated
	r.Skipped += other.Skipped
	r.Errors = append(r.Errors, other.Errors...)
}

// PeriodStart maps a settlement date and period to a UTC timestamp.
// Settlement periods follow UK local time, so this is a charting
// approximation that ignores the two clock-change days a year.
func PeriodStart(settlementDate time.Time, period int) time.Time {
	return settlementDate.Add(time.Duration(period-1) * 30 * time.Minute)
}

// DateOnly truncates a timestamp to its UTC calendar date.
func DateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
