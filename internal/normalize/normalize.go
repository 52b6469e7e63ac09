// Package normalize converts raw upstream records into canonical entities.
// Conversion is pure and batch-tolerant: one malformed record is skipped
// and reported, never fatal to the rest of the batch.
package normalize

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"energy-ingest/internal/model"
)

const (
	// Normal days have 48 settlement periods; clock-change days have 46
	// or 50. The ceiling is deliberately generous rather than pinned to 48.
	maxSettlementPeriod = 50

	elexonSource       = "elexon_bmrs"
	nationalGridSource = "national_grid"

	// Carbon Intensity API timestamp layout, e.g. "2024-11-01T00:30Z".
	carbonTimeLayout = "2006-01-02T15:04Z"
)

// ValidationError reports one record that failed normalization.
type ValidationError struct {
	Index  int
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("record %d: %s", e.Index, e.Reason)
}

var intensityBands = map[string]bool{
	"very low":  true,
	"low":       true,
	"moderate":  true,
	"high":      true,
	"very high": true,
}

type rawSystemPrice struct {
	SettlementDate   string      `json:"settlementDate"`
	SettlementPeriod int         `json:"settlementPeriod"`
	SystemSellPrice  json.Number `json:"systemSellPrice"`
	SystemBuyPrice   json.Number `json:"systemBuyPrice"`
}

// SystemPrices normalizes raw Elexon system-price records. Negative prices
// are valid: the UK system price is frequently negative.
func SystemPrices(raws []json.RawMessage) ([]model.SettlementPricePoint, []ValidationError) {
	points := make([]model.SettlementPricePoint, 0, len(raws))
	var errs []ValidationError

	for i, raw := range raws {
		var rec rawSystemPrice
		if err := json.Unmarshal(raw, &rec); err != nil {
			errs = append(errs, ValidationError{Index: i, Reason: "decode: " + err.Error()})
			continue
		}

		date, err := parseSettlementDate(rec.SettlementDate)
		if err != nil {
			errs = append(errs, ValidationError{Index: i, Reason: err.Error()})
			continue
		}
		if reason := checkPeriod(rec.SettlementPeriod); reason != "" {
			errs = append(errs, ValidationError{Index: i, Reason: reason})
			continue
		}

		ssp, err := parsePrice("systemSellPrice", rec.SystemSellPrice)
		if err != nil {
			errs = append(errs, ValidationError{Index: i, Reason: err.Error()})
			continue
		}
		sbp, err := parsePrice("systemBuyPrice", rec.SystemBuyPrice)
		if err != nil {
			errs = append(errs, ValidationError{Index: i, Reason: err.Error()})
			continue
		}

		points = append(points, model.SettlementPricePoint{
			SettlementDate:   date,
			SettlementPeriod: rec.SettlementPeriod,
			SystemSellPrice:  ssp,
			SystemBuyPrice:   sbp,
			// The settlement index is the SSP/SBP average.
			Price:      ssp.Add(sbp).Div(decimal.NewFromInt(2)).Round(2),
			DataSource: elexonSource,
		})
	}

	return points, errs
}

type rawDayAheadPrice struct {
	SettlementDate   string      `json:"settlementDate"`
	SettlementPeriod int         `json:"settlementPeriod"`
	Price            json.Number `json:"price"`
	DataProvider     string      `json:"dataProvider"`
}

// DayAheadPrices normalizes raw Elexon market-index records.
func DayAheadPrices(raws []json.RawMessage) ([]model.DayAheadPricePoint, []ValidationError) {
	points := make([]model.DayAheadPricePoint, 0, len(raws))
	var errs []ValidationError

	for i, raw := range raws {
		var rec rawDayAheadPrice
		if err := json.Unmarshal(raw, &rec); err != nil {
			errs = append(errs, ValidationError{Index: i, Reason: "decode: " + err.Error()})
			continue
		}

		date, err := parseSettlementDate(rec.SettlementDate)
		if err != nil {
			errs = append(errs, ValidationError{Index: i, Reason: err.Error()})
			continue
		}
		if reason := checkPeriod(rec.SettlementPeriod); reason != "" {
			errs = append(errs, ValidationError{Index: i, Reason: reason})
			continue
		}

		price, err := parsePrice("price", rec.Price)
		if err != nil {
			errs = append(errs, ValidationError{Index: i, Reason: err.Error()})
			continue
		}

		provider := rec.DataProvider
		if provider == "" {
			errs = append(errs, ValidationError{Index: i, Reason: "missing dataProvider"})
			continue
		}

		points = append(points, model.DayAheadPricePoint{
			SettlementDate:   date,
			SettlementPeriod: rec.SettlementPeriod,
			Price:            price,
			Provider:         provider,
			DataSource:       elexonSource,
		})
	}

	return points, errs
}

type rawIntensity struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Intensity struct {
		Forecast int    `json:"forecast"`
		Actual   *int   `json:"actual"`
		Index    string `json:"index"`
	} `json:"intensity"`
}

// CarbonReadings normalizes raw carbon intensity records, preferring the
// actual reading over the forecast when present.
func CarbonReadings(raws []json.RawMessage) ([]model.CarbonIntensityReading, []ValidationError) {
	readings := make([]model.CarbonIntensityReading, 0, len(raws))
	var errs []ValidationError

	for i, raw := range raws {
		var rec rawIntensity
		if err := json.Unmarshal(raw, &rec); err != nil {
			errs = append(errs, ValidationError{Index: i, Reason: "decode: " + err.Error()})
			continue
		}

		ts, err := time.Parse(carbonTimeLayout, rec.From)
		if err != nil {
			errs = append(errs, ValidationError{Index: i, Reason: "invalid from timestamp: " + err.Error()})
			continue
		}

		intensity := rec.Intensity.Forecast
		if rec.Intensity.Actual != nil {
			intensity = *rec.Intensity.Actual
		}
		if intensity < 0 {
			errs = append(errs, ValidationError{Index: i, Reason: fmt.Sprintf("negative intensity %d", intensity)})
			continue
		}

		if !intensityBands[rec.Intensity.Index] {
			errs = append(errs, ValidationError{Index: i, Reason: fmt.Sprintf("unknown intensity band %q", rec.Intensity.Index)})
			continue
		}

		readings = append(readings, model.CarbonIntensityReading{
			Datetime:   ts.UTC(),
			Intensity:  intensity,
			Band:       rec.Intensity.Index,
			DataSource: nationalGridSource,
		})
	}

	return readings, errs
}

type rawGeneration struct {
	From          string `json:"from"`
	To            string `json:"to"`
	GenerationMix []struct {
		Fuel string  `json:"fuel"`
		Perc float64 `json:"perc"`
	} `json:"generationmix"`
}

// FuelMixes normalizes raw generation mix records. Percentages outside
// 0..100 reject the record rather than being clamped silently.
func FuelMixes(raws []json.RawMessage) ([]model.FuelMixSample, []ValidationError) {
	samples := make([]model.FuelMixSample, 0, len(raws))
	var errs []ValidationError

	for i, raw := range raws {
		var rec rawGeneration
		if err := json.Unmarshal(raw, &rec); err != nil {
			errs = append(errs, ValidationError{Index: i, Reason: "decode: " + err.Error()})
			continue
		}

		ts, err := time.Parse(carbonTimeLayout, rec.From)
		if err != nil {
			errs = append(errs, ValidationError{Index: i, Reason: "invalid from timestamp: " + err.Error()})
			continue
		}

		sample := model.FuelMixSample{Datetime: ts.UTC(), DataSource: nationalGridSource}
		ok := true
		for _, mix := range rec.GenerationMix {
			if mix.Perc < 0 || mix.Perc > 100 {
				errs = append(errs, ValidationError{Index: i, Reason: fmt.Sprintf("fuel %s percentage %.1f outside 0..100", mix.Fuel, mix.Perc)})
				ok = false
				break
			}
			switch mix.Fuel {
			case "biomass":
				sample.Biomass = mix.Perc
			case "coal":
				sample.Coal = mix.Perc
			case "gas":
				sample.Gas = mix.Perc
			case "hydro":
				sample.Hydro = mix.Perc
			case "imports":
				sample.Imports = mix.Perc
			case "nuclear":
				sample.Nuclear = mix.Perc
			case "other":
				sample.Other = mix.Perc
			case "solar":
				sample.Solar = mix.Perc
			case "wind":
				sample.Wind = mix.Perc
			}
			// Unknown fuel categories are ignored rather than rejected so an
			// upstream addition does not break ingestion.
		}
		if !ok {
			continue
		}

		samples = append(samples, sample)
	}

	return samples, errs
}

func parseSettlementDate(s string) (time.Time, error) {
	date, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid settlementDate %q", s)
	}
	return date.UTC(), nil
}

func checkPeriod(period int) string {
	if period < 1 || period > maxSettlementPeriod {
		return fmt.Sprintf("settlement period %d outside 1..%d", period, maxSettlementPeriod)
	}
	return ""
}

func parsePrice(field string, n json.Number) (decimal.Decimal, error) {
	if n == "" {
		return decimal.Decimal{}, fmt.Errorf("missing %s", field)
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid %s %q", field, n.String())
	}
	return d, nil
}
