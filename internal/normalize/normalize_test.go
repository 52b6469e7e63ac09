package normalize

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func raw(s string) json.RawMessage { return json.RawMessage(s) }

func TestSystemPricesComputesSettlementIndex(t *testing.T) {
	points, errs := SystemPrices([]json.RawMessage{
		raw(`{"settlementDate":"2024-11-01","settlementPeriod":3,"systemSellPrice":65.55,"systemBuyPrice":70.10}`),
	})
	require.Empty(t, errs)
	require.Len(t, points, 1)

	p := points[0]
	assert.Equal(t, time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC), p.SettlementDate)
	assert.Equal(t, 3, p.SettlementPeriod)
	assert.True(t, p.SystemSellPrice.Equal(decimal.RequireFromString("65.55")))
	assert.True(t, p.SystemBuyPrice.Equal(decimal.RequireFromString("70.10")))
	// (65.55 + 70.10) / 2 rounded to 2dp
	assert.True(t, p.Price.Equal(decimal.RequireFromString("67.83")), "got %s", p.Price)
	assert.Equal(t, "elexon_bmrs", p.DataSource)
}

func TestSystemPricesAcceptsNegativePrices(t *testing.T) {
	points, errs := SystemPrices([]json.RawMessage{
		raw(`{"settlementDate":"2024-11-01","settlementPeriod":14,"systemSellPrice":-25.00,"systemBuyPrice":-20.50}`),
	})
	require.Empty(t, errs)
	require.Len(t, points, 1)
	assert.True(t, points[0].Price.Equal(decimal.RequireFromString("-22.75")))
}

func TestSystemPricesPeriodBounds(t *testing.T) {
	cases := []struct {
		period int
		valid  bool
	}{
		{0, false},
		{1, true},
		{46, true}, // short clock-change day
		{48, true},
		{50, true}, // long clock-change day
		{51, false},
		{-1, false},
	}

	for _, tc := range cases {
		points, errs := SystemPrices([]json.RawMessage{
			raw(fmt.Sprintf(`{"settlementDate":"2024-03-31","settlementPeriod":%d,"systemSellPrice":10,"systemBuyPrice":12}`, tc.period)),
		})
		if tc.valid {
			assert.Empty(t, errs, "period %d should be accepted", tc.period)
			assert.Len(t, points, 1)
		} else {
			assert.Len(t, errs, 1, "period %d should be rejected", tc.period)
			assert.Empty(t, points)
		}
	}
}

func TestSystemPricesSkipsMalformedWithoutAborting(t *testing.T) {
	points, errs := SystemPrices([]json.RawMessage{
		raw(`{"settlementDate":"2024-11-01","settlementPeriod":1,"systemSellPrice":10,"systemBuyPrice":12}`),
		raw(`{"settlementDate":"yesterday","settlementPeriod":2,"systemSellPrice":10,"systemBuyPrice":12}`),
		raw(`{"settlementDate":"2024-11-01","settlementPeriod":3,"systemSellPrice":"oops","systemBuyPrice":12}`),
		raw(`{"settlementDate":"2024-11-01","settlementPeriod":4,"systemSellPrice":10,"systemBuyPrice":12}`),
	})

	assert.Len(t, points, 2)
	require.Len(t, errs, 2)
	assert.Equal(t, 1, errs[0].Index)
	assert.Equal(t, 2, errs[1].Index)
}

func TestDayAheadPricesRequireProvider(t *testing.T) {
	points, errs := DayAheadPrices([]json.RawMessage{
		raw(`{"settlementDate":"2024-11-01","settlementPeriod":1,"price":85.50,"dataProvider":"APXMIDP"}`),
		raw(`{"settlementDate":"2024-11-01","settlementPeriod":1,"price":86.10,"dataProvider":"N2EXMIDP"}`),
		raw(`{"settlementDate":"2024-11-01","settlementPeriod":2,"price":84.00}`),
	})

	require.Len(t, points, 2)
	assert.Equal(t, "APXMIDP", points[0].Provider)
	assert.Equal(t, "N2EXMIDP", points[1].Provider)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Reason, "dataProvider")
}

func TestCarbonReadingsPreferActualOverForecast(t *testing.T) {
	readings, errs := CarbonReadings([]json.RawMessage{
		raw(`{"from":"2024-11-01T00:00Z","to":"2024-11-01T00:30Z","intensity":{"forecast":120,"actual":111,"index":"moderate"}}`),
		raw(`{"from":"2024-11-01T00:30Z","to":"2024-11-01T01:00Z","intensity":{"forecast":125,"actual":null,"index":"moderate"}}`),
	})
	require.Empty(t, errs)
	require.Len(t, readings, 2)

	assert.Equal(t, 111, readings[0].Intensity)
	assert.Equal(t, 125, readings[1].Intensity)
	assert.Equal(t, time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC), readings[0].Datetime)
	assert.Equal(t, "national_grid", readings[0].DataSource)
}

func TestCarbonReadingsRejectInvalid(t *testing.T) {
	readings, errs := CarbonReadings([]json.RawMessage{
		raw(`{"from":"2024-11-01T00:00Z","intensity":{"forecast":-5,"actual":null,"index":"low"}}`),
		raw(`{"from":"2024-11-01T00:30Z","intensity":{"forecast":100,"actual":null,"index":"purple"}}`),
		raw(`{"from":"01/11/2024","intensity":{"forecast":100,"actual":null,"index":"low"}}`),
	})

	assert.Empty(t, readings)
	require.Len(t, errs, 3)
	assert.Contains(t, errs[0].Reason, "negative intensity")
	assert.Contains(t, errs[1].Reason, "unknown intensity band")
	assert.Contains(t, errs[2].Reason, "invalid from timestamp")
}

func TestFuelMixesMapKnownFuels(t *testing.T) {
	samples, errs := FuelMixes([]json.RawMessage{
		raw(`{"from":"2024-11-01T00:00Z","to":"2024-11-01T00:30Z","generationmix":[
			{"fuel":"wind","perc":41.3},
			{"fuel":"gas","perc":22.1},
			{"fuel":"nuclear","perc":14.8},
			{"fuel":"battery","perc":1.0}
		]}`),
	})
	require.Empty(t, errs)
	require.Len(t, samples, 1)

	s := samples[0]
	assert.Equal(t, 41.3, s.Wind)
	assert.Equal(t, 22.1, s.Gas)
	assert.Equal(t, 14.8, s.Nuclear)
	// Unknown fuel categories are ignored, not fatal.
	assert.Equal(t, 0.0, s.Other)
}

func TestFuelMixesRejectOutOfRangePercentages(t *testing.T) {
	samples, errs := FuelMixes([]json.RawMessage{
		raw(`{"from":"2024-11-01T00:00Z","generationmix":[{"fuel":"wind","perc":140.0}]}`),
		raw(`{"from":"2024-11-01T00:30Z","generationmix":[{"fuel":"wind","perc":-3.0}]}`),
	})

	assert.Empty(t, samples)
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0].Reason, "outside 0..100")
}
