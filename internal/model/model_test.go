package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSource(t *testing.T) {
	for _, name := range []string{"system", "dayahead", "carbon", "fuelmix"} {
		source, err := ParseSource(name)
		require.NoError(t, err)
		assert.Equal(t, Source(name), source)
	}

	_, err := ParseSource("weather")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown source")
}

func TestFetchType(t *testing.T) {
	assert.Equal(t, "system_prices", SourceSystemPrice.FetchType())
	assert.Equal(t, "day_ahead_prices", SourceDayAhead.FetchType())
	assert.Equal(t, "carbon_intensity", SourceCarbonIntensity.FetchType())
	assert.Equal(t, "fuel_mix", SourceFuelMix.FetchType())
}

func TestPeriodStart(t *testing.T) {
	day := time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, day, PeriodStart(day, 1))
	assert.Equal(t, day.Add(30*time.Minute), PeriodStart(day, 2))
	assert.Equal(t, day.Add(23*time.Hour+30*time.Minute), PeriodStart(day, 48))
}

func TestDateOnly(t *testing.T) {
	ts := time.Date(2024, 11, 1, 17, 42, 9, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC), DateOnly(ts))
}

func TestResultMerge(t *testing.T) {
	r := Result{Fetched: 10, Inserted: 8, Updated: 1, Skipped: 1, Errors: []string{"a"}}
	r.Merge(Result{Fetched: 5, Inserted: 5, Errors: []string{"b"}})

	assert.Equal(t, 15, r.Fetched)
	assert.Equal(t, 13, r.Inserted)
	assert.Equal(t, 1, r.Updated)
	assert.Equal(t, 1, r.Skipped)
	assert.Equal(t, []string{"a", "b"}, r.Errors)
}
