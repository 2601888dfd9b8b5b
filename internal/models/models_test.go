package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForecast_LenAndTimestamps(t *testing.T) {
	var nilForecast *Forecast
	assert.Equal(t, 0, nilForecast.Len())

	start := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	f := &Forecast{Records: []ForecastRecord{
		{Timestamp: start, Yhat: 1},
		{Timestamp: start.Add(time.Hour), Yhat: 2},
	}}
	assert.Equal(t, 2, f.Len())
	assert.Equal(t, []time.Time{start, start.Add(time.Hour)}, f.Timestamps())
}

func TestSampleSet_NumSamples(t *testing.T) {
	var nilSet *SampleSet
	assert.Equal(t, 0, nilSet.NumSamples())
	assert.Equal(t, 3, (&SampleSet{Paths: make([][]float64, 3)}).NumSamples())
}

func TestDemandRecord_JSONUsesColumnNames(t *testing.T) {
	data, err := json.Marshal(DemandRecord{Timestamp: time.Date(2018, 6, 1, 12, 0, 0, 0, time.UTC), Demand: 31000.5})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ds":"2018-06-01T12:00:00Z","y":31000.5}`, string(data))

	data, err = json.Marshal(IndicatedRecord{Indicator: SeasonWeekday{Season: SeasonSummer, DayType: DayTypeWeekend}})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"indicator":{"season":"summer","day_type":"weekend"}`)
}
