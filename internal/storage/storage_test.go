package storage

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/sts/internal/models"
	"github.com/irfndi/sts/internal/utils"
)

var t0 = time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)

func hourlyForecast(values ...float64) *models.Forecast {
	fc := &models.Forecast{}
	for i, v := range values {
		fc.Records = append(fc.Records, models.ForecastRecord{
			Timestamp: t0.Add(time.Duration(i) * time.Hour),
			Yhat:      v,
			YhatLower: v - 1,
			YhatUpper: v + 1,
		})
	}
	return fc
}

func readLines(t *testing.T, path string) []string {
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestPersistForecast_WritesDsYhatOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forecasts", "prophet_complex.csv")

	require.NoError(t, PersistForecast(hourlyForecast(25000.5, 26000.1234567891), path))

	lines := readLines(t, path)
	assert.Equal(t, []string{
		"ds,yhat",
		"2019-01-01 00:00:00,25000.5",
		"2019-01-01 01:00:00,26000.123457",
	}, lines)
}

func TestPersistForecast_OverwritesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("stale,row\n", 50)), 0o644))

	require.NoError(t, PersistForecast(hourlyForecast(1, 2, 3), path))
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, PersistForecast(hourlyForecast(1, 2, 3), path))
	second, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, readLines(t, path), 4)
}

func TestPersistForecast_Errors(t *testing.T) {
	dir := t.TempDir()

	err := PersistForecast(hourlyForecast(1, math.NaN()), filepath.Join(dir, "nan.csv"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrWrite))

	err = PersistForecast(hourlyForecast(math.Inf(1)), filepath.Join(dir, "inf.csv"))
	assert.ErrorIs(t, err, utils.ErrWrite)

	err = PersistForecast(nil, filepath.Join(dir, "nil.csv"))
	assert.ErrorIs(t, err, utils.ErrWrite)

	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	err = PersistForecast(hourlyForecast(1), filepath.Join(blocker, "nested", "out.csv"))
	assert.ErrorIs(t, err, utils.ErrWrite)
}

func TestPersistForecast_EmptyForecastWritesHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.csv")
	require.NoError(t, PersistForecast(&models.Forecast{}, path))
	assert.Equal(t, []string{"ds,yhat"}, readLines(t, path))
}

func TestSamplesRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forecast.csv")
	in := &models.SampleSet{
		Timestamps: []time.Time{t0, t0.Add(time.Hour), t0.Add(2 * time.Hour)},
		Names:      []string{"sample_0", "sample_1"},
		Paths: [][]float64{
			{100, 110, 120},
			{90.25, 95.5, 130.125},
		},
	}

	require.NoError(t, PersistSamples(in, path))
	assert.Equal(t, "ds,sample_0,sample_1", readLines(t, path)[0])

	out, err := ReadSamples(path)
	require.NoError(t, err)
	assert.Equal(t, in.Names, out.Names)
	assert.Equal(t, in.Paths, out.Paths)
	require.Len(t, out.Timestamps, 3)
	for i := range in.Timestamps {
		assert.True(t, in.Timestamps[i].Equal(out.Timestamps[i]))
	}
}

func TestReadSamples_SortsRowsByTimestamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unsorted.csv")
	body := "ds,sample_0,sample_1\n" +
		"2019-01-03 00:00:00,3,30\n" +
		"2019-01-01 00:00:00,1,10\n" +
		"2019-01-02 00:00:00,2,20\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	set, err := ReadSamples(path)
	require.NoError(t, err)

	day := 24 * time.Hour
	assert.Equal(t, []time.Time{t0, t0.Add(day), t0.Add(2 * day)}, set.Timestamps)
	assert.Equal(t, [][]float64{{1, 2, 3}, {10, 20, 30}}, set.Paths)
}

func TestPersistForecast_WritesZonedTimestampsInUTC(t *testing.T) {
	pacific := time.FixedZone("PDT", -7*3600)
	fc := &models.Forecast{Records: []models.ForecastRecord{
		{Timestamp: time.Date(2018, 11, 4, 1, 0, 0, 0, pacific), Yhat: 1},
		{Timestamp: time.Date(2018, 11, 4, 1, 0, 0, 0, time.FixedZone("PST", -8*3600)), Yhat: 2},
	}}
	path := filepath.Join(t.TempDir(), "zoned.csv")
	require.NoError(t, PersistForecast(fc, path))

	assert.Equal(t, []string{
		"ds,yhat",
		"2018-11-04 08:00:00,1",
		"2018-11-04 09:00:00,2",
	}, readLines(t, path))

	samples := &models.SampleSet{Timestamps: fc.Timestamps(), Paths: [][]float64{{1, 2}}}
	require.NoError(t, PersistSamples(samples, path))
	set, err := ReadSamples(path)
	require.NoError(t, err)
	for i, ts := range samples.Timestamps {
		assert.True(t, ts.Equal(set.Timestamps[i]))
	}
}

func TestPersistSamples_Errors(t *testing.T) {
	dir := t.TempDir()

	err := PersistSamples(&models.SampleSet{}, filepath.Join(dir, "a.csv"))
	assert.ErrorIs(t, err, utils.ErrWrite)

	ragged := &models.SampleSet{
		Timestamps: []time.Time{t0, t0.Add(time.Hour)},
		Paths:      [][]float64{{1}},
	}
	err = PersistSamples(ragged, filepath.Join(dir, "b.csv"))
	assert.ErrorIs(t, err, utils.ErrWrite)
}

func TestReadSamples_Errors(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
		return p
	}

	tests := []struct {
		name string
		path string
	}{
		{"missing file", filepath.Join(dir, "nope.csv")},
		{"empty file", write("empty.csv", "")},
		{"no ds column", write("nods.csv", "time,sample_0\n2019-01-01,1\n")},
		{"no sample columns", write("nosamples.csv", "ds\n2019-01-01\n")},
		{"header only", write("header.csv", "ds,sample_0\n")},
		{"bad value", write("bad.csv", "ds,sample_0\n2019-01-01 00:00:00,abc\n")},
		{"bad timestamp", write("badts.csv", "ds,sample_0\nyesterday,1\n")},
		{"duplicate timestamp", write("dup.csv", "ds,sample_0\n2019-01-01 00:00:00,1\n2019-01-02 00:00:00,2\n2019-01-01 00:00:00,3\n")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadSamples(tt.path)
			require.Error(t, err)
			assert.ErrorIs(t, err, utils.ErrLoad)
		})
	}

	_, err := ReadSamples(filepath.Join(dir, "nope.csv"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
