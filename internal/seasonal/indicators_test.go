package seasonal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/sts/internal/models"
)

func hourly(start time.Time, n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = start.Add(time.Duration(i) * time.Hour)
	}
	return out
}

func TestDayTypeOf(t *testing.T) {
	// 2018-01-01 is a Monday
	monday := time.Date(2018, 1, 1, 12, 0, 0, 0, time.UTC)
	for d := 0; d < 14; d++ {
		ts := monday.AddDate(0, 0, d)
		want := models.DayTypeWeekday
		if ts.Weekday() == time.Saturday || ts.Weekday() == time.Sunday {
			want = models.DayTypeWeekend
		}
		assert.Equal(t, want, DayTypeOf(ts), ts.Weekday().String())
	}

	assert.Equal(t, models.DayTypeWeekend, DayTypeOf(time.Date(2018, 1, 6, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, models.DayTypeWeekend, DayTypeOf(time.Date(2018, 1, 7, 23, 59, 0, 0, time.UTC)))
	assert.Equal(t, models.DayTypeWeekday, DayTypeOf(time.Date(2018, 1, 8, 0, 0, 0, 0, time.UTC)))
}

func TestSeasonOf_MonthTable(t *testing.T) {
	want := map[time.Month]models.Season{
		time.January:   models.SeasonWinter,
		time.February:  models.SeasonWinter,
		time.March:     models.SeasonWinter,
		time.April:     models.SeasonWinter,
		time.May:       models.SeasonSummer,
		time.June:      models.SeasonSummer,
		time.July:      models.SeasonSummer,
		time.August:    models.SeasonSummer,
		time.September: models.SeasonSummer,
		time.October:   models.SeasonWinter,
		time.November:  models.SeasonWinter,
		time.December:  models.SeasonWinter,
	}

	for month, season := range want {
		for _, day := range []int{1, 15, 28} {
			ts := time.Date(2017, month, day, 7, 0, 0, 0, time.UTC)
			first := SeasonOf(ts)
			assert.Equal(t, season, first, month.String())
			assert.Equal(t, first, SeasonOf(ts), "deterministic")
		}
	}
}

func TestClassify_ExclusiveAndExhaustive(t *testing.T) {
	ts := hourly(time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC), 24*366*2)
	rows := ForTimestamps(ts)
	cols := GatingColumns(rows)
	require.Len(t, cols, 4)

	for i := range rows {
		trueCount := 0
		for _, col := range cols {
			if col[i] {
				trueCount++
			}
		}
		require.Equal(t, 1, trueCount, "row %d (%s)", i, rows[i].Timestamp)
	}

	counts := Counts(rows)
	total := 0
	for _, g := range Groups() {
		assert.Greater(t, counts[g], 0, Column(g))
		total += counts[g]
	}
	assert.Equal(t, len(rows), total)
}

func TestAddIndicators_Idempotent(t *testing.T) {
	ts := hourly(time.Date(2018, 4, 27, 0, 0, 0, 0, time.UTC), 24*10)
	demand := make([]models.DemandRecord, len(ts))
	for i, at := range ts {
		demand[i] = models.DemandRecord{Timestamp: at, Demand: float64(i)}
	}

	once := AddIndicators(demand)
	snapshot := make([]models.IndicatedRecord, len(once))
	copy(snapshot, once)

	twice := Reindicate(once)
	assert.Equal(t, snapshot, twice)

	for i := range twice {
		assert.Equal(t, demand[i].Timestamp, twice[i].Timestamp)
		assert.Equal(t, demand[i].Demand, twice[i].Demand)
	}
}

func TestReindicate_OverwritesStaleValues(t *testing.T) {
	rows := []models.IndicatedRecord{{
		Timestamp: time.Date(2018, 7, 4, 12, 0, 0, 0, time.UTC), // Wednesday
		Indicator: models.SeasonWeekday{Season: models.SeasonWinter, DayType: models.DayTypeWeekend},
	}}

	Reindicate(rows)

	assert.Equal(t, models.SeasonSummer, rows[0].Indicator.Season)
	assert.Equal(t, models.DayTypeWeekday, rows[0].Indicator.DayType)
}

func TestColumnAndLabel(t *testing.T) {
	g := models.SeasonWeekday{Season: models.SeasonSummer, DayType: models.DayTypeWeekend}
	assert.Equal(t, "summer_weekend", Column(g))
	assert.Equal(t, "Summer Weekend", Label(g))

	names := make([]string, 0, 4)
	for _, g := range Groups() {
		names = append(names, Column(g))
	}
	assert.Equal(t, []string{"summer_weekday", "summer_weekend", "winter_weekday", "winter_weekend"}, names)
}

func TestGatingColumns_EmptyGroupStaysFalse(t *testing.T) {
	// January only: both summer columns must be entirely false
	rows := ForTimestamps(hourly(time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC), 24*31))
	cols := GatingColumns(rows)

	for _, name := range []string{"summer_weekday", "summer_weekend"} {
		for _, v := range cols[name] {
			require.False(t, v)
		}
	}
	assert.Equal(t, 0, Counts(rows)[models.SeasonWeekday{Season: models.SeasonSummer, DayType: models.DayTypeWeekday}])
}
