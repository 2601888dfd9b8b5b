// Package seasonal derives the season x day-type indicators that gate the
// intra-day seasonal components of the demand model.
package seasonal

import (
	"strings"
	"time"

	"github.com/irfndi/sts/internal/models"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// SummerMonths is the fixed summer window, May through September inclusive.
// Every other month is winter. The boundary does not depend on the data.
var SummerMonths = map[time.Month]bool{
	time.May:       true,
	time.June:      true,
	time.July:      true,
	time.August:    true,
	time.September: true,
}

// SeasonOf maps a timestamp to its season using only its calendar month.
func SeasonOf(t time.Time) models.Season {
	if SummerMonths[t.Month()] {
		return models.SeasonSummer
	}
	return models.SeasonWinter
}

// DayTypeOf returns weekend for Saturday and Sunday, weekday otherwise.
func DayTypeOf(t time.Time) models.DayType {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return models.DayTypeWeekend
	default:
		return models.DayTypeWeekday
	}
}

// Classify returns the single indicator group a timestamp belongs to.
func Classify(t time.Time) models.SeasonWeekday {
	return models.SeasonWeekday{Season: SeasonOf(t), DayType: DayTypeOf(t)}
}

var groups = []models.SeasonWeekday{
	{Season: models.SeasonSummer, DayType: models.DayTypeWeekday},
	{Season: models.SeasonSummer, DayType: models.DayTypeWeekend},
	{Season: models.SeasonWinter, DayType: models.DayTypeWeekday},
	{Season: models.SeasonWinter, DayType: models.DayTypeWeekend},
}

// Groups returns the four indicator values in a fixed order.
func Groups() []models.SeasonWeekday {
	out := make([]models.SeasonWeekday, len(groups))
	copy(out, groups)
	return out
}

// Column is the gating column name of a group, e.g. "summer_weekday".
func Column(g models.SeasonWeekday) string {
	return string(g.Season) + "_" + string(g.DayType)
}

// Label is the display name of a group, e.g. "Summer Weekday".
func Label(g models.SeasonWeekday) string {
	return cases.Title(language.English).String(strings.ReplaceAll(Column(g), "_", " "))
}

// AddIndicators annotates demand records with their indicator group.
// The input slice is not modified.
func AddIndicators(rows []models.DemandRecord) []models.IndicatedRecord {
	out := make([]models.IndicatedRecord, len(rows))
	for i, r := range rows {
		out[i] = models.IndicatedRecord{
			Timestamp: r.Timestamp,
			Demand:    r.Demand,
			Indicator: Classify(r.Timestamp),
		}
	}
	return out
}

// Reindicate overwrites the indicator of already-annotated rows in place.
// Applying it any number of times yields the same values.
func Reindicate(rows []models.IndicatedRecord) []models.IndicatedRecord {
	for i := range rows {
		rows[i].Indicator = Classify(rows[i].Timestamp)
	}
	return rows
}

// ForTimestamps annotates a bare timestamp index, as used for the future horizon.
func ForTimestamps(ts []time.Time) []models.IndicatedRecord {
	out := make([]models.IndicatedRecord, len(ts))
	for i, t := range ts {
		out[i] = models.IndicatedRecord{Timestamp: t, Indicator: Classify(t)}
	}
	return out
}

// GatingColumns returns one boolean column per group keyed by Column(group).
// Exactly one column is true on every row.
func GatingColumns(rows []models.IndicatedRecord) map[string][]bool {
	cols := make(map[string][]bool, len(groups))
	for _, g := range groups {
		cols[Column(g)] = make([]bool, len(rows))
	}
	for i, r := range rows {
		if col, ok := cols[Column(r.Indicator)]; ok {
			col[i] = true
		}
	}
	return cols
}

// Counts returns the number of rows per group, including empty groups.
func Counts(rows []models.IndicatedRecord) map[models.SeasonWeekday]int {
	counts := make(map[models.SeasonWeekday]int, len(groups))
	for _, g := range groups {
		counts[g] = 0
	}
	for _, r := range rows {
		counts[r.Indicator]++
	}
	return counts
}
