package models

import "time"

// DemandRecord is one hourly observation of system demand.
type DemandRecord struct {
	Timestamp time.Time `json:"ds" db:"ds"`
	Demand    float64   `json:"y" db:"y"`
}

// Season is the calendar half of the year a timestamp falls in.
type Season string

const (
	SeasonSummer Season = "summer"
	SeasonWinter Season = "winter"
)

// DayType separates working days from weekends.
type DayType string

const (
	DayTypeWeekday DayType = "weekday"
	DayTypeWeekend DayType = "weekend"
)

// SeasonWeekday is the combined season x day-type label of a timestamp.
type SeasonWeekday struct {
	Season  Season  `json:"season"`
	DayType DayType `json:"day_type"`
}

// IndicatedRecord is a demand record annotated with its seasonal indicator.
// Demand is zero for rows that only carry a timestamp (future horizon).
type IndicatedRecord struct {
	Timestamp time.Time     `json:"ds"`
	Demand    float64       `json:"y"`
	Indicator SeasonWeekday `json:"indicator"`
}
