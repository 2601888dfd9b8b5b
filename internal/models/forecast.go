package models

import "time"

// ForecastRecord is one predicted point with its uncertainty interval.
type ForecastRecord struct {
	Timestamp time.Time `json:"ds" db:"ds"`
	Yhat      float64   `json:"yhat" db:"yhat"`
	YhatLower float64   `json:"yhat_lower" db:"yhat_lower"`
	YhatUpper float64   `json:"yhat_upper" db:"yhat_upper"`
}

// Forecast is an ordered prediction over history plus horizon.
type Forecast struct {
	Records      []ForecastRecord `json:"records"`
	HistoryRows  int              `json:"history_rows"`
	HorizonRows  int              `json:"horizon_rows"`
	GeneratedAt  time.Time        `json:"generated_at"`
	ModelName    string           `json:"model_name"`
	IntervalSize float64          `json:"interval_size"`
}

// Len returns the number of predicted timestamps.
func (f *Forecast) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Records)
}

// Timestamps returns the forecast index in order.
func (f *Forecast) Timestamps() []time.Time {
	out := make([]time.Time, len(f.Records))
	for i, r := range f.Records {
		out[i] = r.Timestamp
	}
	return out
}

// SampleSet holds simulated demand paths on a shared index.
// Paths[i][j] is sample i at Timestamps[j].
type SampleSet struct {
	Timestamps []time.Time `json:"ds"`
	Names      []string    `json:"names"`
	Paths      [][]float64 `json:"paths"`
}

// NumSamples returns how many simulated paths the set holds.
func (s *SampleSet) NumSamples() int {
	if s == nil {
		return 0
	}
	return len(s.Paths)
}
