// Package forecaster fits additive time-series models: a piecewise-linear trend
// plus Fourier seasonal components, optionally gated by boolean condition columns.
//
// Callers depend on the Estimator interface; AdditiveEstimator is the in-repo
// implementation and tests substitute their own.
package forecaster

import (
	"context"
	"fmt"
	"time"

	"github.com/irfndi/sts/internal/models"
)

// Frame is the tabular input of Fit and Predict.
// Y is ignored by Predict. Conditions maps a gating column name to one bool per row.
type Frame struct {
	DS         []time.Time
	Y          []float64
	Conditions map[string][]bool
}

// Len returns the number of rows.
func (f Frame) Len() int {
	return len(f.DS)
}

// Toggle controls a built-in seasonality.
type Toggle string

const (
	ToggleAuto Toggle = "auto"
	ToggleOn   Toggle = "true"
	ToggleOff  Toggle = "false"
)

// Seasonality is one Fourier seasonal component. When Condition is set, the
// component only contributes on rows where that column is true.
type Seasonality struct {
	Name         string
	Period       time.Duration
	FourierOrder int
	PriorScale   float64
	Condition    string
}

const (
	Day  = 24 * time.Hour
	Week = 7 * Day
	// Year is 365.25 days.
	Year = time.Duration(365.25 * float64(Day))
)

// ModelSpec configures a fit.
type ModelSpec struct {
	Name                  string
	Changepoints          int
	ChangepointRange      float64
	ChangepointPriorScale float64
	SeasonalityPriorScale float64
	Yearly                Toggle
	Weekly                Toggle
	Seasonalities         []Seasonality
	IntervalWidth         float64
}

// DefaultSpec mirrors the usual Prophet defaults with daily seasonality left
// to the caller.
func DefaultSpec() ModelSpec {
	return ModelSpec{
		Name:                  "additive",
		Changepoints:          25,
		ChangepointRange:      0.8,
		ChangepointPriorScale: 0.05,
		SeasonalityPriorScale: 10,
		Yearly:                ToggleAuto,
		Weekly:                ToggleAuto,
		IntervalWidth:         0.8,
	}
}

// AddSeasonality registers an extra component, returning the spec for chaining.
func (s ModelSpec) AddSeasonality(seas Seasonality) ModelSpec {
	s.Seasonalities = append(append([]Seasonality(nil), s.Seasonalities...), seas)
	return s
}

// Handle is an opaque fitted model.
type Handle interface {
	Name() string
	// HistoryTimestamps returns the training index in order.
	HistoryTimestamps() []time.Time
	// Conditions lists the gating columns Predict requires.
	Conditions() []string
}

// Estimator fits a model and predicts with it.
type Estimator interface {
	Fit(ctx context.Context, spec ModelSpec, frame Frame) (Handle, error)
	Predict(ctx context.Context, h Handle, frame Frame) (*models.Forecast, error)
}

// Sampler draws simulated paths from a fitted model.
type Sampler interface {
	Sample(ctx context.Context, h Handle, frame Frame, n int, seed uint64) (*models.SampleSet, error)
}

// Index builds n timestamps starting at start, spaced by step.
func Index(start time.Time, n int, step time.Duration) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = start.Add(time.Duration(i) * step)
	}
	return out
}

// ExtendIndex returns history followed by periods timestamps after its last element.
func ExtendIndex(history []time.Time, periods int, step time.Duration) ([]time.Time, error) {
	if periods < 0 {
		return nil, fmt.Errorf("periods must be >= 0, got %d", periods)
	}
	if step <= 0 {
		return nil, fmt.Errorf("frequency must be positive, got %s", step)
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("cannot extend an empty history")
	}
	out := make([]time.Time, 0, len(history)+periods)
	out = append(out, history...)
	last := history[len(history)-1]
	for i := 1; i <= periods; i++ {
		out = append(out, last.Add(time.Duration(i)*step))
	}
	return out, nil
}
