package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/irfndi/sts/internal/config"
	"github.com/irfndi/sts/internal/forecaster"
	"github.com/irfndi/sts/internal/models"
	"github.com/irfndi/sts/internal/seasonal"
	"github.com/irfndi/sts/internal/utils"
)

// DailySeasonalityPrefix names the per-group intra-day components, e.g. daily_summer_weekday.
const DailySeasonalityPrefix = "daily_"

// FittedModel is a fitted seasonal demand model plus what it was trained on.
type FittedModel struct {
	Handle      forecaster.Handle
	Spec        forecaster.ModelSpec
	GroupCounts map[models.SeasonWeekday]int
	TrainedAt   time.Time
}

// SeasonalModelService builds the season x day-type demand model and
// produces forecasts from it.
type SeasonalModelService struct {
	estimator  forecaster.Estimator
	spec       forecaster.ModelSpec
	dailyOrder int
	logger     *logrus.Logger
}

// NewSeasonalModelService creates the service. spec carries the trend and
// built-in seasonality options; the four daily components are added per fit.
func NewSeasonalModelService(estimator forecaster.Estimator, spec forecaster.ModelSpec, dailyOrder int, logger *logrus.Logger) *SeasonalModelService {
	if dailyOrder < 1 {
		dailyOrder = 4
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &SeasonalModelService{
		estimator:  estimator,
		spec:       spec,
		dailyOrder: dailyOrder,
		logger:     logger,
	}
}

// ModelSpecFromConfig maps the model section of the configuration onto an estimator spec.
func ModelSpecFromConfig(name string, cfg config.ModelConfig) forecaster.ModelSpec {
	spec := forecaster.DefaultSpec()
	spec.Name = name
	spec.Changepoints = cfg.Changepoints
	spec.ChangepointRange = cfg.ChangepointRange
	spec.ChangepointPriorScale = cfg.ChangepointPriorScale
	spec.SeasonalityPriorScale = cfg.SeasonalityPriorScale
	spec.Yearly = forecaster.Toggle(strings.ToLower(cfg.YearlySeasonality))
	spec.Weekly = forecaster.Toggle(strings.ToLower(cfg.WeeklySeasonality))
	spec.IntervalWidth = cfg.IntervalWidth
	return spec
}

// BuildAndFit annotates rows with their indicator group, registers one
// conditional daily seasonality per group and fits the model once.
// A group with no rows is a fit error; it is never silently dropped.
func (s *SeasonalModelService) BuildAndFit(ctx context.Context, rows []models.DemandRecord) (*FittedModel, error) {
	if len(rows) == 0 {
		return nil, utils.NewFitError("no training rows")
	}

	indicated := seasonal.AddIndicators(rows)
	counts := seasonal.Counts(indicated)
	for _, g := range seasonal.Groups() {
		if counts[g] == 0 {
			return nil, utils.NewFitError("indicator group %s has no training rows", seasonal.Column(g))
		}
	}

	spec := s.spec
	for _, g := range seasonal.Groups() {
		col := seasonal.Column(g)
		spec = spec.AddSeasonality(forecaster.Seasonality{
			Name:         DailySeasonalityPrefix + col,
			Period:       forecaster.Day,
			FourierOrder: s.dailyOrder,
			Condition:    col,
		})
	}

	frame := forecaster.Frame{
		DS:         make([]time.Time, len(indicated)),
		Y:          make([]float64, len(indicated)),
		Conditions: seasonal.GatingColumns(indicated),
	}
	for i, r := range indicated {
		frame.DS[i] = r.Timestamp
		frame.Y[i] = r.Demand
	}

	start := time.Now()
	handle, err := s.estimator.Fit(ctx, spec, frame)
	if err != nil {
		if errors.Is(err, utils.ErrFit) {
			return nil, err
		}
		return nil, utils.NewFitError("fit %s: %w", spec.Name, err)
	}

	fields := logrus.Fields{
		"model":      spec.Name,
		"rows":       len(rows),
		"components": len(spec.Seasonalities),
		"elapsed_ms": time.Since(start).Milliseconds(),
	}
	for g, n := range counts {
		fields[seasonal.Column(g)] = n
	}
	s.logger.WithFields(fields).Info("Fitted seasonal demand model")

	return &FittedModel{
		Handle:      handle,
		Spec:        spec,
		GroupCounts: counts,
		TrainedAt:   start.UTC(),
	}, nil
}

// ExtendAndForecast predicts over the training index plus periods steps of
// freq after it. periods == 0 re-predicts exactly the training range.
func (s *SeasonalModelService) ExtendAndForecast(ctx context.Context, fitted *FittedModel, periods int, freq time.Duration) (*models.Forecast, error) {
	frame, err := s.futureFrame(fitted, periods, freq)
	if err != nil {
		return nil, err
	}

	forecast, err := s.estimator.Predict(ctx, fitted.Handle, frame)
	if err != nil {
		if errors.Is(err, utils.ErrFit) {
			return nil, err
		}
		return nil, utils.NewFitError("predict %s: %w", fitted.Handle.Name(), err)
	}
	if forecast.Len() != frame.Len() {
		return nil, utils.NewFitError("predict %s returned %d rows for %d timestamps", fitted.Handle.Name(), forecast.Len(), frame.Len())
	}

	s.logger.WithFields(logrus.Fields{
		"model":        fitted.Handle.Name(),
		"history_rows": forecast.HistoryRows,
		"horizon_rows": forecast.HorizonRows,
		"frequency":    freq.String(),
	}).Info("Generated forecast")

	return forecast, nil
}

// SampleForecast draws n simulated demand paths over the same index as
// ExtendAndForecast. The estimator must also implement forecaster.Sampler.
func (s *SeasonalModelService) SampleForecast(ctx context.Context, fitted *FittedModel, periods int, freq time.Duration, n int, seed uint64) (*models.SampleSet, error) {
	if n <= 0 {
		return nil, utils.NewValidationErrorf("sample count must be positive, got %d", n)
	}
	sampler, ok := s.estimator.(forecaster.Sampler)
	if !ok {
		return nil, utils.NewFitError("estimator %T does not support sampling", s.estimator)
	}

	frame, err := s.futureFrame(fitted, periods, freq)
	if err != nil {
		return nil, err
	}

	samples, err := sampler.Sample(ctx, fitted.Handle, frame, n, seed)
	if err != nil {
		return nil, utils.NewFitError("sample %s: %w", fitted.Handle.Name(), err)
	}
	return samples, nil
}

// futureFrame builds the prediction frame with gating columns recomputed over
// the extended index.
func (s *SeasonalModelService) futureFrame(fitted *FittedModel, periods int, freq time.Duration) (forecaster.Frame, error) {
	if fitted == nil || fitted.Handle == nil {
		return forecaster.Frame{}, utils.NewValidationError("model has not been fitted")
	}
	if periods < 0 {
		return forecaster.Frame{}, utils.NewValidationErrorf("periods must be >= 0, got %d", periods)
	}
	if freq <= 0 {
		return forecaster.Frame{}, utils.NewValidationErrorf("frequency must be positive, got %s", freq)
	}

	ds, err := forecaster.ExtendIndex(fitted.Handle.HistoryTimestamps(), periods, freq)
	if err != nil {
		return forecaster.Frame{}, utils.NewValidationError(err.Error())
	}

	return forecaster.Frame{
		DS:         ds,
		Conditions: seasonal.GatingColumns(seasonal.ForTimestamps(ds)),
	}, nil
}
