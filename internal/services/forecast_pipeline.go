package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/sts/internal/config"
	"github.com/irfndi/sts/internal/models"
	"github.com/irfndi/sts/internal/storage"
	"github.com/irfndi/sts/internal/telemetry"
	"github.com/irfndi/sts/internal/utils"
)

// DemandSource provides the historical demand rows.
type DemandSource interface {
	Load(ctx context.Context, trainOnly bool) ([]models.DemandRecord, error)
}

// ForecastSink receives every persisted forecast, e.g. the Postgres repository.
type ForecastSink interface {
	ReplaceForecast(ctx context.Context, model, runID string, forecast *models.Forecast) (int64, error)
}

// PipelineOptions configures one batch run.
type PipelineOptions struct {
	ModelName    string
	ForecastPath string
	SamplesPath  string
	Periods      int
	Frequency    time.Duration
	Samples      int
	Seed         uint64
	SinkRetry    RetryPolicy
}

// PipelineOptionsFromConfig maps the data and forecast sections of cfg.
func PipelineOptionsFromConfig(cfg *config.Config) PipelineOptions {
	return PipelineOptions{
		ModelName:    cfg.Forecast.ModelName,
		ForecastPath: cfg.Data.ForecastPath,
		SamplesPath:  cfg.Data.SamplesPath,
		Periods:      cfg.Forecast.Periods,
		Frequency:    cfg.Forecast.Step(),
		Samples:      cfg.Forecast.Samples,
		Seed:         cfg.Forecast.Seed,
		SinkRetry:    DefaultSinkRetryPolicy(),
	}
}

// RunSummary reports what a pipeline run produced.
type RunSummary struct {
	RunID          string        `json:"run_id"`
	TrainingRows   int           `json:"training_rows"`
	HistoryRows    int           `json:"history_rows"`
	HorizonRows    int           `json:"horizon_rows"`
	ForecastPath   string        `json:"forecast_path"`
	SamplesPath    string        `json:"samples_path,omitempty"`
	SamplesWritten int           `json:"samples_written"`
	DatabaseRows   int64         `json:"database_rows"`
	Duration       time.Duration `json:"duration"`
}

// ForecastPipeline runs load, fit, predict and persist once, in order.
// Any stage failure aborts the run.
type ForecastPipeline struct {
	source DemandSource
	model  *SeasonalModelService
	sink   ForecastSink
	opts   PipelineOptions
	logger *logrus.Logger
	newID  func() string
}

// NewForecastPipeline creates a pipeline. sink may be nil.
func NewForecastPipeline(source DemandSource, model *SeasonalModelService, sink ForecastSink, opts PipelineOptions, logger *logrus.Logger) *ForecastPipeline {
	if logger == nil {
		logger = logrus.New()
	}
	return &ForecastPipeline{
		source: source,
		model:  model,
		sink:   sink,
		opts:   opts,
		logger: logger,
		newID:  func() string { return uuid.New().String() },
	}
}

// Run executes the pipeline. The returned error keeps its stage, so
// errors.Is(err, utils.ErrFit) and friends work on it.
func (p *ForecastPipeline) Run(ctx context.Context) (*RunSummary, error) {
	start := time.Now()
	summary := &RunSummary{RunID: p.newID(), ForecastPath: p.opts.ForecastPath}
	log := p.logger.WithFields(logrus.Fields{
		"run_id": summary.RunID,
		"model":  p.opts.ModelName,
	})

	ctx, span := telemetry.StartSpan(ctx, telemetry.GetPipelineTracer(), "pipeline.run",
		telemetry.StringAttribute("run_id", summary.RunID),
		telemetry.StringAttribute("model", p.opts.ModelName),
	)
	defer span.End()

	log.WithFields(logrus.Fields{
		"periods":   p.opts.Periods,
		"frequency": p.opts.Frequency,
		"samples":   p.opts.Samples,
	}).Info("Starting forecast run")

	var rows []models.DemandRecord
	err := p.stage(ctx, log, "load", func(ctx context.Context) error {
		var err error
		rows, err = p.source.Load(ctx, true)
		return err
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	summary.TrainingRows = len(rows)

	var fitted *FittedModel
	err = p.stage(ctx, log, "fit", func(ctx context.Context) error {
		var err error
		fitted, err = p.model.BuildAndFit(ctx, rows)
		return err
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.LogResourceSnapshot(ctx, p.logger, "fit")

	var forecast *models.Forecast
	err = p.stage(ctx, log, "predict", func(ctx context.Context) error {
		var err error
		forecast, err = p.model.ExtendAndForecast(ctx, fitted, p.opts.Periods, p.opts.Frequency)
		return err
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	summary.HistoryRows = forecast.HistoryRows
	summary.HorizonRows = forecast.HorizonRows

	err = p.stage(ctx, log, "persist", func(ctx context.Context) error {
		return storage.PersistForecast(forecast, p.opts.ForecastPath)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	if p.opts.Samples > 0 && p.opts.SamplesPath != "" {
		err = p.stage(ctx, log, "sample", func(ctx context.Context) error {
			set, err := p.model.SampleForecast(ctx, fitted, p.opts.Periods, p.opts.Frequency, p.opts.Samples, p.opts.Seed)
			if err != nil {
				return err
			}
			if err := storage.PersistSamples(set, p.opts.SamplesPath); err != nil {
				return err
			}
			summary.SamplesPath = p.opts.SamplesPath
			summary.SamplesWritten = set.NumSamples()
			return nil
		})
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
	}

	if p.sink != nil {
		err = p.stage(ctx, log, "sink", func(ctx context.Context) error {
			return ExecuteWithRetry(ctx, log, "replace_forecast", p.opts.SinkRetry, func(ctx context.Context) error {
				n, err := p.sink.ReplaceForecast(ctx, p.opts.ModelName, summary.RunID, forecast)
				if err != nil {
					return utils.NewWriteError("store forecast: %w", err)
				}
				summary.DatabaseRows = n
				return nil
			})
		})
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
	}

	summary.Duration = time.Since(start)
	telemetry.SetSpanAttributes(span,
		telemetry.Int64Attribute("history_rows", int64(summary.HistoryRows)),
		telemetry.Int64Attribute("horizon_rows", int64(summary.HorizonRows)),
	)
	log.WithFields(logrus.Fields{
		"training_rows":   summary.TrainingRows,
		"history_rows":    summary.HistoryRows,
		"horizon_rows":    summary.HorizonRows,
		"samples_written": summary.SamplesWritten,
		"database_rows":   summary.DatabaseRows,
		"duration":        summary.Duration,
	}).Info("Forecast run completed")

	return summary, nil
}

// stage wraps one step in a span and logs its outcome.
func (p *ForecastPipeline) stage(ctx context.Context, log *logrus.Entry, name string, fn func(context.Context) error) error {
	ctx, span := telemetry.StartSpan(ctx, telemetry.GetPipelineTracer(), "pipeline."+name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	entry := log.WithFields(logrus.Fields{
		"stage":    name,
		"duration": time.Since(start),
	})
	if err != nil {
		telemetry.RecordError(span, err)
		entry.WithError(err).Error("Pipeline stage failed")
		return err
	}
	entry.Info("Pipeline stage completed")
	return nil
}
