package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/sts/internal/config"
	"github.com/irfndi/sts/internal/database"
	"github.com/irfndi/sts/internal/demand"
	"github.com/irfndi/sts/internal/forecaster"
	"github.com/irfndi/sts/internal/logging"
	"github.com/irfndi/sts/internal/services"
	"github.com/irfndi/sts/internal/telemetry"
	"github.com/irfndi/sts/internal/utils"
)

const (
	exitOK       = 0
	exitPipeline = 1
	exitConfig   = 2
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: could not load .env file: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, config.Load, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one forecast run and returns the process exit code.
func run(ctx context.Context, loadConfig func() (*config.Config, error), stdout, stderr io.Writer) int {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load configuration: %v\n", err)
		return exitConfig
	}

	logger := logging.NewLogrusLogger(cfg.LogLevel, cfg.Environment)
	logger.SetOutput(stderr)

	traceOut, closeTraces, err := telemetry.TraceWriter(cfg.Telemetry.TraceFile)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to initialize telemetry: %v\n", err)
		return exitConfig
	}
	defer func() { _ = closeTraces() }()
	if err := telemetry.InitTelemetry(telemetry.TelemetryConfig{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: telemetry.ServiceVersion,
		Environment:    cfg.Environment,
		Writer:         traceOut,
	}); err != nil {
		fmt.Fprintf(stderr, "Failed to initialize telemetry: %v\n", err)
		return exitConfig
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(stderr, "Failed to shutdown telemetry: %v\n", err)
		}
	}()

	summary, err := runPipeline(ctx, cfg, logger)
	if err != nil {
		entry := logger.WithError(err)
		if stage, ok := utils.StageOf(err); ok {
			entry = entry.WithField("stage", string(stage))
		}
		entry.Error("Forecast run failed")
		fmt.Fprintf(stderr, "Forecast run failed: %v\n", err)
		return exitPipeline
	}

	fmt.Fprintf(stdout, "Wrote %d forecast rows (%d history, %d horizon) to %s\n",
		summary.HistoryRows+summary.HorizonRows, summary.HistoryRows, summary.HorizonRows, summary.ForecastPath)
	if summary.SamplesWritten > 0 {
		fmt.Fprintf(stdout, "Wrote %d sample paths to %s\n", summary.SamplesWritten, summary.SamplesPath)
	}
	if summary.DatabaseRows > 0 {
		fmt.Fprintf(stdout, "Stored %d rows for model %s\n", summary.DatabaseRows, cfg.Forecast.ModelName)
	}
	return exitOK
}

// runPipeline wires the loader, model and optional database sink from cfg
// and runs the pipeline once.
func runPipeline(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*services.RunSummary, error) {
	var sink services.ForecastSink
	if cfg.Database.Enabled {
		db, err := database.NewPostgresConnection(ctx, cfg.Database)
		if err != nil {
			return nil, utils.NewWriteError("connect to forecast database: %w", err)
		}
		defer db.Close()

		repo := database.NewForecastRepository(database.NewTracedDB(db.Pool))
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, utils.NewWriteError("prepare forecast table: %w", err)
		}
		sink = repo
	}

	model := services.NewSeasonalModelService(
		forecaster.NewAdditiveEstimator(),
		services.ModelSpecFromConfig(cfg.Forecast.ModelName, cfg.Model),
		cfg.Model.DailyFourierOrder,
		logger,
	)
	loader := demand.NewLoader(cfg.Data.DemandPath, cfg.Data.DemandColumn, logger)
	pipeline := services.NewForecastPipeline(loader, model, sink, services.PipelineOptionsFromConfig(cfg), logger)

	return pipeline.Run(ctx)
}
