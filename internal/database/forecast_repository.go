package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/irfndi/sts/internal/models"
)

// DatabasePool defines the interface for database pool operations.
// This interface allows for both real pool and mock pool implementations.
type DatabasePool interface {
	// QueryRow executes a query that is expected to return at most one row.
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	// Exec executes a query without returning any rows.
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	// Query executes a query that returns rows.
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	// Begin starts a transaction.
	Begin(ctx context.Context) (pgx.Tx, error)
}

// ForecastTable holds one row per (model, timestamp) of the latest run.
const ForecastTable = "demand_forecasts"

// insertChunkSize bounds the bind parameters of one INSERT (6 per row).
const insertChunkSize = 1000

// ErrNoForecast is returned when no run has been stored for a model.
var ErrNoForecast = errors.New("no forecast stored for model")

const createForecastTable = `
	CREATE TABLE IF NOT EXISTS demand_forecasts (
		model_name  TEXT             NOT NULL,
		run_id      TEXT             NOT NULL,
		ds          TIMESTAMPTZ      NOT NULL,
		yhat        DOUBLE PRECISION NOT NULL,
		yhat_lower  DOUBLE PRECISION NOT NULL,
		yhat_upper  DOUBLE PRECISION NOT NULL,
		created_at  TIMESTAMPTZ      NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (model_name, ds)
	)
`

// ForecastRun summarizes a stored forecast run.
type ForecastRun struct {
	RunID     string    `json:"run_id" db:"run_id"`
	Rows      int64     `json:"rows" db:"rows"`
	FirstDS   time.Time `json:"first_ds" db:"first_ds"`
	LastDS    time.Time `json:"last_ds" db:"last_ds"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ForecastRepository stores forecasts in Postgres with the same overwrite
// semantics as the CSV writer: each run replaces the previous rows of its model.
type ForecastRepository struct {
	pool DatabasePool
}

func NewForecastRepository(pool DatabasePool) *ForecastRepository {
	return &ForecastRepository{pool: pool}
}

// EnsureSchema creates the forecast table if it does not exist.
func (r *ForecastRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, createForecastTable); err != nil {
		return fmt.Errorf("failed to create %s: %w", ForecastTable, err)
	}
	return nil
}

// ReplaceForecast deletes the stored rows of model and inserts forecast in one
// transaction. It returns the number of rows written.
func (r *ForecastRepository) ReplaceForecast(ctx context.Context, model, runID string, forecast *models.Forecast) (int64, error) {
	if forecast == nil {
		return 0, errors.New("nil forecast")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM demand_forecasts WHERE model_name = $1`, model); err != nil {
		_ = tx.Rollback(ctx)
		return 0, fmt.Errorf("failed to delete previous forecast: %w", err)
	}

	var written int64
	for start := 0; start < len(forecast.Records); start += insertChunkSize {
		end := min(start+insertChunkSize, len(forecast.Records))
		query, args := buildInsert(model, runID, forecast.Records[start:end])
		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			_ = tx.Rollback(ctx)
			return 0, fmt.Errorf("failed to insert forecast rows %d-%d: %w", start, end-1, err)
		}
		written += tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit forecast: %w", err)
	}
	return written, nil
}

func buildInsert(model, runID string, records []models.ForecastRecord) (string, []interface{}) {
	var sb strings.Builder
	sb.WriteString("INSERT INTO demand_forecasts (model_name, run_id, ds, yhat, yhat_lower, yhat_upper) VALUES ")
	args := make([]interface{}, 0, len(records)*6)
	for i, rec := range records {
		if i > 0 {
			sb.WriteString(", ")
		}
		n := i * 6
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6)
		args = append(args, model, runID, rec.Timestamp, rec.Yhat, rec.YhatLower, rec.YhatUpper)
	}
	return sb.String(), args
}

// LatestRun returns the summary of the most recently stored run for model.
func (r *ForecastRepository) LatestRun(ctx context.Context, model string) (*ForecastRun, error) {
	query := `
		SELECT run_id, COUNT(*), MIN(ds), MAX(ds), MAX(created_at)
		FROM demand_forecasts
		WHERE model_name = $1
		GROUP BY run_id
		ORDER BY MAX(created_at) DESC
		LIMIT 1
	`

	var run ForecastRun
	err := r.pool.QueryRow(ctx, query, model).Scan(
		&run.RunID,
		&run.Rows,
		&run.FirstDS,
		&run.LastDS,
		&run.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoForecast
		}
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}
	return &run, nil
}

// Forecast reads back the stored forecast of model between start and end inclusive.
func (r *ForecastRepository) Forecast(ctx context.Context, model string, start, end time.Time) ([]models.ForecastRecord, error) {
	query := `
		SELECT ds, yhat, yhat_lower, yhat_upper
		FROM demand_forecasts
		WHERE model_name = $1 AND ds BETWEEN $2 AND $3
		ORDER BY ds
	`

	rows, err := r.pool.Query(ctx, query, model, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query forecast: %w", err)
	}
	defer rows.Close()

	var out []models.ForecastRecord
	for rows.Next() {
		var rec models.ForecastRecord
		if err := rows.Scan(&rec.Timestamp, &rec.Yhat, &rec.YhatLower, &rec.YhatUpper); err != nil {
			return nil, fmt.Errorf("failed to scan forecast row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating forecast rows: %w", err)
	}
	return out, nil
}
