// Package storage persists forecasts and simulated demand paths as CSV files.
package storage

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"github.com/irfndi/sts/internal/models"
	"github.com/irfndi/sts/internal/utils"
)

// TimestampLayout is the ds format of every file this package writes.
// Timestamps are converted to UTC first, so zoned input stays unambiguous.
const TimestampLayout = "2006-01-02 15:04:05"

// ValuePrecision is the number of decimal places written for demand values.
const ValuePrecision = 6

// ForecastHeader is the column set of a persisted point forecast.
var ForecastHeader = []string{"ds", "yhat"}

// PersistForecast writes the ds and yhat columns of forecast to path,
// creating parent directories and replacing any existing file.
func PersistForecast(forecast *models.Forecast, path string) error {
	if forecast == nil {
		return utils.NewWriteError("nil forecast")
	}
	rows := make([][]string, 0, forecast.Len()+1)
	rows = append(rows, ForecastHeader)
	for i, r := range forecast.Records {
		v, err := formatValue(r.Yhat)
		if err != nil {
			return utils.NewWriteError("row %d (%s): %w", i, formatTimestamp(r.Timestamp), err)
		}
		rows = append(rows, []string{formatTimestamp(r.Timestamp), v})
	}
	return writeCSV(path, rows)
}

func formatTimestamp(ts time.Time) string {
	return ts.UTC().Format(TimestampLayout)
}

func formatValue(v float64) (string, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "", fmt.Errorf("value %v is not finite", v)
	}
	return decimal.NewFromFloat(v).Round(ValuePrecision).String(), nil
}

// writeCSV truncates path and writes rows to it.
func writeCSV(path string, rows [][]string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return utils.NewWriteError("create output directory %s: %w", dir, err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return utils.NewWriteError("create %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		_ = f.Close()
		return utils.NewWriteError("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return utils.NewWriteError("close %s: %w", path, err)
	}
	return nil
}
