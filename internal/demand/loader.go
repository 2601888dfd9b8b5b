// Package demand reads the historical hourly electricity demand dataset.
package demand

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/irfndi/sts/internal/models"
	"github.com/irfndi/sts/internal/utils"
)

// TrainCutoff is the last instant of the training window (end of 2018).
var TrainCutoff = time.Date(2018, time.December, 31, 23, 59, 59, 0, time.UTC)

// TimestampColumn is the required timestamp header.
const TimestampColumn = "ds"

// timestampLayouts are tried in order. Layouts without a zone parse as UTC;
// zoned timestamps keep their offset so indicators follow local wall time.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Loader reads a ds/demand CSV from disk.
type Loader struct {
	path        string
	valueColumn string
	logger      *logrus.Logger
}

// NewLoader creates a loader for the CSV at path. valueColumn defaults to "y";
// a "demand" column is accepted when the configured one is absent.
func NewLoader(path, valueColumn string, logger *logrus.Logger) *Loader {
	if valueColumn == "" {
		valueColumn = "y"
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Loader{path: path, valueColumn: strings.ToLower(valueColumn), logger: logger}
}

// Path returns the file the loader reads.
func (l *Loader) Path() string {
	return l.path
}

// Load reads the dataset, sorted ascending by timestamp. With trainOnly set,
// rows after TrainCutoff are dropped. Every failure is a load error.
func (l *Loader) Load(ctx context.Context, trainOnly bool) ([]models.DemandRecord, error) {
	f, err := os.Open(l.path)
	if err != nil {
		return nil, utils.NewLoadError("open demand dataset: %w", err)
	}
	defer f.Close()

	rows, err := l.Parse(ctx, f)
	if err != nil {
		return nil, err
	}

	if trainOnly {
		rows = FilterThrough(rows, TrainCutoff)
	}
	if len(rows) == 0 {
		return nil, utils.NewLoadError("demand dataset %s has no rows in range", l.path)
	}

	l.logger.WithFields(logrus.Fields{
		"path":       l.path,
		"rows":       len(rows),
		"train_only": trainOnly,
		"first":      rows[0].Timestamp,
		"last":       rows[len(rows)-1].Timestamp,
	}).Info("Loaded demand dataset")

	return rows, nil
}

// Parse reads demand records from a CSV stream.
func (l *Loader) Parse(ctx context.Context, stream io.Reader) ([]models.DemandRecord, error) {
	reader := csv.NewReader(stream)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	headers, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, utils.NewLoadError("demand dataset is empty")
		}
		return nil, utils.NewLoadError("read csv header: %w", err)
	}

	headerMap := make(map[string]int, len(headers))
	for i, h := range headers {
		headerMap[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}

	tsIdx, ok := headerMap[TimestampColumn]
	if !ok {
		return nil, utils.NewLoadError("missing required csv header: %s", TimestampColumn)
	}
	valIdx, ok := headerMap[l.valueColumn]
	if !ok {
		valIdx, ok = headerMap["demand"]
		if !ok {
			return nil, utils.NewLoadError("missing required csv header: %s", l.valueColumn)
		}
	}

	var rows []models.DemandRecord
	line := 1
	for {
		if line%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, utils.NewLoadError("load cancelled: %w", err)
			}
		}

		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, utils.NewLoadError("csv read error at line %d: %w", line, err)
		}

		if tsIdx >= len(record) || valIdx >= len(record) {
			return nil, utils.NewLoadError("line %d: expected at least %d fields, got %d", line, max(tsIdx, valIdx)+1, len(record))
		}

		ts, err := ParseTimestamp(record[tsIdx])
		if err != nil {
			return nil, utils.NewLoadError("line %d: %w", line, err)
		}

		valStr := strings.TrimSpace(record[valIdx])
		val, err := strconv.ParseFloat(valStr, 64)
		if err != nil {
			return nil, utils.NewLoadError("line %d: invalid demand value %q", line, valStr)
		}

		rows = append(rows, models.DemandRecord{Timestamp: ts, Demand: val})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Timestamp.Before(rows[j].Timestamp)
	})
	for i := 1; i < len(rows); i++ {
		if rows[i].Timestamp.Equal(rows[i-1].Timestamp) {
			return nil, utils.NewLoadError("duplicate timestamp %s", rows[i].Timestamp.Format(time.RFC3339))
		}
	}

	return rows, nil
}

// ParseTimestamp accepts the ISO-like layouts found in demand exports.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp format: %q", s)
}

// FilterThrough keeps rows at or before cutoff. rows must be sorted.
func FilterThrough(rows []models.DemandRecord, cutoff time.Time) []models.DemandRecord {
	idx := sort.Search(len(rows), func(i int) bool {
		return rows[i].Timestamp.After(cutoff)
	})
	return rows[:idx]
}
