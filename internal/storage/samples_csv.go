package storage

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/irfndi/sts/internal/demand"
	"github.com/irfndi/sts/internal/models"
	"github.com/irfndi/sts/internal/utils"
)

// PersistSamples writes a wide CSV: ds followed by one column per sample path.
func PersistSamples(samples *models.SampleSet, path string) error {
	if samples.NumSamples() == 0 {
		return utils.NewWriteError("sample set is empty")
	}
	for i, p := range samples.Paths {
		if len(p) != len(samples.Timestamps) {
			return utils.NewWriteError("sample %d has %d values for %d timestamps", i, len(p), len(samples.Timestamps))
		}
	}

	header := make([]string, 0, samples.NumSamples()+1)
	header = append(header, "ds")
	for i := range samples.Paths {
		name := "sample_" + strconv.Itoa(i)
		if i < len(samples.Names) && samples.Names[i] != "" {
			name = samples.Names[i]
		}
		header = append(header, name)
	}

	rows := make([][]string, 0, len(samples.Timestamps)+1)
	rows = append(rows, header)
	for j, ts := range samples.Timestamps {
		row := make([]string, 0, len(header))
		row = append(row, formatTimestamp(ts))
		for i, p := range samples.Paths {
			v, err := formatValue(p[j])
			if err != nil {
				return utils.NewWriteError("sample %d at %s: %w", i, formatTimestamp(ts), err)
			}
			row = append(row, v)
		}
		rows = append(rows, row)
	}
	return writeCSV(path, rows)
}

// ReadSamples loads a wide sample CSV. The file must have a ds column and at
// least one other column; every non-ds column is a sample path.
func ReadSamples(path string) (*models.SampleSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, utils.NewLoadError("open samples %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.ReuseRecord = true

	headers, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, utils.NewLoadError("samples file %s is empty", path)
		}
		return nil, utils.NewLoadError("read samples header: %w", err)
	}

	dsIdx := -1
	set := &models.SampleSet{}
	var cols []int
	for i, h := range headers {
		name := strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if strings.EqualFold(name, "ds") {
			dsIdx = i
			continue
		}
		cols = append(cols, i)
		set.Names = append(set.Names, name)
	}
	if dsIdx < 0 {
		return nil, utils.NewLoadError("samples file %s has no ds column", path)
	}
	if len(cols) == 0 {
		return nil, utils.NewLoadError("samples file %s has no sample columns", path)
	}
	set.Paths = make([][]float64, len(cols))

	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, utils.NewLoadError("samples line %d: %w", line, err)
		}

		ts, err := demand.ParseTimestamp(record[dsIdx])
		if err != nil {
			return nil, utils.NewLoadError("samples line %d: %w", line, err)
		}
		set.Timestamps = append(set.Timestamps, ts)

		for k, c := range cols {
			v, err := strconv.ParseFloat(strings.TrimSpace(record[c]), 64)
			if err != nil {
				return nil, utils.NewLoadError("samples line %d column %s: invalid value %q", line, set.Names[k], record[c])
			}
			set.Paths[k] = append(set.Paths[k], v)
		}
	}

	if len(set.Timestamps) == 0 {
		return nil, utils.NewLoadError("samples file %s has no rows", path)
	}
	if err := sortSamples(set); err != nil {
		return nil, utils.NewLoadError("samples file %s: %w", path, err)
	}
	return set, nil
}

// sortSamples orders the rows of set by timestamp, permuting every path
// alongside, and rejects duplicate timestamps.
func sortSamples(set *models.SampleSet) error {
	ts := set.Timestamps
	if !sort.SliceIsSorted(ts, func(i, j int) bool { return ts[i].Before(ts[j]) }) {
		order := make([]int, len(ts))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool { return ts[order[a]].Before(ts[order[b]]) })

		sorted := make([]time.Time, len(ts))
		for j, o := range order {
			sorted[j] = ts[o]
		}
		for k, p := range set.Paths {
			reordered := make([]float64, len(p))
			for j, o := range order {
				reordered[j] = p[o]
			}
			set.Paths[k] = reordered
		}
		set.Timestamps = sorted
	}

	for j := 1; j < len(set.Timestamps); j++ {
		if set.Timestamps[j].Equal(set.Timestamps[j-1]) {
			return fmt.Errorf("duplicate timestamp %s", formatTimestamp(set.Timestamps[j]))
		}
	}
	return nil
}
