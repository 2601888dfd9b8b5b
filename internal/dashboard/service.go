// Package dashboard computes the views of the forecast explorer: the mean
// forecast line with sample paths, and the distribution of aggregate demand
// over a date range.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/trend"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/irfndi/sts/internal/cache"
	"github.com/irfndi/sts/internal/models"
	"github.com/irfndi/sts/internal/storage"
	"github.com/irfndi/sts/internal/utils"
)

// ErrDataUnavailable means the samples file does not exist yet.
var ErrDataUnavailable = errors.New("forecast samples are not available")

const (
	AggregateSum = "sum"
	AggregateMax = "max"

	DefaultShowSamples = 10
	DefaultBins        = 30
	MaxBins            = 200
	// binPrecision is the number of decimal places kept on histogram edges.
	binPrecision = 2
)

// Service serves dashboard views from the wide samples CSV.
//
// The parsed file is memoized in process for as long as its fingerprint
// (path, mtime, size) is unchanged. Derived views are stored in a cache.Store
// under the fingerprint key; when the file changes, entries of the previous
// fingerprint are dropped.
type Service struct {
	path   string
	store  cache.Store
	logger *logrus.Logger
	events EventLogger

	mu      sync.Mutex
	fp      cache.Fingerprint
	samples *models.SampleSet
	loads   int
}

// EventLogger receives one event each time the samples file is (re)loaded.
type EventLogger interface {
	LogBusinessEvent(eventType string, details map[string]interface{})
}

// SamplesLoadedEvent is the event type reported to the EventLogger.
const SamplesLoadedEvent = "forecast_samples_loaded"

// NewService creates a dashboard over the samples CSV at path.
func NewService(path string, store cache.Store, logger *logrus.Logger) *Service {
	if store == nil {
		store = cache.NewMemoryStore(0, nil)
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Service{path: path, store: store, logger: logger}
}

// SetEventLogger reports file loads to ev. It must be called before the
// service handles requests.
func (s *Service) SetEventLogger(ev EventLogger) {
	s.events = ev
}

// Range describes the data the dashboard can show.
type Range struct {
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Points  int       `json:"points"`
	Samples int       `json:"samples"`
}

// Point is one timestamped value.
type Point struct {
	Timestamp time.Time `json:"ds"`
	Value     float64   `json:"value"`
}

// SampleLine is one simulated path restricted to the query window.
type SampleLine struct {
	Name   string    `json:"name"`
	Values []float64 `json:"values"`
}

// MeanQuery selects the mean-line view. Start and End are inclusive.
type MeanQuery struct {
	Start        time.Time
	End          time.Time
	ShowSamples  int
	RollingHours int
}

// MeanLine is the per-timestamp mean across all samples.
type MeanLine struct {
	Timestamps []time.Time  `json:"ds"`
	Mean       []float64    `json:"mean"`
	Samples    []SampleLine `json:"samples"`
	Rolling    []Point      `json:"rolling,omitempty"`
	SampleSize int          `json:"sample_size"`
}

// ExceedanceQuery selects the aggregate-demand view. Start and End are inclusive.
type ExceedanceQuery struct {
	Start     time.Time
	End       time.Time
	Threshold float64
	Bins      int
	Aggregate string
}

// Bin is one histogram bucket [Lower, Upper). The last bin includes Upper.
type Bin struct {
	Lower      decimal.Decimal `json:"lower"`
	Upper      decimal.Decimal `json:"upper"`
	Count      int             `json:"count"`
	CountAbove int             `json:"count_above"`
}

// Exceedance is the distribution of one aggregate over the sample paths.
type Exceedance struct {
	Aggregate   string    `json:"aggregate"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Threshold   float64   `json:"threshold"`
	Probability float64   `json:"probability"`
	Mean        float64   `json:"mean"`
	Min         float64   `json:"min"`
	Max         float64   `json:"max"`
	P10         float64   `json:"p10"`
	P50         float64   `json:"p50"`
	P90         float64   `json:"p90"`
	Samples     int       `json:"samples"`
	Bins        []Bin     `json:"bins"`
}

// Range returns the extent of the current samples file.
func (s *Service) Range(ctx context.Context) (*Range, error) {
	set, _, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return &Range{
		Start:   set.Timestamps[0],
		End:     set.Timestamps[len(set.Timestamps)-1],
		Points:  len(set.Timestamps),
		Samples: set.NumSamples(),
	}, nil
}

// MeanLine returns the mean forecast over the window, the first ShowSamples
// paths and, when RollingHours > 1, a trailing moving average of the mean.
func (s *Service) MeanLine(ctx context.Context, q MeanQuery) (*MeanLine, error) {
	if q.ShowSamples < 0 {
		return nil, utils.NewValidationErrorf("show_samples must be >= 0, got %d", q.ShowSamples)
	}
	if q.RollingHours < 0 {
		return nil, utils.NewValidationErrorf("rolling_hours must be >= 0, got %d", q.RollingHours)
	}

	set, fp, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	lo, hi, err := window(set, q.Start, q.End)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s|mean|%d|%d|%d|%d", fp.Key(), q.Start.Unix(), q.End.Unix(), q.ShowSamples, q.RollingHours)
	if cached, ok := cache.GetJSON[MeanLine](ctx, s.store, key); ok {
		return &cached, nil
	}

	n := hi - lo
	out := &MeanLine{
		Timestamps: set.Timestamps[lo:hi],
		Mean:       make([]float64, n),
		SampleSize: set.NumSamples(),
	}
	for j := 0; j < n; j++ {
		sum := 0.0
		for _, p := range set.Paths {
			sum += p[lo+j]
		}
		out.Mean[j] = sum / float64(set.NumSamples())
	}

	show := min(q.ShowSamples, set.NumSamples())
	out.Samples = make([]SampleLine, show)
	for i := 0; i < show; i++ {
		out.Samples[i] = SampleLine{Name: set.Names[i], Values: set.Paths[i][lo:hi]}
	}

	if q.RollingHours > 1 && q.RollingHours <= n {
		out.Rolling = rollingMean(out.Timestamps, out.Mean, q.RollingHours)
	}

	if err := cache.SetJSON(ctx, s.store, key, out); err != nil {
		s.logger.WithError(err).Warn("Failed to cache mean line")
	}
	return out, nil
}

// rollingMean aligns the SMA output to the end of the series; the first
// period-1 timestamps have no value.
func rollingMean(ts []time.Time, values []float64, period int) []Point {
	sma := trend.NewSmaWithPeriod[float64](period)
	result := helper.ChanToSlice(sma.Compute(helper.SliceToChan(values)))

	offset := len(values) - len(result)
	out := make([]Point, len(result))
	for i, v := range result {
		out[i] = Point{Timestamp: ts[offset+i], Value: v}
	}
	return out
}

// Exceedance aggregates every sample path over the window and reports the
// share of paths whose aggregate is strictly above the threshold.
func (s *Service) Exceedance(ctx context.Context, q ExceedanceQuery) (*Exceedance, error) {
	if q.Aggregate == "" {
		q.Aggregate = AggregateSum
	}
	if q.Aggregate != AggregateSum && q.Aggregate != AggregateMax {
		return nil, utils.NewValidationErrorf("aggregate must be %s or %s, got %q", AggregateSum, AggregateMax, q.Aggregate)
	}
	if q.Bins == 0 {
		q.Bins = DefaultBins
	}
	if q.Bins < 1 || q.Bins > MaxBins {
		return nil, utils.NewValidationErrorf("bins must be between 1 and %d, got %d", MaxBins, q.Bins)
	}
	if math.IsNaN(q.Threshold) || math.IsInf(q.Threshold, 0) {
		return nil, utils.NewValidationError("threshold must be a finite number")
	}

	set, fp, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	lo, hi, err := window(set, q.Start, q.End)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s|exceedance|%d|%d|%s|%d|%s", fp.Key(), q.Start.Unix(), q.End.Unix(), q.Aggregate, q.Bins,
		decimal.NewFromFloat(q.Threshold).String())
	if cached, ok := cache.GetJSON[Exceedance](ctx, s.store, key); ok {
		return &cached, nil
	}

	values := make([]float64, set.NumSamples())
	for i, p := range set.Paths {
		values[i] = aggregate(p[lo:hi], q.Aggregate)
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	above := 0
	for _, v := range values {
		if v > q.Threshold {
			above++
		}
	}

	out := &Exceedance{
		Aggregate:   q.Aggregate,
		Start:       set.Timestamps[lo],
		End:         set.Timestamps[hi-1],
		Threshold:   q.Threshold,
		Probability: float64(above) / float64(len(values)),
		Mean:        stat.Mean(values, nil),
		Min:         sorted[0],
		Max:         sorted[len(sorted)-1],
		P10:         stat.Quantile(0.1, stat.Empirical, sorted, nil),
		P50:         stat.Quantile(0.5, stat.Empirical, sorted, nil),
		P90:         stat.Quantile(0.9, stat.Empirical, sorted, nil),
		Samples:     len(values),
		Bins:        histogram(values, q.Bins, q.Threshold),
	}

	if err := cache.SetJSON(ctx, s.store, key, out); err != nil {
		s.logger.WithError(err).Warn("Failed to cache exceedance")
	}
	return out, nil
}

func aggregate(values []float64, how string) float64 {
	if how == AggregateMax {
		m := math.Inf(-1)
		for _, v := range values {
			m = math.Max(m, v)
		}
		return m
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum
}

// histogram splits [min, max] into n equal-width bins with decimal edges.
func histogram(values []float64, n int, threshold float64) []Bin {
	lo, hi := values[0], values[0]
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi == lo {
		n = 1
	}

	dLo := decimal.NewFromFloat(lo)
	width := decimal.NewFromFloat(hi).Sub(dLo).Div(decimal.NewFromInt(int64(n)))
	bins := make([]Bin, n)
	for i := range bins {
		bins[i].Lower = dLo.Add(width.Mul(decimal.NewFromInt(int64(i)))).Round(binPrecision)
		bins[i].Upper = dLo.Add(width.Mul(decimal.NewFromInt(int64(i + 1)))).Round(binPrecision)
	}

	step := (hi - lo) / float64(n)
	for _, v := range values {
		idx := 0
		if step > 0 {
			idx = min(int((v-lo)/step), n-1)
		}
		bins[idx].Count++
		if v > threshold {
			bins[idx].CountAbove++
		}
	}
	return bins
}

// window returns the half-open index range of timestamps within [start, end].
func window(set *models.SampleSet, start, end time.Time) (int, int, error) {
	if end.Before(start) {
		return 0, 0, utils.NewValidationErrorf("start %s is after end %s", start.Format(time.DateOnly), end.Format(time.DateOnly))
	}
	ts := set.Timestamps
	lo := sort.Search(len(ts), func(i int) bool { return !ts[i].Before(start) })
	hi := sort.Search(len(ts), func(i int) bool { return ts[i].After(end) })
	if lo >= hi {
		return 0, 0, utils.NewValidationErrorf("no forecast data between %s and %s; available %s to %s",
			start.Format(time.DateTime), end.Format(time.DateTime),
			ts[0].Format(time.DateTime), ts[len(ts)-1].Format(time.DateTime))
	}
	return lo, hi, nil
}

// load returns the parsed samples, re-reading the file only when its
// fingerprint changed.
func (s *Service) load(ctx context.Context) (*models.SampleSet, cache.Fingerprint, error) {
	fp, err := cache.FingerprintOf(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, cache.Fingerprint{}, fmt.Errorf("%w: %s", ErrDataUnavailable, s.path)
		}
		return nil, cache.Fingerprint{}, fmt.Errorf("stat samples: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.samples != nil && s.fp.Equal(fp) {
		return s.samples, fp, nil
	}

	set, err := storage.ReadSamples(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, cache.Fingerprint{}, fmt.Errorf("%w: %s", ErrDataUnavailable, s.path)
		}
		return nil, cache.Fingerprint{}, err
	}

	if s.samples != nil {
		if err := s.store.DeletePrefix(ctx, s.fp.Key()+"|"); err != nil {
			s.logger.WithError(err).Warn("Failed to invalidate dashboard cache")
		}
	}
	s.fp = fp
	s.samples = set
	s.loads++

	s.logger.WithFields(logrus.Fields{
		"path":    s.path,
		"points":  len(set.Timestamps),
		"samples": set.NumSamples(),
		"size":    fp.Size,
	}).Info("Loaded forecast samples")

	if s.events != nil {
		s.events.LogBusinessEvent(SamplesLoadedEvent, map[string]interface{}{
			"path":    s.path,
			"points":  len(set.Timestamps),
			"samples": set.NumSamples(),
			"first":   set.Timestamps[0],
			"last":    set.Timestamps[len(set.Timestamps)-1],
			"reload":  s.loads > 1,
		})
	}

	return set, fp, nil
}
