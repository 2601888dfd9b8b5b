package forecaster

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strconv"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/irfndi/sts/internal/models"
	"github.com/irfndi/sts/internal/utils"
)

const (
	yearlyFourierOrder = 10
	weeklyFourierOrder = 3
	// minPenalty keeps the normal equations positive definite for unpenalized terms.
	minPenalty = 1e-9
)

// AdditiveEstimator fits trend + seasonality by penalized least squares.
type AdditiveEstimator struct {
	now func() time.Time
}

// NewAdditiveEstimator creates the default estimator.
func NewAdditiveEstimator() *AdditiveEstimator {
	return &AdditiveEstimator{now: time.Now}
}

type fittedModel struct {
	spec          ModelSpec
	seasonalities []Seasonality
	history       []time.Time
	start         time.Time
	tScale        float64
	yScale        float64
	changepoints  []float64
	beta          []float64
	sigma         float64
	meanAbsDelta  float64
	conditions    []string
}

func (m *fittedModel) Name() string { return m.spec.Name }

func (m *fittedModel) HistoryTimestamps() []time.Time {
	out := make([]time.Time, len(m.history))
	copy(out, m.history)
	return out
}

func (m *fittedModel) Conditions() []string {
	out := make([]string, len(m.conditions))
	copy(out, m.conditions)
	return out
}

// Seasonalities returns the components that were actually fitted.
func (m *fittedModel) Seasonalities() []Seasonality {
	out := make([]Seasonality, len(m.seasonalities))
	copy(out, m.seasonalities)
	return out
}

// ResidualSigma is the in-sample residual standard deviation in demand units.
func (m *fittedModel) ResidualSigma() float64 { return m.sigma }

// Fit estimates the model in one pass over the full frame.
// All failures are returned as fit errors; nothing is silently dropped.
func (e *AdditiveEstimator) Fit(ctx context.Context, spec ModelSpec, frame Frame) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, utils.NewFitError("fit cancelled: %w", err)
	}
	n := frame.Len()
	if n != len(frame.Y) {
		return nil, utils.NewFitError("frame has %d timestamps but %d values", n, len(frame.Y))
	}
	if n < 2 {
		return nil, utils.NewFitError("need at least 2 rows to fit, got %d", n)
	}
	for i := 1; i < n; i++ {
		if !frame.DS[i].After(frame.DS[i-1]) {
			return nil, utils.NewFitError("timestamps must be strictly increasing at row %d", i)
		}
	}
	for i, y := range frame.Y {
		if math.IsNaN(y) || math.IsInf(y, 0) {
			return nil, utils.NewFitError("non-finite value at row %d", i)
		}
	}
	if spec.IntervalWidth <= 0 || spec.IntervalWidth >= 1 {
		return nil, utils.NewFitError("interval width must be in (0,1), got %v", spec.IntervalWidth)
	}

	span := frame.DS[n-1].Sub(frame.DS[0])
	seasonalities, err := resolveSeasonalities(spec, span)
	if err != nil {
		return nil, err
	}

	var conditions []string
	for _, s := range seasonalities {
		if s.Condition == "" {
			continue
		}
		col, ok := frame.Conditions[s.Condition]
		if !ok {
			return nil, utils.NewFitError("seasonality %s: condition column %q missing", s.Name, s.Condition)
		}
		if len(col) != n {
			return nil, utils.NewFitError("condition column %q has %d rows, want %d", s.Condition, len(col), n)
		}
		if !anyTrue(col) {
			return nil, utils.NewFitError("seasonality %s: condition column %q is false on every row", s.Name, s.Condition)
		}
		conditions = append(conditions, s.Condition)
	}
	sort.Strings(conditions)
	conditions = dedupe(conditions)

	m := &fittedModel{
		spec:          spec,
		seasonalities: seasonalities,
		history:       append([]time.Time(nil), frame.DS...),
		start:         frame.DS[0],
		tScale:        span.Seconds(),
		yScale:        absMax(frame.Y),
		conditions:    conditions,
	}
	m.changepoints = placeChangepoints(frame.DS, spec.Changepoints, spec.ChangepointRange, m.scaledTime)

	X, penalty := m.design(frame)
	y := mat.NewVecDense(n, nil)
	for i, v := range frame.Y {
		y.SetVec(i, v/m.yScale)
	}

	beta, err := ridgeSolve(X, y, penalty)
	if err != nil {
		return nil, utils.NewFitError("solve normal equations: %w", err)
	}
	m.beta = beta

	var fitted mat.VecDense
	fitted.MulVec(X, mat.NewVecDense(len(beta), beta))
	residuals := make([]float64, n)
	for i := range residuals {
		residuals[i] = frame.Y[i] - fitted.AtVec(i)*m.yScale
	}
	m.sigma = stat.StdDev(residuals, nil)
	if math.IsNaN(m.sigma) {
		m.sigma = 0
	}

	if k := len(m.changepoints); k > 0 {
		sum := 0.0
		for _, d := range beta[2 : 2+k] {
			sum += math.Abs(d)
		}
		m.meanAbsDelta = sum / float64(k)
	}

	return m, nil
}

// Predict evaluates the model on frame. Rows after the end of history carry
// wider intervals as trend uncertainty accumulates.
func (e *AdditiveEstimator) Predict(ctx context.Context, h Handle, frame Frame) (*models.Forecast, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, ok := h.(*fittedModel)
	if !ok {
		return nil, fmt.Errorf("handle %T was not produced by AdditiveEstimator", h)
	}
	n := frame.Len()
	for _, c := range m.conditions {
		col, ok := frame.Conditions[c]
		if !ok {
			return nil, fmt.Errorf("prediction frame is missing condition column %q", c)
		}
		if len(col) != n {
			return nil, fmt.Errorf("condition column %q has %d rows, want %d", c, len(col), n)
		}
	}

	forecast := &models.Forecast{
		Records:      make([]models.ForecastRecord, n),
		GeneratedAt:  e.now().UTC(),
		ModelName:    m.spec.Name,
		IntervalSize: m.spec.IntervalWidth,
	}
	if n == 0 {
		return forecast, nil
	}

	X, _ := m.design(frame)
	var yhat mat.VecDense
	yhat.MulVec(X, mat.NewVecDense(len(m.beta), m.beta))

	z := distuv.UnitNormal.Quantile(0.5 + m.spec.IntervalWidth/2)
	last := m.history[len(m.history)-1]
	for i, ts := range frame.DS {
		point := yhat.AtVec(i) * m.yScale
		sd := m.predictiveSD(ts)
		forecast.Records[i] = models.ForecastRecord{
			Timestamp: ts,
			Yhat:      point,
			YhatLower: point - z*sd,
			YhatUpper: point + z*sd,
		}
		if ts.After(last) {
			forecast.HorizonRows++
		} else {
			forecast.HistoryRows++
		}
	}

	return forecast, nil
}

// Sample draws n Gaussian paths around the point forecast. The same seed
// always yields the same paths.
func (e *AdditiveEstimator) Sample(ctx context.Context, h Handle, frame Frame, n int, seed uint64) (*models.SampleSet, error) {
	if n <= 0 {
		return nil, fmt.Errorf("sample count must be positive, got %d", n)
	}
	forecast, err := e.Predict(ctx, h, frame)
	if err != nil {
		return nil, err
	}
	m := h.(*fittedModel)

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	set := &models.SampleSet{
		Timestamps: forecast.Timestamps(),
		Names:      make([]string, n),
		Paths:      make([][]float64, n),
	}
	sds := make([]float64, forecast.Len())
	for j, r := range forecast.Records {
		sds[j] = m.predictiveSD(r.Timestamp)
	}
	for i := 0; i < n; i++ {
		if i%10 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		set.Names[i] = "sample_" + strconv.Itoa(i)
		path := make([]float64, forecast.Len())
		for j, r := range forecast.Records {
			path[j] = r.Yhat + sds[j]*rng.NormFloat64()
		}
		set.Paths[i] = path
	}
	return set, nil
}

// predictiveSD combines residual noise with trend drift past the end of history.
// Future changepoints arrive at the fitted rate with the mean fitted magnitude;
// their accumulated effect grows like (t-1)^1.5.
func (m *fittedModel) predictiveSD(ts time.Time) float64 {
	t := m.scaledTime(ts)
	if t <= 1 || m.meanAbsDelta == 0 || m.spec.ChangepointRange <= 0 {
		return m.sigma
	}
	ahead := t - 1
	rate := float64(len(m.changepoints)) / m.spec.ChangepointRange
	trendSD := m.yScale * m.meanAbsDelta * ahead * math.Sqrt(rate*ahead/3)
	return math.Sqrt(m.sigma*m.sigma + trendSD*trendSD)
}

func (m *fittedModel) scaledTime(ts time.Time) float64 {
	if m.tScale == 0 {
		return 0
	}
	return ts.Sub(m.start).Seconds() / m.tScale
}

// design builds the regression matrix and the per-column ridge penalty.
// Columns: intercept, slope, one hinge per changepoint, then sin/cos pairs per seasonality.
func (m *fittedModel) design(frame Frame) (*mat.Dense, []float64) {
	n := frame.Len()
	p := 2 + len(m.changepoints)
	for _, s := range m.seasonalities {
		p += 2 * s.FourierOrder
	}

	X := mat.NewDense(n, p, nil)
	penalty := make([]float64, p)
	penalty[0], penalty[1] = minPenalty, minPenalty
	for j := range m.changepoints {
		penalty[2+j] = 1 / (m.spec.ChangepointPriorScale * m.spec.ChangepointPriorScale)
	}

	for i, ts := range frame.DS {
		t := m.scaledTime(ts)
		X.Set(i, 0, 1)
		X.Set(i, 1, t)
		for j, cp := range m.changepoints {
			if t > cp {
				X.Set(i, 2+j, t-cp)
			}
		}
	}

	col := 2 + len(m.changepoints)
	for _, s := range m.seasonalities {
		gate := frame.Conditions[s.Condition]
		period := s.Period.Seconds()
		prior := s.PriorScale
		if prior <= 0 {
			prior = m.spec.SeasonalityPriorScale
		}
		for k := 0; k < 2*s.FourierOrder; k++ {
			penalty[col+k] = 1 / (prior * prior)
		}
		for i, ts := range frame.DS {
			if s.Condition != "" && !gate[i] {
				continue
			}
			x := 2 * math.Pi * float64(ts.Unix()) / period
			for k := 1; k <= s.FourierOrder; k++ {
				X.Set(i, col+2*(k-1), math.Sin(float64(k)*x))
				X.Set(i, col+2*(k-1)+1, math.Cos(float64(k)*x))
			}
		}
		col += 2 * s.FourierOrder
	}

	return X, penalty
}

// resolveSeasonalities expands the yearly/weekly toggles and checks every
// component has at least two full cycles of history.
func resolveSeasonalities(spec ModelSpec, span time.Duration) ([]Seasonality, error) {
	var out []Seasonality
	builtin := []struct {
		toggle Toggle
		s      Seasonality
	}{
		{spec.Yearly, Seasonality{Name: "yearly", Period: Year, FourierOrder: yearlyFourierOrder}},
		{spec.Weekly, Seasonality{Name: "weekly", Period: Week, FourierOrder: weeklyFourierOrder}},
	}
	for _, b := range builtin {
		switch b.toggle {
		case ToggleOff:
			continue
		case ToggleOn:
			if span < 2*b.s.Period {
				return nil, utils.NewFitError("%s seasonality needs two full cycles (%s) of history, got %s", b.s.Name, 2*b.s.Period, span)
			}
			out = append(out, b.s)
		default:
			if span >= 2*b.s.Period {
				out = append(out, b.s)
			}
		}
	}

	for _, s := range spec.Seasonalities {
		if s.Period <= 0 || s.FourierOrder < 1 {
			return nil, utils.NewFitError("seasonality %s: period and fourier order must be positive", s.Name)
		}
		if span < 2*s.Period {
			return nil, utils.NewFitError("seasonality %s needs two full cycles (%s) of history, got %s", s.Name, 2*s.Period, span)
		}
		out = append(out, s)
	}
	return out, nil
}

// placeChangepoints spreads k candidate changepoints uniformly over the first
// changepointRange share of the history rows, excluding the first row.
func placeChangepoints(ds []time.Time, k int, changepointRange float64, scale func(time.Time) float64) []float64 {
	histSize := int(math.Floor(float64(len(ds)) * changepointRange))
	if k <= 0 || histSize < 2 {
		return nil
	}
	if k > histSize-1 {
		k = histSize - 1
	}
	out := make([]float64, 0, k)
	for j := 1; j <= k; j++ {
		idx := int(math.Round(float64(j) * float64(histSize-1) / float64(k)))
		out = append(out, scale(ds[idx]))
	}
	return out
}

// ridgeSolve solves (X'X + diag(penalty)) beta = X'y by Cholesky, falling back
// to a general solve when the system is not numerically positive definite.
func ridgeSolve(X *mat.Dense, y *mat.VecDense, penalty []float64) ([]float64, error) {
	var xtx mat.Dense
	xtx.Mul(X.T(), X)
	p, _ := xtx.Dims()
	for i := 0; i < p; i++ {
		xtx.Set(i, i, xtx.At(i, i)+penalty[i])
	}

	sym := mat.NewSymDense(p, nil)
	for i := 0; i < p; i++ {
		for j := 0; j <= i; j++ {
			sym.SetSym(i, j, xtx.At(i, j))
		}
	}

	var xty mat.VecDense
	xty.MulVec(X.T(), y)

	var beta mat.VecDense
	var chol mat.Cholesky
	if ok := chol.Factorize(sym); ok {
		if err := chol.SolveVecTo(&beta, &xty); err == nil {
			return vecToSlice(&beta), nil
		}
	}

	if err := beta.SolveVec(&xtx, &xty); err != nil {
		return nil, err
	}
	out := vecToSlice(&beta)
	for _, v := range out {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("solution is not finite")
		}
	}
	return out, nil
}

func vecToSlice(v *mat.VecDense) []float64 {
	out := make([]float64, v.Len())
	for i := range out {
		out[i] = v.AtVec(i)
	}
	return out
}

func absMax(ys []float64) float64 {
	m := 0.0
	for _, y := range ys {
		if a := math.Abs(y); a > m {
			m = a
		}
	}
	if m == 0 {
		return 1
	}
	return m
}

func anyTrue(col []bool) bool {
	for _, v := range col {
		if v {
			return true
		}
	}
	return false
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}
