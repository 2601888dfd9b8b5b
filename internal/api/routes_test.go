package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/sts/internal/api/handlers"
	"github.com/irfndi/sts/internal/cache"
	"github.com/irfndi/sts/internal/dashboard"
	"github.com/irfndi/sts/internal/database"
	"github.com/irfndi/sts/internal/logging"
	"github.com/irfndi/sts/internal/models"
	"github.com/irfndi/sts/internal/storage"
)

// MockHealthChecker mocks a dependency health check
type MockHealthChecker struct {
	mock.Mock
}

func (m *MockHealthChecker) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockDashboard mocks the forecast explorer
type MockDashboard struct {
	mock.Mock
}

func (m *MockDashboard) Range(ctx context.Context) (*dashboard.Range, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dashboard.Range), args.Error(1)
}

func (m *MockDashboard) MeanLine(ctx context.Context, q dashboard.MeanQuery) (*dashboard.MeanLine, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dashboard.MeanLine), args.Error(1)
}

func (m *MockDashboard) Exceedance(ctx context.Context, q dashboard.ExceedanceQuery) (*dashboard.Exceedance, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dashboard.Exceedance), args.Error(1)
}

var firstDay = time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)

// writeSamples writes 3 days of hourly data where sample i is always 10*(i+1).
func writeSamples(t *testing.T, dir string) string {
	t.Helper()
	const hours, n = 72, 5
	set := &models.SampleSet{Timestamps: make([]time.Time, hours), Paths: make([][]float64, n)}
	for j := range set.Timestamps {
		set.Timestamps[j] = firstDay.Add(time.Duration(j) * time.Hour)
	}
	for i := range set.Paths {
		set.Paths[i] = make([]float64, hours)
		for j := range set.Paths[i] {
			set.Paths[i][j] = 10 * float64(i+1)
		}
	}
	path := filepath.Join(dir, "forecast.csv")
	require.NoError(t, storage.PersistSamples(set, path))
	return path
}

func setupRouter(t *testing.T, samplesPath string, checks map[string]handlers.HealthChecker) (*gin.Engine, *cache.MemoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	store := cache.NewMemoryStore(time.Minute, nil)

	router := gin.New()
	SetupRoutes(router, Dependencies{
		Dashboard:    dashboard.NewService(samplesPath, store, logger),
		CacheStats:   store,
		CacheBackend: "memory",
		SamplesPath:  samplesPath,
		HealthChecks: checks,
	})
	return router, store
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func get(t *testing.T, router *gin.Engine, url string) (int, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", url, nil))
	var body envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return w.Code, body
}

func TestHealth(t *testing.T) {
	dir := t.TempDir()
	path := writeSamples(t, dir)

	redis := &MockHealthChecker{}
	redis.On("HealthCheck", mock.Anything).Return(nil)
	router, _ := setupRouter(t, path, map[string]handlers.HealthChecker{"redis": redis})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp handlers.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, Version, resp.Version)
	assert.Equal(t, "healthy", resp.Services["samples"])
	assert.Equal(t, "healthy", resp.Services["redis"])
	redis.AssertExpectations(t)
}

func TestHealth_Degraded(t *testing.T) {
	router, _ := setupRouter(t, filepath.Join(t.TempDir(), "missing.csv"), nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"degraded"`)
}

func TestHealth_UnhealthyDependency(t *testing.T) {
	path := writeSamples(t, t.TempDir())
	db := &MockHealthChecker{}
	db.On("HealthCheck", mock.Anything).Return(errors.New("connection refused"))
	router, _ := setupRouter(t, path, map[string]handlers.HealthChecker{"database": db, "redis": nil})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp handlers.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "unhealthy: connection refused", resp.Services["database"])
	assert.NotContains(t, resp.Services, "redis")
}

func TestLiveness(t *testing.T) {
	router, _ := setupRouter(t, filepath.Join(t.TempDir(), "missing.csv"), nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/live", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "alive")
}

func TestForecastRange(t *testing.T) {
	router, _ := setupRouter(t, writeSamples(t, t.TempDir()), nil)

	code, body := get(t, router, "/api/v1/forecast/range")
	require.Equal(t, http.StatusOK, code)
	assert.True(t, body.Success)

	var r dashboard.Range
	require.NoError(t, json.Unmarshal(body.Data, &r))
	assert.Equal(t, firstDay, r.Start)
	assert.Equal(t, firstDay.Add(71*time.Hour), r.End)
	assert.Equal(t, 5, r.Samples)
	assert.Equal(t, 72, r.Points)
}

func TestForecastMean(t *testing.T) {
	router, _ := setupRouter(t, writeSamples(t, t.TempDir()), nil)

	code, body := get(t, router, "/api/v1/forecast/mean?start=2019-01-02&end=2019-01-02&samples=2&rolling=6")
	require.Equal(t, http.StatusOK, code, body.Error)

	var line dashboard.MeanLine
	require.NoError(t, json.Unmarshal(body.Data, &line))
	require.Len(t, line.Timestamps, 24, "end date covers the whole day")
	assert.Equal(t, firstDay.Add(24*time.Hour), line.Timestamps[0])
	assert.InDelta(t, 30.0, line.Mean[0], 1e-9)
	assert.Len(t, line.Samples, 2)
	assert.Len(t, line.Rolling, 19)
}

func TestForecastMean_DefaultsToFullRange(t *testing.T) {
	router, _ := setupRouter(t, writeSamples(t, t.TempDir()), nil)

	code, body := get(t, router, "/api/v1/forecast/mean")
	require.Equal(t, http.StatusOK, code, body.Error)

	var line dashboard.MeanLine
	require.NoError(t, json.Unmarshal(body.Data, &line))
	assert.Len(t, line.Timestamps, 72)
	assert.Len(t, line.Samples, 5)
}

func TestForecastExceedance(t *testing.T) {
	router, store := setupRouter(t, writeSamples(t, t.TempDir()), nil)

	// per-sample daily sums are 240, 480, 720, 960, 1200
	url := "/api/v1/forecast/exceedance?start=2019-01-01&end=2019-01-01&threshold=720&bins=5"
	code, body := get(t, router, url)
	require.Equal(t, http.StatusOK, code, body.Error)

	var ex dashboard.Exceedance
	require.NoError(t, json.Unmarshal(body.Data, &ex))
	assert.InDelta(t, 0.4, ex.Probability, 1e-12)
	assert.Equal(t, dashboard.AggregateSum, ex.Aggregate)
	assert.Len(t, ex.Bins, 5)
	assert.InDelta(t, 240.0, ex.Min, 1e-9)
	assert.InDelta(t, 1200.0, ex.Max, 1e-9)

	code, _ = get(t, router, url)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, int64(1), store.Stats().Hits)

	code, body = get(t, router, "/api/v1/cache/stats")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body.Data), `"backend":"memory"`)
	assert.Contains(t, string(body.Data), `"hits":1`)
}

func TestForecastExceedance_Max(t *testing.T) {
	router, _ := setupRouter(t, writeSamples(t, t.TempDir()), nil)

	code, body := get(t, router, "/api/v1/forecast/exceedance?threshold=25&aggregate=max")
	require.Equal(t, http.StatusOK, code, body.Error)

	var ex dashboard.Exceedance
	require.NoError(t, json.Unmarshal(body.Data, &ex))
	assert.InDelta(t, 0.6, ex.Probability, 1e-12)
}

func TestForecastErrors(t *testing.T) {
	router, _ := setupRouter(t, writeSamples(t, t.TempDir()), nil)

	tests := []struct {
		name string
		url  string
		code int
	}{
		{"bad start", "/api/v1/forecast/mean?start=01/02/2019&end=2019-01-02", http.StatusBadRequest},
		{"bad end", "/api/v1/forecast/mean?start=2019-01-02&end=tomorrow", http.StatusBadRequest},
		{"start after end", "/api/v1/forecast/mean?start=2019-01-03&end=2019-01-01", http.StatusBadRequest},
		{"outside data", "/api/v1/forecast/mean?start=2020-01-01&end=2020-01-02", http.StatusBadRequest},
		{"bad samples", "/api/v1/forecast/mean?samples=ten", http.StatusBadRequest},
		{"missing threshold", "/api/v1/forecast/exceedance", http.StatusBadRequest},
		{"bad threshold", "/api/v1/forecast/exceedance?threshold=lots", http.StatusBadRequest},
		{"bad aggregate", "/api/v1/forecast/exceedance?threshold=1&aggregate=median", http.StatusBadRequest},
		{"too many bins", "/api/v1/forecast/exceedance?threshold=1&bins=1000", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := get(t, router, tt.url)
			assert.Equal(t, tt.code, code)
			assert.False(t, body.Success)
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestForecast_MissingSamplesIsUnavailable(t *testing.T) {
	router, _ := setupRouter(t, filepath.Join(t.TempDir(), "missing.csv"), nil)

	for _, url := range []string{
		"/api/v1/forecast/range",
		"/api/v1/forecast/mean?start=2019-01-01&end=2019-01-01",
		"/api/v1/forecast/exceedance?threshold=1",
	} {
		code, body := get(t, router, url)
		assert.Equal(t, http.StatusServiceUnavailable, code, url)
		assert.False(t, body.Success)
	}
}

func TestForecast_InternalError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	d := &MockDashboard{}
	d.On("Range", mock.Anything).Return(nil, errors.New("disk on fire"))

	var logs bytes.Buffer
	router := gin.New()
	SetupRoutes(router, Dependencies{
		Dashboard:   d,
		SamplesPath: "unused.csv",
		Logger:      logging.NewStandardLoggerWithWriter(&logs, "info", "test"),
	})

	code, body := get(t, router, "/api/v1/forecast/range")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "disk on fire", body.Error)
	assert.Contains(t, logs.String(), `"operation":"range"`)
	assert.Contains(t, logs.String(), `"error":"disk on fire"`)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/cache/stats", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	d.AssertExpectations(t)
}

func setupStoredRouter(t *testing.T) (*gin.Engine, pgxmock.PgxPoolIface) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	router := gin.New()
	SetupRoutes(router, Dependencies{
		Dashboard:   &MockDashboard{},
		SamplesPath: "unused.csv",
		Stored:      database.NewForecastRepository(mockPool),
		ModelName:   "prophet_complex",
	})
	return router, mockPool
}

func runRows(model string) *pgxmock.Rows {
	last := firstDay.Add(71 * time.Hour)
	return pgxmock.NewRows([]string{"run_id", "count", "min", "max", "created_at"}).
		AddRow("run-"+model, int64(72), firstDay, last, last)
}

func TestStoredForecast_Latest(t *testing.T) {
	router, mockPool := setupStoredRouter(t)

	mockPool.ExpectQuery("SELECT run_id").
		WithArgs("prophet_complex").
		WillReturnRows(runRows("prophet_complex"))
	mockPool.ExpectQuery("SELECT ds, yhat, yhat_lower, yhat_upper").
		WithArgs("prophet_complex", firstDay, firstDay.Add(71*time.Hour)).
		WillReturnRows(pgxmock.NewRows([]string{"ds", "yhat", "yhat_lower", "yhat_upper"}).
			AddRow(firstDay, 25000.0, 24000.0, 26000.0).
			AddRow(firstDay.Add(time.Hour), 25100.0, 24100.0, 26100.0))

	code, body := get(t, router, "/api/v1/forecast/latest")
	require.Equal(t, http.StatusOK, code, body.Error)

	var stored handlers.StoredForecast
	require.NoError(t, json.Unmarshal(body.Data, &stored))
	assert.Equal(t, "prophet_complex", stored.Model)
	assert.Equal(t, "run-prophet_complex", stored.Run.RunID)
	assert.Equal(t, int64(72), stored.Run.Rows)
	require.Len(t, stored.Records, 2)
	assert.Equal(t, 25100.0, stored.Records[1].Yhat)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestStoredForecast_LatestWithModelAndDates(t *testing.T) {
	router, mockPool := setupStoredRouter(t)

	mockPool.ExpectQuery("SELECT run_id").
		WithArgs("other").
		WillReturnRows(runRows("other"))
	mockPool.ExpectQuery("SELECT ds, yhat, yhat_lower, yhat_upper").
		WithArgs("other", firstDay.AddDate(0, 0, 1), firstDay.AddDate(0, 0, 2).Add(-time.Nanosecond)).
		WillReturnRows(pgxmock.NewRows([]string{"ds", "yhat", "yhat_lower", "yhat_upper"}))

	code, body := get(t, router, "/api/v1/forecast/latest?model=other&start=2019-01-02&end=2019-01-02")
	require.Equal(t, http.StatusOK, code, body.Error)

	var stored handlers.StoredForecast
	require.NoError(t, json.Unmarshal(body.Data, &stored))
	assert.Equal(t, "other", stored.Model)
	assert.Empty(t, stored.Records)
	assert.NotNil(t, stored.Records)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestStoredForecast_Errors(t *testing.T) {
	t.Run("no stored run", func(t *testing.T) {
		router, mockPool := setupStoredRouter(t)
		mockPool.ExpectQuery("SELECT run_id").
			WithArgs("prophet_complex").
			WillReturnError(pgx.ErrNoRows)

		code, body := get(t, router, "/api/v1/forecast/latest")
		assert.Equal(t, http.StatusNotFound, code)
		assert.False(t, body.Success)
	})

	t.Run("bad date", func(t *testing.T) {
		router, mockPool := setupStoredRouter(t)
		mockPool.ExpectQuery("SELECT run_id").
			WithArgs("prophet_complex").
			WillReturnRows(runRows("prophet_complex"))

		code, _ := get(t, router, "/api/v1/forecast/latest?start=01/02/2019")
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("start after end", func(t *testing.T) {
		router, mockPool := setupStoredRouter(t)
		mockPool.ExpectQuery("SELECT run_id").
			WithArgs("prophet_complex").
			WillReturnRows(runRows("prophet_complex"))

		code, _ := get(t, router, "/api/v1/forecast/latest?start=2019-01-03&end=2019-01-01")
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("query failure", func(t *testing.T) {
		router, mockPool := setupStoredRouter(t)
		mockPool.ExpectQuery("SELECT run_id").
			WithArgs("prophet_complex").
			WillReturnError(errors.New("connection reset"))

		code, body := get(t, router, "/api/v1/forecast/latest")
		assert.Equal(t, http.StatusInternalServerError, code)
		assert.Contains(t, body.Error, "connection reset")
	})
}
