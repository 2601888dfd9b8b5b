package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/sts/internal/api"
	"github.com/irfndi/sts/internal/cache"
	"github.com/irfndi/sts/internal/config"
	"github.com/irfndi/sts/internal/logging"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFrom(t.TempDir())
	require.NoError(t, err)
	cfg.LogLevel = "error"
	return cfg
}

func TestBuildStore_Memory(t *testing.T) {
	cfg := testConfig(t)

	store, client, err := buildStore(cfg, nil)
	require.NoError(t, err)
	assert.Nil(t, client)
	assert.IsType(t, &cache.MemoryStore{}, store)
}

func TestBuildStore_Redis(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	cfg := testConfig(t)
	cfg.Cache.Backend = config.CacheBackendRedis
	cfg.Redis.Host = s.Host()
	port, err := strconv.Atoi(s.Port())
	require.NoError(t, err)
	cfg.Redis.Port = port

	var buf bytes.Buffer
	logger := logging.NewStandardLoggerWithWriter(&buf, "debug", "test")

	store, client, err := buildStore(cfg, logger)
	require.NoError(t, err)
	require.NotNil(t, client)
	defer client.Close()

	assert.IsType(t, &cache.RedisStore{}, store)
	store.Set(t.Context(), "k", []byte(`1`))
	assert.True(t, s.Exists(cache.DefaultRedisPrefix+"k"))
	assert.Contains(t, buf.String(), "Cache operation")
}

func TestBuildStore_RedisUnavailable(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Backend = config.CacheBackendRedis
	cfg.Redis.Host = "127.0.0.1"
	cfg.Redis.Port = 1

	_, _, err := buildStore(cfg, nil)
	assert.Error(t, err)
}

func TestNewRouter(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000"}
	store := cache.NewMemoryStore(0, nil)
	var buf bytes.Buffer
	logger := logging.NewStandardLoggerWithWriter(&buf, "info", "test")

	router := newRouter(cfg, logger, api.Dependencies{
		CacheStats:   store,
		CacheBackend: "memory",
		SamplesPath:  filepath.Join(t.TempDir(), "missing.csv"),
	})

	req := httptest.NewRequest("GET", "/live", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/cache/stats", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"backend":"memory"`)

	assert.Contains(t, buf.String(), `"component":"http"`)
	assert.Contains(t, buf.String(), `"path":"/api/v1/cache/stats"`)

	// no database configured
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/forecast/latest", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
