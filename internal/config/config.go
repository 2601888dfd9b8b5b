package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Environment string          `mapstructure:"environment"`
	LogLevel    string          `mapstructure:"log_level"`
	Data        DataConfig      `mapstructure:"data"`
	Forecast    ForecastConfig  `mapstructure:"forecast"`
	Model       ModelConfig     `mapstructure:"model"`
	Server      ServerConfig    `mapstructure:"server"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Cache       CacheConfig     `mapstructure:"cache"`
	Telemetry   TelemetryConfig `mapstructure:"telemetry"`
}

// DataConfig holds the relative paths of every file the toolkit reads or writes.
type DataConfig struct {
	DemandPath   string `mapstructure:"demand_path"`
	DemandColumn string `mapstructure:"demand_column"`
	ForecastPath string `mapstructure:"forecast_path"`
	SamplesPath  string `mapstructure:"samples_path"`
}

type ForecastConfig struct {
	Periods   int    `mapstructure:"periods"`
	Frequency string `mapstructure:"frequency"`
	Samples   int    `mapstructure:"samples"`
	Seed      uint64 `mapstructure:"seed"`
	ModelName string `mapstructure:"model_name"`
}

// Step returns the parsed forecast frequency.
func (f ForecastConfig) Step() time.Duration {
	d, err := time.ParseDuration(f.Frequency)
	if err != nil {
		return time.Hour
	}
	return d
}

type ModelConfig struct {
	Changepoints          int     `mapstructure:"changepoints"`
	ChangepointRange      float64 `mapstructure:"changepoint_range"`
	ChangepointPriorScale float64 `mapstructure:"changepoint_prior_scale"`
	SeasonalityPriorScale float64 `mapstructure:"seasonality_prior_scale"`
	YearlySeasonality     string  `mapstructure:"yearly_seasonality"`
	WeeklySeasonality     string  `mapstructure:"weekly_seasonality"`
	DailyFourierOrder     int     `mapstructure:"daily_fourier_order"`
	IntervalWidth         float64 `mapstructure:"interval_width"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	// DatabaseURL takes precedence over the individual fields when set.
	DatabaseURL string `mapstructure:"database_url"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type CacheConfig struct {
	Backend string `mapstructure:"backend"`
	TTL     string `mapstructure:"ttl"`
}

// TTLDuration returns the parsed cache TTL.
func (c CacheConfig) TTLDuration() time.Duration {
	d, err := time.ParseDuration(c.TTL)
	if err != nil {
		return 10 * time.Minute
	}
	return d
}

type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	// TraceFile receives stdout-exported spans; empty means stdout.
	TraceFile string `mapstructure:"trace_file"`
}

const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

func Load() (*Config, error) {
	return LoadFrom("./configs", ".")
}

// LoadFrom reads config.yaml from the first matching search path, then applies
// defaults and environment overrides.
func LoadFrom(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Config file not found, use defaults and environment variables
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Environment = strings.ToLower(config.Environment)
	config.Cache.Backend = strings.ToLower(config.Cache.Backend)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Forecast.Periods < 0 {
		return fmt.Errorf("forecast.periods must be >= 0, got %d", c.Forecast.Periods)
	}
	step, err := time.ParseDuration(c.Forecast.Frequency)
	if err != nil {
		return fmt.Errorf("invalid forecast frequency: %w", err)
	}
	if step <= 0 {
		return fmt.Errorf("forecast.frequency must be positive, got %s", c.Forecast.Frequency)
	}
	if c.Forecast.Samples < 0 {
		return fmt.Errorf("forecast.samples must be >= 0, got %d", c.Forecast.Samples)
	}
	if c.Model.IntervalWidth <= 0 || c.Model.IntervalWidth >= 1 {
		return fmt.Errorf("model.interval_width must be in (0,1), got %v", c.Model.IntervalWidth)
	}
	if c.Model.ChangepointRange <= 0 || c.Model.ChangepointRange > 1 {
		return fmt.Errorf("model.changepoint_range must be in (0,1], got %v", c.Model.ChangepointRange)
	}
	if c.Model.Changepoints < 0 {
		return errors.New("model.changepoints must be >= 0")
	}
	if c.Model.DailyFourierOrder < 1 {
		return fmt.Errorf("model.daily_fourier_order must be >= 1, got %d", c.Model.DailyFourierOrder)
	}
	for key, val := range map[string]string{
		"model.yearly_seasonality": c.Model.YearlySeasonality,
		"model.weekly_seasonality": c.Model.WeeklySeasonality,
	} {
		switch strings.ToLower(val) {
		case "auto", "true", "false":
		default:
			return fmt.Errorf("%s must be auto, true or false, got %q", key, val)
		}
	}
	switch c.Cache.Backend {
	case CacheBackendMemory, CacheBackendRedis:
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	if _, err := time.ParseDuration(c.Cache.TTL); err != nil {
		return fmt.Errorf("invalid cache ttl: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Environment
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	// Data files
	v.SetDefault("data.demand_path", "data/california_demand.csv")
	v.SetDefault("data.demand_column", "y")
	v.SetDefault("data.forecast_path", "data/forecasts/prophet_complex.csv")
	v.SetDefault("data.samples_path", "data/forecast.csv")

	// Forecast horizon: one year of hourly steps
	v.SetDefault("forecast.periods", 8760)
	v.SetDefault("forecast.frequency", "1h")
	v.SetDefault("forecast.samples", 0)
	v.SetDefault("forecast.seed", 42)
	v.SetDefault("forecast.model_name", "prophet_complex")

	// Model
	v.SetDefault("model.changepoints", 25)
	v.SetDefault("model.changepoint_range", 0.8)
	v.SetDefault("model.changepoint_prior_scale", 0.05)
	v.SetDefault("model.seasonality_prior_scale", 10.0)
	v.SetDefault("model.yearly_seasonality", "auto")
	v.SetDefault("model.weekly_seasonality", "auto")
	v.SetDefault("model.daily_fourier_order", 4)
	v.SetDefault("model.interval_width", 0.8)

	// Server
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	// Database
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "sts")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.database_url", "")

	// Redis
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Cache
	v.SetDefault("cache.backend", CacheBackendMemory)
	v.SetDefault("cache.ttl", "10m")

	// Telemetry
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "sts")
	v.SetDefault("telemetry.trace_file", "")
}
