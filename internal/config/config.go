package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"courtslot/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DegradedUnknown  = "unknown"
	DegradedSimulate = "simulate"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Backend    BackendConfig    `yaml:"backend"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Booking    BookingConfig    `yaml:"booking"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Catalogue  CatalogueConfig  `yaml:"catalogue"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

// BackendConfig points at the court/booking backend the coordinator talks to.
type BackendConfig struct {
	BaseURL         string          `yaml:"base_url"`
	APIKey          string          `yaml:"api_key"`
	APIExtra        string          `yaml:"api_extra"`
	TimeoutSeconds  int             `yaml:"timeout_seconds"`
	CacheTTLSeconds int             `yaml:"cache_ttl_seconds"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	Retry           RetryConfig     `yaml:"retry"`
}

func (b BackendConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

func (b BackendConfig) CacheTTL() time.Duration {
	return time.Duration(b.CacheTTLSeconds) * time.Second
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type RetryConfig struct {
	MaxRetries     int `yaml:"max_retries"`
	InitialDelayMs int `yaml:"initial_delay_ms"`
	MaxDelayMs     int `yaml:"max_delay_ms"`
}

type BookingConfig struct {
	HoldMinutes          int     `yaml:"hold_minutes"`
	FallbackWeekdayPrice float64 `yaml:"fallback_weekday_price"`
	FallbackWeekendPrice float64 `yaml:"fallback_weekend_price"`
	DegradedMode         string  `yaml:"degraded_mode"`
	SimulateSeed         int64   `yaml:"simulate_seed"`
	SessionTTLMinutes    int     `yaml:"session_ttl_minutes"`
	RecoverySweepSeconds int     `yaml:"recovery_sweep_seconds"`
	Timezone             string  `yaml:"timezone"`
}

func (b BookingConfig) HoldDuration() time.Duration {
	return time.Duration(b.HoldMinutes) * time.Minute
}

func (b BookingConfig) SessionTTL() time.Duration {
	return time.Duration(b.SessionTTLMinutes) * time.Minute
}

func (b BookingConfig) RecoverySweep() time.Duration {
	return time.Duration(b.RecoverySweepSeconds) * time.Second
}

// Location resolves the venue timezone used for "today" and past-hour checks.
func (b BookingConfig) Location() (*time.Location, error) {
	if b.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(b.Timezone)
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type APIConfig struct {
	HTTP      APIHTTPConfig   `yaml:"http"`
	GRPC      APIGRPCConfig   `yaml:"grpc"`
	Auth      APIAuthConfig   `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Port int `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled    bool         `yaml:"enabled"`
	Port       int          `yaml:"port"`
	Reflection bool         `yaml:"reflection"`
	TLS        APITLSConfig `yaml:"tls"`
}

type APITLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key  string `yaml:"key"`
	Name string `yaml:"name"`
}

// CatalogueConfig points at an optional venue catalogue used for display names.
type CatalogueConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Backend.BaseURL) == "" {
		return errors.New("backend base_url is required")
	}

	switch c.Booking.DegradedMode {
	case DegradedUnknown, DegradedSimulate:
	default:
		return fmt.Errorf("booking degraded_mode must be %q or %q, got %q", DegradedUnknown, DegradedSimulate, c.Booking.DegradedMode)
	}

	if c.Booking.HoldMinutes <= 0 {
		return errors.New("booking hold_minutes must be positive")
	}
	if c.Booking.FallbackWeekdayPrice <= 0 || c.Booking.FallbackWeekendPrice <= 0 {
		return errors.New("booking fallback prices must be positive")
	}
	if _, err := c.Booking.Location(); err != nil {
		return fmt.Errorf("booking timezone: %w", err)
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "courtslot"
	}
	if c.Backend.TimeoutSeconds == 0 {
		c.Backend.TimeoutSeconds = 10
	}
	if c.Backend.RateLimit.Burst == 0 {
		c.Backend.RateLimit.Burst = 10
	}
	if c.Backend.Retry.MaxRetries == 0 {
		c.Backend.Retry.MaxRetries = 2
	}
	if c.Backend.Retry.InitialDelayMs == 0 {
		c.Backend.Retry.InitialDelayMs = 200
	}
	if c.Backend.Retry.MaxDelayMs == 0 {
		c.Backend.Retry.MaxDelayMs = 2000
	}

	if c.Booking.HoldMinutes == 0 {
		c.Booking.HoldMinutes = int(models.HoldDuration / time.Minute)
	}
	if c.Booking.FallbackWeekdayPrice == 0 {
		c.Booking.FallbackWeekdayPrice = models.FallbackWeekdayPrice
	}
	if c.Booking.FallbackWeekendPrice == 0 {
		c.Booking.FallbackWeekendPrice = models.FallbackWeekendPrice
	}
	if c.Booking.DegradedMode == "" {
		c.Booking.DegradedMode = DegradedUnknown
	}
	if c.Booking.SessionTTLMinutes == 0 {
		c.Booking.SessionTTLMinutes = int(models.DefaultSessionTTL / time.Minute)
	}
	if c.Booking.RecoverySweepSeconds == 0 {
		c.Booking.RecoverySweepSeconds = int(models.DefaultRecoverySweep / time.Second)
	}

	if c.Database.Path == "" {
		c.Database.Path = "data/courtslot.db"
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
}
