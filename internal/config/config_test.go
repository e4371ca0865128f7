package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	t.Setenv("COURTSLOT_BACKEND", "http://backend.local")

	yamlContent := `
backend:
  base_url: "${COURTSLOT_BACKEND}"
  api_key: "k"
booking:
  timezone: "UTC"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "http://backend.local", cfg.Backend.BaseURL)
	assert.Equal(t, 5*time.Minute, cfg.Booking.HoldDuration())
	assert.Equal(t, float64(100000), cfg.Booking.FallbackWeekdayPrice)
	assert.Equal(t, float64(400000), cfg.Booking.FallbackWeekendPrice)
	assert.Equal(t, DegradedUnknown, cfg.Booking.DegradedMode)
	assert.Equal(t, 10*time.Second, cfg.Backend.Timeout())
	assert.Equal(t, 8080, cfg.API.HTTP.Port)

	loc, err := cfg.Booking.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	valid := func() Config {
		c := Config{Backend: BackendConfig{BaseURL: "http://x"}}
		c.applyDefaults()
		return c
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(c *Config) {}, wantErr: false},
		{name: "missing base url", mutate: func(c *Config) { c.Backend.BaseURL = " " }, wantErr: true},
		{name: "bad degraded mode", mutate: func(c *Config) { c.Booking.DegradedMode = "random" }, wantErr: true},
		{name: "simulate mode", mutate: func(c *Config) { c.Booking.DegradedMode = DegradedSimulate }, wantErr: false},
		{name: "negative hold", mutate: func(c *Config) { c.Booking.HoldMinutes = -1 }, wantErr: true},
		{name: "zero fallback price", mutate: func(c *Config) { c.Booking.FallbackWeekendPrice = 0 }, wantErr: true},
		{name: "unknown timezone", mutate: func(c *Config) { c.Booking.Timezone = "Mars/Olympus" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
