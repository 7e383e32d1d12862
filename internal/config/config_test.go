package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "marketcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, 25, c.RateLimit.MaxCalls)
	assert.Equal(t, time.Minute, c.RateLimit.Period())
	assert.Equal(t, 30, c.Cache.RealtimeTTLSeconds)
	assert.Equal(t, 5*time.Minute, c.Cache.SweepInterval())
	assert.Equal(t, time.Minute, c.Cache.Grace())
	assert.Len(t, c.Universe.Popular, 10)
	assert.Len(t, c.Universe.Indices, 3)
	assert.Len(t, c.Universe.Sectors, 5)
}

func TestLoadOverlaysFileOnDefaults(t *testing.T) {
	path := writeConfig(t, `
provider:
  name: sim
rate_limit:
  max_calls: 10
  period_ms: 1000
cache:
  realtime_ttl_seconds: 5
universe:
  popular:
    - symbol: IBM
      name: International Business Machines
`)
	t.Setenv("MARKETCORE_PROVIDER", "sim")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sim", c.Provider.Name)
	assert.Equal(t, 10, c.RateLimit.MaxCalls)
	assert.Equal(t, time.Second, c.RateLimit.Period())
	assert.Equal(t, 5, c.Cache.RealtimeTTLSeconds)
	assert.Equal(t, 3600, c.Cache.HistoricalTTLSeconds, "untouched sections keep defaults")
	require.Len(t, c.Universe.Popular, 1)
	assert.Equal(t, "IBM", c.Universe.Popular[0].Symbol)
	assert.Len(t, c.Universe.Sectors, 5)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, "provider:\n  name: yahoo\nlog:\n  level: info\n")
	t.Setenv("MARKETCORE_PROVIDER", "alphavantage")
	t.Setenv("MARKETCORE_LOG_LEVEL", "debug")
	t.Setenv("PORT", "9100")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "alphavantage", c.Provider.Name)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, 9100, c.Server.Port)
	assert.Equal(t, ":9100", c.ListenAddr())
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv("MARKETCORE_PROVIDER", "sim")
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sim", c.Provider.Name)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "rate_limit: [1, 2"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Root)
	}{
		{"unknown provider", func(c *Root) { c.Provider.Name = "bloomberg" }},
		{"unknown news provider", func(c *Root) { c.Provider.News = "twitter" }},
		{"limit without calls", func(c *Root) { c.RateLimit.MaxCalls = 0 }},
		{"no attempts", func(c *Root) { c.Retry.Attempts = 0 }},
		{"inverted pacing", func(c *Root) { c.Pacing.MinMs, c.Pacing.MaxMs = 500, 100 }},
		{"zero workers", func(c *Root) { c.Batch.Workers = 0 }},
		{"inverted chunk pause", func(c *Root) { c.Batch.InterChunkMinMs, c.Batch.InterChunkMaxMs = 10, 5 }},
		{"zero ttl", func(c *Root) { c.Cache.MarketTTLSeconds = 0 }},
		{"negative grace", func(c *Root) { c.Cache.GraceSeconds = -1 }},
		{"chaos rate", func(c *Root) { c.Provider.Chaos.ErrorRate = 1.5 }},
		{"port", func(c *Root) { c.Server.Port = 70000 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}

	c := Default()
	c.RateLimit.PeriodMs = 0
	c.RateLimit.MaxCalls = 0
	assert.NoError(t, c.Validate(), "a zero period disables the limiter")
}
