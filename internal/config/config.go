package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/Rajchodisetti/marketcore/internal/market"
)

type Server struct {
	Addr              string `yaml:"addr" env:"MARKETCORE_ADDR"`
	Port              int    `yaml:"port" env:"PORT"`
	ReadTimeoutMs     int    `yaml:"read_timeout_ms"`
	WriteTimeoutMs    int    `yaml:"write_timeout_ms"`
	ShutdownTimeoutMs int    `yaml:"shutdown_timeout_ms"`
}

type Log struct {
	Level string `yaml:"level" env:"MARKETCORE_LOG_LEVEL"`
}

type AlphaVantage struct {
	APIKeyEnv          string `yaml:"api_key_env"`
	BaseURL            string `yaml:"base_url"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
	DailyCap           int    `yaml:"daily_cap"`
	TimeoutSeconds     int    `yaml:"timeout_seconds"`
	Fundamentals       bool   `yaml:"fundamentals"` // extra OVERVIEW call per quote
	HTTPCache          bool   `yaml:"http_cache"`
}

type Yahoo struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

type Chaos struct {
	Enabled           bool    `yaml:"enabled" env:"MARKETCORE_CHAOS"`
	ErrorRate         float64 `yaml:"error_rate"`
	TimeoutRate       float64 `yaml:"timeout_rate"`
	NetworkErrorRate  float64 `yaml:"network_error_rate"`
	ParseErrorRate    float64 `yaml:"parse_error_rate"`
	LatencyMultiplier float64 `yaml:"latency_multiplier"`
}

type Provider struct {
	Name         string       `yaml:"name" env:"MARKETCORE_PROVIDER"` // yahoo | alphavantage | sim
	News         string       `yaml:"news" env:"MARKETCORE_NEWS_PROVIDER"` // auto | alphavantage | sim
	AlphaVantage AlphaVantage `yaml:"alphavantage"`
	Yahoo        Yahoo        `yaml:"yahoo"`
	Chaos        Chaos        `yaml:"chaos"`
}

type RateLimit struct {
	MaxCalls int `yaml:"max_calls"`
	PeriodMs int `yaml:"period_ms"`
	JitterMs int `yaml:"jitter_ms"`
}

type Retry struct {
	Attempts    int `yaml:"attempts"`
	BaseDelayMs int `yaml:"base_delay_ms"`
	MaxDelayMs  int `yaml:"max_delay_ms"`
	JitterMs    int `yaml:"jitter_ms"`
}

type Pacing struct {
	MinMs int `yaml:"min_ms"`
	MaxMs int `yaml:"max_ms"`
}

type Batch struct {
	ChunkSize       int `yaml:"chunk_size"`
	Workers         int `yaml:"workers"`
	InterChunkMinMs int `yaml:"inter_chunk_min_ms"`
	InterChunkMaxMs int `yaml:"inter_chunk_max_ms"`
}

type Cache struct {
	RealtimeTTLSeconds   int `yaml:"realtime_ttl_seconds"`
	HistoricalTTLSeconds int `yaml:"historical_ttl_seconds"`
	SearchTTLSeconds     int `yaml:"search_ttl_seconds"`
	MarketTTLSeconds     int `yaml:"market_ttl_seconds"`
	NewsTTLSeconds       int `yaml:"news_ttl_seconds"`
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
	GraceSeconds         int `yaml:"grace_seconds"`
}

// Universe lists the instruments the aggregate queries are built from
type Universe struct {
	Popular []market.Instrument `yaml:"popular"`
	Major   []market.Instrument `yaml:"major"`
	Indices []market.Instrument `yaml:"indices"`
	Sectors []market.Instrument `yaml:"sectors"`
	Watched []string            `yaml:"watched"`
}

type Root struct {
	Server           Server    `yaml:"server"`
	Log              Log       `yaml:"log"`
	Provider         Provider  `yaml:"provider"`
	RateLimit        RateLimit `yaml:"rate_limit"`
	Retry            Retry     `yaml:"retry"`
	Pacing           Pacing    `yaml:"pacing"`
	Batch            Batch     `yaml:"batch"`
	Cache            Cache     `yaml:"cache"`
	RequestTimeoutMs int       `yaml:"request_timeout_ms" env:"MARKETCORE_REQUEST_TIMEOUT_MS"`
	Universe         Universe  `yaml:"universe"`
}

// Load reads a YAML file over the defaults, then applies environment overrides.
// An empty path means defaults plus environment only.
func Load(path string) (Root, error) {
	c := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return c, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return c, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := env.Parse(&c); err != nil {
		return c, fmt.Errorf("environment overrides: %w", err)
	}
	c.fillDefaults()
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// fillDefaults restores defaults for fields a config file zeroed out
func (c *Root) fillDefaults() {
	d := Default()
	if c.Server.Port == 0 {
		c.Server.Port = d.Server.Port
	}
	if c.Server.ShutdownTimeoutMs == 0 {
		c.Server.ShutdownTimeoutMs = d.Server.ShutdownTimeoutMs
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Provider.Name == "" {
		c.Provider.Name = d.Provider.Name
	}
	if c.Provider.News == "" {
		c.Provider.News = d.Provider.News
	}
	if c.Retry.Attempts == 0 {
		c.Retry.Attempts = d.Retry.Attempts
	}
	if c.Batch.ChunkSize == 0 {
		c.Batch.ChunkSize = d.Batch.ChunkSize
	}
	if c.Batch.Workers == 0 {
		c.Batch.Workers = d.Batch.Workers
	}
	if c.Cache.SweepIntervalSeconds == 0 {
		c.Cache.SweepIntervalSeconds = d.Cache.SweepIntervalSeconds
	}
	if len(c.Universe.Popular) == 0 {
		c.Universe.Popular = d.Universe.Popular
	}
	if len(c.Universe.Major) == 0 {
		c.Universe.Major = d.Universe.Major
	}
	if len(c.Universe.Indices) == 0 {
		c.Universe.Indices = d.Universe.Indices
	}
	if len(c.Universe.Sectors) == 0 {
		c.Universe.Sectors = d.Universe.Sectors
	}
	if len(c.Universe.Watched) == 0 {
		c.Universe.Watched = d.Universe.Watched
	}
}

// Validate rejects values no component can run with
func (c Root) Validate() error {
	var errs []error
	switch strings.ToLower(c.Provider.Name) {
	case "yahoo", "alphavantage", "sim":
	default:
		errs = append(errs, fmt.Errorf("provider.name %q: want yahoo, alphavantage or sim", c.Provider.Name))
	}
	switch strings.ToLower(c.Provider.News) {
	case "auto", "alphavantage", "sim":
	default:
		errs = append(errs, fmt.Errorf("provider.news %q: want auto, alphavantage or sim", c.Provider.News))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.RateLimit.PeriodMs > 0 && c.RateLimit.MaxCalls <= 0 {
		errs = append(errs, errors.New("rate_limit.max_calls must be positive when period_ms is set"))
	}
	if c.Retry.Attempts < 1 {
		errs = append(errs, errors.New("retry.attempts must be at least 1"))
	}
	if c.Pacing.MaxMs < c.Pacing.MinMs {
		errs = append(errs, errors.New("pacing.max_ms must not be below min_ms"))
	}
	if c.Batch.ChunkSize < 1 || c.Batch.Workers < 1 {
		errs = append(errs, errors.New("batch.chunk_size and batch.workers must be at least 1"))
	}
	if c.Batch.InterChunkMaxMs < c.Batch.InterChunkMinMs {
		errs = append(errs, errors.New("batch.inter_chunk_max_ms must not be below inter_chunk_min_ms"))
	}
	for name, v := range map[string]int{
		"realtime_ttl_seconds":   c.Cache.RealtimeTTLSeconds,
		"historical_ttl_seconds": c.Cache.HistoricalTTLSeconds,
		"search_ttl_seconds":     c.Cache.SearchTTLSeconds,
		"market_ttl_seconds":     c.Cache.MarketTTLSeconds,
		"news_ttl_seconds":       c.Cache.NewsTTLSeconds,
	} {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("cache.%s must be positive", name))
		}
	}
	if c.Cache.GraceSeconds < 0 {
		errs = append(errs, errors.New("cache.grace_seconds must not be negative"))
	}
	for _, rate := range []float64{c.Provider.Chaos.ErrorRate, c.Provider.Chaos.TimeoutRate, c.Provider.Chaos.NetworkErrorRate, c.Provider.Chaos.ParseErrorRate} {
		if rate < 0 || rate > 1 {
			errs = append(errs, errors.New("provider.chaos rates must be within [0,1]"))
			break
		}
	}
	return errors.Join(errs...)
}

// ListenAddr is host:port for the HTTP server
func (c Root) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Addr, c.Server.Port)
}

func (c Root) RequestTimeout() time.Duration {
	return ms(c.RequestTimeoutMs)
}

func (c Root) ShutdownTimeout() time.Duration {
	return ms(c.Server.ShutdownTimeoutMs)
}

func (r RateLimit) Period() time.Duration { return ms(r.PeriodMs) }
func (r RateLimit) Jitter() time.Duration { return ms(r.JitterMs) }

func (c Cache) SweepInterval() time.Duration { return secs(c.SweepIntervalSeconds) }
func (c Cache) Grace() time.Duration         { return secs(c.GraceSeconds) }

func ms(v int) time.Duration   { return time.Duration(v) * time.Millisecond }
func secs(v int) time.Duration { return time.Duration(v) * time.Second }

// Ms converts a millisecond config value
func Ms(v int) time.Duration { return ms(v) }

// Secs converts a second config value
func Secs(v int) time.Duration { return secs(v) }
