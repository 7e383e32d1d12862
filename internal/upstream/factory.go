package upstream

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/Rajchodisetti/marketcore/internal/config"
	"github.com/Rajchodisetti/marketcore/internal/market"
	"github.com/Rajchodisetti/marketcore/internal/observ"
)

// Routed serves quotes, history and index levels from one source and the
// headline feed from another
type Routed struct {
	Source
	news Source
}

func NewRouted(primary, news Source) *Routed {
	return &Routed{Source: primary, news: news}
}

func (r *Routed) Headlines(ctx context.Context, symbol string, limit int) (market.NewsFeed, error) {
	return r.news.Headlines(ctx, symbol, limit)
}

// NewFromConfig builds the monitored upstream described by cfg. A provider
// whose API key is missing falls back to the simulation with a logged reason.
func NewFromConfig(cfg config.Provider, names []market.Instrument) (*Monitored, error) {
	primary, err := buildSource(strings.ToLower(strings.TrimSpace(cfg.Name)), cfg, names)
	if err != nil {
		return nil, err
	}

	news, err := buildNews(strings.ToLower(strings.TrimSpace(cfg.News)), cfg, primary, names)
	if err != nil {
		return nil, err
	}

	var src Source = primary
	if news != primary {
		src = NewRouted(primary, news)
	}
	if cfg.Chaos.Enabled {
		observ.Log("upstream_chaos_enabled", map[string]any{
			"error_rate":   cfg.Chaos.ErrorRate,
			"timeout_rate": cfg.Chaos.TimeoutRate,
		})
		src = NewChaos(src, ChaosConfig{
			Enabled:           true,
			ErrorRate:         cfg.Chaos.ErrorRate,
			TimeoutRate:       cfg.Chaos.TimeoutRate,
			NetworkErrorRate:  cfg.Chaos.NetworkErrorRate,
			ParseErrorRate:    cfg.Chaos.ParseErrorRate,
			LatencyMultiplier: cfg.Chaos.LatencyMultiplier,
		})
	}
	return NewMonitored(src), nil
}

func buildSource(name string, cfg config.Provider, names []market.Instrument) (Source, error) {
	switch name {
	case "sim":
		observ.Log("upstream_source_created", map[string]any{"type": "sim", "reason": "simulation mode"})
		return NewSim(names), nil

	case "yahoo", "":
		observ.Log("upstream_source_created", map[string]any{"type": "yahoo", "timeout_sec": cfg.Yahoo.TimeoutSeconds})
		return NewYahoo(YahooConfig{TimeoutSeconds: cfg.Yahoo.TimeoutSeconds}), nil

	case "alphavantage":
		av, reason := newAlphaVantage(cfg.AlphaVantage)
		if av == nil {
			observ.Warn("upstream_source_fallback", map[string]any{
				"requested":   "alphavantage",
				"fallback_to": "sim",
				"reason":      reason,
				"api_key_env": cfg.AlphaVantage.APIKeyEnv,
			})
			return NewSim(names), nil
		}
		return av, nil

	default:
		return nil, fmt.Errorf("unknown upstream provider %q", name)
	}
}

func buildNews(name string, cfg config.Provider, primary Source, names []market.Instrument) (Source, error) {
	if _, ok := primary.(*AlphaVantage); ok && name != "sim" {
		return primary, nil
	}
	switch name {
	case "sim":
		if _, ok := primary.(*Sim); ok {
			return primary, nil
		}
		return NewSim(names), nil

	case "auto", "alphavantage", "":
		if av, _ := newAlphaVantage(cfg.AlphaVantage); av != nil {
			return av, nil
		}
		if name == "alphavantage" {
			observ.Warn("upstream_news_fallback", map[string]any{"requested": "alphavantage", "fallback_to": "sim", "reason": "missing API key"})
		}
		if _, ok := primary.(*Sim); ok {
			return primary, nil
		}
		return NewSim(names), nil

	default:
		return nil, fmt.Errorf("unknown news provider %q", name)
	}
}

// newAlphaVantage returns nil and a reason when the source cannot be built
func newAlphaVantage(cfg config.AlphaVantage) (*AlphaVantage, string) {
	apiKey := ""
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
	}
	if apiKey == "" {
		return nil, "missing API key"
	}

	av, err := NewAlphaVantage(AlphaVantageConfig{
		APIKey:             apiKey,
		BaseURL:            cfg.BaseURL,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		DailyCap:           cfg.DailyCap,
		TimeoutSeconds:     cfg.TimeoutSeconds,
		Fundamentals:       cfg.Fundamentals,
		HTTPCache:          cfg.HTTPCache,
	})
	if err != nil {
		return nil, err.Error()
	}

	observ.Log("upstream_source_created", map[string]any{
		"type":           "alphavantage",
		"rate_limit_pm":  cfg.RateLimitPerMinute,
		"daily_cap":      cfg.DailyCap,
		"fundamentals":   cfg.Fundamentals,
		"api_key_masked": maskAPIKey(apiKey),
	})
	return av, ""
}

func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}
