package config

import "github.com/Rajchodisetti/marketcore/internal/market"

// Default returns the configuration used when no file is given
func Default() Root {
	return Root{
		Server: Server{
			Port:              8000,
			ReadTimeoutMs:     10000,
			WriteTimeoutMs:    30000,
			ShutdownTimeoutMs: 10000,
		},
		Log: Log{Level: "info"},
		Provider: Provider{
			Name: "yahoo",
			News: "auto",
			AlphaVantage: AlphaVantage{
				APIKeyEnv:          "ALPHA_VANTAGE_API_KEY",
				BaseURL:            "https://www.alphavantage.co/query",
				RateLimitPerMinute: 5,
				DailyCap:           300,
				TimeoutSeconds:     10,
				HTTPCache:          true,
			},
			Yahoo: Yahoo{TimeoutSeconds: 10},
			Chaos: Chaos{LatencyMultiplier: 1},
		},
		RateLimit: RateLimit{MaxCalls: 25, PeriodMs: 60000, JitterMs: 1000},
		Retry:     Retry{Attempts: 3, BaseDelayMs: 1000, MaxDelayMs: 10000, JitterMs: 1000},
		Pacing:    Pacing{MinMs: 100, MaxMs: 300},
		Batch:     Batch{ChunkSize: 3, Workers: 2, InterChunkMinMs: 1000, InterChunkMaxMs: 2000},
		Cache: Cache{
			RealtimeTTLSeconds:   30,
			HistoricalTTLSeconds: 3600,
			SearchTTLSeconds:     3600,
			MarketTTLSeconds:     60,
			NewsTTLSeconds:       900,
			SweepIntervalSeconds: 300,
			GraceSeconds:         60,
		},
		RequestTimeoutMs: 20000,
		Universe: Universe{
			Popular: popular(),
			Major:   popular(),
			Indices: []market.Instrument{
				{Symbol: "^GSPC", Name: "S&P 500"},
				{Symbol: "^DJI", Name: "Dow Jones"},
				{Symbol: "^IXIC", Name: "Nasdaq"},
			},
			Sectors: []market.Instrument{
				{Symbol: "XLK", Name: "Technology"},
				{Symbol: "XLV", Name: "Healthcare"},
				{Symbol: "XLF", Name: "Financials"},
				{Symbol: "XLE", Name: "Energy"},
				{Symbol: "XLY", Name: "Consumer"},
			},
			Watched: []string{"AAPL", "MSFT", "GOOGL", "AMZN", "TSLA"},
		},
	}
}

func popular() []market.Instrument {
	return []market.Instrument{
		{Symbol: "AAPL", Name: "Apple Inc."},
		{Symbol: "MSFT", Name: "Microsoft Corporation"},
		{Symbol: "GOOGL", Name: "Alphabet Inc."},
		{Symbol: "AMZN", Name: "Amazon.com Inc."},
		{Symbol: "META", Name: "Meta Platforms Inc."},
		{Symbol: "TSLA", Name: "Tesla Inc."},
		{Symbol: "NVDA", Name: "NVIDIA Corporation"},
		{Symbol: "JPM", Name: "JPMorgan Chase & Co."},
		{Symbol: "V", Name: "Visa Inc."},
		{Symbol: "JNJ", Name: "Johnson & Johnson"},
	}
}

// Names returns every configured instrument, used to name synthetic quotes
func (u Universe) Names() []market.Instrument {
	out := make([]market.Instrument, 0, len(u.Popular)+len(u.Major)+len(u.Indices)+len(u.Sectors))
	out = append(out, u.Popular...)
	out = append(out, u.Major...)
	out = append(out, u.Indices...)
	return append(out, u.Sectors...)
}
