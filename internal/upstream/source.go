package upstream

import (
	"context"
	"sort"
	"time"

	"github.com/Rajchodisetti/marketcore/internal/market"
)

// Source is an upstream market-data provider. Failures are returned as
// *market.Error so callers can tell transient from terminal ones.
type Source interface {
	Name() string
	Details(ctx context.Context, symbol string) (market.StockDetails, error)
	History(ctx context.Context, symbol string, tf market.Timeframe) (market.HistoricalSeries, error)
	IndexLevel(ctx context.Context, symbol string) (market.IndexLevel, error)
	Headlines(ctx context.Context, symbol string, limit int) (market.NewsFeed, error)
}

// Bar is one close observation from a provider's time series
type Bar struct {
	Time  time.Time
	Close float64
}

// SeriesFromBars keeps the bars inside the timeframe's lookback window ending
// at now, sorts them oldest first and thins them to the timeframe's point count
func SeriesFromBars(symbol string, tf market.Timeframe, bars []Bar, now time.Time) (market.HistoricalSeries, error) {
	spec := tf.Spec()
	cutoff := now.Add(-spec.Span)

	kept := make([]Bar, 0, len(bars))
	for _, b := range bars {
		if b.Close > 0 && !b.Time.Before(cutoff) {
			kept = append(kept, b)
		}
	}
	// intraday feeds lag after the close; fall back to whatever the provider sent
	if len(kept) == 0 {
		for _, b := range bars {
			if b.Close > 0 {
				kept = append(kept, b)
			}
		}
	}
	if len(kept) == 0 {
		return market.HistoricalSeries{}, market.NewEmptyPayloadError(symbol, "no bars for "+string(tf))
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Time.Before(kept[j].Time) })
	kept = thin(kept, spec.Points)

	s := market.HistoricalSeries{
		Symbol:     symbol,
		Timeframe:  tf,
		Labels:     make([]string, len(kept)),
		Data:       make([]float64, len(kept)),
		Timestamps: make([]string, len(kept)),
	}
	for i, b := range kept {
		s.Labels[i] = b.Time.Format(spec.LabelLayout)
		s.Data[i] = market.Round(b.Close, 2)
		s.Timestamps[i] = b.Time.Format("2006-01-02")
	}
	return s, nil
}

// thin picks n evenly spaced bars, always keeping the first and last
func thin(bars []Bar, n int) []Bar {
	if n <= 0 || len(bars) <= n {
		return bars
	}
	if n == 1 {
		return bars[len(bars)-1:]
	}
	out := make([]Bar, n)
	last := len(bars) - 1
	for i := 0; i < n; i++ {
		out[i] = bars[i*last/(n-1)]
	}
	return out
}

// await runs a blocking provider call and gives up when ctx ends. The call
// itself keeps running; its result is dropped.
func await[T any](ctx context.Context, symbol string, call func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := call()
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, market.NewTimeoutError(symbol, "provider call abandoned", ctx.Err())
	}
}
