package market

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSymbol(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "lowercase", in: " aapl ", want: "AAPL"},
		{name: "share class slash", in: "brk/b", want: "BRK.B"},
		{name: "index", in: "^gspc", want: "^GSPC"},
		{name: "crypto pair", in: "BTC-USD", want: "BTC-USD"},
		{name: "empty", in: "  ", wantErr: true},
		{name: "too long", in: "ABCDEFGHIJKLMN", wantErr: true},
		{name: "bad chars", in: "AA PL", wantErr: true},
		{name: "caret only", in: "^", wantErr: true},
		{name: "caret inside", in: "A^B", wantErr: true},
		{name: "leading dot", in: ".AB", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeSymbol(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidSymbol))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeSymbolsDedupes(t *testing.T) {
	got, err := NormalizeSymbols([]string{"aapl", "MSFT", "AAPL ", "nvda"})
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT", "NVDA"}, got)

	_, err = NormalizeSymbols([]string{"AAPL", ""})
	assert.ErrorIs(t, err, ErrInvalidSymbol)
}

func TestParseTimeframe(t *testing.T) {
	tf, err := ParseTimeframe("")
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeframe, tf)

	tf, err = ParseTimeframe(" 1Y ")
	require.NoError(t, err)
	assert.Equal(t, Timeframe1Y, tf)
	assert.Equal(t, 52, tf.Spec().Points)

	_, err = ParseTimeframe("5y")
	assert.ErrorIs(t, err, ErrInvalidTimeframe)
}

func TestErrorClassification(t *testing.T) {
	assert.True(t, IsTerminal(NewNotFoundError("X", "unknown symbol")))
	assert.True(t, IsTerminal(fmt.Errorf("wrapped: %w", NewUnsupportedError("X", "no news"))))
	assert.False(t, IsTerminal(NewNetworkError("X", "reset", errors.New("conn reset"))))
	assert.False(t, IsTerminal(NewEmptyPayloadError("X", "empty")))
	assert.False(t, IsTerminal(nil))
	assert.False(t, IsTerminal(errors.New("plain")))

	assert.True(t, IsTransient(NewNetworkError("X", "reset", errors.New("conn reset"))))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsTransient(NewNotFoundError("X", "unknown symbol")))
	assert.False(t, IsTransient(fmt.Errorf("fetch: %w", context.Canceled)))
	assert.False(t, IsTransient(nil))

	assert.Equal(t, KindRateLimit, KindOf(NewRateLimitError("X", "429")))
	assert.Equal(t, KindTimeout, KindOf(context.DeadlineExceeded))
	assert.Equal(t, KindProvider, KindOf(errors.New("plain")))

	cause := errors.New("dial tcp")
	err := NewNetworkError("AAPL", "request failed", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "network error for AAPL")
}

func TestSessionAt(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata not available")
	}

	// 2024-03-13 is a Wednesday
	tests := []struct {
		name string
		at   time.Time
		want SessionType
	}{
		{"premarket", time.Date(2024, 3, 13, 8, 0, 0, 0, loc), SessionPremarket},
		{"regular", time.Date(2024, 3, 13, 10, 0, 0, 0, loc), SessionRegular},
		{"post", time.Date(2024, 3, 13, 17, 0, 0, 0, loc), SessionPostmarket},
		{"overnight", time.Date(2024, 3, 13, 22, 0, 0, 0, loc), SessionClosed},
		{"weekend", time.Date(2024, 3, 16, 11, 0, 0, 0, loc), SessionClosed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SessionAt(tt.at))
		})
	}

	assert.Equal(t, "open", MarketStatus(time.Date(2024, 3, 13, 10, 0, 0, 0, loc)))
	assert.Equal(t, "closed", MarketStatus(time.Date(2024, 3, 16, 10, 0, 0, 0, loc)))
}

func TestCloneValueDoesNotAlias(t *testing.T) {
	orig := HistoricalSeries{Symbol: "AAPL", Data: []float64{1, 2, 3}, Labels: []string{"a", "b", "c"}}
	cp := orig.CloneValue().(HistoricalSeries)
	cp.Data[0] = 99
	cp.Labels[0] = "z"
	assert.Equal(t, 1.0, orig.Data[0])
	assert.Equal(t, "a", orig.Labels[0])
}

func TestNewsFeedSummarize(t *testing.T) {
	feed := NewsFeed{Headlines: []Headline{{SentimentScore: 0.5}, {SentimentScore: 0.1}}}
	feed.Summarize()
	assert.InDelta(t, 0.3, feed.AverageScore, 1e-9)
	assert.Equal(t, "positive", feed.OverallSentiment)

	empty := NewsFeed{}
	empty.Summarize()
	assert.Equal(t, "neutral", empty.OverallSentiment)
}
