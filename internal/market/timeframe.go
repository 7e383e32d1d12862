package market

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Timeframe selects the span and granularity of a historical series
type Timeframe string

const (
	Timeframe1D  Timeframe = "1d"
	Timeframe1W  Timeframe = "1w"
	Timeframe1M  Timeframe = "1m"
	Timeframe3M  Timeframe = "3m"
	Timeframe1Y  Timeframe = "1y"
	TimeframeAll Timeframe = "all"
)

// DefaultTimeframe is used when a caller does not ask for one
const DefaultTimeframe = Timeframe1M

// TimeframeSpec describes how a timeframe maps onto bars and labels
type TimeframeSpec struct {
	Span        time.Duration // lookback window
	Interval    time.Duration // bar size
	Points      int           // synthetic series length
	LabelLayout string        // time.Format layout for chart labels
}

var timeframeSpecs = map[Timeframe]TimeframeSpec{
	Timeframe1D:  {Span: 24 * time.Hour, Interval: 5 * time.Minute, Points: 24, LabelLayout: "15:04"},
	Timeframe1W:  {Span: 7 * 24 * time.Hour, Interval: time.Hour, Points: 7, LabelLayout: "Mon"},
	Timeframe1M:  {Span: 30 * 24 * time.Hour, Interval: 24 * time.Hour, Points: 30, LabelLayout: "02"},
	Timeframe3M:  {Span: 90 * 24 * time.Hour, Interval: 24 * time.Hour, Points: 12, LabelLayout: "Jan 02"},
	Timeframe1Y:  {Span: 365 * 24 * time.Hour, Interval: 7 * 24 * time.Hour, Points: 52, LabelLayout: "Jan"},
	TimeframeAll: {Span: 1825 * 24 * time.Hour, Interval: 30 * 24 * time.Hour, Points: 60, LabelLayout: "2006"},
}

// ParseTimeframe validates a timeframe string; empty means DefaultTimeframe
func ParseTimeframe(s string) (Timeframe, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DefaultTimeframe, nil
	}
	tf := Timeframe(s)
	if _, ok := timeframeSpecs[tf]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidTimeframe, s)
	}
	return tf, nil
}

// Spec returns the timeframe parameters; unknown timeframes get the "all" spec
func (tf Timeframe) Spec() TimeframeSpec {
	if spec, ok := timeframeSpecs[tf]; ok {
		return spec
	}
	return timeframeSpecs[TimeframeAll]
}

// Round rounds to the given number of decimal places
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// PercentChange returns the move from prev to cur in percent, 0 when prev is not positive
func PercentChange(cur, prev float64) float64 {
	if prev <= 0 {
		return 0
	}
	return (cur - prev) / prev * 100
}
