package market

// DataSource tags every value handed to callers with its freshness/origin
type DataSource string

const (
	SourceLive  DataSource = "live"  // fetched upstream, possibly served from a fresh cache entry
	SourceStale DataSource = "stale" // expired cache entry served after a failed refresh
	SourceMock  DataSource = "mock"  // synthetic value from the degradation policy
)

// Analyst holds a rough buy/hold/sell recommendation tally
type Analyst struct {
	Buy  int `json:"buy"`
	Hold int `json:"hold"`
	Sell int `json:"sell"`
}

// StockDetails is the single-symbol quote/fundamentals shape
type StockDetails struct {
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	PercentChange float64 `json:"percentChange"`
	MarketCap     float64 `json:"marketCap"` // trillions USD
	Volume        float64 `json:"volume"`    // millions of shares
	AvgVolume     float64 `json:"avgVolume"` // millions of shares
	PE            float64 `json:"pe"`
	EPS           float64 `json:"eps"`
	Dividend      float64 `json:"dividend"` // yield, percent
	High52W       float64 `json:"high52w"`
	Low52W        float64 `json:"low52w"`
	Open          float64 `json:"open"`
	PreviousClose float64 `json:"previousClose"`
	Analyst       Analyst `json:"analyst"`
}

// HistoricalSeries is an OHLC close series for one symbol and timeframe
type HistoricalSeries struct {
	Symbol     string    `json:"symbol"`
	Timeframe  Timeframe `json:"timeframe"`
	Labels     []string  `json:"labels"`
	Data       []float64 `json:"data"`
	Timestamps []string  `json:"timestamps"`
}

// CloneValue returns a deep copy so cached series are never aliased
func (h HistoricalSeries) CloneValue() any {
	out := h
	out.Labels = append([]string(nil), h.Labels...)
	out.Data = append([]float64(nil), h.Data...)
	out.Timestamps = append([]string(nil), h.Timestamps...)
	return out
}

// IndexLevel is one index (or index proxy) in the aggregate snapshot
type IndexLevel struct {
	Name          string  `json:"name"`
	Symbol        string  `json:"symbol"`
	Value         float64 `json:"value"`
	Change        float64 `json:"change"`
	PercentChange float64 `json:"percentChange"`
}

// SectorPerformance is the daily move of a sector proxy
type SectorPerformance struct {
	Name          string  `json:"name"`
	Symbol        string  `json:"symbol"`
	PercentChange float64 `json:"percentChange"`
}

// MarketSummary is the aggregate index/sector snapshot
type MarketSummary struct {
	Indices           []IndexLevel        `json:"indices"`
	SectorPerformance []SectorPerformance `json:"sectorPerformance"`
	MarketStatus      string              `json:"marketStatus"` // "open" | "closed"
}

func (m MarketSummary) CloneValue() any {
	out := m
	out.Indices = append([]IndexLevel(nil), m.Indices...)
	out.SectorPerformance = append([]SectorPerformance(nil), m.SectorPerformance...)
	return out
}

// Mover is a compact quote used in gainers/losers lists
type Mover struct {
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	PercentChange float64 `json:"percentChange"`
}

// Movers holds the top gainers and losers
type Movers struct {
	Gainers []Mover `json:"gainers"`
	Losers  []Mover `json:"losers"`
}

func (m Movers) CloneValue() any {
	out := m
	out.Gainers = append([]Mover(nil), m.Gainers...)
	out.Losers = append([]Mover(nil), m.Losers...)
	return out
}

// SearchResult is a symbol/name pair
type SearchResult struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// SearchResults is the search tier payload
type SearchResults []SearchResult

func (s SearchResults) CloneValue() any {
	return append(SearchResults(nil), s...)
}

// Headline is one article from the headline/sentiment feed
type Headline struct {
	Title          string  `json:"title"`
	URL            string  `json:"url,omitempty"`
	Source         string  `json:"source"`
	PublishedAt    string  `json:"publishedAt"` // RFC3339
	Sentiment      string  `json:"sentiment"`   // "positive" | "negative" | "neutral"
	SentimentScore float64 `json:"sentimentScore"`
}

// NewsFeed is the headline/sentiment payload for one symbol
type NewsFeed struct {
	Symbol           string     `json:"symbol"`
	Headlines        []Headline `json:"headlines"`
	OverallSentiment string     `json:"overallSentiment"`
	AverageScore     float64    `json:"averageScore"`
}

func (n NewsFeed) CloneValue() any {
	out := n
	out.Headlines = append([]Headline(nil), n.Headlines...)
	return out
}

// SentimentLabel buckets a score in [-1,1] the same way for live and mock feeds
func SentimentLabel(score float64) string {
	switch {
	case score >= 0.15:
		return "positive"
	case score <= -0.15:
		return "negative"
	default:
		return "neutral"
	}
}

// Summarize fills the overall sentiment fields from the headlines
func (n *NewsFeed) Summarize() {
	if len(n.Headlines) == 0 {
		n.OverallSentiment = "neutral"
		n.AverageScore = 0
		return
	}
	var total float64
	for _, h := range n.Headlines {
		total += h.SentimentScore
	}
	n.AverageScore = Round(total/float64(len(n.Headlines)), 3)
	n.OverallSentiment = SentimentLabel(n.AverageScore)
}

// Instrument is a symbol with its display name
type Instrument struct {
	Symbol string `json:"symbol" yaml:"symbol"`
	Name   string `json:"name" yaml:"name"`
}
