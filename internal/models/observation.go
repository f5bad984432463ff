package models

import "time"

// DefaultVolatility is the baseline used when history is missing or degenerate.
const DefaultVolatility = 2.0

// Observation is a fresh per-poll snapshot of one symbol. Never persisted.
type Observation struct {
	Symbol                string
	Price                 float64
	PreviousClose         float64
	Open                  float64
	DayChangePercent      float64
	IntradayChangePercent float64
	GapPercent            float64
	Volume                int64
	ObservedAt            time.Time
}

// VolatilityBaseline is the trailing dispersion of daily returns, in percent.
type VolatilityBaseline struct {
	Symbol                string
	TrailingStdDevPercent float64
}

// Multiple returns how many baselines the given percent move spans.
func (b VolatilityBaseline) Multiple(changePercent float64) float64 {
	sd := b.TrailingStdDevPercent
	if sd <= 0 {
		sd = DefaultVolatility
	}
	if changePercent < 0 {
		changePercent = -changePercent
	}
	return changePercent / sd
}

// Article is one news item about a symbol.
type Article struct {
	Headline    string
	Source      string
	URL         string
	PublishedAt time.Time
	// Sentiment is in [-1, 1]; nil when the provider gave none.
	Sentiment *float64
}

// NewsContext summarizes recent news against a longer baseline window.
type NewsContext struct {
	Count6h int
	Count7d int
	// AvgPerWindow7d is the 7-day count expressed per 6-hour window.
	AvgPerWindow7d float64
	Headlines      []string
	// Sentiment values are rescaled to [-100, 100].
	SentimentCurrent  float64
	SentimentPrevious float64
}

// SentimentDelta is the change of news sentiment between the two windows.
func (n NewsContext) SentimentDelta() float64 {
	return n.SentimentCurrent - n.SentimentPrevious
}

// Post is one social mention.
type Post struct {
	Body      string
	Score     float64
	CreatedAt time.Time
}

// SocialContext summarizes recent social mentions of a symbol.
type SocialContext struct {
	Mentions6h int
	Mentions7d int
	// Score is the mean post score rescaled to [-100, 100].
	Score    float64
	TopPosts []string
}

// MarketContext carries benchmark moves for the "trending market" facts.
type MarketContext struct {
	Benchmarks []BenchmarkMove
}

// BenchmarkMove is one index's day change.
type BenchmarkMove struct {
	Symbol           string  `json:"symbol"`
	DayChangePercent float64 `json:"day_change_percent"`
}

// Trend describes the benchmark mood in one word.
func (m MarketContext) Trend() string {
	if len(m.Benchmarks) == 0 {
		return "unknown"
	}
	var sum float64
	for _, b := range m.Benchmarks {
		sum += b.DayChangePercent
	}
	avg := sum / float64(len(m.Benchmarks))
	switch {
	case avg >= 1:
		return "rallying"
	case avg <= -1:
		return "selling off"
	case avg >= 0.25:
		return "slightly up"
	case avg <= -0.25:
		return "slightly down"
	default:
		return "flat"
	}
}
