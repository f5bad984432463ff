package models

import (
	"sort"
	"strings"
)

// EventKind names one kind of abnormal condition.
type EventKind string

const (
	KindPriceSpike     EventKind = "price_spike"
	KindIntradayMove   EventKind = "intraday_move"
	KindGapOpen        EventKind = "gap_open"
	KindNewsSurge      EventKind = "news_surge"
	KindSentimentShift EventKind = "sentiment_shift"

	// KindCombined is the ledger key for a merged per-symbol event.
	KindCombined EventKind = "combined"
)

// Severity of an abnormal event.
type Severity string

const (
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// EventFacts is the structured payload the composer turns into prose.
type EventFacts struct {
	Reasons            []string `json:"reasons"`
	Price              float64  `json:"price"`
	DayChangePercent   float64  `json:"day_change_percent"`
	IntradayPercent    float64  `json:"intraday_change_percent"`
	GapPercent         float64  `json:"gap_percent"`
	Volume             int64    `json:"volume"`
	Baseline           float64  `json:"volatility_baseline_percent"`
	VolatilityMultiple float64  `json:"volatility_multiple"`
	NewsCount6h        int      `json:"news_count_6h"`
	NewsAvgPerWindow   float64  `json:"news_avg_per_window_7d"`
	Headlines          []string `json:"headlines,omitempty"`
	SentimentDelta     float64  `json:"sentiment_delta"`
	SocialMentions6h   int      `json:"social_mentions_6h"`
	SocialScore        float64  `json:"social_score"`
	TopPosts           []string `json:"top_posts,omitempty"`
}

// AbnormalEvent is the merged result of every rule that fired for one symbol in one poll.
type AbnormalEvent struct {
	UserID   string
	Symbol   string
	Kinds    []EventKind
	Severity Severity
	Facts    EventFacts
}

// LedgerKind is the deduplication key kind for the event.
func (e *AbnormalEvent) LedgerKind() EventKind {
	return KindCombined
}

// HasKind reports whether k is among the merged kinds.
func (e *AbnormalEvent) HasKind(k EventKind) bool {
	for _, have := range e.Kinds {
		if have == k {
			return true
		}
	}
	return false
}

// Reason joins the fired rule names into one string.
func (e *AbnormalEvent) Reason() string {
	return strings.Join(e.Facts.Reasons, "+")
}

// SortEvents orders events by severity, then by absolute day move, then by symbol.
func SortEvents(events []AbnormalEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.Severity != b.Severity {
			return a.Severity == SeverityHigh
		}
		am, bm := abs(a.Facts.DayChangePercent), abs(b.Facts.DayChangePercent)
		if am != bm {
			return am > bm
		}
		return a.Symbol < b.Symbol
	})
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
