// Package monitor turns per-symbol observations into abnormal events.
package monitor

import (
	"math"

	"github.com/rewired-gh/stockpulse/internal/metrics"
	"github.com/rewired-gh/stockpulse/internal/models"
)

// Rule names recorded in event facts.
const (
	RulePriceVsVolatility = "price_vs_volatility"
	RuleSharpIntraday     = "sharp_intraday"
	RuleGapOpen           = "gap_open"
	RuleNewsSurge         = "news_surge"
	RuleSentimentFlip     = "sentiment_flip"
	RuleEscalation        = "escalation"
)

// Thresholds holds the classifier cut-offs.
type Thresholds struct {
	VolatilityMultiple float64
	IntradayPercent    float64
	GapPercent         float64
	NewsSurgeRatio     float64
	NewsSurgeMin       int
	SentimentDelta     float64
	SentimentNewsMin   int
	EscalationPercent  float64
	EscalationNews     float64
	MaxHeadlines       int
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		VolatilityMultiple: 2,
		IntradayPercent:    5,
		GapPercent:         4,
		NewsSurgeRatio:     2,
		NewsSurgeMin:       2,
		SentimentDelta:     30,
		SentimentNewsMin:   2,
		EscalationPercent:  5,
		EscalationNews:     4,
		MaxHeadlines:       3,
	}
}

type rule struct {
	name  string
	tier  models.Severity
	kinds func(t Thresholds, in input) []models.EventKind
	fires func(t Thresholds, in input) bool
}

type input struct {
	obs      models.Observation
	baseline models.VolatilityBaseline
	news     models.NewsContext
}

func fixed(k models.EventKind) func(Thresholds, input) []models.EventKind {
	return func(Thresholds, input) []models.EventKind { return []models.EventKind{k} }
}

var rules = []rule{
	{
		name:  RulePriceVsVolatility,
		tier:  models.SeverityMedium,
		kinds: fixed(models.KindPriceSpike),
		fires: func(t Thresholds, in input) bool {
			return in.baseline.Multiple(in.obs.DayChangePercent) >= t.VolatilityMultiple && in.news.Count6h > 0
		},
	},
	{
		name:  RuleSharpIntraday,
		tier:  models.SeverityHigh,
		kinds: fixed(models.KindIntradayMove),
		fires: func(t Thresholds, in input) bool {
			return math.Abs(in.obs.IntradayChangePercent) >= t.IntradayPercent
		},
	},
	{
		name:  RuleGapOpen,
		tier:  models.SeverityHigh,
		kinds: fixed(models.KindGapOpen),
		fires: func(t Thresholds, in input) bool {
			return math.Abs(in.obs.GapPercent) >= t.GapPercent
		},
	},
	{
		name:  RuleNewsSurge,
		tier:  models.SeverityMedium,
		kinds: fixed(models.KindNewsSurge),
		fires: func(t Thresholds, in input) bool {
			n := float64(in.news.Count6h)
			return n >= t.NewsSurgeRatio*in.news.AvgPerWindow7d && in.news.Count6h >= t.NewsSurgeMin
		},
	},
	{
		name:  RuleSentimentFlip,
		tier:  models.SeverityMedium,
		kinds: fixed(models.KindSentimentShift),
		fires: func(t Thresholds, in input) bool {
			return math.Abs(in.news.SentimentDelta()) >= t.SentimentDelta && in.news.Count6h >= t.SentimentNewsMin
		},
	},
	{
		name: RuleEscalation,
		tier: models.SeverityHigh,
		kinds: func(t Thresholds, in input) []models.EventKind {
			if math.Abs(in.obs.DayChangePercent) >= t.EscalationPercent {
				return []models.EventKind{models.KindPriceSpike}
			}
			return []models.EventKind{models.KindNewsSurge}
		},
		fires: func(t Thresholds, in input) bool {
			if math.Abs(in.obs.DayChangePercent) >= t.EscalationPercent {
				return true
			}
			// An empty baseline never escalates on news alone.
			return in.news.AvgPerWindow7d > 0 && float64(in.news.Count6h) >= t.EscalationNews*in.news.AvgPerWindow7d
		},
	},
}

// Classifier evaluates every rule against one symbol's observation.
type Classifier struct {
	thresholds Thresholds
}

func NewClassifier(t Thresholds) *Classifier {
	return &Classifier{thresholds: t}
}

// Classify returns one merged event when any rule fires, or nil.
func (c *Classifier) Classify(userID, symbol string, obs models.Observation, baseline models.VolatilityBaseline, news models.NewsContext) *models.AbnormalEvent {
	in := input{obs: obs, baseline: baseline, news: news}

	var (
		reasons  []string
		kinds    []models.EventKind
		severity = models.SeverityMedium
	)
	for _, r := range rules {
		if !r.fires(c.thresholds, in) {
			continue
		}
		reasons = append(reasons, r.name)
		if r.tier == models.SeverityHigh {
			severity = models.SeverityHigh
		}
		for _, k := range r.kinds(c.thresholds, in) {
			if !containsKind(kinds, k) {
				kinds = append(kinds, k)
			}
		}
	}
	if len(reasons) == 0 {
		return nil
	}

	headlines := news.Headlines
	if n := c.thresholds.MaxHeadlines; n > 0 && len(headlines) > n {
		headlines = headlines[:n]
	}

	metrics.EventsDetected.WithLabelValues(string(severity)).Inc()
	return &models.AbnormalEvent{
		UserID:   userID,
		Symbol:   symbol,
		Kinds:    kinds,
		Severity: severity,
		Facts: models.EventFacts{
			Reasons:            reasons,
			Price:              obs.Price,
			DayChangePercent:   obs.DayChangePercent,
			IntradayPercent:    obs.IntradayChangePercent,
			GapPercent:         obs.GapPercent,
			Volume:             obs.Volume,
			Baseline:           baseline.TrailingStdDevPercent,
			VolatilityMultiple: baseline.Multiple(obs.DayChangePercent),
			NewsCount6h:        news.Count6h,
			NewsAvgPerWindow:   news.AvgPerWindow7d,
			Headlines:          headlines,
			SentimentDelta:     news.SentimentDelta(),
		},
	}
}

// AttachSocial copies social context into the event facts.
func AttachSocial(ev *models.AbnormalEvent, s models.SocialContext) {
	if ev == nil {
		return
	}
	ev.Facts.SocialMentions6h = s.Mentions6h
	ev.Facts.SocialScore = s.Score
	ev.Facts.TopPosts = s.TopPosts
}

func containsKind(ks []models.EventKind, k models.EventKind) bool {
	for _, have := range ks {
		if have == k {
			return true
		}
	}
	return false
}
