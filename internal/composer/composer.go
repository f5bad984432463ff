// Package composer turns abnormal events into delivery plans. The prose comes from
// the text generation service; when that fails or answers in an unexpected shape,
// a deterministic template built from the facts is used instead.
package composer

import (
	"context"
	"encoding/json"

	"github.com/rewired-gh/stockpulse/internal/logger"
	"github.com/rewired-gh/stockpulse/internal/metrics"
	"github.com/rewired-gh/stockpulse/internal/models"
)

// MaxDetailedEvents is the largest batch that still gets per-symbol messages.
// Bigger batches collapse into a single pointer to the app.
const MaxDetailedEvents = 4

// DefaultMaxSegmentWords keeps one segment within about 45 seconds of speech.
const DefaultMaxSegmentWords = 120

// Generator produces text for a system and user prompt.
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

// Composer builds delivery plans.
type Composer struct {
	gen             Generator
	maxSegmentWords int
}

// New creates a composer. A nil generator always uses the templates.
func New(gen Generator) *Composer {
	return &Composer{gen: gen, maxSegmentWords: DefaultMaxSegmentWords}
}

type task string

const (
	taskEvent   task = "event"
	taskSummary task = "summary"
	taskCalm    task = "calm"
)

// request is the structured input sent to the generator as JSON.
type request struct {
	Task           task                   `json:"task"`
	Greet          bool                   `json:"greet"`
	AllowedFormats []string               `json:"allowed_formats"`
	MarketTrend    string                 `json:"market_trend"`
	Benchmarks     []models.BenchmarkMove `json:"benchmarks,omitempty"`
	Events         []eventFacts           `json:"events,omitempty"`
	HoldingCount   int                    `json:"holding_count,omitempty"`
	AlreadyAlerted []string               `json:"already_alerted,omitempty"`
}

type eventFacts struct {
	Symbol   string          `json:"symbol"`
	Severity models.Severity `json:"severity"`
	models.EventFacts
}

func newRequest(t task, greet bool, market models.MarketContext, formats ...string) request {
	return request{
		Task:           t,
		Greet:          greet,
		AllowedFormats: formats,
		MarketTrend:    market.Trend(),
		Benchmarks:     market.Benchmarks,
	}
}

func toFacts(events []models.AbnormalEvent) []eventFacts {
	out := make([]eventFacts, 0, len(events))
	for _, ev := range events {
		out = append(out, eventFacts{Symbol: ev.Symbol, Severity: ev.Severity, EventFacts: ev.Facts})
	}
	return out
}

// ComposeEvent builds the plan for one symbol.
func (c *Composer) ComposeEvent(ctx context.Context, ev models.AbnormalEvent, market models.MarketContext, greet bool) models.DeliveryPlan {
	req := newRequest(taskEvent, greet, market, FormatTextOnly, FormatTeaserPlusSegments)
	req.Events = toFacts([]models.AbnormalEvent{ev})

	plan := c.generate(ctx, req, func() models.DeliveryPlan {
		return eventTemplate(ev, market, greet)
	})
	plan.Severity = ev.Severity
	plan.Symbols = []string{ev.Symbol}
	plan.Greeting = greet
	return plan
}

// ComposeSummary builds the combined message for a batch. Batches larger than
// MaxDetailedEvents are forced to a summary pointing at the app.
func (c *Composer) ComposeSummary(ctx context.Context, events []models.AbnormalEvent, market models.MarketContext, greet bool) models.DeliveryPlan {
	format := FormatTextOnly
	if len(events) > MaxDetailedEvents {
		format = FormatSummaryToApp
	}
	req := newRequest(taskSummary, greet, market, format)
	req.Events = toFacts(events)

	plan := c.generate(ctx, req, func() models.DeliveryPlan {
		return summaryTemplate(events, market, greet)
	})

	plan.Severity = models.SeverityMedium
	plan.Symbols = make([]string, 0, len(events))
	for _, ev := range events {
		plan.Symbols = append(plan.Symbols, ev.Symbol)
		if ev.Severity == models.SeverityHigh {
			plan.Severity = models.SeverityHigh
		}
	}
	plan.Greeting = greet
	return plan
}

// ComposeCalm builds the reassurance sent on a manual check when nothing new
// qualifies. alreadyAlerted lists symbols still covered by an earlier alert.
func (c *Composer) ComposeCalm(ctx context.Context, holdingCount int, alreadyAlerted []string, market models.MarketContext, greet bool) models.DeliveryPlan {
	req := newRequest(taskCalm, greet, market, FormatTextOnly)
	req.HoldingCount = holdingCount
	req.AlreadyAlerted = alreadyAlerted

	plan := c.generate(ctx, req, func() models.DeliveryPlan {
		return calmTemplate(holdingCount, alreadyAlerted, market, greet)
	})
	plan.Severity = models.SeverityMedium
	plan.Greeting = greet
	return plan
}

func (c *Composer) generate(ctx context.Context, req request, fallback func() models.DeliveryPlan) models.DeliveryPlan {
	if c.gen == nil {
		metrics.ComposerFallbacks.WithLabelValues("disabled").Inc()
		return c.finish(fallback())
	}

	payload, err := json.Marshal(req)
	if err != nil {
		logger.Error("Failed to encode composer request: %v", err)
		return c.finish(fallback())
	}

	raw, err := c.gen.Generate(ctx, systemPrompt, string(payload))
	if err != nil {
		logger.Warn("Text generation failed for %s, using template: %v", req.Task, err)
		metrics.ComposerFallbacks.WithLabelValues("nlg_error").Inc()
		return c.finish(fallback())
	}

	plan, err := ParsePlan(raw, req.AllowedFormats...)
	if err != nil {
		logger.Warn("Unusable %s plan from text generation, using template: %v", req.Task, err)
		metrics.ComposerFallbacks.WithLabelValues("malformed").Inc()
		return c.finish(fallback())
	}
	return c.finish(*plan)
}

// finish applies the style rules and guarantees a valid plan.
func (c *Composer) finish(p models.DeliveryPlan) models.DeliveryPlan {
	p.Body = Sanitize(p.Body)
	p.Teaser = Sanitize(p.Teaser)
	if p.Kind == models.PlanTeaserPlusSegments {
		var segs []string
		for _, s := range p.Segments {
			s = Sanitize(s)
			if s == "" {
				continue
			}
			segs = append(segs, SplitSegment(s, c.maxSegmentWords)...)
		}
		p.Segments = segs
		if len(segs) == 0 {
			p = models.DeliveryPlan{Kind: models.PlanTextOnly, Body: p.Teaser, Fallback: p.Fallback}
		}
	}
	if err := p.Validate(); err != nil {
		return models.DeliveryPlan{Kind: models.PlanTextOnly, Body: lastResortBody, Fallback: true}
	}
	return p
}

const lastResortBody = "There is news on your holdings. Open the app for details."
