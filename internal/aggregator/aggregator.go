// Package aggregator turns one user's classified events into a delivery batch:
// it applies the user's severity mode, drops events the ledger already covers,
// and decides on greeting and summary.
package aggregator

import (
	"context"
	"time"

	"github.com/rewired-gh/stockpulse/internal/metrics"
	"github.com/rewired-gh/stockpulse/internal/models"
)

// Dedup reports whether a notification for the key is still within its window.
type Dedup interface {
	WasSent(ctx context.Context, userID, symbol string, kind models.EventKind) bool
}

// Batch is the aggregated outcome for one user in one poll.
type Batch struct {
	UserID string
	// Events are ordered by severity, then by move size.
	Events []models.AbnormalEvent
	// Skipped lists symbols suppressed by the ledger.
	Skipped []string
	// Filtered lists symbols dropped by the user's severity mode.
	Filtered []string
	Quiet    bool
	Greet    bool
	// Summary is set when a combined summary must precede the detail messages.
	Summary bool
}

// Aggregator builds batches.
type Aggregator struct {
	dedup    Dedup
	greeting GreetingTracker
	interval time.Duration
	now      func() time.Time
}

// New creates an aggregator. A nil tracker selects an in-memory one.
func New(dedup Dedup, greeting GreetingTracker, interval time.Duration) *Aggregator {
	if greeting == nil {
		greeting = NewMemoryTracker()
	}
	if interval <= 0 {
		interval = DefaultGreetingInterval
	}
	return &Aggregator{dedup: dedup, greeting: greeting, interval: interval, now: time.Now}
}

// SetClock replaces the time source.
func (a *Aggregator) SetClock(now func() time.Time) {
	a.now = now
}

// Aggregate filters events and decides the batch shape.
func (a *Aggregator) Aggregate(ctx context.Context, userID string, settings *models.NotificationSettings, events []models.AbnormalEvent) Batch {
	b := Batch{UserID: userID}
	for _, ev := range events {
		if settings != nil && !settings.Accepts(ev.Severity) {
			b.Filtered = append(b.Filtered, ev.Symbol)
			continue
		}
		if a.dedup != nil && a.dedup.WasSent(ctx, userID, ev.Symbol, ev.LedgerKind()) {
			b.Skipped = append(b.Skipped, ev.Symbol)
			metrics.EventsSuppressed.Inc()
			continue
		}
		b.Events = append(b.Events, ev)
	}

	if len(b.Events) == 0 {
		b.Quiet = true
		b.Greet = a.ShouldGreet(ctx, userID)
		return b
	}

	models.SortEvents(b.Events)
	b.Summary = len(b.Events) >= 2
	b.Greet = a.ShouldGreet(ctx, userID)
	return b
}

// ShouldGreet reports whether the user has been quiet longer than the interval.
func (a *Aggregator) ShouldGreet(ctx context.Context, userID string) bool {
	last, ok := a.greeting.LastMessageAt(ctx, userID)
	if !ok {
		return true
	}
	return a.now().Sub(last) > a.interval
}

// MarkMessaged records that the user just received a message.
func (a *Aggregator) MarkMessaged(ctx context.Context, userID string) {
	a.greeting.Touch(ctx, userID, a.now())
}
