package aggregator

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/stockpulse/internal/models"
)

type fakeDedup map[string]bool

func (f fakeDedup) WasSent(_ context.Context, userID, symbol string, _ models.EventKind) bool {
	return f[userID+"/"+symbol]
}

func event(symbol string, sev models.Severity, day float64) models.AbnormalEvent {
	return models.AbnormalEvent{
		UserID:   "u1",
		Symbol:   symbol,
		Severity: sev,
		Kinds:    []models.EventKind{models.KindPriceSpike},
		Facts:    models.EventFacts{DayChangePercent: day},
	}
}

var t0 = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

func newTestAggregator(dedup Dedup) (*Aggregator, *MemoryTracker) {
	tr := NewMemoryTracker()
	a := New(dedup, tr, 4*time.Hour)
	a.SetClock(func() time.Time { return t0 })
	return a, tr
}

func TestAggregate_Quiet(t *testing.T) {
	a, _ := newTestAggregator(fakeDedup{})
	b := a.Aggregate(context.Background(), "u1", nil, nil)
	assert.True(t, b.Quiet)
	assert.Empty(t, b.Events)
	assert.False(t, b.Summary)
}

func TestAggregate_SingleEventGreeting(t *testing.T) {
	a, tr := newTestAggregator(fakeDedup{})
	ctx := context.Background()
	events := []models.AbnormalEvent{event("AAPL", models.SeverityHigh, 6)}

	b := a.Aggregate(ctx, "u1", nil, events)
	assert.True(t, b.Greet, "first message greets")
	assert.False(t, b.Summary)

	tr.Touch(ctx, "u1", t0.Add(-time.Hour))
	b = a.Aggregate(ctx, "u1", nil, events)
	assert.False(t, b.Greet, "recent message suppresses the greeting")

	tr.Touch(ctx, "u1", t0.Add(-5*time.Hour))
	b = a.Aggregate(ctx, "u1", nil, events)
	assert.True(t, b.Greet)
}

func TestAggregate_BatchGetsSummary(t *testing.T) {
	a, _ := newTestAggregator(fakeDedup{})
	b := a.Aggregate(context.Background(), "u1", nil, []models.AbnormalEvent{
		event("MSFT", models.SeverityMedium, 3),
		event("AAPL", models.SeverityHigh, 2),
		event("TSLA", models.SeverityHigh, -8),
	})
	require.Len(t, b.Events, 3)
	assert.True(t, b.Summary)
	assert.True(t, b.Greet)
	assert.Equal(t, "TSLA", b.Events[0].Symbol)
	assert.Equal(t, "AAPL", b.Events[1].Symbol)
	assert.Equal(t, "MSFT", b.Events[2].Symbol)
}

func TestAggregate_LedgerFiltering(t *testing.T) {
	a, _ := newTestAggregator(fakeDedup{"u1/AAPL": true})
	b := a.Aggregate(context.Background(), "u1", nil, []models.AbnormalEvent{
		event("AAPL", models.SeverityHigh, 6),
		event("MSFT", models.SeverityHigh, 6),
	})
	assert.Equal(t, []string{"AAPL"}, b.Skipped)
	require.Len(t, b.Events, 1)
	assert.False(t, b.Summary, "one survivor needs no summary")

	b = a.Aggregate(context.Background(), "u1", nil, []models.AbnormalEvent{event("AAPL", models.SeverityHigh, 6)})
	assert.True(t, b.Quiet)
	assert.Equal(t, []string{"AAPL"}, b.Skipped)
}

func TestAggregate_HighOnlyMode(t *testing.T) {
	a, _ := newTestAggregator(fakeDedup{"u1/MSFT": true})
	settings := &models.NotificationSettings{UserID: "u1", InAppEnabled: true, Mode: models.ModeHighOnly}

	b := a.Aggregate(context.Background(), "u1", settings, []models.AbnormalEvent{
		event("AAPL", models.SeverityMedium, 3),
		event("MSFT", models.SeverityMedium, 3),
		event("TSLA", models.SeverityHigh, 7),
	})
	assert.ElementsMatch(t, []string{"AAPL", "MSFT"}, b.Filtered)
	assert.Empty(t, b.Skipped, "mode filtering happens before the ledger")
	require.Len(t, b.Events, 1)
	assert.Equal(t, "TSLA", b.Events[0].Symbol)
}

func TestAggregator_MarkMessaged(t *testing.T) {
	a, tr := newTestAggregator(nil)
	ctx := context.Background()
	a.MarkMessaged(ctx, "u1")
	last, ok := tr.LastMessageAt(ctx, "u1")
	require.True(t, ok)
	assert.Equal(t, t0, last)
	assert.False(t, a.ShouldGreet(ctx, "u1"))
}

func TestRedisTracker(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	tr, err := NewRedisTracker(ctx, addr, os.Getenv("REDIS_PASSWORD"), 0, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = tr.client.Del(ctx, tr.key("test-user")).Err()
		_ = tr.Close()
	})

	_, ok := tr.LastMessageAt(ctx, "test-user")
	assert.False(t, ok)

	tr.Touch(ctx, "test-user", t0)
	got, ok := tr.LastMessageAt(ctx, "test-user")
	require.True(t, ok)
	assert.Equal(t, t0.UnixNano(), got.UnixNano())
}
