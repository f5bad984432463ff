package composer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/stockpulse/internal/models"
)

type fakeGenerator struct {
	out   string
	err   error
	calls int
	last  request
}

func (f *fakeGenerator) Generate(_ context.Context, system, user string) (string, error) {
	f.calls++
	_ = json.Unmarshal([]byte(user), &f.last)
	return f.out, f.err
}

func spike(symbol string, reasons ...string) models.AbnormalEvent {
	if len(reasons) == 0 {
		reasons = []string{"escalation"}
	}
	return models.AbnormalEvent{
		UserID:   "u1",
		Symbol:   symbol,
		Kinds:    []models.EventKind{models.KindPriceSpike, models.KindNewsSurge},
		Severity: models.SeverityHigh,
		Facts: models.EventFacts{
			Reasons:            reasons,
			Price:              106,
			DayChangePercent:   6,
			Volume:             1234567,
			Baseline:           2,
			VolatilityMultiple: 3,
			NewsCount6h:        3,
			NewsAvgPerWindow:   0.5,
			Headlines:          []string{"Chip demand soars"},
		},
	}
}

var flatMarket = models.MarketContext{Benchmarks: []models.BenchmarkMove{{Symbol: "SPY", DayChangePercent: 0.1}}}

func TestComposeEvent_TextOnly(t *testing.T) {
	gen := &fakeGenerator{out: `{"format":"TEXT_ONLY","body":"AAPL jumped 6% — news drove it."}`}
	c := New(gen)

	plan := c.ComposeEvent(context.Background(), spike("AAPL"), flatMarket, true)
	assert.Equal(t, models.PlanTextOnly, plan.Kind)
	assert.Equal(t, "AAPL jumped 6%, news drove it.", plan.Body)
	assert.False(t, plan.Fallback)
	assert.True(t, plan.Greeting)
	assert.Equal(t, models.SeverityHigh, plan.Severity)
	assert.Equal(t, []string{"AAPL"}, plan.Symbols)

	assert.Equal(t, taskEvent, gen.last.Task)
	assert.True(t, gen.last.Greet)
	assert.Equal(t, "flat", gen.last.MarketTrend)
	require.Len(t, gen.last.Events, 1)
	assert.Equal(t, 3.0, gen.last.Events[0].VolatilityMultiple)
	assert.Equal(t, []string{"Chip demand soars"}, gen.last.Events[0].Headlines)
}

func TestComposeEvent_TeaserPlusSegments(t *testing.T) {
	long := strings.Repeat("word ", 130) + "end."
	gen := &fakeGenerator{out: "```json\n" + fmt.Sprintf(
		`{"format":"TEASER_PLUS_SEGMENTS","teaser":"NVDA is moving.","segments":["Short one.","%s"]}`, long) + "\n```"}
	c := New(gen)

	plan := c.ComposeEvent(context.Background(), spike("NVDA"), flatMarket, false)
	require.Equal(t, models.PlanTeaserPlusSegments, plan.Kind)
	assert.Equal(t, "NVDA is moving.", plan.Teaser)
	require.Len(t, plan.Segments, 3, "the long segment is split")
	for _, s := range plan.Segments {
		assert.LessOrEqual(t, len(strings.Fields(s)), DefaultMaxSegmentWords)
	}
}

func TestCompose_FallbackSafety(t *testing.T) {
	outputs := []string{
		"",
		"Sure! Here is your alert: AAPL went up.",
		`{"format":"TEXT_ONLY","body":"   "}`,
		`{"format":"TEASER_PLUS_SEGMENTS","teaser":"x","segments":[]}`,
		`{"format":"POEM","body":"roses"}`,
		`{"format":"TEXT_ONLY","body":`,
		`{"format":"SUMMARY_TO_APP","body":"open the app"}`,
	}
	for _, out := range outputs {
		t.Run(out, func(t *testing.T) {
			c := New(&fakeGenerator{out: out})
			plan := c.ComposeEvent(context.Background(), spike("AAPL"), flatMarket, false)
			require.NoError(t, plan.Validate())
			assert.True(t, plan.Fallback)
			assert.NotEmpty(t, strings.TrimSpace(plan.Lead()))
			assert.Contains(t, plan.Lead(), "AAPL")
		})
	}
}

func TestCompose_GeneratorErrorAndDisabled(t *testing.T) {
	for name, c := range map[string]*Composer{
		"error":    New(&fakeGenerator{err: errors.New("503")}),
		"disabled": New(nil),
	} {
		t.Run(name, func(t *testing.T) {
			plan := c.ComposeEvent(context.Background(), spike("AAPL"), flatMarket, true)
			require.NoError(t, plan.Validate())
			assert.True(t, plan.Fallback)
			assert.True(t, strings.HasPrefix(plan.Lead(), greeting))
			assert.Contains(t, plan.Lead(), "AAPL is up 6.0% today at $106.00.")

			calm := c.ComposeCalm(context.Background(), 3, nil, flatMarket, false)
			assert.Equal(t, models.PlanTextOnly, calm.Kind)
			assert.Contains(t, calm.Body, "None of your 3 holdings")
			assert.NotContains(t, calm.Body, greeting)

			calm = c.ComposeCalm(context.Background(), 3, []string{"AAPL"}, flatMarket, false)
			assert.Contains(t, calm.Body, "Nothing new since your last alert on AAPL.")
		})
	}
}

func TestEventTemplate_Shapes(t *testing.T) {
	single := eventTemplate(spike("AAPL"), models.MarketContext{}, false)
	assert.Equal(t, models.PlanTextOnly, single.Kind)
	assert.Contains(t, single.Body, "1,234,567 shares")
	assert.Contains(t, single.Body, "3.0x its usual daily move")

	multi := eventTemplate(spike("AAPL", "price_vs_volatility", "news_surge"), flatMarket, false)
	require.Equal(t, models.PlanTeaserPlusSegments, multi.Kind)
	assert.Len(t, multi.Segments, 2)
	assert.Contains(t, multi.Segments[1], `Latest: "Chip demand soars".`)
	assert.Contains(t, multi.Segments[0], "The broader market is flat.")
}

func TestComposeSummary(t *testing.T) {
	gen := &fakeGenerator{out: `{"format":"TEXT_ONLY","body":"Good morning! AAPL and MSFT are both moving."}`}
	c := New(gen)
	events := []models.AbnormalEvent{spike("AAPL"), spike("MSFT")}
	events[1].Severity = models.SeverityMedium

	plan := c.ComposeSummary(context.Background(), events, flatMarket, true)
	assert.Equal(t, models.PlanTextOnly, plan.Kind)
	assert.True(t, plan.Greeting)
	assert.Equal(t, models.SeverityHigh, plan.Severity)
	assert.Equal(t, []string{"AAPL", "MSFT"}, plan.Symbols)
	assert.Equal(t, []string{FormatTextOnly}, gen.last.AllowedFormats)
}

func TestComposeSummary_LargeBatchGoesToApp(t *testing.T) {
	var events []models.AbnormalEvent
	for _, s := range []string{"A", "B", "C", "D", "E"} {
		events = append(events, spike(s))
	}

	gen := &fakeGenerator{out: `{"format":"TEASER_PLUS_SEGMENTS","teaser":"t","segments":["s"]}`}
	plan := New(gen).ComposeSummary(context.Background(), events, flatMarket, false)
	assert.Equal(t, models.PlanSummaryToApp, plan.Kind)
	assert.Empty(t, plan.Segments)
	assert.Equal(t, []string{FormatSummaryToApp}, gen.last.AllowedFormats)
	assert.Contains(t, plan.Body, "5 of your holdings are moving")
	assert.Contains(t, plan.Body, "Open the app")

	gen = &fakeGenerator{out: `{"format":"SUMMARY_TO_APP","body":"Busy day across your portfolio. Open the app."}`}
	plan = New(gen).ComposeSummary(context.Background(), events, flatMarket, false)
	assert.Equal(t, models.PlanSummaryToApp, plan.Kind)
	assert.False(t, plan.Fallback)
}

func TestBatchDetailsCarryNoGreeting(t *testing.T) {
	c := New(nil)
	events := []models.AbnormalEvent{spike("AAPL"), spike("MSFT"), spike("TSLA")}

	summary := c.ComposeSummary(context.Background(), events, flatMarket, true)
	assert.True(t, summary.Greeting)
	assert.True(t, strings.HasPrefix(summary.Body, greeting))

	for _, ev := range events {
		detail := c.ComposeEvent(context.Background(), ev, flatMarket, false)
		assert.False(t, detail.Greeting)
		assert.NotContains(t, detail.Lead(), greeting)
	}
}

func TestSanitize(t *testing.T) {
	tests := map[string]string{
		"up 5% — on news":    "up 5%, on news",
		"up 5%—on news":      "up 5%, on news",
		"rally – then a dip": "rally, then a dip",
		"trading 9–10am":     "trading 9–10am",
		"done —.":            "done.",
		"— leading":          "leading",
		"a  —  , b":          "a, b",
		"  plain   text  ":   "plain text",
	}
	for in, want := range tests {
		assert.Equal(t, want, Sanitize(in), in)
	}
}

func TestSplitSegment(t *testing.T) {
	short := "Just a few words."
	assert.Equal(t, []string{short}, SplitSegment(short, 120))

	s := "One two three. Four five six. Seven eight nine."
	assert.Equal(t, []string{"One two three.", "Four five six.", "Seven eight nine."}, SplitSegment(s, 4))
	assert.Equal(t, []string{"One two three. Four five six.", "Seven eight nine."}, SplitSegment(s, 6))

	runOn := strings.TrimSpace(strings.Repeat("w ", 10))
	parts := SplitSegment(runOn, 4)
	assert.Equal(t, []string{"w w w w", "w w w w", "w w"}, parts)
}

func TestParsePlan(t *testing.T) {
	p, err := ParsePlan(`noise {"format":"summary_to_app","body":"Open the app."} trailing`)
	require.NoError(t, err)
	assert.Equal(t, models.PlanSummaryToApp, p.Kind)

	_, err = ParsePlan(`{"format":"TEXT_ONLY","body":"x"}`, FormatSummaryToApp)
	assert.ErrorIs(t, err, ErrMalformedPlan)

	_, err = ParsePlan("no json here")
	assert.ErrorIs(t, err, ErrMalformedPlan)
}
