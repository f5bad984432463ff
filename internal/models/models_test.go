package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestHoldingValidate(t *testing.T) {
	tests := []struct {
		name    string
		holding Holding
		wantErr bool
	}{
		{
			name:    "valid holding",
			holding: Holding{UserID: "u1", Symbol: "AAPL", Shares: decimal.NewFromInt(10), AvgCost: decimal.RequireFromString("150.25")},
			wantErr: false,
		},
		{
			name:    "empty user",
			holding: Holding{Symbol: "AAPL"},
			wantErr: true,
		},
		{
			name:    "blank symbol",
			holding: Holding{UserID: "u1", Symbol: "  "},
			wantErr: true,
		},
		{
			name:    "negative shares",
			holding: Holding{UserID: "u1", Symbol: "AAPL", Shares: decimal.NewFromInt(-1)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.holding.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Holding.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDeliveryPlanValidate(t *testing.T) {
	tests := []struct {
		name    string
		plan    DeliveryPlan
		wantErr bool
	}{
		{"text only", DeliveryPlan{Kind: PlanTextOnly, Body: "AAPL is up 6%"}, false},
		{"text only empty", DeliveryPlan{Kind: PlanTextOnly, Body: " "}, true},
		{"teaser with segments", DeliveryPlan{Kind: PlanTeaserPlusSegments, Teaser: "t", Segments: []string{"s"}}, false},
		{"teaser without segments", DeliveryPlan{Kind: PlanTeaserPlusSegments, Teaser: "t"}, true},
		{"summary to app", DeliveryPlan{Kind: PlanSummaryToApp, Body: "open the app"}, false},
		{"unknown kind", DeliveryPlan{Kind: "nope", Body: "x"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.plan.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("DeliveryPlan.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSortEvents(t *testing.T) {
	events := []AbnormalEvent{
		{Symbol: "B", Severity: SeverityMedium, Facts: EventFacts{DayChangePercent: 9}},
		{Symbol: "A", Severity: SeverityHigh, Facts: EventFacts{DayChangePercent: -3}},
		{Symbol: "C", Severity: SeverityHigh, Facts: EventFacts{DayChangePercent: -7}},
	}
	SortEvents(events)
	got := []string{events[0].Symbol, events[1].Symbol, events[2].Symbol}
	want := []string{"C", "A", "B"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("SortEvents order = %v, want %v", got, want)
		}
	}
}

func TestBaselineMultiple(t *testing.T) {
	b := VolatilityBaseline{Symbol: "X", TrailingStdDevPercent: 2}
	if m := b.Multiple(-6); m != 3 {
		t.Errorf("Multiple(-6) = %f, want 3", m)
	}
	zero := VolatilityBaseline{Symbol: "X"}
	if m := zero.Multiple(4); m != 2 {
		t.Errorf("Multiple with zero baseline = %f, want 2 (default floor)", m)
	}
}

func TestMarketContextTrend(t *testing.T) {
	tests := []struct {
		moves []float64
		want  string
	}{
		{nil, "unknown"},
		{[]float64{1.5, 0.8}, "rallying"},
		{[]float64{-2}, "selling off"},
		{[]float64{0.1, -0.1}, "flat"},
		{[]float64{0.4}, "slightly up"},
	}
	for _, tt := range tests {
		var mc MarketContext
		for _, m := range tt.moves {
			mc.Benchmarks = append(mc.Benchmarks, BenchmarkMove{Symbol: "SPY", DayChangePercent: m})
		}
		if got := mc.Trend(); got != tt.want {
			t.Errorf("Trend(%v) = %q, want %q", tt.moves, got, tt.want)
		}
	}
}

func TestSettingsAcceptsAndChannels(t *testing.T) {
	s := NotificationSettings{UserID: "u1", Mode: ModeHighOnly}
	if s.Accepts(SeverityMedium) {
		t.Error("high_only mode should reject medium severity")
	}
	if !s.Accepts(SeverityHigh) {
		t.Error("high_only mode should accept high severity")
	}
	if s.HasEnabledChannel() {
		t.Error("no channel enabled, HasEnabledChannel should be false")
	}
	s.TelegramEnabled = true
	if s.HasEnabledChannel() {
		t.Error("telegram without chat id is not a usable channel")
	}
	s.TelegramChatID = 42
	if !s.HasEnabledChannel() {
		t.Error("telegram with chat id should count as enabled")
	}
}
