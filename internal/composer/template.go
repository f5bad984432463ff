package composer

import (
	"fmt"
	"math"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/rewired-gh/stockpulse/internal/models"
)

const greeting = "Hi there! "

func greet(on bool) string {
	if on {
		return greeting
	}
	return ""
}

func direction(pct float64) string {
	if pct < 0 {
		return "down"
	}
	return "up"
}

func signed(pct float64) string {
	return fmt.Sprintf("%+.1f%%", pct)
}

// headline is the one-line lead of an event.
func headline(ev models.AbnormalEvent) string {
	f := ev.Facts
	s := fmt.Sprintf("%s is %s %.1f%% today", ev.Symbol, direction(f.DayChangePercent), math.Abs(f.DayChangePercent))
	if f.Price > 0 {
		s += fmt.Sprintf(" at $%.2f", f.Price)
	}
	return s + "."
}

func priceDetail(ev models.AbnormalEvent) string {
	f := ev.Facts
	var parts []string
	if f.Baseline > 0 {
		parts = append(parts, fmt.Sprintf("That is %.1fx its usual daily move of %.1f%%.", f.VolatilityMultiple, f.Baseline))
	}
	if ev.HasKind(models.KindIntradayMove) {
		parts = append(parts, fmt.Sprintf("It moved %s since the open.", signed(f.IntradayPercent)))
	}
	if ev.HasKind(models.KindGapOpen) {
		parts = append(parts, fmt.Sprintf("It opened with a %s gap from the previous close.", signed(f.GapPercent)))
	}
	if f.Volume > 0 {
		parts = append(parts, fmt.Sprintf("Volume so far is %s shares.", humanize.Comma(f.Volume)))
	}
	return strings.Join(parts, " ")
}

func newsDetail(ev models.AbnormalEvent) string {
	f := ev.Facts
	if f.NewsCount6h == 0 && f.SocialMentions6h == 0 {
		return ""
	}
	var parts []string
	if f.NewsCount6h > 0 {
		s := fmt.Sprintf("There %s %d news %s in the last 6 hours", plural(f.NewsCount6h, "was", "were"),
			f.NewsCount6h, plural(f.NewsCount6h, "story", "stories"))
		if f.NewsAvgPerWindow > 0 {
			s += fmt.Sprintf(", against a typical %.1f", f.NewsAvgPerWindow)
		}
		parts = append(parts, s+".")
	}
	if len(f.Headlines) > 0 {
		parts = append(parts, fmt.Sprintf("Latest: %q.", f.Headlines[0]))
	}
	if ev.HasKind(models.KindSentimentShift) {
		mood := "more positive"
		if f.SentimentDelta < 0 {
			mood = "more negative"
		}
		parts = append(parts, fmt.Sprintf("News tone turned %s (%+.0f points).", mood, f.SentimentDelta))
	}
	if f.SocialMentions6h > 0 {
		parts = append(parts, fmt.Sprintf("It has %d social %s in the same window.",
			f.SocialMentions6h, plural(f.SocialMentions6h, "mention", "mentions")))
	}
	return strings.Join(parts, " ")
}

func marketDetail(m models.MarketContext) string {
	switch trend := m.Trend(); trend {
	case "unknown":
		return ""
	case "flat":
		return "The broader market is flat."
	default:
		return fmt.Sprintf("The broader market is %s.", trend)
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// eventTemplate mirrors the generator's hierarchy: one cause yields a single
// text, several causes a teaser with segments.
func eventTemplate(ev models.AbnormalEvent, market models.MarketContext, greetOn bool) models.DeliveryPlan {
	lead := greet(greetOn) + headline(ev)
	price := priceDetail(ev)
	news := newsDetail(ev)
	mkt := marketDetail(market)

	if len(ev.Facts.Reasons) <= 1 {
		body := joinNonEmpty(lead, price, news, mkt)
		return models.DeliveryPlan{Kind: models.PlanTextOnly, Body: body, Fallback: true}
	}

	var segments []string
	if s := joinNonEmpty(price, mkt); s != "" {
		segments = append(segments, s)
	}
	if news != "" {
		segments = append(segments, news)
	}
	if len(segments) == 0 {
		return models.DeliveryPlan{Kind: models.PlanTextOnly, Body: lead, Fallback: true}
	}
	return models.DeliveryPlan{
		Kind:     models.PlanTeaserPlusSegments,
		Teaser:   lead,
		Segments: segments,
		Fallback: true,
	}
}

func summaryTemplate(events []models.AbnormalEvent, market models.MarketContext, greetOn bool) models.DeliveryPlan {
	moves := make([]string, 0, len(events))
	for _, ev := range events {
		moves = append(moves, fmt.Sprintf("%s %s", ev.Symbol, signed(ev.Facts.DayChangePercent)))
	}
	body := fmt.Sprintf("%s%d of your holdings are moving: %s.", greet(greetOn), len(events), strings.Join(moves, ", "))
	body = joinNonEmpty(body, marketDetail(market))

	if len(events) > MaxDetailedEvents {
		return models.DeliveryPlan{
			Kind:     models.PlanSummaryToApp,
			Body:     joinNonEmpty(body, "Open the app for the full breakdown."),
			Fallback: true,
		}
	}
	return models.DeliveryPlan{Kind: models.PlanTextOnly, Body: body, Fallback: true}
}

func calmTemplate(holdingCount int, alreadyAlerted []string, market models.MarketContext, greetOn bool) models.DeliveryPlan {
	var body string
	if len(alreadyAlerted) == 0 {
		body = greet(greetOn) + "Markets are calm for your holdings right now."
		if holdingCount > 0 {
			body += fmt.Sprintf(" None of your %d %s moved beyond its usual range.",
				holdingCount, plural(holdingCount, "holding", "holdings"))
		}
	} else {
		body = greet(greetOn) + fmt.Sprintf("Nothing new since your last alert on %s.", strings.Join(alreadyAlerted, ", "))
	}
	body = joinNonEmpty(body, marketDetail(market))
	return models.DeliveryPlan{Kind: models.PlanTextOnly, Body: body, Fallback: true}
}

func joinNonEmpty(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}
