package composer

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rewired-gh/stockpulse/internal/models"
)

// Formats the generator may answer with.
const (
	FormatTextOnly           = "TEXT_ONLY"
	FormatTeaserPlusSegments = "TEASER_PLUS_SEGMENTS"
	FormatSummaryToApp       = "SUMMARY_TO_APP"
)

// ErrMalformedPlan is returned when generated output is not one of the expected shapes.
var ErrMalformedPlan = errors.New("malformed plan")

func trimFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

type generatedPlan struct {
	Format   string   `json:"format"`
	Body     string   `json:"body"`
	Teaser   string   `json:"teaser"`
	Segments []string `json:"segments"`
}

// ParsePlan decodes the generator's tagged union. When allowed is non-empty the
// format must be one of them.
func ParsePlan(raw string, allowed ...string) (*models.DeliveryPlan, error) {
	s := trimFence(raw)
	start, end := strings.Index(s, "{"), strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object", ErrMalformedPlan)
	}

	var g generatedPlan
	if err := json.Unmarshal([]byte(s[start:end+1]), &g); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPlan, err)
	}

	format := strings.ToUpper(strings.TrimSpace(g.Format))
	if len(allowed) > 0 && !contains(allowed, format) {
		return nil, fmt.Errorf("%w: format %q not allowed", ErrMalformedPlan, g.Format)
	}

	var plan models.DeliveryPlan
	switch format {
	case FormatTextOnly:
		plan = models.DeliveryPlan{Kind: models.PlanTextOnly, Body: strings.TrimSpace(g.Body)}
	case FormatSummaryToApp:
		plan = models.DeliveryPlan{Kind: models.PlanSummaryToApp, Body: strings.TrimSpace(g.Body)}
	case FormatTeaserPlusSegments:
		plan = models.DeliveryPlan{Kind: models.PlanTeaserPlusSegments, Teaser: strings.TrimSpace(g.Teaser)}
		for _, seg := range g.Segments {
			if seg = strings.TrimSpace(seg); seg != "" {
				plan.Segments = append(plan.Segments, seg)
			}
		}
	default:
		return nil, fmt.Errorf("%w: unknown format %q", ErrMalformedPlan, g.Format)
	}
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPlan, err)
	}
	return &plan, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

var (
	emDash       = regexp.MustCompile(`\s*\x{2014}\s*`)
	spacedEnDash = regexp.MustCompile(`\s+\x{2013}\s+`)
	doubleComma  = regexp.MustCompile(`,\s*,`)
	commaStop    = regexp.MustCompile(`,\s*([.!?])`)
	spaces       = regexp.MustCompile(`[ \t]+`)
)

// Sanitize replaces dashes used as punctuation with commas and tidies whitespace.
// En dashes inside ranges such as "9–10" are kept.
func Sanitize(s string) string {
	s = emDash.ReplaceAllString(s, ", ")
	s = spacedEnDash.ReplaceAllString(s, ", ")
	s = doubleComma.ReplaceAllString(s, ",")
	s = commaStop.ReplaceAllString(s, "$1")
	s = spaces.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	return strings.TrimLeft(s, ", ")
}

var sentenceEnd = regexp.MustCompile(`[.!?]["')\]]?\s+`)

// SplitSegment breaks text longer than maxWords into sentence-aligned pieces.
// A single sentence longer than maxWords is cut on word boundaries.
func SplitSegment(s string, maxWords int) []string {
	if maxWords <= 0 || len(strings.Fields(s)) <= maxWords {
		return []string{s}
	}

	var sentences []string
	last := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(s, -1) {
		sentences = append(sentences, strings.TrimSpace(s[last:loc[1]]))
		last = loc[1]
	}
	if rest := strings.TrimSpace(s[last:]); rest != "" {
		sentences = append(sentences, rest)
	}

	var (
		out   []string
		cur   []string
		count int
	)
	flush := func() {
		if len(cur) > 0 {
			out = append(out, strings.Join(cur, " "))
			cur, count = nil, 0
		}
	}
	for _, sent := range sentences {
		words := strings.Fields(sent)
		if len(words) > maxWords {
			flush()
			for i := 0; i < len(words); i += maxWords {
				j := i + maxWords
				if j > len(words) {
					j = len(words)
				}
				out = append(out, strings.Join(words[i:j], " "))
			}
			continue
		}
		if count+len(words) > maxWords {
			flush()
		}
		cur = append(cur, sent)
		count += len(words)
	}
	flush()
	return out
}
