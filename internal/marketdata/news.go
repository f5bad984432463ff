package marketdata

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rewired-gh/stockpulse/internal/models"
)

type newsItem struct {
	Date      string   `json:"date"`
	Title     string   `json:"title"`
	Link      string   `json:"link"`
	Symbols   []string `json:"symbols"`
	Sentiment *struct {
		Polarity float64 `json:"polarity"`
	} `json:"sentiment,omitempty"`
}

// News returns articles about symbol published in [from, to].
func (c *Client) News(ctx context.Context, symbol string, from, to time.Time, limit int) ([]models.Article, error) {
	if limit <= 0 {
		limit = 100
	}
	params := url.Values{}
	params.Set("s", c.ticker(symbol))
	params.Set("from", from.UTC().Format("2006-01-02"))
	params.Set("to", to.UTC().Format("2006-01-02"))
	params.Set("limit", strconv.Itoa(limit))

	var items []newsItem
	if err := c.getJSON(ctx, "/news", params, &items); err != nil {
		return nil, fmt.Errorf("failed to fetch news for %s: %w", symbol, err)
	}

	articles := make([]models.Article, 0, len(items))
	for _, it := range items {
		published, err := parseNewsDate(it.Date)
		if err != nil {
			continue
		}
		// The API filters by day; trim to the exact range.
		if published.Before(from) || published.After(to) {
			continue
		}
		a := models.Article{
			Headline:    strings.TrimSpace(it.Title),
			Source:      hostOf(it.Link),
			URL:         it.Link,
			PublishedAt: published,
		}
		if it.Sentiment != nil {
			p := it.Sentiment.Polarity
			a.Sentiment = &p
		}
		articles = append(articles, a)
	}
	return articles, nil
}

func parseNewsDate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

func hostOf(link string) string {
	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.TrimPrefix(u.Host, "www.")
}
