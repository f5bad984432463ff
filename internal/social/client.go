// Package social fetches recent symbol mentions from a StockTwits-compatible stream API.
package social

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/rewired-gh/stockpulse/internal/models"
)

// Client provides access to the social stream API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a new social client. rps is the allowed requests per second.
func NewClient(baseURL string, timeout time.Duration, rps float64) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if rps <= 0 {
		rps = 1
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
	}
}

type streamResponse struct {
	Messages []struct {
		ID        int64  `json:"id"`
		Body      string `json:"body"`
		CreatedAt string `json:"created_at"`
		Entities  struct {
			Sentiment *struct {
				Basic string `json:"basic"`
			} `json:"sentiment"`
		} `json:"entities"`
	} `json:"messages"`
}

// Posts returns the most recent posts mentioning symbol, newest first.
func (c *Client) Posts(ctx context.Context, symbol string) ([]models.Post, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	u := fmt.Sprintf("%s/streams/symbol/%s.json", c.baseURL, url.PathEscape(strings.ToUpper(symbol)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch posts for %s: %w", symbol, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch posts for %s: status %d", symbol, resp.StatusCode)
	}

	var body streamResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode posts: %w", err)
	}

	posts := make([]models.Post, 0, len(body.Messages))
	for _, m := range body.Messages {
		created, err := time.Parse(time.RFC3339, m.CreatedAt)
		if err != nil {
			continue
		}
		var score float64
		if m.Entities.Sentiment != nil {
			switch strings.ToLower(m.Entities.Sentiment.Basic) {
			case "bullish":
				score = 1
			case "bearish":
				score = -1
			}
		}
		posts = append(posts, models.Post{
			Body:      strings.TrimSpace(m.Body),
			Score:     score,
			CreatedAt: created,
		})
	}
	return posts, nil
}
