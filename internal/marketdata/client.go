// Package marketdata is a rate-limited client for an EODHD-compatible quote, history, and
// news API.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/rewired-gh/stockpulse/internal/logger"
)

// Client provides access to the market data provider.
type Client struct {
	baseURL         string
	apiKey          string
	defaultExchange string
	httpClient      *http.Client
	limiter         *rate.Limiter
	maxRetries      int
	retryDelayBase  time.Duration
}

// ClientConfig holds optional HTTP and retry tuning.
type ClientConfig struct {
	Timeout         time.Duration
	RateLimit       float64 // requests per second
	MaxRetries      int
	RetryDelayBase  time.Duration
	DefaultExchange string
}

// NewClient creates a new market data client.
func NewClient(baseURL, apiKey string, cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 5
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelayBase <= 0 {
		cfg.RetryDelayBase = time.Second
	}
	if cfg.DefaultExchange == "" {
		cfg.DefaultExchange = "US"
	}
	burst := int(cfg.RateLimit)
	if burst < 1 {
		burst = 1
	}
	return &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		apiKey:          apiKey,
		defaultExchange: cfg.DefaultExchange,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter:        rate.NewLimiter(rate.Limit(cfg.RateLimit), burst),
		maxRetries:     cfg.MaxRetries,
		retryDelayBase: cfg.RetryDelayBase,
	}
}

// Quote is the provider's real-time snapshot.
type Quote struct {
	Symbol        string
	Timestamp     time.Time
	Open          float64
	High          float64
	Low           float64
	Close         float64
	PreviousClose float64
	Change        float64
	ChangePercent float64
	Volume        int64
}

type realTimeResponse struct {
	Code          string    `json:"code"`
	Timestamp     flexFloat `json:"timestamp"`
	Open          flexFloat `json:"open"`
	High          flexFloat `json:"high"`
	Low           flexFloat `json:"low"`
	Close         flexFloat `json:"close"`
	Volume        flexFloat `json:"volume"`
	PreviousClose flexFloat `json:"previousClose"`
	Change        flexFloat `json:"change"`
	ChangeP       flexFloat `json:"change_p"`
}

type eodBar struct {
	Date          string    `json:"date"`
	Open          flexFloat `json:"open"`
	High          flexFloat `json:"high"`
	Low           flexFloat `json:"low"`
	Close         flexFloat `json:"close"`
	AdjustedClose flexFloat `json:"adjusted_close"`
	Volume        flexFloat `json:"volume"`
}

// Quote fetches the current quote for a symbol.
func (c *Client) Quote(ctx context.Context, symbol string) (*Quote, error) {
	var raw realTimeResponse
	if err := c.getJSON(ctx, "/real-time/"+url.PathEscape(c.ticker(symbol)), nil, &raw); err != nil {
		return nil, fmt.Errorf("failed to fetch quote for %s: %w", symbol, err)
	}
	if raw.Close <= 0 {
		return nil, fmt.Errorf("no price in quote for %s", symbol)
	}
	q := &Quote{
		Symbol:        symbol,
		Open:          float64(raw.Open),
		High:          float64(raw.High),
		Low:           float64(raw.Low),
		Close:         float64(raw.Close),
		PreviousClose: float64(raw.PreviousClose),
		Change:        float64(raw.Change),
		ChangePercent: float64(raw.ChangeP),
		Volume:        int64(raw.Volume),
	}
	if raw.Timestamp > 0 {
		q.Timestamp = time.Unix(int64(raw.Timestamp), 0)
	}
	return q, nil
}

// DailyCloses returns up to n most recent daily closes, oldest first.
func (c *Client) DailyCloses(ctx context.Context, symbol string, n int) ([]float64, error) {
	if n <= 0 {
		return nil, nil
	}
	// Calendar padding covers weekends and holidays.
	from := time.Now().AddDate(0, 0, -(n*2 + 10)).Format("2006-01-02")
	params := url.Values{}
	params.Set("from", from)
	params.Set("period", "d")
	params.Set("order", "a")

	var bars []eodBar
	if err := c.getJSON(ctx, "/eod/"+url.PathEscape(c.ticker(symbol)), params, &bars); err != nil {
		return nil, fmt.Errorf("failed to fetch history for %s: %w", symbol, err)
	}

	closes := make([]float64, 0, len(bars))
	for _, b := range bars {
		v := float64(b.AdjustedClose)
		if v <= 0 {
			v = float64(b.Close)
		}
		if v > 0 {
			closes = append(closes, v)
		}
	}
	if len(closes) > n {
		closes = closes[len(closes)-n:]
	}
	return closes, nil
}

// ticker maps a bare symbol to the provider's SYMBOL.EXCHANGE form.
func (c *Client) ticker(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if strings.Contains(symbol, ".") {
		return symbol
	}
	return symbol + "." + c.defaultExchange
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out interface{}) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("api_token", c.apiKey)
	params.Set("fmt", "json")

	resp, err := c.doRequest(ctx, c.baseURL+path+"?"+params.Encode())
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// doRequest performs HTTP request with rate limiting and linear-backoff retry on
// transport errors, 429 and 5xx.
func (c *Client) doRequest(ctx context.Context, urlStr string) (*http.Response, error) {
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		switch {
		case err != nil:
			lastErr = err
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
		default:
			return resp, nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Debug("Market data request failed (attempt %d/%d): %v", i+1, c.maxRetries, lastErr)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.retryDelayBase * time.Duration(i+1)):
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// flexFloat accepts numbers, numeric strings, and "NA".
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" || strings.EqualFold(s, "NA") {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid number %q: %w", s, err)
	}
	*f = flexFloat(v)
	return nil
}
