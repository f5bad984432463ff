// Package fetcher gathers the per-symbol quote, news, social, and benchmark context
// that the classifier and composer consume. Every provider call is bounded by a
// timeout; only the quote is required, everything else degrades to zero values.
package fetcher

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rewired-gh/stockpulse/internal/logger"
	"github.com/rewired-gh/stockpulse/internal/marketdata"
	"github.com/rewired-gh/stockpulse/internal/metrics"
	"github.com/rewired-gh/stockpulse/internal/models"
)

// QuoteSource returns the current quote of a symbol.
type QuoteSource interface {
	Quote(ctx context.Context, symbol string) (*marketdata.Quote, error)
}

// NewsSource returns articles published in [from, to].
type NewsSource interface {
	News(ctx context.Context, symbol string, from, to time.Time, limit int) ([]models.Article, error)
}

// SocialSource returns recent posts mentioning a symbol.
type SocialSource interface {
	Posts(ctx context.Context, symbol string) ([]models.Post, error)
}

// Config tunes windows and timeouts.
type Config struct {
	Timeout          time.Duration
	NewsWindow       time.Duration
	NewsBaseline     time.Duration
	NewsLimit        int
	BenchmarkSymbols []string
	BenchmarkTTL     time.Duration
	MaxTopPosts      int
}

// Fetcher is the quote and context adapter.
type Fetcher struct {
	quotes QuoteSource
	news   NewsSource
	social SocialSource
	cfg    Config
	now    func() time.Time

	mu          sync.Mutex
	market      models.MarketContext
	marketUntil time.Time
}

// New creates a Fetcher. news and social may be nil.
func New(quotes QuoteSource, news NewsSource, social SocialSource, cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.NewsWindow <= 0 {
		cfg.NewsWindow = 6 * time.Hour
	}
	if cfg.NewsBaseline < cfg.NewsWindow {
		cfg.NewsBaseline = 7 * 24 * time.Hour
	}
	if cfg.NewsLimit <= 0 {
		cfg.NewsLimit = 100
	}
	if cfg.BenchmarkTTL <= 0 {
		cfg.BenchmarkTTL = time.Minute
	}
	if cfg.MaxTopPosts <= 0 {
		cfg.MaxTopPosts = 3
	}
	return &Fetcher{quotes: quotes, news: news, social: social, cfg: cfg, now: time.Now}
}

// SetClock replaces the time source.
func (f *Fetcher) SetClock(now func() time.Time) {
	f.now = now
}

// Observe fetches a fresh observation. A quote failure is returned to the caller,
// which skips the symbol for this poll.
func (f *Fetcher) Observe(ctx context.Context, symbol string) (models.Observation, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	q, err := f.quotes.Quote(ctx, symbol)
	if err != nil {
		metrics.ProviderErrors.WithLabelValues("quote").Inc()
		return models.Observation{}, fmt.Errorf("quote %s: %w", symbol, err)
	}
	obs := ObservationFromQuote(q)
	if obs.ObservedAt.IsZero() {
		obs.ObservedAt = f.now()
	}
	return obs, nil
}

// ObservationFromQuote derives day, intraday, and gap moves from a quote.
func ObservationFromQuote(q *marketdata.Quote) models.Observation {
	obs := models.Observation{
		Symbol:           q.Symbol,
		Price:            q.Close,
		PreviousClose:    q.PreviousClose,
		Open:             q.Open,
		DayChangePercent: q.ChangePercent,
		Volume:           q.Volume,
		ObservedAt:       q.Timestamp,
	}
	if q.PreviousClose > 0 {
		if obs.DayChangePercent == 0 {
			obs.DayChangePercent = percent(q.Close, q.PreviousClose)
		}
		if q.Open > 0 {
			obs.GapPercent = percent(q.Open, q.PreviousClose)
		}
	}
	if q.Open > 0 {
		obs.IntradayChangePercent = percent(q.Close, q.Open)
	}
	return obs
}

func percent(cur, base float64) float64 {
	return (cur - base) / base * 100
}

// News builds the short-window vs baseline news context. Failures yield zero counts.
func (f *Fetcher) News(ctx context.Context, symbol string) models.NewsContext {
	if f.news == nil {
		return models.NewsContext{}
	}
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	now := f.now()
	articles, err := f.news.News(ctx, symbol, now.Add(-f.cfg.NewsBaseline), now, f.cfg.NewsLimit)
	if err != nil {
		logger.With("symbol", symbol).Warnf("news unavailable, treating as quiet: %v", err)
		metrics.ProviderErrors.WithLabelValues("news").Inc()
		return models.NewsContext{}
	}
	return SummarizeNews(articles, now, f.cfg.NewsWindow, f.cfg.NewsBaseline)
}

// SummarizeNews splits articles into the current window and the rest of the baseline.
func SummarizeNews(articles []models.Article, now time.Time, window, baseline time.Duration) models.NewsContext {
	sorted := make([]models.Article, len(articles))
	copy(sorted, articles)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].PublishedAt.After(sorted[j].PublishedAt) })

	var (
		nc              models.NewsContext
		curSum, prevSum float64
		curN, prevN     int
		windowStart     = now.Add(-window)
		baselineStart   = now.Add(-baseline)
	)
	for _, a := range sorted {
		if a.PublishedAt.Before(baselineStart) || a.PublishedAt.After(now) {
			continue
		}
		nc.Count7d++
		if !a.PublishedAt.Before(windowStart) {
			nc.Count6h++
			if a.Headline != "" {
				nc.Headlines = append(nc.Headlines, a.Headline)
			}
			if a.Sentiment != nil {
				curSum += *a.Sentiment
				curN++
			}
			continue
		}
		if a.Sentiment != nil {
			prevSum += *a.Sentiment
			prevN++
		}
	}
	if windows := float64(baseline) / float64(window); windows > 0 {
		nc.AvgPerWindow7d = float64(nc.Count7d) / windows
	}
	if curN > 0 {
		nc.SentimentCurrent = curSum / float64(curN) * 100
	}
	if prevN > 0 {
		nc.SentimentPrevious = prevSum / float64(prevN) * 100
	}
	return nc
}

// Social builds the social mention context. Failures yield zero counts.
func (f *Fetcher) Social(ctx context.Context, symbol string) models.SocialContext {
	if f.social == nil {
		return models.SocialContext{}
	}
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	posts, err := f.social.Posts(ctx, symbol)
	if err != nil {
		logger.With("symbol", symbol).Warnf("social mentions unavailable: %v", err)
		metrics.ProviderErrors.WithLabelValues("social").Inc()
		return models.SocialContext{}
	}
	return SummarizeSocial(posts, f.now(), f.cfg.NewsWindow, f.cfg.NewsBaseline, f.cfg.MaxTopPosts)
}

// SummarizeSocial counts mentions per window and averages their scores.
func SummarizeSocial(posts []models.Post, now time.Time, window, baseline time.Duration, maxTop int) models.SocialContext {
	var (
		sc    models.SocialContext
		sum   float64
		start = now.Add(-window)
		base  = now.Add(-baseline)
	)
	for _, p := range posts {
		if p.CreatedAt.Before(base) || p.CreatedAt.After(now) {
			continue
		}
		sc.Mentions7d++
		if p.CreatedAt.Before(start) {
			continue
		}
		sc.Mentions6h++
		sum += p.Score
		if len(sc.TopPosts) < maxTop && p.Body != "" {
			sc.TopPosts = append(sc.TopPosts, truncate(p.Body, 200))
		}
	}
	if sc.Mentions6h > 0 {
		sc.Score = sum / float64(sc.Mentions6h) * 100
	}
	return sc
}

// Market returns benchmark moves, cached briefly so one tick fetches them once.
func (f *Fetcher) Market(ctx context.Context) models.MarketContext {
	if len(f.cfg.BenchmarkSymbols) == 0 {
		return models.MarketContext{}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	if now.Before(f.marketUntil) {
		return f.market
	}

	var mc models.MarketContext
	for _, sym := range f.cfg.BenchmarkSymbols {
		obs, err := f.Observe(ctx, sym)
		if err != nil {
			logger.Warn("Benchmark %s unavailable: %v", sym, err)
			continue
		}
		mc.Benchmarks = append(mc.Benchmarks, models.BenchmarkMove{
			Symbol:           strings.ToUpper(sym),
			DayChangePercent: obs.DayChangePercent,
		})
	}
	f.market = mc
	f.marketUntil = now.Add(f.cfg.BenchmarkTTL)
	return mc
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
