package fetcher

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/stockpulse/internal/marketdata"
	"github.com/rewired-gh/stockpulse/internal/models"
)

var now = time.Date(2024, 5, 10, 15, 0, 0, 0, time.UTC)

type fakeQuotes struct {
	quotes map[string]*marketdata.Quote
	calls  int32
}

func (f *fakeQuotes) Quote(_ context.Context, symbol string) (*marketdata.Quote, error) {
	atomic.AddInt32(&f.calls, 1)
	q, ok := f.quotes[symbol]
	if !ok {
		return nil, errors.New("unknown symbol")
	}
	return q, nil
}

type fakeNews struct {
	articles []models.Article
	err      error
}

func (f *fakeNews) News(context.Context, string, time.Time, time.Time, int) ([]models.Article, error) {
	return f.articles, f.err
}

type fakeSocial struct {
	posts []models.Post
	err   error
}

func (f *fakeSocial) Posts(context.Context, string) ([]models.Post, error) {
	return f.posts, f.err
}

func sentiment(v float64) *float64 { return &v }

func newTestFetcher(q QuoteSource, n NewsSource, s SocialSource, benchmarks ...string) *Fetcher {
	f := New(q, n, s, Config{
		Timeout:          time.Second,
		NewsWindow:       6 * time.Hour,
		NewsBaseline:     7 * 24 * time.Hour,
		BenchmarkSymbols: benchmarks,
	})
	f.SetClock(func() time.Time { return now })
	return f
}

func TestObservationFromQuote(t *testing.T) {
	obs := ObservationFromQuote(&marketdata.Quote{
		Symbol: "AAPL", Open: 104, Close: 109.2, PreviousClose: 100, Volume: 42,
	})
	assert.InDelta(t, 9.2, obs.DayChangePercent, 1e-9)
	assert.InDelta(t, 5.0, obs.IntradayChangePercent, 1e-9)
	assert.InDelta(t, 4.0, obs.GapPercent, 1e-9)
	assert.Equal(t, 109.2, obs.Price)

	obs = ObservationFromQuote(&marketdata.Quote{Symbol: "X", Close: 10, ChangePercent: 1.5})
	assert.Equal(t, 1.5, obs.DayChangePercent, "provider change wins")
	assert.Zero(t, obs.GapPercent)
	assert.Zero(t, obs.IntradayChangePercent)
}

func TestFetcher_Observe(t *testing.T) {
	q := &fakeQuotes{quotes: map[string]*marketdata.Quote{"AAPL": {Symbol: "AAPL", Close: 101, PreviousClose: 100}}}
	f := newTestFetcher(q, nil, nil)

	obs, err := f.Observe(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, obs.DayChangePercent, 1e-9)
	assert.Equal(t, now, obs.ObservedAt)

	_, err = f.Observe(context.Background(), "NOPE")
	assert.Error(t, err)
}

func TestSummarizeNews(t *testing.T) {
	articles := []models.Article{
		{Headline: "older", PublishedAt: now.Add(-8 * time.Hour), Sentiment: sentiment(-0.4)},
		{Headline: "fresh", PublishedAt: now.Add(-1 * time.Hour), Sentiment: sentiment(0.6)},
		{Headline: "fresher", PublishedAt: now.Add(-10 * time.Minute), Sentiment: sentiment(0.2)},
		{Headline: "no score", PublishedAt: now.Add(-2 * time.Hour)},
		{Headline: "ancient", PublishedAt: now.Add(-10 * 24 * time.Hour)},
		{Headline: "future", PublishedAt: now.Add(time.Hour)},
	}

	nc := SummarizeNews(articles, now, 6*time.Hour, 7*24*time.Hour)
	assert.Equal(t, 3, nc.Count6h)
	assert.Equal(t, 4, nc.Count7d)
	assert.InDelta(t, 4.0/28.0, nc.AvgPerWindow7d, 1e-9)
	assert.Equal(t, []string{"fresher", "fresh", "no score"}, nc.Headlines, "newest first")
	assert.InDelta(t, 40, nc.SentimentCurrent, 1e-9)
	assert.InDelta(t, -40, nc.SentimentPrevious, 1e-9)
	assert.InDelta(t, 80, nc.SentimentDelta(), 1e-9)
}

func TestFetcher_NewsDegrades(t *testing.T) {
	f := newTestFetcher(&fakeQuotes{}, &fakeNews{err: context.DeadlineExceeded}, nil)
	assert.Equal(t, models.NewsContext{}, f.News(context.Background(), "AAPL"))

	f = newTestFetcher(&fakeQuotes{}, nil, nil)
	assert.Equal(t, models.NewsContext{}, f.News(context.Background(), "AAPL"))
}

func TestFetcher_Social(t *testing.T) {
	s := &fakeSocial{posts: []models.Post{
		{Body: "bull", Score: 1, CreatedAt: now.Add(-time.Hour)},
		{Body: "bear", Score: -1, CreatedAt: now.Add(-2 * time.Hour)},
		{Body: "bull again", Score: 1, CreatedAt: now.Add(-3 * time.Hour)},
		{Body: "last week", Score: 1, CreatedAt: now.Add(-3 * 24 * time.Hour)},
	}}
	f := newTestFetcher(&fakeQuotes{}, nil, s)

	sc := f.Social(context.Background(), "AAPL")
	assert.Equal(t, 3, sc.Mentions6h)
	assert.Equal(t, 4, sc.Mentions7d)
	assert.InDelta(t, 100.0/3.0, sc.Score, 1e-9)
	assert.Equal(t, []string{"bull", "bear", "bull again"}, sc.TopPosts)

	f = newTestFetcher(&fakeQuotes{}, nil, &fakeSocial{err: errors.New("down")})
	assert.Equal(t, models.SocialContext{}, f.Social(context.Background(), "AAPL"))
}

func TestFetcher_MarketIsCached(t *testing.T) {
	q := &fakeQuotes{quotes: map[string]*marketdata.Quote{
		"SPY": {Symbol: "SPY", Close: 101, PreviousClose: 100},
		"QQQ": {Symbol: "QQQ", Close: 102, PreviousClose: 100},
	}}
	f := newTestFetcher(q, nil, nil, "SPY", "QQQ", "MISSING")

	mc := f.Market(context.Background())
	require.Len(t, mc.Benchmarks, 2)
	assert.Equal(t, "rallying", mc.Trend())
	calls := atomic.LoadInt32(&q.calls)

	f.Market(context.Background())
	assert.Equal(t, calls, atomic.LoadInt32(&q.calls), "second call within ttl hits the cache")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate(" abc ", 5))
	assert.Equal(t, "ab...", truncate("abcdef", 2))
}
