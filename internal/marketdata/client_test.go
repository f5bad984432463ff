package marketdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "demo", ClientConfig{
		Timeout:        2 * time.Second,
		RateLimit:      1000,
		MaxRetries:     3,
		RetryDelayBase: time.Millisecond,
	})
}

func TestClient_Quote(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/real-time/AAPL.US", r.URL.Path)
		assert.Equal(t, "demo", r.URL.Query().Get("api_token"))
		_, _ = w.Write([]byte(`{"code":"AAPL.US","timestamp":1700000000,"open":101,"high":"106","low":99,
			"close":105.5,"volume":1200000,"previousClose":100,"change":5.5,"change_p":5.5}`))
	})

	q, err := c.Quote(context.Background(), "aapl")
	require.NoError(t, err)
	assert.Equal(t, 105.5, q.Close)
	assert.Equal(t, 106.0, q.High, "numeric strings are accepted")
	assert.Equal(t, 100.0, q.PreviousClose)
	assert.Equal(t, int64(1200000), q.Volume)
	assert.Equal(t, int64(1700000000), q.Timestamp.Unix())
}

func TestClient_Quote_NAPrice(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"X.US","close":"NA","previousClose":"NA"}`))
	})
	_, err := c.Quote(context.Background(), "X")
	assert.Error(t, err)
}

func TestClient_DailyCloses(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/eod/MSFT.US", r.URL.Path)
		assert.Equal(t, "a", r.URL.Query().Get("order"))
		_, _ = w.Write([]byte(`[
			{"date":"2024-01-02","close":10,"adjusted_close":10},
			{"date":"2024-01-03","close":11,"adjusted_close":0},
			{"date":"2024-01-04","close":12,"adjusted_close":12},
			{"date":"2024-01-05","close":13,"adjusted_close":13}
		]`))
	})

	closes, err := c.DailyCloses(context.Background(), "MSFT", 3)
	require.NoError(t, err)
	assert.Equal(t, []float64{11, 12, 13}, closes, "keeps the newest n, falls back to close")
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"close":1,"previousClose":1}`))
	})

	_, err := c.Quote(context.Background(), "X")
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_GivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.Quote(context.Background(), "X")
	assert.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_News(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/news", r.URL.Path)
		assert.Equal(t, "NVDA.US", r.URL.Query().Get("s"))
		_, _ = w.Write([]byte(`[
			{"date":"2024-05-10T10:00:00+00:00","title":" Chip demand soars ","link":"https://www.example.com/a","sentiment":{"polarity":0.8}},
			{"date":"2024-05-10T13:00:00+00:00","title":"After the window","link":"https://example.com/b"},
			{"date":"garbage","title":"bad date","link":"https://example.com/c"},
			{"date":"2024-05-09T22:00:00+00:00","title":"No sentiment","link":"https://news.example.org/d"}
		]`))
	})

	articles, err := c.News(context.Background(), "NVDA", now.Add(-24*time.Hour), now, 50)
	require.NoError(t, err)
	require.Len(t, articles, 2)
	assert.Equal(t, "Chip demand soars", articles[0].Headline)
	assert.Equal(t, "example.com", articles[0].Source)
	require.NotNil(t, articles[0].Sentiment)
	assert.InDelta(t, 0.8, *articles[0].Sentiment, 1e-9)
	assert.Nil(t, articles[1].Sentiment)
}

func TestTicker(t *testing.T) {
	c := NewClient("http://x", "k", ClientConfig{DefaultExchange: "US"})
	assert.Equal(t, "AAPL.US", c.ticker(" aapl "))
	assert.Equal(t, "VOD.LSE", c.ticker("vod.lse"))
}
