package social

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Posts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/streams/symbol/TSLA.json", r.URL.Path)
		_, _ = w.Write([]byte(`{"messages":[
			{"id":1,"body":"to the moon","created_at":"2024-05-10T10:00:00Z","entities":{"sentiment":{"basic":"Bullish"}}},
			{"id":2,"body":"selling everything","created_at":"2024-05-10T09:00:00Z","entities":{"sentiment":{"basic":"Bearish"}}},
			{"id":3,"body":"meh","created_at":"2024-05-10T08:00:00Z","entities":{"sentiment":null}},
			{"id":4,"body":"bad","created_at":"yesterday","entities":{}}
		]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, 100)
	posts, err := c.Posts(context.Background(), "tsla")
	require.NoError(t, err)
	require.Len(t, posts, 3)
	assert.Equal(t, 1.0, posts[0].Score)
	assert.Equal(t, -1.0, posts[1].Score)
	assert.Equal(t, 0.0, posts[2].Score)
	assert.Equal(t, "to the moon", posts[0].Body)
}

func TestClient_Posts_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, 100)
	_, err := c.Posts(context.Background(), "TSLA")
	assert.Error(t, err)
}
