package aggregator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rewired-gh/stockpulse/internal/logger"
)

// DefaultGreetingInterval is the quiet gap after which the next message greets.
const DefaultGreetingInterval = 4 * time.Hour

// GreetingTracker remembers when each user last received a message. It is best
// effort: a lost timestamp only costs an extra greeting.
type GreetingTracker interface {
	LastMessageAt(ctx context.Context, userID string) (time.Time, bool)
	Touch(ctx context.Context, userID string, at time.Time)
}

// MemoryTracker keeps timestamps in process memory.
type MemoryTracker struct {
	mu   sync.RWMutex
	last map[string]time.Time
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{last: make(map[string]time.Time)}
}

func (m *MemoryTracker) LastMessageAt(_ context.Context, userID string) (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.last[userID]
	return t, ok
}

func (m *MemoryTracker) Touch(_ context.Context, userID string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last[userID] = at
}

// RedisTracker keeps timestamps in Redis so they survive restarts and are shared
// across instances. Keys expire after ttl.
type RedisTracker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisTracker connects to addr and verifies the connection.
func NewRedisTracker(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisTracker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisTracker{client: client, ttl: ttl}, nil
}

func (r *RedisTracker) key(userID string) string {
	return "stockpulse:greeting:" + userID
}

func (r *RedisTracker) LastMessageAt(ctx context.Context, userID string) (time.Time, bool) {
	val, err := r.client.Get(ctx, r.key(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false
	}
	if err != nil {
		logger.Warn("Greeting state unavailable for %s: %v", userID, err)
		return time.Time{}, false
	}
	nanos, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, nanos), true
}

func (r *RedisTracker) Touch(ctx context.Context, userID string, at time.Time) {
	if err := r.client.Set(ctx, r.key(userID), strconv.FormatInt(at.UnixNano(), 10), r.ttl).Err(); err != nil {
		logger.Warn("Failed to store greeting state for %s: %v", userID, err)
	}
}

// Close releases the Redis connection.
func (r *RedisTracker) Close() error {
	return r.client.Close()
}
