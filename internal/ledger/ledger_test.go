package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/stockpulse/internal/models"
	"github.com/rewired-gh/stockpulse/internal/storage"
)

func newTestLedger(t *testing.T) (*Ledger, *storage.Storage, *time.Time) {
	t.Helper()
	s, err := storage.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	clock := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	l := New(s, 24*time.Hour)
	l.SetClock(func() time.Time { return clock })
	return l, s, &clock
}

func TestLedger_RecordThenSuppress(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	assert.False(t, l.WasSent(ctx, "u1", "AAPL", models.KindCombined))
	assert.True(t, l.Record(ctx, "u1", "AAPL", models.KindCombined))
	assert.True(t, l.WasSent(ctx, "u1", "AAPL", models.KindCombined))
	assert.False(t, l.WasSent(ctx, "u1", "MSFT", models.KindCombined))
	assert.False(t, l.WasSent(ctx, "u2", "AAPL", models.KindCombined))

	assert.False(t, l.Record(ctx, "u1", "AAPL", models.KindCombined), "second record inside the window is rejected")
}

func TestLedger_ExpiryIsRolling(t *testing.T) {
	l, s, clock := newTestLedger(t)
	ctx := context.Background()

	require.True(t, l.Record(ctx, "u1", "AAPL", models.KindCombined))

	*clock = clock.Add(23 * time.Hour)
	assert.True(t, l.WasSent(ctx, "u1", "AAPL", models.KindCombined))

	*clock = clock.Add(2 * time.Hour)
	assert.False(t, l.WasSent(ctx, "u1", "AAPL", models.KindCombined), "expired record must not suppress")

	n, err := l.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	count, err := s.CountRecords(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestLedger_ExpiredRecordIsReplaced(t *testing.T) {
	l, s, clock := newTestLedger(t)
	ctx := context.Background()

	require.True(t, l.Record(ctx, "u1", "AAPL", models.KindCombined))
	*clock = clock.Add(25 * time.Hour)
	assert.True(t, l.Record(ctx, "u1", "AAPL", models.KindCombined))

	rec, err := s.GetRecord(ctx, "u1", "AAPL", models.KindCombined)
	require.NoError(t, err)
	assert.Equal(t, clock.UnixNano(), rec.SentAt.UnixNano())
	assert.Equal(t, clock.Add(24*time.Hour).UnixNano(), rec.ExpiresAt.UnixNano())
}

type failingStore struct{}

func (failingStore) HasUnexpiredRecord(context.Context, string, string, models.EventKind, time.Time) (bool, error) {
	return false, errors.New("database is locked")
}

func (failingStore) InsertRecord(context.Context, *models.SentNotificationRecord) (bool, error) {
	return false, errors.New("disk full")
}

func (failingStore) DeleteExpiredRecords(context.Context, time.Time) (int64, error) {
	return 0, errors.New("database is locked")
}

func TestLedger_FailsOpen(t *testing.T) {
	l := New(failingStore{}, 0)
	ctx := context.Background()

	assert.Equal(t, DefaultWindow, l.Window())
	assert.False(t, l.WasSent(ctx, "u1", "AAPL", models.KindCombined))
	assert.False(t, l.Record(ctx, "u1", "AAPL", models.KindCombined))
	_, err := l.SweepExpired(ctx)
	assert.Error(t, err)
}
