// Package ledger implements notification deduplication on top of the sent_notifications
// table. Reads fail open and writes log and continue.
package ledger

import (
	"context"
	"time"

	"github.com/rewired-gh/stockpulse/internal/logger"
	"github.com/rewired-gh/stockpulse/internal/metrics"
	"github.com/rewired-gh/stockpulse/internal/models"
)

// DefaultWindow is the rolling suppression window anchored at send time.
const DefaultWindow = 24 * time.Hour

// Store is the persistence surface the ledger needs.
type Store interface {
	HasUnexpiredRecord(ctx context.Context, userID, symbol string, kind models.EventKind, now time.Time) (bool, error)
	InsertRecord(ctx context.Context, rec *models.SentNotificationRecord) (bool, error)
	DeleteExpiredRecords(ctx context.Context, now time.Time) (int64, error)
}

// Ledger answers "was this already sent" and records successful sends.
type Ledger struct {
	store  Store
	window time.Duration
	now    func() time.Time
}

// New creates a ledger. A non-positive window selects DefaultWindow.
func New(store Store, window time.Duration) *Ledger {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Ledger{store: store, window: window, now: time.Now}
}

// SetClock replaces the time source.
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}

// Window returns the suppression window.
func (l *Ledger) Window() time.Duration {
	return l.window
}

// WasSent reports whether an unexpired record exists for the key. Store errors
// are treated as "not sent".
func (l *Ledger) WasSent(ctx context.Context, userID, symbol string, kind models.EventKind) bool {
	sent, err := l.store.HasUnexpiredRecord(ctx, userID, symbol, kind, l.now())
	if err != nil {
		logger.With("user_id", userID, "symbol", symbol).
			Warnf("ledger read failed, assuming not sent: %v", err)
		metrics.LedgerFailures.WithLabelValues("read").Inc()
		return false
	}
	return sent
}

// Record stores a send for the key. It returns false when an unexpired record
// already existed or the write failed; write failures are logged only.
func (l *Ledger) Record(ctx context.Context, userID, symbol string, kind models.EventKind) bool {
	now := l.now()
	inserted, err := l.store.InsertRecord(ctx, &models.SentNotificationRecord{
		UserID:    userID,
		Symbol:    symbol,
		EventKind: kind,
		SentAt:    now,
		ExpiresAt: now.Add(l.window),
	})
	if err != nil {
		logger.With("user_id", userID, "symbol", symbol).
			Errorf("ledger write failed: %v", err)
		metrics.LedgerFailures.WithLabelValues("write").Inc()
		return false
	}
	if !inserted {
		logger.Debug("Ledger already holds an unexpired record for %s/%s", userID, symbol)
	}
	return inserted
}

// SweepExpired deletes every record whose expiry has passed.
func (l *Ledger) SweepExpired(ctx context.Context) (int64, error) {
	n, err := l.store.DeleteExpiredRecords(ctx, l.now())
	if err != nil {
		metrics.LedgerFailures.WithLabelValues("sweep").Inc()
		return 0, err
	}
	return n, nil
}
