package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/rewired-gh/stockpulse/internal/models"
)

// HasUnexpiredRecord reports whether a ledger row for the key expires after now.
func (s *Storage) HasUnexpiredRecord(ctx context.Context, userID, symbol string, kind models.EventKind, now time.Time) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM sent_notifications
		WHERE user_id = ? AND symbol = ? AND event_kind = ? AND expires_at > ?`,
		userID, symbol, string(kind), now.UnixNano(),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query ledger: %w", err)
	}
	return n > 0, nil
}

// InsertRecord stores a ledger row unless an unexpired one already exists for the key.
// An expired row is replaced in place. The UNIQUE constraint makes the check-then-insert
// atomic; inserted is false when an unexpired row won.
func (s *Storage) InsertRecord(ctx context.Context, rec *models.SentNotificationRecord) (inserted bool, err error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sent_notifications (user_id, symbol, event_kind, sent_at, expires_at)
		VALUES (?,?,?,?,?)
		ON CONFLICT(user_id, symbol, event_kind) DO UPDATE SET
			sent_at = excluded.sent_at,
			expires_at = excluded.expires_at
		WHERE sent_notifications.expires_at <= excluded.sent_at`,
		rec.UserID, rec.Symbol, string(rec.EventKind),
		rec.SentAt.UnixNano(), rec.ExpiresAt.UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert ledger record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read ledger insert result: %w", err)
	}
	return n > 0, nil
}

// GetRecord returns the ledger row for a key, expired or not.
func (s *Storage) GetRecord(ctx context.Context, userID, symbol string, kind models.EventKind) (*models.SentNotificationRecord, error) {
	var rec models.SentNotificationRecord
	var kindStr string
	var sentNano, expiresNano int64
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, symbol, event_kind, sent_at, expires_at FROM sent_notifications
		WHERE user_id = ? AND symbol = ? AND event_kind = ?`,
		userID, symbol, string(kind),
	).Scan(&rec.UserID, &rec.Symbol, &kindStr, &sentNano, &expiresNano)
	if err != nil {
		return nil, fmt.Errorf("ledger record %s/%s/%s: %w", userID, symbol, kind, notFoundOr(err))
	}
	rec.EventKind = models.EventKind(kindStr)
	rec.SentAt = time.Unix(0, sentNano)
	rec.ExpiresAt = time.Unix(0, expiresNano)
	return &rec, nil
}

// DeleteExpiredRecords removes ledger rows whose expiry is before now.
func (s *Storage) DeleteExpiredRecords(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sent_notifications WHERE expires_at < ?`, now.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired ledger records: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CountRecords returns the number of ledger rows, expired or not.
func (s *Storage) CountRecords(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM sent_notifications`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count ledger records: %w", err)
	}
	return n, nil
}
