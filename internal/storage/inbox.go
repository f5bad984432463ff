package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rewired-gh/stockpulse/internal/models"
)

// AddInboxNotification persists one in-app notification.
func (s *Storage) AddInboxNotification(ctx context.Context, n *models.InboxNotification) error {
	if n.ID == "" || n.UserID == "" {
		return fmt.Errorf("invalid inbox notification: id and user id are required")
	}
	segments, err := json.Marshal(nonNil(n.Segments))
	if err != nil {
		return fmt.Errorf("failed to marshal segments: %w", err)
	}
	audio, err := json.Marshal(nonNil(n.AudioURLs))
	if err != nil {
		return fmt.Errorf("failed to marshal audio urls: %w", err)
	}
	symbols, err := json.Marshal(nonNil(n.Symbols))
	if err != nil {
		return fmt.Errorf("failed to marshal symbols: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO inbox_notifications
			(id, user_id, kind, title, body, segments, audio_urls, severity, symbols, created_at, read)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		n.ID, n.UserID, string(n.Kind), n.Title, n.Body, string(segments), string(audio),
		string(n.Severity), string(symbols), n.CreatedAt.UnixNano(), boolToInt(n.Read),
	)
	if err != nil {
		return fmt.Errorf("failed to insert inbox notification: %w", err)
	}
	return nil
}

// ListInbox returns the newest notifications for a user.
func (s *Storage) ListInbox(ctx context.Context, userID string, limit int) ([]models.InboxNotification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, kind, title, body, segments, audio_urls, severity, symbols, created_at, read
		FROM inbox_notifications WHERE user_id = ?
		ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query inbox: %w", err)
	}
	defer rows.Close()

	out := []models.InboxNotification{}
	for rows.Next() {
		var n models.InboxNotification
		var kind, segments, audio, symbols string
		var severity sql.NullString
		var createdNano int64
		var read int
		if err := rows.Scan(&n.ID, &n.UserID, &kind, &n.Title, &n.Body, &segments, &audio,
			&severity, &symbols, &createdNano, &read); err != nil {
			return nil, fmt.Errorf("failed to scan inbox notification: %w", err)
		}
		if err := json.Unmarshal([]byte(segments), &n.Segments); err != nil {
			return nil, fmt.Errorf("failed to unmarshal segments: %w", err)
		}
		if err := json.Unmarshal([]byte(audio), &n.AudioURLs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal audio urls: %w", err)
		}
		if err := json.Unmarshal([]byte(symbols), &n.Symbols); err != nil {
			return nil, fmt.Errorf("failed to unmarshal symbols: %w", err)
		}
		n.Kind = models.PlanKind(kind)
		n.Severity = models.Severity(severity.String)
		n.CreatedAt = time.Unix(0, createdNano)
		n.Read = read != 0
		out = append(out, n)
	}
	return out, rows.Err()
}

// SaveAudioClip stores synthesized audio for later download.
func (s *Storage) SaveAudioClip(ctx context.Context, c *models.AudioClip) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audio_clips (id, user_id, content_type, data, created_at) VALUES (?,?,?,?,?)`,
		c.ID, c.UserID, c.ContentType, c.Data, c.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert audio clip: %w", err)
	}
	return nil
}

// GetAudioClip loads one audio clip.
func (s *Storage) GetAudioClip(ctx context.Context, id string) (*models.AudioClip, error) {
	var c models.AudioClip
	var createdNano int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, content_type, data, created_at FROM audio_clips WHERE id = ?`, id,
	).Scan(&c.ID, &c.UserID, &c.ContentType, &c.Data, &createdNano)
	if err != nil {
		return nil, fmt.Errorf("audio clip %s: %w", id, notFoundOr(err))
	}
	c.CreatedAt = time.Unix(0, createdNano)
	return &c, nil
}

// DeleteAudioClipsBefore prunes clips created before cutoff.
func (s *Storage) DeleteAudioClipsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audio_clips WHERE created_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune audio clips: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func notFoundOr(err error) error {
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	return err
}
