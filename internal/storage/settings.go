package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rewired-gh/stockpulse/internal/models"
)

const settingsCols = `user_id, telegram_enabled, telegram_chat_id, in_app_enabled, voice_enabled, mode`

// SaveSettings inserts or replaces a user's notification settings.
func (s *Storage) SaveSettings(ctx context.Context, st *models.NotificationSettings) error {
	if st.UserID == "" {
		return fmt.Errorf("invalid settings: user ID must not be empty")
	}
	mode := st.Mode
	if mode == "" {
		mode = models.ModeAll
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO notification_settings (`+settingsCols+`)
		VALUES (?,?,?,?,?,?)`,
		st.UserID, boolToInt(st.TelegramEnabled), st.TelegramChatID,
		boolToInt(st.InAppEnabled), boolToInt(st.VoiceEnabled), string(mode),
	)
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// GetSettings returns a user's notification settings.
func (s *Storage) GetSettings(ctx context.Context, userID string) (*models.NotificationSettings, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+settingsCols+` FROM notification_settings WHERE user_id = ?`, userID)
	st, err := scanSettings(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("settings for %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	return st, nil
}

// GetSettingsByChatID finds the user bound to a Telegram chat.
func (s *Storage) GetSettingsByChatID(ctx context.Context, chatID int64) (*models.NotificationSettings, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+settingsCols+` FROM notification_settings WHERE telegram_chat_id = ? LIMIT 1`, chatID)
	st, err := scanSettings(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("settings for chat %d: %w", chatID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	return st, nil
}

// ListEligibleUsers returns users with at least one enabled channel and at least one holding.
func (s *Storage) ListEligibleUsers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT st.user_id FROM notification_settings st
		WHERE ((st.telegram_enabled = 1 AND st.telegram_chat_id <> 0) OR st.in_app_enabled = 1)
		  AND EXISTS (SELECT 1 FROM holdings h WHERE h.user_id = st.user_id)
		ORDER BY st.user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query eligible users: %w", err)
	}
	defer rows.Close()

	users := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

func scanSettings(scan func(...any) error) (*models.NotificationSettings, error) {
	var st models.NotificationSettings
	var tg, inApp, voice int
	var mode string
	if err := scan(&st.UserID, &tg, &st.TelegramChatID, &inApp, &voice, &mode); err != nil {
		return nil, err
	}
	st.TelegramEnabled = tg != 0
	st.InAppEnabled = inApp != 0
	st.VoiceEnabled = voice != 0
	st.Mode = models.NotificationMode(mode)
	return &st, nil
}
