// Package models defines the core domain entities: holdings, observations, abnormal events,
// delivery plans, and the deduplication ledger record.
package models

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Holding is one instrument tracked by a user. Shares and AvgCost are carried for the
// surrounding portfolio features and are not used by detection.
type Holding struct {
	UserID    string          `json:"user_id"`
	Symbol    string          `json:"symbol"`
	Shares    decimal.Decimal `json:"shares"`
	AvgCost   decimal.Decimal `json:"avg_cost"`
	CreatedAt time.Time       `json:"created_at"`
}

// Validate checks holding field constraints.
func (h *Holding) Validate() error {
	if h.UserID == "" {
		return errors.New("user ID must not be empty")
	}
	if strings.TrimSpace(h.Symbol) == "" {
		return errors.New("symbol must not be empty")
	}
	if h.Shares.IsNegative() {
		return errors.New("shares must not be negative")
	}
	if h.AvgCost.IsNegative() {
		return errors.New("average cost must not be negative")
	}
	return nil
}

// NotificationMode selects which severities reach the user.
type NotificationMode string

const (
	ModeAll      NotificationMode = "all"
	ModeHighOnly NotificationMode = "high_only"
)

// NotificationSettings holds the per-user channel preferences.
type NotificationSettings struct {
	UserID          string           `json:"user_id"`
	TelegramEnabled bool             `json:"telegram_enabled"`
	TelegramChatID  int64            `json:"telegram_chat_id"`
	InAppEnabled    bool             `json:"in_app_enabled"`
	VoiceEnabled    bool             `json:"voice_enabled"`
	Mode            NotificationMode `json:"mode"`
}

// HasEnabledChannel reports whether at least one delivery surface is switched on.
func (s *NotificationSettings) HasEnabledChannel() bool {
	return (s.TelegramEnabled && s.TelegramChatID != 0) || s.InAppEnabled
}

// Accepts reports whether an event of the given severity passes the user's mode.
func (s *NotificationSettings) Accepts(sev Severity) bool {
	if s.Mode == ModeHighOnly {
		return sev == SeverityHigh
	}
	return true
}
