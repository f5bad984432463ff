package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rewired-gh/stockpulse/internal/models"
)

// UpsertHolding inserts a holding or replaces its share count and average cost.
func (s *Storage) UpsertHolding(ctx context.Context, h *models.Holding) error {
	if err := h.Validate(); err != nil {
		return fmt.Errorf("invalid holding: %w", err)
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO holdings (user_id, symbol, shares, avg_cost, created_at)
		VALUES (?,?,?,?,?)
		ON CONFLICT(user_id, symbol) DO UPDATE SET
			shares=excluded.shares, avg_cost=excluded.avg_cost`,
		h.UserID, strings.ToUpper(h.Symbol), h.Shares.String(), h.AvgCost.String(),
		h.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert holding: %w", err)
	}
	return nil
}

// DeleteHolding removes one holding.
func (s *Storage) DeleteHolding(ctx context.Context, userID, symbol string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM holdings WHERE user_id = ? AND symbol = ?`,
		userID, strings.ToUpper(symbol))
	if err != nil {
		return fmt.Errorf("failed to delete holding: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("holding %s/%s: %w", userID, symbol, ErrNotFound)
	}
	return nil
}

// ListHoldings returns the user's holdings ordered by symbol.
func (s *Storage) ListHoldings(ctx context.Context, userID string) ([]models.Holding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, symbol, shares, avg_cost, created_at
		FROM holdings WHERE user_id = ? ORDER BY symbol`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query holdings: %w", err)
	}
	defer rows.Close()

	holdings := []models.Holding{}
	for rows.Next() {
		var h models.Holding
		var shares, avgCost string
		var createdAtNano int64
		if err := rows.Scan(&h.UserID, &h.Symbol, &shares, &avgCost, &createdAtNano); err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}
		h.Shares, err = decimal.NewFromString(shares)
		if err != nil {
			return nil, fmt.Errorf("invalid shares for %s: %w", h.Symbol, err)
		}
		h.AvgCost, err = decimal.NewFromString(avgCost)
		if err != nil {
			return nil, fmt.Errorf("invalid avg cost for %s: %w", h.Symbol, err)
		}
		h.CreatedAt = time.Unix(0, createdAtNano)
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}
