package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"dca_grid/internal/core"
	apperrors "dca_grid/pkg/errors"
)

const cycleColumns = `id, bot_id, exchange, symbol, amount, grid_length,
	first_order_offset, num_orders, next_order_volume, profit_percentage,
	price_change_percentage, price, quantity, status, created_at, updated_at`

// CreateCycle inserts the cycle. The partial unique index on
// (bot_id) WHERE status='ACTIVE' enforces the one-active-cycle invariant;
// a violation surfaces as ErrCycleConflict.
func (s *Store) CreateCycle(ctx context.Context, cycle *core.TradingCycle) error {
	if cycle.ID == uuid.Nil {
		cycle.ID = uuid.New()
	}
	now := time.Now()
	cycle.CreatedAt = now
	cycle.UpdatedAt = now

	query := `INSERT INTO trading_cycles (` + cycleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.q.ExecContext(ctx, query,
		cycle.ID.String(), cycle.BotID.String(), cycle.Exchange, cycle.Symbol,
		cycle.Amount.String(), cycle.GridLength.String(),
		cycle.FirstOrderOffset.String(), cycle.NumOrders, cycle.NextOrderVolume.String(),
		cycle.ProfitPercentage.String(), cycle.PriceChangePercentage.String(),
		cycle.Price.String(), cycle.Quantity.String(), string(cycle.Status),
		now.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrCycleConflict
		}
		return fmt.Errorf("failed to insert cycle: %w", err)
	}
	return nil
}

func (s *Store) UpdateCycle(ctx context.Context, cycle *core.TradingCycle) error {
	cycle.UpdatedAt = time.Now()

	query := `UPDATE trading_cycles SET
		price = ?, quantity = ?, status = ?, updated_at = ?
		WHERE id = ?`
	res, err := s.q.ExecContext(ctx, query,
		cycle.Price.String(), cycle.Quantity.String(), string(cycle.Status),
		cycle.UpdatedAt.UnixNano(), cycle.ID.String(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrCycleConflict
		}
		return fmt.Errorf("failed to update cycle: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.ErrCycleNotFound
	}
	return nil
}

func (s *Store) GetCycle(ctx context.Context, id uuid.UUID) (*core.TradingCycle, error) {
	query := `SELECT ` + cycleColumns + ` FROM trading_cycles WHERE id = ?`
	cycle, err := scanCycle(s.q.QueryRowContext(ctx, query, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrCycleNotFound
	}
	return cycle, err
}

// GetActiveCycle returns (nil, nil) when the bot has no ACTIVE cycle
func (s *Store) GetActiveCycle(ctx context.Context, botID uuid.UUID) (*core.TradingCycle, error) {
	query := `SELECT ` + cycleColumns + ` FROM trading_cycles WHERE bot_id = ? AND status = ?`
	cycle, err := scanCycle(s.q.QueryRowContext(ctx, query, botID.String(), string(core.CycleStatusActive)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return cycle, err
}

func (s *Store) ListCyclesByBot(ctx context.Context, botID uuid.UUID) ([]*core.TradingCycle, error) {
	query := `SELECT ` + cycleColumns + ` FROM trading_cycles WHERE bot_id = ? ORDER BY created_at`
	rows, err := s.q.QueryContext(ctx, query, botID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query cycles: %w", err)
	}
	defer rows.Close()

	var cycles []*core.TradingCycle
	for rows.Next() {
		cycle, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		cycles = append(cycles, cycle)
	}
	return cycles, rows.Err()
}

func scanCycle(row rowScanner) (*core.TradingCycle, error) {
	var (
		c                  core.TradingCycle
		id, botID          string
		amount, gridLen    string
		offset, volume     string
		profit, change     string
		price, quantity    string
		createdAt, updated int64
	)
	err := row.Scan(&id, &botID, &c.Exchange, &c.Symbol, &amount, &gridLen,
		&offset, &c.NumOrders, &volume, &profit,
		&change, &price, &quantity, &c.Status, &createdAt, &updated)
	if err != nil {
		return nil, err
	}

	if c.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("corrupt cycle id %q: %w", id, apperrors.ErrCorruptState)
	}
	if c.BotID, err = uuid.Parse(botID); err != nil {
		return nil, fmt.Errorf("corrupt cycle bot_id %q: %w", botID, apperrors.ErrCorruptState)
	}
	if c.Amount, err = parseDecimal("amount", amount); err != nil {
		return nil, err
	}
	if c.GridLength, err = parseDecimal("grid_length", gridLen); err != nil {
		return nil, err
	}
	if c.FirstOrderOffset, err = parseDecimal("first_order_offset", offset); err != nil {
		return nil, err
	}
	if c.NextOrderVolume, err = parseDecimal("next_order_volume", volume); err != nil {
		return nil, err
	}
	if c.ProfitPercentage, err = parseDecimal("profit_percentage", profit); err != nil {
		return nil, err
	}
	if c.PriceChangePercentage, err = parseDecimal("price_change_percentage", change); err != nil {
		return nil, err
	}
	if c.Price, err = parseDecimal("price", price); err != nil {
		return nil, err
	}
	if c.Quantity, err = parseDecimal("quantity", quantity); err != nil {
		return nil, err
	}
	c.CreatedAt = time.Unix(0, createdAt)
	c.UpdatedAt = time.Unix(0, updated)
	return &c, nil
}
