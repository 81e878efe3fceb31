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

const botColumns = `id, name, exchange, symbol, api_key, api_secret,
	amount, grid_length, first_order_offset, num_orders, next_order_volume,
	profit_percentage, price_change_percentage, upper_price_limit,
	is_active, status, created_at, updated_at`

func (s *Store) CreateBot(ctx context.Context, bot *core.Bot) error {
	if bot.ID == uuid.Nil {
		bot.ID = uuid.New()
	}
	now := time.Now()
	bot.CreatedAt = now
	bot.UpdatedAt = now

	query := `INSERT INTO bots (` + botColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.q.ExecContext(ctx, query,
		bot.ID.String(), bot.Name, bot.Exchange, bot.Symbol, bot.APIKey, bot.APISecret,
		bot.Amount.String(), bot.GridLength.String(), bot.FirstOrderOffset.String(),
		bot.NumOrders, bot.NextOrderVolume.String(),
		bot.ProfitPercentage.String(), bot.PriceChangePercentage.String(), bot.UpperPriceLimit.String(),
		bot.IsActive, string(bot.Status), now.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert bot: %w", err)
	}
	return nil
}

func (s *Store) UpdateBot(ctx context.Context, bot *core.Bot) error {
	bot.UpdatedAt = time.Now()

	query := `UPDATE bots SET
		name = ?, exchange = ?, symbol = ?, api_key = ?, api_secret = ?,
		amount = ?, grid_length = ?, first_order_offset = ?, num_orders = ?,
		next_order_volume = ?, profit_percentage = ?, price_change_percentage = ?,
		upper_price_limit = ?, is_active = ?, status = ?, updated_at = ?
		WHERE id = ?`
	res, err := s.q.ExecContext(ctx, query,
		bot.Name, bot.Exchange, bot.Symbol, bot.APIKey, bot.APISecret,
		bot.Amount.String(), bot.GridLength.String(), bot.FirstOrderOffset.String(), bot.NumOrders,
		bot.NextOrderVolume.String(), bot.ProfitPercentage.String(), bot.PriceChangePercentage.String(),
		bot.UpperPriceLimit.String(), bot.IsActive, string(bot.Status), bot.UpdatedAt.UnixNano(),
		bot.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update bot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.ErrBotNotFound
	}
	return nil
}

func (s *Store) GetBot(ctx context.Context, id uuid.UUID) (*core.Bot, error) {
	query := `SELECT ` + botColumns + ` FROM bots WHERE id = ?`
	bot, err := scanBot(s.q.QueryRowContext(ctx, query, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrBotNotFound
	}
	return bot, err
}

func (s *Store) ListBots(ctx context.Context) ([]*core.Bot, error) {
	query := `SELECT ` + botColumns + ` FROM bots ORDER BY created_at`
	return s.queryBots(ctx, query)
}

func (s *Store) ListActiveBots(ctx context.Context) ([]*core.Bot, error) {
	query := `SELECT ` + botColumns + ` FROM bots WHERE is_active = 1 ORDER BY created_at`
	return s.queryBots(ctx, query)
}

func (s *Store) queryBots(ctx context.Context, query string, args ...interface{}) ([]*core.Bot, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bots: %w", err)
	}
	defer rows.Close()

	var bots []*core.Bot
	for rows.Next() {
		bot, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		bots = append(bots, bot)
	}
	return bots, rows.Err()
}

func scanBot(row rowScanner) (*core.Bot, error) {
	var (
		b                  core.Bot
		id                 string
		amount, gridLen    string
		offset, volume     string
		profit, change     string
		upperLimit         string
		createdAt, updated int64
	)
	err := row.Scan(&id, &b.Name, &b.Exchange, &b.Symbol, &b.APIKey, &b.APISecret,
		&amount, &gridLen, &offset, &b.NumOrders, &volume,
		&profit, &change, &upperLimit,
		&b.IsActive, &b.Status, &createdAt, &updated)
	if err != nil {
		return nil, err
	}

	b.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("corrupt bot id %q: %w", id, apperrors.ErrCorruptState)
	}
	if b.Amount, err = parseDecimal("amount", amount); err != nil {
		return nil, err
	}
	if b.GridLength, err = parseDecimal("grid_length", gridLen); err != nil {
		return nil, err
	}
	if b.FirstOrderOffset, err = parseDecimal("first_order_offset", offset); err != nil {
		return nil, err
	}
	if b.NextOrderVolume, err = parseDecimal("next_order_volume", volume); err != nil {
		return nil, err
	}
	if b.ProfitPercentage, err = parseDecimal("profit_percentage", profit); err != nil {
		return nil, err
	}
	if b.PriceChangePercentage, err = parseDecimal("price_change_percentage", change); err != nil {
		return nil, err
	}
	if b.UpperPriceLimit, err = parseDecimal("upper_price_limit", upperLimit); err != nil {
		return nil, err
	}
	b.CreatedAt = time.Unix(0, createdAt)
	b.UpdatedAt = time.Unix(0, updated)
	return &b, nil
}
