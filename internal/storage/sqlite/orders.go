package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"dca_grid/internal/core"
	apperrors "dca_grid/pkg/errors"
)

const orderColumns = `id, cycle_id, exchange_order_id, number, side, type,
	time_in_force, price, quantity, quantity_filled, amount, status,
	exchange_order_data, created_at, updated_at`

func (s *Store) CreateOrder(ctx context.Context, order *core.Order) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	now := time.Now()
	order.CreatedAt = now
	order.UpdatedAt = now

	query := `INSERT INTO orders (` + orderColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.q.ExecContext(ctx, query,
		order.ID.String(), order.CycleID.String(), order.ExchangeOrderID, order.Number,
		string(order.Side), string(order.Type), string(order.TimeInForce),
		order.Price.String(), order.Quantity.String(), order.QuantityFilled.String(),
		order.Amount.String(), string(order.Status), order.ExchangeOrderData,
		now.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

// UpdateOrder mutates the exchange-facing fields. Order rows are never
// deleted, only status-mutated.
func (s *Store) UpdateOrder(ctx context.Context, order *core.Order) error {
	order.UpdatedAt = time.Now()

	query := `UPDATE orders SET
		exchange_order_id = ?, status = ?, quantity_filled = ?,
		exchange_order_data = ?, updated_at = ?
		WHERE id = ?`
	res, err := s.q.ExecContext(ctx, query,
		order.ExchangeOrderID, string(order.Status), order.QuantityFilled.String(),
		order.ExchangeOrderData, order.UpdatedAt.UnixNano(), order.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.ErrOrderNotFound
	}
	return nil
}

// GetOrderByExchangeID returns (nil, nil) when no order in the cycle carries
// the exchange id
func (s *Store) GetOrderByExchangeID(ctx context.Context, cycleID uuid.UUID, exchangeOrderID int64) (*core.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE cycle_id = ? AND exchange_order_id = ?`
	order, err := scanOrder(s.q.QueryRowContext(ctx, query, cycleID.String(), exchangeOrderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return order, err
}

func (s *Store) ListOrdersByCycle(ctx context.Context, cycleID uuid.UUID) ([]*core.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE cycle_id = ? ORDER BY number, created_at`
	return s.queryOrders(ctx, query, cycleID.String())
}

func (s *Store) ListOrdersByCycleAndStatus(ctx context.Context, cycleID uuid.UUID, statuses ...core.OrderStatus) ([]*core.Order, error) {
	if len(statuses) == 0 {
		return s.ListOrdersByCycle(ctx, cycleID)
	}

	placeholders := strings.Repeat("?,", len(statuses))
	placeholders = placeholders[:len(placeholders)-1]
	query := `SELECT ` + orderColumns + ` FROM orders
		WHERE cycle_id = ? AND status IN (` + placeholders + `) ORDER BY number, created_at`

	args := make([]interface{}, 0, len(statuses)+1)
	args = append(args, cycleID.String())
	for _, st := range statuses {
		args = append(args, string(st))
	}
	return s.queryOrders(ctx, query, args...)
}

func (s *Store) queryOrders(ctx context.Context, query string, args ...interface{}) ([]*core.Order, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []*core.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

func scanOrder(row rowScanner) (*core.Order, error) {
	var (
		o                  core.Order
		id, cycleID        string
		price, quantity    string
		filled, amount     string
		createdAt, updated int64
	)
	err := row.Scan(&id, &cycleID, &o.ExchangeOrderID, &o.Number, &o.Side, &o.Type,
		&o.TimeInForce, &price, &quantity, &filled, &amount, &o.Status,
		&o.ExchangeOrderData, &createdAt, &updated)
	if err != nil {
		return nil, err
	}

	if o.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("corrupt order id %q: %w", id, apperrors.ErrCorruptState)
	}
	if o.CycleID, err = uuid.Parse(cycleID); err != nil {
		return nil, fmt.Errorf("corrupt order cycle_id %q: %w", cycleID, apperrors.ErrCorruptState)
	}
	if o.Price, err = parseDecimal("price", price); err != nil {
		return nil, err
	}
	if o.Quantity, err = parseDecimal("quantity", quantity); err != nil {
		return nil, err
	}
	if o.QuantityFilled, err = parseDecimal("quantity_filled", filled); err != nil {
		return nil, err
	}
	if o.Amount, err = parseDecimal("amount", amount); err != nil {
		return nil, err
	}
	o.CreatedAt = time.Unix(0, createdAt)
	o.UpdatedAt = time.Unix(0, updated)
	return &o, nil
}
