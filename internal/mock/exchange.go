// Package mock provides an in-memory exchange gateway for tests and the
// development environment. Streams emit the same JSON frame shapes as the
// real venue so downstream decoding is identical.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"dca_grid/internal/core"
	apperrors "dca_grid/pkg/errors"
)

// Exchange implements core.IExchangeGateway in memory
type Exchange struct {
	mu             sync.RWMutex
	orders         map[int64]*core.OrderAck
	clientOrderMap map[string]int64
	orderIDCounter int64
	prices         map[string]decimal.Decimal
	balances       map[string]core.Balance

	userDataCallbacks []func([]byte)
	tickerCallbacks   []func([]byte)
	reconnectHooks    []func()

	newOrderErr   error
	newOrderGrace int

	listenKeyCounter int
	keepAlives       int
	stopped          bool
}

func NewExchange() *Exchange {
	return &Exchange{
		orders:         make(map[int64]*core.OrderAck),
		clientOrderMap: make(map[string]int64),
		orderIDCounter: 1000,
		prices:         make(map[string]decimal.Decimal),
		balances: map[string]core.Balance{
			"USDT": {Asset: "USDT", Free: decimal.NewFromInt(10000)},
		},
	}
}

func (m *Exchange) Name() string {
	return "mock"
}

// SetPrice seeds the ticker price without emitting a stream frame
func (m *Exchange) SetPrice(symbol string, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[symbol] = price
}

func (m *Exchange) SetBalance(asset string, free, locked decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[asset] = core.Balance{Asset: asset, Free: free, Locked: locked}
}

// FailNewOrderAfter arranges for NewOrder to fail with err once grace more
// orders have been accepted. A nil err clears the fault.
func (m *Exchange) FailNewOrderAfter(grace int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.newOrderErr = err
	m.newOrderGrace = grace
}

func (m *Exchange) TickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if p, ok := m.prices[symbol]; ok {
		return p, nil
	}
	switch symbol {
	case "BTCUSDT":
		return decimal.NewFromInt(45000), nil
	case "ETHUSDT":
		return decimal.NewFromInt(3000), nil
	default:
		return decimal.NewFromInt(100), nil
	}
}

func (m *Exchange) NewOrder(ctx context.Context, req core.OrderRequest) (*core.OrderAck, error) {
	m.mu.Lock()

	// Idempotency: a resubmitted client order id returns the existing order
	if req.ClientOrderID != "" {
		if id, ok := m.clientOrderMap[req.ClientOrderID]; ok {
			if existing, ok := m.orders[id]; ok {
				ack := *existing
				m.mu.Unlock()
				return &ack, nil
			}
		}
	}

	if m.newOrderErr != nil {
		if m.newOrderGrace <= 0 {
			err := m.newOrderErr
			m.mu.Unlock()
			return nil, err
		}
		m.newOrderGrace--
	}

	m.orderIDCounter++
	ack := &core.OrderAck{
		OrderID:       m.orderIDCounter,
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Status:        core.OrderStatusNew,
		Price:         req.Price,
		OrigQty:       req.Quantity,
		ExecutedQty:   decimal.Zero,
		TransactTime:  time.Now().UnixMilli(),
	}
	ack.Raw, _ = json.Marshal(map[string]interface{}{
		"orderId": ack.OrderID, "symbol": ack.Symbol, "status": ack.Status,
	})
	m.orders[ack.OrderID] = ack
	if req.ClientOrderID != "" {
		m.clientOrderMap[req.ClientOrderID] = ack.OrderID
	}

	out := *ack
	m.mu.Unlock()

	m.emitExecutionReport(&out)
	return &out, nil
}

// CancelOrder matches the real gateway's contract: an already terminal or
// unknown order folds into success with the venue's final state
func (m *Exchange) CancelOrder(ctx context.Context, symbol string, orderID int64) (*core.OrderAck, error) {
	m.mu.Lock()

	order, ok := m.orders[orderID]
	if !ok {
		m.mu.Unlock()
		return &core.OrderAck{
			OrderID:     orderID,
			Symbol:      symbol,
			Status:      core.OrderStatusCanceled,
			ExecutedQty: decimal.Zero,
		}, nil
	}
	if order.Status.IsTerminal() {
		ack := *order
		m.mu.Unlock()
		return &ack, nil
	}

	order.Status = core.OrderStatusCanceled
	order.TransactTime = time.Now().UnixMilli()
	out := *order
	m.mu.Unlock()

	m.emitExecutionReport(&out)
	return &out, nil
}

func (m *Exchange) GetOrder(ctx context.Context, symbol string, orderID int64) (*core.OrderAck, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	order, ok := m.orders[orderID]
	if !ok {
		return nil, apperrors.ErrOrderNotFound
	}
	ack := *order
	return &ack, nil
}

func (m *Exchange) GetOpenOrders(ctx context.Context, symbol string) ([]*core.OrderAck, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var open []*core.OrderAck
	for _, order := range m.orders {
		if order.Symbol == symbol && order.Status.IsOpen() {
			ack := *order
			open = append(open, &ack)
		}
	}
	return open, nil
}

func (m *Exchange) GetBalances(ctx context.Context, assets []string) ([]core.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(assets) == 0 {
		out := make([]core.Balance, 0, len(m.balances))
		for _, b := range m.balances {
			out = append(out, b)
		}
		return out, nil
	}

	var out []core.Balance
	for _, asset := range assets {
		if b, ok := m.balances[strings.ToUpper(asset)]; ok {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *Exchange) NewListenKey(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listenKeyCounter++
	return fmt.Sprintf("mock-listen-key-%d", m.listenKeyCounter), nil
}

func (m *Exchange) KeepAliveListenKey(ctx context.Context, listenKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keepAlives++
	return nil
}

func (m *Exchange) UserDataStream(ctx context.Context, listenKey string, onMessage func([]byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return fmt.Errorf("gateway is stopped")
	}
	m.userDataCallbacks = append(m.userDataCallbacks, onMessage)
	return nil
}

func (m *Exchange) TickerStream(ctx context.Context, symbols []string, onMessage func([]byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return fmt.Errorf("gateway is stopped")
	}
	m.tickerCallbacks = append(m.tickerCallbacks, onMessage)
	return nil
}

func (m *Exchange) OnStreamReconnect(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconnectHooks = append(m.reconnectHooks, fn)
}

func (m *Exchange) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
}

// FillOrder executes quantity against an open order and emits the resulting
// execution report. The order goes FILLED once cumulative fills reach its
// original quantity.
func (m *Exchange) FillOrder(orderID int64, quantity decimal.Decimal) error {
	m.mu.Lock()

	order, ok := m.orders[orderID]
	if !ok {
		m.mu.Unlock()
		return apperrors.ErrOrderNotFound
	}
	if order.Status.IsTerminal() {
		m.mu.Unlock()
		return fmt.Errorf("order %d is already %s", orderID, order.Status)
	}

	order.ExecutedQty = order.ExecutedQty.Add(quantity)
	if order.ExecutedQty.GreaterThanOrEqual(order.OrigQty) {
		order.ExecutedQty = order.OrigQty
		order.Status = core.OrderStatusFilled
	} else {
		order.Status = core.OrderStatusPartiallyFilled
	}
	order.TransactTime = time.Now().UnixMilli()

	out := *order
	m.mu.Unlock()

	m.emitExecutionReport(&out)
	return nil
}

// PushTicker updates the seeded price and emits a ticker frame
func (m *Exchange) PushTicker(symbol string, price decimal.Decimal) {
	m.mu.Lock()
	m.prices[symbol] = price
	callbacks := make([]func([]byte), len(m.tickerCallbacks))
	copy(callbacks, m.tickerCallbacks)
	m.mu.Unlock()

	frame, _ := json.Marshal(map[string]interface{}{
		"e": "24hrTicker",
		"E": time.Now().UnixMilli(),
		"s": symbol,
		"c": price.String(),
	})
	for _, cb := range callbacks {
		cb(frame)
	}
}

// SimulateReconnect fires the registered reconnect hooks as the websocket
// layer would after re-establishing a dropped session
func (m *Exchange) SimulateReconnect() {
	m.mu.RLock()
	hooks := make([]func(), len(m.reconnectHooks))
	copy(hooks, m.reconnectHooks)
	m.mu.RUnlock()

	for _, fn := range hooks {
		fn()
	}
}

// Orders returns a snapshot of every order the mock has seen
func (m *Exchange) Orders() []*core.OrderAck {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*core.OrderAck, 0, len(m.orders))
	for _, order := range m.orders {
		ack := *order
		out = append(out, &ack)
	}
	return out
}

// KeepAliveCount reports how many keepalives the gateway received
func (m *Exchange) KeepAliveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.keepAlives
}

func (m *Exchange) emitExecutionReport(ack *core.OrderAck) {
	m.mu.RLock()
	callbacks := make([]func([]byte), len(m.userDataCallbacks))
	copy(callbacks, m.userDataCallbacks)
	m.mu.RUnlock()

	frame, _ := json.Marshal(map[string]interface{}{
		"e": "executionReport",
		"E": time.Now().UnixMilli(),
		"s": ack.Symbol,
		"c": ack.ClientOrderID,
		"S": string(ack.Side),
		"i": ack.OrderID,
		"X": string(ack.Status),
		"q": ack.OrigQty.String(),
		"z": ack.ExecutedQty.String(),
		"p": ack.Price.String(),
	})
	for _, cb := range callbacks {
		cb(frame)
	}
}
