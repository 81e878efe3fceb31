// Package core defines the core interfaces for the DCA grid trading system
package core

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// IExchangeGateway is the per-bot exchange capability: signed REST plus the
// two websocket streams. One instance per credential; implementations exist
// for the real venue and for the in-memory test double.
type IExchangeGateway interface {
	// Identity
	Name() string

	// Market data
	TickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error)

	// Order operations
	NewOrder(ctx context.Context, req OrderRequest) (*OrderAck, error)
	// CancelOrder folds "unknown order" into success: the ack then carries
	// CANCELED with the executed quantity the venue last reported
	CancelOrder(ctx context.Context, symbol string, orderID int64) (*OrderAck, error)
	GetOrder(ctx context.Context, symbol string, orderID int64) (*OrderAck, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]*OrderAck, error)

	// Account
	GetBalances(ctx context.Context, assets []string) ([]Balance, error)

	// User-data stream lifecycle
	NewListenKey(ctx context.Context) (string, error)
	KeepAliveListenKey(ctx context.Context, listenKey string) error

	// Streams deliver raw JSON frames; reconnection and listen-key renewal
	// are owned by the gateway
	UserDataStream(ctx context.Context, listenKey string, onMessage func([]byte)) error
	TickerStream(ctx context.Context, symbols []string, onMessage func([]byte)) error
	// OnStreamReconnect registers a hook fired after any stream re-establishes,
	// so the owner can reconcile state missed while disconnected
	OnStreamReconnect(fn func())

	// Stop closes all streams; idempotent, non-blocking
	Stop()
}

// IStateStore is the persistence contract over bots, trading cycles and
// orders. Every method is one short transaction; WithTx groups several
// writes into an atomic unit of work. Transactions never span network I/O.
type IStateStore interface {
	CreateBot(ctx context.Context, bot *Bot) error
	UpdateBot(ctx context.Context, bot *Bot) error
	GetBot(ctx context.Context, id uuid.UUID) (*Bot, error)
	ListBots(ctx context.Context) ([]*Bot, error)
	ListActiveBots(ctx context.Context) ([]*Bot, error)

	// CreateCycle fails with ErrCycleConflict when the bot already has an
	// ACTIVE cycle
	CreateCycle(ctx context.Context, cycle *TradingCycle) error
	UpdateCycle(ctx context.Context, cycle *TradingCycle) error
	GetCycle(ctx context.Context, id uuid.UUID) (*TradingCycle, error)
	// GetActiveCycle returns (nil, nil) when the bot has no ACTIVE cycle
	GetActiveCycle(ctx context.Context, botID uuid.UUID) (*TradingCycle, error)
	ListCyclesByBot(ctx context.Context, botID uuid.UUID) ([]*TradingCycle, error)

	CreateOrder(ctx context.Context, order *Order) error
	UpdateOrder(ctx context.Context, order *Order) error
	// GetOrderByExchangeID returns (nil, nil) when no order in the cycle
	// carries the exchange id
	GetOrderByExchangeID(ctx context.Context, cycleID uuid.UUID, exchangeOrderID int64) (*Order, error)
	ListOrdersByCycle(ctx context.Context, cycleID uuid.UUID) ([]*Order, error)
	ListOrdersByCycleAndStatus(ctx context.Context, cycleID uuid.UUID, statuses ...OrderStatus) ([]*Order, error)

	// WithTx runs fn against a store view bound to one serializable
	// transaction; fn returning an error rolls everything back
	WithTx(ctx context.Context, fn func(tx IStateStore) error) error

	Ping(ctx context.Context) error
	Close() error
}

// ITradingEngine is the per-bot state machine. All operations for one bot
// serialize against each other; callers may invoke them from any goroutine.
type ITradingEngine interface {
	// Launch is the idempotent startup: resume the ACTIVE cycle (reconciling
	// open orders first) or start a fresh one
	Launch(ctx context.Context) error
	OnExecutionReport(ctx context.Context, report ExecutionReport) error
	OnTicker(ctx context.Context, price decimal.Decimal) error
	CancelCycleOrders(ctx context.Context) error
	// StopCycle cancels resting orders and closes the cycle as CANCELLED
	StopCycle(ctx context.Context) error
	// Reconcile refreshes every non-terminal order from the exchange; used
	// after a stream reconnect
	Reconcile(ctx context.Context) error
}

// ISupervisor owns the set of running bot pipelines
type ISupervisor interface {
	InstallBots(ctx context.Context, bots []*Bot)
	Install(ctx context.Context, bot *Bot) error
	Release(ctx context.Context, botID uuid.UUID) error
	ReleaseAll(ctx context.Context)
	IsRunning(botID uuid.UUID) bool
	Running() []uuid.UUID
	// Engine exposes the installed engine of a running bot so the admin
	// surface can drive it directly
	Engine(botID uuid.UUID) (ITradingEngine, bool)
}

// INotifier fans an operational event out to the configured alert channels.
// Implementations must not block the trading path.
type INotifier interface {
	Notify(ctx context.Context, level AlertLevel, title, message string, fields map[string]string)
}

// IEventFeed publishes trading events to live UI subscribers.
// Implementations must not block; dropping frames under pressure is
// acceptable, the feed is advisory.
type IEventFeed interface {
	PublishTicker(symbol string, price decimal.Decimal)
	PublishExecution(botID uuid.UUID, report ExecutionReport)
	PublishCycle(botID uuid.UUID, cycle *TradingCycle, profit decimal.Decimal)
}

// IHealthMonitor aggregates component health checks
type IHealthMonitor interface {
	Register(component string, check func() error)
	GetStatus() map[string]string
	IsHealthy() bool
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
