package core

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side is the order side
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType is the exchange order type. The engine only places limit orders.
type OrderType string

const (
	OrderTypeLimit OrderType = "LIMIT"
)

// TimeInForce for limit orders
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC"
)

// OrderStatus is the exchange-side order state
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// IsTerminal reports whether the exchange will never mutate this order again
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// IsOpen reports whether the order can still fill
func (s OrderStatus) IsOpen() bool {
	return s == OrderStatusNew || s == OrderStatusPartiallyFilled
}

// CycleStatus is the lifecycle state of one trading cycle
type CycleStatus string

const (
	CycleStatusActive    CycleStatus = "ACTIVE"
	CycleStatusCompleted CycleStatus = "COMPLETED"
	CycleStatusCancelled CycleStatus = "CANCELLED"
)

// BotStatus is the lifecycle state of a bot
type BotStatus string

const (
	BotStatusRunning   BotStatus = "RUNNING"
	BotStatusLastCycle BotStatus = "LAST_CYCLE"
	BotStatusStopped   BotStatus = "STOPPED"
)

// Bot holds configuration and credentials for one strategy instance.
// Percent parameters use human percent: 1 means 1%.
type Bot struct {
	ID        uuid.UUID
	Name      string
	Exchange  string
	Symbol    string
	APIKey    string
	APISecret string

	Amount                decimal.Decimal
	GridLength            decimal.Decimal
	FirstOrderOffset      decimal.Decimal
	NumOrders             int
	NextOrderVolume       decimal.Decimal
	ProfitPercentage      decimal.Decimal
	PriceChangePercentage decimal.Decimal
	// UpperPriceLimit gates grid placement when positive: no new grid is
	// laid while the reference price is above it. Zero means unset.
	UpperPriceLimit decimal.Decimal

	IsActive  bool
	Status    BotStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TradingCycle is one round-trip of the grid strategy. Strategy parameters
// are snapshotted from the bot at cycle start so a later bot edit cannot
// change a running cycle.
type TradingCycle struct {
	ID    uuid.UUID
	BotID uuid.UUID

	Exchange              string
	Symbol                string
	Amount                decimal.Decimal
	GridLength            decimal.Decimal
	FirstOrderOffset      decimal.Decimal
	NumOrders             int
	NextOrderVolume       decimal.Decimal
	ProfitPercentage      decimal.Decimal
	PriceChangePercentage decimal.Decimal

	// Price is the market reference captured when the current grid was built
	Price decimal.Decimal
	// Quantity is the total base quantity committed across the grid;
	// completion requires the filled SELL quantity to reach it
	Quantity decimal.Decimal

	Status    CycleStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Order is one exchange-side limit order owned by a cycle
type Order struct {
	ID              uuid.UUID
	CycleID         uuid.UUID
	ExchangeOrderID int64
	// Number is the 1-based ordinal within the cycle: grid orders run
	// 1..num_orders, the take-profit gets num_orders+1
	Number int

	Side        Side
	Type        OrderType
	TimeInForce TimeInForce

	Price          decimal.Decimal
	Quantity       decimal.Decimal
	QuantityFilled decimal.Decimal
	Amount         decimal.Decimal

	Status OrderStatus
	// ExchangeOrderData is the last raw payload echoed by the exchange,
	// kept opaque for audit
	ExchangeOrderData string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrderRequest is the gateway input for a new limit order
type OrderRequest struct {
	Symbol        string
	Side          Side
	Type          OrderType
	TimeInForce   TimeInForce
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	ClientOrderID string
}

// OrderAck is the gateway's view of an order as acknowledged by the venue
type OrderAck struct {
	OrderID       int64
	ClientOrderID string
	Symbol        string
	Side          Side
	Status        OrderStatus
	Price         decimal.Decimal
	OrigQty       decimal.Decimal
	ExecutedQty   decimal.Decimal
	TransactTime  int64
	Raw           []byte
}

// ExecutionReport is a decoded user-data frame for one order state change
type ExecutionReport struct {
	Symbol        string
	OrderID       int64
	Side          Side
	Status        OrderStatus
	CumulativeQty decimal.Decimal
	Raw           []byte
}

// Balance is one asset balance on the exchange account
type Balance struct {
	Asset  string
	Free   decimal.Decimal
	Locked decimal.Decimal
}

// AlertLevel grades notifier events
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertError    AlertLevel = "ERROR"
	AlertCritical AlertLevel = "CRITICAL"
)
