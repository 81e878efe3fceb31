package admin

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"dca_grid/internal/core"
)

// BotRequest is the create-bot payload. Credentials are optional; bots
// without their own keys run on the process-wide exchange credentials.
type BotRequest struct {
	Name                  string          `json:"name"`
	Exchange              string          `json:"exchange"`
	Symbol                string          `json:"symbol"`
	APIKey                string          `json:"api_key,omitempty"`
	APISecret             string          `json:"api_secret,omitempty"`
	Amount                decimal.Decimal `json:"amount"`
	GridLength            decimal.Decimal `json:"grid_length"`
	FirstOrderOffset      decimal.Decimal `json:"first_order_offset"`
	NumOrders             int             `json:"num_orders"`
	NextOrderVolume       decimal.Decimal `json:"next_order_volume"`
	ProfitPercentage      decimal.Decimal `json:"profit_percentage"`
	PriceChangePercentage decimal.Decimal `json:"price_change_percentage"`
	UpperPriceLimit       decimal.Decimal `json:"upper_price_limit"`
}

// BotPatch is the update payload. Absent fields keep their stored value;
// is_active and status are not patchable, only the lifecycle endpoints
// change them.
type BotPatch struct {
	Name                  *string          `json:"name,omitempty"`
	APIKey                *string          `json:"api_key,omitempty"`
	APISecret             *string          `json:"api_secret,omitempty"`
	Amount                *decimal.Decimal `json:"amount,omitempty"`
	GridLength            *decimal.Decimal `json:"grid_length,omitempty"`
	FirstOrderOffset      *decimal.Decimal `json:"first_order_offset,omitempty"`
	NumOrders             *int             `json:"num_orders,omitempty"`
	NextOrderVolume       *decimal.Decimal `json:"next_order_volume,omitempty"`
	ProfitPercentage      *decimal.Decimal `json:"profit_percentage,omitempty"`
	PriceChangePercentage *decimal.Decimal `json:"price_change_percentage,omitempty"`
	UpperPriceLimit       *decimal.Decimal `json:"upper_price_limit,omitempty"`
}

// BotResponse is a bot as served by the API. Credentials never leave the
// process, so the key fields are absent.
type BotResponse struct {
	ID                    uuid.UUID       `json:"id"`
	Name                  string          `json:"name"`
	Exchange              string          `json:"exchange"`
	Symbol                string          `json:"symbol"`
	Amount                decimal.Decimal `json:"amount"`
	GridLength            decimal.Decimal `json:"grid_length"`
	FirstOrderOffset      decimal.Decimal `json:"first_order_offset"`
	NumOrders             int             `json:"num_orders"`
	NextOrderVolume       decimal.Decimal `json:"next_order_volume"`
	ProfitPercentage      decimal.Decimal `json:"profit_percentage"`
	PriceChangePercentage decimal.Decimal `json:"price_change_percentage"`
	UpperPriceLimit       decimal.Decimal `json:"upper_price_limit"`
	IsActive              bool            `json:"is_active"`
	Status                string          `json:"status"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// CycleResponse is a trading cycle as served by the API
type CycleResponse struct {
	ID                    uuid.UUID       `json:"id"`
	BotID                 uuid.UUID       `json:"bot_id"`
	Exchange              string          `json:"exchange"`
	Symbol                string          `json:"symbol"`
	Amount                decimal.Decimal `json:"amount"`
	GridLength            decimal.Decimal `json:"grid_length"`
	FirstOrderOffset      decimal.Decimal `json:"first_order_offset"`
	NumOrders             int             `json:"num_orders"`
	NextOrderVolume       decimal.Decimal `json:"next_order_volume"`
	ProfitPercentage      decimal.Decimal `json:"profit_percentage"`
	PriceChangePercentage decimal.Decimal `json:"price_change_percentage"`
	Price                 decimal.Decimal `json:"price"`
	Quantity              decimal.Decimal `json:"quantity"`
	Status                string          `json:"status"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// OrderResponse is an order as served by the API
type OrderResponse struct {
	ID              uuid.UUID       `json:"id"`
	CycleID         uuid.UUID       `json:"cycle_id"`
	ExchangeOrderID int64           `json:"exchange_order_id"`
	Number          int             `json:"number"`
	Side            string          `json:"side"`
	Type            string          `json:"type"`
	TimeInForce     string          `json:"time_in_force"`
	Price           decimal.Decimal `json:"price"`
	Quantity        decimal.Decimal `json:"quantity"`
	QuantityFilled  decimal.Decimal `json:"quantity_filled"`
	Amount          decimal.Decimal `json:"amount"`
	Status          string          `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// CycleProfitEntry is the realized profit of one completed cycle. Error is
// set when the profit could not be computed, a quantity mismatch between
// the cycle and its orders for instance; the profit is zero then.
type CycleProfitEntry struct {
	CycleID uuid.UUID       `json:"cycle_id"`
	Profit  decimal.Decimal `json:"profit"`
	Error   string          `json:"error,omitempty"`
}

// DashboardResponse is the one-call bot overview: the bot, whether its
// pipeline is running, the ACTIVE cycle with its orders, and the realized
// profit of every completed cycle.
type DashboardResponse struct {
	Bot         BotResponse        `json:"bot"`
	IsRunning   bool               `json:"is_running"`
	ActiveCycle *CycleResponse     `json:"active_cycle,omitempty"`
	Orders      []OrderResponse    `json:"orders"`
	Profits     []CycleProfitEntry `json:"profits"`
	TotalProfit decimal.Decimal    `json:"total_profit"`
}

// BalanceResponse is one asset balance from the exchange account
type BalanceResponse struct {
	Asset  string          `json:"asset"`
	Free   decimal.Decimal `json:"free"`
	Locked decimal.Decimal `json:"locked"`
}

// MessageResponse acknowledges a lifecycle action
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is the error body for every non-2xx answer
type ErrorResponse struct {
	Detail string `json:"detail"`
}

func (r BotRequest) toBot() *core.Bot {
	return &core.Bot{
		Name:                  r.Name,
		Exchange:              r.Exchange,
		Symbol:                r.Symbol,
		APIKey:                r.APIKey,
		APISecret:             r.APISecret,
		Amount:                r.Amount,
		GridLength:            r.GridLength,
		FirstOrderOffset:      r.FirstOrderOffset,
		NumOrders:             r.NumOrders,
		NextOrderVolume:       r.NextOrderVolume,
		ProfitPercentage:      r.ProfitPercentage,
		PriceChangePercentage: r.PriceChangePercentage,
		UpperPriceLimit:       r.UpperPriceLimit,
	}
}

func (p BotPatch) apply(bot *core.Bot) {
	if p.Name != nil {
		bot.Name = *p.Name
	}
	if p.APIKey != nil {
		bot.APIKey = *p.APIKey
	}
	if p.APISecret != nil {
		bot.APISecret = *p.APISecret
	}
	if p.Amount != nil {
		bot.Amount = *p.Amount
	}
	if p.GridLength != nil {
		bot.GridLength = *p.GridLength
	}
	if p.FirstOrderOffset != nil {
		bot.FirstOrderOffset = *p.FirstOrderOffset
	}
	if p.NumOrders != nil {
		bot.NumOrders = *p.NumOrders
	}
	if p.NextOrderVolume != nil {
		bot.NextOrderVolume = *p.NextOrderVolume
	}
	if p.ProfitPercentage != nil {
		bot.ProfitPercentage = *p.ProfitPercentage
	}
	if p.PriceChangePercentage != nil {
		bot.PriceChangePercentage = *p.PriceChangePercentage
	}
	if p.UpperPriceLimit != nil {
		bot.UpperPriceLimit = *p.UpperPriceLimit
	}
}

func botResponse(bot *core.Bot) BotResponse {
	return BotResponse{
		ID:                    bot.ID,
		Name:                  bot.Name,
		Exchange:              bot.Exchange,
		Symbol:                bot.Symbol,
		Amount:                bot.Amount,
		GridLength:            bot.GridLength,
		FirstOrderOffset:      bot.FirstOrderOffset,
		NumOrders:             bot.NumOrders,
		NextOrderVolume:       bot.NextOrderVolume,
		ProfitPercentage:      bot.ProfitPercentage,
		PriceChangePercentage: bot.PriceChangePercentage,
		UpperPriceLimit:       bot.UpperPriceLimit,
		IsActive:              bot.IsActive,
		Status:                string(bot.Status),
		CreatedAt:             bot.CreatedAt,
		UpdatedAt:             bot.UpdatedAt,
	}
}

func botResponses(bots []*core.Bot) []BotResponse {
	out := make([]BotResponse, 0, len(bots))
	for _, b := range bots {
		out = append(out, botResponse(b))
	}
	return out
}

func cycleResponse(c *core.TradingCycle) CycleResponse {
	return CycleResponse{
		ID:                    c.ID,
		BotID:                 c.BotID,
		Exchange:              c.Exchange,
		Symbol:                c.Symbol,
		Amount:                c.Amount,
		GridLength:            c.GridLength,
		FirstOrderOffset:      c.FirstOrderOffset,
		NumOrders:             c.NumOrders,
		NextOrderVolume:       c.NextOrderVolume,
		ProfitPercentage:      c.ProfitPercentage,
		PriceChangePercentage: c.PriceChangePercentage,
		Price:                 c.Price,
		Quantity:              c.Quantity,
		Status:                string(c.Status),
		CreatedAt:             c.CreatedAt,
		UpdatedAt:             c.UpdatedAt,
	}
}

func cycleResponses(cycles []*core.TradingCycle) []CycleResponse {
	out := make([]CycleResponse, 0, len(cycles))
	for _, c := range cycles {
		out = append(out, cycleResponse(c))
	}
	return out
}

func orderResponse(o *core.Order) OrderResponse {
	return OrderResponse{
		ID:              o.ID,
		CycleID:         o.CycleID,
		ExchangeOrderID: o.ExchangeOrderID,
		Number:          o.Number,
		Side:            string(o.Side),
		Type:            string(o.Type),
		TimeInForce:     string(o.TimeInForce),
		Price:           o.Price,
		Quantity:        o.Quantity,
		QuantityFilled:  o.QuantityFilled,
		Amount:          o.Amount,
		Status:          string(o.Status),
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

func orderResponses(orders []*core.Order) []OrderResponse {
	out := make([]OrderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, orderResponse(o))
	}
	return out
}

func balanceResponses(balances []core.Balance) []BalanceResponse {
	out := make([]BalanceResponse, 0, len(balances))
	for _, b := range balances {
		out = append(out, BalanceResponse{Asset: b.Asset, Free: b.Free, Locked: b.Locked})
	}
	return out
}
