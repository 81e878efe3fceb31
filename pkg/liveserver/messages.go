package liveserver

// Message represents a WebSocket message
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// MessageType constants
const (
	TypeTicker    = "ticker"
	TypeExecution = "execution"
	TypeCycle     = "cycle"
	TypeBot       = "bot"
)

// TickerData carries the latest trade price for one symbol.
type TickerData struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// ExecutionData mirrors an order execution event routed to a bot.
type ExecutionData struct {
	BotID         string `json:"bot_id"`
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"order_id"`
	Side          string `json:"side"`
	Status        string `json:"status"`
	CumulativeQty string `json:"cumulative_qty"`
}

// CycleData mirrors a trading cycle lifecycle transition.
type CycleData struct {
	BotID    string `json:"bot_id"`
	CycleID  string `json:"cycle_id"`
	Symbol   string `json:"symbol"`
	Status   string `json:"status"`
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
	Profit   string `json:"profit,omitempty"`
}

// BotData mirrors a bot status change pushed by the admin surface.
type BotData struct {
	BotID    string `json:"bot_id"`
	Symbol   string `json:"symbol"`
	Status   string `json:"status"`
	IsActive bool   `json:"is_active"`
}
