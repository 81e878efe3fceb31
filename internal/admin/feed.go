package admin

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"dca_grid/internal/core"
	"dca_grid/pkg/liveserver"
)

// Feed publishes engine and admin events to the WebSocket hub. The engine
// pipelines talk to it through core.IEventFeed; the admin service also uses
// it directly for bot lifecycle broadcasts.
type Feed struct {
	hub *liveserver.Hub
}

var _ core.IEventFeed = (*Feed)(nil)

// NewFeed wraps a hub in the event feed contract
func NewFeed(hub *liveserver.Hub) *Feed {
	return &Feed{hub: hub}
}

func (f *Feed) PublishTicker(symbol string, price decimal.Decimal) {
	f.hub.Broadcast(liveserver.NewMessage(liveserver.TypeTicker, liveserver.TickerData{
		Symbol: symbol,
		Price:  price.String(),
	}))
}

func (f *Feed) PublishExecution(botID uuid.UUID, report core.ExecutionReport) {
	f.hub.Broadcast(liveserver.NewMessage(liveserver.TypeExecution, liveserver.ExecutionData{
		BotID:         botID.String(),
		Symbol:        report.Symbol,
		OrderID:       report.OrderID,
		Side:          string(report.Side),
		Status:        string(report.Status),
		CumulativeQty: report.CumulativeQty.String(),
	}))
}

func (f *Feed) PublishCycle(botID uuid.UUID, cycle *core.TradingCycle, profit decimal.Decimal) {
	data := liveserver.CycleData{
		BotID:    botID.String(),
		CycleID:  cycle.ID.String(),
		Symbol:   cycle.Symbol,
		Status:   string(cycle.Status),
		Price:    cycle.Price.String(),
		Quantity: cycle.Quantity.String(),
	}
	if cycle.Status == core.CycleStatusCompleted {
		data.Profit = profit.String()
	}
	f.hub.Broadcast(liveserver.NewMessage(liveserver.TypeCycle, data))
}

// PublishBot broadcasts a bot lifecycle change. Not part of the engine-facing
// feed contract; only the admin service raises these.
func (f *Feed) PublishBot(bot *core.Bot) {
	f.hub.Broadcast(liveserver.NewMessage(liveserver.TypeBot, liveserver.BotData{
		BotID:    bot.ID.String(),
		Symbol:   bot.Symbol,
		Status:   string(bot.Status),
		IsActive: bot.IsActive,
	}))
}
