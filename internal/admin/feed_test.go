package admin

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dca_grid/internal/core"
	"dca_grid/internal/logging"
	"dca_grid/pkg/liveserver"
)

func newFeedRig(t *testing.T) (*Feed, *liveserver.Client) {
	t.Helper()
	hub := liveserver.NewHub(logging.NewCapture())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	client := liveserver.NewClient("feed-test")
	hub.Register(client)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	return NewFeed(hub), client
}

func receive(t *testing.T, client *liveserver.Client) liveserver.Message {
	t.Helper()
	select {
	case msg := <-client.GetSendChan():
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
		return liveserver.Message{}
	}
}

func TestFeedPublishesTicker(t *testing.T) {
	feed, client := newFeedRig(t)

	feed.PublishTicker("BTCUSDT", decimal.RequireFromString("45123.5"))

	msg := receive(t, client)
	assert.Equal(t, liveserver.TypeTicker, msg.Type)
	data := msg.Data.(liveserver.TickerData)
	assert.Equal(t, "BTCUSDT", data.Symbol)
	assert.Equal(t, "45123.5", data.Price)
}

func TestFeedPublishesExecution(t *testing.T) {
	feed, client := newFeedRig(t)
	botID := uuid.New()

	feed.PublishExecution(botID, core.ExecutionReport{
		Symbol:        "ETHUSDT",
		OrderID:       42,
		Side:          core.SideBuy,
		Status:        core.OrderStatusFilled,
		CumulativeQty: decimal.RequireFromString("0.5"),
	})

	msg := receive(t, client)
	assert.Equal(t, liveserver.TypeExecution, msg.Type)
	data := msg.Data.(liveserver.ExecutionData)
	assert.Equal(t, botID.String(), data.BotID)
	assert.Equal(t, int64(42), data.OrderID)
	assert.Equal(t, "BUY", data.Side)
	assert.Equal(t, "FILLED", data.Status)
	assert.Equal(t, "0.5", data.CumulativeQty)
}

func TestFeedPublishesCycleWithProfitOnCompletion(t *testing.T) {
	feed, client := newFeedRig(t)
	botID := uuid.New()
	cycle := &core.TradingCycle{
		ID:       uuid.New(),
		BotID:    botID,
		Symbol:   "BTCUSDT",
		Price:    decimal.RequireFromString("45000"),
		Quantity: decimal.RequireFromString("0.02"),
		Status:   core.CycleStatusCompleted,
	}

	feed.PublishCycle(botID, cycle, decimal.RequireFromString("12.34"))

	msg := receive(t, client)
	assert.Equal(t, liveserver.TypeCycle, msg.Type)
	data := msg.Data.(liveserver.CycleData)
	assert.Equal(t, cycle.ID.String(), data.CycleID)
	assert.Equal(t, "COMPLETED", data.Status)
	assert.Equal(t, "12.34", data.Profit)

	// An ACTIVE cycle carries no profit figure
	cycle.Status = core.CycleStatusActive
	feed.PublishCycle(botID, cycle, decimal.Zero)
	msg = receive(t, client)
	assert.Empty(t, msg.Data.(liveserver.CycleData).Profit)
}

func TestFeedPublishesBotLifecycle(t *testing.T) {
	feed, client := newFeedRig(t)
	bot := &core.Bot{
		ID:       uuid.New(),
		Symbol:   "BTCUSDT",
		Status:   core.BotStatusRunning,
		IsActive: true,
	}

	feed.PublishBot(bot)

	msg := receive(t, client)
	assert.Equal(t, liveserver.TypeBot, msg.Type)
	data := msg.Data.(liveserver.BotData)
	assert.Equal(t, bot.ID.String(), data.BotID)
	assert.Equal(t, "RUNNING", data.Status)
	assert.True(t, data.IsActive)
}
