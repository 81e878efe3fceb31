package admin

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dca_grid/internal/config"
	"dca_grid/internal/core"
	"dca_grid/internal/grid"
	"dca_grid/internal/logging"
	"dca_grid/internal/mock"
	"dca_grid/internal/storage/sqlite"
	apperrors "dca_grid/pkg/errors"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// fakeSupervisor records lifecycle calls and hands out scripted engines
type fakeSupervisor struct {
	mu        sync.Mutex
	installed []uuid.UUID
	released  []uuid.UUID
	running   map[uuid.UUID]bool
	engines   map[uuid.UUID]core.ITradingEngine
}

var _ core.ISupervisor = (*fakeSupervisor)(nil)

func newFakeSupervisor() *fakeSupervisor {
	return &fakeSupervisor{
		running: make(map[uuid.UUID]bool),
		engines: make(map[uuid.UUID]core.ITradingEngine),
	}
}

func (f *fakeSupervisor) InstallBots(ctx context.Context, bots []*core.Bot) {}

func (f *fakeSupervisor) Install(ctx context.Context, bot *core.Bot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.installed = append(f.installed, bot.ID)
	f.running[bot.ID] = true
	return nil
}

func (f *fakeSupervisor) Release(ctx context.Context, botID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, botID)
	delete(f.running, botID)
	delete(f.engines, botID)
	return nil
}

func (f *fakeSupervisor) ReleaseAll(ctx context.Context) {}

func (f *fakeSupervisor) IsRunning(botID uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[botID]
}

func (f *fakeSupervisor) Running() []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uuid.UUID, 0, len(f.running))
	for id := range f.running {
		out = append(out, id)
	}
	return out
}

func (f *fakeSupervisor) Engine(botID uuid.UUID) (core.ITradingEngine, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	eng, ok := f.engines[botID]
	return eng, ok
}

func (f *fakeSupervisor) setEngine(botID uuid.UUID, eng core.ITradingEngine) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.engines[botID] = eng
	f.running[botID] = true
}

type serviceRig struct {
	svc   *Service
	store *sqlite.Store
	sup   *fakeSupervisor
	venue *mock.Exchange
}

func newServiceRig(t *testing.T) *serviceRig {
	t.Helper()
	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	venue := mock.NewExchange()
	sup := newFakeSupervisor()
	factory := func(bot *core.Bot, cfg *config.Config, logger core.ILogger) (core.IExchangeGateway, error) {
		return venue, nil
	}

	svc := NewService(config.DefaultConfig(), store, sup, grid.NewTable(), nil,
		logging.NewCapture(), factory)
	t.Cleanup(svc.Close)

	return &serviceRig{svc: svc, store: store, sup: sup, venue: venue}
}

func validRequest() BotRequest {
	return BotRequest{
		Name:                  "btc-dca",
		Exchange:              "mock",
		Symbol:                "BTCUSDT",
		Amount:                d("1000"),
		GridLength:            d("10"),
		FirstOrderOffset:      d("1"),
		NumOrders:             5,
		NextOrderVolume:       d("5"),
		ProfitPercentage:      d("1"),
		PriceChangePercentage: d("0.5"),
	}
}

func seedCycle(t *testing.T, store *sqlite.Store, botID uuid.UUID, status core.CycleStatus, quantity decimal.Decimal) *core.TradingCycle {
	t.Helper()
	cycle := &core.TradingCycle{
		ID:                    uuid.New(),
		BotID:                 botID,
		Exchange:              "mock",
		Symbol:                "BTCUSDT",
		Amount:                d("1000"),
		GridLength:            d("10"),
		FirstOrderOffset:      d("1"),
		NumOrders:             5,
		NextOrderVolume:       d("5"),
		ProfitPercentage:      d("1"),
		PriceChangePercentage: d("0.5"),
		Price:                 d("25000"),
		Quantity:              quantity,
		Status:                status,
	}
	require.NoError(t, store.CreateCycle(context.Background(), cycle))
	return cycle
}

func seedOrder(t *testing.T, store *sqlite.Store, cycleID uuid.UUID, number int, side core.Side,
	price, quantity, filled decimal.Decimal, status core.OrderStatus, exchangeID int64) *core.Order {
	t.Helper()
	order := &core.Order{
		ID:              uuid.New(),
		CycleID:         cycleID,
		ExchangeOrderID: exchangeID,
		Number:          number,
		Side:            side,
		Type:            core.OrderTypeLimit,
		TimeInForce:     core.TimeInForceGTC,
		Price:           price,
		Quantity:        quantity,
		QuantityFilled:  filled,
		Amount:          price.Mul(quantity),
		Status:          status,
	}
	require.NoError(t, store.CreateOrder(context.Background(), order))
	return order
}

func TestCreateBotPersistsStopped(t *testing.T) {
	rig := newServiceRig(t)
	ctx := context.Background()

	bot, err := rig.svc.CreateBot(ctx, validRequest())
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, bot.ID)
	assert.False(t, bot.IsActive)
	assert.Equal(t, core.BotStatusStopped, bot.Status)

	stored, err := rig.store.GetBot(ctx, bot.ID)
	require.NoError(t, err)
	assert.Equal(t, "btc-dca", stored.Name)
	assert.Equal(t, "mock", stored.Exchange)
	assert.True(t, stored.Amount.Equal(d("1000")))
	assert.False(t, stored.IsActive)
}

func TestCreateBotDefaultsExchangeFromConfig(t *testing.T) {
	rig := newServiceRig(t)
	req := validRequest()
	req.Exchange = ""

	bot, err := rig.svc.CreateBot(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "mock", bot.Exchange)
}

func TestCreateBotRejectsBadParameters(t *testing.T) {
	rig := newServiceRig(t)
	ctx := context.Background()

	req := validRequest()
	req.Amount = d("-5")
	_, err := rig.svc.CreateBot(ctx, req)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidOrderParameter)

	bots, err := rig.store.ListBots(ctx)
	require.NoError(t, err)
	assert.Empty(t, bots, "rejected bot must not be persisted")
}

func TestCreateBotRejectsHostileName(t *testing.T) {
	rig := newServiceRig(t)

	req := validRequest()
	req.Name = "grid'; DROP TABLE bots;--"
	_, err := rig.svc.CreateBot(context.Background(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidOrderParameter)
}

func TestUpdateBotPatchesConfigOnly(t *testing.T) {
	rig := newServiceRig(t)
	ctx := context.Background()
	bot, err := rig.svc.CreateBot(ctx, validRequest())
	require.NoError(t, err)

	name := "btc-dca-wide"
	amount := d("2000")
	updated, err := rig.svc.UpdateBot(ctx, bot.ID, BotPatch{Name: &name, Amount: &amount})
	require.NoError(t, err)

	assert.Equal(t, "btc-dca-wide", updated.Name)
	assert.True(t, updated.Amount.Equal(amount))
	assert.Equal(t, 5, updated.NumOrders, "unpatched fields keep their value")
	assert.False(t, updated.IsActive, "lifecycle flags are not patchable")
	assert.Equal(t, core.BotStatusStopped, updated.Status)
}

func TestUpdateBotRejectsInvalidPatch(t *testing.T) {
	rig := newServiceRig(t)
	ctx := context.Background()
	bot, err := rig.svc.CreateBot(ctx, validRequest())
	require.NoError(t, err)

	bad := d("-1")
	_, err = rig.svc.UpdateBot(ctx, bot.ID, BotPatch{Amount: &bad})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidOrderParameter)

	stored, err := rig.store.GetBot(ctx, bot.ID)
	require.NoError(t, err)
	assert.True(t, stored.Amount.Equal(d("1000")), "rejected patch must not be persisted")
}

func TestUpdateBotUnknownBot(t *testing.T) {
	rig := newServiceRig(t)

	name := "ghost"
	_, err := rig.svc.UpdateBot(context.Background(), uuid.New(), BotPatch{Name: &name})
	assert.ErrorIs(t, err, apperrors.ErrBotNotFound)
}

func TestStartBotPersistsAndInstalls(t *testing.T) {
	rig := newServiceRig(t)
	ctx := context.Background()
	bot, err := rig.svc.CreateBot(ctx, validRequest())
	require.NoError(t, err)

	require.NoError(t, rig.svc.StartBot(ctx, bot.ID))

	stored, err := rig.store.GetBot(ctx, bot.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsActive)
	assert.Equal(t, core.BotStatusRunning, stored.Status)

	require.Len(t, rig.sup.installed, 1)
	assert.Equal(t, bot.ID, rig.sup.installed[0])
	assert.True(t, rig.sup.IsRunning(bot.ID))
}

func TestStartBotUnknownBot(t *testing.T) {
	rig := newServiceRig(t)
	err := rig.svc.StartBot(context.Background(), uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrBotNotFound)
}

func TestStopBotDrivesInstalledEngine(t *testing.T) {
	rig := newServiceRig(t)
	ctx := context.Background()
	bot, err := rig.svc.CreateBot(ctx, validRequest())
	require.NoError(t, err)
	require.NoError(t, rig.svc.StartBot(ctx, bot.ID))

	eng := &mock.Engine{}
	rig.sup.setEngine(bot.ID, eng)

	require.NoError(t, rig.svc.StopBot(ctx, bot.ID))

	assert.Equal(t, 1, eng.Stops())
	require.Len(t, rig.sup.released, 1)
	assert.Equal(t, bot.ID, rig.sup.released[0])

	stored, err := rig.store.GetBot(ctx, bot.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
	assert.Equal(t, core.BotStatusStopped, stored.Status)
}

func TestStopBotDetachedCancelsVenueOrders(t *testing.T) {
	rig := newServiceRig(t)
	ctx := context.Background()
	bot, err := rig.svc.CreateBot(ctx, validRequest())
	require.NoError(t, err)

	// A previous run left an ACTIVE cycle with an open BUY on the venue
	// and no pipeline is installed for the bot.
	ack, err := rig.venue.NewOrder(ctx, core.OrderRequest{
		Symbol:      "BTCUSDT",
		Side:        core.SideBuy,
		Type:        core.OrderTypeLimit,
		TimeInForce: core.TimeInForceGTC,
		Price:       d("24750"),
		Quantity:    d("0.01"),
	})
	require.NoError(t, err)

	cycle := seedCycle(t, rig.store, bot.ID, core.CycleStatusActive, d("0.01"))
	seedOrder(t, rig.store, cycle.ID, 1, core.SideBuy, d("24750"), d("0.01"), decimal.Zero,
		core.OrderStatusNew, ack.OrderID)

	require.NoError(t, rig.svc.StopBot(ctx, bot.ID))

	open, err := rig.venue.GetOpenOrders(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Empty(t, open, "open orders must be cancelled on the venue")

	active, err := rig.store.GetActiveCycle(ctx, bot.ID)
	require.NoError(t, err)
	assert.Nil(t, active)

	stored, err := rig.store.GetCycle(ctx, cycle.ID)
	require.NoError(t, err)
	assert.Equal(t, core.CycleStatusCancelled, stored.Status)

	order, err := rig.store.GetOrderByExchangeID(ctx, cycle.ID, ack.OrderID)
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, core.OrderStatusCanceled, order.Status)
}

func TestStopBotWithoutCycleSkipsVenue(t *testing.T) {
	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	factoryCalls := 0
	factory := func(bot *core.Bot, cfg *config.Config, logger core.ILogger) (core.IExchangeGateway, error) {
		factoryCalls++
		return mock.NewExchange(), nil
	}
	svc := NewService(config.DefaultConfig(), store, newFakeSupervisor(), grid.NewTable(), nil,
		logging.NewCapture(), factory)

	ctx := context.Background()
	bot, err := svc.CreateBot(ctx, validRequest())
	require.NoError(t, err)

	require.NoError(t, svc.StopBot(ctx, bot.ID))
	assert.Zero(t, factoryCalls, "no cycle to unwind, no gateway needed")
}

func TestFinishBotWindsDown(t *testing.T) {
	rig := newServiceRig(t)
	ctx := context.Background()
	bot, err := rig.svc.CreateBot(ctx, validRequest())
	require.NoError(t, err)
	require.NoError(t, rig.svc.StartBot(ctx, bot.ID))

	require.NoError(t, rig.svc.FinishBot(ctx, bot.ID))

	stored, err := rig.store.GetBot(ctx, bot.ID)
	require.NoError(t, err)
	assert.Equal(t, core.BotStatusLastCycle, stored.Status)
	assert.True(t, stored.IsActive, "the bot stays active until the cycle completes")

	// Winding down twice makes no sense
	err = rig.svc.FinishBot(ctx, bot.ID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidOrderParameter)
}

func TestFinishBotRequiresRunningBot(t *testing.T) {
	rig := newServiceRig(t)
	ctx := context.Background()
	bot, err := rig.svc.CreateBot(ctx, validRequest())
	require.NoError(t, err)

	err = rig.svc.FinishBot(ctx, bot.ID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidOrderParameter)
}

func TestListBotsWindow(t *testing.T) {
	rig := newServiceRig(t)
	ctx := context.Background()
	for _, name := range []string{"alpha", "beta", "gamma"} {
		req := validRequest()
		req.Name = name
		_, err := rig.svc.CreateBot(ctx, req)
		require.NoError(t, err)
	}

	all, err := rig.svc.ListBots(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)

	page, err := rig.svc.ListBots(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, all[1].ID, page[0].ID)

	empty, err := rig.svc.ListBots(ctx, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestCycleProfitFromStore(t *testing.T) {
	rig := newServiceRig(t)
	ctx := context.Background()
	bot, err := rig.svc.CreateBot(ctx, validRequest())
	require.NoError(t, err)

	cycle := seedCycle(t, rig.store, bot.ID, core.CycleStatusCompleted, d("0.02"))
	seedOrder(t, rig.store, cycle.ID, 1, core.SideBuy, d("25000"), d("0.01"), d("0.01"),
		core.OrderStatusFilled, 1)
	seedOrder(t, rig.store, cycle.ID, 2, core.SideBuy, d("24000"), d("0.01"), d("0.01"),
		core.OrderStatusFilled, 2)
	seedOrder(t, rig.store, cycle.ID, 3, core.SideSell, d("25500"), d("0.02"), d("0.02"),
		core.OrderStatusFilled, 3)

	profit, err := rig.svc.CycleProfit(ctx, cycle.ID)
	require.NoError(t, err)
	// 0.02*25500 - (250 + 240) = 20
	assert.True(t, profit.Equal(d("20")), "profit %s", profit)

	_, err = rig.svc.CycleProfit(ctx, uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrCycleNotFound)
}

func TestDashboardAggregates(t *testing.T) {
	rig := newServiceRig(t)
	ctx := context.Background()
	bot, err := rig.svc.CreateBot(ctx, validRequest())
	require.NoError(t, err)

	done := seedCycle(t, rig.store, bot.ID, core.CycleStatusCompleted, d("0.02"))
	seedOrder(t, rig.store, done.ID, 1, core.SideBuy, d("25000"), d("0.01"), d("0.01"),
		core.OrderStatusFilled, 1)
	seedOrder(t, rig.store, done.ID, 2, core.SideBuy, d("24000"), d("0.01"), d("0.01"),
		core.OrderStatusFilled, 2)
	seedOrder(t, rig.store, done.ID, 3, core.SideSell, d("25500"), d("0.02"), d("0.02"),
		core.OrderStatusFilled, 3)

	active := seedCycle(t, rig.store, bot.ID, core.CycleStatusActive, d("0.01"))
	seedOrder(t, rig.store, active.ID, 1, core.SideBuy, d("24750"), d("0.01"), decimal.Zero,
		core.OrderStatusNew, 10)

	dashboard, err := rig.svc.Dashboard(ctx, bot.ID)
	require.NoError(t, err)

	assert.Equal(t, bot.ID, dashboard.Bot.ID)
	assert.False(t, dashboard.IsRunning)
	require.NotNil(t, dashboard.ActiveCycle)
	assert.Equal(t, active.ID, dashboard.ActiveCycle.ID)
	require.Len(t, dashboard.Orders, 1)
	assert.Equal(t, int64(10), dashboard.Orders[0].ExchangeOrderID)
	require.Len(t, dashboard.Profits, 1)
	assert.Equal(t, done.ID, dashboard.Profits[0].CycleID)
	assert.True(t, dashboard.Profits[0].Profit.Equal(d("20")))
	assert.True(t, dashboard.TotalProfit.Equal(d("20")))
}

func TestDashboardSurfacesInconsistentCycleProfit(t *testing.T) {
	rig := newServiceRig(t)
	ctx := context.Background()
	bot, err := rig.svc.CreateBot(ctx, validRequest())
	require.NoError(t, err)

	clean := seedCycle(t, rig.store, bot.ID, core.CycleStatusCompleted, d("0.02"))
	seedOrder(t, rig.store, clean.ID, 1, core.SideBuy, d("25000"), d("0.02"), d("0.02"),
		core.OrderStatusFilled, 1)
	seedOrder(t, rig.store, clean.ID, 2, core.SideSell, d("25250"), d("0.02"), d("0.02"),
		core.OrderStatusFilled, 2)

	// Sold quantity diverges from the committed one, so this cycle has no
	// computable profit; it must still show up on the dashboard
	broken := seedCycle(t, rig.store, bot.ID, core.CycleStatusCompleted, d("0.05"))
	seedOrder(t, rig.store, broken.ID, 1, core.SideBuy, d("25000"), d("0.05"), d("0.05"),
		core.OrderStatusFilled, 3)
	seedOrder(t, rig.store, broken.ID, 2, core.SideSell, d("25250"), d("0.05"), d("0.03"),
		core.OrderStatusFilled, 4)

	dashboard, err := rig.svc.Dashboard(ctx, bot.ID)
	require.NoError(t, err)

	require.Len(t, dashboard.Profits, 2)
	byCycle := make(map[uuid.UUID]CycleProfitEntry, 2)
	for _, entry := range dashboard.Profits {
		byCycle[entry.CycleID] = entry
	}

	assert.Empty(t, byCycle[clean.ID].Error)
	assert.True(t, byCycle[clean.ID].Profit.Equal(d("5")))

	assert.Equal(t, "quantity mismatch", byCycle[broken.ID].Error)
	assert.True(t, byCycle[broken.ID].Profit.IsZero())

	// Only computable profits count toward the total
	assert.True(t, dashboard.TotalProfit.Equal(d("5")))
}

func TestDashboardUnknownBot(t *testing.T) {
	rig := newServiceRig(t)
	_, err := rig.svc.Dashboard(context.Background(), uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrBotNotFound)
}

func TestBalancesProxyFallbackGateway(t *testing.T) {
	rig := newServiceRig(t)
	ctx := context.Background()
	rig.venue.SetBalance("USDT", d("1500"), d("25"))
	rig.venue.SetBalance("BTC", d("0.5"), decimal.Zero)

	balances, err := rig.svc.Balances(ctx, []string{"USDT"})
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.Equal(t, "USDT", balances[0].Asset)
	assert.True(t, balances[0].Free.Equal(d("1500")))
	assert.True(t, balances[0].Locked.Equal(d("25")))

	all, err := rig.svc.Balances(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
