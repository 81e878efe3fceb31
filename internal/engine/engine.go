// Package engine implements the per-bot DCA grid state machine: it lays a
// descending BUY ladder below market, keeps a single aggregate take-profit
// SELL sized to the filled quantity, rolls the ladder up on price drift, and
// closes the cycle once the take-profit has sold everything the grid bought.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"dca_grid/internal/core"
	"dca_grid/internal/grid"
	"dca_grid/internal/safety"
	apperrors "dca_grid/pkg/errors"
	"dca_grid/pkg/telemetry"
)

var hundred = decimal.NewFromInt(100)

// ErrQuantityMismatch reports a completed cycle whose sold quantity does not
// equal the committed grid quantity; a profit figure would be misleading.
var ErrQuantityMismatch = errors.New("quantity mismatch")

// Engine drives one bot. All public operations serialize on an internal
// mutex, so the stream router, the ticker feed and admin calls may invoke
// them from any goroutine.
type Engine struct {
	bot      *core.Bot
	gateway  core.IExchangeGateway
	store    core.IStateStore
	filters  grid.Table
	checker  *safety.Checker
	logger   core.ILogger
	notifier core.INotifier
	feed     core.IEventFeed

	mu sync.Mutex
	// cycle caches the ACTIVE cycle; nil between cycles
	cycle *core.TradingCycle

	// OTel
	tracer          trace.Tracer
	ordersPlaced    metric.Int64Counter
	ordersFilled    metric.Int64Counter
	ordersCanceled  metric.Int64Counter
	cyclesStarted   metric.Int64Counter
	cyclesCompleted metric.Int64Counter
	cyclesCancelled metric.Int64Counter
	regrids         metric.Int64Counter
	realizedProfit  metric.Float64Counter
}

// New creates the engine for one bot. notifier and feed may be nil.
func New(
	bot *core.Bot,
	gateway core.IExchangeGateway,
	store core.IStateStore,
	filters grid.Table,
	logger core.ILogger,
	notifier core.INotifier,
	feed core.IEventFeed,
) *Engine {
	tracer := telemetry.GetTracer("trading-engine")
	meter := telemetry.GetMeter("trading-engine")

	ordersPlaced, _ := meter.Int64Counter(telemetry.MetricOrdersPlacedTotal,
		metric.WithDescription("Total number of orders placed on the exchange"))
	ordersFilled, _ := meter.Int64Counter(telemetry.MetricOrdersFilledTotal,
		metric.WithDescription("Total number of orders fully filled"))
	ordersCanceled, _ := meter.Int64Counter(telemetry.MetricOrdersCanceledTotal,
		metric.WithDescription("Total number of orders canceled"))
	cyclesStarted, _ := meter.Int64Counter(telemetry.MetricCyclesStartedTotal,
		metric.WithDescription("Total number of trading cycles started"))
	cyclesCompleted, _ := meter.Int64Counter(telemetry.MetricCyclesCompletedTotal,
		metric.WithDescription("Total number of trading cycles completed"))
	cyclesCancelled, _ := meter.Int64Counter(telemetry.MetricCyclesCancelledTotal,
		metric.WithDescription("Total number of trading cycles cancelled"))
	regrids, _ := meter.Int64Counter(telemetry.MetricRegridsTotal,
		metric.WithDescription("Total number of grid rebuilds after upward drift"))
	realizedProfit, _ := meter.Float64Counter(telemetry.MetricRealizedProfitTotal,
		metric.WithDescription("Cumulative realized profit in quote currency"))

	return &Engine{
		bot:             bot,
		gateway:         gateway,
		store:           store,
		filters:         filters,
		checker:         safety.NewChecker(filters, logger),
		logger:          logger,
		notifier:        notifier,
		feed:            feed,
		tracer:          tracer,
		ordersPlaced:    ordersPlaced,
		ordersFilled:    ordersFilled,
		ordersCanceled:  ordersCanceled,
		cyclesStarted:   cyclesStarted,
		cyclesCompleted: cyclesCompleted,
		cyclesCancelled: cyclesCancelled,
		regrids:         regrids,
		realizedProfit:  realizedProfit,
	}
}

var _ core.ITradingEngine = (*Engine)(nil)

// Launch is the idempotent startup path: resume the persisted ACTIVE cycle
// after reconciling its orders against the venue, or start a fresh one.
func (e *Engine) Launch(ctx context.Context) error {
	ctx, span := e.tracer.Start(ctx, "Launch",
		trace.WithAttributes(
			attribute.String("bot", e.bot.Name),
			attribute.String("symbol", e.bot.Symbol),
		),
	)
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.bot.IsActive {
		e.logger.Info("Bot is not active, skipping launch", "bot", e.bot.Name)
		return nil
	}

	cycle, err := e.store.GetActiveCycle(ctx, e.bot.ID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to load active cycle: %w", err)
	}

	// 1. Resume: catch up on whatever the venue did while we were away
	if cycle != nil {
		e.cycle = cycle
		e.logger.Info("Resuming active cycle",
			"cycle_id", cycle.ID, "symbol", cycle.Symbol, "price", cycle.Price)

		if err := e.reconcileOpenOrders(ctx); err != nil {
			span.RecordError(err)
			return err
		}
		if e.cycle == nil {
			// Reconciliation found the take-profit filled and closed the cycle
			return nil
		}

		// 2. A crash between cycle insert and first placement leaves an
		// empty cycle; lay the ladder now
		orders, err := e.store.ListOrdersByCycle(ctx, e.cycle.ID)
		if err != nil {
			span.RecordError(err)
			return err
		}
		if len(orders) == 0 {
			e.logger.Warn("Active cycle has no orders, placing grid", "cycle_id", e.cycle.ID)
			return e.placeGrid(ctx)
		}
		return nil
	}

	// 3. Fresh start
	if err := e.startNewCycle(ctx); err != nil {
		if errors.Is(err, apperrors.ErrUpperPriceLimitActive) {
			e.logger.Warn("Grid placement deferred, price above upper limit",
				"bot", e.bot.Name, "limit", e.bot.UpperPriceLimit)
			return nil
		}
		span.RecordError(err)
		return err
	}
	return nil
}

// OnExecutionReport applies one user-data order update. Reports for orders
// outside the current cycle, manual trades included, are dropped.
func (e *Engine) OnExecutionReport(ctx context.Context, report core.ExecutionReport) error {
	ctx, span := e.tracer.Start(ctx, "OnExecutionReport",
		trace.WithAttributes(
			attribute.String("symbol", report.Symbol),
			attribute.Int64("order_id", report.OrderID),
			attribute.String("status", string(report.Status)),
		),
	)
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.refreshOpenOrdersGauge(ctx)

	if e.cycle == nil {
		return nil
	}

	order, err := e.store.GetOrderByExchangeID(ctx, e.cycle.ID, report.OrderID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if order == nil {
		e.logger.Debug("Execution report for unknown order, ignoring",
			"order_id", report.OrderID, "symbol", report.Symbol)
		return nil
	}

	if report.Status != core.OrderStatusPartiallyFilled && report.Status != core.OrderStatusFilled {
		e.logger.Debug("Ignoring execution report",
			"order_id", report.OrderID, "status", report.Status)
		return nil
	}

	// 1. Persist venue progress before acting on it
	order.Status = report.Status
	order.QuantityFilled = report.CumulativeQty
	if len(report.Raw) > 0 {
		order.ExchangeOrderData = string(report.Raw)
	}
	if err := e.store.UpdateOrder(ctx, order); err != nil {
		span.RecordError(err)
		return err
	}

	if report.Status == core.OrderStatusFilled {
		e.ordersFilled.Add(ctx, 1, metric.WithAttributes(
			attribute.String("symbol", e.cycle.Symbol),
			attribute.String("side", string(order.Side)),
		))
		e.logger.Info("Order filled",
			"side", order.Side, "number", order.Number,
			"price", order.Price, "filled", order.QuantityFilled)
	}

	// 2. BUY progress resizes the take-profit; a filled SELL may close the cycle
	switch {
	case order.Side == core.SideBuy:
		return e.updateTakeProfit(ctx)
	case order.Side == core.SideSell && report.Status == core.OrderStatusFilled:
		return e.checkCycleCompletion(ctx)
	}
	return nil
}

// OnTicker reacts to a market price update for the bot's symbol
func (e *Engine) OnTicker(ctx context.Context, price decimal.Decimal) error {
	ctx, span := e.tracer.Start(ctx, "OnTicker",
		trace.WithAttributes(attribute.String("symbol", e.bot.Symbol)),
	)
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cycle == nil {
		// Placement may have been gated by the upper price limit; every tick
		// is a fresh chance once the market falls back under it. The stored
		// row decides whether a retry is still welcome: the admin may have
		// stopped the bot or flipped it to LAST_CYCLE since our snapshot.
		fresh, err := e.store.GetBot(ctx, e.bot.ID)
		if err != nil {
			span.RecordError(err)
			return err
		}
		e.bot = fresh
		if e.bot.IsActive && e.bot.Status == core.BotStatusRunning {
			if err := e.startNewCycle(ctx); err != nil {
				if errors.Is(err, apperrors.ErrUpperPriceLimitActive) {
					return nil
				}
				span.RecordError(err)
				return err
			}
		}
		return nil
	}

	if err := e.checkGridUpdate(ctx, price); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// CancelCycleOrders cancels every resting order of the current cycle
func (e *Engine) CancelCycleOrders(ctx context.Context) error {
	ctx, span := e.tracer.Start(ctx, "CancelCycleOrders",
		trace.WithAttributes(attribute.String("bot", e.bot.Name)),
	)
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cycle == nil {
		return nil
	}
	return e.cancelCycleOrders(ctx)
}

// StopCycle is the admin stop path: cancel everything resting, then close
// the cycle as CANCELLED
func (e *Engine) StopCycle(ctx context.Context) error {
	ctx, span := e.tracer.Start(ctx, "StopCycle",
		trace.WithAttributes(attribute.String("bot", e.bot.Name)),
	)
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cycle == nil {
		cycle, err := e.store.GetActiveCycle(ctx, e.bot.ID)
		if err != nil {
			span.RecordError(err)
			return err
		}
		if cycle == nil {
			return nil
		}
		e.cycle = cycle
	}

	if err := e.cancelCycleOrders(ctx); err != nil {
		span.RecordError(err)
		return err
	}

	e.cycle.Status = core.CycleStatusCancelled
	if err := e.store.UpdateCycle(ctx, e.cycle); err != nil {
		span.RecordError(err)
		return err
	}
	e.cyclesCancelled.Add(ctx, 1, metric.WithAttributes(
		attribute.String("symbol", e.cycle.Symbol)))
	e.logger.Info("Cycle cancelled", "cycle_id", e.cycle.ID)
	e.publishCycle(e.cycle, decimal.Zero)
	e.cycle = nil
	e.refreshOpenOrdersGauge(ctx)
	return nil
}

// Reconcile refreshes the cycle's non-terminal orders from the venue; the
// router triggers this after a stream reconnect.
func (e *Engine) Reconcile(ctx context.Context) error {
	ctx, span := e.tracer.Start(ctx, "Reconcile",
		trace.WithAttributes(attribute.String("bot", e.bot.Name)),
	)
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cycle == nil {
		cycle, err := e.store.GetActiveCycle(ctx, e.bot.ID)
		if err != nil {
			span.RecordError(err)
			return err
		}
		if cycle == nil {
			return nil
		}
		e.cycle = cycle
	}
	return e.reconcileOpenOrders(ctx)
}

// startNewCycle captures the market price, persists a fresh ACTIVE cycle
// snapshotting the bot's strategy parameters, and lays the grid. Called with
// the lock held.
func (e *Engine) startNewCycle(ctx context.Context) error {
	price, err := e.gateway.TickerPrice(ctx, e.bot.Symbol)
	if err != nil {
		return fmt.Errorf("failed to fetch market price: %w", err)
	}

	if e.bot.UpperPriceLimit.IsPositive() && price.GreaterThan(e.bot.UpperPriceLimit) {
		return fmt.Errorf("price %s above limit %s: %w",
			price, e.bot.UpperPriceLimit, apperrors.ErrUpperPriceLimitActive)
	}

	cycle := &core.TradingCycle{
		ID:                    uuid.New(),
		BotID:                 e.bot.ID,
		Exchange:              e.bot.Exchange,
		Symbol:                e.bot.Symbol,
		Amount:                e.bot.Amount,
		GridLength:            e.bot.GridLength,
		FirstOrderOffset:      e.bot.FirstOrderOffset,
		NumOrders:             e.bot.NumOrders,
		NextOrderVolume:       e.bot.NextOrderVolume,
		ProfitPercentage:      e.bot.ProfitPercentage,
		PriceChangePercentage: e.bot.PriceChangePercentage,
		Price:                 price,
		Quantity:              decimal.Zero,
		Status:                core.CycleStatusActive,
	}
	if err := e.store.CreateCycle(ctx, cycle); err != nil {
		return fmt.Errorf("failed to create cycle: %w", err)
	}
	e.cycle = cycle

	e.cyclesStarted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("symbol", cycle.Symbol)))
	e.logger.Info("New cycle started",
		"cycle_id", cycle.ID, "symbol", cycle.Symbol, "price", price)
	e.publishCycle(cycle, decimal.Zero)

	return e.placeGrid(ctx)
}

// placeGrid lays the descending BUY ladder against the live market price and
// records the committed quantity on the cycle. The budget excludes quote
// already spent by earlier fills, so a rolled ladder never oversubscribes.
// Called with the lock held.
func (e *Engine) placeGrid(ctx context.Context) error {
	price, err := e.gateway.TickerPrice(ctx, e.cycle.Symbol)
	if err != nil {
		return fmt.Errorf("failed to fetch market price: %w", err)
	}

	existing, err := e.store.ListOrdersByCycle(ctx, e.cycle.ID)
	if err != nil {
		return err
	}
	spent := decimal.Zero
	for _, o := range existing {
		if o.Side == core.SideBuy {
			spent = spent.Add(o.Price.Mul(o.QuantityFilled))
		}
	}
	budget := e.cycle.Amount.Sub(spent)

	f := e.filters.For(e.cycle.Symbol)
	levels, err := grid.Build(price, budget, grid.Params{
		NumOrders:        e.cycle.NumOrders,
		GridLength:       e.cycle.GridLength,
		FirstOrderOffset: e.cycle.FirstOrderOffset,
		NextOrderVolume:  e.cycle.NextOrderVolume,
	}, f)
	if err != nil {
		return fmt.Errorf("failed to build grid: %w", err)
	}
	if err := e.checker.CheckGridPlan(e.cycle.Symbol, levels, budget); err != nil {
		return fmt.Errorf("grid plan failed safety checks: %w", err)
	}

	// 1. Place rung by rung; a rejection abandons the remainder but keeps
	// whatever already rests on the book
	var placeErr error
	placed := 0
	for _, lvl := range levels {
		ack, err := e.gateway.NewOrder(ctx, core.OrderRequest{
			Symbol:        e.cycle.Symbol,
			Side:          core.SideBuy,
			Type:          core.OrderTypeLimit,
			TimeInForce:   core.TimeInForceGTC,
			Price:         lvl.Price,
			Quantity:      lvl.Quantity,
			ClientOrderID: uuid.NewString(),
		})
		if err != nil {
			e.logger.Warn("Grid order rejected, keeping partial ladder",
				"number", lvl.Number, "price", lvl.Price, "error", err)
			placeErr = err
			break
		}

		order := &core.Order{
			ID:                uuid.New(),
			CycleID:           e.cycle.ID,
			ExchangeOrderID:   ack.OrderID,
			Number:            lvl.Number,
			Side:              core.SideBuy,
			Type:              core.OrderTypeLimit,
			TimeInForce:       core.TimeInForceGTC,
			Price:             lvl.Price,
			Quantity:          lvl.Quantity,
			QuantityFilled:    decimal.Zero,
			Amount:            lvl.Price.Mul(lvl.Quantity),
			Status:            core.OrderStatusNew,
			ExchangeOrderData: string(ack.Raw),
		}
		if err := e.store.CreateOrder(ctx, order); err != nil {
			return err
		}
		placed++
		e.ordersPlaced.Add(ctx, 1, metric.WithAttributes(
			attribute.String("symbol", e.cycle.Symbol),
			attribute.String("side", string(core.SideBuy)),
		))
	}

	// 2. The committed quantity is whatever actually made it onto the book
	orders, err := e.store.ListOrdersByCycle(ctx, e.cycle.ID)
	if err != nil {
		return err
	}
	committed := decimal.Zero
	for _, o := range orders {
		if o.Side == core.SideBuy && o.Status == core.OrderStatusNew {
			committed = committed.Add(o.Quantity)
		}
	}
	e.cycle.Quantity = committed
	if err := e.store.UpdateCycle(ctx, e.cycle); err != nil {
		return err
	}

	e.logger.Info("Grid placed",
		"cycle_id", e.cycle.ID, "orders", placed,
		"reference_price", price, "committed_qty", committed)
	e.refreshOpenOrdersGauge(ctx)
	return placeErr
}

// updateTakeProfit replaces the aggregate SELL with one sized to the current
// BUY progress. The old order is retired on the venue before the new one is
// sent. Called with the lock held.
func (e *Engine) updateTakeProfit(ctx context.Context) error {
	open, err := e.store.ListOrdersByCycleAndStatus(ctx, e.cycle.ID,
		core.OrderStatusNew, core.OrderStatusPartiallyFilled)
	if err != nil {
		return err
	}

	var tp *core.Order
	for _, o := range open {
		if o.Side == core.SideSell {
			tp = o
			break
		}
	}

	// 1. Retire the previous take-profit
	if tp != nil {
		ack, err := e.gateway.CancelOrder(ctx, e.cycle.Symbol, tp.ExchangeOrderID)
		if err != nil {
			return fmt.Errorf("failed to cancel take-profit %d: %w", tp.ExchangeOrderID, err)
		}
		tp.Status = ack.Status
		tp.QuantityFilled = ack.ExecutedQty
		if len(ack.Raw) > 0 {
			tp.ExchangeOrderData = string(ack.Raw)
		}
		if err := e.store.UpdateOrder(ctx, tp); err != nil {
			return err
		}

		if ack.Status == core.OrderStatusFilled {
			// The cancel raced a fill; the cycle may be done and no
			// replacement is owed
			e.logger.Info("Take-profit filled before cancel reached the venue",
				"order_id", tp.ExchangeOrderID, "filled", ack.ExecutedQty)
			return e.checkCycleCompletion(ctx)
		}
		e.ordersCanceled.Add(ctx, 1, metric.WithAttributes(
			attribute.String("symbol", e.cycle.Symbol),
			attribute.String("side", string(core.SideSell)),
		))
	}

	// 2. Size the replacement from every BUY fill in the cycle
	return e.placeTakeProfit(ctx)
}

// placeTakeProfit computes and places the aggregate SELL covering all bought
// but unsold quantity. Called with the lock held.
func (e *Engine) placeTakeProfit(ctx context.Context) error {
	orders, err := e.store.ListOrdersByCycle(ctx, e.cycle.ID)
	if err != nil {
		return err
	}

	var (
		buys       int
		fills      []grid.Fill
		buyFilled  = decimal.Zero
		sellFilled = decimal.Zero
	)
	for _, o := range orders {
		switch o.Side {
		case core.SideBuy:
			buys++
			if o.QuantityFilled.IsPositive() {
				fills = append(fills, grid.Fill{Price: o.Price, Quantity: o.QuantityFilled})
				buyFilled = buyFilled.Add(o.QuantityFilled)
			}
		case core.SideSell:
			sellFilled = sellFilled.Add(o.QuantityFilled)
		}
	}

	f := e.filters.For(e.cycle.Symbol)
	quantity := grid.TakeProfitQuantity(buyFilled, sellFilled, f)
	if !quantity.IsPositive() {
		e.logger.Debug("No unsold quantity to take profit on", "cycle_id", e.cycle.ID)
		return nil
	}

	avg := grid.AverageEntry(fills)
	price := grid.TakeProfitPrice(avg, e.cycle.ProfitPercentage, f)

	ack, err := e.gateway.NewOrder(ctx, core.OrderRequest{
		Symbol:        e.cycle.Symbol,
		Side:          core.SideSell,
		Type:          core.OrderTypeLimit,
		TimeInForce:   core.TimeInForceGTC,
		Price:         price,
		Quantity:      quantity,
		ClientOrderID: uuid.NewString(),
	})
	if err != nil {
		return fmt.Errorf("failed to place take-profit: %w", err)
	}

	order := &core.Order{
		ID:                uuid.New(),
		CycleID:           e.cycle.ID,
		ExchangeOrderID:   ack.OrderID,
		Number:            buys + 1,
		Side:              core.SideSell,
		Type:              core.OrderTypeLimit,
		TimeInForce:       core.TimeInForceGTC,
		Price:             price,
		Quantity:          quantity,
		QuantityFilled:    decimal.Zero,
		Amount:            price.Mul(quantity),
		Status:            ack.Status,
		ExchangeOrderData: string(ack.Raw),
	}
	if err := e.store.CreateOrder(ctx, order); err != nil {
		return err
	}

	e.ordersPlaced.Add(ctx, 1, metric.WithAttributes(
		attribute.String("symbol", e.cycle.Symbol),
		attribute.String("side", string(core.SideSell)),
	))
	e.logger.Info("Take-profit placed",
		"cycle_id", e.cycle.ID, "price", price, "quantity", quantity,
		"avg_entry", avg.StringFixed(8))
	e.refreshOpenOrdersGauge(ctx)
	return nil
}

// checkCycleCompletion closes the cycle once the filled SELL quantity has
// reached the committed grid quantity, then chains into the next cycle or
// stops the bot after its last one. Called with the lock held.
func (e *Engine) checkCycleCompletion(ctx context.Context) error {
	orders, err := e.store.ListOrdersByCycle(ctx, e.cycle.ID)
	if err != nil {
		return err
	}
	sellFilled := decimal.Zero
	for _, o := range orders {
		if o.Side == core.SideSell {
			sellFilled = sellFilled.Add(o.QuantityFilled)
		}
	}
	if !sellFilled.Equal(e.cycle.Quantity) {
		return nil
	}

	// 1. Close the cycle
	e.cycle.Status = core.CycleStatusCompleted
	if err := e.store.UpdateCycle(ctx, e.cycle); err != nil {
		return err
	}

	profit, _ := CycleProfit(e.cycle, orders)
	e.cyclesCompleted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("symbol", e.cycle.Symbol)))
	pf, _ := profit.Float64()
	e.realizedProfit.Add(ctx, pf, metric.WithAttributes(
		attribute.String("symbol", e.cycle.Symbol)))
	e.logger.Info("✅ Cycle completed",
		"cycle_id", e.cycle.ID, "symbol", e.cycle.Symbol,
		"profit", profit.StringFixed(2))
	e.notify(ctx, core.AlertInfo, "Cycle completed",
		fmt.Sprintf("%s closed a %s cycle with %s quote profit",
			e.bot.Name, e.cycle.Symbol, profit.StringFixed(2)),
		map[string]string{
			"bot":    e.bot.Name,
			"symbol": e.cycle.Symbol,
			"profit": profit.StringFixed(2),
		})
	e.publishCycle(e.cycle, profit)
	e.cycle = nil
	e.refreshOpenOrdersGauge(ctx)

	// 2. Chain into the next cycle, or park the bot after its last one.
	// The stored row decides: the admin may have flipped the bot to
	// LAST_CYCLE, deactivated it, or patched its parameters since this
	// cycle started.
	fresh, err := e.store.GetBot(ctx, e.bot.ID)
	if err != nil {
		return err
	}
	e.bot = fresh

	switch {
	case e.bot.Status == core.BotStatusLastCycle:
		e.bot.IsActive = false
		e.bot.Status = core.BotStatusStopped
		if err := e.store.UpdateBot(ctx, e.bot); err != nil {
			return err
		}
		e.logger.Info("Last cycle finished, bot stopped", "bot", e.bot.Name)
		e.notify(ctx, core.AlertInfo, "Bot stopped",
			fmt.Sprintf("%s finished its last cycle", e.bot.Name),
			map[string]string{"bot": e.bot.Name})
	case e.bot.IsActive:
		if err := e.startNewCycle(ctx); err != nil {
			if errors.Is(err, apperrors.ErrUpperPriceLimitActive) {
				e.logger.Warn("Next cycle deferred, price above upper limit",
					"bot", e.bot.Name, "limit", e.bot.UpperPriceLimit)
				return nil
			}
			return err
		}
	}
	return nil
}

// checkGridUpdate rolls the ladder up when price has drifted far enough
// above the cycle reference and nothing has filled yet. Called with the
// lock held.
func (e *Engine) checkGridUpdate(ctx context.Context, price decimal.Decimal) error {
	if e.cycle == nil {
		return nil
	}

	drift := price.Sub(e.cycle.Price).Div(e.cycle.Price).Mul(hundred)
	if drift.LessThan(e.cycle.PriceChangePercentage) {
		return nil
	}

	// A fill has committed capital; rolling the ladder would orphan it
	orders, err := e.store.ListOrdersByCycle(ctx, e.cycle.ID)
	if err != nil {
		return err
	}
	if len(orders) == 0 {
		return nil
	}
	for _, o := range orders {
		if o.Status != core.OrderStatusNew {
			return nil
		}
	}

	if e.bot.UpperPriceLimit.IsPositive() && price.GreaterThan(e.bot.UpperPriceLimit) {
		e.logger.Debug("Re-grid suppressed above upper price limit",
			"price", price, "limit", e.bot.UpperPriceLimit)
		return nil
	}

	e.logger.Info("Upward drift triggered re-grid",
		"cycle_id", e.cycle.ID, "from", e.cycle.Price, "to", price,
		"drift_pct", drift.StringFixed(2))

	e.cycle.Price = price
	if err := e.store.UpdateCycle(ctx, e.cycle); err != nil {
		return err
	}
	if err := e.cancelCycleOrders(ctx); err != nil {
		return err
	}
	if err := e.placeGrid(ctx); err != nil {
		return err
	}
	e.regrids.Add(ctx, 1, metric.WithAttributes(
		attribute.String("symbol", e.cycle.Symbol)))
	return nil
}

// cancelCycleOrders cancels every NEW order in the cycle. Venue failures are
// logged and skipped, so one stuck order cannot wedge the batch. Called with
// the lock held.
func (e *Engine) cancelCycleOrders(ctx context.Context) error {
	orders, err := e.store.ListOrdersByCycleAndStatus(ctx, e.cycle.ID, core.OrderStatusNew)
	if err != nil {
		return err
	}

	for _, o := range orders {
		ack, err := e.gateway.CancelOrder(ctx, e.cycle.Symbol, o.ExchangeOrderID)
		if err != nil {
			e.logger.Error("Failed to cancel order",
				"order_id", o.ExchangeOrderID, "error", err)
			continue
		}
		if ack.Status != core.OrderStatusCanceled {
			// A fill beat the cancel; leave it for the stream to report
			e.logger.Warn("Cancel answered with non-terminal state",
				"order_id", o.ExchangeOrderID, "status", ack.Status)
			continue
		}

		o.Status = core.OrderStatusCanceled
		o.QuantityFilled = ack.ExecutedQty
		if len(ack.Raw) > 0 {
			o.ExchangeOrderData = string(ack.Raw)
		}
		if err := e.store.UpdateOrder(ctx, o); err != nil {
			return err
		}
		e.ordersCanceled.Add(ctx, 1, metric.WithAttributes(
			attribute.String("symbol", e.cycle.Symbol),
			attribute.String("side", string(o.Side)),
		))
	}
	e.refreshOpenOrdersGauge(ctx)
	return nil
}

// reconcileOpenOrders refreshes every non-terminal order from the venue and
// reacts to whatever moved while the stream was down: a filled take-profit
// runs the completion path, BUY progress refreshes the take-profit. Called
// with the lock held.
func (e *Engine) reconcileOpenOrders(ctx context.Context) error {
	orders, err := e.store.ListOrdersByCycleAndStatus(ctx, e.cycle.ID,
		core.OrderStatusNew, core.OrderStatusPartiallyFilled)
	if err != nil {
		return err
	}

	var (
		buyProgress bool
		sellDone    bool
	)
	for _, o := range orders {
		ack, err := e.gateway.GetOrder(ctx, e.cycle.Symbol, o.ExchangeOrderID)
		if err != nil {
			if apperrors.IsAlreadyTerminal(err) {
				// The venue no longer knows the order; keep the last
				// observed fill and close it out locally
				o.Status = core.OrderStatusCanceled
				if err := e.store.UpdateOrder(ctx, o); err != nil {
					return err
				}
				continue
			}
			return fmt.Errorf("failed to reconcile order %d: %w", o.ExchangeOrderID, err)
		}

		progressed := ack.ExecutedQty.GreaterThan(o.QuantityFilled)
		if ack.Status == o.Status && !progressed {
			continue
		}

		o.Status = ack.Status
		o.QuantityFilled = ack.ExecutedQty
		if len(ack.Raw) > 0 {
			o.ExchangeOrderData = string(ack.Raw)
		}
		if err := e.store.UpdateOrder(ctx, o); err != nil {
			return err
		}
		e.logger.Info("Order reconciled",
			"order_id", o.ExchangeOrderID, "side", o.Side,
			"status", o.Status, "filled", o.QuantityFilled)

		if o.Side == core.SideBuy && progressed {
			buyProgress = true
		}
		if o.Side == core.SideSell && ack.Status == core.OrderStatusFilled {
			sellDone = true
		}
	}

	if sellDone {
		prevID := e.cycle.ID
		if err := e.checkCycleCompletion(ctx); err != nil {
			return err
		}
		if e.cycle == nil || e.cycle.ID != prevID {
			return nil
		}
	}
	if buyProgress {
		return e.updateTakeProfit(ctx)
	}
	return nil
}

// refreshOpenOrdersGauge recounts the cycle's resting orders into the
// open-orders gauge; no cycle means zero. Store trouble only skips the
// refresh, the gauge is not worth failing an operation over. Called with
// the lock held.
func (e *Engine) refreshOpenOrdersGauge(ctx context.Context) {
	count := 0
	if e.cycle != nil {
		open, err := e.store.ListOrdersByCycleAndStatus(ctx, e.cycle.ID,
			core.OrderStatusNew, core.OrderStatusPartiallyFilled)
		if err != nil {
			e.logger.Warn("Open orders gauge refresh failed", "error", err)
			return
		}
		count = len(open)
	}
	telemetry.GetGlobalMetrics().SetOpenOrders(e.bot.Symbol, int64(count))
}

func (e *Engine) notify(ctx context.Context, level core.AlertLevel, title, message string, fields map[string]string) {
	if e.notifier == nil {
		return
	}
	e.notifier.Notify(ctx, level, title, message, fields)
}

func (e *Engine) publishCycle(cycle *core.TradingCycle, profit decimal.Decimal) {
	if e.feed == nil || cycle == nil {
		return
	}
	e.feed.PublishCycle(e.bot.ID, cycle, profit)
}

// CycleProfit returns the realized quote profit of a cycle: what the sells
// brought in minus what the buys paid, rounded to 2 decimals. Cycles not yet
// COMPLETED yield zero. A completed cycle whose sold quantity diverges from
// the committed quantity yields ErrQuantityMismatch.
func CycleProfit(cycle *core.TradingCycle, orders []*core.Order) (decimal.Decimal, error) {
	if cycle.Status != core.CycleStatusCompleted {
		return decimal.Zero, nil
	}

	buyNotional := decimal.Zero
	sellNotional := decimal.Zero
	sellQty := decimal.Zero
	for _, o := range orders {
		switch o.Side {
		case core.SideBuy:
			buyNotional = buyNotional.Add(o.Price.Mul(o.QuantityFilled))
		case core.SideSell:
			sellNotional = sellNotional.Add(o.Price.Mul(o.QuantityFilled))
			sellQty = sellQty.Add(o.QuantityFilled)
		}
	}
	if !sellQty.Equal(cycle.Quantity) {
		return decimal.Zero, ErrQuantityMismatch
	}
	return sellNotional.Sub(buyNotional).Round(2), nil
}
