// Package events routes raw stream frames into the per-bot trading engine.
//
// One router per bot: the gateway's stream callbacks decode incoming frames
// and mail them to a single drain goroutine, so every event for a bot is
// handed to the engine in arrival order while the websocket readers stay
// unblocked.
package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"dca_grid/internal/core"
)

// DefaultMailboxSize bounds the per-bot event mailboxes when the caller
// does not configure one.
const DefaultMailboxSize = 100

// Stream event kinds the router dispatches on
const (
	eventExecutionReport = "executionReport"
	eventTicker          = "24hrTicker"
)

// stopTimeout bounds how long Stop waits for the drain loop to finish the
// event it is processing.
const stopTimeout = 5 * time.Second

// wsFrame is the superset of stream fields the router reads. The venue
// multiplexes event kinds over one socket and tags each frame with "e";
// "c" carries the close price on ticker frames and the client order id on
// execution reports, so it only means a price after the event check.
//
// Stream keys are case-sensitive but encoding/json falls back to a
// case-insensitive match, so every uppercase sibling of a field we read
// must be declared too or it clobbers the lowercase one ("E" lands in
// "e", "I" in "i", and so on). "C" is the original client order id
// (string) on execution reports but the stats close time (number) on
// tickers, hence the RawMessage.
type wsFrame struct {
	Event         string          `json:"e"`
	EventTime     int64           `json:"E"`
	Symbol        string          `json:"s"`
	OrderID       int64           `json:"i"`
	OrderListID   int64           `json:"I"`
	ExecType      string          `json:"x"`
	Status        string          `json:"X"`
	Side          string          `json:"S"`
	CumulativeQty string          `json:"z"`
	QuoteQty      string          `json:"Z"`
	ClosePrice    string          `json:"c"`
	OrigClientID  json.RawMessage `json:"C"`
}

// Router fans one bot's stream frames into its engine. HandleUserData and
// HandleTicker are safe to install as gateway stream callbacks; they never
// block and drop events when the mailboxes back up.
type Router struct {
	bot    *core.Bot
	engine core.ITradingEngine
	logger core.ILogger
	feed   core.IEventFeed

	execCh      chan core.ExecutionReport
	tickCh      chan decimal.Decimal
	reconcileCh chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRouter creates a router for one bot. feed may be nil; a mailbox size
// of zero or less falls back to DefaultMailboxSize.
func NewRouter(bot *core.Bot, eng core.ITradingEngine, logger core.ILogger, feed core.IEventFeed, mailbox int) *Router {
	if mailbox <= 0 {
		mailbox = DefaultMailboxSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Router{
		bot:         bot,
		engine:      eng,
		logger:      logger.WithField("bot", bot.Name),
		feed:        feed,
		execCh:      make(chan core.ExecutionReport, mailbox),
		tickCh:      make(chan decimal.Decimal, mailbox),
		reconcileCh: make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
}

// Start launches the drain loop
func (r *Router) Start() {
	go r.run()
}

// Stop signals the drain loop and waits for it with a deadline. Events
// still queued when the deadline passes are lost; the next Launch
// reconciles them from the venue.
func (r *Router) Stop() {
	r.cancel()
	select {
	case <-r.done:
	case <-time.After(stopTimeout):
		r.logger.Warn("Router did not drain in time", "symbol", r.bot.Symbol)
	}
}

// run drains the mailboxes into the engine. Engine errors are logged and
// the loop keeps going; one poisoned event must not stall the bot.
func (r *Router) run() {
	defer close(r.done)
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Router loop panicked", "panic", rec)
		}
	}()

	r.logger.Info("Router started", "symbol", r.bot.Symbol)
	for {
		select {
		case <-r.ctx.Done():
			r.logger.Info("Router stopped", "symbol", r.bot.Symbol)
			return

		case report := <-r.execCh:
			if err := r.engine.OnExecutionReport(r.ctx, report); err != nil {
				r.logger.Error("Execution report handling failed",
					"order_id", report.OrderID, "status", report.Status, "error", err)
			}

		case price := <-r.tickCh:
			if err := r.engine.OnTicker(r.ctx, price); err != nil {
				r.logger.Error("Ticker handling failed", "price", price, "error", err)
			}

		case <-r.reconcileCh:
			r.logger.Info("Stream reconnected, reconciling orders")
			if err := r.engine.Reconcile(r.ctx); err != nil {
				r.logger.Error("Reconcile after reconnect failed", "error", err)
			}
		}
	}
}

// HandleUserData is the user-data stream callback. Execution reports are
// mailed to the drain loop; the stream's balance and listen-key events are
// not interesting here. Reports for sibling bots on the same account pass
// through and die in the engine's unknown-order check.
func (r *Router) HandleUserData(frame []byte) {
	var f wsFrame
	if err := json.Unmarshal(frame, &f); err != nil {
		r.logger.Warn("Dropping undecodable user-data frame", "error", err)
		return
	}
	if f.Event != eventExecutionReport {
		r.logger.Debug("Ignoring user-data event", "event", f.Event)
		return
	}

	qty, err := decimal.NewFromString(f.CumulativeQty)
	if err != nil {
		r.logger.Warn("Execution report carries unparsable quantity",
			"order_id", f.OrderID, "quantity", f.CumulativeQty)
		return
	}

	report := core.ExecutionReport{
		Symbol:        f.Symbol,
		OrderID:       f.OrderID,
		Side:          core.Side(f.Side),
		Status:        core.OrderStatus(f.Status),
		CumulativeQty: qty,
		Raw:           frame,
	}

	select {
	case r.execCh <- report:
	default:
		r.logger.Warn("Execution mailbox full, dropping report",
			"order_id", report.OrderID, "status", report.Status)
	}

	if r.feed != nil {
		r.feed.PublishExecution(r.bot.ID, report)
	}
}

// HandleTicker is the ticker stream callback. Subscriptions may span more
// symbols than this bot trades, so frames are filtered to the bot's symbol
// before dispatch.
func (r *Router) HandleTicker(frame []byte) {
	var f wsFrame
	if err := json.Unmarshal(frame, &f); err != nil {
		r.logger.Warn("Dropping undecodable ticker frame", "error", err)
		return
	}
	if f.Event != eventTicker {
		r.logger.Debug("Ignoring ticker event", "event", f.Event)
		return
	}
	if !strings.EqualFold(f.Symbol, r.bot.Symbol) {
		return
	}

	price, err := decimal.NewFromString(f.ClosePrice)
	if err != nil || !price.IsPositive() {
		r.logger.Warn("Ticker frame carries unusable price",
			"symbol", f.Symbol, "price", f.ClosePrice)
		return
	}

	if r.feed != nil {
		r.feed.PublishTicker(f.Symbol, price)
	}

	select {
	case r.tickCh <- price:
	default:
		r.logger.Warn("Ticker mailbox full, dropping price update",
			"symbol", f.Symbol)
	}
}

// EnqueueReconcile asks the drain loop for a reconcile pass; wired to the
// gateway's reconnect hook. The channel holds a single pending request, a
// queued reconcile already covers any later gap.
func (r *Router) EnqueueReconcile() {
	select {
	case r.reconcileCh <- struct{}{}:
	default:
	}
}
