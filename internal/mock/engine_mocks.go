package mock

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"dca_grid/internal/core"
)

// Engine is a scripted core.ITradingEngine that records every call. The
// error fields, when set before the engine is exercised, are returned from
// the matching operation.
type Engine struct {
	LaunchErr    error
	ReportErr    error
	TickerErr    error
	ReconcileErr error
	StopErr      error

	mu         sync.Mutex
	launches   int
	reports    []core.ExecutionReport
	ticks      []decimal.Decimal
	reconciles int
	stops      int
	cancels    int
}

var _ core.ITradingEngine = (*Engine)(nil)

func (m *Engine) Launch(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.launches++
	return m.LaunchErr
}

func (m *Engine) OnExecutionReport(ctx context.Context, report core.ExecutionReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, report)
	return m.ReportErr
}

func (m *Engine) OnTicker(ctx context.Context, price decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticks = append(m.ticks, price)
	return m.TickerErr
}

func (m *Engine) CancelCycleOrders(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancels++
	return nil
}

func (m *Engine) StopCycle(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	return m.StopErr
}

func (m *Engine) Reconcile(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconciles++
	return m.ReconcileErr
}

// Launches returns how many times Launch ran
func (m *Engine) Launches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.launches
}

// Reports returns a copy of the execution reports received so far
func (m *Engine) Reports() []core.ExecutionReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.ExecutionReport, len(m.reports))
	copy(out, m.reports)
	return out
}

// Ticks returns a copy of the prices received so far
func (m *Engine) Ticks() []decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]decimal.Decimal, len(m.ticks))
	copy(out, m.ticks)
	return out
}

// Reconciles returns how many times Reconcile ran
func (m *Engine) Reconciles() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconciles
}

// Stops returns how many times StopCycle ran
func (m *Engine) Stops() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}

// Cancels returns how many times CancelCycleOrders ran
func (m *Engine) Cancels() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancels
}

// Notification is one captured alert
type Notification struct {
	Level   core.AlertLevel
	Title   string
	Message string
	Fields  map[string]string
}

// Notifier captures alerts for tests
type Notifier struct {
	mu            sync.Mutex
	notifications []Notification
}

var _ core.INotifier = (*Notifier)(nil)

func (m *Notifier) Notify(ctx context.Context, level core.AlertLevel, title, message string, fields map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, Notification{
		Level:   level,
		Title:   title,
		Message: message,
		Fields:  fields,
	})
}

// Notifications returns a copy of the alerts received so far
func (m *Notifier) Notifications() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Notification, len(m.notifications))
	copy(out, m.notifications)
	return out
}

// FeedTicker is one captured ticker publication
type FeedTicker struct {
	Symbol string
	Price  decimal.Decimal
}

// FeedExecution is one captured execution publication
type FeedExecution struct {
	BotID  uuid.UUID
	Report core.ExecutionReport
}

// FeedCycle is one captured cycle publication
type FeedCycle struct {
	BotID  uuid.UUID
	Cycle  *core.TradingCycle
	Profit decimal.Decimal
}

// Feed captures live feed publications for tests
type Feed struct {
	mu         sync.Mutex
	tickers    []FeedTicker
	executions []FeedExecution
	cycles     []FeedCycle
}

var _ core.IEventFeed = (*Feed)(nil)

func (m *Feed) PublishTicker(symbol string, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickers = append(m.tickers, FeedTicker{Symbol: symbol, Price: price})
}

func (m *Feed) PublishExecution(botID uuid.UUID, report core.ExecutionReport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions = append(m.executions, FeedExecution{BotID: botID, Report: report})
}

func (m *Feed) PublishCycle(botID uuid.UUID, cycle *core.TradingCycle, profit decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycles = append(m.cycles, FeedCycle{BotID: botID, Cycle: cycle, Profit: profit})
}

// Tickers returns a copy of the ticker publications
func (m *Feed) Tickers() []FeedTicker {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]FeedTicker, len(m.tickers))
	copy(out, m.tickers)
	return out
}

// Executions returns a copy of the execution publications
func (m *Feed) Executions() []FeedExecution {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]FeedExecution, len(m.executions))
	copy(out, m.executions)
	return out
}

// Cycles returns a copy of the cycle publications
func (m *Feed) Cycles() []FeedCycle {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]FeedCycle, len(m.cycles))
	copy(out, m.cycles)
	return out
}
