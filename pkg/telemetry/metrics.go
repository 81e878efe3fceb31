package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricOrdersPlacedTotal    = "dca_orders_placed_total"
	MetricOrdersFilledTotal    = "dca_orders_filled_total"
	MetricOrdersCanceledTotal  = "dca_orders_canceled_total"
	MetricCyclesStartedTotal   = "dca_cycles_started_total"
	MetricCyclesCompletedTotal = "dca_cycles_completed_total"
	MetricCyclesCancelledTotal = "dca_cycles_cancelled_total"
	MetricRegridsTotal         = "dca_regrids_total"
	MetricRealizedProfitTotal  = "dca_realized_profit_total"
	MetricActiveBots           = "dca_active_bots"
	MetricOpenOrders           = "dca_open_orders"
	MetricLatencyExchange      = "dca_exchange_latency_ms"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	OrdersPlacedTotal    metric.Int64Counter
	OrdersFilledTotal    metric.Int64Counter
	OrdersCanceledTotal  metric.Int64Counter
	CyclesStartedTotal   metric.Int64Counter
	CyclesCompletedTotal metric.Int64Counter
	CyclesCancelledTotal metric.Int64Counter
	RegridsTotal         metric.Int64Counter
	RealizedProfitTotal  metric.Float64Counter
	ActiveBots           metric.Int64ObservableGauge
	OpenOrders           metric.Int64ObservableGauge
	LatencyExchange      metric.Float64Histogram

	// State for observable gauges
	mu            sync.RWMutex
	activeBots    int64
	openOrdersMap map[string]int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			openOrdersMap: make(map[string]int64),
		}
		// Initialization of instruments happens in InitMetrics
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.OrdersPlacedTotal, err = meter.Int64Counter(MetricOrdersPlacedTotal, metric.WithDescription("Total limit orders submitted to the exchange"))
	if err != nil {
		return err
	}

	m.OrdersFilledTotal, err = meter.Int64Counter(MetricOrdersFilledTotal, metric.WithDescription("Total orders reported fully filled"))
	if err != nil {
		return err
	}

	m.OrdersCanceledTotal, err = meter.Int64Counter(MetricOrdersCanceledTotal, metric.WithDescription("Total orders canceled by the engine"))
	if err != nil {
		return err
	}

	m.CyclesStartedTotal, err = meter.Int64Counter(MetricCyclesStartedTotal, metric.WithDescription("Total trading cycles opened"))
	if err != nil {
		return err
	}

	m.CyclesCompletedTotal, err = meter.Int64Counter(MetricCyclesCompletedTotal, metric.WithDescription("Total trading cycles closed by a filled take-profit"))
	if err != nil {
		return err
	}

	m.CyclesCancelledTotal, err = meter.Int64Counter(MetricCyclesCancelledTotal, metric.WithDescription("Total trading cycles cancelled by an admin stop"))
	if err != nil {
		return err
	}

	m.RegridsTotal, err = meter.Int64Counter(MetricRegridsTotal, metric.WithDescription("Total upward-drift grid rebuilds"))
	if err != nil {
		return err
	}

	m.RealizedProfitTotal, err = meter.Float64Counter(MetricRealizedProfitTotal, metric.WithDescription("Cumulative realized profit in quote currency"))
	if err != nil {
		return err
	}

	m.LatencyExchange, err = meter.Float64Histogram(MetricLatencyExchange, metric.WithDescription("Latency of exchange API calls"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	// Observables
	m.ActiveBots, err = meter.Int64ObservableGauge(MetricActiveBots, metric.WithDescription("Number of installed bot pipelines"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.activeBots)
			return nil
		}))
	if err != nil {
		return err
	}

	m.OpenOrders, err = meter.Int64ObservableGauge(MetricOpenOrders, metric.WithDescription("Currently resting orders per symbol"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.openOrdersMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// Helpers to update observable state

func (m *MetricsHolder) SetActiveBots(count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeBots = count
}

func (m *MetricsHolder) SetOpenOrders(symbol string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openOrdersMap[symbol] = count
}

func (m *MetricsHolder) GetOpenOrders() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]int64, len(m.openOrdersMap))
	for k, v := range m.openOrdersMap {
		res[k] = v
	}
	return res
}
