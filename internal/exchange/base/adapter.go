// Package base provides common functionality for exchange gateways
package base

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"dca_grid/internal/core"
	"dca_grid/pkg/websocket"
)

// Adapter carries the plumbing every gateway shares: the websocket stream
// registry, reconnect hooks and defensive parsers. Concrete gateways embed
// it and add their REST surface.
type Adapter struct {
	name   string
	Logger core.ILogger

	mu          sync.Mutex
	streams     []*websocket.Client
	stopped     bool
	onReconnect []func()
}

// NewAdapter creates the shared gateway base
func NewAdapter(name string, logger core.ILogger) *Adapter {
	return &Adapter{
		name:   name,
		Logger: logger.WithField("exchange", name),
	}
}

// Name returns the gateway name
func (a *Adapter) Name() string {
	return a.name
}

// OnStreamReconnect registers a hook fired after any stream re-establishes
// its connection. Hooks run on the stream goroutine and must not block.
func (a *Adapter) OnStreamReconnect(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onReconnect = append(a.onReconnect, fn)
}

// StartStream dials wsURL and pumps raw frames into onMessage until Stop.
// The underlying client reconnects on its own; reconnect hooks fire on
// every session after the first.
func (a *Adapter) StartStream(wsURL string, onMessage func([]byte), streamName string) error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return fmt.Errorf("gateway %s already stopped", a.name)
	}
	client := websocket.NewClient(wsURL, onMessage, a.Logger)
	a.streams = append(a.streams, client)
	a.mu.Unlock()

	first := true
	client.SetOnConnected(func() {
		if first {
			first = false
			return
		}
		a.fireReconnect()
	})

	client.Start()
	a.Logger.Info(streamName+" stream started", "url", wsURL)
	return nil
}

func (a *Adapter) fireReconnect() {
	a.mu.Lock()
	hooks := make([]func(), len(a.onReconnect))
	copy(hooks, a.onReconnect)
	a.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

// Stop closes every stream. Idempotent and non-blocking; stream teardown
// finishes in the background.
func (a *Adapter) Stop() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	streams := a.streams
	a.streams = nil
	a.mu.Unlock()

	for _, client := range streams {
		go client.Stop()
	}
}

// ParseDecimal safely parses a string to decimal
func (a *Adapter) ParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		a.Logger.Warn("failed to parse decimal", "value", s, "error", err)
		return decimal.Zero
	}
	return d
}

// ParseTimestamp safely parses a timestamp in milliseconds
func (a *Adapter) ParseTimestamp(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
