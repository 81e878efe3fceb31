// Package supervisor owns the running bot pipelines. For every installed
// bot it builds an exchange gateway from the bot's credentials, launches
// the trading engine against persisted state, and starts an event router
// over the gateway's streams. Pipelines are isolated: one bot failing to
// install or release never touches its siblings.
package supervisor

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"dca_grid/internal/config"
	"dca_grid/internal/core"
	"dca_grid/internal/engine"
	"dca_grid/internal/events"
	"dca_grid/internal/exchange"
	"dca_grid/internal/grid"
	"dca_grid/pkg/concurrency"
	"dca_grid/pkg/telemetry"
)

// GatewayFactory builds the exchange gateway for one bot; tests swap in a
// factory returning the in-memory venue.
type GatewayFactory func(bot *core.Bot, cfg *config.Config, logger core.ILogger) (core.IExchangeGateway, error)

// pipeline bundles one bot's moving parts. ctx scopes resources that must
// live as long as the pipeline, like the listen key keepalive loop.
type pipeline struct {
	bot     *core.Bot
	gateway core.IExchangeGateway
	engine  *engine.Engine
	router  *events.Router
	cancel  context.CancelFunc
}

// Supervisor installs and releases bot pipelines. Safe for concurrent use
// from the admin surface and the boot path.
type Supervisor struct {
	cfg      *config.Config
	store    core.IStateStore
	filters  grid.Table
	logger   core.ILogger
	notifier core.INotifier
	feed     core.IEventFeed
	factory  GatewayFactory

	mu         sync.RWMutex
	pipelines  map[uuid.UUID]*pipeline
	installing map[uuid.UUID]bool
}

var _ core.ISupervisor = (*Supervisor)(nil)

// New creates a supervisor. notifier and feed may be nil; a nil factory
// falls back to the exchange package's gateway construction.
func New(
	cfg *config.Config,
	store core.IStateStore,
	filters grid.Table,
	logger core.ILogger,
	notifier core.INotifier,
	feed core.IEventFeed,
	factory GatewayFactory,
) *Supervisor {
	if factory == nil {
		factory = exchange.NewGateway
	}
	return &Supervisor{
		cfg:        cfg,
		store:      store,
		filters:    filters,
		logger:     logger,
		notifier:   notifier,
		feed:       feed,
		factory:    factory,
		pipelines:  make(map[uuid.UUID]*pipeline),
		installing: make(map[uuid.UUID]bool),
	}
}

// InstallBots fans Install out over a worker pool, one task per active
// bot. Failures are logged and alerted per bot; the rest keep going.
func (s *Supervisor) InstallBots(ctx context.Context, bots []*core.Bot) {
	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "bot-install",
		MaxWorkers:  s.cfg.Engine.InstallWorkers,
		MaxCapacity: len(bots) + 1,
	}, s.logger)

	for _, bot := range bots {
		b := bot
		if !b.IsActive {
			continue
		}
		if err := pool.Submit(func() {
			if err := s.Install(ctx, b); err != nil {
				s.logger.Error("Bot install failed", "bot", b.Name, "error", err)
				s.notify(ctx, core.AlertError, "Bot install failed",
					fmt.Sprintf("%s could not start: %v", b.Name, err),
					map[string]string{"bot": b.Name, "symbol": b.Symbol})
			}
		}); err != nil {
			s.logger.Error("Install task rejected", "bot", b.Name, "error", err)
		}
	}
	// StopAndWait joins every submitted install
	pool.Stop()
}

// Install builds and starts the pipeline for one bot: gateway, engine
// launch, listen key, stream subscriptions, router. Idempotent; a bot
// already installed (or mid-install) is a no-op.
func (s *Supervisor) Install(ctx context.Context, bot *core.Bot) error {
	s.mu.Lock()
	if _, ok := s.pipelines[bot.ID]; ok {
		s.mu.Unlock()
		s.logger.Debug("Bot already installed", "bot", bot.Name)
		return nil
	}
	if s.installing[bot.ID] {
		s.mu.Unlock()
		s.logger.Debug("Bot install already in progress", "bot", bot.Name)
		return nil
	}
	s.installing[bot.ID] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.installing, bot.ID)
		s.mu.Unlock()
	}()

	logger := s.logger.WithField("bot", bot.Name)

	gateway, err := s.factory(bot, s.cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build gateway: %w", err)
	}

	eng := engine.New(bot, gateway, s.store, s.filters, logger, s.notifier, s.feed)
	if err := eng.Launch(ctx); err != nil {
		gateway.Stop()
		return fmt.Errorf("launch failed: %w", err)
	}

	router := events.NewRouter(bot, eng, s.logger, s.feed, s.cfg.Engine.MailboxSize)

	// The stream context outlives this call; it keeps the listen key
	// renewal running until the pipeline is released.
	streamCtx, cancel := context.WithCancel(context.Background())

	listenKey, err := gateway.NewListenKey(ctx)
	if err != nil {
		cancel()
		gateway.Stop()
		return fmt.Errorf("failed to obtain listen key: %w", err)
	}
	if err := gateway.UserDataStream(streamCtx, listenKey, router.HandleUserData); err != nil {
		cancel()
		gateway.Stop()
		return fmt.Errorf("failed to open user-data stream: %w", err)
	}
	if err := gateway.TickerStream(streamCtx, s.tickerSymbols(bot), router.HandleTicker); err != nil {
		cancel()
		gateway.Stop()
		return fmt.Errorf("failed to open ticker stream: %w", err)
	}
	gateway.OnStreamReconnect(router.EnqueueReconcile)
	router.Start()

	s.mu.Lock()
	s.pipelines[bot.ID] = &pipeline{
		bot:     bot,
		gateway: gateway,
		engine:  eng,
		router:  router,
		cancel:  cancel,
	}
	count := len(s.pipelines)
	s.mu.Unlock()

	telemetry.GetGlobalMetrics().SetActiveBots(int64(count))
	s.logger.Info("Bot installed", "bot", bot.Name, "symbol", bot.Symbol, "exchange", gateway.Name())
	return nil
}

// Release tears the pipeline down: stop stream intake, drain the router,
// close the sockets. Exchange orders are left untouched; releasing a bot
// is not stopping its cycle. Unknown ids are a no-op.
func (s *Supervisor) Release(ctx context.Context, botID uuid.UUID) error {
	s.mu.Lock()
	p, ok := s.pipelines[botID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.pipelines, botID)
	count := len(s.pipelines)
	s.mu.Unlock()

	telemetry.GetGlobalMetrics().SetActiveBots(int64(count))

	p.cancel()
	p.gateway.Stop()
	p.router.Stop()
	s.logger.Info("Bot released", "bot", p.bot.Name)
	return nil
}

// ReleaseAll releases every installed pipeline concurrently
func (s *Supervisor) ReleaseAll(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	for _, id := range s.Running() {
		id := id
		g.Go(func() error {
			return s.Release(ctx, id)
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Error("Release failed during shutdown", "error", err)
	}
}

// IsRunning reports whether the bot has an installed pipeline
func (s *Supervisor) IsRunning(botID uuid.UUID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.pipelines[botID]
	return ok
}

// Running returns the ids of every installed pipeline
func (s *Supervisor) Running() []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(s.pipelines))
	for id := range s.pipelines {
		ids = append(ids, id)
	}
	return ids
}

// Engine returns the installed pipeline's engine, for the admin stop path
func (s *Supervisor) Engine(botID uuid.UUID) (core.ITradingEngine, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pipelines[botID]
	if !ok {
		return nil, false
	}
	return p.engine, true
}

// tickerSymbols returns the configured ticker subscriptions, always
// including the bot's own symbol exactly once
func (s *Supervisor) tickerSymbols(bot *core.Bot) []string {
	symbols := []string{bot.Symbol}
	for _, sym := range s.cfg.Engine.TickerSymbols {
		if !strings.EqualFold(sym, bot.Symbol) {
			symbols = append(symbols, sym)
		}
	}
	return symbols
}

func (s *Supervisor) notify(ctx context.Context, level core.AlertLevel, title, message string, fields map[string]string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, level, title, message, fields)
}
