// Package admin exposes the control surface: a JSON REST API over the store
// and supervisor, a WebSocket feed of live trading events, and the health
// and Prometheus endpoints.
package admin

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"dca_grid/internal/config"
	"dca_grid/internal/core"
	"dca_grid/internal/engine"
	"dca_grid/internal/exchange"
	"dca_grid/internal/grid"
	"dca_grid/internal/safety"
	apperrors "dca_grid/pkg/errors"
)

// defaultPageLimit caps list responses when the client sends no limit
const defaultPageLimit = 100

// GatewayFactory builds an exchange gateway; tests swap in the in-memory
// venue.
type GatewayFactory func(bot *core.Bot, cfg *config.Config, logger core.ILogger) (core.IExchangeGateway, error)

// Service implements the admin operations. Validation runs first, then the
// store, then the supervisor; the store is updated before the supervisor is
// touched so a crash mid-operation leaves flags a boot can act on.
type Service struct {
	cfg        *config.Config
	store      core.IStateStore
	supervisor core.ISupervisor
	filters    grid.Table
	checker    *safety.Checker
	feed       *Feed
	logger     core.ILogger
	factory    GatewayFactory

	mu sync.Mutex
	// fallback is the lazily built gateway on the process-wide credentials,
	// serving the account-level balance view
	fallback core.IExchangeGateway
}

// NewService creates the admin service. feed may be nil; a nil factory
// falls back to the exchange package's gateway construction.
func NewService(
	cfg *config.Config,
	store core.IStateStore,
	sup core.ISupervisor,
	filters grid.Table,
	feed *Feed,
	logger core.ILogger,
	factory GatewayFactory,
) *Service {
	if factory == nil {
		factory = exchange.NewGateway
	}
	return &Service{
		cfg:        cfg,
		store:      store,
		supervisor: sup,
		filters:    filters,
		checker:    safety.NewChecker(filters, logger),
		feed:       feed,
		logger:     logger.WithField("component", "admin"),
		factory:    factory,
	}
}

// CreateBot validates and persists a new bot. Bots are born STOPPED and
// inactive; StartBot brings them to life.
func (s *Service) CreateBot(ctx context.Context, req BotRequest) (*core.Bot, error) {
	if err := safety.ValidateInput(req.Name); err != nil {
		return nil, fmt.Errorf("bot name rejected: %w", apperrors.ErrInvalidOrderParameter)
	}

	bot := req.toBot()
	if bot.Exchange == "" {
		bot.Exchange = s.cfg.Exchange.Name
	}
	bot.IsActive = false
	bot.Status = core.BotStatusStopped

	if err := s.checker.CheckBotParams(bot); err != nil {
		return nil, err
	}

	bot.ID = uuid.New()
	if err := s.store.CreateBot(ctx, bot); err != nil {
		return nil, err
	}

	s.logger.Info("Bot created", "bot_id", bot.ID, "name", bot.Name, "symbol", bot.Symbol)
	s.publishBot(bot)
	return bot, nil
}

// UpdateBot applies a config patch to a stored bot. Lifecycle flags are not
// patchable; a running engine picks the new parameters up at its next cycle.
func (s *Service) UpdateBot(ctx context.Context, id uuid.UUID, patch BotPatch) (*core.Bot, error) {
	bot, err := s.store.GetBot(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		if err := safety.ValidateInput(*patch.Name); err != nil {
			return nil, fmt.Errorf("bot name rejected: %w", apperrors.ErrInvalidOrderParameter)
		}
	}
	patch.apply(bot)

	if err := s.checker.CheckBotParams(bot); err != nil {
		return nil, err
	}
	if err := s.store.UpdateBot(ctx, bot); err != nil {
		return nil, err
	}

	s.logger.Info("Bot updated", "bot_id", bot.ID, "name", bot.Name)
	return bot, nil
}

// GetBot loads one bot
func (s *Service) GetBot(ctx context.Context, id uuid.UUID) (*core.Bot, error) {
	return s.store.GetBot(ctx, id)
}

// ListBots returns a skip/limit window over all bots
func (s *Service) ListBots(ctx context.Context, skip, limit int) ([]*core.Bot, error) {
	bots, err := s.store.ListBots(ctx)
	if err != nil {
		return nil, err
	}
	return slicePage(bots, skip, limit), nil
}

// StartBot activates the bot and installs its pipeline. The flags are
// persisted first so a crash before Install still gets the bot picked up by
// the next boot.
func (s *Service) StartBot(ctx context.Context, id uuid.UUID) error {
	bot, err := s.store.GetBot(ctx, id)
	if err != nil {
		return err
	}

	bot.IsActive = true
	bot.Status = core.BotStatusRunning
	if err := s.store.UpdateBot(ctx, bot); err != nil {
		return err
	}

	if err := s.supervisor.Install(ctx, bot); err != nil {
		return err
	}

	s.logger.Info("Bot started", "bot_id", bot.ID, "name", bot.Name)
	s.publishBot(bot)
	return nil
}

// StopBot deactivates the bot, cancels its ACTIVE cycle's open orders, and
// releases the pipeline. A bot with no running pipeline is unwound through a
// short-lived engine over a fresh gateway.
func (s *Service) StopBot(ctx context.Context, id uuid.UUID) error {
	bot, err := s.store.GetBot(ctx, id)
	if err != nil {
		return err
	}

	bot.IsActive = false
	bot.Status = core.BotStatusStopped
	if err := s.store.UpdateBot(ctx, bot); err != nil {
		return err
	}

	if eng, ok := s.supervisor.Engine(id); ok {
		if err := eng.StopCycle(ctx); err != nil {
			return err
		}
		if err := s.supervisor.Release(ctx, id); err != nil {
			s.logger.Warn("Pipeline release failed", "bot_id", id, "error", err)
		}
	} else if err := s.stopDetached(ctx, bot); err != nil {
		return err
	}

	s.logger.Info("Bot stopped", "bot_id", bot.ID, "name", bot.Name)
	s.publishBot(bot)
	return nil
}

// stopDetached cancels the active cycle of a bot without a pipeline, driving
// a short-lived engine over a fresh gateway. Fills that landed while nobody
// was listening are reconciled first so they are not cancelled as if open.
func (s *Service) stopDetached(ctx context.Context, bot *core.Bot) error {
	cycle, err := s.store.GetActiveCycle(ctx, bot.ID)
	if err != nil {
		return err
	}
	if cycle == nil {
		return nil
	}

	gateway, err := s.factory(bot, s.cfg, s.logger)
	if err != nil {
		return fmt.Errorf("failed to build gateway: %w", err)
	}
	defer gateway.Stop()

	eng := engine.New(bot, gateway, s.store, s.filters, s.logger, nil, nil)
	if err := eng.Reconcile(ctx); err != nil {
		s.logger.Warn("Reconcile before stop failed", "bot_id", bot.ID, "error", err)
	}
	return eng.StopCycle(ctx)
}

// FinishBot flips a running bot to LAST_CYCLE: the current cycle runs to
// completion and the engine then parks the bot itself.
func (s *Service) FinishBot(ctx context.Context, id uuid.UUID) error {
	bot, err := s.store.GetBot(ctx, id)
	if err != nil {
		return err
	}
	if bot.Status != core.BotStatusRunning {
		return fmt.Errorf("bot is %s, only a running bot can wind down: %w",
			bot.Status, apperrors.ErrInvalidOrderParameter)
	}

	bot.Status = core.BotStatusLastCycle
	if err := s.store.UpdateBot(ctx, bot); err != nil {
		return err
	}

	s.logger.Info("Bot winding down after current cycle", "bot_id", bot.ID, "name", bot.Name)
	s.publishBot(bot)
	return nil
}

// ListCycles returns a skip/limit window over a bot's cycles. An unknown bot
// yields an empty list, not an error.
func (s *Service) ListCycles(ctx context.Context, botID uuid.UUID, skip, limit int) ([]*core.TradingCycle, error) {
	cycles, err := s.store.ListCyclesByBot(ctx, botID)
	if err != nil {
		return nil, err
	}
	return slicePage(cycles, skip, limit), nil
}

// ListOrders returns a skip/limit window over a cycle's orders. An unknown
// cycle yields an empty list, not an error.
func (s *Service) ListOrders(ctx context.Context, cycleID uuid.UUID, skip, limit int) ([]*core.Order, error) {
	orders, err := s.store.ListOrdersByCycle(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	return slicePage(orders, skip, limit), nil
}

// CycleProfit computes the realized profit of one cycle from its stored
// orders
func (s *Service) CycleProfit(ctx context.Context, cycleID uuid.UUID) (decimal.Decimal, error) {
	cycle, err := s.store.GetCycle(ctx, cycleID)
	if err != nil {
		return decimal.Zero, err
	}
	orders, err := s.store.ListOrdersByCycle(ctx, cycleID)
	if err != nil {
		return decimal.Zero, err
	}
	return engine.CycleProfit(cycle, orders)
}

// Dashboard builds the one-call bot overview: bot, pipeline state, ACTIVE
// cycle with orders, and realized profit per completed cycle.
func (s *Service) Dashboard(ctx context.Context, botID uuid.UUID) (*DashboardResponse, error) {
	bot, err := s.store.GetBot(ctx, botID)
	if err != nil {
		return nil, err
	}

	active, err := s.store.GetActiveCycle(ctx, botID)
	if err != nil {
		return nil, err
	}
	orders := []*core.Order{}
	if active != nil {
		if orders, err = s.store.ListOrdersByCycle(ctx, active.ID); err != nil {
			return nil, err
		}
	}

	cycles, err := s.store.ListCyclesByBot(ctx, botID)
	if err != nil {
		return nil, err
	}
	profits := []CycleProfitEntry{}
	total := decimal.Zero
	for _, c := range cycles {
		if c.Status != core.CycleStatusCompleted {
			continue
		}
		cycleOrders, err := s.store.ListOrdersByCycle(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		profit, err := engine.CycleProfit(c, cycleOrders)
		if err != nil {
			// The cycle stays on the list; dropping it would read as zero
			// profit instead of inconsistent state
			s.logger.Warn("Profit of cycle not computable", "cycle_id", c.ID, "error", err)
			profits = append(profits, CycleProfitEntry{
				CycleID: c.ID, Profit: decimal.Zero, Error: err.Error(),
			})
			continue
		}
		profits = append(profits, CycleProfitEntry{CycleID: c.ID, Profit: profit})
		total = total.Add(profit)
	}

	resp := &DashboardResponse{
		Bot:         botResponse(bot),
		IsRunning:   s.supervisor.IsRunning(botID),
		Orders:      orderResponses(orders),
		Profits:     profits,
		TotalProfit: total,
	}
	if active != nil {
		cr := cycleResponse(active)
		resp.ActiveCycle = &cr
	}
	return resp, nil
}

// Balances proxies the account balances from the exchange on the
// process-wide credentials. An empty assets slice returns every non-zero
// balance.
func (s *Service) Balances(ctx context.Context, assets []string) ([]core.Balance, error) {
	gateway, err := s.fallbackGateway()
	if err != nil {
		return nil, err
	}
	return gateway.GetBalances(ctx, assets)
}

func (s *Service) fallbackGateway() (core.IExchangeGateway, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fallback != nil {
		return s.fallback, nil
	}
	gateway, err := s.factory(&core.Bot{}, s.cfg, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build gateway: %w", err)
	}
	s.fallback = gateway
	return gateway, nil
}

// Close releases the cached fallback gateway
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fallback != nil {
		s.fallback.Stop()
		s.fallback = nil
	}
}

func (s *Service) publishBot(bot *core.Bot) {
	if s.feed != nil {
		s.feed.PublishBot(bot)
	}
}

// slicePage applies skip/limit windowing to an already loaded slice
func slicePage[T any](items []T, skip, limit int) []T {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if skip >= len(items) {
		return []T{}
	}
	end := skip + limit
	if end > len(items) {
		end = len(items)
	}
	return items[skip:end]
}
