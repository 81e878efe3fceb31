// Package bootstrap assembles the daemon: configuration, logging,
// telemetry, storage, the bot supervisor and the admin surface, and the
// signal-driven lifecycle tying them together.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"dca_grid/internal/admin"
	"dca_grid/internal/alert"
	"dca_grid/internal/config"
	"dca_grid/internal/core"
	"dca_grid/internal/grid"
	"dca_grid/internal/infrastructure/health"
	"dca_grid/internal/storage/sqlite"
	"dca_grid/internal/supervisor"
	"dca_grid/pkg/liveserver"
	"dca_grid/pkg/logging"
	"dca_grid/pkg/telemetry"
)

const shutdownTimeout = 10 * time.Second

// App holds the assembled process components
type App struct {
	Cfg        *config.Config
	Logger     core.ILogger
	Store      *sqlite.Store
	Filters    grid.Table
	Notifier   core.INotifier
	Hub        *liveserver.Hub
	Supervisor *supervisor.Supervisor
	Service    *admin.Service
	Server     *admin.Server

	zlog *logging.ZapLogger
	tel  *telemetry.Telemetry
}

// New assembles the full process from the configuration at configPath. An
// empty path configures from the environment alone.
func New(configPath string) (*App, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	zlog, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger := core.ILogger(zlog)
	logging.SetGlobalLogger(logger)

	tel, err := telemetry.Setup("dca_grid")
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}

	store, err := sqlite.NewStore(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	filters, err := filtersFromConfig(cfg.Symbols)
	if err != nil {
		store.Close()
		return nil, err
	}

	notifier := alert.FromConfig(cfg.Alerts, logger)

	hub := liveserver.NewHub(logger)
	feed := admin.NewFeed(hub)

	sup := supervisor.New(cfg, store, filters, logger, notifier, feed, nil)
	service := admin.NewService(cfg, store, sup, filters, feed, logger, nil)

	monitor := health.NewManager(logger)
	monitor.Register("store", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return store.Ping(ctx)
	})

	server := admin.NewServer(cfg, service, hub, monitor, logger)

	logger.Info("Application assembled",
		"env", cfg.System.Env,
		"exchange", cfg.Exchange.Name,
		"database", cfg.Database.URL,
		"addr", cfg.Server.Addr())

	return &App{
		Cfg:        cfg,
		Logger:     logger,
		Store:      store,
		Filters:    filters,
		Notifier:   notifier,
		Hub:        hub,
		Supervisor: sup,
		Service:    service,
		Server:     server,
		zlog:       zlog,
		tel:        tel,
	}, nil
}

// Runner is a long-lived component the app drives until its context ends
type Runner func(ctx context.Context) error

// Run resumes the persisted active bots, serves the admin surface and
// blocks until a termination signal arrives or a runner fails. Shutdown
// order: admin server first so no new commands land, then the pipelines,
// then storage and telemetry.
func (a *App) Run(runners ...Runner) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Hub.Run(ctx)
		return nil
	})

	bots, err := a.Store.ListActiveBots(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active bots: %w", err)
	}
	if len(bots) > 0 {
		a.Logger.Info("Resuming active bots", "count", len(bots))
	}
	a.Supervisor.InstallBots(ctx, bots)

	a.Server.Start()

	for _, r := range runners {
		g.Go(func() error { return r(ctx) })
	}

	a.Logger.Info("dca_grid is running",
		"admin_url", fmt.Sprintf("http://%s", a.Cfg.Server.Addr()),
		"websocket_url", fmt.Sprintf("ws://%s/ws", a.Cfg.Server.Addr()))

	<-ctx.Done()
	a.Logger.Info("Shutting down")
	a.Close()

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.Logger.Info("dca_grid stopped")
	return nil
}

// Close tears the process down in dependency order. Idempotent enough for
// the error paths of main; Run calls it on its way out.
func (a *App) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.Server.Stop(ctx); err != nil {
		a.Logger.Error("Admin server shutdown failed", "error", err)
	}
	a.Supervisor.ReleaseAll(ctx)
	a.Service.Close()
	if err := a.Store.Close(); err != nil {
		a.Logger.Error("Store close failed", "error", err)
	}
	if err := a.tel.Shutdown(ctx); err != nil {
		a.Logger.Warn("Telemetry shutdown failed", "error", err)
	}
	_ = a.zlog.Sync()
}

// filtersFromConfig overlays the configured symbol filters on the seeded
// table. Empty fields keep the seeded value, so a config only has to name
// what differs from the venue defaults.
func filtersFromConfig(symbols map[string]config.SymbolConfig) (grid.Table, error) {
	table := grid.NewTable()
	for sym, sc := range symbols {
		f := table.For(sym)
		if sc.QtyStep != "" {
			v, err := decimal.NewFromString(sc.QtyStep)
			if err != nil {
				return nil, fmt.Errorf("symbol %s qty_step: %w", sym, err)
			}
			f.QtyStep = v
		}
		if sc.PriceTick != "" {
			v, err := decimal.NewFromString(sc.PriceTick)
			if err != nil {
				return nil, fmt.Errorf("symbol %s price_tick: %w", sym, err)
			}
			f.PriceTick = v
		}
		if sc.MinNotional != "" {
			v, err := decimal.NewFromString(sc.MinNotional)
			if err != nil {
				return nil, fmt.Errorf("symbol %s min_notional: %w", sym, err)
			}
			f.MinNotional = v
		}
		table[sym] = f
	}
	return table, nil
}
