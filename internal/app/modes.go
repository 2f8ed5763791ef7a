package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmarchuk/gridbot/internal/backtest"
	"github.com/dmarchuk/gridbot/internal/bot"
	"github.com/dmarchuk/gridbot/internal/domain"
	"github.com/dmarchuk/gridbot/internal/engine"
	"github.com/dmarchuk/gridbot/internal/platform/bybit"
	"github.com/dmarchuk/gridbot/internal/risk"
	"github.com/dmarchuk/gridbot/internal/server"
	"github.com/dmarchuk/gridbot/internal/server/handler"
)

// symbolLockTTL bounds how long a crashed process keeps other instances
// locked out of the symbol. The lock manager re-extends the TTL while
// the lock is held, so a live session never lapses.
const symbolLockTTL = 10 * time.Minute

// retentionInterval is how often the retention job prunes aged rows.
const retentionInterval = 24 * time.Hour

// TradeMode runs the full live loop: exchange client, engines, risk
// manager, supervised tick loop, status API, and the retention job.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")
	symbol := a.cfg.Trading.Symbol

	// One instance per symbol. The unlock is registered as a closer so
	// shutdown releases it after everything else stops.
	if deps.LockManager != nil {
		unlock, err := deps.LockManager.Acquire(ctx, "symbol:"+symbol, symbolLockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				return fmt.Errorf("app: another instance is already trading %s: %w", symbol, err)
			}
			return fmt.Errorf("app: acquire symbol lock: %w", err)
		}
		a.closers = append(a.closers, unlock)
	}

	exchange := bybit.NewClient(a.cfg.Bybit, deps.RateLimiter, a.logger)

	b := bot.New(a.cfg, bot.Deps{
		Exchange: exchange,
		Grid:     engine.NewGrid(a.cfg.Grid, symbol, a.logger),
		DCA:      engine.NewDCA(a.cfg.DCA, symbol, a.logger),
		Risk:     risk.NewManager(a.cfg.Risk, symbol, a.cfg.Trading.InitialCapital, a.logger),
		States:   deps.StateStore,
		Orders:   deps.OrderStore,
		Trades:   deps.TradeStore,
		Equities: deps.EquityStore,
		Prices:   deps.PriceCache,
		Notifier: deps.Notifier,
	}, a.logger)

	sup := bot.NewSupervisor(a.cfg.Supervisor, b, bot.NewClock(), deps.Notifier, a.logger)
	b.SetRestartHistory(sup.RestartHistory)

	// Reload the restart budget from the last checkpoint so a process
	// restart cannot dodge the rolling-hour limit.
	if deps.StateStore != nil {
		snap, err := deps.StateStore.Load(ctx, symbol)
		switch {
		case err == nil:
			sup.RestoreHistory(snap.RestartTimes)
		case !errors.Is(err, domain.ErrNotFound):
			a.logger.WarnContext(ctx, "load checkpoint for restart history",
				slog.String("error", err.Error()),
			)
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sup.Run(ctx)
	})

	if a.cfg.Server.Enabled {
		srv := a.newStatusServer(deps, sup, b)
		g.Go(srv.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if a.cfg.Database.RetentionDays > 0 && deps.TradeStore != nil {
		g.Go(func() error {
			a.retentionLoop(ctx, deps)
			return nil
		})
	}

	return g.Wait()
}

// BacktestMode runs the statistical trade sampler once and writes the
// report.
func (a *App) BacktestMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting backtest mode")

	res, err := backtest.NewSampler(a.cfg.Backtest, a.logger).Run()
	if err != nil {
		return fmt.Errorf("app: backtest: %w", err)
	}

	if path := a.cfg.Backtest.ReportPath; path != "" {
		if err := backtest.WriteReport(res, path); err != nil {
			return fmt.Errorf("app: backtest report: %w", err)
		}
		a.logger.InfoContext(ctx, "backtest report written", slog.String("path", path))
	}

	if deps.BlobWriter != nil {
		key, err := backtest.Publish(ctx, deps.BlobWriter, res)
		if err != nil {
			return fmt.Errorf("app: backtest publish: %w", err)
		}
		a.logger.InfoContext(ctx, "backtest report archived", slog.String("key", key))
	}

	return nil
}

// StatusMode serves the HTTP API over the persisted history without a
// live trading loop.
func (a *App) StatusMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting status mode")

	if !a.cfg.Server.Enabled {
		return fmt.Errorf("app: status mode requires server.enabled")
	}

	srv := a.newStatusServer(deps, nil, nil)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// newStatusServer builds the HTTP API. sup and b are nil outside trade
// mode; the live-state endpoint is then not registered.
func (a *App) newStatusServer(deps *Dependencies, sup *bot.Supervisor, b *bot.Bot) *server.Server {
	handlers := server.Handlers{
		Health: handler.NewHealthHandler(a.logger),
	}
	if sup != nil && b != nil {
		handlers.Status = handler.NewStatusHandler(sup, b, deps.EquityStore)
	}
	if deps.TradeStore != nil {
		handlers.Trades = handler.NewTradeHandler(deps.TradeStore, a.cfg.Trading.Symbol, a.logger)
	}
	if deps.EquityStore != nil {
		handlers.Equity = handler.NewEquityHandler(deps.EquityStore, a.logger)
		handlers.Metrics = handler.NewMetricsHandler(deps.EquityStore, a.cfg.Trading.InitialCapital, a.logger)
	}

	return server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, a.logger)
}

// retentionLoop periodically archives aged rows to object storage (when
// configured) and prunes them from Postgres.
func (a *App) retentionLoop(ctx context.Context, deps *Dependencies) {
	ticker := time.NewTicker(retentionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().AddDate(0, 0, -a.cfg.Database.RetentionDays)
			if err := a.runRetention(ctx, deps, cutoff); err != nil {
				a.logger.ErrorContext(ctx, "retention pass failed",
					slog.Time("cutoff", cutoff),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// runRetention archives then deletes rows older than the cutoff. When no
// archiver is wired the rows are pruned without an archive copy.
func (a *App) runRetention(ctx context.Context, deps *Dependencies, cutoff time.Time) error {
	if deps.Archiver != nil {
		if _, err := deps.Archiver.ArchiveTrades(ctx, cutoff); err != nil {
			return fmt.Errorf("archive trades: %w", err)
		}
		if _, err := deps.Archiver.ArchiveOrders(ctx, cutoff); err != nil {
			return fmt.Errorf("archive orders: %w", err)
		}
		if _, err := deps.Archiver.ArchiveEquity(ctx, cutoff); err != nil {
			return fmt.Errorf("archive equity: %w", err)
		}
	}

	trades, err := deps.TradeStore.DeleteBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune trades: %w", err)
	}
	orders, err := deps.OrderStore.DeleteBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune orders: %w", err)
	}
	equity, err := deps.EquityStore.DeleteBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune equity: %w", err)
	}

	a.logger.InfoContext(ctx, "retention pass complete",
		slog.Time("cutoff", cutoff),
		slog.Int64("trades_pruned", trades),
		slog.Int64("orders_pruned", orders),
		slog.Int64("equity_pruned", equity),
	)
	return nil
}
