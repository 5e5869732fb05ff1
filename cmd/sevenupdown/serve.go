package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/quartz"
	"golang.org/x/sync/errgroup"

	"github.com/lox/sevenupdown/internal/dice"
	"github.com/lox/sevenupdown/internal/game"
	"github.com/lox/sevenupdown/internal/ledger"
	"github.com/lox/sevenupdown/internal/reconcile"
	"github.com/lox/sevenupdown/internal/server"
	"github.com/lox/sevenupdown/internal/session"
)

// ServeCmd runs the lobbies, the websocket server and the payout
// reconciler until interrupted.
type ServeCmd struct {
	Addr string `short:"a" help:"Server address to bind to (overrides config)"`
	Seed *int64 `help:"Deterministic dice seed (optional)"`
}

func (c *ServeCmd) Run(g *Globals) error {
	cfg, logger, err := g.load()
	if err != nil {
		return err
	}
	if c.Addr != "" {
		cfg.Server.Address = c.Addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openHistory(ctx, cfg.History, logger)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close history", "error", err)
		}
	}()

	var gw ledger.Gateway
	if cfg.Ledger.BaseURL == "" {
		logger.Warn("No ledger configured, using sandbox balances", "balance", cfg.Ledger.SandboxBalance)
		gw = ledger.NewSandbox(cfg.Ledger.SandboxBalance)
	} else {
		gw = ledger.NewClient(cfg.Ledger.BaseURL, logger, ledger.WithTimeout(cfg.LedgerTimeout()))
	}

	var seed int64
	if c.Seed != nil {
		seed = *c.Seed
		logger.Info("Using deterministic seed", "seed", seed)
	} else if seed, err = dice.NewSeed(); err != nil {
		return fmt.Errorf("seed dice: %w", err)
	}

	clock := quartz.NewReal()
	worker := reconcile.NewWorker(store, gw, clock, logger, reconcile.Options{
		Interval:    time.Duration(cfg.Reconcile.IntervalSeconds) * time.Second,
		MaxAttempts: cfg.Reconcile.MaxAttempts,
	})

	srv := server.NewServer(cfg.Server.Address, logger)
	gameCfg := cfg.GameConfig()
	deps := game.Deps{
		Clock:     clock,
		Logger:    logger,
		Ledger:    gw,
		Sessions:  session.NewCache(cfg.Session.MaxEntries, time.Duration(cfg.Session.TTLSeconds)*time.Second),
		History:   store,
		Queue:     worker,
		Publisher: srv,
		Resolver:  dice.NewResolver(dice.NewSource(seed)),
	}
	manager, err := game.NewManager(gameCfg, deps)
	if err != nil {
		return err
	}
	srv.SetService(game.NewService(manager, gameCfg, deps))

	logger.Info("Starting sevenupdown",
		"addr", cfg.Server.Address,
		"lobbies", gameCfg.Slots,
		"history", cfg.History.Driver,
		"min_bet", gameCfg.Limits.MinBet,
		"max_bet", gameCfg.Limits.MaxBet,
		"max_cashout", gameCfg.Limits.MaxCashout)

	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error { return srv.Serve(gctx) })
	grp.Go(func() error { return manager.Run(gctx) })
	grp.Go(func() error { return worker.Run(gctx) })

	err = grp.Wait()
	logger.Info("Shut down")
	return err
}
