package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/arbiterhq/arbiter/internal/config"
	"github.com/arbiterhq/arbiter/internal/engine"
	"github.com/arbiterhq/arbiter/internal/exchange"
	"github.com/arbiterhq/arbiter/internal/journal"
	"github.com/arbiterhq/arbiter/internal/logger"
	"github.com/arbiterhq/arbiter/internal/market"
	"github.com/arbiterhq/arbiter/internal/metrics"
	"github.com/arbiterhq/arbiter/internal/server"
	"github.com/arbiterhq/arbiter/internal/version"
)

// runAction wires the full agent: config, logger, feed, exchange, journal,
// engine and HTTP server, then blocks until the process is signalled.
func runAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.LoadConfig(cmd.String("config"))
	if err != nil {
		return err
	}

	appLogger, err := logger.NewLoggerWithLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer appLogger.Sync() //nolint:errcheck

	appLogger.Info("starting arbiter",
		zap.String("version", version.GetVersion()),
		zap.Bool("paper", cfg.Exchange.Paper))

	cache := market.NewBarCache(cfg.Engine.CacheSize)

	// Paper mode still streams live bars; only order routing changes.
	var venue exchange.Exchange
	if cfg.Exchange.Paper {
		venue = exchange.NewPaperExchange(cache)
	} else {
		venue = exchange.NewBinanceExchange(cfg.Exchange, appLogger)
	}

	jrnl, err := journal.NewJournal(cfg.Journal.Path, appLogger)
	if err != nil {
		return err
	}
	defer jrnl.Close() //nolint:errcheck

	m := metrics.New()

	eng, err := engine.New(cfg, cache, market.NewBinanceFeed(), venue, jrnl, m, appLogger)
	if err != nil {
		return err
	}

	srv := server.NewServer(eng, jrnl, m, appLogger)
	if err := srv.Start(cfg.Server.Address); err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = eng.Run(runCtx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if shutdownErr := srv.Stop(shutdownCtx); shutdownErr != nil {
		appLogger.Warn("http server shutdown failed", zap.Error(shutdownErr))
	}

	if err == context.Canceled {
		appLogger.Info("shutdown complete")

		return nil
	}

	return err
}

func main() {
	cmd := &cli.Command{
		Name:    "arbiter",
		Usage:   "Signal-driven automated trading agent",
		Version: version.GetVersion(),
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Run the trading agent",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "config",
						Aliases:  []string{"c"},
						Usage:    "Path to the YAML configuration file",
						Required: true,
					},
				},
				Action: runAction,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
