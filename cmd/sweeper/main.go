package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/punchamoorthee/payrecon/internal/config"
	"github.com/punchamoorthee/payrecon/internal/engine"
	"github.com/punchamoorthee/payrecon/internal/gateway"
	"github.com/punchamoorthee/payrecon/internal/logging"
	"github.com/punchamoorthee/payrecon/internal/notify"
	"github.com/punchamoorthee/payrecon/internal/store"
)

// Standalone reconciliation sweep. Runs the polling path against the shared
// database without exposing the API surface; useful when webhooks are
// delivered to a separate fleet.
func main() {
	var once bool
	flag.BoolVar(&once, "once", false, "run a single sweep pass and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger := logging.Setup("payrecon-sweeper", cfg.Env)

	if cfg.DBSource == "" {
		log.Fatal("DB_SOURCE environment variable is required")
	}
	pg, err := store.NewPostgres(cfg.DBSource)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer pg.Close()

	registry, err := gateway.BuildRegistry(cfg.File.Gateways)
	if err != nil {
		log.Fatalf("gateway configuration: %v", err)
	}
	engCfg, err := engine.ConfigFromFile(cfg.File.Engine)
	if err != nil {
		log.Fatalf("engine configuration: %v", err)
	}
	notifier := notify.NewWebhook(cfg.File.NotifyURL, engCfg.NotifyTimeout, logger)
	eng := engine.New(engCfg, pg, pg, registry, notifier, logger)
	sweeper := engine.NewSweeper(engine.SweepConfigFromFile(cfg.File.Sweep), eng)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if once {
		if err := sweeper.RunOnce(ctx); err != nil {
			log.Fatalf("sweep pass failed: %v", err)
		}
		return
	}

	logger.Info("sweeper starting")
	sweeper.Run(ctx)
}
