package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/punchamoorthee/payrecon/internal/api"
	"github.com/punchamoorthee/payrecon/internal/config"
	"github.com/punchamoorthee/payrecon/internal/engine"
	"github.com/punchamoorthee/payrecon/internal/gateway"
	"github.com/punchamoorthee/payrecon/internal/logging"
	"github.com/punchamoorthee/payrecon/internal/notify"
	"github.com/punchamoorthee/payrecon/internal/store"
)

func main() {
	var useMemory bool
	flag.BoolVar(&useMemory, "memory", false, "run against the in-memory store (development only)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger := logging.Setup("payrecon-api", cfg.Env)

	var (
		intents engine.IntentStore
		ledger  engine.LedgerStore
		reader  api.LedgerReader
	)
	if useMemory {
		mem := store.NewMemory()
		intents, ledger, reader = mem, mem, mem
		logger.Warn("running with in-memory store, state is not durable")
	} else {
		if cfg.DBSource == "" {
			log.Fatal("DB_SOURCE environment variable is required")
		}
		pg, err := store.NewPostgres(cfg.DBSource)
		if err != nil {
			log.Fatalf("Unable to connect to database: %v", err)
		}
		defer pg.Close()
		intents, ledger, reader = pg, pg, pg
	}

	registry, err := gateway.BuildRegistry(cfg.File.Gateways)
	if err != nil {
		log.Fatalf("gateway configuration: %v", err)
	}

	engCfg, err := engine.ConfigFromFile(cfg.File.Engine)
	if err != nil {
		log.Fatalf("engine configuration: %v", err)
	}
	notifier := notify.NewWebhook(cfg.File.NotifyURL, engCfg.NotifyTimeout, logger)
	eng := engine.New(engCfg, intents, ledger, registry, notifier, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.File.Sweep.Enabled {
		sweeper := engine.NewSweeper(engine.SweepConfigFromFile(cfg.File.Sweep), eng)
		go sweeper.Run(ctx)
	}

	handler := api.NewHandler(eng, reader)
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: api.NewRouter(handler),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "err", err)
		}
	}()

	logger.Info("server starting", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
