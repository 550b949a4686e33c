package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/keeperlabs/orderkeeper/params"
	"github.com/keeperlabs/orderkeeper/pkg/api"
	"github.com/keeperlabs/orderkeeper/pkg/keeper"
	"github.com/keeperlabs/orderkeeper/pkg/ledger"
	"github.com/keeperlabs/orderkeeper/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	logger, err := util.NewLoggerWithFile(cfg.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.LogFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Ledger gateway ----
	gateway, err := ledger.Dial(ctx, cfg.Ledger, logger)
	if err != nil {
		sugar.Fatalw("ledger_dial_failed", "err", err)
	}
	defer gateway.Close()

	// ---- Retry ledger: durable if RETRY_DB is set, otherwise in-memory ----
	var retry keeper.RetryLedger
	if cfg.Keeper.RetryDB != "" {
		store, err := keeper.OpenPebbleRetryLedger(cfg.Keeper.RetryDB, logger)
		if err != nil {
			sugar.Fatalw("retry_store_open_failed", "path", cfg.Keeper.RetryDB, "err", err)
		}
		defer store.Close()
		retry = store
		sugar.Infow("retry_store_durable", "path", cfg.Keeper.RetryDB)
	} else {
		retry = keeper.NewMemoryRetryLedger()
		sugar.Info("retry_store_in_memory")
	}

	// ---- Reconciliation engine ----
	snap := keeper.NewSnapshotter(gateway, logger)
	planner := keeper.NewPlanner(gateway, retry, keeper.PlannerConfig{
		DustThreshold: cfg.Keeper.DustThreshold,
		RetryLimit:    cfg.Keeper.RetryLimit,
		Allowlist:     cfg.Keeper.SelfMatchAllowlist,
	}, logger)
	engine := keeper.NewEngine(snap, planner, retry, util.RealClock{}, cfg.Keeper.ScanInterval, logger)

	// ---- Status server ----
	apiServer := api.NewServer(engine, time.Now().Unix())
	engine.OnCycle = apiServer.BroadcastCycle

	go func() {
		sugar.Infow("api_server_starting", "addr", cfg.APIAddr)
		if err := apiServer.Start(cfg.APIAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	sugar.Infow("keeper_starting",
		"scan_interval_ms", cfg.Keeper.ScanInterval.Milliseconds(),
		"dust_threshold", cfg.Keeper.DustThreshold.String(),
		"retry_limit", cfg.Keeper.RetryLimit,
		"allowlist_size", len(cfg.Keeper.SelfMatchAllowlist))

	// Blocks until SIGINT/SIGTERM
	engine.Run(ctx)
	sugar.Info("keeper_shutdown")
}
