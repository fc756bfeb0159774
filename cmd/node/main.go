package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/hyperdex/params"
	"github.com/uhyunpark/hyperdex/pkg/api"
	"github.com/uhyunpark/hyperdex/pkg/app/dex"
	"github.com/uhyunpark/hyperdex/pkg/node"
	"github.com/uhyunpark/hyperdex/pkg/notify"
	"github.com/uhyunpark/hyperdex/pkg/settlement"
	"github.com/uhyunpark/hyperdex/pkg/storage"
	"github.com/uhyunpark/hyperdex/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Node.LogFile != "" {
		logger, err = util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.LogLevel)
	} else {
		logger, err = util.NewLogger(cfg.Node.LogLevel)
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile, "level", cfg.Node.LogLevel)

	// ---- Storage ----
	store, err := storage.Open(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		sugar.Fatalw("storage_open_failed", "backend", cfg.Storage.Backend, "path", cfg.Storage.Path, "err", err)
	}
	defer store.Close()

	var journal storage.Journal = storage.NewNopJournal()
	if cfg.Storage.JournalPath != "" {
		fj, err := storage.NewFileJournal(cfg.Storage.JournalPath)
		if err != nil {
			sugar.Fatalw("journal_open_failed", "path", cfg.Storage.JournalPath, "err", err)
		}
		journal = fj
	}
	defer journal.Close()

	// ---- Trade publication ----
	sink := notify.NewFanout(sugar)
	if len(cfg.Kafka.Brokers) > 0 {
		ks, err := notify.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			sugar.Fatalw("kafka_init_failed", "brokers", cfg.Kafka.Brokers, "err", err)
		}
		defer ks.Close()
		sink.Add(ks)
		sugar.Infow("kafka_enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	// ---- App: order-book exchange ----
	bank := settlement.NewMemoryBank()
	app, err := dex.New(dex.Options{
		Config:  cfg.Dex,
		Store:   store,
		Bank:    bank,
		Sink:    sink,
		Journal: journal,
		Logger:  sugar,
	})
	if err != nil {
		sugar.Fatalw("app_init_failed", "err", err)
	}
	app.WatchDeposits(bank)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- API Server ----
	var devBank *settlement.MemoryBank
	if cfg.API.DevTransfers {
		devBank = bank
	}
	apiServer := api.NewServer(app, devBank, sugar)
	apiServer.RequireSignatures = cfg.API.RequireSignatures
	sink.Add(apiServer)

	go func() {
		if err := apiServer.Start(ctx, cfg.API.Addr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	// ---- Block production ----
	n := node.New(app, util.RealClock{}, sugar)
	n.MinBlockTime = cfg.Node.MinBlockTime
	n.MaxTxBytes = cfg.Node.MaxTxBytes
	n.OnBlockCommit = func(b node.Block) {
		if b.Txs > 0 {
			apiServer.BroadcastOrderbooks(b.Height)
		}
	}

	sugar.Infow("node_starting",
		"dex_account", cfg.Dex.Account.Hex(),
		"storage", cfg.Storage.Backend,
		"enabled", cfg.Dex.Enabled,
		"max_match_count", cfg.Dex.MaxMatchCount)

	if err := n.Run(ctx); err != nil && ctx.Err() == nil {
		sugar.Errorw("node_failed", "err", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("api_shutdown_failed", "err", err)
	}
	sugar.Infow("node_stopped", "height", n.Last().Height)
}
