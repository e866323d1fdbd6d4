package main

import (
	"context"
	"log"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/etherdesk/etherdesk/params"
	"github.com/etherdesk/etherdesk/pkg/api"
	"github.com/etherdesk/etherdesk/pkg/exchange"
	"github.com/etherdesk/etherdesk/pkg/exchange/events"
	"github.com/etherdesk/etherdesk/pkg/exchange/token"
	"github.com/etherdesk/etherdesk/pkg/storage"
	"github.com/etherdesk/etherdesk/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	// Setup logging: console + file by default, console only when the log
	// file is disabled (LOG_FILE set empty)
	var logger *zap.Logger
	var err error
	if cfg.LogFile != "" {
		logger, err = util.NewLoggerWithFile(cfg.LogFile)
	} else {
		logger, err = util.NewLogger()
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.LogFile)

	// ---- Storage ----
	store, err := storage.OpenPebble(cfg.Storage.DataDir)
	if err != nil {
		sugar.Fatalw("storage_open_failed", "path", cfg.Storage.DataDir, "err", err)
	}
	defer store.Close()

	// ---- Token registry ----
	// Production token backends come from chain adapters. For development,
	// DEV_TOKEN_ADDR registers an in-memory token with supply minted to
	// DEV_TOKEN_ISSUER.
	tokens := token.NewRegistry()
	if addr := os.Getenv("DEV_TOKEN_ADDR"); addr != "" && common.IsHexAddress(addr) {
		issuer := common.HexToAddress(os.Getenv("DEV_TOKEN_ISSUER"))
		supply := new(big.Int).Exp(big.NewInt(10), big.NewInt(24), nil) // 1M units
		tok := token.NewMemToken(issuer, supply)
		tok.Approve(issuer, cfg.Exchange.Custody, supply)
		if err := tokens.Register(common.HexToAddress(addr), tok.Bind(cfg.Exchange.Custody)); err != nil {
			sugar.Fatalw("dev_token_register_failed", "err", err)
		}
		sugar.Infow("dev_token_registered", "addr", addr, "issuer", issuer.Hex())
	}

	// ---- Event feed ----
	feed := events.NewFeed()

	if cfg.Events.JournalPath != "" {
		journal, err := events.NewFileJournal(cfg.Events.JournalPath)
		if err != nil {
			sugar.Fatalw("journal_open_failed", "path", cfg.Events.JournalPath, "err", err)
		}
		defer journal.Close()
		feed.Attach(journal)
		sugar.Infow("event_journal_enabled", "path", cfg.Events.JournalPath)
	}

	if len(cfg.Events.KafkaBrokers) > 0 {
		sink := events.NewKafkaSink(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic, sugar)
		defer sink.Close()
		feed.Attach(sink)
		sugar.Infow("kafka_sink_enabled", "brokers", cfg.Events.KafkaBrokers, "topic", cfg.Events.KafkaTopic)
	}

	// ---- Exchange core ----
	ex, err := exchange.New(exchange.Config{
		FeeAccount: cfg.Exchange.FeeAccount,
		FeePercent: cfg.Exchange.FeePercent,
		Custody:    cfg.Exchange.Custody,
	}, store, tokens, util.RealClock{}, feed, sugar)
	if err != nil {
		sugar.Fatalw("exchange_init_failed", "err", err)
	}
	sugar.Infow("exchange_initialized",
		"fee_account", cfg.Exchange.FeeAccount.Hex(),
		"fee_percent", cfg.Exchange.FeePercent,
		"orders", ex.OrderCount())

	// ---- API server ----
	apiServer := api.NewServer(ex, sugar)
	feed.Attach(apiServer.Hub())

	go func() {
		if err := apiServer.Start(cfg.API.Listen); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	sugar.Info("shutting_down")
}
