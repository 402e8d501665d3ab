package main

import (
	"context"
	"log"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"github.com/predictex/predictex/params"
	"github.com/predictex/predictex/pkg/api"
	"github.com/predictex/predictex/pkg/chain"
	"github.com/predictex/predictex/pkg/core/engine"
	"github.com/predictex/predictex/pkg/core/market"
	"github.com/predictex/predictex/pkg/core/settlement"
	"github.com/predictex/predictex/pkg/core/validate"
	"github.com/predictex/predictex/pkg/crypto"
	"github.com/predictex/predictex/pkg/storage"
	"github.com/predictex/predictex/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	// Setup logging (write to both console and file)
	logPath := cfg.Node.LogFile
	if logPath == "" {
		logPath = filepath.Join(cfg.Node.DataDir, "node.log")
	}
	logger, err := util.NewLoggerWithFile(logPath)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", logPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Markets ----
	registry := market.NewRegistry()
	for _, spec := range cfg.Markets {
		m := &market.Market{
			ID:       spec.ID,
			Title:    spec.Title,
			Outcomes: spec.Outcomes,
			Status:   market.Active,
		}
		if err := registry.Register(m); err != nil {
			sugar.Fatalw("market_register_failed", "market", spec.ID, "err", err)
		}
		sugar.Infow("market_registered", "market", spec.ID, "outcomes", spec.Outcomes)
	}

	// ---- Storage ----
	store, err := storage.NewPebbleStore(filepath.Join(cfg.Node.DataDir, "db"))
	if err != nil {
		sugar.Fatalw("storage_open_failed", "err", err)
	}
	defer store.Close()

	// ---- Engine ----
	domain := crypto.EIP712Domain{
		Name:              cfg.Domain.Name,
		Version:           cfg.Domain.Version,
		ChainID:           big.NewInt(cfg.Domain.ChainID),
		VerifyingContract: common.HexToAddress(cfg.Domain.VerifyingContract),
	}
	validator := validate.New(domain, util.RealClock{})
	eng := engine.New(sugar, util.RealClock{}, validator, registry, store)
	if err := eng.Rehydrate(); err != nil {
		sugar.Fatalw("rehydrate_failed", "err", err)
	}

	// ---- Settlement bridge ----
	bridge := settlement.NewBridge(eng, sugar, cfg.Node.EventBuffer)
	go bridge.Run(ctx)

	// ---- Chain gossip ----
	net, err := chain.NewNet(ctx, chain.Config{
		ListenAddr: cfg.P2P.ListenAddr,
		Bootstrap:  cfg.P2P.Bootstrap,
		Logger:     sugar,
	})
	if err != nil {
		sugar.Fatalw("chain_net_failed", "err", err)
	}
	defer net.Close()
	go net.Run(ctx, bridge.Events())

	// ---- API Server ----
	apiServer := api.NewServer(sugar, eng, registry)

	eng.OnTrade = func(t settlement.Trade) {
		apiServer.BroadcastTrade(t)
		if err := net.ProposeTrades(ctx, []settlement.Trade{t}); err != nil {
			sugar.Warnw("trade_propose_failed", "trade", t.ID, "err", err)
		}
	}
	eng.OnDepth = func(marketID string, outcome uint32) {
		apiServer.BroadcastDepth(marketID, outcome)
	}

	go func() {
		if err := apiServer.Start(cfg.Node.APIAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	sugar.Infow("node_started",
		"api_addr", cfg.Node.APIAddr,
		"data_dir", cfg.Node.DataDir,
		"markets", len(cfg.Markets),
		"chain_id", cfg.Domain.ChainID)

	<-ctx.Done()
	sugar.Info("shutting down")
}
