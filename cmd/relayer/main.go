// Command relayer runs one Chain Tailer + Publisher pair for a single
// chain_id: the process that walks the chain and ships decoded events
// onto the bus. One relayer process per chain — running two against the
// same chain_id is a misconfiguration the system does not arbitrate.
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

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ocx/escrow-indexer/internal/bus"
	"github.com/ocx/escrow-indexer/internal/chain"
	"github.com/ocx/escrow-indexer/internal/checkpoint"
	"github.com/ocx/escrow-indexer/internal/circuitbreaker"
	"github.com/ocx/escrow-indexer/internal/config"
	"github.com/ocx/escrow-indexer/internal/database"
	"github.com/ocx/escrow-indexer/internal/metrics"
	"github.com/ocx/escrow-indexer/internal/pipeline"
)

// Exit codes per the external interfaces contract: 0 clean shutdown,
// 1 fatal config/startup error, 2 fatal reorg, 3 broker/DB unreachable.
const (
	exitOK          = 0
	exitFatalConfig = 1
	exitFatalReorg  = 2
	exitUnreachable = 3
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("relayer: no .env file found, relying on process environment")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("relayer: config error: %v", err)
		os.Exit(exitFatalConfig)
	}
	if cfg.Chain.RPCURL == "" || cfg.Chain.ChainID == 0 {
		log.Println("relayer: RPC_URL and CHAIN_ID are required")
		os.Exit(exitFatalConfig)
	}

	db, err := database.Open(cfg.Database.URL, cfg.Database.MaxOpenConns, time.Duration(cfg.Database.ConnMaxLifeMins)*time.Minute)
	if err != nil {
		log.Printf("relayer: database unreachable: %v", err)
		os.Exit(exitUnreachable)
	}
	defer db.Close()

	migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = database.Migrate(migrateCtx, db)
	cancel()
	if err != nil {
		log.Printf("relayer: migrate: %v", err)
		os.Exit(exitUnreachable)
	}

	client, err := chain.Dial(cfg.Chain.RPCURL)
	if err != nil {
		log.Printf("relayer: rpc unreachable: %v", err)
		os.Exit(exitUnreachable)
	}

	dialCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	rawPublisher, pubsubClient, err := bus.Open(dialCtx, cfg.PubSub.ProjectID, cfg.PubSub.Topic)
	cancel()
	if err != nil {
		log.Printf("relayer: bus unreachable: %v", err)
		os.Exit(exitUnreachable)
	}
	defer pubsubClient.Close()
	defer rawPublisher.Close()

	pc := &pipeline.Context{
		Config:   cfg,
		DB:       db,
		Metrics:  metrics.New(),
		Breakers: circuitbreaker.NewPipelineBreakers(),
	}
	publisher := bus.WithMetrics(rawPublisher, pc.Metrics)

	metricsServer := &http.Server{Addr: ":" + cfg.Server.MetricsPort, Handler: promhttp.Handler()}
	go func() {
		log.Printf("relayer: metrics listening on :%s", cfg.Server.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("relayer: metrics server: %v", err)
		}
	}()
	defer metricsServer.Close()

	addrs := make([]common.Address, 0, len(cfg.Chain.ContractAddresses))
	for _, a := range cfg.Chain.ContractAddresses {
		addrs = append(addrs, common.HexToAddress(a))
	}

	guardedClient := chain.WithBreaker(client, pc.Breakers.RPC)
	guardedPublisher := bus.WithBreaker(publisher, pc.Breakers.Bus)
	guardedCheckpoint := chain.WithCheckpointBreaker(checkpoint.New(db), pc.Breakers.Database)

	tailer := chain.New(chain.Config{
		ChainID:           cfg.Chain.ChainID,
		ContractAddresses: addrs,
		ConfirmationDepth: cfg.Chain.ConfirmationDepth,
		PollInterval:      time.Duration(cfg.Tailer.PollIntervalMillis) * time.Millisecond,
		MaxWindowBlocks:   uint64(cfg.Tailer.MaxWindowBlocks),
		RPCTimeout:        time.Duration(cfg.Tailer.RPCTimeoutSec) * time.Second,
		StandbyNoPublish:  cfg.Chain.StandbyNoPublish,
	}, guardedClient, guardedPublisher, guardedCheckpoint, pc.Metrics)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	supervisor := pipeline.NewSupervisor(time.Duration(cfg.Server.ShutdownTimeoutSec) * time.Second)
	runErr := supervisor.Run(ctx, tailer.Run)

	if runErr != nil {
		var reorg *chain.ErrDeepReorg
		if errors.As(runErr, &reorg) {
			log.Printf("relayer: fatal reorg, exiting for operator intervention: %v", runErr)
			os.Exit(exitFatalReorg)
		}
		if ctx.Err() == nil {
			log.Printf("relayer: fatal: %v", runErr)
			os.Exit(exitFatalConfig)
		}
	}

	log.Println("relayer: shutdown complete")
	os.Exit(exitOK)
}
