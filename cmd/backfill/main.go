// Command backfill replays a historical block range straight through the
// Projection Engine, bypassing the bus entirely. Safe to run concurrently
// with a live relayer/indexer pair covering the same range: the
// Projection Engine's own duplicate detection makes overlap harmless, and
// the Checkpoint is never touched.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/ocx/escrow-indexer/internal/backfill"
	"github.com/ocx/escrow-indexer/internal/chain"
	"github.com/ocx/escrow-indexer/internal/circuitbreaker"
	"github.com/ocx/escrow-indexer/internal/config"
	"github.com/ocx/escrow-indexer/internal/database"
	"github.com/ocx/escrow-indexer/internal/projection"
)

const (
	exitOK          = 0
	exitFatalConfig = 1
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	fromBlock := flag.Uint64("from-block", 0, "first block to scan (ignored with --from latest)")
	toBlock := flag.Uint64("to-block", 0, "last block to scan, 0 means chain head")
	from := flag.String("from", "", "'latest' walks the most recent --window blocks instead of [--from-block, --to-block]")
	window := flag.Uint64("window", 1000, "block window size for --from latest")
	dryRun := flag.Bool("dry-run", false, "decode and report counts without writing to the projection store")
	schedule := flag.Bool("schedule", false, "enqueue one Cloud Task per chunk instead of running in-process")
	chunkSize := flag.Uint64("chunk-size", 1000, "blocks per chunk when --schedule is set")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("backfill: no .env file found, relying on process environment")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("backfill: config error: %v", err)
		os.Exit(exitFatalConfig)
	}
	if cfg.Chain.RPCURL == "" || cfg.Chain.ChainID == 0 {
		log.Println("backfill: RPC_URL and CHAIN_ID are required")
		os.Exit(exitFatalConfig)
	}

	addrs := make([]common.Address, 0, len(cfg.Chain.ContractAddresses))
	for _, a := range cfg.Chain.ContractAddresses {
		addrs = append(addrs, common.HexToAddress(a))
	}

	ctx := context.Background()

	if *schedule {
		runSchedule(ctx, cfg, *fromBlock, *toBlock, *chunkSize)
		return
	}

	client, err := chain.Dial(cfg.Chain.RPCURL)
	if err != nil {
		log.Printf("backfill: rpc unreachable: %v", err)
		os.Exit(exitFatalConfig)
	}
	breakers := circuitbreaker.NewPipelineBreakers()
	guardedClient := chain.WithBreaker(client, breakers.RPC)

	var projector backfill.Projector
	if !*dryRun {
		db, err := database.Open(cfg.Database.URL, cfg.Database.MaxOpenConns, time.Duration(cfg.Database.ConnMaxLifeMins)*time.Minute)
		if err != nil {
			log.Printf("backfill: database unreachable: %v", err)
			os.Exit(exitFatalConfig)
		}
		defer db.Close()

		migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err = database.Migrate(migrateCtx, db)
		cancel()
		if err != nil {
			log.Printf("backfill: migrate: %v", err)
			os.Exit(exitFatalConfig)
		}
		projector = projection.New(db)
	}

	runner := backfill.New(guardedClient, projector)
	res, err := runner.Run(ctx, backfill.Config{
		ChainID:           cfg.Chain.ChainID,
		FromBlock:         *fromBlock,
		ToBlock:           *toBlock,
		Latest:            strings.EqualFold(*from, "latest"),
		LatestWindow:      *window,
		ContractAddresses: addrs,
		DryRun:            *dryRun,
	})
	if err != nil {
		log.Printf("backfill: run failed: %v", err)
		os.Exit(exitFatalConfig)
	}

	log.Printf("backfill: scanned %d blocks (through %d), decoded %d logs, skipped %d, outcomes=%v",
		res.BlocksScanned, res.LastBlockWalked, res.LogsDecoded, res.LogsSkipped, res.Outcomes)
	os.Exit(exitOK)
}

func runSchedule(ctx context.Context, cfg *config.Config, fromBlock, toBlock, chunkSize uint64) {
	if !cfg.CloudTasks.Enabled {
		log.Println("backfill: --schedule requires cloud_tasks.enabled in config")
		os.Exit(exitFatalConfig)
	}

	sched, err := backfill.NewScheduler(ctx, cfg.CloudTasks.ProjectID, cfg.CloudTasks.LocationID, cfg.CloudTasks.QueueID, cfg.CloudTasks.TargetURL)
	if err != nil {
		log.Printf("backfill: scheduler init failed: %v", err)
		os.Exit(exitFatalConfig)
	}
	defer sched.Close()

	n, err := sched.Schedule(ctx, cfg.Chain.ChainID, fromBlock, toBlock, cfg.Chain.ContractAddresses, chunkSize)
	if err != nil {
		log.Printf("backfill: schedule failed after enqueuing %d chunks: %v", n, err)
		os.Exit(exitFatalConfig)
	}
	log.Printf("backfill: enqueued %d chunks", n)
	os.Exit(exitOK)
}
