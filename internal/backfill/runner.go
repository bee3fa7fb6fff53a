// Package backfill implements a one-shot historical replay tool: given a
// block range, it decodes logs the same way the Chain Tailer does and
// applies them straight through the Projection Engine, bypassing the bus
// entirely. It never touches the Checkpoint — event_id uniqueness is what
// makes it safe to rerun over a range the live pipeline has already
// covered.
package backfill

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/ocx/escrow-indexer/internal/chain"
	"github.com/ocx/escrow-indexer/internal/chainevents"
	"github.com/ocx/escrow-indexer/internal/codec"
	"github.com/ocx/escrow-indexer/internal/projection"
)

const (
	initialBatchBlocks = 1000
	minBatchBlocks     = 100
)

// Projector is the subset of projection.Engine the runner needs, kept as
// an interface so tests can fake it without a database.
type Projector interface {
	Apply(ctx context.Context, ev chainevents.Event) (projection.Outcome, error)
}

// Config describes one backfill invocation.
type Config struct {
	ChainID           int64
	FromBlock         uint64
	ToBlock           uint64 // ignored when Latest is set
	Latest            bool   // --from latest: walk the most recent LatestWindow blocks
	LatestWindow      uint64
	ContractAddresses []common.Address
	DryRun            bool
}

// Result summarizes one run for operator reporting.
type Result struct {
	BlocksScanned   uint64
	LogsDecoded     int
	LogsSkipped     int
	Outcomes        map[string]int
	LastBlockWalked uint64
}

// Runner walks a block range via eth_getLogs and applies decoded events
// directly to the Projection Engine (or just counts them, in --dry-run).
type Runner struct {
	client    chain.Client
	projector Projector
	batch     uint64
}

func New(client chain.Client, projector Projector) *Runner {
	return &Runner{client: client, projector: projector, batch: initialBatchBlocks}
}

// Run executes one backfill pass and returns a count summary. It never
// returns a *chain.ErrDeepReorg the way the Tailer does — a backfill
// range is historical by definition, confirmation depth doesn't apply,
// and any log with Removed=true is simply skipped as stale.
func (r *Runner) Run(ctx context.Context, cfg Config) (Result, error) {
	from, to, err := r.resolveRange(ctx, cfg)
	if err != nil {
		return Result{}, fmt.Errorf("backfill: resolve range: %w", err)
	}

	res := Result{Outcomes: map[string]int{}}
	cursor := from

	for cursor <= to {
		batchEnd := cursor + r.batch - 1
		if batchEnd > to {
			batchEnd = to
		}

		logs, err := r.client.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(cursor),
			ToBlock:   new(big.Int).SetUint64(batchEnd),
			Addresses: cfg.ContractAddresses,
			Topics:    [][]common.Hash{codec.KnownTopics()},
		})
		if err != nil {
			if r.batch > minBatchBlocks {
				r.batch /= 2
				if r.batch < minBatchBlocks {
					r.batch = minBatchBlocks
				}
				log.Printf("backfill: eth_getLogs failed for %d-%d, halving batch to %d blocks: %v",
					cursor, batchEnd, r.batch, err)
				continue
			}
			return res, fmt.Errorf("backfill: eth_getLogs %d-%d: %w", cursor, batchEnd, err)
		}

		sort.Slice(logs, func(i, j int) bool {
			if logs[i].BlockNumber != logs[j].BlockNumber {
				return logs[i].BlockNumber < logs[j].BlockNumber
			}
			return logs[i].Index < logs[j].Index
		})

		headerCache := map[uint64]int64{}
		for _, l := range logs {
			if l.Removed {
				res.LogsSkipped++
				continue
			}

			ts, ok := headerCache[l.BlockNumber]
			if !ok {
				header, err := r.client.HeaderByNumber(ctx, new(big.Int).SetUint64(l.BlockNumber))
				if err != nil {
					return res, fmt.Errorf("backfill: header for block %d: %w", l.BlockNumber, err)
				}
				ts = int64(header.Time)
				headerCache[l.BlockNumber] = ts
			}

			ev, err := codec.DecodeLog(l, cfg.ChainID, ts)
			if err != nil {
				res.LogsSkipped++
				log.Printf("backfill: skip undecodable log block=%d idx=%d: %v", l.BlockNumber, l.Index, err)
				continue
			}
			res.LogsDecoded++

			if cfg.DryRun {
				res.Outcomes[string(ev.EventType)]++
				continue
			}

			outcome, err := r.projector.Apply(ctx, ev)
			if err != nil {
				return res, fmt.Errorf("backfill: apply %s: %w", ev.EventID, err)
			}
			res.Outcomes[string(outcome)]++
		}

		res.BlocksScanned += batchEnd - cursor + 1
		res.LastBlockWalked = batchEnd
		cursor = batchEnd + 1
	}

	return res, nil
}

func (r *Runner) resolveRange(ctx context.Context, cfg Config) (from, to uint64, err error) {
	if cfg.Latest {
		head, err := r.client.BlockNumber(ctx)
		if err != nil {
			return 0, 0, fmt.Errorf("block number: %w", err)
		}
		window := cfg.LatestWindow
		if window == 0 {
			window = initialBatchBlocks
		}
		if window > head {
			return 0, head, nil
		}
		return head - window + 1, head, nil
	}

	to = cfg.ToBlock
	if to == 0 {
		head, err := r.client.BlockNumber(ctx)
		if err != nil {
			return 0, 0, fmt.Errorf("block number: %w", err)
		}
		to = head
	}
	if cfg.FromBlock > to {
		return 0, 0, fmt.Errorf("from_block %d is after to_block %d", cfg.FromBlock, to)
	}
	return cfg.FromBlock, to, nil
}

// sleepCtx is used by the Cloud Tasks scheduler between chunk enqueues;
// kept here rather than duplicated from internal/chain.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
