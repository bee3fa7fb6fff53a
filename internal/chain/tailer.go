package chain

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"math/rand"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/ocx/escrow-indexer/internal/codec"
)

// Config controls the Tailer's polling cadence and window sizing, mirroring
// config.TailerConfig plus the chain identity it was built with.
type Config struct {
	ChainID           int64
	ContractAddresses []common.Address
	ConfirmationDepth uint64
	PollInterval      time.Duration
	MaxWindowBlocks   uint64
	RPCTimeout        time.Duration
	StandbyNoPublish  bool
}

// LagRecorder reports how far the chain head has pulled ahead of the last
// checkpointed block, in blocks. A narrow seam so this package never needs
// to import the metrics registry directly.
type LagRecorder interface {
	RecordLag(chainID int64, lagBlocks int64)
}

// Tailer walks the confirmed head of a single EVM chain, decodes logs from
// the contracts it watches, and hands them to a Publisher in
// (block_number, log_index) order, advancing its checkpoint only once the
// Publisher confirms durability. A poll-and-window loop over confirmed
// blocks rather than a head-subscription feed, so it degrades gracefully
// against RPC providers that don't support subscriptions.
type Tailer struct {
	cfg        Config
	client     Client
	publisher  Publisher
	checkpoint CheckpointStore
	lag        LagRecorder
}

// New builds a Tailer. client, publisher and checkpoint are narrow
// interfaces so tests can substitute fakes without a live RPC node, broker,
// or database. lag may be nil, in which case no lag gauge is reported.
func New(cfg Config, client Client, publisher Publisher, checkpoint CheckpointStore, lag LagRecorder) *Tailer {
	return &Tailer{cfg: cfg, client: client, publisher: publisher, checkpoint: checkpoint, lag: lag}
}

// Run blocks until ctx is cancelled or a fatal anomaly (deep reorg) occurs.
// Transient RPC errors are retried with exponential backoff (1s-60s,
// jittered) rather than propagated.
func (t *Tailer) Run(ctx context.Context) error {
	cp, err := t.checkpoint.Load(ctx, t.cfg.ChainID)
	if err != nil {
		return fmt.Errorf("chain: load checkpoint: %w", err)
	}

	backoff := time.Second
	const maxBackoff = 60 * time.Second

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		advanced, err := t.tick(ctx, &cp)
		if err != nil {
			var reorg *ErrDeepReorg
			if isDeepReorg(err, &reorg) {
				log.Printf("chain %d: fatal: %v", t.cfg.ChainID, err)
				return err
			}
			log.Printf("chain %d: transient tailer error, backing off %s: %v", t.cfg.ChainID, backoff, err)
			if !sleepCtx(ctx, jitter(backoff)) {
				return ctx.Err()
			}
			backoff = minDuration(backoff*2, maxBackoff)
			continue
		}
		backoff = time.Second

		if !advanced {
			if !sleepCtx(ctx, t.cfg.PollInterval) {
				return ctx.Err()
			}
		}
	}
}

// tick performs one poll: compute the confirmed safe head, window to
// MaxWindowBlocks, fetch logs, publish them in order, advance the
// checkpoint. It reports whether it made forward progress so Run knows
// whether to sleep out the poll interval.
func (t *Tailer) tick(ctx context.Context, cp *Checkpoint) (bool, error) {
	rpcCtx, cancel := context.WithTimeout(ctx, t.cfg.RPCTimeout)
	defer cancel()

	head, err := t.client.BlockNumber(rpcCtx)
	if err != nil {
		return false, fmt.Errorf("block number: %w", err)
	}
	if t.lag != nil {
		t.lag.RecordLag(t.cfg.ChainID, int64(head)-int64(cp.BlockNumber))
	}
	if head < t.cfg.ConfirmationDepth {
		return false, nil
	}
	safe := head - t.cfg.ConfirmationDepth

	if safe <= cp.BlockNumber {
		return false, nil
	}

	from := cp.BlockNumber + 1
	to := safe
	if to-from+1 > t.cfg.MaxWindowBlocks {
		to = from + t.cfg.MaxWindowBlocks - 1
	}

	if err := t.verifyNoReorg(rpcCtx, *cp); err != nil {
		return false, err
	}

	logs, err := t.client.FilterLogs(rpcCtx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: t.cfg.ContractAddresses,
		Topics:    [][]common.Hash{codec.KnownTopics()},
	})
	if err != nil {
		return false, fmt.Errorf("filter logs %d-%d: %w", from, to, err)
	}

	sort.Slice(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})

	for i, l := range logs {
		if l.Removed {
			// A log flagged removed by the node means a reorg raced our
			// FilterLogs call within the confirmed window. Treat it as a
			// deep reorg: stop and let an operator look.
			return false, &ErrDeepReorg{ChainID: t.cfg.ChainID, BlockNumber: l.BlockNumber}
		}

		header, err := t.client.HeaderByNumber(rpcCtx, new(big.Int).SetUint64(l.BlockNumber))
		if err != nil {
			return false, fmt.Errorf("header %d: %w", l.BlockNumber, err)
		}

		ev, err := codec.DecodeLog(l, t.cfg.ChainID, int64(header.Time))
		if err != nil {
			// Malformed payload from a watched contract is an anomaly, not
			// a reason to wedge the whole chain: log and skip this log,
			// the event simply never reaches the bus.
			log.Printf("chain %d: skipping undecodable log at block %d index %d: %v",
				t.cfg.ChainID, l.BlockNumber, l.Index, err)
			continue
		}

		if t.cfg.StandbyNoPublish {
			continue
		}

		if err := t.publisher.Publish(ctx, ev); err != nil {
			return false, fmt.Errorf("publish %s: %w", ev.EventID, err)
		}

		// Resume starts at the block after the checkpoint, so a block is
		// only recorded once its last log has been published.
		if i+1 < len(logs) && logs[i+1].BlockNumber == l.BlockNumber {
			continue
		}
		*cp = Checkpoint{ChainID: t.cfg.ChainID, BlockNumber: l.BlockNumber, LogIndex: l.Index}
		if err := t.checkpoint.Save(ctx, *cp); err != nil {
			return false, fmt.Errorf("save checkpoint: %w", err)
		}
	}

	if to > cp.BlockNumber {
		*cp = Checkpoint{ChainID: t.cfg.ChainID, BlockNumber: to, LogIndex: 0}
		if err := t.checkpoint.Save(ctx, *cp); err != nil {
			return false, fmt.Errorf("save checkpoint: %w", err)
		}
	}

	return true, nil
}

// verifyNoReorg is a placeholder seam for block-hash pinning: a future
// revision can store the last checkpointed block's hash and compare it
// against HeaderByNumber here before trusting FilterLogs results. Today it
// is a no-op; the Removed-flag check in tick is the active reorg guard.
func (t *Tailer) verifyNoReorg(ctx context.Context, cp Checkpoint) error {
	return nil
}

func isDeepReorg(err error, target **ErrDeepReorg) bool {
	if e, ok := err.(*ErrDeepReorg); ok {
		*target = e
		return true
	}
	return false
}

func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	n := rand.Int63n(int64(d) / 2)
	return d + time.Duration(n)
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
