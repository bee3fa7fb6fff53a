// Package chain walks the head of an EVM chain with reorg-safe windowing
// and emits ordered logs to the Publisher.
package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
)

// Client is the minimal surface the Tailer and Backfill Runner need from an
// EVM JSON-RPC node: narrow enough that *ethclient.Client satisfies it in
// production while tests substitute a fake with no RPC dependency at all.
type Client interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}
