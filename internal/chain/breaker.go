package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ocx/escrow-indexer/internal/circuitbreaker"
)

// breakered wraps a Client so every RPC call trips the shared RPC circuit
// breaker on failure. Used by cmd/relayer and cmd/backfill to keep a flaky
// node from burning through retries indefinitely across every call site.
type breakered struct {
	inner Client
	cb    *circuitbreaker.CircuitBreaker
}

// WithBreaker returns a Client that routes every call through cb.
func WithBreaker(inner Client, cb *circuitbreaker.CircuitBreaker) Client {
	if cb == nil {
		return inner
	}
	return &breakered{inner: inner, cb: cb}
}

func (b *breakered) BlockNumber(ctx context.Context) (uint64, error) {
	v, err := b.cb.ExecuteContext(ctx, func(ctx context.Context) (interface{}, error) {
		return b.inner.BlockNumber(ctx)
	})
	if err != nil {
		return 0, err
	}
	return v.(uint64), nil
}

func (b *breakered) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	v, err := b.cb.ExecuteContext(ctx, func(ctx context.Context) (interface{}, error) {
		return b.inner.FilterLogs(ctx, q)
	})
	if err != nil {
		return nil, err
	}
	return v.([]types.Log), nil
}

func (b *breakered) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	v, err := b.cb.ExecuteContext(ctx, func(ctx context.Context) (interface{}, error) {
		return b.inner.HeaderByNumber(ctx, number)
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.Header), nil
}

// breakeredCheckpoint routes checkpoint reads/writes through the shared
// database circuit breaker, same rationale as breakered for RPC.
type breakeredCheckpoint struct {
	inner CheckpointStore
	cb    *circuitbreaker.CircuitBreaker
}

// WithCheckpointBreaker returns a CheckpointStore that routes Load/Save through cb.
func WithCheckpointBreaker(inner CheckpointStore, cb *circuitbreaker.CircuitBreaker) CheckpointStore {
	if cb == nil {
		return inner
	}
	return &breakeredCheckpoint{inner: inner, cb: cb}
}

func (b *breakeredCheckpoint) Load(ctx context.Context, chainID int64) (Checkpoint, error) {
	v, err := b.cb.ExecuteContext(ctx, func(ctx context.Context) (interface{}, error) {
		return b.inner.Load(ctx, chainID)
	})
	if err != nil {
		return Checkpoint{}, err
	}
	return v.(Checkpoint), nil
}

func (b *breakeredCheckpoint) Save(ctx context.Context, cp Checkpoint) error {
	_, err := b.cb.ExecuteContext(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, b.inner.Save(ctx, cp)
	})
	return err
}
