package chain

import "context"

// Checkpoint is the last durably-published position for a chain: the block
// number of the last fully processed block and the log index of the last
// event emitted within it (0 if the chain has not emitted anything yet in
// that block). The Tailer never advances past the confirmed safe head
// without first advancing this, and only ever moves it forward.
type Checkpoint struct {
	ChainID     int64
	BlockNumber uint64
	LogIndex    uint
}

// CheckpointStore loads and durably persists a chain's checkpoint. Backed by
// the projection database in production (internal/checkpoint), faked in
// tailer tests.
type CheckpointStore interface {
	Load(ctx context.Context, chainID int64) (Checkpoint, error)
	Save(ctx context.Context, cp Checkpoint) error
}
