package chain

import (
	"context"

	"github.com/ocx/escrow-indexer/internal/chainevents"
)

// Publisher is the narrow surface the Tailer needs from the bus: emit one
// event durably and report back once the broker has accepted it. The
// Tailer advances its checkpoint only after Publish returns nil, so a
// crash-and-restart re-derives at most one already-published window rather
// than silently dropping events.
type Publisher interface {
	Publish(ctx context.Context, e chainevents.Event) error
}
