// Package checkpoint is the durable cursor store backing the Chain
// Tailer: one row per chain recording the last block/log_index whose
// events were confirmed published to the bus.
package checkpoint

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ocx/escrow-indexer/internal/chain"
)

// Store implements chain.CheckpointStore against the projection database.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Load returns the zero-value checkpoint (block 0) if the chain has never
// been tailed before, so the Tailer starts from genesis (or wherever an
// operator seeded the row by hand; backfill runs never write it).
func (s *Store) Load(ctx context.Context, chainID int64) (chain.Checkpoint, error) {
	var cp chain.Checkpoint
	cp.ChainID = chainID

	row := s.db.QueryRowContext(ctx,
		`SELECT block_number, log_index FROM checkpoints WHERE chain_id = $1`, chainID)

	var logIndex int
	err := row.Scan(&cp.BlockNumber, &logIndex)
	switch {
	case err == sql.ErrNoRows:
		return cp, nil
	case err != nil:
		return chain.Checkpoint{}, fmt.Errorf("checkpoint: load: %w", err)
	}
	cp.LogIndex = uint(logIndex)
	return cp, nil
}

// Save upserts the chain's checkpoint. The WHERE clause enforces
// monotonicity at the database level so a stray out-of-order Save (e.g.
// from a duplicate in-flight tick after a restart) can never move the
// cursor backwards.
func (s *Store) Save(ctx context.Context, cp chain.Checkpoint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (chain_id, block_number, log_index, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (chain_id) DO UPDATE
		SET block_number = EXCLUDED.block_number,
		    log_index = EXCLUDED.log_index,
		    updated_at = now()
		WHERE checkpoints.block_number < EXCLUDED.block_number
		   OR (checkpoints.block_number = EXCLUDED.block_number AND checkpoints.log_index < EXCLUDED.log_index)
	`, cp.ChainID, cp.BlockNumber, cp.LogIndex)
	if err != nil {
		return fmt.Errorf("checkpoint: save: %w", err)
	}
	return nil
}
