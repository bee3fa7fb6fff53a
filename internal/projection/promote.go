package projection

import (
	"context"
	"database/sql"

	"github.com/ocx/escrow-indexer/internal/codec"
)

// promotePending re-attempts events that were buffered because their
// lifecycle predecessor hadn't been seen yet. Called after any event
// moves an escrow's status forward, since
// that's the only thing that can unblock a previously out-of-order event.
// Runs until a full pass makes no further progress — one promotion (e.g.
// EscrowCreated pushing status to approved) can itself unblock a second
// (a buffered EscrowReleased).
func promotePending(ctx context.Context, tx *sql.Tx, addr string) error {
	for {
		progressed, err := promoteOnePass(ctx, tx, addr)
		if err != nil {
			return err
		}
		if !progressed {
			return nil
		}
	}
}

func promoteOnePass(ctx context.Context, tx *sql.Tx, addr string) (bool, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT event_id, payload FROM escrow_events
		WHERE escrow_address = $1 AND outcome = 'out_of_order_buffered'
		ORDER BY block_number, log_index`, addr)
	if err != nil {
		return false, err
	}

	type pending struct {
		eventID string
		payload []byte
	}
	var items []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.eventID, &p.payload); err != nil {
			rows.Close()
			return false, err
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return false, err
	}
	rows.Close()

	progressed := false
	for _, item := range items {
		ev, err := codec.DecodeWire(item.payload)
		if err != nil {
			continue
		}

		cur, err := lockEscrowRow(ctx, tx, addr)
		if err != nil {
			return false, err
		}

		outcome, err := applyTransition(ctx, tx, ev, addr, cur)
		if err != nil {
			return false, err
		}
		if outcome == Applied {
			if err := setEventOutcome(ctx, tx, item.eventID, outcome); err != nil {
				return false, err
			}
			progressed = true
		}
	}
	return progressed, nil
}
