package projection

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ocx/escrow-indexer/internal/chainevents"
	"github.com/ocx/escrow-indexer/internal/codec"
)

// status ranks escrow lifecycle states for monotonicity checks. none is
// the state of an escrow_address the projection has never seen.
type status int

const (
	statusNone status = iota
	statusDeployed
	statusCreated
	statusApproved
	statusReleased
	statusRefunded
)

func parseStatus(s string) status {
	switch s {
	case "deployed":
		return statusDeployed
	case "created":
		return statusCreated
	case "approved":
		return statusApproved
	case "released":
		return statusReleased
	case "refunded":
		return statusRefunded
	default:
		return statusNone
	}
}

func (s status) String() string {
	switch s {
	case statusDeployed:
		return "deployed"
	case statusCreated:
		return "created"
	case statusApproved:
		return "approved"
	case statusReleased:
		return "released"
	case statusRefunded:
		return "refunded"
	default:
		return ""
	}
}

func (s status) terminal() bool {
	return s == statusReleased || s == statusRefunded
}

// Engine applies decoded events to the escrow read model.
type Engine struct {
	db *sql.DB
}

func New(db *sql.DB) *Engine {
	return &Engine{db: db}
}

// Apply runs one event through exactly one database transaction and
// returns one of the four Outcome values. Any internal error propagates
// so the Subscriber nacks and lets Pub/Sub redeliver.
func (e *Engine) Apply(ctx context.Context, ev chainevents.Event) (Outcome, error) {
	escrowAddr, err := ev.EscrowAddress()
	if err != nil {
		return Rejected, fmt.Errorf("projection: %w", err)
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("projection: begin tx: %w", err)
	}
	defer tx.Rollback()

	inserted, err := insertEventRow(ctx, tx, ev, escrowAddr)
	if err != nil {
		return "", fmt.Errorf("projection: insert event: %w", err)
	}
	if !inserted {
		if err := tx.Commit(); err != nil {
			return "", fmt.Errorf("projection: commit duplicate: %w", err)
		}
		return SkippedDuplicate, nil
	}

	cur, err := lockEscrowRow(ctx, tx, escrowAddr)
	if err != nil {
		return "", fmt.Errorf("projection: lock escrow row: %w", err)
	}

	outcome, err := applyTransition(ctx, tx, ev, escrowAddr, cur)
	if err != nil {
		return "", fmt.Errorf("projection: apply transition: %w", err)
	}

	if err := setEventOutcome(ctx, tx, ev.EventID, outcome); err != nil {
		return "", fmt.Errorf("projection: set outcome: %w", err)
	}

	if outcome == Applied {
		if err := promotePending(ctx, tx, escrowAddr); err != nil {
			return "", fmt.Errorf("projection: promote pending: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("projection: commit: %w", err)
	}
	return outcome, nil
}

// escrowRow is the subset of an escrows row the transition logic needs.
type escrowRow struct {
	exists            bool
	status            status
	approvalsRequired sql.NullInt32
	approvalsCount    int32
}

func lockEscrowRow(ctx context.Context, tx *sql.Tx, addr string) (escrowRow, error) {
	var row escrowRow
	var st string
	err := tx.QueryRowContext(ctx,
		`SELECT status, approvals_required, approvals_count FROM escrows WHERE escrow_address = $1 FOR UPDATE`,
		addr,
	).Scan(&st, &row.approvalsRequired, &row.approvalsCount)
	switch {
	case err == sql.ErrNoRows:
		return escrowRow{}, nil
	case err != nil:
		return escrowRow{}, err
	}
	row.exists = true
	row.status = parseStatus(st)
	return row, nil
}

func insertEventRow(ctx context.Context, tx *sql.Tx, ev chainevents.Event, escrowAddr string) (bool, error) {
	payload, err := codec.Encode(ev)
	if err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO escrow_events
			(event_id, event_type, chain_id, block_number, block_hash, tx_hash, log_index,
			 block_timestamp, contract_address, escrow_address, payload, outcome)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,'pending')
		ON CONFLICT (event_id) DO NOTHING`,
		ev.EventID, string(ev.EventType), ev.ChainID, ev.BlockNumber, ev.BlockHash, ev.TxHash, ev.LogIndex,
		ev.BlockTimestamp, ev.ContractAddress, escrowAddr, payload,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func setEventOutcome(ctx context.Context, tx *sql.Tx, eventID string, outcome Outcome) error {
	_, err := tx.ExecContext(ctx, `UPDATE escrow_events SET outcome = $1 WHERE event_id = $2`, string(outcome), eventID)
	return err
}

// upsertMinimalRow ensures an escrows row exists so queries (and FOR UPDATE
// locks on replay) find it, without overwriting fields the caller doesn't
// know yet.
func upsertMinimalRow(ctx context.Context, tx *sql.Tx, addr string, chainID int64, initial status) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO escrows (escrow_address, chain_id, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (escrow_address) DO NOTHING`,
		addr, chainID, initial.String())
	return err
}

func applyTransition(ctx context.Context, tx *sql.Tx, ev chainevents.Event, addr string, cur escrowRow) (Outcome, error) {
	switch p := ev.Payload.(type) {
	case chainevents.PayloadEscrowDeployed:
		return applyDeployed(ctx, tx, ev, addr, p, cur)
	case chainevents.PayloadEscrowCreated:
		return applyCreated(ctx, tx, ev, addr, p, cur)
	case chainevents.PayloadApproved:
		return applyApproved(ctx, tx, ev, addr, p, cur)
	case chainevents.PayloadEscrowReleased:
		return applyReleased(ctx, tx, ev, addr, p, cur)
	case chainevents.PayloadEscrowRefunded:
		return applyRefunded(ctx, tx, ev, addr, p, cur)
	default:
		return Rejected, fmt.Errorf("unhandled payload type %T", p)
	}
}

func applyDeployed(ctx context.Context, tx *sql.Tx, ev chainevents.Event, addr string, p chainevents.PayloadEscrowDeployed, cur escrowRow) (Outcome, error) {
	if !cur.exists {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO escrows (escrow_address, chain_id, factory_address, status, last_event_block, last_event_log_idx)
			VALUES ($1,$2,$3,'deployed',$4,$5)`,
			addr, ev.ChainID, p.FactoryAddress, ev.BlockNumber, ev.LogIndex)
		if err != nil {
			return "", err
		}
		return Applied, nil
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE escrows SET factory_address = COALESCE(factory_address, $2), updated_at = now()
		WHERE escrow_address = $1`, addr, p.FactoryAddress)
	if err != nil {
		return "", err
	}
	return Applied, nil
}

func applyCreated(ctx context.Context, tx *sql.Tx, ev chainevents.Event, addr string, p chainevents.PayloadEscrowCreated, cur escrowRow) (Outcome, error) {
	if cur.exists && cur.status > statusCreated {
		return Rejected, nil
	}

	approvalsCount := cur.approvalsCount
	nextStatus := statusCreated
	if int32(p.ApprovalsRequired) != 0 && approvalsCount >= int32(p.ApprovalsRequired) {
		nextStatus = statusApproved
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO escrows
			(escrow_address, chain_id, payer, payee, arbiter, amount, asset,
			 release_delay_secs, approvals_required, status, last_event_block, last_event_log_idx)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (escrow_address) DO UPDATE SET
			payer = EXCLUDED.payer, payee = EXCLUDED.payee, arbiter = EXCLUDED.arbiter,
			amount = EXCLUDED.amount, asset = EXCLUDED.asset,
			release_delay_secs = EXCLUDED.release_delay_secs,
			approvals_required = EXCLUDED.approvals_required,
			status = EXCLUDED.status,
			last_event_block = EXCLUDED.last_event_block,
			last_event_log_idx = EXCLUDED.last_event_log_idx,
			updated_at = now()`,
		addr, ev.ChainID, p.Payer, p.Payee, p.Arbiter, p.Amount, p.Asset,
		p.ReleaseDelaySeconds, p.ApprovalsRequired, nextStatus.String(), ev.BlockNumber, ev.LogIndex)
	if err != nil {
		return "", err
	}
	return Applied, nil
}

func applyApproved(ctx context.Context, tx *sql.Tx, ev chainevents.Event, addr string, p chainevents.PayloadApproved, cur escrowRow) (Outcome, error) {
	curStatus := cur.status
	if !cur.exists {
		if err := upsertMinimalRow(ctx, tx, addr, ev.ChainID, statusDeployed); err != nil {
			return "", err
		}
		curStatus = statusDeployed
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO approvals (escrow_address, approver) VALUES ($1,$2)
		ON CONFLICT (escrow_address, approver) DO NOTHING`, addr, p.Approver); err != nil {
		return "", err
	}

	var count int32
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM approvals WHERE escrow_address = $1`, addr).Scan(&count); err != nil {
		return "", err
	}

	newStatus := curStatus
	if curStatus == statusCreated && cur.approvalsRequired.Valid && count >= cur.approvalsRequired.Int32 {
		newStatus = statusApproved
	}

	_, err := tx.ExecContext(ctx, `
		UPDATE escrows SET approvals_count = $2, status = $3, last_event_block = $4, last_event_log_idx = $5, updated_at = now()
		WHERE escrow_address = $1`, addr, count, newStatus.String(), ev.BlockNumber, ev.LogIndex)
	if err != nil {
		return "", err
	}
	return Applied, nil
}

func applyReleased(ctx context.Context, tx *sql.Tx, ev chainevents.Event, addr string, p chainevents.PayloadEscrowReleased, cur escrowRow) (Outcome, error) {
	if cur.exists && cur.status.terminal() {
		return Rejected, nil
	}
	if !cur.exists || cur.status != statusApproved {
		if !cur.exists {
			if err := upsertMinimalRow(ctx, tx, addr, ev.ChainID, statusDeployed); err != nil {
				return "", err
			}
		}
		return OutOfOrderBuffered, nil
	}

	_, err := tx.ExecContext(ctx, `
		UPDATE escrows SET status = 'released', amount = COALESCE(amount, $2), last_event_block = $3, last_event_log_idx = $4, updated_at = now()
		WHERE escrow_address = $1`, addr, p.Amount, ev.BlockNumber, ev.LogIndex)
	if err != nil {
		return "", err
	}
	return Applied, nil
}

func applyRefunded(ctx context.Context, tx *sql.Tx, ev chainevents.Event, addr string, p chainevents.PayloadEscrowRefunded, cur escrowRow) (Outcome, error) {
	if cur.exists && cur.status.terminal() {
		return Rejected, nil
	}
	if !cur.exists || (cur.status != statusApproved && cur.status != statusCreated) {
		if !cur.exists {
			if err := upsertMinimalRow(ctx, tx, addr, ev.ChainID, statusDeployed); err != nil {
				return "", err
			}
		}
		return OutOfOrderBuffered, nil
	}

	_, err := tx.ExecContext(ctx, `
		UPDATE escrows SET status = 'refunded', amount = COALESCE(amount, $2), last_event_block = $3, last_event_log_idx = $4, updated_at = now()
		WHERE escrow_address = $1`, addr, p.Amount, ev.BlockNumber, ev.LogIndex)
	if err != nil {
		return "", err
	}
	return Applied, nil
}
