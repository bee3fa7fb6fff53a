package database

// schemaSQL holds the projection store's tables: escrows (current
// projected state), approvals (per-approver rows), escrow_events
// (append-only ledger for replay/audit), and checkpoints (one row per
// chain, the Tailer's durable cursor).
const schemaSQL = `
CREATE TABLE IF NOT EXISTS escrows (
	escrow_address     TEXT PRIMARY KEY,
	chain_id           BIGINT NOT NULL,
	factory_address    TEXT,
	payer              TEXT,
	payee              TEXT,
	arbiter            TEXT,
	amount             NUMERIC(78,0),
	asset              TEXT,
	release_delay_secs BIGINT,
	approvals_required INTEGER,
	approvals_count    INTEGER NOT NULL DEFAULT 0,
	status             TEXT NOT NULL DEFAULT 'deployed',
	last_event_block   BIGINT NOT NULL DEFAULT 0,
	last_event_log_idx INTEGER NOT NULL DEFAULT 0,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_escrows_payer_status ON escrows (payer, status);
CREATE INDEX IF NOT EXISTS idx_escrows_payee_status ON escrows (payee, status);
CREATE INDEX IF NOT EXISTS idx_escrows_arbiter_status ON escrows (arbiter, status);
CREATE INDEX IF NOT EXISTS idx_escrows_status ON escrows (status);
CREATE INDEX IF NOT EXISTS idx_escrows_cursor ON escrows (last_event_block, escrow_address);

CREATE TABLE IF NOT EXISTS approvals (
	escrow_address TEXT NOT NULL REFERENCES escrows (escrow_address),
	approver       TEXT NOT NULL,
	approved_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (escrow_address, approver)
);

CREATE TABLE IF NOT EXISTS escrow_events (
	event_id         TEXT PRIMARY KEY,
	event_type       TEXT NOT NULL,
	chain_id         BIGINT NOT NULL,
	block_number     BIGINT NOT NULL,
	block_hash       TEXT NOT NULL,
	tx_hash          TEXT NOT NULL,
	log_index        INTEGER NOT NULL,
	block_timestamp  BIGINT NOT NULL,
	contract_address TEXT NOT NULL,
	escrow_address   TEXT,
	payload          JSONB NOT NULL,
	outcome          TEXT NOT NULL,
	received_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_escrow_events_escrow ON escrow_events (escrow_address, block_number, log_index);
CREATE INDEX IF NOT EXISTS idx_escrow_events_chain_block ON escrow_events (chain_id, block_number, log_index);

CREATE TABLE IF NOT EXISTS checkpoints (
	chain_id     BIGINT PRIMARY KEY,
	block_number BIGINT NOT NULL,
	log_index    INTEGER NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
`
