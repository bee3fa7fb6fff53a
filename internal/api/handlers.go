package api

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

var addrPattern = regexp.MustCompile(`^0x[0-9a-f]{40}$`)

func normalizeAddr(raw string) (string, bool) {
	a := strings.ToLower(raw)
	if !addrPattern.MatchString(a) {
		return "", false
	}
	return a, true
}

// Escrow mirrors one row of the escrows table for API responses.
type Escrow struct {
	EscrowAddress     string `json:"escrow_address"`
	ChainID           int64  `json:"chain_id"`
	FactoryAddress    string `json:"factory_address,omitempty"`
	Payer             string `json:"payer,omitempty"`
	Payee             string `json:"payee,omitempty"`
	Arbiter           string `json:"arbiter,omitempty"`
	Amount            string `json:"amount,omitempty"`
	Asset             string `json:"asset,omitempty"`
	ApprovalsRequired int32  `json:"approvals_required,omitempty"`
	ApprovalsCount    int32  `json:"approvals_count"`
	Status            string `json:"status"`
	LastEventBlock    uint64 `json:"last_event_block"`
}

func scanEscrow(rows *sql.Rows) (Escrow, error) {
	var e Escrow
	var factory, payer, payee, arbiter, amount, asset sql.NullString
	var approvalsRequired sql.NullInt32
	err := rows.Scan(
		&e.EscrowAddress, &e.ChainID, &factory, &payer, &payee, &arbiter,
		&amount, &asset, &approvalsRequired, &e.ApprovalsCount, &e.Status, &e.LastEventBlock,
	)
	if err != nil {
		return Escrow{}, err
	}
	e.FactoryAddress = factory.String
	e.Payer = payer.String
	e.Payee = payee.String
	e.Arbiter = arbiter.String
	e.Amount = amount.String
	e.Asset = asset.String
	e.ApprovalsRequired = approvalsRequired.Int32
	return e, nil
}

const escrowColumns = `escrow_address, chain_id, factory_address, payer, payee, arbiter,
	amount, asset, approvals_required, approvals_count, status, last_event_block`

func parseLimit(r *http.Request) int {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}
	return limit
}

// cursor is the decoded form of the opaque ?cursor= query parameter: a
// keyset pagination position on (last_event_block, escrow_address), the
// same pair idx_escrows_cursor is built on.
type cursor struct {
	blockNumber uint64
	addr        string
}

// encodeCursor turns the last row of a page into an opaque token for the
// next page's ?cursor=.
func encodeCursor(blockNumber uint64, addr string) string {
	raw := fmt.Sprintf("%d:%s", blockNumber, addr)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// parseCursor reads ?cursor= off the request. An absent or malformed
// cursor is treated as "start from the top" rather than an error, since a
// stale or hand-edited cursor shouldn't 400 a client off a list endpoint.
func parseCursor(r *http.Request) (cursor, bool) {
	raw := r.URL.Query().Get("cursor")
	if raw == "" {
		return cursor{}, false
	}
	decoded, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return cursor{}, false
	}
	block, addr, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return cursor{}, false
	}
	blockNumber, err := strconv.ParseUint(block, 10, 64)
	if err != nil {
		return cursor{}, false
	}
	normAddr, ok := normalizeAddr(addr)
	if !ok {
		return cursor{}, false
	}
	return cursor{blockNumber: blockNumber, addr: normAddr}, true
}

func (s *Server) listByRole(ctx context.Context, role, addr, statusFilter string, limit int, after cursor, hasCursor bool) ([]Escrow, error) {
	col := map[string]string{"payer": "payer", "payee": "payee", "arbiter": "arbiter"}[role]
	query := fmt.Sprintf(`SELECT %s FROM escrows WHERE %s = $1`, escrowColumns, col)
	args := []interface{}{addr}

	if statusFilter != "" {
		args = append(args, statusFilter)
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	if hasCursor {
		args = append(args, after.blockNumber, after.addr)
		query += fmt.Sprintf(` AND (last_event_block, escrow_address) < ($%d, $%d)`, len(args)-1, len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY last_event_block DESC, escrow_address DESC LIMIT $%d`, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Escrow
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Server) handleByRole(role string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr, ok := normalizeAddr(mux.Vars(r)["addr"])
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_address", "address must be 0x-prefixed 20-byte hex")
			return
		}
		limit := parseLimit(r)
		after, hasCursor := parseCursor(r)

		cacheKey := fmt.Sprintf("by-%s:%s:%s:%d:%s", role, addr, r.URL.Query().Get("status"), limit, r.URL.Query().Get("cursor"))
		var cached []Escrow
		if s.cache.GetJSON(r.Context(), cacheKey, &cached) {
			writeJSONCursor(w, http.StatusOK, cached, len(cached), nextCursor(cached, limit))
			return
		}

		escrows, err := s.listByRole(r.Context(), role, addr, r.URL.Query().Get("status"), limit, after, hasCursor)
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database unreachable")
			return
		}
		if escrows == nil {
			escrows = []Escrow{}
		}
		s.cache.SetJSON(r.Context(), cacheKey, escrows)
		writeJSONCursor(w, http.StatusOK, escrows, len(escrows), nextCursor(escrows, limit))
	}
}

// nextCursor returns the cursor for the page after page, or "" when page
// came back short of limit — a full signal that there is nothing left.
func nextCursor(page []Escrow, limit int) string {
	if len(page) < limit {
		return ""
	}
	last := page[len(page)-1]
	return encodeCursor(last.LastEventBlock, last.EscrowAddress)
}

// handleByRoleAggregate returns the union of rows where addr is the
// payer, payee, or arbiter, partitioned by role.
func (s *Server) handleByRoleAggregate(w http.ResponseWriter, r *http.Request) {
	addr, ok := normalizeAddr(mux.Vars(r)["addr"])
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_address", "address must be 0x-prefixed 20-byte hex")
		return
	}
	limit := parseLimit(r)
	after, hasCursor := parseCursor(r)

	asPayer, err := s.listByRole(r.Context(), "payer", addr, "", limit, after, hasCursor)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database unreachable")
		return
	}
	asPayee, err := s.listByRole(r.Context(), "payee", addr, "", limit, after, hasCursor)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database unreachable")
		return
	}
	asArbiter, err := s.listByRole(r.Context(), "arbiter", addr, "", limit, after, hasCursor)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database unreachable")
		return
	}

	result := map[string]interface{}{
		"as_payer":   nonNil(asPayer),
		"as_payee":   nonNil(asPayee),
		"as_arbiter": nonNil(asArbiter),
	}
	writeJSON(w, http.StatusOK, result, len(asPayer)+len(asPayee)+len(asArbiter))
}

func nonNil(e []Escrow) []Escrow {
	if e == nil {
		return []Escrow{}
	}
	return e
}

func (s *Server) handleGetEscrow(w http.ResponseWriter, r *http.Request) {
	addr, ok := normalizeAddr(mux.Vars(r)["addr"])
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_address", "address must be 0x-prefixed 20-byte hex")
		return
	}

	rows, err := s.db.QueryContext(r.Context(),
		fmt.Sprintf(`SELECT %s FROM escrows WHERE escrow_address = $1`, escrowColumns), addr)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database unreachable")
		return
	}
	defer rows.Close()

	if !rows.Next() {
		writeError(w, http.StatusNotFound, "not_found", "escrow not found")
		return
	}
	e, err := scanEscrow(rows)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database unreachable")
		return
	}
	writeJSON(w, http.StatusOK, e, 1)
}

type Approval struct {
	Approver   string    `json:"approver"`
	ApprovedAt time.Time `json:"approved_at"`
}

func (s *Server) handleApprovals(w http.ResponseWriter, r *http.Request) {
	addr, ok := normalizeAddr(mux.Vars(r)["addr"])
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_address", "address must be 0x-prefixed 20-byte hex")
		return
	}

	rows, err := s.db.QueryContext(r.Context(),
		`SELECT approver, approved_at FROM approvals WHERE escrow_address = $1 ORDER BY approved_at ASC`, addr)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database unreachable")
		return
	}
	defer rows.Close()

	var out []Approval
	for rows.Next() {
		var a Approval
		if err := rows.Scan(&a.Approver, &a.ApprovedAt); err != nil {
			writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database unreachable")
			return
		}
		out = append(out, a)
	}
	if out == nil {
		out = []Approval{}
	}
	writeJSON(w, http.StatusOK, out, len(out))
}

type EscrowEvent struct {
	EventID     string          `json:"event_id"`
	EventType   string          `json:"event_type"`
	BlockNumber uint64          `json:"block_number"`
	LogIndex    int             `json:"log_index"`
	Outcome     string          `json:"outcome"`
	ReceivedAt  time.Time       `json:"received_at"`
	Payload     json.RawMessage `json:"payload"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	addr, ok := normalizeAddr(mux.Vars(r)["addr"])
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_address", "address must be 0x-prefixed 20-byte hex")
		return
	}

	rows, err := s.db.QueryContext(r.Context(), `
		SELECT event_id, event_type, block_number, log_index, outcome, received_at, payload
		FROM escrow_events WHERE escrow_address = $1
		ORDER BY block_number ASC, log_index ASC`, addr)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database unreachable")
		return
	}
	defer rows.Close()

	var out []EscrowEvent
	for rows.Next() {
		var e EscrowEvent
		if err := rows.Scan(&e.EventID, &e.EventType, &e.BlockNumber, &e.LogIndex, &e.Outcome, &e.ReceivedAt, &e.Payload); err != nil {
			writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database unreachable")
			return
		}
		out = append(out, e)
	}
	if out == nil {
		out = []EscrowEvent{}
	}
	writeJSON(w, http.StatusOK, out, len(out))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.QueryContext(r.Context(), `SELECT status, COUNT(*) FROM escrows GROUP BY status`)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database unreachable")
		return
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database unreachable")
			return
		}
		counts[status] = count
	}
	writeJSON(w, http.StatusOK, counts, len(counts))
}

func (s *Server) handleHealth(staleThreshold time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		dbOK := s.db.PingContext(ctx) == nil
		brokerOK := s.health == nil || s.health.BrokerHealthy()

		staleOK := true
		if s.health != nil {
			if age, hasEvents := s.health.LastAppliedAge(); hasEvents {
				staleOK = age <= staleThreshold
			}
		}

		status := map[string]interface{}{
			"db_ok":     dbOK,
			"broker_ok": brokerOK,
			"stale_ok":  staleOK,
		}

		if dbOK && brokerOK && staleOK {
			writeJSON(w, http.StatusOK, status, 1)
			return
		}
		writeJSON(w, http.StatusServiceUnavailable, status, 1)
	}
}
