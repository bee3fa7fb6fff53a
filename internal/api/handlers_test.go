package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewServer(db, nil, nil, 0), mock
}

func TestHandleByRole_InvalidAddressReturns400(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/escrows/by-payer/not-an-address", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleByRole_ReturnsEnvelope(t *testing.T) {
	s, mock := newTestServer(t)
	addr := "0x111111111111111111111111111111111111111e"

	rows := sqlmock.NewRows([]string{
		"escrow_address", "chain_id", "factory_address", "payer", "payee", "arbiter",
		"amount", "asset", "approvals_required", "approvals_count", "status", "last_event_block",
	}).AddRow(addr, int64(1), "0xf", addr, "0xb", "0xc", "1000", "0x0", 2, 1, "created", uint64(10))

	mock.ExpectQuery("SELECT .* FROM escrows WHERE payer").WillReturnRows(rows)

	req := httptest.NewRequest(http.MethodGet, "/escrows/by-payer/"+addr, nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var body envelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Meta.Count)
}

func TestHandleByRole_CursorAppliesRowValueFilter(t *testing.T) {
	s, mock := newTestServer(t)
	addr := "0x111111111111111111111111111111111111111e"

	rows := sqlmock.NewRows([]string{
		"escrow_address", "chain_id", "factory_address", "payer", "payee", "arbiter",
		"amount", "asset", "approvals_required", "approvals_count", "status", "last_event_block",
	}).AddRow(addr, int64(1), "0xf", addr, "0xb", "0xc", "1000", "0x0", 2, 1, "created", uint64(5))

	mock.ExpectQuery(`SELECT .* FROM escrows WHERE payer = \$1 AND \(last_event_block, escrow_address\) < \(\$2, \$3\) ORDER BY .* LIMIT \$4`).
		WillReturnRows(rows)

	cursor := encodeCursor(10, addr)
	req := httptest.NewRequest(http.MethodGet, "/escrows/by-payer/"+addr+"?cursor="+cursor, nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleGetEscrow_NotFound(t *testing.T) {
	s, mock := newTestServer(t)
	addr := "0x222222222222222222222222222222222222222f"

	rows := sqlmock.NewRows([]string{
		"escrow_address", "chain_id", "factory_address", "payer", "payee", "arbiter",
		"amount", "asset", "approvals_required", "approvals_count", "status", "last_event_block",
	})
	mock.ExpectQuery("SELECT .* FROM escrows WHERE escrow_address").WillReturnRows(rows)

	req := httptest.NewRequest(http.MethodGet, "/escrows/"+addr, nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}
