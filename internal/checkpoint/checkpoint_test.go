package checkpoint

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/escrow-indexer/internal/chain"
)

func TestStore_Load_NoRowsReturnsZeroValue(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT block_number, log_index FROM checkpoints WHERE chain_id = \$1`).
		WithArgs(int64(1)).
		WillReturnError(sql.ErrNoRows)

	s := New(db)
	cp, err := s.Load(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), cp.BlockNumber)
	assert.Equal(t, int64(1), cp.ChainID)
}

func TestStore_Load_ReturnsExistingCheckpoint(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"block_number", "log_index"}).AddRow(int64(100), 2)
	mock.ExpectQuery(`SELECT block_number, log_index FROM checkpoints WHERE chain_id = \$1`).
		WithArgs(int64(7)).
		WillReturnRows(rows)

	s := New(db)
	cp, err := s.Load(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), cp.BlockNumber)
	assert.Equal(t, uint(2), cp.LogIndex)
}

func TestStore_Save_UpsertsCheckpoint(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO checkpoints`).
		WithArgs(int64(1), uint64(50), uint(0)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := New(db)
	err = s.Save(context.Background(), chain.Checkpoint{ChainID: 1, BlockNumber: 50, LogIndex: 0})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
