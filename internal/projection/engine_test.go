package projection

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/escrow-indexer/internal/chainevents"
)

func newDeployedEvent() chainevents.Event {
	return chainevents.Event{
		Envelope: chainevents.Envelope{
			EventID:         "0xevent1",
			EventType:       chainevents.TypeEscrowDeployed,
			ChainID:         1,
			BlockNumber:     10,
			BlockHash:       "0xblock",
			TxHash:          "0xtx",
			LogIndex:        0,
			BlockTimestamp:  1700000000,
			ContractAddress: "0xfeed",
		},
		Payload: chainevents.PayloadEscrowDeployed{
			EscrowAddress:  "0xe1",
			FactoryAddress: "0xf1",
			Creator:        "0xc1",
		},
	}
}

func TestEngine_Apply_DuplicateIsSkipped(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO escrow_events").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	eng := New(db)
	outcome, err := eng.Apply(context.Background(), newDeployedEvent())
	require.NoError(t, err)
	assert.Equal(t, SkippedDuplicate, outcome)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEngine_Apply_NewDeployInsertsEscrowRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO escrow_events").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT status, approvals_required, approvals_count FROM escrows").
		WithArgs("0xe1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO escrows").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE escrow_events SET outcome").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT event_id, payload FROM escrow_events").
		WithArgs("0xe1").
		WillReturnRows(sqlmock.NewRows([]string{"event_id", "payload"}))
	mock.ExpectCommit()

	eng := New(db)
	outcome, err := eng.Apply(context.Background(), newDeployedEvent())
	require.NoError(t, err)
	assert.Equal(t, Applied, outcome)
	require.NoError(t, mock.ExpectationsWereMet())
}
