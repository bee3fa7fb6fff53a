package codec

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/escrow-indexer/internal/chainevents"
)

func packLog(t *testing.T, sig string, indexedAddrs []common.Address, dataArgs []interface{}) types.Log {
	t.Helper()
	desc := findDescriptor(t, sig)

	topics := []common.Hash{desc.topic0}
	for _, a := range indexedAddrs {
		topics = append(topics, common.BytesToHash(a.Bytes()))
	}

	data, err := desc.data.Pack(dataArgs...)
	require.NoError(t, err)

	return types.Log{
		Address:     common.HexToAddress("0xfeed000000000000000000000000000000feed"),
		Topics:      topics,
		Data:        data,
		BlockNumber: 100,
		TxHash:      common.HexToHash("0xaaaa"),
		BlockHash:   common.HexToHash("0xbbbb"),
		Index:       3,
	}
}

func findDescriptor(t *testing.T, sig string) *eventDescriptor {
	t.Helper()
	h := signatureHash(sig)
	d, ok := registry[h]
	require.True(t, ok, "signature not registered: %s", sig)
	return d
}

func TestDecodeLog_EscrowDeployed(t *testing.T) {
	escrow := common.HexToAddress("0x111111111111111111111111111111111111111e")
	factory := common.HexToAddress("0x222222222222222222222222222222222222222f")
	creator := common.HexToAddress("0x333333333333333333333333333333333333333c")

	log := packLog(t, "EscrowDeployed(address,address,address)", []common.Address{escrow, factory}, []interface{}{creator})

	ev, err := DecodeLog(log, 11155111, 1730000000)
	require.NoError(t, err)
	assert.Equal(t, chainevents.TypeEscrowDeployed, ev.EventType)

	payload, ok := ev.Payload.(chainevents.PayloadEscrowDeployed)
	require.True(t, ok)
	assert.Equal(t, "0x111111111111111111111111111111111111111e", payload.EscrowAddress)
	assert.Equal(t, "0x222222222222222222222222222222222222222f", payload.FactoryAddress)
	assert.Equal(t, "0x333333333333333333333333333333333333333c", payload.Creator)
	assert.NotEmpty(t, ev.EventID)
}

func TestDecodeLog_UnknownTopic(t *testing.T) {
	log := types.Log{Topics: []common.Hash{common.HexToHash("0xdeadbeef")}}
	_, err := DecodeLog(log, 1, 0)
	var unknown *ErrUnknownEvent
	assert.ErrorAs(t, err, &unknown)
}

func TestEncodeDecodeWire_RoundTrip(t *testing.T) {
	original := chainevents.Event{
		Envelope: chainevents.Envelope{
			EventID:         "0xabc",
			EventType:       chainevents.TypeEscrowCreated,
			ChainID:         11155111,
			BlockNumber:     4567890,
			BlockHash:       "0xblock",
			BlockTimestamp:  1730000000,
			TxHash:          "0xtx",
			LogIndex:        3,
			ContractAddress: "0xcontract",
		},
		Payload: chainevents.PayloadEscrowCreated{
			EscrowAddress:       "0xe1",
			Payer:               "0xa",
			Payee:               "0xb",
			Arbiter:             "0xc",
			Amount:              "1000000000000000000",
			Asset:               "0x0000000000000000000000000000000000000000",
			ReleaseDelaySeconds: 86400,
			ApprovalsRequired:   2,
		},
	}

	data, err := Encode(original)
	require.NoError(t, err)

	decoded, err := DecodeWire(data)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestDecodeWire_UnknownType(t *testing.T) {
	_, err := DecodeWire([]byte(`{"event_type":"UnknownThing","payload":{}}`))
	assert.Error(t, err)
}

func TestEventID_Deterministic(t *testing.T) {
	a := EventID(1, "0xblock", 3)
	b := EventID(1, "0xblock", 3)
	c := EventID(1, "0xblock", 4)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

// signatureHash duplicates mustRegister's hashing so tests can look a
// descriptor up by its human-readable signature without exporting the map.
func signatureHash(sig string) common.Hash {
	return crypto.Keccak256Hash([]byte(sig))
}
