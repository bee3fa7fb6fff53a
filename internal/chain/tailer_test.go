package chain

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/escrow-indexer/internal/chainevents"
)

type fakeClient struct {
	head    uint64
	logs    []types.Log
	headers map[uint64]*types.Header
}

func (f *fakeClient) BlockNumber(ctx context.Context) (uint64, error) {
	return f.head, nil
}

func (f *fakeClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	var out []types.Log
	from := q.FromBlock.Uint64()
	to := q.ToBlock.Uint64()
	for _, l := range f.logs {
		if l.BlockNumber >= from && l.BlockNumber <= to {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	if h, ok := f.headers[number.Uint64()]; ok {
		return h, nil
	}
	return &types.Header{Number: number, Time: 1700000000}, nil
}

type fakePublisher struct {
	mu        sync.Mutex
	published []chainevents.Event
}

func (p *fakePublisher) Publish(ctx context.Context, e chainevents.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, e)
	return nil
}

type fakeCheckpointStore struct {
	mu    sync.Mutex
	saved []Checkpoint
	cp    Checkpoint
}

func (s *fakeCheckpointStore) Load(ctx context.Context, chainID int64) (Checkpoint, error) {
	return s.cp, nil
}

func (s *fakeCheckpointStore) Save(ctx context.Context, cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cp = cp
	s.saved = append(s.saved, cp)
	return nil
}

func escrowDeployedLog(t *testing.T, blockNumber uint64, logIndex uint) types.Log {
	t.Helper()
	addrTy, err := abi.NewType("address", "", nil)
	require.NoError(t, err)

	escrow := common.HexToAddress("0x1111111111111111111111111111111111111e")
	factory := common.HexToAddress("0x2222222222222222222222222222222222222f")
	creator := common.HexToAddress("0x3333333333333333333333333333333333333c")

	data, err := abi.Arguments{{Type: addrTy}}.Pack(creator)
	require.NoError(t, err)

	topic0 := crypto.Keccak256Hash([]byte("EscrowDeployed(address,address,address)"))

	return types.Log{
		Address: common.HexToAddress("0xfeed000000000000000000000000000000feed"),
		Topics: []common.Hash{
			topic0,
			common.BytesToHash(escrow.Bytes()),
			common.BytesToHash(factory.Bytes()),
		},
		Data:        data,
		BlockNumber: blockNumber,
		Index:       logIndex,
		BlockHash:   common.HexToHash("0xblockhash"),
		TxHash:      common.HexToHash("0xtxhash"),
	}
}

func TestTailer_Tick_PublishesAndAdvancesCheckpoint(t *testing.T) {
	client := &fakeClient{
		head:    20,
		logs:    []types.Log{escrowDeployedLog(t, 10, 0)},
		headers: map[uint64]*types.Header{},
	}
	pub := &fakePublisher{}
	store := &fakeCheckpointStore{}

	tailer := New(Config{
		ChainID:           1,
		ContractAddresses: []common.Address{common.HexToAddress("0xfeed000000000000000000000000000000feed")},
		ConfirmationDepth: 5,
		MaxWindowBlocks:   2000,
		RPCTimeout:        0,
	}, client, pub, store, nil)

	cp := Checkpoint{ChainID: 1}
	advanced, err := tailer.tick(context.Background(), &cp)
	require.NoError(t, err)
	assert.True(t, advanced)

	require.Len(t, pub.published, 1)
	assert.Equal(t, chainevents.TypeEscrowDeployed, pub.published[0].EventType)

	// Safe head is 20-5=15, so the checkpoint lands on the last log's block
	// (10), then the trailing window-advance step bumps it to 15 with
	// log_index reset to 0.
	assert.Equal(t, uint64(15), store.cp.BlockNumber)
	assert.Equal(t, uint(0), store.cp.LogIndex)
}

func TestTailer_Tick_NoProgressBelowConfirmationDepth(t *testing.T) {
	client := &fakeClient{head: 3}
	pub := &fakePublisher{}
	store := &fakeCheckpointStore{}

	tailer := New(Config{ChainID: 1, ConfirmationDepth: 12, MaxWindowBlocks: 2000}, client, pub, store, nil)

	cp := Checkpoint{ChainID: 1}
	advanced, err := tailer.tick(context.Background(), &cp)
	require.NoError(t, err)
	assert.False(t, advanced)
	assert.Empty(t, pub.published)
}

func TestTailer_Tick_RemovedLogIsFatal(t *testing.T) {
	removed := escrowDeployedLog(t, 10, 0)
	removed.Removed = true

	client := &fakeClient{head: 20, logs: []types.Log{removed}}
	pub := &fakePublisher{}
	store := &fakeCheckpointStore{}

	tailer := New(Config{ChainID: 1, ConfirmationDepth: 5, MaxWindowBlocks: 2000}, client, pub, store, nil)

	cp := Checkpoint{ChainID: 1}
	_, err := tailer.tick(context.Background(), &cp)
	var reorg *ErrDeepReorg
	assert.ErrorAs(t, err, &reorg)
}

func TestTailer_Tick_StandbyDoesNotPublish(t *testing.T) {
	client := &fakeClient{head: 20, logs: []types.Log{escrowDeployedLog(t, 10, 0)}}
	pub := &fakePublisher{}
	store := &fakeCheckpointStore{}

	tailer := New(Config{ChainID: 1, ConfirmationDepth: 5, MaxWindowBlocks: 2000, StandbyNoPublish: true}, client, pub, store, nil)

	cp := Checkpoint{ChainID: 1}
	advanced, err := tailer.tick(context.Background(), &cp)
	require.NoError(t, err)
	assert.True(t, advanced)
	assert.Empty(t, pub.published)
}

type fakeLagRecorder struct {
	mu         sync.Mutex
	chainID    int64
	lastBlocks int64
}

func (f *fakeLagRecorder) RecordLag(chainID int64, lagBlocks int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chainID = chainID
	f.lastBlocks = lagBlocks
}

func TestTailer_Tick_RecordsLagEveryPoll(t *testing.T) {
	client := &fakeClient{head: 20}
	pub := &fakePublisher{}
	store := &fakeCheckpointStore{}
	lag := &fakeLagRecorder{}

	tailer := New(Config{ChainID: 7, ConfirmationDepth: 5, MaxWindowBlocks: 2000}, client, pub, store, lag)

	cp := Checkpoint{ChainID: 7, BlockNumber: 8}
	_, err := tailer.tick(context.Background(), &cp)
	require.NoError(t, err)

	assert.Equal(t, int64(7), lag.chainID)
	assert.Equal(t, int64(12), lag.lastBlocks)
}
