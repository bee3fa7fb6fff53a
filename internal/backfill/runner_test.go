package backfill

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
	"github.com/ocx/escrow-indexer/internal/projection"
)

type fakeClient struct {
	head uint64
	logs []types.Log
	errN int // number of calls that fail before succeeding, for batch-halving test
	call int
}

func (f *fakeClient) BlockNumber(ctx context.Context) (uint64, error) {
	return f.head, nil
}

func (f *fakeClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.call++
	if f.call <= f.errN {
		return nil, assertErr
	}
	from := q.FromBlock.Uint64()
	to := q.ToBlock.Uint64()
	var out []types.Log
	for _, l := range f.logs {
		if l.BlockNumber >= from && l.BlockNumber <= to {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{Number: number, Time: 1700000000}, nil
}

var assertErr = &rpcFailure{}

type rpcFailure struct{}

func (*rpcFailure) Error() string { return "rpc: simulated failure" }

type fakeProjector struct {
	mu      sync.Mutex
	applied []chainevents.Event
}

func (p *fakeProjector) Apply(ctx context.Context, ev chainevents.Event) (projection.Outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applied = append(p.applied, ev)
	return projection.Applied, nil
}

func deployedLog(t *testing.T, block uint64, idx uint) types.Log {
	t.Helper()
	addrTy, err := abi.NewType("address", "", nil)
	require.NoError(t, err)

	creator := common.HexToAddress("0x3333333333333333333333333333333333333c")
	data, err := abi.Arguments{{Type: addrTy}}.Pack(creator)
	require.NoError(t, err)

	topic0 := crypto.Keccak256Hash([]byte("EscrowDeployed(address,address,address)"))
	return types.Log{
		Address: common.HexToAddress("0xfeed000000000000000000000000000000feed"),
		Topics: []common.Hash{
			topic0,
			common.BytesToHash(common.HexToAddress("0x1111111111111111111111111111111111111e").Bytes()),
			common.BytesToHash(common.HexToAddress("0x2222222222222222222222222222222222222f").Bytes()),
		},
		Data:        data,
		BlockNumber: block,
		Index:       idx,
		BlockHash:   common.HexToHash("0xblockhash"),
		TxHash:      common.HexToHash("0xtxhash"),
	}
}

func TestRunner_Run_AppliesDecodedEventsDirectly(t *testing.T) {
	client := &fakeClient{head: 100, logs: []types.Log{deployedLog(t, 50, 0)}}
	proj := &fakeProjector{}
	r := New(client, proj)

	res, err := r.Run(context.Background(), Config{ChainID: 1, FromBlock: 0, ToBlock: 100})
	require.NoError(t, err)
	assert.Equal(t, 1, res.LogsDecoded)
	assert.Len(t, proj.applied, 1)
	assert.Equal(t, 1, res.Outcomes[string(projection.Applied)])
}

func TestRunner_Run_DryRunDoesNotApply(t *testing.T) {
	client := &fakeClient{head: 100, logs: []types.Log{deployedLog(t, 50, 0)}}
	proj := &fakeProjector{}
	r := New(client, proj)

	res, err := r.Run(context.Background(), Config{ChainID: 1, FromBlock: 0, ToBlock: 100, DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.LogsDecoded)
	assert.Empty(t, proj.applied)
	assert.Equal(t, 1, res.Outcomes["EscrowDeployed"])
}

func TestRunner_Run_SkipsRemovedLogs(t *testing.T) {
	removed := deployedLog(t, 50, 0)
	removed.Removed = true
	client := &fakeClient{head: 100, logs: []types.Log{removed}}
	proj := &fakeProjector{}
	r := New(client, proj)

	res, err := r.Run(context.Background(), Config{ChainID: 1, FromBlock: 0, ToBlock: 100})
	require.NoError(t, err)
	assert.Equal(t, 0, res.LogsDecoded)
	assert.Equal(t, 1, res.LogsSkipped)
}

func TestRunner_Run_LatestWalksTrailingWindow(t *testing.T) {
	client := &fakeClient{head: 1000, logs: []types.Log{deployedLog(t, 950, 0)}}
	proj := &fakeProjector{}
	r := New(client, proj)

	res, err := r.Run(context.Background(), Config{ChainID: 1, Latest: true, LatestWindow: 100})
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), res.LastBlockWalked)
	assert.Equal(t, 1, res.LogsDecoded)
}

func TestRunner_Run_HalvesBatchOnRPCError(t *testing.T) {
	client := &fakeClient{head: 100, logs: []types.Log{deployedLog(t, 50, 0)}, errN: 1}
	proj := &fakeProjector{}
	r := New(client, proj)
	r.batch = 1000

	res, err := r.Run(context.Background(), Config{ChainID: 1, FromBlock: 0, ToBlock: 100})
	require.NoError(t, err)
	assert.Equal(t, uint64(500), r.batch)
	assert.Equal(t, 1, res.LogsDecoded)
}
