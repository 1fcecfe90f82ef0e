package indexer

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/meshkernel/node/pkg/storage"
)

type fakeSub struct {
	errCh chan error
}

func (f *fakeSub) Unsubscribe() {}
func (f *fakeSub) Err() <-chan error { return f.errCh }

type fakeChain struct {
	head        uint64
	historical  []types.Log
	subCh       chan<- types.Log
	sub         *fakeSub
}

func (f *fakeChain) BlockNumber(ctx context.Context) (uint64, error) { return f.head, nil }

func (f *fakeChain) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return f.historical, nil
}

func (f *fakeChain) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	f.subCh = ch
	f.sub = &fakeSub{errCh: make(chan error, 1)}
	return f.sub, nil
}

type fakeBroadcaster struct {
	updates chan HnsUpdate
}

func (f *fakeBroadcaster) Broadcast(u HnsUpdate) {
	select {
	case f.updates <- u:
	default:
	}
}

func TestIndexerColdStartProcessesHistoricalMintAndNote(t *testing.T) {
	dir := t.TempDir()
	db, err := storage.Open(dir, "indexer")
	require.NoError(t, err)
	defer db.Close()

	root := RootNamehash
	aliceHash := common.HexToHash("0xa11ce")

	mintLog := types.Log{
		Topics:      []common.Hash{MintEventSignature, root, aliceHash},
		Data:        padLabel("alice"),
		BlockNumber: 1,
	}
	netKeyLog := types.Log{
		Topics:      []common.Hash{NoteEventSignature, aliceHash, common.BytesToHash(padLabel(NoteNetKey))},
		Data:        make([]byte, 32),
		BlockNumber: 2,
	}
	ipLog := types.Log{
		Topics:      []common.Hash{NoteEventSignature, aliceHash, common.BytesToHash(padLabel(NoteIP))},
		Data:        []byte{10, 0, 0, 1},
		BlockNumber: 2,
	}
	wsPortLog := types.Log{
		Topics:      []common.Hash{NoteEventSignature, aliceHash, common.BytesToHash(padLabel(NoteWsPort))},
		Data:        []byte{0x23, 0x28},
		BlockNumber: 2,
	}

	chain := &fakeChain{head: 2, historical: []types.Log{mintLog, netKeyLog, ipLog, wsPortLog}}
	bc := &fakeBroadcaster{updates: make(chan HnsUpdate, 4)}

	idx, err := New(1337, common.HexToAddress("0x1234567890123456789012345678901234567890"), chain, bc, db)
	require.NoError(t, err)
	idx.state.InsertName(root, "os")

	require.NoError(t, idx.Start(context.Background()))
	defer idx.Stop()

	select {
	case u := <-bc.updates:
		require.Equal(t, "alice.os", u.Name)
		require.True(t, u.Complete())
	case <-time.After(time.Second):
		t.Fatal("expected a broadcast update")
	}

	u, ok := idx.state.NodeInfo("alice.os")
	require.True(t, ok)
	require.True(t, u.Complete())
}
