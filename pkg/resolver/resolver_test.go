package resolver

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/meshkernel/node/pkg/indexer"
)

type fakeRegistry struct {
	hash  indexer.Namehash
	found bool
	notes map[string][]byte
}

func (f *fakeRegistry) Get(ctx context.Context, name string) (indexer.Namehash, bool, error) {
	return f.hash, f.found, nil
}

func (f *fakeRegistry) ReadNote(ctx context.Context, parent indexer.Namehash, label string) ([]byte, bool, error) {
	data, ok := f.notes[label]
	return data, ok, nil
}

func port2(p uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, p)
	return b
}

func TestNodeInfoCacheHit(t *testing.T) {
	state := indexer.NewState()
	state.InsertNode("alice.os", indexer.HnsUpdate{Name: "alice.os", PublicKey: make([]byte, 32), IP: []byte{1, 2, 3, 4}, HasWsPort: true, WsPort: 9000})

	r := New(state, &fakeRegistry{})
	u, ok, err := r.NodeInfo(context.Background(), "alice.os")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "alice.os", u.Name)
}

func TestNodeInfoFallsBackToRegistryAndCaches(t *testing.T) {
	state := indexer.NewState()
	hash := common.HexToHash("0xabc")
	reg := &fakeRegistry{
		hash:  hash,
		found: true,
		notes: map[string][]byte{
			indexer.NoteNetKey: make([]byte, 32),
			indexer.NoteIP:     []byte{127, 0, 0, 1},
			indexer.NoteWsPort: port2(9000),
		},
	}
	r := New(state, reg)

	u, ok, err := r.NodeInfo(context.Background(), "bob.os")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, u.Complete())

	// now cached
	cached, ok := state.NodeInfo("bob.os")
	require.True(t, ok)
	require.Equal(t, u, cached)
}

func TestNodeInfoIncompleteRecordNotInserted(t *testing.T) {
	state := indexer.NewState()
	hash := common.HexToHash("0xdef")
	reg := &fakeRegistry{hash: hash, found: true, notes: map[string][]byte{
		indexer.NoteNetKey: make([]byte, 32),
	}}
	r := New(state, reg)

	_, ok, err := r.NodeInfo(context.Background(), "carol.os")
	require.NoError(t, err)
	require.False(t, ok)

	_, ok = state.NodeInfo("carol.os")
	require.False(t, ok)
}

func TestNodeInfoNameNotFound(t *testing.T) {
	state := indexer.NewState()
	r := New(state, &fakeRegistry{found: false})

	_, ok, err := r.NodeInfo(context.Background(), "nobody.os")
	require.NoError(t, err)
	require.False(t, ok)
}
