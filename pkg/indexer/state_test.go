package indexer

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestApplyMintRequiresKnownParent(t *testing.T) {
	s := NewState()
	_, ok := s.applyMint(Mint{ParentHash: common.HexToHash("0x1"), ChildHash: common.HexToHash("0x2"), Label: "alice"})
	require.False(t, ok)

	s.InsertName(RootNamehash, "os")
	name, ok := s.applyMint(Mint{ParentHash: RootNamehash, ChildHash: common.HexToHash("0x2"), Label: "alice"})
	require.True(t, ok)
	require.Equal(t, "alice.os", name)

	resolved, ok := s.NameForHash(common.HexToHash("0x2"))
	require.True(t, ok)
	require.Equal(t, "alice.os", resolved)
}

func TestApplyNoteBuffersUnknownParent(t *testing.T) {
	s := NewState()
	vn, err := ValidateNote(Note{ParentHash: common.HexToHash("0x9"), NoteLabel: NoteNetKey, Data: make([]byte, 32), Block: 10})
	require.NoError(t, err)

	_, ok := s.applyNote(vn)
	require.False(t, ok)
}

func TestPendingDrainLifecycle(t *testing.T) {
	s := NewState()
	n := Note{ParentHash: common.HexToHash("0x9"), NoteLabel: NoteNetKey, Data: make([]byte, 32), Block: 5}
	s.bufferPending(n)
	require.Equal(t, 1, s.pendingCount())

	s.SetLastBlock(10)
	blocks := s.drainableBlocks()
	require.Equal(t, []uint64{5}, blocks)

	notes := s.takePending(5)
	require.Len(t, notes, 1)
	require.Equal(t, 0, s.pendingCount())
}

func TestRequeuePendingDropsAfterMaxAttempts(t *testing.T) {
	s := NewState()
	notes := []pendingNote{{note: Note{Block: 1}, attempts: MaxPendingAttempts - 1}}
	dropped := s.requeuePending(1, notes)
	require.Equal(t, 1, dropped)
	require.Equal(t, 0, s.pendingCount())
}

func TestRequeuePendingKeepsUnderMaxAttempts(t *testing.T) {
	s := NewState()
	notes := []pendingNote{{note: Note{Block: 1}, attempts: 1}}
	dropped := s.requeuePending(1, notes)
	require.Equal(t, 0, dropped)
	require.Equal(t, 1, s.pendingCount())
}

func TestResetClearsEverything(t *testing.T) {
	s := NewState()
	s.InsertName(common.HexToHash("0x1"), "alice.os")
	s.InsertNode("alice.os", HnsUpdate{Name: "alice.os"})
	s.SetLastBlock(100)
	s.bufferPending(Note{Block: 1})

	s.reset()

	_, ok := s.NameForHash(common.HexToHash("0x1"))
	require.False(t, ok)
	_, ok = s.NodeInfo("alice.os")
	require.False(t, ok)
	require.Equal(t, uint64(0), s.LastBlock())
	require.Equal(t, 0, s.pendingCount())
}
