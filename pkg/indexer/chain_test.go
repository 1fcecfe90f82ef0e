package indexer

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

func padLabel(label string) []byte {
	b := make([]byte, 32)
	copy(b, label)
	return b
}

func TestDecodeLogMint(t *testing.T) {
	l := types.Log{
		Topics: []common.Hash{MintEventSignature, common.HexToHash("0x1"), common.HexToHash("0x2")},
		Data:   padLabel("alice"),
		BlockNumber: 42,
	}
	mint, note, err := decodeLog(l)
	require.NoError(t, err)
	require.Nil(t, note)
	require.Equal(t, "alice", mint.Label)
	require.Equal(t, common.HexToHash("0x1"), mint.ParentHash)
	require.Equal(t, common.HexToHash("0x2"), mint.ChildHash)
}

func TestDecodeLogNote(t *testing.T) {
	l := types.Log{
		Topics:      []common.Hash{NoteEventSignature, common.HexToHash("0x1"), common.BytesToHash(padLabel("~ip"))},
		Data:        []byte{127, 0, 0, 1},
		BlockNumber: 7,
	}
	mint, note, err := decodeLog(l)
	require.NoError(t, err)
	require.Nil(t, mint)
	require.Equal(t, "~ip", note.NoteLabel)
	require.Equal(t, []byte{127, 0, 0, 1}, note.Data)
}

func TestDecodeLogRejectsUnknownSignature(t *testing.T) {
	l := types.Log{Topics: []common.Hash{common.HexToHash("0xdead"), common.HexToHash("0x1"), common.HexToHash("0x2")}}
	_, _, err := decodeLog(l)
	require.Error(t, err)
}
