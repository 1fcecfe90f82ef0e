package indexer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateNoteNetKeyRejectsWrongLength(t *testing.T) {
	_, err := ValidateNote(Note{NoteLabel: NoteNetKey, Data: make([]byte, 31)})
	require.Error(t, err)

	vn, err := ValidateNote(Note{NoteLabel: NoteNetKey, Data: make([]byte, 32)})
	require.NoError(t, err)
	var rec HnsUpdate
	vn.ApplyTo(&rec)
	require.Len(t, rec.PublicKey, 32)
}

func TestValidateNoteIPAcceptsV4AndV6(t *testing.T) {
	_, err := ValidateNote(Note{NoteLabel: NoteIP, Data: []byte{1, 2, 3}})
	require.Error(t, err)

	_, err = ValidateNote(Note{NoteLabel: NoteIP, Data: make([]byte, 16)})
	require.NoError(t, err)

	vn, err := ValidateNote(Note{NoteLabel: NoteIP, Data: []byte{1, 2, 3, 4}})
	require.NoError(t, err)
	var rec HnsUpdate
	rec.Routers = []Namehash{{1}}
	vn.ApplyTo(&rec)
	require.Equal(t, []byte{1, 2, 3, 4}, rec.IP)
	require.Nil(t, rec.Routers, "setting ~ip must clear routers")
}

func TestValidateNotePortRejectsWrongLength(t *testing.T) {
	_, err := ValidateNote(Note{NoteLabel: NoteWsPort, Data: []byte{1}})
	require.Error(t, err)

	vn, err := ValidateNote(Note{NoteLabel: NoteWsPort, Data: []byte{0x23, 0x28}})
	require.NoError(t, err)
	var rec HnsUpdate
	vn.ApplyTo(&rec)
	require.Equal(t, uint16(0x2328), rec.WsPort)
	require.True(t, rec.HasWsPort)
}

func TestValidateNoteRoutersClearsDirectFields(t *testing.T) {
	vn, err := ValidateNote(Note{NoteLabel: NoteRouters, Data: make([]byte, 64)})
	require.NoError(t, err)

	rec := HnsUpdate{IP: []byte{1, 2, 3, 4}, HasWsPort: true, WsPort: 9000}
	vn.ApplyTo(&rec)
	require.Nil(t, rec.IP)
	require.False(t, rec.HasWsPort)
	require.Len(t, rec.Routers, 2)
}

func TestValidateNoteRoutersRejectsNonMultipleOf32(t *testing.T) {
	_, err := ValidateNote(Note{NoteLabel: NoteRouters, Data: make([]byte, 40)})
	require.Error(t, err)
}

func TestHnsUpdateCompleteRequiresPublicKeyAndDirectOrIndirect(t *testing.T) {
	var rec HnsUpdate
	require.False(t, rec.Complete())

	rec.PublicKey = make([]byte, 32)
	require.False(t, rec.Complete())

	rec.IP = []byte{1, 2, 3, 4}
	rec.HasWsPort = true
	require.True(t, rec.Complete())
}
