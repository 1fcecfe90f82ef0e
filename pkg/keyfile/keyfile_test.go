package keyfile

import (
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestSealUnsealRoundTrip(t *testing.T) {
	mat, err := New("alice.os")
	require.NoError(t, err)

	d, err := Seal(mat, "correct horse battery staple")
	require.NoError(t, err)

	got, err := Unseal(d, "correct horse battery staple")
	require.NoError(t, err)
	require.Equal(t, mat, got)
}

func TestUnsealWrongPassword(t *testing.T) {
	mat, err := New("alice.os")
	require.NoError(t, err)

	d, err := Seal(mat, "correct horse battery staple")
	require.NoError(t, err)

	_, err = Unseal(d, "wrong password")
	require.Error(t, err)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	mat, err := New("bob.os")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "bob.keyfile")
	require.NoError(t, Save(path, mat, "hunter2"))
	require.True(t, Exists(path))

	got, err := Load(path, "hunter2")
	require.NoError(t, err)
	require.Equal(t, mat, got)
}

func TestExistsFalseForMissingFile(t *testing.T) {
	require.False(t, Exists(filepath.Join(t.TempDir(), "nope.keyfile")))
}

func TestSealUnsealRoundTripPreservesRouters(t *testing.T) {
	mat, err := New("carol.os")
	require.NoError(t, err)
	mat.Routers = []common.Hash{common.HexToHash("0x1"), common.HexToHash("0x2")}

	d, err := Seal(mat, "correct horse battery staple")
	require.NoError(t, err)

	got, err := Unseal(d, "correct horse battery staple")
	require.NoError(t, err)
	require.Equal(t, mat.Routers, got.Routers)
}
