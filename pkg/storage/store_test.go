package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutGetDelete(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, "test")
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.EnsureBuckets("widgets"))

	v, err := db.Get("widgets", "missing")
	require.NoError(t, err)
	require.Nil(t, v)

	require.NoError(t, db.Put("widgets", "a", []byte("1")))
	v, err = db.Get("widgets", "a")
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)

	require.NoError(t, db.Delete("widgets", "a"))
	v, err = db.Get("widgets", "a")
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestForEach(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, "test")
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.EnsureBuckets("widgets"))
	require.NoError(t, db.Put("widgets", "a", []byte("1")))
	require.NoError(t, db.Put("widgets", "b", []byte("2")))

	seen := map[string]string{}
	require.NoError(t, db.ForEach("widgets", func(k string, v []byte) error {
		seen[k] = string(v)
		return nil
	}))
	require.Equal(t, map[string]string{"a": "1", "b": "2"}, seen)
}

func TestWipeBucket(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, "test")
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.EnsureBuckets("widgets"))
	require.NoError(t, db.Put("widgets", "a", []byte("1")))
	require.NoError(t, db.WipeBucket("widgets"))

	v, err := db.Get("widgets", "a")
	require.NoError(t, err)
	require.Nil(t, v)
}
