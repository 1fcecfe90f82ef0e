package cacher

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/meshkernel/node/pkg/address"
	"github.com/meshkernel/node/pkg/kmsg"
	"github.com/meshkernel/node/pkg/storage"
)

type fakeChainClient struct {
	head uint64
	logs []types.Log
}

func (f *fakeChainClient) BlockNumber(ctx context.Context) (uint64, error) { return f.head, nil }
func (f *fakeChainClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return f.logs, nil
}

type noBus struct{}

func (noBus) SendAndAwait(km kmsg.KernelMessage, timeout time.Duration) (kmsg.Message, error) {
	return kmsg.Message{}, kmsg.SendError{Kind: kmsg.SendErrorOffline}
}

type noPinger struct{}

func (noPinger) Ping(ctx context.Context, node string, timeout time.Duration) bool { return false }

type keyedResolver struct {
	keys map[string]ed25519.PublicKey
}

func (r keyedResolver) NetPublicKey(node string) (ed25519.PublicKey, bool) {
	k, ok := r.keys[node]
	return k, ok
}

func newTestCacher(t *testing.T, chain ChainClient, bus MessageBus, resolver NetKeyResolver, priv ed25519.PrivateKey) *Cacher {
	t.Helper()
	dir := t.TempDir()
	db, err := storage.Open(dir, "cacher")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	c, err := New("alice.os", 1337, 1, "0x1234567890123456789012345678901234567890", dir, chain, bus, noPinger{}, resolver, priv, nil, db)
	require.NoError(t, err)
	return c
}

func TestProduceBatchWritesSignedFileAndAdvancesCheckpoint(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	l := types.Log{BlockNumber: 5}
	chain := &fakeChainClient{head: 10, logs: []types.Log{l}}
	c := newTestCacher(t, chain, noBus{}, keyedResolver{keys: map[string]ed25519.PublicKey{"alice.os": pub}}, priv)

	require.NoError(t, c.produceBatch(context.Background()))

	c.mu.RLock()
	defer c.mu.RUnlock()
	require.Equal(t, uint64(10), c.lastCachedBlock)
	require.Len(t, c.manifest.Items, 1)

	var item ManifestItem
	for _, it := range c.manifest.Items {
		item = it
	}
	require.False(t, item.IsEmpty)
	require.Equal(t, uint64(1), item.FromBlock)
	require.Equal(t, uint64(10), item.ToBlock)

	data, err := readCacheFile(c.driveDir, item.FileName)
	require.NoError(t, err)
	require.Equal(t, item.FileHash, fileHash(data))

	cache, err := unmarshalCache(data)
	require.NoError(t, err)
	require.NoError(t, verifyCacheSignature(cache, pub))
}

func TestProduceBatchRecordsEmptyBatch(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	chain := &fakeChainClient{head: 3}
	c := newTestCacher(t, chain, noBus{}, keyedResolver{keys: map[string]ed25519.PublicKey{"alice.os": pub}}, priv)

	require.NoError(t, c.produceBatch(context.Background()))

	c.mu.RLock()
	defer c.mu.RUnlock()
	require.Len(t, c.manifest.Items, 1)
	for _, it := range c.manifest.Items {
		require.True(t, it.IsEmpty)
		require.Equal(t, "", it.FileName)
	}
}

func TestVerifyCacheSignatureRejectsTamperedLogs(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	logsJSON, err := marshalLogs([]types.Log{{BlockNumber: 1}})
	require.NoError(t, err)
	hash := signingHash(logsJSON, 1, 5)
	cache := LogCache{
		Metadata: LogMetadata{FromBlock: 1, ToBlock: 5, CreatedBy: "alice.os", Signature: signWithNetKey(priv, hash)},
		Logs:     []types.Log{{BlockNumber: 1}},
	}
	require.NoError(t, verifyCacheSignature(cache, pub))

	cache.Logs = append(cache.Logs, types.Log{BlockNumber: 2})
	require.Error(t, verifyCacheSignature(cache, pub))
}

func TestHandleGetLogsByRangeSelectsOverlappingItems(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	c := newTestCacher(t, &fakeChainClient{}, noBus{}, keyedResolver{keys: map[string]ed25519.PublicKey{"alice.os": pub}}, priv)
	c.mu.Lock()
	c.isStarting = false
	c.mu.Unlock()

	item, err := c.writeBatch(1, 10, []types.Log{{BlockNumber: 3}})
	require.NoError(t, err)
	c.mu.Lock()
	c.manifest.Items[item.FileName] = item
	c.lastCachedBlock = 10
	c.mu.Unlock()

	other, err := c.writeBatch(11, 20, []types.Log{{BlockNumber: 15}})
	require.NoError(t, err)
	c.mu.Lock()
	c.manifest.Items[other.FileName] = other
	c.lastCachedBlock = 20
	c.mu.Unlock()

	resp := c.Handle(address.Address{Node: "alice.os", Process: address.ProcessId{Name: "terminal", Package: "sys", Publisher: "sys"}}, kmsg.CacherRequest{Kind: kmsg.CacherGetLogsByRange, From: 5})
	require.Equal(t, kmsg.CacherRespLogs, resp.Kind)

	var result logsByRangeResult
	require.NoError(t, json.Unmarshal(resp.Value, &result))
	require.Len(t, result.Logs, 2)
	require.Equal(t, uint64(20), result.LastCachedBlock)
}

func TestHandleRejectsRemoteNonCacherProcess(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	c := newTestCacher(t, &fakeChainClient{}, noBus{}, keyedResolver{keys: map[string]ed25519.PublicKey{"alice.os": pub}}, priv)
	c.mu.Lock()
	c.isStarting = false
	c.mu.Unlock()

	resp := c.Handle(address.Address{Node: "bob.os", Process: address.ProcessId{Name: "eth", Package: "sys", Publisher: "sys"}}, kmsg.CacherRequest{Kind: kmsg.CacherGetStatus})
	require.Equal(t, kmsg.CacherRespErr, resp.Kind)
	require.Equal(t, kmsg.CacherErrRejected, resp.Err)
}

func TestHandleRejectsRemoteCacherWhenNotProviding(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	c := newTestCacher(t, &fakeChainClient{}, noBus{}, keyedResolver{keys: map[string]ed25519.PublicKey{"alice.os": pub}}, priv)
	c.mu.Lock()
	c.isStarting = false
	c.isProviding = false
	c.mu.Unlock()

	resp := c.Handle(address.Address{Node: "bob.os", Process: address.ProcessId{Name: "cacher", Package: "sys", Publisher: "sys"}}, kmsg.CacherRequest{Kind: kmsg.CacherGetStatus})
	require.Equal(t, kmsg.CacherErrRejected, resp.Err)

	c.mu.Lock()
	c.isProviding = true
	c.mu.Unlock()
	resp = c.Handle(address.Address{Node: "bob.os", Process: address.ProcessId{Name: "cacher", Package: "sys", Publisher: "sys"}}, kmsg.CacherRequest{Kind: kmsg.CacherGetStatus})
	require.Equal(t, kmsg.CacherRespStatus, resp.Kind)
}

func TestResetWipesDriveAndReEntersStarting(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	c := newTestCacher(t, &fakeChainClient{head: 5, logs: []types.Log{{BlockNumber: 1}}}, noBus{}, keyedResolver{keys: map[string]ed25519.PublicKey{"alice.os": pub}}, priv)
	require.NoError(t, c.produceBatch(context.Background()))

	require.NoError(t, c.Reset())

	c.mu.RLock()
	defer c.mu.RUnlock()
	require.True(t, c.isStarting)
	require.Equal(t, uint64(0), c.lastCachedBlock)
	require.Empty(t, c.manifest.Items)
}
