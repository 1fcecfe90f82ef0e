package cacher

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meshkernel/node/pkg/kmsg"
)

type scriptedBus struct {
	statusResp kmsg.CacherResponse
	logsResp   kmsg.CacherResponse
}

func (b *scriptedBus) SendAndAwait(km kmsg.KernelMessage, timeout time.Duration) (kmsg.Message, error) {
	var req kmsg.CacherRequest
	if err := km.Message.Decode(&req); err != nil {
		return kmsg.Message{}, err
	}
	switch req.Kind {
	case kmsg.CacherGetStatus:
		return kmsg.NewResponse(b.statusResp)
	case kmsg.CacherGetLogsByRange:
		return kmsg.NewResponse(b.logsResp)
	default:
		return kmsg.Message{}, kmsg.SendError{Kind: kmsg.SendErrorOffline}
	}
}

func TestAcceptBootstrapCacheSkipsTamperedButKeepsValid(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	logsJSON, err := marshalLogs(nil)
	require.NoError(t, err)
	hash := signingHash(logsJSON, 1, 100)
	good := LogCache{Metadata: LogMetadata{FromBlock: 1, ToBlock: 100, CreatedBy: "peer.os", Signature: signWithNetKey(priv, hash)}}

	tampered := good
	tampered.Metadata.FromBlock = 1
	tampered.Metadata.ToBlock = 200 // signature no longer covers this range

	c := newTestCacher(t, &fakeChainClient{}, noBus{}, keyedResolver{keys: map[string]ed25519.PublicKey{"peer.os": pub}}, priv)

	require.True(t, c.acceptBootstrapCache(good))
	require.False(t, c.acceptBootstrapCache(tampered))

	c.mu.RLock()
	defer c.mu.RUnlock()
	require.Equal(t, uint64(100), c.lastCachedBlock)
	require.Len(t, c.manifest.Items, 1)
}

func TestBootstrapFromPeerPersistsOnlyValidCache(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	logsJSON, _ := marshalLogs(nil)
	hash := signingHash(logsJSON, 1, 50)
	valid := LogCache{Metadata: LogMetadata{FromBlock: 1, ToBlock: 50, CreatedBy: "peer.os", Signature: signWithNetKey(priv, hash)}}
	tampered := valid
	tampered.Metadata.ToBlock = 999

	bus := &scriptedBus{
		statusResp: kmsg.CacherResponse{Kind: kmsg.CacherRespStatus},
		logsResp:   valueResponse(kmsg.CacherRespLogs, logsByRangeResult{Logs: []LogCache{valid, tampered}, LastCachedBlock: 999}),
	}

	c := newTestCacher(t, &fakeChainClient{}, bus, keyedResolver{keys: map[string]ed25519.PublicKey{"peer.os": pub}}, priv)
	ok := c.bootstrapFromPeer(nil, "peer.os")
	require.True(t, ok)

	c.mu.RLock()
	defer c.mu.RUnlock()
	require.Equal(t, uint64(50), c.lastCachedBlock)
	require.Len(t, c.manifest.Items, 1)
}
