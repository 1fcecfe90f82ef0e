package netdriver

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meshkernel/node/pkg/address"
	"github.com/meshkernel/node/pkg/indexer"
	"github.com/meshkernel/node/pkg/kmsg"
)

type fakeTransport struct {
	sent   []kmsg.KernelMessage
	closed bool
	sendErr error
}

func (t *fakeTransport) Send(km kmsg.KernelMessage) error {
	if t.sendErr != nil {
		return t.sendErr
	}
	t.sent = append(t.sent, km)
	return nil
}
func (t *fakeTransport) Close() error { t.closed = true; return nil }

type fakeDialer struct {
	transport *fakeTransport
	dialErr   error
	dials     int
}

func (d *fakeDialer) DialDirect(ctx context.Context, ip string, port uint16) (Transport, error) {
	d.dials++
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	return d.transport, nil
}

type fakeRoutes struct {
	byName map[string]indexer.HnsUpdate
	names  map[indexer.Namehash]string
}

func (r fakeRoutes) NodeInfo(ctx context.Context, name string) (indexer.HnsUpdate, bool, error) {
	u, ok := r.byName[name]
	return u, ok, nil
}
func (r fakeRoutes) NamehashToName(hash indexer.Namehash) (string, bool) {
	n, ok := r.names[hash]
	return n, ok
}

type fakeKernel struct {
	received []kmsg.KernelMessage
	err      error
}

func (k *fakeKernel) Send(km kmsg.KernelMessage) error {
	k.received = append(k.received, km)
	return k.err
}

func testMessage(target string) kmsg.KernelMessage {
	return kmsg.KernelMessage{
		ID:     1,
		Source: address.Address{Node: "alice.os", Process: address.ProcessId{Name: "terminal", Package: "sys", Publisher: "sys"}},
		Target: address.Address{Node: target, Process: address.ProcessId{Name: "terminal", Package: "sys", Publisher: "sys"}},
	}
}

func TestDeliverDialsDirectNodeAndSignsCaps(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	transport := &fakeTransport{}
	dialer := &fakeDialer{transport: transport}
	routes := fakeRoutes{byName: map[string]indexer.HnsUpdate{
		"bob.os": {Name: "bob.os", PublicKey: pub, IP: []byte{127, 0, 0, 1}, WsPort: 9000, HasWsPort: true},
	}}
	k := &fakeKernel{}
	d := New("alice.os", priv, dialer, routes, k)

	km := testMessage("bob.os")
	km.Caps = []address.Signed{{Capability: address.Capability{Issuer: km.Source, Params: `{"kind":"read"}`}}}

	require.NoError(t, d.Deliver(km))
	require.Equal(t, 1, dialer.dials)
	require.Len(t, transport.sent, 1)
	require.Len(t, transport.sent[0].Caps, 1)
	require.True(t, transport.sent[0].Caps[0].Verify(priv.Public().(ed25519.PublicKey)))
}

func TestDeliverReusesSessionOnSecondSend(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	transport := &fakeTransport{}
	dialer := &fakeDialer{transport: transport}
	routes := fakeRoutes{byName: map[string]indexer.HnsUpdate{
		"bob.os": {Name: "bob.os", PublicKey: pub, IP: []byte{127, 0, 0, 1}, WsPort: 9000, HasWsPort: true},
	}}
	d := New("alice.os", priv, dialer, routes, &fakeKernel{})

	require.NoError(t, d.Deliver(testMessage("bob.os")))
	require.NoError(t, d.Deliver(testMessage("bob.os")))
	require.Equal(t, 1, dialer.dials)
	require.Len(t, transport.sent, 2)
}

func TestDeliverDropsSessionOnSendFailure(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	transport := &fakeTransport{sendErr: fmt.Errorf("broken pipe")}
	dialer := &fakeDialer{transport: transport}
	routes := fakeRoutes{byName: map[string]indexer.HnsUpdate{
		"bob.os": {Name: "bob.os", PublicKey: priv.Public().(ed25519.PublicKey), IP: []byte{127, 0, 0, 1}, WsPort: 9000, HasWsPort: true},
	}}
	d := New("alice.os", priv, dialer, routes, &fakeKernel{})

	require.Error(t, d.Deliver(testMessage("bob.os")))
	d.mu.Lock()
	_, stillOpen := d.sessions["bob.os"]
	d.mu.Unlock()
	require.False(t, stillOpen)
}

func TestDialHopFollowsRouterChain(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	routerHash := indexer.ComputeNamehash(indexer.RootNamehash, "router")
	transport := &fakeTransport{}
	dialer := &fakeDialer{transport: transport}
	routes := fakeRoutes{
		byName: map[string]indexer.HnsUpdate{
			"carol.os":  {Name: "carol.os", PublicKey: pub, Routers: []indexer.Namehash{routerHash}},
			"router.os": {Name: "router.os", PublicKey: pub, IP: []byte{10, 0, 0, 1}, TcpPort: 4000, HasTcpPort: true},
		},
		names: map[indexer.Namehash]string{routerHash: "router.os"},
	}
	d := New("alice.os", priv, dialer, routes, &fakeKernel{})

	require.NoError(t, d.Deliver(testMessage("carol.os")))
	require.Equal(t, 1, dialer.dials)
	require.Len(t, transport.sent, 1)
}

func TestDialHopFailsWhenRouterChainTooDeep(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	// Every node in the chain only points at another indirect node, so
	// resolution must bottom out at maxRouterHops without ever reaching a
	// direct record.
	selfHash := indexer.ComputeNamehash(indexer.RootNamehash, "loop")
	routes := fakeRoutes{
		byName: map[string]indexer.HnsUpdate{
			"loop.os": {Name: "loop.os", PublicKey: priv.Public().(ed25519.PublicKey), Routers: []indexer.Namehash{selfHash}},
		},
		names: map[indexer.Namehash]string{selfHash: "loop.os"},
	}
	d := New("alice.os", priv, &fakeDialer{}, routes, &fakeKernel{})

	require.Error(t, d.Deliver(testMessage("loop.os")))
}

func TestReapIdleClosesStaleSessionsOnly(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	fresh := &fakeTransport{}
	stale := &fakeTransport{}
	d := New("alice.os", priv, &fakeDialer{}, fakeRoutes{}, &fakeKernel{})
	d.sessions["fresh.os"] = &session{transport: fresh, lastUsed: time.Now()}
	d.sessions["stale.os"] = &session{transport: stale, lastUsed: time.Now().Add(-2 * sessionIdleTimeout)}

	d.reapIdle()

	require.False(t, fresh.closed)
	require.True(t, stale.closed)
	_, ok := d.sessions["stale.os"]
	require.False(t, ok)
}

func TestHandleInboundDropsMessageWithInvalidCapSignature(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	_, otherPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	km := testMessage("alice.os")
	issuer := address.Address{Node: "mallory.os", Process: address.ProcessId{Name: "terminal", Package: "sys", Publisher: "sys"}}
	cap := address.Capability{Issuer: issuer, Params: `{"kind":"read"}`}
	// Signed by a key that does not match what NodeInfo resolves for mallory.os.
	km.Caps = []address.Signed{address.Sign(cap, otherPriv)}

	routes := fakeRoutes{byName: map[string]indexer.HnsUpdate{
		"mallory.os": {Name: "mallory.os", PublicKey: priv.Public().(ed25519.PublicKey)},
	}}
	k := &fakeKernel{}
	d := New("alice.os", priv, &fakeDialer{}, routes, k)

	d.HandleInbound(km)
	require.Empty(t, k.received)
}

func TestBroadcastDropsCachedSessionForUpdatedNode(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	d := New("alice.os", priv, &fakeDialer{}, fakeRoutes{}, &fakeKernel{})
	transport := &fakeTransport{}
	d.sessions["bob.os"] = &session{transport: transport, lastUsed: time.Now()}

	d.Broadcast(indexer.HnsUpdate{Name: "bob.os"})

	require.True(t, transport.closed)
	d.mu.Lock()
	_, ok := d.sessions["bob.os"]
	d.mu.Unlock()
	require.False(t, ok)
}

func TestHandleInboundDeliversValidMessageToKernel(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	km := testMessage("alice.os")
	issuer := address.Address{Node: "alice.os", Process: address.ProcessId{Name: "terminal", Package: "sys", Publisher: "sys"}}
	cap := address.Capability{Issuer: issuer, Params: `{"kind":"read"}`}
	km.Caps = []address.Signed{address.Sign(cap, priv)}

	k := &fakeKernel{}
	d := New("alice.os", priv, &fakeDialer{}, fakeRoutes{}, k)

	d.HandleInbound(km)
	require.Len(t, k.received, 1)
}
