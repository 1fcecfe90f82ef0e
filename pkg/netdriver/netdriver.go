// Package netdriver implements the kernel's only window onto the outside
// world (§4.5): send/deliver over per-peer sessions, dialed
// either directly (ip+port) or via a router, with every inbound message's
// capability list verified before it reaches a local mailbox. The session
// map and its idle-reaping ticker use a ticker/stopCh loop shape; wire
// framing follows the same Kind/Body envelope convention already embodied
// by pkg/kmsg.
package netdriver

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/meshkernel/node/pkg/address"
	"github.com/meshkernel/node/pkg/indexer"
	"github.com/meshkernel/node/pkg/kmsg"
	"github.com/meshkernel/node/pkg/log"
)

const (
	sessionIdleTimeout = 5 * time.Minute
	reapInterval       = 1 * time.Minute
	dialTimeout        = 10 * time.Second
)

// Transport is one open duplex connection to a peer, abstracting over the
// ws and tcp implementations.
type Transport interface {
	Send(km kmsg.KernelMessage) error
	Close() error
}

// Dialer opens a Transport to a peer, choosing ws vs tcp per the caller's
// addressing decision.
type Dialer interface {
	DialDirect(ctx context.Context, ip string, port uint16) (Transport, error)
}

// RouteResolver looks up how to reach a node: directly (ip+ports) or
// indirectly (via a router's own HnsUpdate), mirroring the indexer's
// direct/indirect node distinction (§4.3, §4.5).
type RouteResolver interface {
	NodeInfo(ctx context.Context, name string) (indexer.HnsUpdate, bool, error)
	NamehashToName(hash indexer.Namehash) (string, bool)
}

// LocalKernel is the subset of the kernel the driver feeds inbound messages
// into. Kernel.Send is the kernel's unified routing entrypoint: it delivers
// to a local mailbox when the target is this node, and otherwise calls back
// into Driver.Deliver — which is how a message relays onward through this
// node when it is acting as an intermediate router (§4.5).
type LocalKernel interface {
	Send(km kmsg.KernelMessage) error
}

// Driver implements kernel.NetDriver's Deliver(km) for outbound routing, and
// exposes HandleInbound for incoming bytes, maintaining one session per
// recently-routed-to peer (§4.5).
type Driver struct {
	selfNode string
	netPriv  ed25519.PrivateKey
	dialer   Dialer
	routes   RouteResolver
	kernel   LocalKernel

	mu       sync.Mutex
	sessions map[string]*session

	logger zerolog.Logger
	stopCh chan struct{}
	wg     sync.WaitGroup
}

type session struct {
	transport Transport
	lastUsed  time.Time
}

// New constructs a Driver. The caller is responsible for starting the
// listeners that feed inbound bytes into HandleInbound (ws/tcp accept
// loops); Driver itself only owns outbound dialing and the session table.
func New(selfNode string, netPriv ed25519.PrivateKey, dialer Dialer, routes RouteResolver, kernel LocalKernel) *Driver {
	return &Driver{
		selfNode: selfNode,
		netPriv:  netPriv,
		dialer:   dialer,
		routes:   routes,
		kernel:   kernel,
		sessions: make(map[string]*session),
		logger:   log.WithComponent("netdriver"),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the idle-session reaper.
func (d *Driver) Start() {
	d.wg.Add(1)
	go d.reapLoop()
}

// Stop halts the reaper and closes every open session.
func (d *Driver) Stop() {
	close(d.stopCh)
	d.wg.Wait()

	d.mu.Lock()
	defer d.mu.Unlock()
	for node, s := range d.sessions {
		s.transport.Close()
		delete(d.sessions, node)
	}
}

func (d *Driver) reapLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.reapIdle()
		case <-d.stopCh:
			return
		}
	}
}

func (d *Driver) reapIdle() {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now()
	for node, s := range d.sessions {
		if now.Sub(s.lastUsed) > sessionIdleTimeout {
			s.transport.Close()
			delete(d.sessions, node)
			d.logger.Debug().Str("peer", node).Msg("reaped idle session")
		}
	}
}

// Deliver implements kernel.NetDriver: route km to its target node, signing
// its capability list and dialing (directly or via a router) as needed. The
// kernel only calls this for non-local targets, so there is no local-target
// shortcut here.
func (d *Driver) Deliver(km kmsg.KernelMessage) error {
	target := km.Target.Node

	km.Caps = d.signCaps(km)

	t, err := d.sessionFor(context.Background(), target)
	if err != nil {
		return fmt.Errorf("netdriver: cannot reach %s: %w", target, err)
	}
	if err := t.Send(km); err != nil {
		d.dropSession(target)
		return fmt.Errorf("netdriver: send to %s failed: %w", target, err)
	}
	return nil
}

// signCaps signs the message's accompanying capability list with this
// node's net key (the receiving kernel verifies against the issuer's public
// key carried in the indexer's HnsUpdate, not the sender's).
func (d *Driver) signCaps(km kmsg.KernelMessage) []address.Signed {
	if len(km.Caps) == 0 {
		return km.Caps
	}
	out := make([]address.Signed, len(km.Caps))
	for i, c := range km.Caps {
		out[i] = address.Sign(c.Capability, d.netPriv)
	}
	return out
}

func (d *Driver) sessionFor(ctx context.Context, node string) (Transport, error) {
	d.mu.Lock()
	if s, ok := d.sessions[node]; ok {
		s.lastUsed = time.Now()
		t := s.transport
		d.mu.Unlock()
		return t, nil
	}
	d.mu.Unlock()

	t, err := d.dial(ctx, node)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.sessions[node] = &session{transport: t, lastUsed: time.Now()}
	d.mu.Unlock()
	return t, nil
}

const maxRouterHops = 3

// dial implements §4.5's "consults the indexer's broadcast of HnsUpdates to
// know how to dial a peer (direct via ip+port, or via routers by
// delegating)".
func (d *Driver) dial(ctx context.Context, node string) (Transport, error) {
	return d.dialHop(ctx, node, maxRouterHops)
}

func (d *Driver) dialHop(ctx context.Context, node string, hopsLeft int) (Transport, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	info, ok, err := d.routes.NodeInfo(dialCtx, node)
	if err != nil {
		return nil, fmt.Errorf("resolve route to %s: %w", node, err)
	}
	if !ok {
		return nil, fmt.Errorf("no routing record for %s", node)
	}

	if info.Direct() {
		port := info.WsPort
		if !info.HasWsPort && info.HasTcpPort {
			port = info.TcpPort
		}
		return d.dialer.DialDirect(dialCtx, ipString(info.IP), port)
	}

	if hopsLeft == 0 {
		return nil, fmt.Errorf("router chain too deep resolving %s", node)
	}
	for _, routerHash := range info.Routers {
		routerName, ok := d.routes.NamehashToName(routerHash)
		if !ok {
			continue
		}
		if t, err := d.dialHop(ctx, routerName, hopsLeft-1); err == nil {
			return t, nil
		}
	}
	return nil, fmt.Errorf("no reachable router for indirect node %s", node)
}

// Broadcast implements indexer.NetBroadcaster: a freshly resolved routing
// record invalidates any cached session for that node, so the next Deliver
// re-dials using up-to-date routing info rather than a stale address
// (§4.3 "Broadcast changes").
func (d *Driver) Broadcast(update indexer.HnsUpdate) {
	d.dropSession(update.Name)
}

// Ping implements pkg/cacher's NetPinger: confirm a peer is dialable within
// timeout, independent of any higher-level request/response protocol (§4.4
// step 1).
func (d *Driver) Ping(ctx context.Context, node string, timeout time.Duration) bool {
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, err := d.sessionFor(pingCtx, node)
	return err == nil
}

// NetPublicKey implements pkg/cacher's NetKeyResolver: the net key a peer's
// signed artifacts (e.g. a bootstrap LogCache) must verify against, read
// from the same routing records Deliver dials against.
func (d *Driver) NetPublicKey(node string) (ed25519.PublicKey, bool) {
	info, ok, err := d.routes.NodeInfo(context.Background(), node)
	if err != nil || !ok || len(info.PublicKey) != ed25519.PublicKeySize {
		return nil, false
	}
	return ed25519.PublicKey(info.PublicKey), true
}

func (d *Driver) dropSession(node string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.sessions[node]; ok {
		s.transport.Close()
		delete(d.sessions, node)
	}
}

func ipString(ip []byte) string {
	switch len(ip) {
	case 4:
		return fmt.Sprintf("%d.%d.%d.%d", ip[0], ip[1], ip[2], ip[3])
	case 16:
		return fmt.Sprintf("%x", ip)
	default:
		return ""
	}
}
