// Package ethprovider implements the per-chain provider pool (§4.2): an
// ordered list of UrlProviders followed by an ordered list of NodeProviders,
// with health tracking, failover, and access control, using a per-chain
// concurrent-map plus ticker-loop health-check idiom.
package ethprovider

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/meshkernel/node/pkg/address"
)

// RPCTransport is the subset of a JSON-RPC client a UrlProvider needs: a raw
// call and a block-number health probe. Modeled on go-ethereum's rpc.Client,
// narrowed to an interface so the pool can be exercised without a live
// websocket endpoint.
type RPCTransport interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
	BlockNumber(ctx context.Context) (uint64, error)
	Close()
}

// Dialer opens an RPCTransport for a provider URL; satisfied in production
// by a thin wrapper over ethclient.DialContext/rpc.DialContext.
type Dialer func(ctx context.Context, url string) (RPCTransport, error)

// health is the mutable status shared by both provider kinds (§4.2 "Health
// tracking").
type health struct {
	mu                     sync.Mutex
	online                 bool
	lastHealthCheck        time.Time
	methodFailures         map[string]bool
	sendRawTxCooldownUntil time.Time
	retryFailures          int
}

func newHealth() *health {
	return &health{online: true, methodFailures: make(map[string]bool)}
}

func (h *health) markOffline() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.online = false
	h.lastHealthCheck = time.Now()
}

func (h *health) markOnline() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.online = true
	h.retryFailures = 0
	h.lastHealthCheck = time.Now()
}

func (h *health) isOnline() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.online
}

func (h *health) markMethodFailure(method string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.methodFailures[method] = true
}

func (h *health) hasMethodFailure(method string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.methodFailures[method]
}

func (h *health) markSendRawTxCooldown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sendRawTxCooldownUntil = time.Now().Add(60 * time.Minute)
	h.methodFailures["eth_sendRawTransaction"] = true
}

func (h *health) sendRawTxClearIfExpired() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.sendRawTxCooldownUntil.IsZero() && time.Now().After(h.sendRawTxCooldownUntil) {
		delete(h.methodFailures, "eth_sendRawTransaction")
		h.sendRawTxCooldownUntil = time.Time{}
	}
}

// UrlProvider is a direct RPC endpoint for a chain (§3, §4.2).
type UrlProvider struct {
	Name string
	URL  string

	dial      Dialer
	transport RPCTransport
	health    *health
	mu        sync.Mutex
}

// NewUrlProvider constructs a UrlProvider. The underlying transport is
// opened lazily by activate(), matching §4.2's "if not activated, try to
// open a pubsub transport."
func NewUrlProvider(name, url string, dial Dialer) *UrlProvider {
	return &UrlProvider{Name: name, URL: url, dial: dial, health: newHealth()}
}

// activated reports whether a live transport is currently held.
func (p *UrlProvider) activated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transport != nil
}

// activate opens the transport if not already open. On error it clears any
// half-open transport and returns the error, per §4.2 step 1.
func (p *UrlProvider) activate(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.transport != nil {
		return nil
	}
	t, err := p.dial(ctx, p.URL)
	if err != nil {
		p.transport = nil
		return err
	}
	p.transport = t
	return nil
}

// deactivate clears the transport, e.g. after a hard failure.
func (p *UrlProvider) deactivate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.transport != nil {
		p.transport.Close()
		p.transport = nil
	}
}

// call issues a raw JSON-RPC call over the active transport.
func (p *UrlProvider) call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	p.mu.Lock()
	t := p.transport
	p.mu.Unlock()
	if t == nil {
		return nil, ErrNotActivated
	}
	var args []interface{}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &args); err != nil {
			return nil, err
		}
	}
	var result json.RawMessage
	if err := t.CallContext(ctx, &result, method, args...); err != nil {
		return nil, err
	}
	return result, nil
}

// NodeProvider forwards EthAction::Request to a peer node's kernel over the
// message bus (§4.2 step 2).
type NodeProvider struct {
	Name   address.ProcessId // peer kernel's identity on the target node
	Node   string
	Usable bool
	health *health
}

// NewNodeProvider constructs a NodeProvider.
func NewNodeProvider(node string, name address.ProcessId) *NodeProvider {
	return &NodeProvider{Name: name, Node: node, Usable: true, health: newHealth()}
}
