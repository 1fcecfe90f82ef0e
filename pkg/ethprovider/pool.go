package ethprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/meshkernel/node/pkg/address"
	"github.com/meshkernel/node/pkg/backoff"
	"github.com/meshkernel/node/pkg/kmsg"
	"github.com/meshkernel/node/pkg/log"
	"github.com/meshkernel/node/pkg/metrics"
)

// requestTimeout is §4.2's "wait up to 30 s for a response" from a peer
// node provider.
const requestTimeout = 30 * time.Second

// MessageBus is the pool's view of the kernel for forwarding requests to
// NodeProviders: an addressed send-and-await-response call.
type MessageBus interface {
	SendAndAwait(km kmsg.KernelMessage, timeout time.Duration) (kmsg.Message, error)
}

// Settings is a chain's access-control configuration (§4.2 "Access control").
type Settings struct {
	Public bool
	Allow  map[string]bool
	Deny   map[string]bool
}

// Admit reports whether a request from sourceNode is allowed.
func (s Settings) Admit(sourceNode string) bool {
	if s.Deny[sourceNode] {
		return false
	}
	return s.Public || s.Allow[sourceNode]
}

// Pool is the ordered provider list for one chain id.
type Pool struct {
	ChainID uint64

	mu       sync.RWMutex
	urls     []*UrlProvider
	nodes    []*NodeProvider
	settings Settings

	self string // this node's name, to skip self-targeting NodeProviders

	bus    MessageBus
	logger zerolog.Logger

	retryMu sync.Mutex
	retrying map[string]bool
}

// NewPool creates an empty Pool for chainID.
func NewPool(chainID uint64, self string, bus MessageBus) *Pool {
	return &Pool{
		ChainID:  chainID,
		self:     self,
		bus:      bus,
		logger:   log.WithChainID(chainID),
		retrying: make(map[string]bool),
	}
}

// AddURLProvider appends a UrlProvider to the pool's URL list (root-gated
// configuration per §4.2).
func (p *Pool) AddURLProvider(up *UrlProvider) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.urls = append(p.urls, up)
}

// AddNodeProvider appends a NodeProvider to the pool's node list.
func (p *Pool) AddNodeProvider(np *NodeProvider) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nodes = append(p.nodes, np)
}

// SetSettings replaces the pool's access-control settings.
func (p *Pool) SetSettings(s Settings) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settings = s
}

// GetSettings returns a copy of the pool's current access-control settings.
func (p *Pool) GetSettings() Settings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.settings
}

// RemoveProvider drops a UrlProvider or NodeProvider by name, closing any
// open transport. Reports whether a matching provider was found.
func (p *Pool) RemoveProvider(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, up := range p.urls {
		if up.Name == name {
			up.deactivate()
			p.urls = append(p.urls[:i], p.urls[i+1:]...)
			return true
		}
	}
	for i, np := range p.nodes {
		if np.Name.String() == name {
			p.nodes = append(p.nodes[:i], p.nodes[i+1:]...)
			return true
		}
	}
	return false
}

// ProviderNames lists the pool's current providers in priority order, URL
// providers first then node providers, for ConfigGetProviders.
func (p *Pool) ProviderNames() []string {
	urls, nodes := p.snapshot()
	names := make([]string, 0, len(urls)+len(nodes))
	for _, up := range urls {
		names = append(names, up.Name)
	}
	for _, np := range nodes {
		names = append(names, np.Name.String())
	}
	return names
}

// snapshot returns the current provider lists without holding the lock
// across the (possibly slow) request walk.
func (p *Pool) snapshot() ([]*UrlProvider, []*NodeProvider) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	urls := make([]*UrlProvider, len(p.urls))
	copy(urls, p.urls)
	nodes := make([]*NodeProvider, len(p.nodes))
	copy(nodes, p.nodes)
	return urls, nodes
}

// Request implements §4.2's request policy: walk URL providers, then
// NodeProviders, failing NoRpcForChain when every candidate is exhausted.
func (p *Pool) Request(ctx context.Context, sourceNode, method string, params json.RawMessage) (json.RawMessage, error) {
	urls, nodes := p.snapshot()

	for _, up := range urls {
		if !up.activated() {
			if err := up.activate(ctx); err != nil {
				up.deactivate()
				continue
			}
		}
		result, err := up.call(ctx, method, params)
		if err == nil {
			metrics.ProviderRequestsTotal.WithLabelValues(fmt.Sprint(p.ChainID), up.Name, "ok").Inc()
			return result, nil
		}
		p.logger.Debug().Err(err).Str("provider", up.Name).Str("method", method).Msg("url provider request failed")
		metrics.ProviderRequestsTotal.WithLabelValues(fmt.Sprint(p.ChainID), up.Name, "error").Inc()
		up.deactivate()
		if method == "eth_sendRawTransaction" {
			up.health.markSendRawTxCooldown()
			p.triggerSendRawTxCooldown(up.Name, up.health)
			continue
		}
		up.health.markMethodFailure(method)
		p.triggerRetry(up.Name, func(ctx context.Context) error { return up.activate(ctx) }, up.health)
	}

	for _, np := range nodes {
		if !np.Usable || np.Node == p.self {
			continue
		}
		result, err := p.forwardToNode(ctx, sourceNode, np, method, params)
		if err == nil {
			metrics.ProviderRequestsTotal.WithLabelValues(fmt.Sprint(p.ChainID), np.Name.String(), "ok").Inc()
			return result, nil
		}
		p.logger.Debug().Err(err).Str("provider", np.Name.String()).Str("method", method).Msg("node provider request failed")
		metrics.ProviderRequestsTotal.WithLabelValues(fmt.Sprint(p.ChainID), np.Name.String(), "error").Inc()
		np.Usable = false
		p.triggerRetry(np.Name.String(), func(ctx context.Context) error { return p.probeNode(ctx, np) }, np.health)
	}

	return nil, kmsg.SendError{Kind: kmsg.SendErrorOffline, Reason: string(kmsg.EthErrNoRpcForChain)}
}

// forwardToNode implements step 2 of §4.2's request policy: relay the
// request over the message bus as an EthAction::Request.
func (p *Pool) forwardToNode(ctx context.Context, sourceNode string, np *NodeProvider, method string, params json.RawMessage) (json.RawMessage, error) {
	action := kmsg.EthAction{Kind: kmsg.EthActionRequest, ChainID: p.ChainID, Method: method, Params: params}
	msg, err := kmsg.NewRequest(action, true)
	if err != nil {
		return nil, err
	}
	target := address.Address{Node: np.Node, Process: np.Name}
	source := address.Address{Node: sourceNode, Process: address.ProcessId{Name: "eth", Package: "sys", Publisher: "sys"}}
	resp, err := p.bus.SendAndAwait(kmsg.KernelMessage{Source: source, Target: target, Message: msg}, requestTimeout)
	if err != nil {
		return nil, err
	}
	var ethResp kmsg.EthResponse
	if err := resp.Decode(&ethResp); err != nil {
		return nil, fmt.Errorf("%s: %w", kmsg.EthErrRpcMalformedResponse, err)
	}
	if ethResp.Kind == kmsg.EthRespErr {
		return nil, ethResp.Err
	}
	return ethResp.Value, nil
}

// probeNode issues an addressed eth_blockNumber request used by the health
// retry task (§4.2 "for node providers: identical cadence via an addressed
// eth_blockNumber request").
func (p *Pool) probeNode(ctx context.Context, np *NodeProvider) error {
	_, err := p.forwardToNode(ctx, p.self, np, "eth_blockNumber", nil)
	return err
}

// triggerSendRawTxCooldown implements §4.2's distinguished eth_sendRawTransaction
// handling: a single fixed 60-minute cooldown, then the flag clears
// regardless of any probe outcome.
func (p *Pool) triggerSendRawTxCooldown(key string, h *health) {
	sentinel := key + "\x00sendRawTx"
	p.retryMu.Lock()
	if p.retrying[sentinel] {
		p.retryMu.Unlock()
		return
	}
	p.retrying[sentinel] = true
	p.retryMu.Unlock()

	go func() {
		defer func() {
			p.retryMu.Lock()
			delete(p.retrying, sentinel)
			p.retryMu.Unlock()
		}()
		time.Sleep(60 * time.Minute)
		h.sendRawTxClearIfExpired()
		p.logger.Info().Str("provider", key).Msg("eth_sendRawTransaction cooldown cleared")
	}()
}

// triggerRetry spawns the background health-check retry task described by
// §4.2 "Health tracking" using a ticker/stopCh retry loop, one instance per
// offline provider rather than one global monitor.
func (p *Pool) triggerRetry(key string, probe func(ctx context.Context) error, h *health) {
	p.retryMu.Lock()
	if p.retrying[key] {
		p.retryMu.Unlock()
		return
	}
	p.retrying[key] = true
	p.retryMu.Unlock()

	h.markOffline()
	metrics.ProvidersOnline.WithLabelValues(fmt.Sprint(p.ChainID), key).Set(0)

	go func() {
		defer func() {
			p.retryMu.Lock()
			delete(p.retrying, key)
			p.retryMu.Unlock()
		}()

		for {
			wait := backoff.StepFor(h.retryFailures)
			time.Sleep(wait)

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := probe(ctx)
			cancel()
			if err == nil {
				h.markOnline()
				metrics.ProvidersOnline.WithLabelValues(fmt.Sprint(p.ChainID), key).Set(1)
				p.logger.Info().Str("provider", key).Msg("provider returned to rotation")
				return
			}
			h.mu.Lock()
			h.retryFailures++
			h.mu.Unlock()
			p.logger.Debug().Err(err).Str("provider", key).Msg("provider still offline")
		}
	}()
}
