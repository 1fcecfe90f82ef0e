package sysproc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/meshkernel/node/pkg/address"
	"github.com/meshkernel/node/pkg/ethprovider"
	"github.com/meshkernel/node/pkg/kernel"
	"github.com/meshkernel/node/pkg/kmsg"
	"github.com/meshkernel/node/pkg/log"
)

// subscriptionPollInterval is how often a live eth_subscribe("logs") stand-in
// re-polls eth_getLogs for newly matching entries (§4.2, §8 "Subscription
// liveness": a subscription must keep emitting or be explicitly closed).
// The pool exposes no persistent push transport, so polling is this
// module's stand-in for a websocket subscription.
const subscriptionPollInterval = 4 * time.Second

// EthProcess registers the chain's provider pool as a kernel-resident
// process and runs its mailbox dispatch loop (§4.2, §6).
type EthProcess struct {
	self   address.Address
	pool   *ethprovider.Pool
	dialer ethprovider.Dialer
	k      Kernel
	logger zerolog.Logger

	subMu sync.Mutex
	subs  map[string]context.CancelFunc
}

// NewEthProcess registers pool with k under the reserved "eth" ProcessId.
// dialer is used to activate UrlProviders added later via ConfigAddProvider.
func NewEthProcess(selfNode string, pool *ethprovider.Pool, dialer ethprovider.Dialer, k Kernel) (*EthProcess, <-chan kmsg.KernelMessage, error) {
	id := processID("eth")
	mailbox, err := k.Register(&kernel.Process{ID: id, Public: true})
	if err != nil {
		return nil, nil, err
	}
	self := address.Address{Node: selfNode, Process: id}
	return &EthProcess{
		self:   self,
		pool:   pool,
		dialer: dialer,
		k:      k,
		logger: log.WithProcessID(self.String()),
		subs:   make(map[string]context.CancelFunc),
	}, mailbox, nil
}

// Run drains mailbox until it closes, dispatching each request.
func (p *EthProcess) Run(mailbox <-chan kmsg.KernelMessage) {
	for km := range mailbox {
		p.handle(km)
	}
}

// Self returns the process's own bus address, the Issuer a caller's root
// capability must match to pass EthConfigAction's gate (§6).
func (p *EthProcess) Self() address.Address { return p.self }

// actionKinds is the set of valid EthAction.Kind values, used to
// disambiguate an EthAction body from an EthConfigAction body: both shapes
// decode successfully into either Go type (both have a bare "kind" string
// field), so only the kind vocabulary distinguishes them.
var actionKinds = map[kmsg.EthActionKind]bool{
	kmsg.EthActionRequest:         true,
	kmsg.EthActionSubscribeLogs:   true,
	kmsg.EthActionUnsubscribeLogs: true,
}

func (p *EthProcess) handle(km kmsg.KernelMessage) {
	var asAction kmsg.EthAction
	if err := km.Message.Decode(&asAction); err == nil && actionKinds[asAction.Kind] {
		p.handleAction(km, asAction)
		return
	}
	var asConfig kmsg.EthConfigAction
	if err := km.Message.Decode(&asConfig); err == nil && asConfig.Kind != "" {
		p.handleConfig(km, asConfig)
		return
	}
	p.replyErr(km, kmsg.EthErrMalformedRequest)
}

func (p *EthProcess) admit(source address.Address) bool {
	if source.Node == p.self.Node {
		return true
	}
	return p.pool.GetSettings().Admit(source.Node)
}

func (p *EthProcess) handleAction(km kmsg.KernelMessage, action kmsg.EthAction) {
	if !p.admit(km.Source) {
		p.replyErr(km, kmsg.EthErrPermissionDenied)
		return
	}

	switch action.Kind {
	case kmsg.EthActionRequest:
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		result, err := p.pool.Request(ctx, km.Source.Node, action.Method, action.Params)
		if err != nil {
			p.replyErr(km, classifyEthError(err))
			return
		}
		replyTo(p.k, p.self, km, kmsg.EthResponse{Kind: kmsg.EthRespValue, Value: result}, p.logger)

	case kmsg.EthActionSubscribeLogs:
		p.startSubscription(km, action)

	case kmsg.EthActionUnsubscribeLogs:
		p.stopSubscription(km.Source, action.SubID)
		replyTo(p.k, p.self, km, kmsg.EthResponse{Kind: kmsg.EthRespOk}, p.logger)

	default:
		p.replyErr(km, kmsg.EthErrInvalidMethod)
	}
}

// startSubscription launches the poll loop backing one logical eth_subscribe
// ("logs") call (§8 "Subscription liveness"), acknowledging immediately and
// then pushing unsolicited EthResponse{Kind: EthRespValue} Responses to the
// subscriber as matching logs are found.
func (p *EthProcess) startSubscription(km kmsg.KernelMessage, action kmsg.EthAction) {
	key := subscriptionKey(km.Source, action.SubID)

	ctx, cancel := context.WithCancel(context.Background())
	p.subMu.Lock()
	if old, exists := p.subs[key]; exists {
		old()
	}
	p.subs[key] = cancel
	p.subMu.Unlock()

	replyTo(p.k, p.self, km, kmsg.EthResponse{Kind: kmsg.EthRespOk, SubID: action.SubID}, p.logger)

	go p.runSubscription(ctx, km.Source, action)
}

func (p *EthProcess) stopSubscription(source address.Address, subID uint64) {
	key := subscriptionKey(source, subID)
	p.subMu.Lock()
	defer p.subMu.Unlock()
	if cancel, ok := p.subs[key]; ok {
		cancel()
		delete(p.subs, key)
	}
}

func (p *EthProcess) runSubscription(ctx context.Context, subscriber address.Address, action kmsg.EthAction) {
	ticker := time.NewTicker(subscriptionPollInterval)
	defer ticker.Stop()

	var filter map[string]interface{}
	if len(action.FilterParams) > 0 {
		_ = json.Unmarshal(action.FilterParams, &filter)
	}
	if filter == nil {
		filter = make(map[string]interface{})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			params, err := json.Marshal([]interface{}{filter})
			if err != nil {
				continue
			}
			reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			result, err := p.pool.Request(reqCtx, subscriber.Node, "eth_getLogs", params)
			cancel()
			if err != nil {
				continue
			}
			push := kmsg.KernelMessage{
				Source:  p.self,
				Target:  subscriber,
				Message: kmsg.Message{Kind: kmsg.KindResponse, Body: marshalBody(kmsg.EthResponse{Kind: kmsg.EthRespValue, Value: result, SubID: action.SubID})},
			}
			if err := p.k.Send(push); err != nil {
				p.logger.Debug().Err(err).Msg("subscription push failed")
			}
		}
	}
}

func subscriptionKey(source address.Address, subID uint64) string {
	return fmt.Sprintf("%s\x00%d", source.String(), subID)
}

func marshalBody(v interface{}) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}

func (p *EthProcess) replyErr(km kmsg.KernelMessage, kind kmsg.EthError) {
	replyTo(p.k, p.self, km, kmsg.EthResponse{Kind: kmsg.EthRespErr, Err: kind}, p.logger)
}

// classifyEthError maps an internal Request failure to the caller-visible
// EthError vocabulary (§6, §7).
func classifyEthError(err error) kmsg.EthError {
	if sendErr, ok := err.(kmsg.SendError); ok {
		switch sendErr.Reason {
		case string(kmsg.EthErrNoRpcForChain):
			return kmsg.EthErrNoRpcForChain
		case string(kmsg.EthErrRpcTimeout):
			return kmsg.EthErrRpcTimeout
		}
		if sendErr.Kind == kmsg.SendErrorTimeout {
			return kmsg.EthErrRpcTimeout
		}
		return kmsg.EthErrNoRpcForChain
	}
	return kmsg.EthErrRpcMalformedResponse
}
