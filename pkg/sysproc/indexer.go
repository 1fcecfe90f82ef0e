package sysproc

import (
	"context"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/meshkernel/node/pkg/address"
	"github.com/meshkernel/node/pkg/indexer"
	"github.com/meshkernel/node/pkg/kernel"
	"github.com/meshkernel/node/pkg/kmsg"
	"github.com/meshkernel/node/pkg/log"
)

// indexerLookup is the subset of *resolver.Resolver the dispatcher needs for
// IndexerNodeInfo / IndexerNamehashToName (§4.3 "On-demand lookup").
type indexerLookup interface {
	NodeInfo(ctx context.Context, name string) (indexer.HnsUpdate, bool, error)
	NamehashToName(hash indexer.Namehash) (string, bool)
}

// indexerBackend is the subset of *indexer.Indexer the dispatcher needs for
// IndexerGetState / IndexerReset.
type indexerBackend interface {
	State() *indexer.State
	Reset() error
}

// indexerStateSnapshot is the payload behind IndexerRespState.
type indexerStateSnapshot struct {
	Nodes     []indexer.HnsUpdate `json:"nodes"`
	LastBlock uint64              `json:"last_block"`
}

// IndexerProcess registers the indexer as a kernel-resident process and runs
// its mailbox dispatch loop (§4.3, §6).
type IndexerProcess struct {
	self     address.Address
	backend  indexerBackend
	resolver indexerLookup
	k        Kernel
	logger   zerolog.Logger
}

// NewIndexerProcess registers backend/resolver with k under the reserved
// "indexer" ProcessId.
func NewIndexerProcess(selfNode string, backend indexerBackend, resolver indexerLookup, k Kernel) (*IndexerProcess, <-chan kmsg.KernelMessage, error) {
	id := processID("indexer")
	mailbox, err := k.Register(&kernel.Process{ID: id, Public: true})
	if err != nil {
		return nil, nil, err
	}
	self := address.Address{Node: selfNode, Process: id}
	return &IndexerProcess{self: self, backend: backend, resolver: resolver, k: k, logger: log.WithProcessID(self.String())}, mailbox, nil
}

// Run drains mailbox until it closes, dispatching each request.
func (p *IndexerProcess) Run(mailbox <-chan kmsg.KernelMessage) {
	for km := range mailbox {
		p.handle(km)
	}
}

// Self returns the process's own bus address, the Issuer a caller's root
// capability must match to pass IndexerReset's gate (§6).
func (p *IndexerProcess) Self() address.Address { return p.self }

func (p *IndexerProcess) handle(km kmsg.KernelMessage) {
	var req kmsg.IndexerRequest
	if err := km.Message.Decode(&req); err != nil {
		p.reply(km, kmsg.IndexerResponse{Kind: kmsg.IndexerRespErr, Err: kmsg.IndexerErrMalformed})
		return
	}

	switch req.Kind {
	case kmsg.IndexerNamehashToName:
		hash := common.HexToHash(req.Namehash)
		name, ok := p.resolver.NamehashToName(hash)
		if !ok {
			p.reply(km, kmsg.IndexerResponse{Kind: kmsg.IndexerRespErr, Err: kmsg.IndexerErrNotFound})
			return
		}
		p.reply(km, valueResponse(kmsg.IndexerRespName, name))

	case kmsg.IndexerNodeInfo:
		rec, ok, err := p.resolver.NodeInfo(context.Background(), req.Name)
		if err != nil {
			p.logger.Debug().Err(err).Str("name", req.Name).Msg("node_info lookup failed")
			p.reply(km, kmsg.IndexerResponse{Kind: kmsg.IndexerRespErr, Err: kmsg.IndexerErrNotFound})
			return
		}
		if !ok {
			p.reply(km, kmsg.IndexerResponse{Kind: kmsg.IndexerRespErr, Err: kmsg.IndexerErrNotFound})
			return
		}
		p.reply(km, valueResponse(kmsg.IndexerRespNodeInfo, rec))

	case kmsg.IndexerGetState:
		state := p.backend.State()
		snap := indexerStateSnapshot{Nodes: state.AllNodes(), LastBlock: state.LastBlock()}
		p.reply(km, valueResponse(kmsg.IndexerRespState, snap))

	case kmsg.IndexerReset:
		if !p.k.HasCapability(km.Source, address.RootCapability(p.self)) {
			p.reply(km, kmsg.IndexerResponse{Kind: kmsg.IndexerRespErr, Err: kmsg.IndexerErrNoRootCap})
			return
		}
		if err := p.backend.Reset(); err != nil {
			p.logger.Error().Err(err).Msg("indexer reset failed")
			p.reply(km, kmsg.IndexerResponse{Kind: kmsg.IndexerRespErr, Err: kmsg.IndexerErrMalformed})
			return
		}
		p.reply(km, kmsg.IndexerResponse{Kind: kmsg.IndexerRespOk})

	default:
		p.reply(km, kmsg.IndexerResponse{Kind: kmsg.IndexerRespErr, Err: kmsg.IndexerErrMalformed})
	}
}

func (p *IndexerProcess) reply(km kmsg.KernelMessage, resp kmsg.IndexerResponse) {
	replyTo(p.k, p.self, km, resp, p.logger)
}

func valueResponse(kind kmsg.IndexerResponseKind, v interface{}) kmsg.IndexerResponse {
	raw, err := json.Marshal(v)
	if err != nil {
		return kmsg.IndexerResponse{Kind: kmsg.IndexerRespErr, Err: kmsg.IndexerErrMalformed}
	}
	return kmsg.IndexerResponse{Kind: kind, Value: raw}
}
