package indexer

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/meshkernel/node/pkg/log"
	"github.com/meshkernel/node/pkg/metrics"
	"github.com/meshkernel/node/pkg/storage"
)

const (
	pendingDrainInterval = 2 * time.Second
	checkpointInterval   = 5 * time.Minute
	checkpointBucket     = "indexer"
	checkpointKey        = "state"
)

// NetBroadcaster is the indexer's view of the net driver: push a routing
// record out so peers' addressing stays current (§4.3 "Broadcast changes").
type NetBroadcaster interface {
	Broadcast(update HnsUpdate)
}

// diskState is the JSON-serializable form of State, written by
// saveCheckpoint and read back by loadCheckpoint.
type diskState struct {
	Names        map[string]string      `json:"names"` // hex namehash -> name
	Nodes        map[string]HnsUpdate   `json:"nodes"`
	LastBlock    uint64                 `json:"last_block"`
}

// Indexer is the node's identity indexer (§4.3).
type Indexer struct {
	chainID  uint64
	registry common.Address

	chain ChainClient
	net   NetBroadcaster
	db    *storage.DB

	state *State

	stopCh  chan struct{}
	wg      sync.WaitGroup
	dirty   sync.Mutex
	isDirty bool

	logger zerolog.Logger
}

// New constructs an Indexer for the given chain/registry contract.
func New(chainID uint64, registry common.Address, chain ChainClient, net NetBroadcaster, db *storage.DB) (*Indexer, error) {
	if err := db.EnsureBuckets(checkpointBucket); err != nil {
		return nil, err
	}
	idx := &Indexer{
		chainID:  chainID,
		registry: registry,
		chain:    chain,
		net:      net,
		db:       db,
		state:    NewState(),
		stopCh:   make(chan struct{}),
		logger:   log.WithChainID(chainID),
	}
	// RootNamehash is the registry's fixed top-level label; every Mint at
	// the root needs a parent name already on record (§4.3 "Event model").
	idx.state.InsertName(RootNamehash, "os")
	return idx, nil
}

// Start runs §4.3's cold-start sequence, then launches the live subscription,
// pending-notes drain loop, and checkpoint loop as background goroutines.
func (idx *Indexer) Start(ctx context.Context) error {
	if err := idx.loadCheckpoint(); err != nil {
		idx.logger.Warn().Err(err).Msg("no usable checkpoint, starting from genesis")
	}

	head, err := idx.chain.BlockNumber(ctx)
	if err != nil {
		return err
	}

	from := idx.state.LastBlock() + 1
	if from <= head {
		logs, err := idx.chain.FilterLogs(ctx, filterQuery(idx.registry, from, &head))
		if err != nil {
			return err
		}
		idx.processBatch(logs)
	}
	idx.state.SetLastBlock(head)

	liveCh := make(chan types.Log, 256)
	sub, err := idx.chain.SubscribeFilterLogs(ctx, filterQuery(idx.registry, head+1, nil), liveCh)
	if err != nil {
		return err
	}

	for _, u := range idx.state.snapshotNodes() {
		if u.Complete() {
			idx.net.Broadcast(u)
		}
	}

	idx.wg.Add(3)
	go idx.runLive(sub, liveCh)
	go idx.runPendingDrain()
	go idx.runCheckpoint()

	return nil
}

// Stop halts all of the indexer's background goroutines.
func (idx *Indexer) Stop() {
	close(idx.stopCh)
	idx.wg.Wait()
}

func (idx *Indexer) runLive(sub ethereum.Subscription, ch chan types.Log) {
	defer idx.wg.Done()
	defer sub.Unsubscribe()
	for {
		select {
		case l := <-ch:
			idx.processBatch([]types.Log{l})
			idx.state.SetLastBlock(l.BlockNumber)
		case err := <-sub.Err():
			idx.logger.Error().Err(err).Msg("live log subscription closed")
			return
		case <-idx.stopCh:
			return
		}
	}
}

func (idx *Indexer) processBatch(logs []types.Log) {
	for _, l := range logs {
		mint, note, err := decodeLog(l)
		if err != nil {
			idx.logger.Debug().Err(err).Msg("skipping undecodable log")
			continue
		}
		idx.markDirty()
		if mint != nil {
			if _, ok := idx.state.applyMint(*mint); !ok {
				idx.logger.Warn().Str("child_hash", mint.ChildHash.Hex()).Msg("mint references unknown parent")
			}
			continue
		}
		idx.applyOrBuffer(*note)
	}
}

func (idx *Indexer) applyOrBuffer(n Note) {
	vn, err := ValidateNote(n)
	if err != nil {
		idx.logger.Warn().Err(err).Str("label", n.NoteLabel).Msg("rejecting malformed note")
		return
	}
	rec, ok := idx.state.applyNote(vn)
	if !ok {
		idx.state.bufferPending(n)
		metrics.IndexerPendingNotes.WithLabelValues(chainIDLabel(idx.chainID)).Set(float64(idx.state.pendingCount()))
		return
	}
	if rec.Complete() {
		idx.net.Broadcast(rec)
	}
}

// runPendingDrain implements §4.3's "each tick (2s) the indexer drains all
// buffered notes with block <= last_block".
func (idx *Indexer) runPendingDrain() {
	defer idx.wg.Done()
	ticker := time.NewTicker(pendingDrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, block := range idx.state.drainableBlocks() {
				notes := idx.state.takePending(block)
				var failed []pendingNote
				for _, p := range notes {
					vn, err := ValidateNote(p.note)
					if err != nil {
						idx.logger.Warn().Err(err).Msg("dropping malformed pending note")
						continue
					}
					rec, ok := idx.state.applyNote(vn)
					if !ok {
						failed = append(failed, p)
						continue
					}
					if rec.Complete() {
						idx.net.Broadcast(rec)
					}
				}
				if len(failed) > 0 {
					dropped := idx.state.requeuePending(block, failed)
					if dropped > 0 {
						idx.logger.Warn().Int("dropped", dropped).Uint64("block", block).Msg("dropped notes exceeding max pending attempts")
					}
				}
			}
			metrics.IndexerPendingNotes.WithLabelValues(chainIDLabel(idx.chainID)).Set(float64(idx.state.pendingCount()))
		case <-idx.stopCh:
			return
		}
	}
}

// runCheckpoint implements §4.3's 5-minute checkpoint: serialize and
// persist the full state if any event has advanced the view since the last
// write.
func (idx *Indexer) runCheckpoint() {
	defer idx.wg.Done()
	ticker := time.NewTicker(checkpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if idx.consumeDirty() {
				if err := idx.saveCheckpoint(); err != nil {
					idx.logger.Error().Err(err).Msg("checkpoint write failed")
				}
			}
		case <-idx.stopCh:
			return
		}
	}
}

func (idx *Indexer) markDirty() {
	idx.dirty.Lock()
	idx.isDirty = true
	idx.dirty.Unlock()
}

func (idx *Indexer) consumeDirty() bool {
	idx.dirty.Lock()
	defer idx.dirty.Unlock()
	was := idx.isDirty
	idx.isDirty = false
	return was
}

func (idx *Indexer) saveCheckpoint() error {
	ds := diskState{
		Names:     make(map[string]string),
		Nodes:     make(map[string]HnsUpdate),
		LastBlock: idx.state.LastBlock(),
	}
	idx.state.mu.RLock()
	for h, n := range idx.state.names {
		ds.Names[h.Hex()] = n
	}
	for name, u := range idx.state.nodes {
		ds.Nodes[name] = u
	}
	idx.state.mu.RUnlock()

	raw, err := json.Marshal(ds)
	if err != nil {
		return err
	}
	if err := idx.db.Put(checkpointBucket, checkpointKey, raw); err != nil {
		return err
	}
	metrics.IndexerLastBlock.WithLabelValues(chainIDLabel(idx.chainID)).Set(float64(ds.LastBlock))
	return nil
}

func (idx *Indexer) loadCheckpoint() error {
	raw, err := idx.db.Get(checkpointBucket, checkpointKey)
	if err != nil {
		return err
	}
	if raw == nil {
		return nil
	}
	var ds diskState
	if err := json.Unmarshal(raw, &ds); err != nil {
		return err
	}
	idx.state.mu.Lock()
	for hexHash, name := range ds.Names {
		idx.state.names[common.HexToHash(hexHash)] = name
	}
	for name, u := range ds.Nodes {
		idx.state.nodes[name] = u
	}
	idx.state.lastBlock = ds.LastBlock
	idx.state.mu.Unlock()
	return nil
}

// State exposes the indexer's shared projection so pkg/resolver and the
// mailbox dispatcher can serve on-demand lookups and IndexerRequest::GetState
// against the same live data the subscription loop updates.
func (idx *Indexer) State() *State {
	return idx.state
}

// Reset implements §4.3's root-capability-gated reset: the caller is
// responsible for verifying the root capability before calling this (e.g.
// via the kernel's HasCapability), matching how the indexer's request
// handler dispatches IndexerRequest{Kind: IndexerReset}.
func (idx *Indexer) Reset() error {
	idx.state.reset()
	idx.markDirty()
	return idx.saveCheckpoint()
}

func chainIDLabel(id uint64) string {
	return strconv.FormatUint(id, 10)
}
