package cacher

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/meshkernel/node/pkg/kmsg"
	"github.com/meshkernel/node/pkg/log"
	"github.com/meshkernel/node/pkg/storage"
)

const (
	batchSize          = 2000
	maxLogRetries      = 5
	logRetryDelay      = 2 * time.Second
	batchLoopInterval  = 15 * time.Second
	pingTimeout        = 1 * time.Second
	pingRounds         = 10
	getStatusTimeout   = 3 * time.Second
	getLogsTimeout     = 15 * time.Second
)

// ChainClient is the subset of an eth RPC client the cacher needs to
// produce batches; satisfied in production by
// pkg/ethprovider.PoolChainClient, so batch production inherits the
// provider pool's failover, and by a fake in tests.
type ChainClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// MessageBus is how the cacher reaches a peer's cacher process over the
// kernel message bus during bootstrap (§4.4 "Bootstrap protocol").
type MessageBus interface {
	SendAndAwait(km kmsg.KernelMessage, timeout time.Duration) (kmsg.Message, error)
}

// NetPinger confirms peer reachability independent of the cacher's own
// request/response protocol, mirroring §4.4 step 1's net-driver ping.
type NetPinger interface {
	Ping(ctx context.Context, node string, timeout time.Duration) bool
}

// NetKeyResolver maps a node address to the ed25519 public key a LogCache's
// signature must verify against, so bootstrap never has to trust a peer's
// own claim about its identity.
type NetKeyResolver interface {
	NetPublicKey(node string) (ed25519.PublicKey, bool)
}

// Cacher implements §4.4: batch production against the registry's logs,
// serving GetLogsByRange to peers, and bootstrapping a fresh node from
// whichever peers (or, failing that, the chain itself) can supply history.
type Cacher struct {
	selfNode        string
	chainID         uint64
	protocolVersion uint32
	registryAddr    string
	driveDir        string

	chain    ChainClient
	bus      MessageBus
	pinger   NetPinger
	resolver NetKeyResolver
	db       *storage.DB

	netPriv ed25519.PrivateKey

	mu              sync.RWMutex
	manifest        Manifest
	lastCachedBlock uint64
	isStarting      bool
	isProviding     bool
	peers           []string

	logger zerolog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Cacher. driveDir holds the manifest and cache files;
// db is the node's shared bbolt handle used for the small progress record
// that must survive a restart before the manifest is trusted (§4.4
// "Validation at boot").
func New(selfNode string, chainID uint64, protocolVersion uint32, registryAddr, driveDir string, chain ChainClient, bus MessageBus, pinger NetPinger, resolver NetKeyResolver, netPriv ed25519.PrivateKey, peers []string, db *storage.DB) (*Cacher, error) {
	if err := db.EnsureBuckets(stateBucket); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(driveDir, 0o755); err != nil {
		return nil, fmt.Errorf("create drive dir: %w", err)
	}
	return &Cacher{
		selfNode:        selfNode,
		chainID:         chainID,
		protocolVersion: protocolVersion,
		registryAddr:    registryAddr,
		driveDir:        driveDir,
		chain:           chain,
		bus:             bus,
		pinger:          pinger,
		resolver:        resolver,
		db:              db,
		netPriv:         netPriv,
		manifest:        newManifest(chainID, protocolVersion),
		isStarting:      true,
		peers:           peers,
		logger:          log.WithComponent("cacher").With().Uint64("chain_id", chainID).Logger(),
		stopCh:          make(chan struct{}),
	}, nil
}

// Start validates persisted state, runs bootstrap, then launches the
// recurring batch-production loop.
func (c *Cacher) Start(ctx context.Context) error {
	if err := c.loadAndValidate(); err != nil {
		return fmt.Errorf("validate cacher state: %w", err)
	}

	c.bootstrap(ctx)

	c.mu.Lock()
	c.isStarting = false
	c.mu.Unlock()

	c.wg.Add(1)
	go c.runBatchLoop(ctx)
	return nil
}

// Stop halts the batch loop. In-flight bootstrap calls are not cancelled;
// Start is expected to have already returned by the time Stop is called.
func (c *Cacher) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

// loadAndValidate implements §4.4 "Validation at boot": in-memory manifest
// (freshly constructed empty) is compared against the on-disk manifest and
// the saved progress record; any mismatch wipes the drive and starts over.
func (c *Cacher) loadAndValidate() error {
	st, found, err := loadState(c.db)
	if err != nil {
		return err
	}
	onDisk, ok, err := loadManifestFromDisk(c.driveDir)
	if err != nil {
		return err
	}

	wipe := false
	switch {
	case !found || !ok:
		wipe = found != ok // one exists without the other: inconsistent
	case onDisk.ChainID != c.chainID || onDisk.ProtocolVersion != c.protocolVersion:
		wipe = true
	case st.ChainID != c.chainID || st.ProtocolVersion != c.protocolVersion:
		wipe = true
	default:
		for _, item := range onDisk.Items {
			if item.IsEmpty {
				continue
			}
			if _, err := readCacheFile(c.driveDir, item.FileName); err != nil {
				wipe = true
				break
			}
		}
		if onDisk.maxToBlock() > st.LastCachedBlock && st.LastCachedBlock != 0 {
			// on-disk manifest claims more progress than our saved
			// checkpoint: treat as regression risk rather than trust it.
			wipe = true
		}
	}

	if wipe {
		c.logger.Warn().Msg("cacher state invalid or inconsistent, wiping drive")
		if err := wipeDrive(c.driveDir); err != nil {
			return err
		}
		c.manifest = newManifest(c.chainID, c.protocolVersion)
		c.lastCachedBlock = 0
		return saveState(c.db, persistentState{ChainID: c.chainID, ProtocolVersion: c.protocolVersion, Peers: c.peers})
	}

	if found && ok {
		c.manifest = onDisk
		c.lastCachedBlock = st.LastCachedBlock
		if len(st.Peers) > 0 {
			c.peers = st.Peers
		}
	} else {
		c.manifest = newManifest(c.chainID, c.protocolVersion)
	}
	return nil
}

func (c *Cacher) runBatchLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(batchLoopInterval)
	defer ticker.Stop()

	c.logger.Info().Msg("cacher batch loop started")
	for {
		select {
		case <-ticker.C:
			if err := c.produceBatch(ctx); err != nil {
				c.logger.Error().Err(err).Msg("batch production failed")
			}
		case <-c.stopCh:
			c.logger.Info().Msg("cacher batch loop stopped")
			return
		}
	}
}

// Status returns the current CacherGetStatus payload.
func (c *Cacher) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Status{
		ChainID:         c.chainID,
		ProtocolVersion: c.protocolVersion,
		LastCachedBlock: c.lastCachedBlock,
		IsStarting:      c.isStarting,
		IsProviding:     c.isProviding,
	}
}

func shuffled(peers []string) []string {
	out := append([]string(nil), peers...)
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}
