package cacher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/meshkernel/node/pkg/address"
	"github.com/meshkernel/node/pkg/kmsg"
)

func (c *Cacher) selfProcess() address.ProcessId {
	return address.ProcessId{Name: "cacher", Package: "sys", Publisher: "sys"}
}

func peerCacherAddr(node string) address.Address {
	return address.Address{Node: node, Process: address.ProcessId{Name: "cacher", Package: "sys", Publisher: "sys"}}
}

// bootstrap implements §4.4's "Bootstrap protocol (new node)". It tries the
// configured peers first, falling back to two passes of the RPC batch
// producer if no peer delivered usable data.
func (c *Cacher) bootstrap(ctx context.Context) {
	c.mu.RLock()
	peers := append([]string(nil), c.peers...)
	c.mu.RUnlock()
	if len(peers) == 0 {
		c.rpcBootstrap(ctx)
		return
	}
	peers = shuffled(peers)

	reachable := c.waitForReachablePeer(ctx, peers)
	if len(reachable) == 0 {
		c.logger.Warn().Msg("no configured peer became reachable, falling back to rpc bootstrap")
		c.rpcBootstrap(ctx)
		return
	}

	gotData := false
	for _, peer := range reachable {
		if c.bootstrapFromPeer(ctx, peer) {
			gotData = true
		}
	}

	if !gotData {
		c.logger.Warn().Msg("no peer delivered usable bootstrap data, falling back to rpc bootstrap")
		c.rpcBootstrap(ctx)
	}
}

// waitForReachablePeer pings every configured peer for up to pingRounds
// rounds, 1 s apart, returning those confirmed reachable.
func (c *Cacher) waitForReachablePeer(ctx context.Context, peers []string) []string {
	remaining := make(map[string]bool, len(peers))
	for _, p := range peers {
		remaining[p] = true
	}
	var reachable []string

	for round := 0; round < pingRounds && len(remaining) > 0; round++ {
		for p := range remaining {
			if c.pinger != nil && c.pinger.Ping(ctx, p, pingTimeout) {
				reachable = append(reachable, p)
				delete(remaining, p)
			}
		}
		if len(remaining) == 0 {
			break
		}
		select {
		case <-time.After(1 * time.Second):
		case <-ctx.Done():
			return reachable
		}
	}
	return reachable
}

// bootstrapFromPeer issues GetStatus then GetLogsByRange against one peer,
// verifying and persisting whatever valid LogCaches come back. It returns
// true if at least one cache was accepted.
func (c *Cacher) bootstrapFromPeer(ctx context.Context, peer string) bool {
	if _, err := c.callPeer(peer, kmsg.CacherRequest{Kind: kmsg.CacherGetStatus}, getStatusTimeout); err != nil {
		c.logger.Debug().Err(err).Str("peer", peer).Msg("peer get_status failed")
		return false
	}

	c.mu.RLock()
	from := c.lastCachedBlock + 1
	c.mu.RUnlock()

	result, err := c.callPeerForLogs(peer, from, getLogsTimeout)
	if err != nil {
		c.logger.Debug().Err(err).Str("peer", peer).Msg("peer get_logs_by_range failed")
		return false
	}

	accepted := false
	for _, cache := range result.Logs {
		if c.acceptBootstrapCache(cache) {
			accepted = true
		}
	}
	return accepted
}

// acceptBootstrapCache implements §4.4 step 3: verify signature, persist on
// success, skip (without penalizing the donor) on failure.
func (c *Cacher) acceptBootstrapCache(cache LogCache) bool {
	pub, ok := c.resolver.NetPublicKey(cache.Metadata.CreatedBy)
	if !ok {
		c.logger.Debug().Str("created_by", cache.Metadata.CreatedBy).Msg("cannot resolve net key, skipping cache")
		return false
	}
	if err := verifyCacheSignature(cache, pub); err != nil {
		c.logger.Debug().Err(err).Msg("bootstrap cache failed signature verification, skipping")
		return false
	}

	fileBytes, err := marshalCache(cache)
	if err != nil {
		return false
	}
	filename := deterministicFilename(time.Now().Unix(), c.chainID, cache.Metadata.FromBlock, cache.Metadata.ToBlock, c.protocolVersion)
	if err := writeCacheFile(c.driveDir, filename, fileBytes); err != nil {
		c.logger.Error().Err(err).Msg("failed to persist bootstrap cache")
		return false
	}

	item := ManifestItem{
		FileName:  filename,
		FileHash:  fileHash(fileBytes),
		FromBlock: cache.Metadata.FromBlock,
		ToBlock:   cache.Metadata.ToBlock,
	}

	c.mu.Lock()
	c.manifest.Items[item.FileName] = item
	if cache.Metadata.ToBlock > c.lastCachedBlock {
		c.lastCachedBlock = cache.Metadata.ToBlock
	}
	manifestSnapshot := c.manifest.clone()
	lastCached := c.lastCachedBlock
	c.mu.Unlock()

	if err := saveManifestToDisk(c.driveDir, manifestSnapshot); err != nil {
		c.logger.Error().Err(err).Msg("failed to persist manifest after bootstrap cache")
	}
	if err := saveState(c.db, persistentState{ChainID: c.chainID, ProtocolVersion: c.protocolVersion, LastCachedBlock: lastCached, Peers: c.peers}); err != nil {
		c.logger.Error().Err(err).Msg("failed to persist checkpoint after bootstrap cache")
	}
	return true
}

// rpcBootstrap runs the batch producer twice: the second pass catches the
// tail that grew while the first was running (§4.4 step 4).
func (c *Cacher) rpcBootstrap(ctx context.Context) {
	for i := 0; i < 2; i++ {
		for {
			c.mu.RLock()
			last := c.lastCachedBlock
			c.mu.RUnlock()
			head, err := c.chain.BlockNumber(ctx)
			if err != nil {
				c.logger.Error().Err(err).Msg("rpc bootstrap: query head failed")
				return
			}
			if last >= head {
				break
			}
			if err := c.produceBatch(ctx); err != nil {
				c.logger.Error().Err(err).Msg("rpc bootstrap: batch production failed")
				return
			}
		}
	}
}

// callPeer sends req to peer's cacher process and returns its decoded
// CacherResponse, translating a wire-level Err variant into a Go error.
func (c *Cacher) callPeer(peer string, req kmsg.CacherRequest, timeout time.Duration) (kmsg.CacherResponse, error) {
	msg, err := kmsg.NewRequest(req, true)
	if err != nil {
		return kmsg.CacherResponse{}, err
	}
	source := address.Address{Node: c.selfNode, Process: c.selfProcess()}
	km := kmsg.KernelMessage{Source: source, Target: peerCacherAddr(peer), Message: msg}
	raw, err := c.bus.SendAndAwait(km, timeout)
	if err != nil {
		return kmsg.CacherResponse{}, fmt.Errorf("bootstrap call to %s: %w", peer, err)
	}
	var resp kmsg.CacherResponse
	if err := raw.Decode(&resp); err != nil {
		return kmsg.CacherResponse{}, fmt.Errorf("decode response from %s: %w", peer, err)
	}
	if resp.Kind == kmsg.CacherRespErr {
		return kmsg.CacherResponse{}, fmt.Errorf("peer %s returned %s", peer, resp.Err)
	}
	return resp, nil
}

// callPeerForLogs issues GetLogsByRange and decodes the logsByRangeResult
// payload out of the response envelope.
func (c *Cacher) callPeerForLogs(peer string, from uint64, timeout time.Duration) (logsByRangeResult, error) {
	resp, err := c.callPeer(peer, kmsg.CacherRequest{Kind: kmsg.CacherGetLogsByRange, From: from, To: nil}, timeout)
	if err != nil {
		return logsByRangeResult{}, err
	}
	var result logsByRangeResult
	if err := json.Unmarshal(resp.Value, &result); err != nil {
		return logsByRangeResult{}, fmt.Errorf("decode logs_by_range payload: %w", err)
	}
	return result, nil
}
