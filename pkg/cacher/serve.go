package cacher

import (
	"encoding/json"
	"sort"

	"github.com/meshkernel/node/pkg/address"
	"github.com/meshkernel/node/pkg/kmsg"
)

// logsByRangeResult is the payload behind CacherRespLogs.
type logsByRangeResult struct {
	Logs            []LogCache `json:"logs"`
	LastCachedBlock uint64     `json:"last_cached_block"`
}

func errResponse(err kmsg.CacherError) kmsg.CacherResponse {
	return kmsg.CacherResponse{Kind: kmsg.CacherRespErr, Err: err}
}

func valueResponse(kind kmsg.CacherResponseKind, v interface{}) kmsg.CacherResponse {
	raw, err := json.Marshal(v)
	if err != nil {
		return errResponse(kmsg.CacherErrMalformed)
	}
	return kmsg.CacherResponse{Kind: kind, Value: raw}
}

// Handle dispatches one CacherRequest per §4.4 "Serving" and §6. source is
// the requesting process's address. Remote requests are accepted only while
// c.isProviding is set (toggled by StartProviding/StopProviding).
func (c *Cacher) Handle(source address.Address, req kmsg.CacherRequest) kmsg.CacherResponse {
	c.mu.RLock()
	starting := c.isStarting
	providing := c.isProviding
	selfNode := c.selfNode
	c.mu.RUnlock()

	if starting {
		return errResponse(kmsg.CacherErrIsStarting)
	}

	local := source.Node == selfNode
	if !local {
		// §4.4 "Serving" (b): only a remote peer's own cacher process may
		// call in at all; every other remote process is rejected outright.
		if source.Process.Name != "cacher" {
			return errResponse(kmsg.CacherErrRejected)
		}
		if req.Kind != kmsg.CacherGetStatus && req.Kind != kmsg.CacherGetLogsByRange && req.Kind != kmsg.CacherGetManifest && req.Kind != kmsg.CacherGetLogCacheContent {
			return errResponse(kmsg.CacherErrRejected)
		}
		if !providing {
			return errResponse(kmsg.CacherErrRejected)
		}
	}

	switch req.Kind {
	case kmsg.CacherGetStatus:
		return valueResponse(kmsg.CacherRespStatus, c.Status())
	case kmsg.CacherGetManifest:
		c.mu.RLock()
		m := c.manifest.clone()
		c.mu.RUnlock()
		return valueResponse(kmsg.CacherRespManifest, m)
	case kmsg.CacherGetLogCacheContent:
		return c.handleGetLogCacheContent(req.Filename)
	case kmsg.CacherGetLogsByRange:
		return c.handleGetLogsByRange(req.From, req.To)
	case kmsg.CacherStartProviding:
		if !local {
			return errResponse(kmsg.CacherErrRejected)
		}
		c.mu.Lock()
		c.isProviding = true
		c.mu.Unlock()
		return kmsg.CacherResponse{Kind: kmsg.CacherRespOk}
	case kmsg.CacherStopProviding:
		if !local {
			return errResponse(kmsg.CacherErrRejected)
		}
		c.mu.Lock()
		c.isProviding = false
		c.mu.Unlock()
		return kmsg.CacherResponse{Kind: kmsg.CacherRespOk}
	case kmsg.CacherSetNodes:
		if !local {
			return errResponse(kmsg.CacherErrRejected)
		}
		c.mu.Lock()
		c.peers = req.Nodes
		c.mu.Unlock()
		_ = saveState(c.db, persistentState{ChainID: c.chainID, ProtocolVersion: c.protocolVersion, LastCachedBlock: c.lastCachedBlock, Peers: req.Nodes})
		return kmsg.CacherResponse{Kind: kmsg.CacherRespOk}
	case kmsg.CacherReset:
		if !local {
			return errResponse(kmsg.CacherErrRejected)
		}
		if err := c.Reset(); err != nil {
			return errResponse(kmsg.CacherErrMalformed)
		}
		return kmsg.CacherResponse{Kind: kmsg.CacherRespOk}
	default:
		return errResponse(kmsg.CacherErrMalformed)
	}
}

func (c *Cacher) handleGetLogCacheContent(filename string) kmsg.CacherResponse {
	data, err := readCacheFile(c.driveDir, filename)
	if err != nil {
		return errResponse(kmsg.CacherErrNotFound)
	}
	cache, err := unmarshalCache(data)
	if err != nil {
		return errResponse(kmsg.CacherErrMalformed)
	}
	return valueResponse(kmsg.CacherRespContent, cache)
}

// handleGetLogsByRange implements §4.4 "Serving": select manifest items
// whose range overlaps [from,to], load and concatenate them, sort by
// from_block, and report the current checkpoint alongside.
func (c *Cacher) handleGetLogsByRange(from uint64, to *uint64) kmsg.CacherResponse {
	c.mu.RLock()
	items := make([]ManifestItem, 0, len(c.manifest.Items))
	for _, it := range c.manifest.Items {
		items = append(items, it)
	}
	lastCached := c.lastCachedBlock
	driveDir := c.driveDir
	c.mu.RUnlock()

	upper := lastCached
	if to != nil {
		upper = *to
	}

	sort.Slice(items, func(i, j int) bool { return items[i].FromBlock < items[j].FromBlock })

	var caches []LogCache
	for _, it := range items {
		if it.IsEmpty || it.FileName == "" {
			continue
		}
		if it.ToBlock < from || it.FromBlock > upper {
			continue
		}
		data, err := readCacheFile(driveDir, it.FileName)
		if err != nil {
			c.logger.Warn().Err(err).Str("file", it.FileName).Msg("manifest references missing cache file")
			continue
		}
		cache, err := unmarshalCache(data)
		if err != nil {
			c.logger.Warn().Err(err).Str("file", it.FileName).Msg("manifest references corrupt cache file")
			continue
		}
		caches = append(caches, cache)
	}

	return valueResponse(kmsg.CacherRespLogs, logsByRangeResult{Logs: caches, LastCachedBlock: lastCached})
}

// Reset wipes the drive and re-bootstraps from genesis, per §4.4 "Reset
// (local only)" and §8 scenario 5. Callers are responsible for enforcing
// the root-capability gate before invoking this (mirrors the indexer's
// Reset convention).
func (c *Cacher) Reset() error {
	if err := wipeDrive(c.driveDir); err != nil {
		return err
	}
	c.mu.Lock()
	c.manifest = newManifest(c.chainID, c.protocolVersion)
	c.lastCachedBlock = 0
	c.isStarting = true
	peers := c.peers
	c.mu.Unlock()
	return saveState(c.db, persistentState{ChainID: c.chainID, ProtocolVersion: c.protocolVersion, Peers: peers})
}
