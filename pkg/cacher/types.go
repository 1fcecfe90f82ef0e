// Package cacher produces and serves the signed, content-addressed log of
// registry events that lets a new node catch up without trusting any single
// RPC endpoint (§4.4). The batch-production loop uses a ticker/stopCh shape;
// manifest persistence follows an upsert-then-rewrite convention adapted to
// a plain JSON file since the manifest itself is the wire artifact peers
// fetch, not an internal bbolt record.
package cacher

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
)

// LogMetadata describes one LogCache file (§6 "Cache file").
type LogMetadata struct {
	FromBlock   uint64 `json:"from_block"`
	ToBlock     uint64 `json:"to_block"`
	TimeCreated string `json:"time_created"`
	CreatedBy   string `json:"created_by"` // the producing node's address (resolved via the indexer to a net public key)
	Signature   string `json:"signature"`  // "0x" + hex(64-byte ed25519 sig)
}

// LogCache is the JSON payload written to disk and served over the bus.
type LogCache struct {
	Metadata LogMetadata `json:"metadata"`
	Logs     []types.Log `json:"logs"`
}

// ManifestItem indexes one cache file by content hash and block range
// (§6, §8 "Manifest content-addressing").
type ManifestItem struct {
	FileName  string `json:"file_name"`
	FileHash  string `json:"file_hash"` // "0x" + hex(keccak256(file bytes)); empty when IsEmpty
	FromBlock uint64 `json:"from_block"`
	ToBlock   uint64 `json:"to_block"`
	IsEmpty   bool   `json:"is_empty"`
}

// Manifest is the cacher's index, wire-identical to §6's JSON shape.
type Manifest struct {
	Items            map[string]ManifestItem `json:"items"`
	ManifestFilename string                  `json:"manifest_filename"`
	ChainID          uint64                  `json:"chain_id"`
	ProtocolVersion  uint32                  `json:"protocol_version"`
}

func newManifest(chainID uint64, protocolVersion uint32) Manifest {
	return Manifest{
		Items:            make(map[string]ManifestItem),
		ManifestFilename: "manifest.json",
		ChainID:          chainID,
		ProtocolVersion:  protocolVersion,
	}
}

func (m Manifest) clone() Manifest {
	items := make(map[string]ManifestItem, len(m.Items))
	for k, v := range m.Items {
		items[k] = v
	}
	return Manifest{Items: items, ManifestFilename: m.ManifestFilename, ChainID: m.ChainID, ProtocolVersion: m.ProtocolVersion}
}

func (m Manifest) maxToBlock() uint64 {
	var max uint64
	for _, it := range m.Items {
		if it.ToBlock > max {
			max = it.ToBlock
		}
	}
	return max
}

// Status is the CacherGetStatus response payload.
type Status struct {
	ChainID         uint64 `json:"chain_id"`
	ProtocolVersion uint32 `json:"protocol_version"`
	LastCachedBlock uint64 `json:"last_cached_block"`
	IsStarting      bool   `json:"is_starting"`
	IsProviding     bool   `json:"is_providing"`
}

func nowISO8601() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func marshalLogs(logs []types.Log) ([]byte, error) {
	return json.Marshal(logs)
}

func marshalCache(cache LogCache) ([]byte, error) {
	return json.Marshal(cache)
}

func unmarshalCache(data []byte) (LogCache, error) {
	var cache LogCache
	err := json.Unmarshal(data, &cache)
	return cache, err
}
