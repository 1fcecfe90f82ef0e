package cacher

import (
	"encoding/json"
	"fmt"

	"github.com/meshkernel/node/pkg/storage"
)

const (
	stateBucket = "cacher"
	stateKey    = "state"
)

// persistentState is the small piece of progress that must survive a
// restart independent of the manifest file itself.
type persistentState struct {
	ChainID         uint64 `json:"chain_id"`
	ProtocolVersion uint32 `json:"protocol_version"`
	LastCachedBlock uint64 `json:"last_cached_block"`
	Peers           []string `json:"peers"`
}

func loadState(db *storage.DB) (persistentState, bool, error) {
	raw, err := db.Get(stateBucket, stateKey)
	if err != nil {
		return persistentState{}, false, fmt.Errorf("read cacher state: %w", err)
	}
	if raw == nil {
		return persistentState{}, false, nil
	}
	var st persistentState
	if err := json.Unmarshal(raw, &st); err != nil {
		return persistentState{}, false, fmt.Errorf("decode cacher state: %w", err)
	}
	return st, true, nil
}

func saveState(db *storage.DB, st persistentState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode cacher state: %w", err)
	}
	return db.Put(stateBucket, stateKey, raw)
}
