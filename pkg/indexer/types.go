// Package indexer maintains the node's local projection of the on-chain
// identity registry (§4.3): namehash-to-name and name-to-routing-record
// maps, kept current by watching Mint/Note events and broadcasting changes
// to the net driver. Its pending-notes drain and checkpoint timer use a
// ticker-loop shape.
package indexer

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Namehash is a deterministic 32-byte identifier of a dotted name (GLOSSARY).
type Namehash = common.Hash

// ComputeNamehash recursively hashes parent_hash || keccak256(label), per
// the GLOSSARY definition. The root name's parent hash is the zero hash.
func ComputeNamehash(parent Namehash, label string) Namehash {
	labelHash := crypto.Keccak256Hash([]byte(label))
	return crypto.Keccak256Hash(parent.Bytes(), labelHash.Bytes())
}

// RootNamehash is the parent hash used for top-level names.
var RootNamehash Namehash

// Routing note labels the indexer watches (§4.3 "Event model").
const (
	NoteWsPort  = "~ws-port"
	NoteTcpPort = "~tcp-port"
	NoteNetKey  = "~net-key"
	NoteRouters = "~routers"
	NoteIP      = "~ip"
)

// HnsUpdate is the routing record for a node (GLOSSARY): sufficient to dial
// it directly, or to identify the routers it is reachable through.
type HnsUpdate struct {
	Name      string
	PublicKey []byte   // exactly 32 bytes once set (~net-key)
	IP        []byte   // 4 or 16 bytes (~ip); cleared when Routers is set
	WsPort    uint16   // (~ws-port); cleared when Routers is set
	TcpPort   uint16   // (~tcp-port); cleared when Routers is set
	HasWsPort bool
	HasTcpPort bool
	Routers   []Namehash // (~routers); cleared when IP or a port is set
}

// Direct reports whether this record has both an IP and at least one port;
// the net driver dials such a record directly (§4.5).
func (u HnsUpdate) Direct() bool {
	return len(u.IP) > 0 && (u.HasWsPort || u.HasTcpPort)
}

// Indirect reports whether this record has a router set, to be dialed by
// delegation through one of those routers (§4.5).
func (u HnsUpdate) Indirect() bool {
	return len(u.Routers) > 0
}

// Complete implements §4.3's emission rule: a record is ready to broadcast
// only once it has a public key and is either direct or indirect, never
// both (the direct-XOR-indirect invariant enforced by validatedNote.ApplyTo's
// clearing rules).
func (u HnsUpdate) Complete() bool {
	return len(u.PublicKey) == 32 && (u.Direct() || u.Indirect())
}

// validateNetKey enforces §4.3's "~net-key data must be exactly 32 bytes".
func validateNetKey(data []byte) error {
	if len(data) != 32 {
		return fmt.Errorf("~net-key must be 32 bytes, got %d", len(data))
	}
	return nil
}

// validateIP enforces §4.3's "~ip must be 4 or 16 bytes".
func validateIP(data []byte) error {
	if len(data) != 4 && len(data) != 16 {
		return fmt.Errorf("~ip must be 4 or 16 bytes, got %d", len(data))
	}
	return nil
}

// validatePort enforces §4.3's "port must be 2 bytes".
func validatePort(data []byte) (uint16, error) {
	if len(data) != 2 {
		return 0, fmt.Errorf("port must be 2 bytes, got %d", len(data))
	}
	return uint16(data[0])<<8 | uint16(data[1]), nil
}

// validateRouters enforces §4.3's "~routers data must be a concatenation of
// 32-byte hashes".
func validateRouters(data []byte) ([]Namehash, error) {
	if len(data)%32 != 0 {
		return nil, fmt.Errorf("~routers must be a concatenation of 32-byte hashes, got %d bytes", len(data))
	}
	hashes := make([]Namehash, 0, len(data)/32)
	for i := 0; i < len(data); i += 32 {
		hashes = append(hashes, common.BytesToHash(data[i:i+32]))
	}
	return hashes, nil
}
