// Package resolver implements the identity indexer's on-demand lookup path
// (§4.3 "On-demand lookup"): a synchronous get(name) against the registry
// plus four note reads, assembled into an HnsUpdate when complete.
package resolver

import (
	"context"
	"fmt"

	"github.com/meshkernel/node/pkg/indexer"
)

// RegistryReader is the synchronous, request/response view of the registry
// contract the resolver needs: resolve a name to its namehash, and read one
// note's raw bytes. Implemented in production via pkg/ethprovider's pool
// (an eth_call against the registry ABI); narrowed to an interface so the
// resolver can be exercised without a live chain.
type RegistryReader interface {
	Get(ctx context.Context, name string) (indexer.Namehash, bool, error)
	ReadNote(ctx context.Context, parent indexer.Namehash, label string) ([]byte, bool, error)
}

// noteLabels is the fixed set of four notes read per on-demand lookup,
// mirroring the indexer's own subscription set minus ~routers, which is
// read alongside them when present.
var noteLabels = []string{
	indexer.NoteNetKey,
	indexer.NoteIP,
	indexer.NoteWsPort,
	indexer.NoteTcpPort,
}

// Resolver performs on-demand name resolution against both the indexer's
// cache and, on a cache miss, the live registry.
type Resolver struct {
	state    *indexer.State
	registry RegistryReader
}

// New constructs a Resolver bound to the indexer's shared state.
func New(state *indexer.State, registry RegistryReader) *Resolver {
	return &Resolver{state: state, registry: registry}
}

// NamehashToName resolves a namehash using only the indexer's cache; the
// registry has no reverse-lookup entry point (§4.3 describes only forward
// get(name) reads).
func (r *Resolver) NamehashToName(hash indexer.Namehash) (string, bool) {
	return r.state.NameForHash(hash)
}

// NodeInfo resolves name to its HnsUpdate, consulting the indexer's cache
// first and falling back to a live registry lookup on a miss. A resolved
// record is inserted into the indexer's state and returned to the caller
// for broadcast, per §4.3's "if found it is inserted and broadcast."
func (r *Resolver) NodeInfo(ctx context.Context, name string) (indexer.HnsUpdate, bool, error) {
	if u, ok := r.state.NodeInfo(name); ok {
		return u, true, nil
	}

	hash, ok, err := r.registry.Get(ctx, name)
	if err != nil {
		return indexer.HnsUpdate{}, false, fmt.Errorf("registry lookup for %q failed: %w", name, err)
	}
	if !ok {
		return indexer.HnsUpdate{}, false, nil
	}

	rec := indexer.HnsUpdate{Name: name}
	for _, label := range noteLabels {
		data, present, err := r.registry.ReadNote(ctx, hash, label)
		if err != nil {
			return indexer.HnsUpdate{}, false, fmt.Errorf("note %q read for %q failed: %w", label, name, err)
		}
		if !present {
			continue
		}
		vn, err := indexer.ValidateNote(indexer.Note{ParentHash: hash, NoteLabel: label, Data: data})
		if err != nil {
			continue
		}
		vn.ApplyTo(&rec)
	}
	routersData, present, err := r.registry.ReadNote(ctx, hash, indexer.NoteRouters)
	if err == nil && present {
		if vn, verr := indexer.ValidateNote(indexer.Note{ParentHash: hash, NoteLabel: indexer.NoteRouters, Data: routersData}); verr == nil {
			vn.ApplyTo(&rec)
		}
	}

	if !rec.Complete() {
		return indexer.HnsUpdate{}, false, nil
	}

	r.state.InsertName(hash, name)
	r.state.InsertNode(name, rec)
	return rec, true, nil
}
