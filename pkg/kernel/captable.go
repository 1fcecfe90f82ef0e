package kernel

import (
	"sync"

	"github.com/meshkernel/node/pkg/address"
)

// capTable holds the set of capabilities granted to each address, keyed by
// address.Capability.Key() for de-duplication. Per §3, reads
// are lock-free in spirit but this implementation keeps a single RWMutex
// guarding the whole table; per-process sharding is unnecessary at the
// scale a single node's process count reaches.
type capTable struct {
	mu    sync.RWMutex
	grant map[address.Address]map[string]address.Capability
}

func newCapTable() *capTable {
	return &capTable{grant: make(map[address.Address]map[string]address.Capability)}
}

// has reports whether holder has been granted a capability equal to cap.
func (t *capTable) has(holder address.Address, cap address.Capability) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	caps, ok := t.grant[holder]
	if !ok {
		return false
	}
	_, ok = caps[cap.Key()]
	return ok
}

// grantTo adds caps to holder's set, de-duplicated by Key().
func (t *capTable) grantTo(holder address.Address, caps []address.Capability) {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.grant[holder]
	if !ok {
		set = make(map[string]address.Capability)
		t.grant[holder] = set
	}
	for _, c := range caps {
		set[c.Key()] = c
	}
}

// dropFrom removes cap from holder's set, if present.
func (t *capTable) dropFrom(holder address.Address, cap address.Capability) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if set, ok := t.grant[holder]; ok {
		delete(set, cap.Key())
	}
}

// dropAll removes every capability held by holder, e.g. on process death.
func (t *capTable) dropAll(holder address.Address) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.grant, holder)
}

// list returns a snapshot of every capability held by holder.
func (t *capTable) list(holder address.Address) []address.Capability {
	t.mu.RLock()
	defer t.mu.RUnlock()

	set, ok := t.grant[holder]
	if !ok {
		return nil
	}
	out := make([]address.Capability, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

// messagingCapability builds the standard "messaging@target" capability a
// process must hold (or be the issuer of) to send to target, per §4.1.
func messagingCapability(issuer, target address.Address) address.Capability {
	return address.Capability{Issuer: issuer, Params: `{"kind":"messaging","target":"` + target.String() + `"}`}
}
