package indexer

import (
	"sync"
)

// MaxPendingAttempts is §4.3's MAX_PENDING_ATTEMPTS: a buffered note is
// dropped after this many failed drain attempts.
const MaxPendingAttempts = 5

// Mint is the registry's Mint(parent_hash, child_hash, label) event,
// creating a new name label.parent (§4.3 "Event model").
type Mint struct {
	ParentHash Namehash
	ChildHash  Namehash
	Label      string
	Block      uint64
}

// Note is the registry's Note(parent_hash, note_label, data) event, storing
// a key/value under an existing name.
type Note struct {
	ParentHash Namehash
	NoteLabel  string
	Data       []byte
	Block      uint64
}

// pendingNote is a buffered Note whose parent name was not yet known when
// it arrived.
type pendingNote struct {
	note     Note
	attempts int
}

// State is the indexer's mutable projection: namehash -> name, and
// name -> current routing record. Every mutating method assumes it is only
// ever called from the indexer's own goroutine (§5); State itself still
// guards reads with an RWMutex so concurrent on-demand lookups (§4.3
// "On-demand lookup") from other goroutines observe a consistent snapshot.
type State struct {
	mu sync.RWMutex

	names map[Namehash]string
	nodes map[string]HnsUpdate

	pendingNotes map[uint64][]pendingNote

	lastBlock uint64
}

// NewState returns an empty State.
func NewState() *State {
	return &State{
		names:        make(map[Namehash]string),
		nodes:        make(map[string]HnsUpdate),
		pendingNotes: make(map[uint64][]pendingNote),
	}
}

// LastBlock returns the last block number processed.
func (s *State) LastBlock() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastBlock
}

// SetLastBlock advances the checkpointed block cursor.
func (s *State) SetLastBlock(block uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if block > s.lastBlock {
		s.lastBlock = block
	}
}

// NameForHash resolves a namehash to its human-readable name.
func (s *State) NameForHash(h Namehash) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.names[h]
	return n, ok
}

// NodeInfo resolves a name to its current HnsUpdate.
func (s *State) NodeInfo(name string) (HnsUpdate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.nodes[name]
	return u, ok
}

// InsertNode records a freshly-resolved HnsUpdate, used by the on-demand
// lookup path (§4.3 "On-demand lookup") when a name is not yet cached.
func (s *State) InsertNode(name string, u HnsUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[name] = u
}

// InsertName records a freshly-resolved namehash->name mapping.
func (s *State) InsertName(h Namehash, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names[h] = name
}

// snapshotNodes returns every known HnsUpdate, e.g. for cold-start §4.3
// step (iii) "sends every known record to the net driver."
func (s *State) snapshotNodes() []HnsUpdate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]HnsUpdate, 0, len(s.nodes))
	for _, u := range s.nodes {
		out = append(out, u)
	}
	return out
}

// AllNodes is snapshotNodes exported for IndexerRequest::GetState (§6).
func (s *State) AllNodes() []HnsUpdate {
	return s.snapshotNodes()
}

// applyMint records a new name and returns it.
func (s *State) applyMint(m Mint) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parentName, ok := s.names[m.ParentHash]
	if !ok {
		return "", false
	}
	name := m.Label + "." + parentName
	s.names[m.ChildHash] = name
	if _, exists := s.nodes[name]; !exists {
		s.nodes[name] = HnsUpdate{Name: name}
	}
	return name, true
}

// applyNote mutates the named node's HnsUpdate per a validated note and
// reports whether the parent name was known (false means the caller should
// buffer it in pendingNotes).
func (s *State) applyNote(n validatedNote) (HnsUpdate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name, ok := s.names[n.note.ParentHash]
	if !ok {
		return HnsUpdate{}, false
	}

	rec := s.nodes[name]
	rec.Name = name
	n.ApplyTo(&rec)
	s.nodes[name] = rec
	return rec, true
}

// bufferPending queues a note that arrived before its parent name.
func (s *State) bufferPending(n Note) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingNotes[n.Block] = append(s.pendingNotes[n.Block], pendingNote{note: n})
}

// drainableBlocks returns the set of buffered block numbers at or below
// the current last block, per §4.3's drain condition `block <= last_block`.
func (s *State) drainableBlocks() []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	last := s.lastBlock
	var blocks []uint64
	for b := range s.pendingNotes {
		if b <= last {
			blocks = append(blocks, b)
		}
	}
	return blocks
}

// takePending removes and returns the pending notes buffered at block.
func (s *State) takePending(block uint64) []pendingNote {
	s.mu.Lock()
	defer s.mu.Unlock()
	notes := s.pendingNotes[block]
	delete(s.pendingNotes, block)
	return notes
}

// requeuePending re-buffers notes that failed to apply this round, dropping
// any that have hit MaxPendingAttempts.
func (s *State) requeuePending(block uint64, notes []pendingNote) (dropped int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range notes {
		p.attempts++
		if p.attempts >= MaxPendingAttempts {
			dropped++
			continue
		}
		s.pendingNotes[block] = append(s.pendingNotes[block], p)
	}
	return dropped
}

// pendingCount returns the total number of buffered notes, for metrics.
func (s *State) pendingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, notes := range s.pendingNotes {
		total += len(notes)
	}
	return total
}

// reset clears all indexer state, per §4.3's root-capability-gated Reset.
func (s *State) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names = make(map[Namehash]string)
	s.nodes = make(map[string]HnsUpdate)
	s.pendingNotes = make(map[uint64][]pendingNote)
	s.lastBlock = 0
}
