// Package neighbours implements the bounded neighbour store (spec section
// 4.2): the directional selection policy that keeps the overlay connected
// while biasing toward nodes close to the local key.
package neighbours

import (
	"math"
	"sort"
	"sync"

	"github.com/frebib/kipa/internal/keyspace"
	"github.com/frebib/kipa/internal/model"
)

// Config holds the store's tunable parameters (spec section 9: "The
// parameterization (α, β, N, k) must all be configurable").
type Config struct {
	// Alpha weights the distance-to-local term; higher values bias the
	// store more strongly toward predictability (keeping close neighbours).
	Alpha float64
	// Beta weights the angular-spread term; higher values reward
	// candidates that occupy directions no other neighbour already covers.
	Beta float64
	// MaxSize is N, the hard cap on stored neighbours.
	MaxSize int
}

// DefaultConfig matches the "α dominates, β just large enough to reward
// empty directions" guidance from spec section 4.2.
func DefaultConfig() Config {
	return Config{Alpha: 1.0, Beta: 0.25, MaxSize: 32}
}

type entry struct {
	node     model.Node
	verified bool
}

// Store is the bounded, directionally-selected neighbour set. All methods
// are safe for concurrent use: mutation (Consider, MarkVerified) is
// serialized under a single writer lock; reads (List, ClosestTo) take a
// read lock and are never blocked longer than one mutation (spec section
// 5's shared-resource policy).
type Store struct {
	mu         sync.RWMutex
	local      model.Key
	localCoord keyspace.Coordinate
	cfg        Config
	entries    []entry
}

// New constructs an empty store for localKey under cfg.
func New(localKey model.Key, cfg Config) *Store {
	return &Store{local: localKey, localCoord: localKey.Coordinate(), cfg: cfg}
}

// Consider may insert candidate, possibly evicting an existing neighbour,
// per the selection policy (spec section 4.2). It reports whether
// candidate ended up in the store (it may be rejected outright, or
// inserted and then evicted again by the very same call if it scores
// worst among the oversized set).
func (s *Store) Consider(candidate model.Node) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if candidate.Key.Equal(s.local) {
		return false
	}
	for _, e := range s.entries {
		if e.node.Key.Equal(candidate.Key) {
			return false
		}
	}

	working := make([]entry, 0, len(s.entries)+1)
	working = append(working, s.entries...)
	working = append(working, entry{node: candidate})

	for len(working) > s.cfg.MaxSize {
		idx := s.indexOfHighestScore(working)
		working = append(working[:idx], working[idx+1:]...)
	}

	s.entries = working

	for _, e := range s.entries {
		if e.node.Key.Equal(candidate.Key) {
			return true
		}
	}
	return false
}

// indexOfHighestScore returns the index of the candidates element to
// evict: largest score(x) = α·distance(local, x) − β·angular_spread(x,
// others), i.e. the node that is both farthest from local and most
// angularly redundant with some other stored neighbour — "closest to
// being the most redundant" entry, in the spec's own parenthetical. See
// DESIGN.md for the reasoning behind this reading of an ambiguous phrase.
func (s *Store) indexOfHighestScore(candidates []entry) int {
	best := 0
	bestScore := math.Inf(-1)
	for i, c := range candidates {
		score := s.score(c.node, candidates, i)
		if score > bestScore {
			best = i
			bestScore = score
		}
	}
	return best
}

func (s *Store) score(x model.Node, all []entry, selfIndex int) float64 {
	distance := keyspace.Distance(s.localCoord, x.Key.Coordinate())
	spread := s.angularSpread(x, all, selfIndex)
	return s.cfg.Alpha*distance - s.cfg.Beta*spread
}

// angularSpread is min_{y in others} angle(local; x, y) — the nearest
// angular gap around the local node. A node with no other occupant to
// compare against (the only stored entry, or one whose angle to every
// other is undefined because one of the vectors has zero length) is
// given the maximal spread π, since it is — by definition — not
// redundant with anything yet.
func (s *Store) angularSpread(x model.Node, all []entry, selfIndex int) float64 {
	min := math.Inf(1)
	found := false
	for i, o := range all {
		if i == selfIndex {
			continue
		}
		angle, ok := keyspace.Angle(s.localCoord, x.Key.Coordinate(), o.node.Key.Coordinate())
		if !ok {
			continue
		}
		found = true
		if angle < min {
			min = angle
		}
	}
	if !found {
		return math.Pi
	}
	return min
}

// List returns a snapshot of the current neighbour set.
func (s *Store) List() []model.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Node, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.node
	}
	return out
}

// ClosestTo returns at most k stored neighbours closest to key by
// key-space distance, nearest first. Ties break by fingerprint
// byte-lexicographic order, for determinism across runs (same convention
// the search engine's frontier uses).
func (s *Store) ClosestTo(key model.Key, k int) []model.Node {
	s.mu.RLock()
	snapshot := make([]entry, len(s.entries))
	copy(snapshot, s.entries)
	s.mu.RUnlock()

	target := key.Coordinate()
	sort.Slice(snapshot, func(i, j int) bool {
		di := keyspace.Distance(target, snapshot[i].node.Key.Coordinate())
		dj := keyspace.Distance(target, snapshot[j].node.Key.Coordinate())
		if di != dj {
			return di < dj
		}
		return snapshot[i].node.Key.Fingerprint() < snapshot[j].node.Key.Fingerprint()
	})

	if k > len(snapshot) {
		k = len(snapshot)
	}
	out := make([]model.Node, k)
	for i := 0; i < k; i++ {
		out[i] = snapshot[i].node
	}
	return out
}

// MarkVerified tags key's entry (if present) as having answered a Verify
// probe, per spec section 4.5/9's unverified-neighbour tracking.
func (s *Store) MarkVerified(key model.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.entries {
		if e.node.Key.Equal(key) {
			s.entries[i].verified = true
			return
		}
	}
}

// IsVerified reports whether key's entry has been tagged verified. It
// returns false both for an unverified entry and for a key not present at
// all, since routing treats both the same way (usable, but not yet
// trusted as authoritative).
func (s *Store) IsVerified(key model.Key) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		if e.node.Key.Equal(key) {
			return e.verified
		}
	}
	return false
}

// Size returns the current number of stored neighbours.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Entry is a Node together with its verification status, the shape
// internal/persistence needs to round-trip the store across a restart
// without losing which neighbours had already answered a Verify probe.
type Entry struct {
	Node     model.Node
	Verified bool
}

// Entries returns a snapshot of the full store contents, verification
// status included.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, len(s.entries))
	for i, e := range s.entries {
		out[i] = Entry{Node: e.node, Verified: e.verified}
	}
	return out
}

// Restore seeds the store from previously persisted entries. It bypasses
// the Consider selection policy deliberately: these entries already
// passed selection in a prior run, and restoring them verbatim (including
// verification status) is what lets the daemon resume without re-probing
// everything it already trusted (spec section 6's persistence contract).
func (s *Store) Restore(entries []Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	working := make([]entry, 0, len(entries))
	for _, e := range entries {
		if e.Node.Key.Equal(s.local) {
			continue
		}
		working = append(working, entry{node: e.Node, verified: e.Verified})
	}
	if len(working) > s.cfg.MaxSize {
		working = working[:s.cfg.MaxSize]
	}
	s.entries = working
}
