package payload

import (
	"sort"

	"github.com/frebib/kipa/internal/keyspace"
	"github.com/frebib/kipa/internal/model"
)

// closureTracker implements the Search/Connect on_explored termination
// condition from spec section 4.7: "Finish(None) iff the k nearest nodes
// to target in found are all in explored". It is driven exclusively by
// the search engine's own on_found/on_explored calls, which the engine
// guarantees are invoked strictly serially (spec section 5), so no
// locking is needed here.
type closureTracker struct {
	target   model.Key
	k        int
	found    []model.Node
	explored map[string]bool
}

func newClosureTracker(target model.Key, k int) *closureTracker {
	return &closureTracker{target: target, k: k, explored: map[string]bool{}}
}

func (c *closureTracker) onFound(n model.Node) {
	c.found = append(c.found, n)
}

func (c *closureTracker) onExplored(n model.Node) {
	c.explored[n.Key.Fingerprint()] = true
}

// closed reports whether the k nodes in found closest to target have all
// been explored.
func (c *closureTracker) closed() bool {
	nearest := append([]model.Node(nil), c.found...)
	target := c.target.Coordinate()
	sort.Slice(nearest, func(i, j int) bool {
		di := keyspace.Distance(target, nearest[i].Key.Coordinate())
		dj := keyspace.Distance(target, nearest[j].Key.Coordinate())
		if di != dj {
			return di < dj
		}
		return nearest[i].Key.Fingerprint() < nearest[j].Key.Fingerprint()
	})

	k := c.k
	if k > len(nearest) {
		k = len(nearest)
	}
	if k == 0 {
		return false
	}
	for _, n := range nearest[:k] {
		if !c.explored[n.Key.Fingerprint()] {
			return false
		}
	}
	return true
}
