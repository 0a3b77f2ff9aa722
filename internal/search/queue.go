package search

import (
	"container/heap"

	"github.com/frebib/kipa/internal/model"
)

// frontierItem is one node waiting in to_explore, with its distance to the
// search's destination coordinate precomputed once at insertion time.
type frontierItem struct {
	node     model.Node
	distance float64
}

// frontierHeap orders ascending by distance, tie-broken by fingerprint so
// that two runs over the same frontier always explore in the same order
// (spec section 4.7: "ties are broken deterministically").
type frontierHeap []frontierItem

func (h frontierHeap) Len() int { return len(h) }

func (h frontierHeap) Less(i, j int) bool {
	if h[i].distance != h[j].distance {
		return h[i].distance < h[j].distance
	}
	return h[i].node.Key.Fingerprint() < h[j].node.Key.Fingerprint()
}

func (h frontierHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *frontierHeap) Push(x interface{}) {
	*h = append(*h, x.(frontierItem))
}

func (h *frontierHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

var _ heap.Interface = (*frontierHeap)(nil)
