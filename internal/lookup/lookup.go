// Package lookup implements the α-parallel iterative find_node lookup:
// a min-heap of unqueried candidates, a min-heap of queried candidates
// (the eventual result set), and a bounded number of concurrently
// in-flight queries.
package lookup

import (
	"bytes"
	"container/heap"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/kadnet/kad/internal/guid"
	"github.com/kadnet/kad/internal/wire"
	"github.com/kadnet/kad/metrics"
)

// DefaultAlpha is the standard Kademlia lookup concurrency factor.
const DefaultAlpha = 3

// idHeap is a min-heap of candidates ordered by ascending XOR distance to
// target.
type idHeap struct {
	target guid.ID
	items  []wire.NodeInfo
}

func (h *idHeap) Len() int { return len(h.items) }
func (h *idHeap) Less(i, j int) bool {
	c := guid.DistCmp(h.target, h.items[i].ID, h.items[j].ID)
	if c != 0 {
		return c < 0
	}
	return guid.Less(h.items[i].ID, h.items[j].ID)
}
func (h *idHeap) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *idHeap) Push(x interface{}) { h.items = append(h.items, x.(wire.NodeInfo)) }
func (h *idHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	last := old[n-1]
	h.items = old[:n-1]
	return last
}

// State tracks one in-progress lookup for target.
type State struct {
	target guid.ID
	k      int
	alpha  int

	next    *idHeap // not-yet-queried candidates, closest first
	past    *idHeap // queried candidates, closest first (the result pool)
	queried mapset.Set[string]
	inFlight map[string]struct{} // tx ids currently outstanding for this lookup

	roundsWithoutImprovement int
	bestDist                 []byte // distance of past's closest entry at last improvement check

	started  *metrics.Counter
	completed *metrics.Counter
	rounds   *metrics.Histogram
	roundCount int
}

// New starts a lookup for target, seeded with the initial candidate set
// (typically the caller's own routing table's FindClosest(target, k)).
func New(target guid.ID, k, alpha int, seed []wire.NodeInfo, reg *metrics.Registry) *State {
	if k <= 0 {
		k = 8
	}
	if alpha <= 0 {
		alpha = DefaultAlpha
	}
	if reg == nil {
		reg = metrics.DefaultRegistry
	}
	s := &State{
		target:    target,
		k:         k,
		alpha:     alpha,
		next:      &idHeap{target: target},
		past:      &idHeap{target: target},
		queried:   mapset.NewSet[string](),
		inFlight:  make(map[string]struct{}),
		started:   reg.Counter("lookup.started"),
		completed: reg.Counter("lookup.completed"),
		rounds:    reg.Histogram("lookup.rounds"),
	}
	heap.Init(s.next)
	heap.Init(s.past)
	for _, n := range seed {
		s.offer(n)
	}
	s.started.Inc()
	return s
}

// offer inserts n into next if it is not already present in next or past.
func (s *State) offer(n wire.NodeInfo) {
	key := n.ID.String()
	if s.queried.Contains(key) {
		return
	}
	for _, e := range s.next.items {
		if e.ID.Equal(n.ID) {
			return
		}
	}
	heap.Push(s.next, n)
}

// popNext pops up to n candidates off next, marking each in-flight and
// queried as it goes.
func (s *State) popNext(n int) []wire.NodeInfo {
	var batch []wire.NodeInfo
	for len(batch) < n && s.next.Len() > 0 {
		node := heap.Pop(s.next).(wire.NodeInfo)
		key := node.ID.String()
		s.inFlight[key] = struct{}{}
		s.queried.Add(key)
		batch = append(batch, node)
	}
	return batch
}

// NextBatch pops the next round of candidates to query. While the lookup is
// still finding closer nodes it stays alpha-bounded: up to (alpha -
// currently in-flight) candidates from next. Once k-1 consecutive rounds
// have passed without a closer node turning up, it switches to the paper's
// final-round behaviour and resends find_node to all k closest unqueried
// candidates in next at once, rather than trickling them out alpha at a
// time.
func (s *State) NextBatch() []wire.NodeInfo {
	if s.roundsWithoutImprovement < s.k-1 {
		return s.popNext(s.alpha - len(s.inFlight))
	}
	return s.popNext(s.k)
}

// RecordResponse processes a find_node response from queried, offering any
// newly discovered nodes to next and moving queried into past.
func (s *State) RecordResponse(queried wire.NodeInfo, discovered []wire.NodeInfo) {
	key := queried.ID.String()
	delete(s.inFlight, key)
	heap.Push(s.past, queried)
	s.roundCount++

	improved := false
	best := s.closestPastDist()
	for _, n := range discovered {
		if s.queried.Contains(n.ID.String()) {
			continue
		}
		s.offer(n)
		if best != nil && bytes.Compare(xorBytes(s.target, n.ID), best) < 0 {
			improved = true
		}
	}
	if improved {
		s.roundsWithoutImprovement = 0
	} else {
		s.roundsWithoutImprovement++
	}
}

// RecordFailure processes a timed-out or errored query, simply freeing the
// in-flight slot without adding queried to past (a dead node should not
// pollute the result set).
func (s *State) RecordFailure(queried wire.NodeInfo) {
	delete(s.inFlight, queried.ID.String())
	s.roundsWithoutImprovement++
}

func (s *State) closestPastDist() []byte {
	if s.past.Len() == 0 {
		return nil
	}
	return xorBytes(s.target, s.past.items[0].ID)
}

func xorBytes(a, b guid.ID) []byte {
	out := make([]byte, len(a.Bytes))
	for i := range out {
		out[i] = a.Bytes[i] ^ b.Bytes[i]
	}
	return out
}

// Done reports whether the lookup should terminate: either next is
// exhausted with nothing in flight, or k consecutive rounds passed without
// a closer node being discovered.
func (s *State) Done() bool {
	if len(s.inFlight) == 0 && s.next.Len() == 0 {
		return true
	}
	return s.roundsWithoutImprovement >= s.k
}

// Results returns the k closest nodes observed over the whole lookup, in
// ascending distance order, and finalizes the lookup's metrics.
func (s *State) Results() []wire.NodeInfo {
	s.completed.Inc()
	s.rounds.Observe(float64(s.roundCount))

	all := make([]wire.NodeInfo, len(s.past.items))
	copy(all, s.past.items)
	h := &idHeap{target: s.target, items: all}
	heap.Init(h)

	n := s.k
	if h.Len() < n {
		n = h.Len()
	}
	out := make([]wire.NodeInfo, n)
	for i := 0; i < n; i++ {
		out[i] = heap.Pop(h).(wire.NodeInfo)
	}
	return out
}
