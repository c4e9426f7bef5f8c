// Package routing implements the Kademlia k-bucket routing table: bucket
// assignment by common-prefix length, a bounded replacement cache per
// bucket, and closest-node selection by XOR distance.
package routing

import (
	"container/heap"
	"errors"
	"fmt"
	"time"

	"github.com/kadnet/kad/internal/guid"
	"github.com/kadnet/kad/internal/wire"
	"github.com/kadnet/kad/metrics"
)

// DefaultK is the standard Kademlia bucket size.
const DefaultK = 8

// DefaultReplacementCap bounds each bucket's replacement cache.
const DefaultReplacementCap = 10

var (
	ErrSelfID   = errors.New("routing: cannot insert own id")
	ErrNotFound = errors.New("routing: id not present")
)

// Entry is one routing-table record: an identity, an address, and
// liveness bookkeeping that is never persisted to disk.
type Entry struct {
	Node       wire.NodeInfo
	LastSeen   time.Time
	StaleCount int
}

// bucket holds up to K live entries (sorted ascending by LastSeen, i.e.
// least-recently-seen first) plus a small replacement cache for candidates
// observed while the bucket was full.
type bucket struct {
	entries      []Entry
	replacements []Entry
}

// Table is a Kademlia routing table of id_width*8 buckets, keyed by the
// common-prefix length between a candidate id and the table's own id.
type Table struct {
	self    guid.ID
	k       int
	replCap int
	buckets []bucket

	upserts    *metrics.Counter
	staleMarks *metrics.Counter
	deletes    *metrics.Counter
	nodeGauge  *metrics.Gauge
}

// New creates an empty routing table for self, with id_width*8 buckets.
// k and replCap default to DefaultK/DefaultReplacementCap when <= 0.
// reg may be nil, in which case metrics.DefaultRegistry is used.
func New(self guid.ID, k, replCap int, reg *metrics.Registry) *Table {
	if k <= 0 {
		k = DefaultK
	}
	if replCap <= 0 {
		replCap = DefaultReplacementCap
	}
	if reg == nil {
		reg = metrics.DefaultRegistry
	}
	numBuckets := self.Width() * 8
	return &Table{
		self:       self,
		k:          k,
		replCap:    replCap,
		buckets:    make([]bucket, numBuckets),
		upserts:    reg.Counter("routing.upserts"),
		staleMarks: reg.Counter("routing.stale_marks"),
		deletes:    reg.Counter("routing.deletes"),
		nodeGauge:  reg.Gauge("routing.nodes"),
	}
}

// bucketIndex returns the bucket that id belongs in, relative to t.self:
// the bucket at common-prefix length p is index (numBuckets - 1 - p).
func (t *Table) bucketIndex(id guid.ID) (int, error) {
	if id.Equal(t.self) {
		return 0, ErrSelfID
	}
	p := guid.CommonPrefixLen(t.self, id)
	idx := len(t.buckets) - 1 - p
	if idx < 0 {
		idx = 0
	}
	if idx >= len(t.buckets) {
		idx = len(t.buckets) - 1
	}
	return idx, nil
}

// Upsert inserts node if new, or refreshes LastSeen, resets StaleCount, and
// moves the entry to the tail of its bucket if already present -- a bucket
// is kept sorted ascending by LastSeen (least-recently-seen first), so a
// freshly-seen entry must move to the back rather than refresh in place.
// If the owning bucket is full and node is new, node is appended to the
// bucket's bounded replacement cache instead (oldest replacement dropped if
// the cache is also full).
func (t *Table) Upsert(node wire.NodeInfo) error {
	idx, err := t.bucketIndex(node.ID)
	if err != nil {
		return err
	}
	b := &t.buckets[idx]

	for i := range b.entries {
		if b.entries[i].Node.ID.Equal(node.ID) {
			refreshed := Entry{Node: node, LastSeen: now()}
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			b.entries = append(b.entries, refreshed)
			t.upserts.Inc()
			return nil
		}
	}

	if len(b.entries) < t.k {
		b.entries = append(b.entries, Entry{Node: node, LastSeen: now()})
		t.upserts.Inc()
		t.nodeGauge.Inc()
		return nil
	}

	for i := range b.replacements {
		if b.replacements[i].Node.ID.Equal(node.ID) {
			b.replacements[i].LastSeen = now()
			t.upserts.Inc()
			return nil
		}
	}
	if len(b.replacements) >= t.replCap {
		b.replacements = b.replacements[1:]
	}
	b.replacements = append(b.replacements, Entry{Node: node, LastSeen: now()})
	t.upserts.Inc()
	return nil
}

// MarkStale increments id's stale counter; once a caller-defined threshold
// is reached the caller is expected to call Delete. MarkStale does not
// decide the threshold itself -- the event loop's ping-and-evict policy
// owns that decision.
func (t *Table) MarkStale(id guid.ID) error {
	idx, err := t.bucketIndex(id)
	if err != nil {
		return err
	}
	b := &t.buckets[idx]
	for i := range b.entries {
		if b.entries[i].Node.ID.Equal(id) {
			b.entries[i].StaleCount++
			t.staleMarks.Inc()
			return nil
		}
	}
	return ErrNotFound
}

// Delete removes id from the table. If a replacement is waiting in the
// bucket's replacement cache, the most recently seen replacement is
// promoted into the freed slot.
func (t *Table) Delete(id guid.ID) error {
	idx, err := t.bucketIndex(id)
	if err != nil {
		return err
	}
	b := &t.buckets[idx]
	for i := range b.entries {
		if b.entries[i].Node.ID.Equal(id) {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			if len(b.replacements) > 0 {
				promoted := b.replacements[len(b.replacements)-1]
				b.replacements = b.replacements[:len(b.replacements)-1]
				b.entries = append(b.entries, promoted)
			} else {
				t.nodeGauge.Dec()
			}
			t.deletes.Inc()
			return nil
		}
	}
	return ErrNotFound
}

// distHeap is a bounded max-heap (by distance to target) used to keep only
// the `count` closest candidates seen so far while scanning every bucket.
type distHeap struct {
	target guid.ID
	items  []Entry
}

func (h *distHeap) Len() int { return len(h.items) }
func (h *distHeap) Less(i, j int) bool {
	// Max-heap: farther entries sort first so the root is the worst of the
	// kept set and can be evicted cheaply.
	c := guid.DistCmp(h.target, h.items[i].Node.ID, h.items[j].Node.ID)
	if c != 0 {
		return c > 0
	}
	return guid.Less(h.items[j].Node.ID, h.items[i].Node.ID)
}
func (h *distHeap) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *distHeap) Push(x interface{}) { h.items = append(h.items, x.(Entry)) }
func (h *distHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	last := old[n-1]
	h.items = old[:n-1]
	return last
}

// FindClosest returns up to count entries across the whole table, ordered
// by ascending XOR distance to target, excluding exclude (the requesting
// node itself, when answering a find_node query, so a node is never handed
// back as a result to its own query). Implemented with a bounded max-heap
// so scanning does not require sorting every entry in the table. Pass the
// zero guid.ID (Set == false) to exclude nothing.
func (t *Table) FindClosest(target guid.ID, count int, exclude guid.ID) []wire.NodeInfo {
	h := &distHeap{target: target}
	heap.Init(h)

	for bi := range t.buckets {
		for _, e := range t.buckets[bi].entries {
			if exclude.Set && e.Node.ID.Equal(exclude) {
				continue
			}
			if h.Len() < count {
				heap.Push(h, e)
				continue
			}
			if guid.DistCmp(target, e.Node.ID, h.items[0].Node.ID) < 0 {
				heap.Pop(h)
				heap.Push(h, e)
			}
		}
	}

	out := make([]wire.NodeInfo, h.Len())
	// Pop in worst-first order, so fill from the back for ascending output.
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(Entry).Node
	}
	return out
}

// BucketOccupancy returns the live-entry count of each bucket, for the
// occupancy gauge.
func (t *Table) BucketOccupancy() []int {
	out := make([]int, len(t.buckets))
	for i := range t.buckets {
		out[i] = len(t.buckets[i].entries)
	}
	return out
}

// allNodes returns every live entry's NodeInfo across all buckets, in
// bucket order, used by WriteFile.
func (t *Table) allNodes() []wire.NodeInfo {
	var out []wire.NodeInfo
	for bi := range t.buckets {
		for _, e := range t.buckets[bi].entries {
			out = append(out, e.Node)
		}
	}
	return out
}

// Entries returns every live entry across all buckets, including LastSeen
// and StaleCount, for callers that drive liveness checks (e.g. the event
// loop's periodic re-ping timer).
func (t *Table) Entries() []Entry {
	var out []Entry
	for bi := range t.buckets {
		out = append(out, t.buckets[bi].entries...)
	}
	return out
}

// WriteFile serializes the table's live entries (not its replacement
// caches, and not LastSeen/StaleCount) to the routing-state file format.
func (t *Table) WriteFile() ([]byte, error) {
	return wire.EncodeRoutingState(t.self, t.allNodes())
}

// ReadFile replaces t's contents with the routing-state snapshot in buf.
// It does not change t.self: the persisted id in buf is used only to
// sanity-check against t.self and reported as a mismatch error, since the
// table's identity is chosen once at construction time.
func (t *Table) ReadFile(buf []byte) error {
	self, nodes, err := wire.DecodeRoutingState(buf, t.self.Width())
	if err != nil {
		return err
	}
	if !self.Equal(t.self) {
		return fmt.Errorf("routing: persisted id %s does not match table id %s", self, t.self)
	}
	for i := range t.buckets {
		t.buckets[i] = bucket{}
	}
	t.nodeGauge.Set(0)
	for _, n := range nodes {
		if err := t.Upsert(n); err != nil {
			return err
		}
	}
	return nil
}

var nowFunc = time.Now

func now() time.Time { return nowFunc() }
