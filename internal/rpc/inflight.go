package rpc

import (
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kadnet/kad/internal/guid"
)

// DefaultInFlightCapacity bounds the number of outstanding queries tracked
// at once; beyond this, the least-recently-inserted record is evicted.
const DefaultInFlightCapacity = 1024

// ErrTxInFlight is returned by InFlight.Insert when the transaction id is
// already tracked: insertion is exclusive, never an overwrite.
var ErrTxInFlight = errors.New("rpc: transaction id already in flight")

// QueryRecord is what the dispatcher remembers about a query it sent, so
// the eventual response (or timeout) can be correlated and handled.
type QueryRecord struct {
	Method   string
	Target   guid.ID
	SentAt   time.Time
	DestID   guid.ID
	DestAddr string
}

// InFlight is a fixed-capacity transaction-id -> QueryRecord map with
// FIFO/LRU eviction, wrapping hashicorp/golang-lru's Cache. Insertion is
// exclusive: re-inserting an in-flight transaction id is an error rather
// than a silent overwrite, since a transaction id collision while a query
// is still outstanding indicates a bug in id generation, not a legitimate
// re-send.
type InFlight struct {
	cache *lru.Cache[string, QueryRecord]
}

// NewInFlight creates an InFlight with the given capacity (DefaultInFlightCapacity
// if cap <= 0).
func NewInFlight(capacity int) (*InFlight, error) {
	if capacity <= 0 {
		capacity = DefaultInFlightCapacity
	}
	c, err := lru.New[string, QueryRecord](capacity)
	if err != nil {
		return nil, err
	}
	return &InFlight{cache: c}, nil
}

// Insert tracks a new outstanding query under txID. Returns ErrTxInFlight
// if txID is already tracked.
func (f *InFlight) Insert(txID string, rec QueryRecord) error {
	if f.cache.Contains(txID) {
		return ErrTxInFlight
	}
	f.cache.Add(txID, rec)
	return nil
}

// Take removes and returns the record for txID, reporting whether it was
// present. A response correlates to at most one outstanding query: once
// taken, a duplicate or late response for the same txID finds nothing.
func (f *InFlight) Take(txID string) (QueryRecord, bool) {
	rec, ok := f.cache.Get(txID)
	if !ok {
		return QueryRecord{}, false
	}
	f.cache.Remove(txID)
	return rec, true
}

// Len reports the number of outstanding queries currently tracked.
func (f *InFlight) Len() int { return f.cache.Len() }
