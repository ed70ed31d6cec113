package internal

import (
	"sync"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Cell Type (one speculative write by one transaction)
// --------------------------------------------------------------------------

// Cell is one entry in a key's version list: the write of one transaction
// incarnation, or an ESTIMATE placeholder announcing that a write is
// expected here but not yet known.
type Cell struct {
	Estimate    bool   // Placeholder: readers below must wait for the writer
	Incarnation int    // Incarnation that produced the value
	Value       []byte // Written value (nil for deletions and estimates)
	Deleted     bool   // The write is a deletion shadowing the base state
}

// --------------------------------------------------------------------------
// VersionChain Type (all speculative writes for one key)
// --------------------------------------------------------------------------

// VersionChain holds every transaction's entry for a single key, ordered by
// transaction index. Each chain is independently synchronized so unrelated
// keys never contend.
type VersionChain struct {
	sync.RWMutex
	Versions *treemap.Map // txn index (int) -> *Cell
}

// NewVersionChain creates an empty version chain
func NewVersionChain() *VersionChain {
	return &VersionChain{
		Versions: treemap.NewWithIntComparator(),
	}
}

// --------------------------------------------------------------------------
// Shard Type (partition of the key space)
// --------------------------------------------------------------------------

// Shard represents a partition of the versioned store.
// Each shard owns an independent concurrent map of version chains.
type Shard struct {
	Data *xsync.MapOf[string, *VersionChain]
}

// NewShard creates a new shard
func NewShard() *Shard {
	return &Shard{
		Data: xsync.NewMapOf[string, *VersionChain](),
	}
}

// GetShard returns the appropriate shard for a given hashed key
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func GetShard[T any](hashed uint64, shards []*T) *T {
	// Shift right by 7 bits to use higher-quality bits for distribution
	shifted := hashed >> 7
	return shards[shifted%uint64(len(shards))]
}
