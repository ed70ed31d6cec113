package mvstore

import (
	"runtime"
	"sort"
	"sync/atomic"

	"github.com/ValentinKolb/blockstm/lib/mvstore/internal"
	"github.com/ValentinKolb/blockstm/lib/stm"
	"github.com/ValentinKolb/blockstm/lib/util"
)

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// Options configures the versioned store.
type Options struct {
	// NumShards is the number of partitions of the key space. More shards
	// reduce contention between writers of unrelated keys.
	NumShards int
}

// DefaultOptions returns the default store configuration.
func DefaultOptions() Options {
	return Options{
		NumShards: runtime.NumCPU() * 4,
	}
}

// --------------------------------------------------------------------------
// Store Implementation
// --------------------------------------------------------------------------

type versionedStore struct {
	seed      uint64
	shards    []*internal.Shard
	blockSize int

	// Per-transaction record of the latest incarnation. Each slot is
	// written by at most one worker at a time (the one executing the
	// transaction) and read concurrently by validators.
	lastReadSets  []atomic.Pointer[stm.ReadSet]
	lastWriteKeys []atomic.Pointer[[]string]
	outputs       []atomic.Pointer[stm.Output]
}

// NewVersionedStore creates a versioned store for a block of blockSize
// transactions.
func NewVersionedStore(blockSize int, opts Options) IVersionedStore {
	if opts.NumShards < 1 {
		opts.NumShards = DefaultOptions().NumShards
	}

	shards := make([]*internal.Shard, opts.NumShards)
	for i := range shards {
		shards[i] = internal.NewShard()
	}

	return &versionedStore{
		seed:          util.GenerateSeed(),
		shards:        shards,
		blockSize:     blockSize,
		lastReadSets:  make([]atomic.Pointer[stm.ReadSet], blockSize),
		lastWriteKeys: make([]atomic.Pointer[[]string], blockSize),
		outputs:       make([]atomic.Pointer[stm.Output], blockSize),
	}
}

// shardFor returns the shard owning the given key.
func (s *versionedStore) shardFor(key string) *internal.Shard {
	return internal.GetShard(uint64(util.HashString(key, s.seed)), s.shards)
}

// chainFor returns the version chain for a key, or nil if no transaction
// has ever written the key.
func (s *versionedStore) chainFor(key string) *internal.VersionChain {
	chain, ok := s.shardFor(key).Data.Load(key)
	if !ok {
		return nil
	}
	return chain
}

// chainForCreate returns the version chain for a key, creating it if needed.
func (s *versionedStore) chainForCreate(key string) *internal.VersionChain {
	chain, _ := s.shardFor(key).Data.LoadOrCompute(key, internal.NewVersionChain)
	return chain
}

// --------------------------------------------------------------------------
// Interface Methods (Read Path)
// --------------------------------------------------------------------------

func (s *versionedStore) Read(key string, txnIndex int) ReadResult {
	chain := s.chainFor(key)
	if chain == nil {
		return ReadResult{Status: ReadStatusNotFound}
	}

	chain.RLock()
	defer chain.RUnlock()

	// Highest entry strictly below the reader's index.
	idx, raw := chain.Versions.Floor(txnIndex - 1)
	if raw == nil {
		return ReadResult{Status: ReadStatusNotFound}
	}

	cell := raw.(*internal.Cell)
	if cell.Estimate {
		return ReadResult{
			Status:        ReadStatusDependency,
			BlockingIndex: idx.(int),
		}
	}

	return ReadResult{
		Status:  ReadStatusOK,
		Version: stm.Version{Index: idx.(int), Incarnation: cell.Incarnation},
		Value:   cell.Value,
		Deleted: cell.Deleted,
	}
}

// --------------------------------------------------------------------------
// Interface Methods (Write Path)
// --------------------------------------------------------------------------

func (s *versionedStore) RegisterHints(txnIndex int, keys []string) {
	if len(keys) == 0 {
		return
	}

	for _, key := range keys {
		chain := s.chainForCreate(key)
		chain.Lock()
		chain.Versions.Put(txnIndex, &internal.Cell{Estimate: true})
		chain.Unlock()
	}

	// Remember the hint keys as the "previous write set" so the first real
	// Record removes entries for keys the transaction did not actually
	// write.
	hinted := make([]string, len(keys))
	copy(hinted, keys)
	s.lastWriteKeys[txnIndex].Store(&hinted)
}

func (s *versionedStore) Record(version stm.Version, rs stm.ReadSet, ws stm.WriteSet) bool {
	s.lastReadSets[version.Index].Store(&rs)

	// Keys written by the previous incarnation (or registered hints).
	var prevKeys []string
	if p := s.lastWriteKeys[version.Index].Load(); p != nil {
		prevKeys = *p
	}
	prevSet := make(map[string]struct{}, len(prevKeys))
	for _, k := range prevKeys {
		prevSet[k] = struct{}{}
	}

	// Install the new incarnation's writes.
	wroteNewKey := false
	newKeys := make([]string, 0, len(ws))
	newSet := make(map[string]struct{}, len(ws))
	for _, w := range ws {
		if _, dup := newSet[w.Key]; dup {
			continue // last write wins below, key already tracked
		}
		newSet[w.Key] = struct{}{}
		newKeys = append(newKeys, w.Key)
		if _, ok := prevSet[w.Key]; !ok {
			wroteNewKey = true
		}
	}
	for _, w := range ws {
		chain := s.chainForCreate(w.Key)
		chain.Lock()
		chain.Versions.Put(version.Index, &internal.Cell{
			Incarnation: version.Incarnation,
			Value:       w.Value,
			Deleted:     w.Delete,
		})
		chain.Unlock()
	}

	// Remove entries for keys the previous incarnation wrote but this one
	// did not.
	for _, k := range prevKeys {
		if _, ok := newSet[k]; ok {
			continue
		}
		if chain := s.chainFor(k); chain != nil {
			chain.Lock()
			chain.Versions.Remove(version.Index)
			chain.Unlock()
		}
	}

	s.lastWriteKeys[version.Index].Store(&newKeys)
	return wroteNewKey
}

func (s *versionedStore) ConvertWritesToEstimates(txnIndex int) {
	keys := s.lastWriteKeys[txnIndex].Load()
	if keys == nil {
		return
	}

	for _, k := range *keys {
		chain := s.chainFor(k)
		if chain == nil {
			continue
		}
		chain.Lock()
		if raw, ok := chain.Versions.Get(txnIndex); ok {
			cell := raw.(*internal.Cell)
			chain.Versions.Put(txnIndex, &internal.Cell{
				Estimate:    true,
				Incarnation: cell.Incarnation,
			})
		}
		chain.Unlock()
	}
}

func (s *versionedStore) DeleteWrites(txnIndex int) {
	keys := s.lastWriteKeys[txnIndex].Load()
	if keys == nil {
		return
	}

	for _, k := range *keys {
		if chain := s.chainFor(k); chain != nil {
			chain.Lock()
			chain.Versions.Remove(txnIndex)
			chain.Unlock()
		}
	}

	s.lastWriteKeys[txnIndex].Store(nil)
}

// --------------------------------------------------------------------------
// Interface Methods (Validation)
// --------------------------------------------------------------------------

func (s *versionedStore) ValidateReadSet(txnIndex int) bool {
	rs := s.lastReadSets[txnIndex].Load()
	if rs == nil {
		// Never executed, nothing to invalidate.
		return true
	}

	for _, rd := range *rs {
		res := s.Read(rd.Key, txnIndex)
		switch res.Status {
		case ReadStatusDependency:
			// Reading the key now would block; the prior read is void
			// either way.
			return false
		case ReadStatusNotFound:
			if rd.Version != nil {
				return false
			}
		case ReadStatusOK:
			if rd.Version == nil || *rd.Version != res.Version {
				return false
			}
		}
	}
	return true
}

// --------------------------------------------------------------------------
// Interface Methods (Per-Transaction Record)
// --------------------------------------------------------------------------

func (s *versionedStore) SetOutput(txnIndex int, out *stm.Output) {
	s.outputs[txnIndex].Store(out)
}

func (s *versionedStore) Output(txnIndex int) *stm.Output {
	return s.outputs[txnIndex].Load()
}

// --------------------------------------------------------------------------
// Interface Methods (Snapshot / Info)
// --------------------------------------------------------------------------

func (s *versionedStore) Snapshot() []KeyValue {
	var result []KeyValue

	for _, shard := range s.shards {
		shard.Data.Range(func(key string, chain *internal.VersionChain) bool {
			chain.RLock()
			_, raw := chain.Versions.Max()
			chain.RUnlock()

			if raw == nil {
				return true
			}
			cell := raw.(*internal.Cell)
			if cell.Estimate || cell.Deleted {
				return true
			}
			result = append(result, KeyValue{Key: key, Value: cell.Value})
			return true
		})
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result
}

func (s *versionedStore) Info() StoreInfo {
	shardSizes := make([]float64, len(s.shards))
	keys := 0
	for i, shard := range s.shards {
		size := shard.Data.Size()
		shardSizes[i] = float64(size)
		keys += size
	}

	return StoreInfo{
		Keys:              keys,
		Shards:            len(s.shards),
		ShardDistribution: util.NewDistributionStats(shardSizes),
	}
}
