package mvstore

import (
	"github.com/ValentinKolb/blockstm/lib/stm"
	"github.com/ValentinKolb/blockstm/lib/util"
)

// --------------------------------------------------------------------------
// Read Results
// --------------------------------------------------------------------------

// ReadStatus classifies the outcome of a speculative read.
type ReadStatus int

const (
	// ReadStatusOK means a write below the reader's index resolved the key.
	ReadStatusOK ReadStatus = iota
	// ReadStatusNotFound means no transaction below the reader's index wrote
	// the key; the reader must fall through to the base state.
	ReadStatusNotFound
	// ReadStatusDependency means the closest writer below the reader's index
	// is an unresolved ESTIMATE; the reader must wait for BlockingIndex.
	ReadStatusDependency
)

// ReadResult is the outcome of IVersionedStore.Read.
type ReadResult struct {
	Status  ReadStatus
	Version stm.Version // set for ReadStatusOK
	Value   []byte      // set for ReadStatusOK (nil for deletions)
	Deleted bool        // set for ReadStatusOK: the write was a deletion
	// BlockingIndex is the index of the unresolved writer for
	// ReadStatusDependency.
	BlockingIndex int
}

// KeyValue is one entry of a store snapshot.
type KeyValue struct {
	Key   string
	Value []byte
}

// StoreInfo carries monitoring data about the store.
type StoreInfo struct {
	Keys              int                    `json:"keys"`
	Shards            int                    `json:"shards"`
	ShardDistribution util.DistributionStats `json:"shard_distribution"`
}

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IVersionedStore is the concurrent multi-version store at the heart of the
// engine. It lets many transactions read and write the same logical key
// concurrently while always returning, to a reader at index i, the value
// written by the highest-indexed writer strictly below i (or signalling
// fall-through to the pre-block base state if there is none).
//
// It also owns the per-transaction record: the latest incarnation's read
// set, write-key list and output, overwritten wholesale on each new
// incarnation and never merged across incarnations.
//
// All methods are thread-safe unless noted otherwise. Mutation is always
// key-sharded; unrelated keys never contend.
type IVersionedStore interface {
	// Read scans strictly decreasing indices from txnIndex-1 and returns
	// the first entry found below txnIndex. An ESTIMATE entry yields
	// ReadStatusDependency. Read never returns a version >= txnIndex.
	Read(key string, txnIndex int) ReadResult

	// RegisterHints pre-marks the transaction's estimated write keys as
	// ESTIMATE entries before its first execution, so dependent readers
	// wait instead of racing ahead on data that is about to change.
	// Incorrect hints are cleaned up by the first Record.
	RegisterHints(txnIndex int, keys []string)

	// Record installs the results of one finished incarnation: applies the
	// write set (replacing the previous incarnation's entries, removing
	// entries for keys no longer written) and stores the read set in the
	// per-transaction record. Returns whether the incarnation wrote a key
	// its previous incarnation did not (which forces re-validation of all
	// higher transactions). Never blocks.
	Record(version stm.Version, rs stm.ReadSet, ws stm.WriteSet) (wroteNewKey bool)

	// ValidateReadSet re-runs every read recorded for txnIndex against the
	// current store state and compares the observed versions. True iff all
	// match. Read-only with respect to engine state.
	ValidateReadSet(txnIndex int) bool

	// ConvertWritesToEstimates replaces all entries written by txnIndex
	// with ESTIMATE placeholders, ahead of its re-execution, so readers
	// cannot observe stale data that is about to change.
	ConvertWritesToEstimates(txnIndex int)

	// DeleteWrites removes the transaction's entries entirely (sequential
	// fallback and finalize compaction).
	DeleteWrites(txnIndex int)

	// SetOutput / Output access the per-transaction output record.
	SetOutput(txnIndex int, out *stm.Output)
	Output(txnIndex int) *stm.Output

	// Snapshot materializes the final post-block state visible above the
	// highest index: one entry per surviving key. Deletions are omitted.
	Snapshot() []KeyValue

	// Info returns monitoring data (key count, shard distribution).
	Info() StoreInfo
}
