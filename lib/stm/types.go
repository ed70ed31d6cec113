package stm

import "fmt"

// --------------------------------------------------------------------------
// Versions
// --------------------------------------------------------------------------

// Version identifies one execution attempt of one transaction: the
// transaction's index in the block and the incarnation (attempt counter,
// starting at 0). A transaction may go through many incarnations over a
// block, but only one is ever current.
type Version struct {
	// Index is the transaction's ordinal in [0, blockSize), fixing the
	// serializable order the execution must reproduce.
	Index int
	// Incarnation is the monotonically increasing attempt counter.
	Incarnation int
}

func (v Version) String() string {
	return fmt.Sprintf("(%d,%d)", v.Index, v.Incarnation)
}

// --------------------------------------------------------------------------
// Read/Write Descriptors
// --------------------------------------------------------------------------

// ReadDescriptor records one key read during an execution together with the
// version that was observed. A nil Version means the value came from the
// pre-block base state.
type ReadDescriptor struct {
	Key     string
	Version *Version
}

// ReadSet is the ordered list of reads captured during one incarnation.
type ReadSet []ReadDescriptor

// WriteOp is one key write (or deletion) produced by an incarnation.
// Delete=true shadows any base-state value for the key.
type WriteOp struct {
	Key    string
	Value  []byte
	Delete bool
}

// WriteSet is the ordered list of writes produced by one incarnation.
type WriteSet []WriteOp

// Keys returns the keys touched by the write set, in order.
func (ws WriteSet) Keys() []string {
	keys := make([]string, len(ws))
	for i, w := range ws {
		keys[i] = w.Key
	}
	return keys
}

// --------------------------------------------------------------------------
// Transaction Output
// --------------------------------------------------------------------------

// Event is an opaque event emitted by a transaction.
type Event struct {
	Key  string
	Data []byte
}

// Output is the externally visible result of one committed incarnation.
// It is owned exclusively by the engine's per-transaction record until
// finalize copies it out; afterwards it is immutable.
//
// A failed transaction (VM error, insufficient gas, ...) is not an engine
// error: it is recorded here with Success=false and propagated to the caller
// as a normal result. The engine always returns one Output per input
// transaction.
type Output struct {
	WriteSet   WriteSet
	Events     []Event
	GasUsed    uint64
	Success    bool
	FailureMsg string

	// PublishedModule marks an execution that is not deterministic-safe to
	// re-run speculatively (e.g. it publishes code that later transactions'
	// loading depends on). Observing it forces the engine to abandon
	// parallel execution and fall back to sequential mode for the block.
	PublishedModule bool
}
