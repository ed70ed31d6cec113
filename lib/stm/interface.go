package stm

import "errors"

// --------------------------------------------------------------------------
// Capability Interfaces
// --------------------------------------------------------------------------

// StateView is the read surface a transaction executes against. During
// parallel execution the view is speculative: a read may transparently park
// the calling worker until a pending lower-indexed writer resolves.
//
// The returned value must be treated as read-only; it may be shared with
// other concurrently validating workers.
type StateView interface {
	// Get returns the value for a key as observed by this transaction.
	// found=false means the key does not exist (neither written by a lower
	// transaction nor present in the base state). A non-nil error means the
	// speculative execution is void and must be abandoned (see ErrHalted).
	Get(key string) (value []byte, found bool, err error)
}

// BaseState resolves keys against the read-only pre-block state. It is
// supplied by the external storage layer and never mutated by the engine.
type BaseState interface {
	Get(key string) (value []byte, found bool)
}

// Transaction is the opaque per-transaction executor capability. Execute
// must be deterministic with respect to the values the view returns: given
// the same observed reads it must produce the same Output. It may be invoked
// many times (once per incarnation).
type Transaction interface {
	// Execute runs the transaction against the given view and returns its
	// output. An error return is reserved for engine-level conditions
	// (ErrHalted); transaction-level failures belong in Output.
	Execute(view StateView) (*Output, error)

	// ReadHints and WriteHints return the best-effort estimated read/write
	// key sets. Incorrect hints are self-correcting via the descriptors
	// captured at execution time; they only affect scheduling locality.
	ReadHints() []string
	WriteHints() []string
}

// CommitListener receives committed write sets at finalize time, exactly
// once per transaction and in strictly increasing index order. This is the
// sole extension point used by cross-machine/sharded deployments to
// propagate writes.
type CommitListener interface {
	OnCommitted(txnIndex int, ws WriteSet)
}

// CommitListenerFunc adapts a plain function to the CommitListener interface.
type CommitListenerFunc func(txnIndex int, ws WriteSet)

func (f CommitListenerFunc) OnCommitted(txnIndex int, ws WriteSet) { f(txnIndex, ws) }

// --------------------------------------------------------------------------
// Engine-Level Errors
// --------------------------------------------------------------------------

// ErrHalted is returned from StateView.Get (and in turn from Execute) when
// the engine has abandoned parallel execution of the block. The speculative
// execution observing it is void; its output is discarded and never
// recorded.
var ErrHalted = errors.New("parallel execution halted")
