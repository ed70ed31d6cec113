// Package stm defines the shared vocabulary of the optimistic parallel
// transaction execution engine: transaction versions, read/write descriptors,
// transaction outputs and the capability interfaces through which the engine
// talks to the outside world.
//
// The engine executes a fixed, ordered list of transactions speculatively
// across worker threads while guaranteeing that the committed result is
// identical to executing the same transactions strictly sequentially in
// their block order. The types in this package are deliberately agnostic to
// the concrete transaction representation:
//
//   - Transaction: the opaque per-transaction executor. It runs
//     deterministically against whatever values the StateView returns and
//     produces an Output. Best-effort read/write hints improve scheduling
//     locality but are self-correcting and never a correctness requirement.
//
//   - StateView: what a transaction observes during execution. During
//     parallel execution this is a speculative view over the multi-version
//     store; during sequential execution it is a plain overlay.
//
//   - BaseState: the read-only pre-block state resolver supplied by the
//     external storage layer. Never mutated by the engine.
//
//   - CommitListener: the narrow commit-notification hook invoked exactly
//     once per transaction, in strictly increasing index order, at finalize
//     time. Sharded/replicated deployments attach here.
//
// All entities defined here are block-scoped: they are created when a block
// begins and dropped when it finishes. Nothing persists across blocks.
package stm
