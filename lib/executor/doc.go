/*
Package executor implements optimistic parallel block execution.

A block is an ordered list of transactions whose committed effect must be
byte-identical to executing them one after another. The executor runs
them speculatively on a pool of workers: every transaction executes
against a multi-version store that resolves each read to the closest
lower-indexed write, records its read set, and is re-validated (and
re-executed) whenever a lower transaction's late write invalidates what
it observed. Scheduling, suspension on unresolved dependencies and abort
bookkeeping are delegated to the scheduler package, versioned state to
the mvstore package.

Two executors are provided: the parallel one described above and a plain
sequential one. The parallel executor falls back to the sequential one
for the whole block when it halts, e.g. when a transaction publishes a
module (making speculative re-runs of later transactions unsound) or a
transaction exceeds its re-execution budget. Both deliver identical
outputs and identical commit listener callbacks for the same block.

Thread-safety: an executor is stateless and may be shared; each
ExecuteBlock call is independent.
*/
package executor
