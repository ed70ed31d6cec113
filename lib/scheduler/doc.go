/*
Package scheduler implements the collaborative task scheduler that drives
speculative block execution.

Workers repeatedly ask for the next task. The scheduler hands out
execution tasks (run one incarnation of a transaction) and validation
tasks (re-check a finished incarnation's reads) from two atomic frontier
counters, preferring validations at lower indices over executions at
higher ones. Aborts move the frontiers backwards, so the same index can
be handed out many times, once per incarnation.

Suspension is cooperative: a worker whose read hits an unresolved
lower-indexed write parks in WaitForDependency until the writer's next
incarnation completes. Progress is guaranteed because a waiter only ever
waits on a strictly lower index, and the lowest unfinished transaction
can always run to completion.

Halt abandons the block: all parked workers are released with an error
and no further tasks are handed out. It is used when the engine decides
to fall back to sequential execution.

The scheduler is fully thread-safe; every method may be called from any
worker goroutine.
*/
package scheduler
