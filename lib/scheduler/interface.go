package scheduler

import (
	"github.com/ValentinKolb/blockstm/lib/stm"
)

// --------------------------------------------------------------------------
// Task Types
// --------------------------------------------------------------------------

// TaskKind distinguishes the two kinds of work handed to workers.
type TaskKind int

const (
	// TaskKindExecution runs one incarnation of a transaction.
	TaskKindExecution TaskKind = iota
	// TaskKindValidation re-checks the read set of a finished incarnation.
	TaskKindValidation
)

// Task is one unit of work for a worker.
type Task struct {
	Kind    TaskKind
	Version stm.Version
}

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IScheduler coordinates the workers executing a block.
//
// All methods are thread-safe. The FinishExecution / FinishValidation
// methods may hand a follow-up task directly back to the calling worker;
// the worker must run it before asking for the next one.
type IScheduler interface {
	// NextTask returns the next unit of work, or nil if none is currently
	// available. Workers poll until Done reports true.
	NextTask() *Task

	// WaitForDependency parks the calling worker until the transaction at
	// blockingIndex finishes its next execution. It returns immediately if
	// the dependency is already resolved, and returns stm.ErrHalted if the
	// scheduler is halted while (or before) waiting. blockingIndex must be
	// strictly below txnIndex.
	WaitForDependency(txnIndex, blockingIndex int) error

	// FinishExecution marks the incarnation as executed, wakes workers
	// waiting on it, and schedules the follow-up validation: either
	// returned directly to the caller or, if the incarnation wrote a key
	// it previously did not, by rewinding the validation frontier.
	FinishExecution(version stm.Version, wroteNewKey bool) *Task

	// TryValidationAbort atomically claims the right to abort the given
	// incarnation after a failed validation. Only one validator can win;
	// the winner must convert the transaction's writes to estimates and
	// then call FinishValidation with aborted=true.
	TryValidationAbort(version stm.Version) bool

	// FinishValidation completes a validation task. For an aborted
	// incarnation it schedules re-validation of higher transactions and
	// may return the re-execution task directly to the caller.
	FinishValidation(txnIndex int, aborted bool) *Task

	// Halt abandons the block: no further tasks are handed out and all
	// parked workers are released with stm.ErrHalted. Idempotent.
	Halt()

	// Halted reports whether Halt has been called.
	Halted() bool

	// Done reports whether all transactions are executed and validated
	// (or the scheduler was halted).
	Done() bool
}
