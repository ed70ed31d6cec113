package scheduler

import (
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/blockstm/lib/stm"
)

// --------------------------------------------------------------------------
// Transaction Status
// --------------------------------------------------------------------------

const (
	txnStatusReadyToExecute = iota
	txnStatusExecuting
	txnStatusExecuted
	txnStatusAborting
)

// txnState tracks one transaction's lifecycle and incarnation counter.
type txnState struct {
	sync.RWMutex
	status      int
	incarnation int
}

// dependency is the wait point for workers blocked on one transaction.
// Broadcast whenever the transaction finishes an execution.
type dependency struct {
	mu   sync.Mutex
	cond *sync.Cond
}

// --------------------------------------------------------------------------
// Scheduler Implementation
// --------------------------------------------------------------------------

type taskScheduler struct {
	doneMarker atomic.Bool
	halted     atomic.Bool

	// Frontier counters. Tasks below the frontier are (speculatively)
	// finished; aborts rewind the frontiers via compare-and-swap.
	executionIndex  atomic.Int64
	validationIndex atomic.Int64

	// Bookkeeping for quiescence detection: Done only triggers when both
	// frontiers passed the block end, no task is in flight, and no frontier
	// rewind raced with the check.
	numActiveTasks atomic.Int64
	decreaseCount  atomic.Int64

	allTxnStatus []*txnState
	allTxnDeps   []*dependency
	blockSize    int
}

var _ IScheduler = (*taskScheduler)(nil)

// NewScheduler creates a scheduler for a block of blockSize transactions.
func NewScheduler(blockSize int) IScheduler {
	allTxnStatus := make([]*txnState, blockSize)
	allTxnDeps := make([]*dependency, blockSize)
	for i := 0; i < blockSize; i++ {
		allTxnStatus[i] = &txnState{}
		d := &dependency{}
		d.cond = sync.NewCond(&d.mu)
		allTxnDeps[i] = d
	}

	return &taskScheduler{
		blockSize:    blockSize,
		allTxnStatus: allTxnStatus,
		allTxnDeps:   allTxnDeps,
	}
}

// --------------------------------------------------------------------------
// Interface Methods (Task Dispatch)
// --------------------------------------------------------------------------

func (s *taskScheduler) Done() bool {
	return s.doneMarker.Load()
}

func (s *taskScheduler) NextTask() *Task {
	if s.halted.Load() {
		return nil
	}

	// Prefer validating a low index over executing a high one: validations
	// unblock commits, executions only add speculation.
	if s.validationIndex.Load() < s.executionIndex.Load() {
		if version := s.nextVersionToValidate(); version != nil {
			return &Task{Kind: TaskKindValidation, Version: *version}
		}
	} else {
		if version := s.nextVersionToExecute(); version != nil {
			return &Task{Kind: TaskKindExecution, Version: *version}
		}
	}
	return nil
}

func (s *taskScheduler) nextVersionToValidate() *stm.Version {
	if s.validationIndex.Load() >= int64(s.blockSize) {
		s.checkDone()
		return nil
	}

	// Claim the slot before advancing the frontier so a concurrent
	// quiescence check never sees frontier-at-end with zero active tasks
	// while this task is still being handed out.
	s.numActiveTasks.Add(1)
	validationIndex := int(s.validationIndex.Add(1) - 1)
	if validationIndex < s.blockSize {
		st := s.allTxnStatus[validationIndex]
		st.RLock()
		status, incarnation := st.status, st.incarnation
		st.RUnlock()
		if status == txnStatusExecuted {
			return &stm.Version{Index: validationIndex, Incarnation: incarnation}
		}
	}

	s.numActiveTasks.Add(-1)
	return nil
}

func (s *taskScheduler) nextVersionToExecute() *stm.Version {
	if s.executionIndex.Load() >= int64(s.blockSize) {
		s.checkDone()
		return nil
	}

	s.numActiveTasks.Add(1)
	executionIndex := int(s.executionIndex.Add(1) - 1)
	return s.tryIncarnation(executionIndex)
}

// tryIncarnation claims the transaction for execution if it is ready.
// The caller has already claimed an active-task slot; it is released here
// on failure.
func (s *taskScheduler) tryIncarnation(txnIndex int) *stm.Version {
	if txnIndex < s.blockSize {
		st := s.allTxnStatus[txnIndex]
		st.Lock()
		if st.status == txnStatusReadyToExecute {
			st.status = txnStatusExecuting
			incarnation := st.incarnation
			st.Unlock()
			return &stm.Version{Index: txnIndex, Incarnation: incarnation}
		}
		st.Unlock()
	}

	s.numActiveTasks.Add(-1)
	return nil
}

// --------------------------------------------------------------------------
// Interface Methods (Dependencies)
// --------------------------------------------------------------------------

func (s *taskScheduler) WaitForDependency(txnIndex, blockingIndex int) error {
	if blockingIndex >= txnIndex {
		panic("dependency must point at a lower transaction")
	}

	dep := s.allTxnDeps[blockingIndex]
	dep.mu.Lock()
	defer dep.mu.Unlock()

	for {
		if s.halted.Load() {
			return stm.ErrHalted
		}

		st := s.allTxnStatus[blockingIndex]
		st.RLock()
		executed := st.status == txnStatusExecuted
		st.RUnlock()
		if executed {
			return nil
		}

		// The status is re-checked after every wakeup: the blocker may
		// have been aborted again in the meantime.
		dep.cond.Wait()
	}
}

// --------------------------------------------------------------------------
// Interface Methods (Task Completion)
// --------------------------------------------------------------------------

func (s *taskScheduler) FinishExecution(version stm.Version, wroteNewKey bool) *Task {
	st := s.allTxnStatus[version.Index]
	st.Lock()
	if st.status != txnStatusExecuting {
		panic("transaction must be executing to finish execution")
	}
	st.status = txnStatusExecuted
	st.Unlock()

	// Wake every worker parked on this transaction. The broadcast happens
	// under the dependency mutex so no waiter can miss the status change.
	dep := s.allTxnDeps[version.Index]
	dep.mu.Lock()
	dep.cond.Broadcast()
	dep.mu.Unlock()

	if s.validationIndex.Load() > int64(version.Index) {
		if wroteNewKey {
			// New write locations can invalidate any higher transaction;
			// rewind the validation frontier to re-check them all.
			s.decreaseValidationIndex(version.Index)
		} else {
			// Only this transaction needs validating; hand the task
			// straight back to the caller.
			return &Task{Kind: TaskKindValidation, Version: version}
		}
	}

	s.numActiveTasks.Add(-1)
	return nil
}

func (s *taskScheduler) TryValidationAbort(version stm.Version) bool {
	st := s.allTxnStatus[version.Index]
	st.Lock()
	defer st.Unlock()
	if st.incarnation == version.Incarnation && st.status == txnStatusExecuted {
		st.status = txnStatusAborting
		return true
	}
	return false
}

func (s *taskScheduler) FinishValidation(txnIndex int, aborted bool) *Task {
	if aborted {
		s.setReadyStatus(txnIndex)
		// Everything above may have read the aborted writes.
		s.decreaseValidationIndex(txnIndex + 1)

		if s.executionIndex.Load() > int64(txnIndex) {
			if version := s.tryIncarnation(txnIndex); version != nil {
				// Active-task slot carries over from the validation task
				// to the re-execution task.
				return &Task{Kind: TaskKindExecution, Version: *version}
			}
			// tryIncarnation released the slot on failure; re-claim for
			// the decrement below.
			s.numActiveTasks.Add(1)
		}
	}

	s.numActiveTasks.Add(-1)
	return nil
}

// setReadyStatus bumps the incarnation and makes the transaction
// schedulable again.
func (s *taskScheduler) setReadyStatus(txnIndex int) {
	st := s.allTxnStatus[txnIndex]
	st.Lock()
	st.incarnation++
	st.status = txnStatusReadyToExecute
	st.Unlock()
}

// --------------------------------------------------------------------------
// Interface Methods (Halt / Quiescence)
// --------------------------------------------------------------------------

func (s *taskScheduler) Halt() {
	if !s.halted.CompareAndSwap(false, true) {
		return
	}
	s.doneMarker.Store(true)

	// Release every parked worker.
	for _, dep := range s.allTxnDeps {
		dep.mu.Lock()
		dep.cond.Broadcast()
		dep.mu.Unlock()
	}
}

func (s *taskScheduler) Halted() bool {
	return s.halted.Load()
}

// checkDone flips the done marker once both frontiers passed the block end
// with no task in flight. The decreaseCount re-read guards against a
// frontier rewind racing with the check.
func (s *taskScheduler) checkDone() {
	observedCount := s.decreaseCount.Load()
	if s.executionIndex.Load() >= int64(s.blockSize) &&
		s.validationIndex.Load() >= int64(s.blockSize) &&
		s.numActiveTasks.Load() == 0 &&
		observedCount == s.decreaseCount.Load() {
		s.doneMarker.Store(true)
	}
}

func (s *taskScheduler) decreaseValidationIndex(txnIndex int) {
	target := int64(txnIndex)
	for {
		current := s.validationIndex.Load()
		if current <= target || s.validationIndex.CompareAndSwap(current, target) {
			break
		}
	}
	s.decreaseCount.Add(1)
}
