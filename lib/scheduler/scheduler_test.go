package scheduler

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/blockstm/lib/stm"
)

// runTask drives one task to completion the way a worker would, without
// doing any real execution work. Returns the follow-up task, if any.
func runTask(s IScheduler, task *Task) *Task {
	switch task.Kind {
	case TaskKindExecution:
		return s.FinishExecution(task.Version, false)
	case TaskKindValidation:
		return s.FinishValidation(task.Version.Index, false)
	}
	return nil
}

// TestSingleTransactionLifecycle walks one transaction through execute,
// validate, done.
func TestSingleTransactionLifecycle(t *testing.T) {
	s := NewScheduler(1)

	task := s.NextTask()
	if task == nil || task.Kind != TaskKindExecution {
		t.Fatalf("Expected execution task, got %+v", task)
	}
	if task.Version != (stm.Version{Index: 0, Incarnation: 0}) {
		t.Fatalf("Expected version (0,0), got %v", task.Version)
	}

	if next := s.FinishExecution(task.Version, false); next != nil {
		t.Fatalf("No follow-up expected before the validation frontier passed, got %+v", next)
	}

	task = s.NextTask()
	if task == nil || task.Kind != TaskKindValidation {
		t.Fatalf("Expected validation task, got %+v", task)
	}

	if next := s.FinishValidation(task.Version.Index, false); next != nil {
		t.Fatalf("No follow-up expected for a passing validation, got %+v", next)
	}

	// Drain until the scheduler detects quiescence
	for i := 0; i < 10 && !s.Done(); i++ {
		if task := s.NextTask(); task != nil {
			t.Fatalf("Unexpected task %+v", task)
		}
	}
	if !s.Done() {
		t.Errorf("Scheduler must be done after execute and validate")
	}
}

// TestSingleWorkerDrainsBlock runs a whole block with one worker loop.
func TestSingleWorkerDrainsBlock(t *testing.T) {
	const blockSize = 32
	s := NewScheduler(blockSize)

	executed := make(map[int]int)
	validated := make(map[int]int)

	for !s.Done() {
		task := s.NextTask()
		for task != nil {
			switch task.Kind {
			case TaskKindExecution:
				executed[task.Version.Index]++
			case TaskKindValidation:
				validated[task.Version.Index]++
			}
			task = runTask(s, task)
		}
	}

	for i := 0; i < blockSize; i++ {
		if executed[i] != 1 {
			t.Errorf("Txn %d executed %d times, expected 1", i, executed[i])
		}
		if validated[i] != 1 {
			t.Errorf("Txn %d validated %d times, expected 1", i, validated[i])
		}
	}
}

// TestAbortSchedulesReexecution verifies a failed validation yields the
// re-execution task directly and bumps the incarnation.
func TestAbortSchedulesReexecution(t *testing.T) {
	s := NewScheduler(2)

	// Execute both transactions
	t0 := s.NextTask()
	t1 := s.NextTask()
	if t0 == nil || t1 == nil || t0.Kind != TaskKindExecution || t1.Kind != TaskKindExecution {
		t.Fatalf("Expected two execution tasks, got %+v / %+v", t0, t1)
	}
	s.FinishExecution(t0.Version, false)
	s.FinishExecution(t1.Version, false)

	// Validation of txn 1 fails
	if !s.TryValidationAbort(t1.Version) {
		t.Fatalf("First abort claim must win")
	}
	if s.TryValidationAbort(t1.Version) {
		t.Errorf("Second abort claim for the same incarnation must lose")
	}

	next := s.FinishValidation(1, true)
	if next == nil || next.Kind != TaskKindExecution {
		t.Fatalf("Expected re-execution task, got %+v", next)
	}
	if next.Version != (stm.Version{Index: 1, Incarnation: 1}) {
		t.Errorf("Expected version (1,1), got %v", next.Version)
	}
}

// TestNewKeyRewindsValidationFrontier verifies that an execution which
// wrote a previously unknown key forces higher transactions to re-validate.
func TestNewKeyRewindsValidationFrontier(t *testing.T) {
	const blockSize = 4
	s := NewScheduler(blockSize)

	// Execute everything
	tasks := make([]*Task, blockSize)
	for i := 0; i < blockSize; i++ {
		tasks[i] = s.NextTask()
		if tasks[i] == nil || tasks[i].Kind != TaskKindExecution {
			t.Fatalf("Expected execution task %d, got %+v", i, tasks[i])
		}
	}
	for i := blockSize - 1; i >= 1; i-- {
		s.FinishExecution(tasks[i].Version, false)
	}

	// Move the validation frontier past txn 0 is impossible (txn 0 not
	// executed), so validations stall at 0
	if task := s.NextTask(); task != nil {
		t.Fatalf("Txn 0 still executing, expected no task, got %+v", task)
	}

	// Txn 0 finishes with a new key: no direct follow-up, frontier rewound
	if next := s.FinishExecution(tasks[0].Version, true); next != nil {
		t.Fatalf("Expected frontier rewind instead of direct task, got %+v", next)
	}

	// Now all four validations are handed out in order
	for i := 0; i < blockSize; i++ {
		task := s.NextTask()
		if task == nil || task.Kind != TaskKindValidation || task.Version.Index != i {
			t.Fatalf("Expected validation of %d, got %+v", i, task)
		}
		s.FinishValidation(task.Version.Index, false)
	}
}

// TestWaitForDependencyResolved verifies waiting on an executed
// transaction returns immediately.
func TestWaitForDependencyResolved(t *testing.T) {
	s := NewScheduler(2)

	task := s.NextTask()
	s.FinishExecution(task.Version, false)

	done := make(chan error, 1)
	go func() { done <- s.WaitForDependency(1, 0) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected nil error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("WaitForDependency must not block on an executed transaction")
	}
}

// TestWaitForDependencyBlocks verifies a waiter parks until the blocker
// finishes executing.
func TestWaitForDependencyBlocks(t *testing.T) {
	s := NewScheduler(2)

	task := s.NextTask() // txn 0 now executing

	var wg sync.WaitGroup
	wg.Add(1)
	released := make(chan error, 1)
	go func() {
		defer wg.Done()
		released <- s.WaitForDependency(1, 0)
	}()

	// The waiter must still be parked
	select {
	case err := <-released:
		t.Fatalf("Waiter released too early (err=%v)", err)
	case <-time.After(50 * time.Millisecond):
	}

	s.FinishExecution(task.Version, false)
	wg.Wait()

	if err := <-released; err != nil {
		t.Errorf("Expected nil error after blocker finished, got %v", err)
	}
}

// TestHaltReleasesWaiters verifies Halt wakes parked workers with an error
// and stops task dispatch.
func TestHaltReleasesWaiters(t *testing.T) {
	s := NewScheduler(2)

	s.NextTask() // txn 0 executing, never finishes

	released := make(chan error, 1)
	go func() { released <- s.WaitForDependency(1, 0) }()

	// Give the waiter time to park
	time.Sleep(20 * time.Millisecond)
	s.Halt()

	select {
	case err := <-released:
		if !errors.Is(err, stm.ErrHalted) {
			t.Errorf("Expected ErrHalted, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Halt must release parked waiters")
	}

	if !s.Halted() || !s.Done() {
		t.Errorf("Halted scheduler must report Halted and Done")
	}
	if task := s.NextTask(); task != nil {
		t.Errorf("Halted scheduler must not hand out tasks, got %+v", task)
	}

	// Halt is idempotent
	s.Halt()
}

// TestConcurrentWorkers drains a block with many workers in parallel.
// Every transaction must end up executed and validated exactly once (no
// aborts are triggered here, validations always pass).
func TestConcurrentWorkers(t *testing.T) {
	const blockSize = 256
	const numWorkers = 8

	s := NewScheduler(blockSize)

	var mu sync.Mutex
	executed := make(map[int]int)
	validated := make(map[int]int)

	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for w := 0; w < numWorkers; w++ {
		go func() {
			defer wg.Done()
			for !s.Done() {
				task := s.NextTask()
				for task != nil {
					mu.Lock()
					switch task.Kind {
					case TaskKindExecution:
						executed[task.Version.Index]++
					case TaskKindValidation:
						validated[task.Version.Index]++
					}
					mu.Unlock()
					task = runTask(s, task)
				}
			}
		}()
	}
	wg.Wait()

	for i := 0; i < blockSize; i++ {
		if executed[i] != 1 {
			t.Errorf("Txn %d executed %d times, expected 1", i, executed[i])
		}
		if validated[i] < 1 {
			t.Errorf("Txn %d never validated", i)
		}
	}
}
