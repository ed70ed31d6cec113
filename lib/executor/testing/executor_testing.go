package testing

import (
	"bytes"
	"fmt"
	"math/rand"
	"testing"

	"github.com/ValentinKolb/blockstm/lib/executor"
	"github.com/ValentinKolb/blockstm/lib/stm"
)

// ExecutorFactory is a function that creates a new executor instance for
// the given configuration.
type ExecutorFactory func(cfg executor.Config) (executor.IBlockExecutor, error)

// RunExecutorTests runs a conformance test suite for a block executor
// implementation. Every test checks behaviour against the sequential
// semantics the interface promises.
func RunExecutorTests(t *testing.T, name string, factory ExecutorFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("EmptyBlock", func(t *testing.T) {
			testEmptyBlock(t, factory)
		})

		t.Run("SingleTxn", func(t *testing.T) {
			testSingleTxn(t, factory)
		})

		t.Run("ReadPredecessorWrite", func(t *testing.T) {
			testReadPredecessorWrite(t, factory)
		})

		t.Run("CounterChain", func(t *testing.T) {
			testCounterChain(t, factory)
		})

		t.Run("DisjointTxns", func(t *testing.T) {
			testDisjointTxns(t, factory)
		})

		t.Run("Deletions", func(t *testing.T) {
			testDeletions(t, factory)
		})

		t.Run("FailedTxn", func(t *testing.T) {
			testFailedTxn(t, factory)
		})

		t.Run("ListenerOrder", func(t *testing.T) {
			testListenerOrder(t, factory)
		})

		t.Run("SequentialEquivalence", func(t *testing.T) {
			testSequentialEquivalence(t, factory)
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// newExecutor creates an executor with the default config (plus listener)
// or fails the test.
func newExecutor(t *testing.T, factory ExecutorFactory, listener stm.CommitListener) executor.IBlockExecutor {
	cfg := executor.DefaultConfig()
	cfg.Listener = listener
	e, err := factory(cfg)
	if err != nil {
		t.Fatalf("Factory failed: %v", err)
	}
	return e
}

// assertOutputsEqual compares two block results output by output.
func assertOutputsEqual(t *testing.T, want, got *executor.BlockResult) {
	t.Helper()

	if len(want.Outputs) != len(got.Outputs) {
		t.Fatalf("Expected %d outputs, got %d", len(want.Outputs), len(got.Outputs))
	}
	for i := range want.Outputs {
		w, g := want.Outputs[i], got.Outputs[i]
		if w.Success != g.Success {
			t.Errorf("Txn %d: success mismatch (want %v, got %v)", i, w.Success, g.Success)
		}
		if w.GasUsed != g.GasUsed {
			t.Errorf("Txn %d: gas mismatch (want %d, got %d)", i, w.GasUsed, g.GasUsed)
		}
		if len(w.WriteSet) != len(g.WriteSet) {
			t.Errorf("Txn %d: write set size mismatch (want %d, got %d)", i, len(w.WriteSet), len(g.WriteSet))
			continue
		}
		for j := range w.WriteSet {
			ww, gw := w.WriteSet[j], g.WriteSet[j]
			if ww.Key != gw.Key || ww.Delete != gw.Delete || !bytes.Equal(ww.Value, gw.Value) {
				t.Errorf("Txn %d write %d: want %+v, got %+v", i, j, ww, gw)
			}
		}
	}
}

// stateRecorder accumulates committed writes into a final state and
// records the callback order.
type stateRecorder struct {
	state   map[string][]byte
	indices []int
}

func newStateRecorder() *stateRecorder {
	return &stateRecorder{state: make(map[string][]byte)}
}

func (r *stateRecorder) OnCommitted(txnIndex int, ws stm.WriteSet) {
	r.indices = append(r.indices, txnIndex)
	for _, w := range ws {
		if w.Delete {
			delete(r.state, w.Key)
			continue
		}
		r.state[w.Key] = w.Value
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testEmptyBlock(t *testing.T, factory ExecutorFactory) {
	e := newExecutor(t, factory, nil)

	result, err := e.ExecuteBlock(nil, MapState{})
	if err != nil {
		t.Fatalf("ExecuteBlock failed: %v", err)
	}
	if len(result.Outputs) != 0 {
		t.Errorf("Expected no outputs, got %d", len(result.Outputs))
	}
}

func testSingleTxn(t *testing.T, factory ExecutorFactory) {
	rec := newStateRecorder()
	e := newExecutor(t, factory, rec)

	txns := []stm.Transaction{
		&KVTxn{ReadKeys: []string{"a"}, WriteKeys: []string{"b"}, Salt: 7},
	}
	base := MapState{"a": Uint64Value(35)}

	result, err := e.ExecuteBlock(txns, base)
	if err != nil {
		t.Fatalf("ExecuteBlock failed: %v", err)
	}
	if len(result.Outputs) != 1 || !result.Outputs[0].Success {
		t.Fatalf("Expected one successful output, got %+v", result.Outputs)
	}
	if got := DecodeUint64(rec.state["b"]); got != 42 {
		t.Errorf("Expected b=42, got %d", got)
	}
}

func testReadPredecessorWrite(t *testing.T, factory ExecutorFactory) {
	rec := newStateRecorder()
	e := newExecutor(t, factory, rec)

	// Txn 1 must observe txn 0's write, never the base value
	txns := []stm.Transaction{
		&KVTxn{WriteKeys: []string{"a"}, Salt: 100},
		&KVTxn{ReadKeys: []string{"a"}, WriteKeys: []string{"b"}, Salt: 1},
	}
	base := MapState{"a": Uint64Value(999)}

	if _, err := e.ExecuteBlock(txns, base); err != nil {
		t.Fatalf("ExecuteBlock failed: %v", err)
	}
	if got := DecodeUint64(rec.state["b"]); got != 101 {
		t.Errorf("Expected b=101 (txn 0's write + salt), got %d", got)
	}
}

func testCounterChain(t *testing.T, factory ExecutorFactory) {
	const chainLen = 64

	rec := newStateRecorder()
	e := newExecutor(t, factory, rec)

	// Every transaction increments the same counter: worst case for
	// speculation, the result must still be exact
	txns := make([]stm.Transaction, chainLen)
	for i := range txns {
		txns[i] = &KVTxn{ReadKeys: []string{"counter"}, WriteKeys: []string{"counter"}, Salt: 1}
	}
	base := MapState{"counter": Uint64Value(0)}

	if _, err := e.ExecuteBlock(txns, base); err != nil {
		t.Fatalf("ExecuteBlock failed: %v", err)
	}
	if got := DecodeUint64(rec.state["counter"]); got != chainLen {
		t.Errorf("Expected counter=%d, got %d", chainLen, got)
	}
}

func testDisjointTxns(t *testing.T, factory ExecutorFactory) {
	const numTxns = 100

	rec := newStateRecorder()
	e := newExecutor(t, factory, rec)

	txns := make([]stm.Transaction, numTxns)
	for i := range txns {
		key := fmt.Sprintf("key-%d", i)
		txns[i] = &KVTxn{ReadKeys: []string{key}, WriteKeys: []string{key}, Salt: 1}
	}
	base := make(MapState)
	for i := 0; i < numTxns; i++ {
		base[fmt.Sprintf("key-%d", i)] = Uint64Value(uint64(i))
	}

	result, err := e.ExecuteBlock(txns, base)
	if err != nil {
		t.Fatalf("ExecuteBlock failed: %v", err)
	}
	for i, out := range result.Outputs {
		if !out.Success {
			t.Errorf("Txn %d failed: %s", i, out.FailureMsg)
		}
	}
	for i := 0; i < numTxns; i++ {
		key := fmt.Sprintf("key-%d", i)
		if got := DecodeUint64(rec.state[key]); got != uint64(i)+1 {
			t.Errorf("Expected %s=%d, got %d", key, i+1, got)
		}
	}
}

func testDeletions(t *testing.T, factory ExecutorFactory) {
	rec := newStateRecorder()
	e := newExecutor(t, factory, rec)

	// Txn 0 deletes "a"; txn 1 must not see the base value anymore
	txns := []stm.Transaction{
		&KVTxn{DeleteKeys: []string{"a"}},
		&KVTxn{ReadKeys: []string{"a"}, WriteKeys: []string{"b"}, Salt: 5},
	}
	base := MapState{"a": Uint64Value(1000)}

	if _, err := e.ExecuteBlock(txns, base); err != nil {
		t.Fatalf("ExecuteBlock failed: %v", err)
	}
	if _, ok := rec.state["a"]; ok {
		t.Errorf("Deleted key must not survive")
	}
	if got := DecodeUint64(rec.state["b"]); got != 5 {
		t.Errorf("Expected b=5 (deleted read contributes 0), got %d", got)
	}
}

func testFailedTxn(t *testing.T, factory ExecutorFactory) {
	rec := newStateRecorder()
	e := newExecutor(t, factory, rec)

	txns := []stm.Transaction{
		&KVTxn{WriteKeys: []string{"a"}, Salt: 1},
		&KVTxn{ReadKeys: []string{"a"}, Fail: true},
		&KVTxn{ReadKeys: []string{"a"}, WriteKeys: []string{"b"}, Salt: 1},
	}

	result, err := e.ExecuteBlock(txns, MapState{})
	if err != nil {
		t.Fatalf("ExecuteBlock failed: %v", err)
	}
	if result.Outputs[1].Success {
		t.Errorf("Txn 1 must report failure")
	}
	if len(result.Outputs[1].WriteSet) != 0 {
		t.Errorf("Failed txn must not write, got %+v", result.Outputs[1].WriteSet)
	}
	// The failure is a normal result, later transactions continue
	if got := DecodeUint64(rec.state["b"]); got != 2 {
		t.Errorf("Expected b=2, got %d", got)
	}
}

func testListenerOrder(t *testing.T, factory ExecutorFactory) {
	const numTxns = 50

	rec := newStateRecorder()
	e := newExecutor(t, factory, rec)

	r := rand.New(rand.NewSource(7))
	opts := WorkloadOptions{NumTxns: numTxns, NumHotKeys: 3, ConflictRate: 0.5}
	txns := GenWorkload(r, opts)

	if _, err := e.ExecuteBlock(txns, GenBaseState(opts)); err != nil {
		t.Fatalf("ExecuteBlock failed: %v", err)
	}

	if len(rec.indices) != numTxns {
		t.Fatalf("Expected %d commit callbacks, got %d", numTxns, len(rec.indices))
	}
	for i, idx := range rec.indices {
		if idx != i {
			t.Fatalf("Commit callbacks out of order at position %d: got index %d", i, idx)
		}
	}
}

func testSequentialEquivalence(t *testing.T, factory ExecutorFactory) {
	const numTxns = 200

	for _, conflictRate := range []float64{0.0, 0.3, 0.9} {
		conflictRate := conflictRate
		t.Run(fmt.Sprintf("conflict=%.1f", conflictRate), func(t *testing.T) {
			r := rand.New(rand.NewSource(42))
			opts := WorkloadOptions{NumTxns: numTxns, NumHotKeys: 5, ConflictRate: conflictRate}
			txns := GenWorkload(r, opts)
			base := GenBaseState(opts)

			reference := executor.NewSequentialExecutor(executor.Config{Concurrency: 1})
			want, err := reference.ExecuteBlock(txns, base)
			if err != nil {
				t.Fatalf("Reference execution failed: %v", err)
			}

			e := newExecutor(t, factory, nil)
			got, err := e.ExecuteBlock(txns, base)
			if err != nil {
				t.Fatalf("ExecuteBlock failed: %v", err)
			}

			assertOutputsEqual(t, want, got)
		})
	}
}
