package mvstore

import (
	"fmt"
	"sync"
	"testing"

	"github.com/ValentinKolb/blockstm/lib/stm"
)

// helper creating a store for a block of the given size
func newTestStore(blockSize int) IVersionedStore {
	return NewVersionedStore(blockSize, DefaultOptions())
}

// TestReadEmptyStore verifies reads on an untouched store fall through to
// the base state.
func TestReadEmptyStore(t *testing.T) {
	s := newTestStore(10)

	res := s.Read("a", 5)
	if res.Status != ReadStatusNotFound {
		t.Errorf("Expected NotFound, got %v", res.Status)
	}
}

// TestReadVisibility verifies a reader at index i only sees the closest
// writer strictly below i.
func TestReadVisibility(t *testing.T) {
	s := newTestStore(10)

	s.Record(stm.Version{Index: 3, Incarnation: 0}, nil, stm.WriteSet{
		{Key: "a", Value: []byte("v3")},
	})
	s.Record(stm.Version{Index: 5, Incarnation: 0}, nil, stm.WriteSet{
		{Key: "a", Value: []byte("v5")},
	})

	// Reader at 4 sees txn 3's write
	res := s.Read("a", 4)
	if res.Status != ReadStatusOK || string(res.Value) != "v3" {
		t.Errorf("Reader at 4: expected v3, got %+v", res)
	}
	if res.Version != (stm.Version{Index: 3, Incarnation: 0}) {
		t.Errorf("Reader at 4: unexpected version %v", res.Version)
	}

	// Reader at 6 sees txn 5's write
	res = s.Read("a", 6)
	if res.Status != ReadStatusOK || string(res.Value) != "v5" {
		t.Errorf("Reader at 6: expected v5, got %+v", res)
	}

	// Reader at 3 must not see its own index or anything above
	res = s.Read("a", 3)
	if res.Status != ReadStatusNotFound {
		t.Errorf("Reader at 3: expected NotFound, got %+v", res)
	}

	// Reader at 0 never sees anything
	res = s.Read("a", 0)
	if res.Status != ReadStatusNotFound {
		t.Errorf("Reader at 0: expected NotFound, got %+v", res)
	}
}

// TestEstimateBlocksReaders verifies that converting writes to estimates
// turns subsequent reads into dependencies on the writer.
func TestEstimateBlocksReaders(t *testing.T) {
	s := newTestStore(10)

	s.Record(stm.Version{Index: 2, Incarnation: 0}, nil, stm.WriteSet{
		{Key: "a", Value: []byte("v2")},
	})
	s.ConvertWritesToEstimates(2)

	res := s.Read("a", 5)
	if res.Status != ReadStatusDependency {
		t.Fatalf("Expected Dependency, got %+v", res)
	}
	if res.BlockingIndex != 2 {
		t.Errorf("Expected blocking index 2, got %d", res.BlockingIndex)
	}

	// The next incarnation resolves the estimate
	s.Record(stm.Version{Index: 2, Incarnation: 1}, nil, stm.WriteSet{
		{Key: "a", Value: []byte("v2'")},
	})

	res = s.Read("a", 5)
	if res.Status != ReadStatusOK || string(res.Value) != "v2'" {
		t.Errorf("Expected v2', got %+v", res)
	}
	if res.Version.Incarnation != 1 {
		t.Errorf("Expected incarnation 1, got %d", res.Version.Incarnation)
	}
}

// TestRecordReplacesPreviousIncarnation verifies stale entries of a prior
// incarnation are removed when the write set shrinks.
func TestRecordReplacesPreviousIncarnation(t *testing.T) {
	s := newTestStore(10)

	wroteNew := s.Record(stm.Version{Index: 1, Incarnation: 0}, nil, stm.WriteSet{
		{Key: "a", Value: []byte("a0")},
		{Key: "b", Value: []byte("b0")},
	})
	if !wroteNew {
		t.Errorf("First incarnation must report new keys")
	}

	// Second incarnation drops "b" and adds "c"
	wroteNew = s.Record(stm.Version{Index: 1, Incarnation: 1}, nil, stm.WriteSet{
		{Key: "a", Value: []byte("a1")},
		{Key: "c", Value: []byte("c1")},
	})
	if !wroteNew {
		t.Errorf("New key c must be reported")
	}

	if res := s.Read("b", 5); res.Status != ReadStatusNotFound {
		t.Errorf("Stale write to b must be gone, got %+v", res)
	}
	if res := s.Read("c", 5); res.Status != ReadStatusOK || string(res.Value) != "c1" {
		t.Errorf("Expected c1, got %+v", res)
	}

	// Identical key set again: no new locations
	wroteNew = s.Record(stm.Version{Index: 1, Incarnation: 2}, nil, stm.WriteSet{
		{Key: "a", Value: []byte("a2")},
		{Key: "c", Value: []byte("c2")},
	})
	if wroteNew {
		t.Errorf("Unchanged key set must not report new keys")
	}
}

// TestRegisterHints verifies hinted keys appear as dependencies before the
// first execution and that wrong hints are cleaned up by the first record.
func TestRegisterHints(t *testing.T) {
	s := newTestStore(10)

	s.RegisterHints(2, []string{"a", "wrong"})

	if res := s.Read("a", 5); res.Status != ReadStatusDependency || res.BlockingIndex != 2 {
		t.Errorf("Hinted key must be a dependency, got %+v", res)
	}

	// The actual execution writes only "a"
	s.Record(stm.Version{Index: 2, Incarnation: 0}, nil, stm.WriteSet{
		{Key: "a", Value: []byte("va")},
	})

	if res := s.Read("a", 5); res.Status != ReadStatusOK || string(res.Value) != "va" {
		t.Errorf("Expected va, got %+v", res)
	}
	if res := s.Read("wrong", 5); res.Status != ReadStatusNotFound {
		t.Errorf("Stale hint must be cleaned up, got %+v", res)
	}
}

// TestValidateReadSet covers the three validation outcomes: unchanged reads
// pass, a new lower write invalidates, an estimate invalidates.
func TestValidateReadSet(t *testing.T) {
	s := newTestStore(10)

	s.Record(stm.Version{Index: 1, Incarnation: 0}, nil, stm.WriteSet{
		{Key: "a", Value: []byte("v1")},
	})

	// Txn 5 read "a" from txn 1 and "b" from the base state
	v1 := stm.Version{Index: 1, Incarnation: 0}
	s.Record(stm.Version{Index: 5, Incarnation: 0}, stm.ReadSet{
		{Key: "a", Version: &v1},
		{Key: "b", Version: nil},
	}, nil)

	if !s.ValidateReadSet(5) {
		t.Errorf("Unchanged reads must validate")
	}

	// A write by txn 3 changes what txn 5 should have read
	s.Record(stm.Version{Index: 3, Incarnation: 0}, nil, stm.WriteSet{
		{Key: "b", Value: []byte("v3")},
	})
	if s.ValidateReadSet(5) {
		t.Errorf("New write below the reader must invalidate")
	}

	// Remove it again, then validation passes again
	s.DeleteWrites(3)
	if !s.ValidateReadSet(5) {
		t.Errorf("Reads must validate after the conflicting write is gone")
	}

	// An estimate where txn 5 read a concrete value also invalidates
	s.ConvertWritesToEstimates(1)
	if s.ValidateReadSet(5) {
		t.Errorf("Estimate must invalidate a dependent read set")
	}
}

// TestDeletions verifies deletions shadow lower writes and the base state.
func TestDeletions(t *testing.T) {
	s := newTestStore(10)

	s.Record(stm.Version{Index: 1, Incarnation: 0}, nil, stm.WriteSet{
		{Key: "a", Value: []byte("v1")},
	})
	s.Record(stm.Version{Index: 3, Incarnation: 0}, nil, stm.WriteSet{
		{Key: "a", Delete: true},
	})

	res := s.Read("a", 5)
	if res.Status != ReadStatusOK || !res.Deleted {
		t.Errorf("Expected deletion marker, got %+v", res)
	}

	// Below the deletion the write is still visible
	res = s.Read("a", 2)
	if res.Status != ReadStatusOK || res.Deleted || string(res.Value) != "v1" {
		t.Errorf("Expected v1 below the deletion, got %+v", res)
	}

	// Snapshot omits deleted keys
	for _, kv := range s.Snapshot() {
		if kv.Key == "a" {
			t.Errorf("Deleted key must not appear in snapshot")
		}
	}
}

// TestSnapshot verifies the snapshot contains the highest writer's value
// per key, sorted by key.
func TestSnapshot(t *testing.T) {
	s := newTestStore(10)

	s.Record(stm.Version{Index: 0, Incarnation: 0}, nil, stm.WriteSet{
		{Key: "b", Value: []byte("b0")},
	})
	s.Record(stm.Version{Index: 4, Incarnation: 0}, nil, stm.WriteSet{
		{Key: "b", Value: []byte("b4")},
		{Key: "a", Value: []byte("a4")},
	})

	snap := s.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(snap))
	}
	if snap[0].Key != "a" || string(snap[0].Value) != "a4" {
		t.Errorf("Unexpected first entry %+v", snap[0])
	}
	if snap[1].Key != "b" || string(snap[1].Value) != "b4" {
		t.Errorf("Unexpected second entry %+v", snap[1])
	}
}

// TestOutputRecord verifies per-transaction outputs round-trip.
func TestOutputRecord(t *testing.T) {
	s := newTestStore(4)

	if s.Output(2) != nil {
		t.Errorf("Output must be nil before SetOutput")
	}

	out := &stm.Output{Success: true, GasUsed: 21}
	s.SetOutput(2, out)
	if got := s.Output(2); got != out {
		t.Errorf("Expected the stored output back, got %+v", got)
	}
}

// TestConcurrentDisjointWrites verifies writers of unrelated keys do not
// interfere with each other.
func TestConcurrentDisjointWrites(t *testing.T) {
	const numTxns = 128
	s := newTestStore(numTxns)

	var wg sync.WaitGroup
	wg.Add(numTxns)
	for i := 0; i < numTxns; i++ {
		go func(idx int) {
			defer wg.Done()
			key := fmt.Sprintf("key-%d", idx)
			s.Record(stm.Version{Index: idx, Incarnation: 0}, nil, stm.WriteSet{
				{Key: key, Value: []byte{byte(idx)}},
			})
		}(i)
	}
	wg.Wait()

	for i := 0; i < numTxns; i++ {
		key := fmt.Sprintf("key-%d", i)
		res := s.Read(key, numTxns)
		if res.Status != ReadStatusOK || res.Value[0] != byte(i) {
			t.Errorf("Key %s: got %+v", key, res)
		}
	}

	info := s.Info()
	if info.Keys != numTxns {
		t.Errorf("Expected %d keys, got %d", numTxns, info.Keys)
	}
}
