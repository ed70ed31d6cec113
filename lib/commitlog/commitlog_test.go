package commitlog

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ValentinKolb/blockstm/lib/stm"
)

// TestWriteReadRoundTrip verifies committed write sets survive the log.
func TestWriteReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	w, err := NewWriter(&buf)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}

	w.OnCommitted(0, stm.WriteSet{
		{Key: "a", Value: []byte("va")},
		{Key: "b", Value: []byte("vb")},
	})
	w.OnCommitted(1, stm.WriteSet{
		{Key: "a", Delete: true},
	})
	w.OnCommitted(2, nil) // failed txn, empty write set

	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	records, err := ReadAll(&buf)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(records))
	}

	if records[0].TxnIndex != 0 || len(records[0].WriteSet) != 2 {
		t.Errorf("Unexpected record 0: %+v", records[0])
	}
	if string(records[0].WriteSet[1].Value) != "vb" {
		t.Errorf("Expected vb, got %q", records[0].WriteSet[1].Value)
	}

	if records[1].TxnIndex != 1 || !records[1].WriteSet[0].Delete {
		t.Errorf("Expected deletion record, got %+v", records[1])
	}
	if records[1].WriteSet[0].Value != nil {
		t.Errorf("Deletion must carry no value")
	}

	if records[2].TxnIndex != 2 || len(records[2].WriteSet) != 0 {
		t.Errorf("Expected empty record, got %+v", records[2])
	}
}

// TestReadOrder verifies records come back in commit order.
func TestReadOrder(t *testing.T) {
	var buf bytes.Buffer

	w, err := NewWriter(&buf)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}

	const numTxns = 1000
	for i := 0; i < numTxns; i++ {
		w.OnCommitted(i, stm.WriteSet{{Key: "k", Value: []byte{byte(i)}}})
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	records, err := ReadAll(&buf)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(records) != numTxns {
		t.Fatalf("Expected %d records, got %d", numTxns, len(records))
	}
	for i, rec := range records {
		if rec.TxnIndex != i {
			t.Fatalf("Record %d has index %d", i, rec.TxnIndex)
		}
	}
}

// TestCorruptLog covers header and truncation errors.
func TestCorruptLog(t *testing.T) {
	// Bad magic
	if _, err := ReadAll(bytes.NewReader([]byte("NOTALOG\x00\x01"))); !errors.Is(err, ErrCorruptLog) {
		t.Errorf("Expected ErrCorruptLog for bad magic, got %v", err)
	}

	// Unsupported version
	if _, err := ReadAll(bytes.NewReader([]byte(magicNum + "\xff"))); !errors.Is(err, ErrCorruptLog) {
		t.Errorf("Expected ErrCorruptLog for bad version, got %v", err)
	}

	// Truncated record
	var buf bytes.Buffer
	w, err := NewWriter(&buf)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	w.OnCommitted(0, stm.WriteSet{{Key: "a", Value: []byte("va")}})
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	truncated := buf.Bytes()[:buf.Len()-3]
	if _, err := ReadAll(bytes.NewReader(truncated)); !errors.Is(err, ErrCorruptLog) {
		t.Errorf("Expected ErrCorruptLog for truncated log, got %v", err)
	}
}

// failingWriter fails after n bytes.
type failingWriter struct {
	remaining int
}

func (f *failingWriter) Write(p []byte) (int, error) {
	if len(p) > f.remaining {
		return 0, errors.New("disk full")
	}
	f.remaining -= len(p)
	return len(p), nil
}

// TestCloseSurfacesWriteError verifies sink errors are reported by Close.
func TestCloseSurfacesWriteError(t *testing.T) {
	w, err := NewWriter(&failingWriter{remaining: 4})
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}

	// Enough data to overflow the 1 MB buffer and hit the sink
	value := make([]byte, 1<<20)
	w.OnCommitted(0, stm.WriteSet{{Key: "a", Value: value}})

	if err := w.Close(); err == nil {
		t.Errorf("Expected write error from Close")
	}
}
