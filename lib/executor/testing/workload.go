package testing

import (
	"encoding/binary"
	"fmt"
	"math/rand"

	"github.com/ValentinKolb/blockstm/lib/stm"
)

// --------------------------------------------------------------------------
// Map-Backed Base State
// --------------------------------------------------------------------------

// MapState is a read-only base state backed by a plain map.
type MapState map[string][]byte

var _ stm.BaseState = (MapState)(nil)

func (m MapState) Get(key string) ([]byte, bool) {
	value, found := m[key]
	return value, found
}

// --------------------------------------------------------------------------
// Deterministic Test Transaction
// --------------------------------------------------------------------------

// KVTxn is a deterministic key-value transaction for tests and
// benchmarks: it sums the uint64 values of its read keys and writes
// sum+Salt to each of its write keys. Given the same observed reads it
// always produces the same output, as the executor contract requires.
type KVTxn struct {
	ReadKeys   []string
	WriteKeys  []string
	DeleteKeys []string

	// Salt makes outputs of different transactions distinguishable.
	Salt uint64

	// Fail makes the transaction produce a failed (but committed) output
	// with an empty write set.
	Fail bool

	// PublishModule marks the output as a module publish, forcing the
	// parallel executor into its sequential fallback.
	PublishModule bool
}

var _ stm.Transaction = (*KVTxn)(nil)

// Uint64Value encodes a counter value the way KVTxn reads and writes it.
func Uint64Value(v uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return buf
}

// DecodeUint64 is the inverse of Uint64Value. Returns 0 for missing or
// short values.
func DecodeUint64(b []byte) uint64 {
	if len(b) < 8 {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (t *KVTxn) Execute(view stm.StateView) (*stm.Output, error) {
	var sum uint64
	for _, key := range t.ReadKeys {
		value, found, err := view.Get(key)
		if err != nil {
			return nil, err
		}
		if found {
			sum += DecodeUint64(value)
		}
	}

	if t.Fail {
		return &stm.Output{
			Success:    false,
			FailureMsg: "transaction failed",
			GasUsed:    uint64(len(t.ReadKeys)),
		}, nil
	}

	ws := make(stm.WriteSet, 0, len(t.WriteKeys)+len(t.DeleteKeys))
	for _, key := range t.WriteKeys {
		ws = append(ws, stm.WriteOp{Key: key, Value: Uint64Value(sum + t.Salt)})
	}
	for _, key := range t.DeleteKeys {
		ws = append(ws, stm.WriteOp{Key: key, Delete: true})
	}

	return &stm.Output{
		WriteSet:        ws,
		GasUsed:         uint64(len(t.ReadKeys) + len(ws)),
		Success:         true,
		PublishedModule: t.PublishModule,
	}, nil
}

func (t *KVTxn) ReadHints() []string { return t.ReadKeys }

func (t *KVTxn) WriteHints() []string {
	hints := make([]string, 0, len(t.WriteKeys)+len(t.DeleteKeys))
	hints = append(hints, t.WriteKeys...)
	hints = append(hints, t.DeleteKeys...)
	return hints
}

// --------------------------------------------------------------------------
// Workload Generation
// --------------------------------------------------------------------------

// WorkloadOptions configures GenWorkload.
type WorkloadOptions struct {
	NumTxns int
	// NumHotKeys is the size of the shared key set contended transactions
	// draw from.
	NumHotKeys int
	// ConflictRate is the probability in [0,1] that a transaction touches
	// hot keys instead of its private ones.
	ConflictRate float64
}

// GenWorkload generates a reproducible block of KVTxns. Transactions
// either operate on private keys (no conflicts) or read-modify-write a
// random hot key, depending on ConflictRate.
func GenWorkload(r *rand.Rand, opts WorkloadOptions) []stm.Transaction {
	if opts.NumHotKeys < 1 {
		opts.NumHotKeys = 1
	}

	txns := make([]stm.Transaction, opts.NumTxns)
	for i := range txns {
		if r.Float64() < opts.ConflictRate {
			hot := fmt.Sprintf("hot-%d", r.Intn(opts.NumHotKeys))
			txns[i] = &KVTxn{
				ReadKeys:  []string{hot},
				WriteKeys: []string{hot},
				Salt:      1,
			}
		} else {
			private := fmt.Sprintf("txn-%d", i)
			txns[i] = &KVTxn{
				ReadKeys:  []string{private},
				WriteKeys: []string{private},
				Salt:      uint64(i),
			}
		}
	}
	return txns
}

// GenBaseState generates the base state matching GenWorkload's key space.
func GenBaseState(opts WorkloadOptions) MapState {
	base := make(MapState)
	for i := 0; i < opts.NumHotKeys; i++ {
		base[fmt.Sprintf("hot-%d", i)] = Uint64Value(0)
	}
	for i := 0; i < opts.NumTxns; i++ {
		base[fmt.Sprintf("txn-%d", i)] = Uint64Value(uint64(i))
	}
	return base
}
