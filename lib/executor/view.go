package executor

import (
	"github.com/ValentinKolb/blockstm/lib/mvstore"
	"github.com/ValentinKolb/blockstm/lib/scheduler"
	"github.com/ValentinKolb/blockstm/lib/stm"
)

// --------------------------------------------------------------------------
// Speculative Execution View
// --------------------------------------------------------------------------

// cachedRead is the memoized result of one key's first read within an
// incarnation.
type cachedRead struct {
	value []byte
	found bool
}

// executionView is the StateView one incarnation executes against. It
// resolves reads through the versioned store, parks the worker on
// unresolved dependencies, and captures the read set for later
// validation.
//
// A view belongs to a single incarnation on a single worker; it is not
// thread-safe and never reused.
type executionView struct {
	txnIndex int
	store    mvstore.IVersionedStore
	sched    scheduler.IScheduler
	base     stm.BaseState

	reads stm.ReadSet
	cache map[string]cachedRead
}

var _ stm.StateView = (*executionView)(nil)

func newExecutionView(txnIndex int, store mvstore.IVersionedStore, sched scheduler.IScheduler, base stm.BaseState) *executionView {
	return &executionView{
		txnIndex: txnIndex,
		store:    store,
		sched:    sched,
		base:     base,
		cache:    make(map[string]cachedRead),
	}
}

func (v *executionView) Get(key string) ([]byte, bool, error) {
	// Repeated reads of a key within one incarnation must observe the
	// same value even if the store changed in between.
	if c, ok := v.cache[key]; ok {
		return c.value, c.found, nil
	}

	for {
		res := v.store.Read(key, v.txnIndex)
		switch res.Status {

		case mvstore.ReadStatusDependency:
			// A lower transaction will write this key but has not
			// (re-)executed yet. Park until it has, then retry.
			if err := v.sched.WaitForDependency(v.txnIndex, res.BlockingIndex); err != nil {
				return nil, false, err
			}

		case mvstore.ReadStatusNotFound:
			value, found := v.base.Get(key)
			v.remember(key, nil, value, found)
			return value, found, nil

		case mvstore.ReadStatusOK:
			version := res.Version
			if res.Deleted {
				// The lower write was a deletion: the key does not exist
				// for this reader, but the observed version still counts.
				v.remember(key, &version, nil, false)
				return nil, false, nil
			}
			v.remember(key, &version, res.Value, true)
			return res.Value, true, nil
		}
	}
}

// remember records the read descriptor for validation and memoizes the
// resolved value.
func (v *executionView) remember(key string, version *stm.Version, value []byte, found bool) {
	v.reads = append(v.reads, stm.ReadDescriptor{Key: key, Version: version})
	v.cache[key] = cachedRead{value: value, found: found}
}

// readSet returns the reads captured so far.
func (v *executionView) readSet() stm.ReadSet {
	return v.reads
}
