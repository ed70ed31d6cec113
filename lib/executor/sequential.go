package executor

import (
	"fmt"

	"github.com/ValentinKolb/blockstm/lib/stm"
)

// --------------------------------------------------------------------------
// Sequential Executor
// --------------------------------------------------------------------------

type sequentialExecutor struct {
	cfg Config
}

var _ IBlockExecutor = (*sequentialExecutor)(nil)

// NewSequentialExecutor creates an executor that runs every block
// transaction by transaction. It defines the semantics the parallel
// executor must reproduce and serves as its fallback path.
func NewSequentialExecutor(cfg Config) IBlockExecutor {
	return &sequentialExecutor{cfg: cfg}
}

func (e *sequentialExecutor) ExecuteBlock(txns []stm.Transaction, base stm.BaseState) (*BlockResult, error) {
	return runSequential(txns, base, e.cfg.Listener)
}

// runSequential executes the block in order against an overlay of the
// base state. Shared with the parallel executor's fallback path.
func runSequential(txns []stm.Transaction, base stm.BaseState, listener stm.CommitListener) (*BlockResult, error) {
	overlay := newOverlayView(base)
	outputs := make([]*stm.Output, len(txns))

	for i, txn := range txns {
		out, err := txn.Execute(overlay)
		if err != nil {
			return nil, fmt.Errorf("txn %d: %w", i, err)
		}
		outputs[i] = out
		overlay.apply(out.WriteSet)

		if listener != nil {
			listener.OnCommitted(i, out.WriteSet)
		}
	}

	return &BlockResult{Outputs: outputs}, nil
}

// --------------------------------------------------------------------------
// Overlay View
// --------------------------------------------------------------------------

// overlayView layers the committed writes of already executed
// transactions over the read-only base state. Used only by sequential
// execution, hence no synchronization.
type overlayView struct {
	base    stm.BaseState
	values  map[string][]byte
	deleted map[string]struct{}
}

var _ stm.StateView = (*overlayView)(nil)

func newOverlayView(base stm.BaseState) *overlayView {
	return &overlayView{
		base:    base,
		values:  make(map[string][]byte),
		deleted: make(map[string]struct{}),
	}
}

func (v *overlayView) Get(key string) ([]byte, bool, error) {
	if _, ok := v.deleted[key]; ok {
		return nil, false, nil
	}
	if value, ok := v.values[key]; ok {
		return value, true, nil
	}
	value, found := v.base.Get(key)
	return value, found, nil
}

func (v *overlayView) apply(ws stm.WriteSet) {
	for _, w := range ws {
		if w.Delete {
			delete(v.values, w.Key)
			v.deleted[w.Key] = struct{}{}
			continue
		}
		delete(v.deleted, w.Key)
		v.values[w.Key] = w.Value
	}
}
