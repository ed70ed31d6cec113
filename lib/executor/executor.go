package executor

import (
	"errors"
	"fmt"
	"sync"

	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"

	"github.com/ValentinKolb/blockstm/lib/mvstore"
	"github.com/ValentinKolb/blockstm/lib/scheduler"
	"github.com/ValentinKolb/blockstm/lib/stm"
)

var log = logger.GetLogger("executor")

// --------------------------------------------------------------------------
// Metrics
// --------------------------------------------------------------------------

var (
	metricExecutions  = metrics.NewCounter(`blockstm_executions_total`)
	metricValidations = metrics.NewCounter(`blockstm_validations_total`)
	metricAborts      = metrics.NewCounter(`blockstm_aborts_total`)
	metricFallbacks   = metrics.NewCounter(`blockstm_fallbacks_total`)
)

// --------------------------------------------------------------------------
// Parallel Executor
// --------------------------------------------------------------------------

type parallelExecutor struct {
	cfg Config
}

var _ IBlockExecutor = (*parallelExecutor)(nil)

// NewBlockExecutor creates the parallel block executor.
func NewBlockExecutor(cfg Config) (IBlockExecutor, error) {
	if cfg.Concurrency < 1 {
		return nil, fmt.Errorf("%w: concurrency must be >= 1, got %d", ErrInvalidConfig, cfg.Concurrency)
	}
	if cfg.MaxIncarnations < 0 {
		return nil, fmt.Errorf("%w: max incarnations must be >= 0, got %d", ErrInvalidConfig, cfg.MaxIncarnations)
	}
	return &parallelExecutor{cfg: cfg}, nil
}

func (e *parallelExecutor) ExecuteBlock(txns []stm.Transaction, base stm.BaseState) (*BlockResult, error) {
	if len(txns) == 0 {
		return &BlockResult{Outputs: []*stm.Output{}}, nil
	}

	run := newBlockRun(e.cfg, txns, base)
	run.execute()

	if run.fatalErr() != nil {
		return nil, run.fatalErr()
	}

	if run.sched.Halted() {
		// Nothing was committed before the halt, so the sequential
		// fallback re-runs the whole block from scratch.
		metricFallbacks.Inc()
		log.Warningf("block of %d txns fell back to sequential execution", len(txns))

		result, err := runSequential(txns, base, e.cfg.Listener)
		if err != nil {
			return nil, err
		}
		result.FellBack = true
		return result, nil
	}

	return run.finalize()
}

// --------------------------------------------------------------------------
// Single Block Run
// --------------------------------------------------------------------------

// blockRun bundles the per-block state of one parallel execution.
type blockRun struct {
	cfg   Config
	txns  []stm.Transaction
	base  stm.BaseState
	store mvstore.IVersionedStore
	sched scheduler.IScheduler

	errOnce sync.Once
	err     error
}

func newBlockRun(cfg Config, txns []stm.Transaction, base stm.BaseState) *blockRun {
	return &blockRun{
		cfg:   cfg,
		txns:  txns,
		base:  base,
		store: mvstore.NewVersionedStore(len(txns), mvstore.DefaultOptions()),
		sched: scheduler.NewScheduler(len(txns)),
	}
}

// execute drives the block to quiescence (or halt) with the configured
// number of workers.
func (r *blockRun) execute() {
	if r.cfg.UseHints {
		for i, txn := range r.txns {
			r.store.RegisterHints(i, txn.WriteHints())
		}
	}

	var wg sync.WaitGroup
	wg.Add(r.cfg.Concurrency)
	for w := 0; w < r.cfg.Concurrency; w++ {
		go func() {
			defer wg.Done()
			r.workerLoop()
		}()
	}
	wg.Wait()
}

func (r *blockRun) workerLoop() {
	for !r.sched.Done() {
		task := r.sched.NextTask()
		for task != nil {
			switch task.Kind {
			case scheduler.TaskKindExecution:
				task = r.runExecution(task)
			case scheduler.TaskKindValidation:
				task = r.runValidation(task)
			}
		}
	}
}

// runExecution runs one incarnation and records its effects. Returns the
// follow-up task handed back by the scheduler, if any.
func (r *blockRun) runExecution(task *scheduler.Task) *scheduler.Task {
	version := task.Version

	if r.cfg.MaxIncarnations > 0 && version.Incarnation >= r.cfg.MaxIncarnations {
		log.Warningf("txn %d exceeded %d incarnations, halting", version.Index, r.cfg.MaxIncarnations)
		r.sched.Halt()
		return nil
	}

	view := newExecutionView(version.Index, r.store, r.sched, r.base)
	out, err := r.txns[version.Index].Execute(view)
	if err != nil {
		if !errors.Is(err, stm.ErrHalted) {
			// Engine-level failure: abandon the block and surface the
			// error instead of falling back.
			r.fail(fmt.Errorf("txn %d: %w", version.Index, err))
			r.sched.Halt()
		}
		return nil
	}

	if out.PublishedModule {
		// Later transactions may depend on the published code in ways
		// speculation cannot re-check. Abandon parallel execution.
		log.Infof("txn %d published a module, halting parallel execution", version.Index)
		r.sched.Halt()
		return nil
	}

	metricExecutions.Inc()
	r.store.SetOutput(version.Index, out)
	wroteNewKey := r.store.Record(version, view.readSet(), out.WriteSet)
	return r.sched.FinishExecution(version, wroteNewKey)
}

// runValidation re-checks one finished incarnation's reads and aborts it
// if they are stale.
func (r *blockRun) runValidation(task *scheduler.Task) *scheduler.Task {
	version := task.Version

	metricValidations.Inc()
	valid := r.store.ValidateReadSet(version.Index)

	aborted := !valid && r.sched.TryValidationAbort(version)
	if aborted {
		metricAborts.Inc()
		r.store.ConvertWritesToEstimates(version.Index)
	}
	return r.sched.FinishValidation(version.Index, aborted)
}

// finalize collects the outputs in order and replays the committed write
// sets to the listener.
func (r *blockRun) finalize() (*BlockResult, error) {
	outputs := make([]*stm.Output, len(r.txns))
	for i := range r.txns {
		out := r.store.Output(i)
		if out == nil {
			return nil, fmt.Errorf("internal: missing output for txn %d", i)
		}
		outputs[i] = out
	}

	if r.cfg.Listener != nil {
		for i, out := range outputs {
			r.cfg.Listener.OnCommitted(i, out.WriteSet)
		}
	}

	return &BlockResult{Outputs: outputs}, nil
}

// fail records the first engine-level error.
func (r *blockRun) fail(err error) {
	r.errOnce.Do(func() { r.err = err })
}

func (r *blockRun) fatalErr() error {
	return r.err
}
