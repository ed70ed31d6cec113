package executor

import (
	"errors"
	"runtime"

	"github.com/ValentinKolb/blockstm/lib/stm"
)

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// Config configures a block executor.
type Config struct {
	// Concurrency is the number of worker goroutines. Must be >= 1.
	Concurrency int

	// MaxIncarnations bounds the re-executions of a single transaction.
	// When a transaction is about to exceed it the block falls back to
	// sequential execution. 0 means unbounded.
	MaxIncarnations int

	// UseHints pre-registers the transactions' estimated write sets before
	// execution starts, so dependent transactions wait instead of
	// speculating on keys that are about to change. Wrong hints are
	// harmless, they only cost scheduling efficiency.
	UseHints bool

	// Listener, if set, receives every committed write set exactly once,
	// in transaction order, before ExecuteBlock returns.
	Listener stm.CommitListener
}

// DefaultConfig returns the default executor configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency:     runtime.NumCPU(),
		MaxIncarnations: 100,
		UseHints:        true,
	}
}

// --------------------------------------------------------------------------
// Results
// --------------------------------------------------------------------------

// BlockResult is the outcome of executing one block: exactly one output
// per input transaction, in transaction order.
type BlockResult struct {
	Outputs []*stm.Output

	// FellBack reports that the block was (re-)executed sequentially
	// after parallel execution was abandoned. The outputs are unaffected.
	FellBack bool
}

// ErrInvalidConfig is returned by the executor factories for unusable
// configurations.
var ErrInvalidConfig = errors.New("invalid executor config")

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IBlockExecutor executes blocks of transactions against a read-only base
// state. Implementations guarantee the result is identical to executing
// the block sequentially, transaction by transaction.
type IBlockExecutor interface {
	// ExecuteBlock runs all transactions and returns one output per
	// transaction. The base state is never modified; committed writes are
	// delivered through the configured CommitListener and the outputs'
	// write sets. A transaction-level failure is a normal output
	// (Success=false), not an error.
	ExecuteBlock(txns []stm.Transaction, base stm.BaseState) (*BlockResult, error)
}
