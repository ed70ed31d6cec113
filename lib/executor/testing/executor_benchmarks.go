package testing

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/ValentinKolb/blockstm/lib/executor"
)

// RunExecutorBenchmarks runs all benchmarks for a block executor
// implementation across different contention levels and worker counts.
func RunExecutorBenchmarks(b *testing.B, name string, factory ExecutorFactory) {
	b.Run(name, func(b *testing.B) {
		for _, conflictRate := range []float64{0.0, 0.3, 0.9} {
			for _, concurrency := range []int{1, 4, 8} {
				b.Run(fmt.Sprintf("conflict=%.1f/workers=%d", conflictRate, concurrency), func(b *testing.B) {
					benchmarkBlock(b, factory, concurrency, conflictRate)
				})
			}
		}
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

func benchmarkBlock(b *testing.B, factory ExecutorFactory, concurrency int, conflictRate float64) {
	const numTxns = 500

	cfg := executor.DefaultConfig()
	cfg.Concurrency = concurrency
	e, err := factory(cfg)
	if err != nil {
		b.Fatalf("Factory failed: %v", err)
	}

	r := rand.New(rand.NewSource(1))
	opts := WorkloadOptions{NumTxns: numTxns, NumHotKeys: 10, ConflictRate: conflictRate}
	txns := GenWorkload(r, opts)
	base := GenBaseState(opts)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.ExecuteBlock(txns, base); err != nil {
			b.Fatalf("ExecuteBlock failed: %v", err)
		}
	}

	b.ReportMetric(float64(numTxns*b.N)/b.Elapsed().Seconds(), "txns/s")
}
