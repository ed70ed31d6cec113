// Package testing provides standardised tests and benchmarks for block
// executor implementations that satisfy the executor.IBlockExecutor
// interface.
//
// The package contains:
//   - testing: A conformance suite checking that an executor reproduces
//     sequential block semantics (outputs, commit order, final state)
//   - benchmark: Performance tests over generated workloads with
//     configurable contention
//
// It also ships a deterministic key-value test transaction (KVTxn) and a
// workload generator used by both.
//
// Example usage:
//
//	// Creating a factory function for your implementation
//	factory := func(cfg executor.Config) (executor.IBlockExecutor, error) {
//		return executor.NewBlockExecutor(cfg)
//	}
//
//	// Running the standard test suite
//	testing.RunExecutorTests(t, "Parallel", factory)
//
//	// Running performance benchmarks
//	testing.RunExecutorBenchmarks(b, "Parallel", factory)
package testing
