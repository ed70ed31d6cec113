// Package cmd implements the command-line interface for the blockstm
// parallel execution engine.
//
// The package is organized into several subpackages:
//
//   - bench: Commands for benchmarking block execution over generated workloads
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See blockstm -help for a list of all commands.
package cmd
