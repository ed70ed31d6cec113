// Package util provides the shared low-level building blocks of the engine:
// seeded string hashing for key sharding, distribution statistics for store
// monitoring, and a lock-free multi-producer single-consumer queue used to
// decouple commit-stream encoding from the finalize path.
package util
