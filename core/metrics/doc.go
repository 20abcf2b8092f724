// Package metrics defines the sinks simulation results are reported to.
// Every sink records a RunReport; sinks that can also persist the per-step
// ledger or failed runs implement LedgerRecorder and FailureRecorder. Sinks
// are built from configuration through the registry, and NewMetricsSink
// wraps several of them in a MultiSink.
package metrics
