// Package engine hosts the backtest engine adapters behind a single
// Adapter interface.
//
// Two adapters ship today. Ledger is the reference implementation: it
// keeps all accounting in decimal arithmetic and supports the full
// strategy and valuation surface. Vector is the pilot implementation:
// it keeps accounting in float64, covers a restricted strategy set, and
// degrades mid valuation to a close-price approximation rather than
// refusing the run.
//
// Both adapters share the same deterministic cost model, so any
// divergence between their results comes from the accounting arithmetic
// itself, never from sampled randomness. Runs are pure given (request,
// seed): repeating a run changes only the run id and timestamps.
//
// Adapters are constructed with an Options value carrying the clock,
// id generator, snapshot registry, and logger. Tests inject fixed
// clocks and counters to make results fully reproducible.
package engine
