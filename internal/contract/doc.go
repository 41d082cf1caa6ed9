// Package contract defines the canonical value types every simulation engine
// must accept and produce: RunRequest, RunMetadata, RunResult, and CostEvent,
// together with request/result validation, the shared error taxonomy, and the
// deterministic fingerprints (config hash, snapshot id, default seed) that
// make runs reproducible and comparable.
//
// The contract is the narrow waist of the harness. Engines with wholly
// different internals are only ever observed through these types, and every
// registry and comparison operates on them alone.
package contract
