package engine

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lockstephq/lockstep/internal/contract"
	"github.com/lockstephq/lockstep/internal/snapshot"
)

// Strategy names understood by the shipped adapters.
const (
	StrategyBuyHold   = "buy_hold"
	StrategySMACross  = "sma_cross"
	StrategyVolTarget = "vol_target"
)

// Adapter is the uniform surface every engine exposes to the harness.
// Run validates the request, checks it against the adapter's scope,
// simulates, and returns a result in the canonical contract shape.
// Execute is a synonym for Run kept for callers that predate the
// rename.
type Adapter interface {
	ID() string
	Version() string
	Scope() Scope
	Run(ctx context.Context, req *contract.RunRequest) (*contract.RunResult, error)
	Execute(ctx context.Context, req *contract.RunRequest) (*contract.RunResult, error)
}

// Scope declares what an adapter supports. Requests outside the scope
// are rejected with a scope violation before any simulation work.
type Scope struct {
	Strategies []string `json:"strategies"`
	Valuations []string `json:"valuations"`
}

// SupportsStrategy reports whether the named strategy is in scope.
func (s Scope) SupportsStrategy(name string) bool {
	for _, st := range s.Strategies {
		if st == name {
			return true
		}
	}
	return false
}

// SupportsValuation reports whether the named valuation mode is in scope.
func (s Scope) SupportsValuation(name string) bool {
	for _, v := range s.Valuations {
		if v == name {
			return true
		}
	}
	return false
}

// Options carries the injectable dependencies shared by all adapters.
// The zero value is usable: defaults are applied by the constructors.
type Options struct {
	// Now supplies run timestamps. Defaults to time.Now.
	Now func() time.Time

	// NewID mints run identifiers. Defaults to uuid.NewString.
	NewID func() string

	// Snapshots resolves snapshot ids in requests and, when
	// AutoSnapshot is set, records inline series before running.
	Snapshots *snapshot.Registry

	// AutoSnapshot records the request's inline series in Snapshots
	// and stamps the resulting id into the run metadata.
	AutoSnapshot bool

	// Logger receives adapter diagnostics. Defaults to a discard
	// logger.
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o
}

// checkScope rejects requests for strategies or valuations the adapter
// does not support. Valuation handling is adapter-specific: the caller
// passes the effective valuation after any fallback decision.
func checkScope(engineID string, scope Scope, strategy string) error {
	if !scope.SupportsStrategy(strategy) {
		return contract.NewScopeViolationError(engineID, "strategy "+strategy+" is not supported")
	}
	return nil
}

// resolveSeries returns the price series for the request, loading it
// from the snapshot registry when the request references a snapshot.
func resolveSeries(opts Options, req *contract.RunRequest) (contract.Series, error) {
	if req.SnapshotID == "" {
		return req.Series, nil
	}
	if opts.Snapshots == nil {
		return nil, contract.NewSnapshotNotFoundError(req.SnapshotID)
	}
	return opts.Snapshots.Get(req.SnapshotID)
}

// autoSnapshot records inline series in the registry and returns the
// snapshot id to stamp into the run metadata. It is a no-op when the
// request already references a snapshot or recording is disabled.
func autoSnapshot(opts Options, req *contract.RunRequest, series contract.Series) (string, error) {
	if req.SnapshotID != "" {
		return req.SnapshotID, nil
	}
	if !opts.AutoSnapshot || opts.Snapshots == nil {
		return "", nil
	}
	return opts.Snapshots.Put(series)
}
