package contract

import (
	"time"

	"github.com/shopspring/decimal"
)

// RecordSchemaVersion is the current persisted-record schema version.
// Version history:
//
//	1 - initial schema
//
// Adding fields is additive and needs no bump; removing or reinterpreting a
// field requires a new major version and a migration note in DESIGN.md.
const RecordSchemaVersion = 1

// Bar is one trading session of one symbol.
type Bar struct {
	Time  time.Time       `json:"time"`
	Close decimal.Decimal `json:"close"`
}

// Series maps symbols to their time-ascending session bars.
type Series = map[string][]Bar

// RunRequest describes one backtest run. Immutable once built: engines,
// registries, and the parity harness never modify a request.
//
// Either Series or SnapshotID must be present. When both are present the
// inline series is authoritative and the snapshot id is provenance.
type RunRequest struct {
	// Strategy identifies the strategy family (e.g. "buy_hold").
	Strategy string `json:"strategy"`

	// Symbols is the ordered, duplicate-free instrument set.
	Symbols []string `json:"symbols"`

	// Series holds the per-symbol input bars. May be empty when SnapshotID
	// references a stored dataset.
	Series Series `json:"series,omitempty"`

	// Start and End bound the simulated window. End must be after Start.
	// Sessions are the series timestamps inside [Start, End], inclusive.
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	// InitialCash is the starting portfolio value. Non-negative.
	InitialCash decimal.Decimal `json:"initial_cash"`

	// Params are the strategy parameters. Values are scalars only
	// (string, bool, int, int64, float64).
	Params map[string]any `json:"params,omitempty"`

	// SnapshotID optionally references a content-addressed input dataset.
	SnapshotID string `json:"snapshot_id,omitempty"`

	// Seed optionally fixes the random seed. When nil, engines derive a
	// deterministic default from the config hash so identical experiment
	// designs default to identical seeds.
	Seed *int64 `json:"seed,omitempty"`
}

// AdapterMode records how an engine produced a result.
type AdapterMode string

const (
	// ModeNative means the engine executed the requested semantics directly.
	ModeNative AdapterMode = "native"

	// ModeFallback means the engine substituted an approximate path.
	// Fallback is observable from metadata alone: the mode plus a warning,
	// never a side effect.
	ModeFallback AdapterMode = "fallback"

	// ModeShadow means the result came from a substitute valuation source
	// rather than the engine's own pricing path.
	ModeShadow AdapterMode = "shadow"
)

// ValidAdapterModes defines the allowed adapter modes.
var ValidAdapterModes = map[AdapterMode]bool{
	ModeNative:   true,
	ModeFallback: true,
	ModeShadow:   true,
}

// Valuation fidelity tags. Verdicts carry both sides' tags so cross-fidelity
// agreement is never mistaken for native engine parity.
const (
	FidelityClose       = "close"
	FidelityMid         = "mid"
	FidelityCloseApprox = "close_approx"
)

// RunMetadata identifies a run well enough to reproduce or compare it later.
// Created once per run by the engine adapter; immutable after creation.
type RunMetadata struct {
	// RunID is the globally unique identifier for this run.
	RunID string `json:"run_id"`

	// EngineID and EngineVersion identify the producing adapter.
	EngineID      string `json:"engine_id"`
	EngineVersion string `json:"engine_version"`

	// ConfigHash is the digest of the logical experiment design,
	// independent of seed and snapshot id.
	ConfigHash string `json:"config_hash"`

	// Seed is the random seed actually used (requested or defaulted).
	Seed int64 `json:"seed"`

	// AdapterMode is native, fallback, or shadow.
	AdapterMode AdapterMode `json:"adapter_mode"`

	// Symbols is the instrument set of the originating request, kept for
	// structural comparability checks between results.
	Symbols []string `json:"symbols"`

	// SnapshotID is the input dataset id, when one was supplied or
	// auto-computed.
	SnapshotID string `json:"snapshot_id,omitempty"`

	// ValuationFidelity describes how portfolio value was derived
	// (close, mid, close_approx).
	ValuationFidelity string `json:"valuation_fidelity,omitempty"`

	// Warnings holds non-fatal degradation notices, e.g. the reason for a
	// fallback. Empty for clean native runs.
	Warnings []string `json:"warnings,omitempty"`

	// StartedAt and FinishedAt are wall-clock bounds of the run.
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// ValuePoint is one session of the portfolio value series.
type ValuePoint struct {
	Time  time.Time       `json:"time"`
	Value decimal.Decimal `json:"value"`
	Cash  decimal.Decimal `json:"cash"`
}

// Metrics are the derived per-run statistics. CAGR, Sharpe, and MaxDrawdown
// are float64: they are diagnostics, not accounting values.
type Metrics struct {
	CAGR        float64 `json:"cagr"`
	Sharpe      float64 `json:"sharpe"`
	MaxDrawdown float64 `json:"max_drawdown"`
	Trades      int     `json:"trades"`
	Rebalances  int     `json:"rebalances"`
}

// CostKind categorizes a cost event.
type CostKind string

const (
	CostCommission   CostKind = "commission"
	CostSpread       CostKind = "spread"
	CostSlippage     CostKind = "slippage"
	CostBorrow       CostKind = "borrow"
	CostMarketImpact CostKind = "market_impact"
)

// ValidCostKinds defines the allowed cost kinds.
var ValidCostKinds = map[CostKind]bool{
	CostCommission:   true,
	CostSpread:       true,
	CostSlippage:     true,
	CostBorrow:       true,
	CostMarketImpact: true,
}

// CostEvent is one execution cost charged during a run. Ordered relative to
// the value series only by timestamp.
type CostEvent struct {
	Time   time.Time       `json:"time"`
	Symbol string          `json:"symbol"`
	Kind   CostKind        `json:"kind"`
	Amount decimal.Decimal `json:"amount"`
	Basis  string          `json:"basis"`
}

// RunResult is the canonical engine output: exactly one metadata block, the
// session-aligned value series, derived metrics, and the cost ledger.
//
// Invariants: Series has one point per session of the instrument calendar
// inside [Start, End]; Series[0].Value equals the request's initial cash;
// FinalValue equals the last series value; Costs are time-ordered.
type RunResult struct {
	Metadata   RunMetadata     `json:"metadata"`
	FinalValue decimal.Decimal `json:"final_value"`
	Series     []ValuePoint    `json:"series"`
	Metrics    Metrics         `json:"metrics"`
	Costs      []CostEvent     `json:"costs"`
}

// ExperimentRecord is the persisted union of one result and its request,
// keyed by run id. Write-once; deletable only by explicit administrative
// action. The stored request omits inline series when a snapshot id is
// recorded, since the dataset is reproducible from the snapshot registry.
type ExperimentRecord struct {
	SchemaVersion int        `json:"schema_version"`
	RunID         string     `json:"run_id"`
	SavedAt       time.Time  `json:"saved_at"`
	Request       RunRequest `json:"request"`
	Result        RunResult  `json:"result"`
}

// Sessions returns the bar timestamps inside [start, end], both inclusive.
// This is the trading calendar of a symbol for a requested window.
func Sessions(bars []Bar, start, end time.Time) []time.Time {
	sessions := make([]time.Time, 0, len(bars))
	for _, b := range bars {
		if b.Time.Before(start) || b.Time.After(end) {
			continue
		}
		sessions = append(sessions, b.Time)
	}
	return sessions
}
