package parity

import (
	"fmt"
)

// Gate kinds.
const (
	GateHard         = "hard"
	GateScalar       = "scalar"
	GateDistribution = "distribution"
)

// Scalar comparison modes.
const (
	ModeRelative = "relative"
	ModeAbsolute = "absolute"
)

// Exception kinds. Each names a known, bounded cause of per-point
// divergence; anything else that breaches the outlier band fails the
// distribution gate.
const (
	ExceptionRebalanceRounding = "rebalance_rounding"
	ExceptionSignalLag         = "signal_lag"
)

// Structural hard-gate metrics.
const (
	MetricSeriesLength   = "series_length"
	MetricWindow         = "window"
	MetricMetricsPresent = "metrics_present"
)

// validScalarMetrics are the values extractable from a run result for
// scalar and exact-equality gates.
var validScalarMetrics = map[string]bool{
	"final_value":  true,
	"cagr":         true,
	"sharpe":       true,
	"max_drawdown": true,
	"cost_total":   true,
	"trades":       true,
	"rebalances":   true,
}

// Policy is a versioned tolerance policy. Gates evaluate in declaration
// order; hard gates short-circuit the verdict on failure.
type Policy struct {
	Version      int         `json:"version"`
	Name         string      `json:"name"`
	SafetyBuffer float64     `json:"safety_buffer"`
	MinSamples   int         `json:"min_samples"`
	Gates        []Gate      `json:"gates"`
	Exceptions   []Exception `json:"exceptions,omitempty"`
}

// Gate is one check within a policy. Fields are kind-dependent: hard
// gates name a metric compared for exact equality (or one of the
// structural checks), scalar gates carry a mode and an exclusive
// threshold, the distribution gate carries per-point bands.
type Gate struct {
	Kind   string `json:"kind"`
	Metric string `json:"metric,omitempty"`

	// Scalar gates.
	Mode      string  `json:"mode,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`

	// Distribution gate.
	Band        float64 `json:"band,omitempty"`
	MinFraction float64 `json:"min_fraction,omitempty"`
	OutlierBand float64 `json:"outlier_band,omitempty"`
}

// Exception excuses up to MaxPoints distribution outliers whose error
// stays under Band and whose position matches the kind's known cause.
type Exception struct {
	Kind      string  `json:"kind"`
	MaxPoints int     `json:"max_points"`
	Band      float64 `json:"band"`
}

// Validate checks policy well-formedness. Compiled policies are always
// valid; hand-built ones go through the same checks in Compare.
func (p Policy) Validate() error {
	if p.Version < 1 {
		return fmt.Errorf("policy: version must be at least 1")
	}
	if p.SafetyBuffer < 0 || p.SafetyBuffer >= 1 {
		return fmt.Errorf("policy: safety_buffer must be in [0, 1)")
	}
	if p.MinSamples < 0 {
		return fmt.Errorf("policy: min_samples must not be negative")
	}
	if len(p.Gates) == 0 {
		return fmt.Errorf("policy: at least one gate is required")
	}

	distributions := 0
	seenLength, seenWindow := false, false
	for i, g := range p.Gates {
		switch g.Kind {
		case GateHard:
			switch g.Metric {
			case MetricSeriesLength:
				seenLength = true
			case MetricWindow:
				seenWindow = true
			case MetricMetricsPresent:
			default:
				if !validScalarMetrics[g.Metric] {
					return fmt.Errorf("policy: gate %d: unknown hard metric %q", i, g.Metric)
				}
			}
		case GateScalar:
			if !validScalarMetrics[g.Metric] {
				return fmt.Errorf("policy: gate %d: unknown scalar metric %q", i, g.Metric)
			}
			if g.Mode != ModeRelative && g.Mode != ModeAbsolute {
				return fmt.Errorf("policy: gate %d: mode must be %q or %q", i, ModeRelative, ModeAbsolute)
			}
			if g.Threshold <= 0 {
				return fmt.Errorf("policy: gate %d: threshold must be positive", i)
			}
		case GateDistribution:
			distributions++
			if distributions > 1 {
				return fmt.Errorf("policy: gate %d: at most one distribution gate", i)
			}
			// Pointwise pairing assumes aligned series, so the structural
			// gates must have run first.
			if !seenLength || !seenWindow {
				return fmt.Errorf("policy: gate %d: distribution gate requires prior series_length and window hard gates", i)
			}
			if g.Band <= 0 {
				return fmt.Errorf("policy: gate %d: band must be positive", i)
			}
			if g.MinFraction <= 0 || g.MinFraction > 1 {
				return fmt.Errorf("policy: gate %d: min_fraction must be in (0, 1]", i)
			}
			if g.OutlierBand < g.Band {
				return fmt.Errorf("policy: gate %d: outlier_band must be at least band", i)
			}
		default:
			return fmt.Errorf("policy: gate %d: unknown kind %q", i, g.Kind)
		}
	}

	for i, e := range p.Exceptions {
		if e.Kind != ExceptionRebalanceRounding && e.Kind != ExceptionSignalLag {
			return fmt.Errorf("policy: exception %d: unknown kind %q", i, e.Kind)
		}
		if e.MaxPoints < 0 {
			return fmt.Errorf("policy: exception %d: max_points must not be negative", i)
		}
		if e.Band <= 0 {
			return fmt.Errorf("policy: exception %d: band must be positive", i)
		}
	}

	return nil
}

// DefaultPolicy is the tolerance policy used when no policy file is
// supplied. It mirrors the checked-in default.cue; a test keeps the two
// in lockstep.
//
// Thresholds are sized for the shipped engines: series values round to
// six decimals at the contract boundary, so per-point relative noise
// between decimal and float64 accounting sits around 1e-11 on typical
// portfolios, two orders of magnitude inside the bands.
func DefaultPolicy() Policy {
	return Policy{
		Version:      1,
		Name:         "default",
		SafetyBuffer: 0.2,
		MinSamples:   20,
		Gates: []Gate{
			{Kind: GateHard, Metric: MetricSeriesLength},
			{Kind: GateHard, Metric: MetricWindow},
			{Kind: GateHard, Metric: MetricMetricsPresent},
			{Kind: GateHard, Metric: "trades"},
			{Kind: GateHard, Metric: "rebalances"},
			{Kind: GateScalar, Metric: "final_value", Mode: ModeRelative, Threshold: 1e-9},
			{Kind: GateScalar, Metric: "cost_total", Mode: ModeRelative, Threshold: 1e-6},
			{Kind: GateScalar, Metric: "cagr", Mode: ModeAbsolute, Threshold: 1e-9},
			{Kind: GateScalar, Metric: "sharpe", Mode: ModeAbsolute, Threshold: 1e-6},
			{Kind: GateScalar, Metric: "max_drawdown", Mode: ModeAbsolute, Threshold: 1e-9},
			{Kind: GateDistribution, Band: 1e-9, MinFraction: 0.99, OutlierBand: 1e-7},
		},
		Exceptions: []Exception{
			{Kind: ExceptionRebalanceRounding, MaxPoints: 4, Band: 1e-6},
			{Kind: ExceptionSignalLag, MaxPoints: 2, Band: 1e-6},
		},
	}
}
