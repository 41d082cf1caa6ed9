// Package parity decides whether two backtest results are equivalent
// under a tolerance policy. Structural incomparability is an error;
// any comparable pair yields a verdict, and disagreement is a normal
// verdict, never an error.
package parity

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/lockstephq/lockstep/internal/contract"
)

// Confidence levels.
const (
	ConfidenceHigh = "high"
	ConfidenceLow  = "low"
)

// RunSummary identifies one side of a comparison.
type RunSummary struct {
	RunID             string               `json:"run_id"`
	Engine            string               `json:"engine"`
	AdapterMode       contract.AdapterMode `json:"adapter_mode"`
	ValuationFidelity string               `json:"valuation_fidelity"`
	ConfigHash        string               `json:"config_hash"`
}

// GateResult records one gate's outcome.
type GateResult struct {
	Name      string  `json:"name"`
	Kind      string  `json:"kind"`
	Passed    bool    `json:"passed"`
	Observed  float64 `json:"observed"`
	Threshold float64 `json:"threshold,omitempty"`
	Detail    string  `json:"detail,omitempty"`

	// Distribution gate only.
	Samples        int            `json:"samples,omitempty"`
	WithinFraction float64        `json:"within_fraction,omitempty"`
	Outliers       int            `json:"outliers,omitempty"`
	Excused        map[string]int `json:"excused,omitempty"`
}

// Verdict is the outcome of one comparison. It always carries both
// sides' valuation fidelity tags: agreement between a mid valuation and
// a close approximation is a cross-fidelity verdict, not native parity.
type Verdict struct {
	Equivalent    bool         `json:"equivalent"`
	Confidence    string       `json:"confidence"`
	PolicyName    string       `json:"policy_name"`
	PolicyVersion int          `json:"policy_version"`
	Left          RunSummary   `json:"left"`
	Right         RunSummary   `json:"right"`
	CrossFidelity bool         `json:"cross_fidelity"`
	Gates         []GateResult `json:"gates"`
}

// Compare evaluates two results under a policy.
//
// Structurally incomparable inputs (nil or empty series, disjoint
// symbol sets, non-overlapping windows) return a StructuralMismatch
// error. Otherwise gates run in policy order: a hard gate failure
// short-circuits to a high-confidence non-equivalent verdict; scalar
// thresholds are exclusive, so an error exactly equal to its threshold
// fails.
func Compare(a, b *contract.RunResult, policy Policy) (*Verdict, error) {
	if err := policy.Validate(); err != nil {
		return nil, contract.NewValidationError("policy", err.Error())
	}
	if err := checkComparable(a, b); err != nil {
		return nil, err
	}

	v := &Verdict{
		Equivalent:    true,
		PolicyName:    policy.Name,
		PolicyVersion: policy.Version,
		Left:          summarize(a),
		Right:         summarize(b),
		CrossFidelity: a.Metadata.ValuationFidelity != b.Metadata.ValuationFidelity,
	}

	samples := 0
	marginOK := true

	for _, gate := range policy.Gates {
		switch gate.Kind {
		case GateHard:
			res := evalHard(gate, a, b, policy)
			v.Gates = append(v.Gates, res)
			if !res.Passed {
				// Structural disagreement is certain: no tolerance could
				// make these runs equivalent.
				v.Equivalent = false
				v.Confidence = ConfidenceHigh
				return v, nil
			}

		case GateScalar:
			res := evalScalar(gate, a, b)
			v.Gates = append(v.Gates, res)
			if !res.Passed {
				v.Equivalent = false
			} else if res.Observed >= gate.Threshold*(1-policy.SafetyBuffer) {
				marginOK = false
			}

		case GateDistribution:
			res := evalDistribution(gate, a, b, policy)
			v.Gates = append(v.Gates, res)
			samples = res.Samples
			if !res.Passed {
				v.Equivalent = false
			} else if !distributionMarginOK(gate, a, b, policy) {
				marginOK = false
			}
		}
	}

	if marginOK && samples >= policy.MinSamples {
		v.Confidence = ConfidenceHigh
	} else {
		v.Confidence = ConfidenceLow
	}
	return v, nil
}

// checkComparable rejects pairs that cannot be meaningfully compared.
func checkComparable(a, b *contract.RunResult) error {
	if a == nil || b == nil {
		return contract.NewStructuralMismatchError("cannot compare a nil result")
	}
	if len(a.Series) == 0 || len(b.Series) == 0 {
		return contract.NewStructuralMismatchError("cannot compare an empty value series")
	}

	shared := false
	right := make(map[string]bool, len(b.Metadata.Symbols))
	for _, sym := range b.Metadata.Symbols {
		right[sym] = true
	}
	for _, sym := range a.Metadata.Symbols {
		if right[sym] {
			shared = true
			break
		}
	}
	if !shared {
		return contract.NewStructuralMismatchError(fmt.Sprintf(
			"disjoint symbol sets: %v vs %v", a.Metadata.Symbols, b.Metadata.Symbols))
	}

	aFirst, aLast := a.Series[0].Time, a.Series[len(a.Series)-1].Time
	bFirst, bLast := b.Series[0].Time, b.Series[len(b.Series)-1].Time
	if aLast.Before(bFirst) || bLast.Before(aFirst) {
		return contract.NewStructuralMismatchError(fmt.Sprintf(
			"non-overlapping windows: [%s, %s] vs [%s, %s]",
			aFirst.Format("2006-01-02"), aLast.Format("2006-01-02"),
			bFirst.Format("2006-01-02"), bLast.Format("2006-01-02")))
	}

	return nil
}

func summarize(res *contract.RunResult) RunSummary {
	return RunSummary{
		RunID:             res.Metadata.RunID,
		Engine:            res.Metadata.EngineID + "@" + res.Metadata.EngineVersion,
		AdapterMode:       res.Metadata.AdapterMode,
		ValuationFidelity: res.Metadata.ValuationFidelity,
		ConfigHash:        res.Metadata.ConfigHash,
	}
}

func evalHard(gate Gate, a, b *contract.RunResult, policy Policy) GateResult {
	res := GateResult{
		Name:   GateHard + ":" + gate.Metric,
		Kind:   GateHard,
		Passed: true,
	}

	switch gate.Metric {
	case MetricSeriesLength:
		res.Observed = math.Abs(float64(len(a.Series) - len(b.Series)))
		if len(a.Series) != len(b.Series) {
			res.Passed = false
			res.Detail = fmt.Sprintf("series lengths %d vs %d", len(a.Series), len(b.Series))
		}

	case MetricWindow:
		aFirst, aLast := a.Series[0].Time, a.Series[len(a.Series)-1].Time
		bFirst, bLast := b.Series[0].Time, b.Series[len(b.Series)-1].Time
		if !aFirst.Equal(bFirst) || !aLast.Equal(bLast) {
			res.Passed = false
			res.Detail = fmt.Sprintf("windows [%s, %s] vs [%s, %s]",
				aFirst.Format("2006-01-02"), aLast.Format("2006-01-02"),
				bFirst.Format("2006-01-02"), bLast.Format("2006-01-02"))
		}

	case MetricMetricsPresent:
		for _, g := range policy.Gates {
			if g.Kind == GateHard && (g.Metric == MetricSeriesLength || g.Metric == MetricWindow || g.Metric == MetricMetricsPresent) {
				continue
			}
			if g.Metric == "" {
				continue
			}
			if _, ok := metricValue(a, g.Metric); !ok {
				res.Passed = false
				res.Detail = fmt.Sprintf("left result does not provide metric %q", g.Metric)
				return res
			}
			if _, ok := metricValue(b, g.Metric); !ok {
				res.Passed = false
				res.Detail = fmt.Sprintf("right result does not provide metric %q", g.Metric)
				return res
			}
		}

	default:
		av, aok := metricValue(a, gate.Metric)
		bv, bok := metricValue(b, gate.Metric)
		if !aok || !bok {
			res.Passed = false
			res.Detail = fmt.Sprintf("metric %q is not provided by both results", gate.Metric)
			return res
		}
		res.Observed = math.Abs(av - bv)
		if av != bv {
			res.Passed = false
			res.Detail = fmt.Sprintf("%s: %v vs %v", gate.Metric, av, bv)
		}
	}

	return res
}

func evalScalar(gate Gate, a, b *contract.RunResult) GateResult {
	res := GateResult{
		Name:      GateScalar + ":" + gate.Metric,
		Kind:      GateScalar,
		Threshold: gate.Threshold,
	}

	av, aok := metricValue(a, gate.Metric)
	bv, bok := metricValue(b, gate.Metric)
	if !aok || !bok {
		res.Detail = fmt.Sprintf("metric %q is not provided by both results", gate.Metric)
		return res
	}

	switch gate.Mode {
	case ModeAbsolute:
		res.Observed = math.Abs(av - bv)
	default:
		res.Observed = relativeError(av, bv)
	}

	res.Passed = res.Observed < gate.Threshold
	if !res.Passed {
		res.Detail = fmt.Sprintf("%s: %v vs %v (%s error %.3g, threshold %.3g)",
			gate.Metric, av, bv, gate.Mode, res.Observed, gate.Threshold)
	}
	return res
}

// evalDistribution pairs the two value series point by point. A pass
// needs the within-band fraction to reach MinFraction and every outlier
// beyond OutlierBand to be excused by an enumerated exception.
func evalDistribution(gate Gate, a, b *contract.RunResult, policy Policy) GateResult {
	res := GateResult{
		Name:      GateDistribution,
		Kind:      GateDistribution,
		Threshold: gate.Band,
	}

	diffs := pointDiffs(a, b)
	res.Samples = len(diffs)

	within := 0
	worst := 0.0
	var outliers []int
	for i, d := range diffs {
		if d < gate.Band {
			within++
		}
		if d > worst {
			worst = d
		}
		if d >= gate.OutlierBand {
			outliers = append(outliers, i)
		}
	}
	res.Observed = worst
	res.WithinFraction = float64(within) / float64(len(diffs))
	res.Outliers = len(outliers)

	tradeSessions := costSessions(a, b)
	used := make(map[string]int, len(policy.Exceptions))
	unexcused := 0
	for _, i := range outliers {
		if kind, ok := excuse(policy.Exceptions, used, diffs[i], i, a, tradeSessions); ok {
			used[kind]++
		} else {
			unexcused++
		}
	}
	if len(used) > 0 {
		res.Excused = used
	}

	res.Passed = res.WithinFraction >= gate.MinFraction && unexcused == 0
	if !res.Passed {
		res.Detail = fmt.Sprintf("%.4f of %d points within band (need %.4f), %d unexcused outliers",
			res.WithinFraction, res.Samples, gate.MinFraction, unexcused)
	}
	return res
}

// distributionMarginOK reports whether the distribution gate would
// still pass with every band tightened by the safety buffer. Passing
// only inside the buffer zone downgrades confidence.
func distributionMarginOK(gate Gate, a, b *contract.RunResult, policy Policy) bool {
	strict := gate
	strict.Band = gate.Band * (1 - policy.SafetyBuffer)
	strict.OutlierBand = gate.OutlierBand * (1 - policy.SafetyBuffer)
	if strict.OutlierBand < strict.Band {
		strict.OutlierBand = strict.Band
	}
	return evalDistribution(strict, a, b, policy).Passed
}

// excuse finds the first exception that can absorb the outlier at point
// index i with diff d. Exceptions are positional: rebalance rounding
// applies only on sessions that traded, signal lag only on the session
// after one.
func excuse(exceptions []Exception, used map[string]int, d float64, i int, a *contract.RunResult, tradeSessions map[int64]bool) (string, bool) {
	t := a.Series[i].Time.UnixNano()
	var prev int64
	if i > 0 {
		prev = a.Series[i-1].Time.UnixNano()
	}

	for _, exc := range exceptions {
		if used[exc.Kind] >= exc.MaxPoints {
			continue
		}
		if d >= exc.Band {
			continue
		}
		switch exc.Kind {
		case ExceptionRebalanceRounding:
			if tradeSessions[t] {
				return exc.Kind, true
			}
		case ExceptionSignalLag:
			if i > 0 && tradeSessions[prev] {
				return exc.Kind, true
			}
		}
	}
	return "", false
}

// costSessions collects the timestamps that carried cost events on
// either side. Cost events mark the sessions where orders executed.
func costSessions(a, b *contract.RunResult) map[int64]bool {
	sessions := make(map[int64]bool, len(a.Costs)+len(b.Costs))
	for _, c := range a.Costs {
		sessions[c.Time.UnixNano()] = true
	}
	for _, c := range b.Costs {
		sessions[c.Time.UnixNano()] = true
	}
	return sessions
}

// pointDiffs returns the per-point relative errors of the two value
// series. Lengths and timestamps are already equal when this runs: the
// hard gates precede the distribution gate in every valid policy.
func pointDiffs(a, b *contract.RunResult) []float64 {
	n := len(a.Series)
	if len(b.Series) < n {
		n = len(b.Series)
	}
	diffs := make([]float64, n)
	for i := 0; i < n; i++ {
		diffs[i] = relativeError(
			a.Series[i].Value.InexactFloat64(),
			b.Series[i].Value.InexactFloat64(),
		)
	}
	return diffs
}

// relativeError is |a-b| / max(|a|, |b|), zero when both sides are
// zero.
func relativeError(a, b float64) float64 {
	if a == b {
		return 0
	}
	den := math.Max(math.Abs(a), math.Abs(b))
	if den == 0 {
		return 0
	}
	return math.Abs(a-b) / den
}

// metricValue extracts a named comparison metric from a result.
func metricValue(res *contract.RunResult, name string) (float64, bool) {
	switch name {
	case "final_value":
		return res.FinalValue.InexactFloat64(), true
	case "cagr":
		return res.Metrics.CAGR, true
	case "sharpe":
		return res.Metrics.Sharpe, true
	case "max_drawdown":
		return res.Metrics.MaxDrawdown, true
	case "trades":
		return float64(res.Metrics.Trades), true
	case "rebalances":
		return float64(res.Metrics.Rebalances), true
	case "cost_total":
		total := decimal.Zero
		for _, c := range res.Costs {
			total = total.Add(c.Amount)
		}
		return total.InexactFloat64(), true
	default:
		return 0, false
	}
}
