package engine

import (
	"math"

	"github.com/lockstephq/lockstep/internal/contract"
)

// sessionsPerYear annualizes daily-session statistics.
const sessionsPerYear = 252.0

// simResult is the raw output of one accounting loop before it is
// wrapped in run metadata.
type simResult struct {
	points  []contract.ValuePoint
	costs   []contract.CostEvent
	metrics contract.Metrics
}

// metricsFromValues computes the summary metrics from a portfolio value
// trajectory. Trade and rebalance counts are filled in by the caller.
// Both adapters feed float64 values here, so metric divergence tracks
// series divergence rather than adding a second arithmetic pathway.
func metricsFromValues(values []float64) contract.Metrics {
	var m contract.Metrics
	if len(values) < 2 || values[0] <= 0 {
		return m
	}

	returns := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] == 0 {
			returns = append(returns, 0)
			continue
		}
		returns = append(returns, values[i]/values[i-1]-1)
	}

	years := float64(len(returns)) / sessionsPerYear
	final := values[len(values)-1]
	if final > 0 && years > 0 {
		m.CAGR = math.Pow(final/values[0], 1/years) - 1
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	if len(returns) > 1 {
		variance := 0.0
		for _, r := range returns {
			d := r - mean
			variance += d * d
		}
		variance /= float64(len(returns) - 1)
		if std := math.Sqrt(variance); std > 0 {
			m.Sharpe = mean / std * math.Sqrt(sessionsPerYear)
		}
	}

	peak := values[0]
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > m.MaxDrawdown {
				m.MaxDrawdown = dd
			}
		}
	}
	return m
}
