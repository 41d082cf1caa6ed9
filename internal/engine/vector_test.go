package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockstephq/lockstep/internal/contract"
)

// The float64 loop must land on the same exact numbers as the reference
// engine when every quantity is representable: entry costs 20, then a
// flat 99980.
func TestVectorBuyHoldFlatTape(t *testing.T) {
	req := buyHoldRequest(contract.Series{"ALPHA": flatBars(10, 100)}, "ALPHA")
	res, err := NewVector(testOptions()).Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "vector", res.Metadata.EngineID)
	assert.Equal(t, contract.ModeNative, res.Metadata.AdapterMode)
	assert.Equal(t, contract.FidelityClose, res.Metadata.ValuationFidelity)

	require.Len(t, res.Series, 10)
	assertDecimal(t, "100000", res.Series[0].Value)
	for i := 1; i < 10; i++ {
		assertDecimal(t, "99980", res.Series[i].Value)
		assertDecimal(t, "-20", res.Series[i].Cash)
	}
	assertDecimal(t, "99980", res.FinalValue)
	assert.Equal(t, 1, res.Metrics.Trades)

	require.Len(t, res.Costs, 2)
	assertDecimal(t, "10", res.Costs[0].Amount)
	assertDecimal(t, "10", res.Costs[1].Amount)
}

// Requesting mid valuation from the pilot engine degrades to a
// close-price approximation. The degradation is visible in the result
// metadata alone: fallback mode, a close_approx fidelity tag, and a
// warning naming the substitution.
func TestVectorMidValuationFallsBack(t *testing.T) {
	req := buyHoldRequest(contract.Series{"ALPHA": flatBars(10, 100)}, "ALPHA")
	req.Params[ParamValuation] = contract.FidelityMid

	res, err := NewVector(testOptions()).Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, contract.ModeFallback, res.Metadata.AdapterMode)
	assert.Equal(t, contract.FidelityCloseApprox, res.Metadata.ValuationFidelity)
	require.Len(t, res.Metadata.Warnings, 1)
	assert.Contains(t, res.Metadata.Warnings[0], "mid valuation is not supported")

	// The trajectory is the close-valuation one, not the mid haircut.
	closeReq := buyHoldRequest(contract.Series{"ALPHA": flatBars(10, 100)}, "ALPHA")
	closeRes, err := NewVector(testOptions()).Run(context.Background(), closeReq)
	require.NoError(t, err)
	assert.True(t, res.FinalValue.Equal(closeRes.FinalValue))
	assert.Equal(t, contract.ModeNative, closeRes.Metadata.AdapterMode)
	assert.Empty(t, closeRes.Metadata.Warnings)
}

// Records round-trip through JSON turn integer params into float64.
// The engine accepts both shapes and produces the same run.
func TestVectorIntegerParamsSurviveJSONShapes(t *testing.T) {
	series := contract.Series{
		"ALPHA": pathBars(100, 101, 102, 103, 104, 103, 102, 101, 100, 99),
	}

	asInt := buyHoldRequest(series, "ALPHA")
	asInt.Strategy = StrategySMACross
	asInt.Params[ParamWindow] = 3

	asFloat := buyHoldRequest(series, "ALPHA")
	asFloat.Strategy = StrategySMACross
	asFloat.Params[ParamWindow] = float64(3)

	a, err := NewVector(testOptions()).Run(context.Background(), asInt)
	require.NoError(t, err)
	b, err := NewVector(testOptions()).Run(context.Background(), asFloat)
	require.NoError(t, err)

	assert.True(t, a.FinalValue.Equal(b.FinalValue))
	assert.Equal(t, a.Metadata.ConfigHash, b.Metadata.ConfigHash)
	assert.Equal(t, a.Metrics.Trades, b.Metrics.Trades)
}

func TestVectorSMACrossMatchesReferencePath(t *testing.T) {
	series := contract.Series{
		"ALPHA": pathBars(100, 101, 102, 103, 104, 103, 102, 101, 100, 99),
	}
	req := buyHoldRequest(series, "ALPHA")
	req.Strategy = StrategySMACross
	req.Params[ParamWindow] = 3

	res, err := NewVector(testOptions()).Run(context.Background(), req)
	require.NoError(t, err)

	// Same crossing decisions and, on this tape, the same digits as the
	// reference engine after boundary rounding.
	assert.Equal(t, 2, res.Metrics.Trades)
	assertDecimal(t, "102959.4", res.FinalValue)
}
