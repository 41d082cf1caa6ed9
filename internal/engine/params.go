package engine

import (
	"fmt"

	"github.com/lockstephq/lockstep/internal/contract"
)

// Well-known parameter keys shared by the adapters. Strategy parameters
// are documented on the strategy implementations.
const (
	ParamValuation     = "valuation"
	ParamWindow        = "window"
	ParamTargetVol     = "target_vol"
	ParamLookback      = "lookback"
	ParamCommissionBps = "commission_bps"
	ParamCommissionMin = "commission_min"
	ParamSpreadBps     = "spread_bps"
	ParamSlippageBps   = "slippage_bps"
	ParamImpactBps     = "impact_bps"
)

// Default cost model parameters, in basis points unless noted.
const (
	defaultCommissionBps = 1.0
	defaultCommissionMin = 1.0 // currency units
	defaultSpreadBps     = 2.0
	defaultSlippageBps   = 0.5
	defaultSMAWindow     = 20
	defaultTargetVol     = 0.10
	defaultVolLookback   = 20
)

// paramFloat reads a numeric parameter, accepting the integer and float
// shapes produced by YAML decoding and JSON round-trips.
func paramFloat(params map[string]any, key string, def float64) (float64, error) {
	raw, ok := params[key]
	if !ok {
		return def, nil
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, contract.NewValidationError("params."+key, fmt.Sprintf("expected a number, got %T", raw))
	}
}

// paramInt reads an integer parameter. Floats are accepted only when
// they carry an integral value, which happens when records round-trip
// through JSON.
func paramInt(params map[string]any, key string, def int) (int, error) {
	raw, ok := params[key]
	if !ok {
		return def, nil
	}
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != float64(int64(v)) {
			return 0, contract.NewValidationError("params."+key, fmt.Sprintf("expected an integer, got %v", v))
		}
		return int(v), nil
	default:
		return 0, contract.NewValidationError("params."+key, fmt.Sprintf("expected an integer, got %T", raw))
	}
}

// paramString reads a string parameter.
func paramString(params map[string]any, key, def string) (string, error) {
	raw, ok := params[key]
	if !ok {
		return def, nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", contract.NewValidationError("params."+key, fmt.Sprintf("expected a string, got %T", raw))
	}
	return s, nil
}

// costParams is the shared cost model configuration extracted from the
// request parameters.
type costParams struct {
	CommissionBps float64
	CommissionMin float64
	SpreadBps     float64
	SlippageBps   float64
	ImpactBps     float64
}

func extractCostParams(params map[string]any) (costParams, error) {
	var cp costParams
	var err error
	if cp.CommissionBps, err = paramFloat(params, ParamCommissionBps, defaultCommissionBps); err != nil {
		return cp, err
	}
	if cp.CommissionBps < 0 {
		return cp, contract.NewValidationError("params."+ParamCommissionBps, "must not be negative")
	}
	if cp.CommissionMin, err = paramFloat(params, ParamCommissionMin, defaultCommissionMin); err != nil {
		return cp, err
	}
	if cp.CommissionMin < 0 {
		return cp, contract.NewValidationError("params."+ParamCommissionMin, "must not be negative")
	}
	if cp.SpreadBps, err = paramFloat(params, ParamSpreadBps, defaultSpreadBps); err != nil {
		return cp, err
	}
	if cp.SpreadBps < 0 {
		return cp, contract.NewValidationError("params."+ParamSpreadBps, "must not be negative")
	}
	if cp.SlippageBps, err = paramFloat(params, ParamSlippageBps, defaultSlippageBps); err != nil {
		return cp, err
	}
	if cp.SlippageBps < 0 {
		return cp, contract.NewValidationError("params."+ParamSlippageBps, "must not be negative")
	}
	if cp.ImpactBps, err = paramFloat(params, ParamImpactBps, 0); err != nil {
		return cp, err
	}
	if cp.ImpactBps < 0 {
		return cp, contract.NewValidationError("params."+ParamImpactBps, "must not be negative")
	}
	return cp, nil
}

// valuationMode reads the requested valuation, defaulting to close.
func valuationMode(params map[string]any) (string, error) {
	v, err := paramString(params, ParamValuation, contract.FidelityClose)
	if err != nil {
		return "", err
	}
	switch v {
	case contract.FidelityClose, contract.FidelityMid:
		return v, nil
	default:
		return "", contract.NewValidationError("params."+ParamValuation, "unknown valuation "+v)
	}
}
