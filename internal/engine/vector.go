package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/lockstephq/lockstep/internal/contract"
)

// Vector is the pilot adapter. Accounting runs in float64, the strategy
// surface is restricted, and mid valuation degrades to a close-price
// approximation instead of failing. Its simulation loop mirrors the
// Ledger recipe step for step so result differences isolate the number
// representation.
type Vector struct {
	opts Options
}

// NewVector constructs the pilot adapter.
func NewVector(opts Options) *Vector {
	return &Vector{opts: opts.withDefaults()}
}

func (e *Vector) ID() string      { return "vector" }
func (e *Vector) Version() string { return "0.9.2" }

func (e *Vector) Scope() Scope {
	return Scope{
		Strategies: []string{StrategyBuyHold, StrategySMACross},
		Valuations: []string{contract.FidelityClose},
	}
}

// Execute is a synonym for Run.
func (e *Vector) Execute(ctx context.Context, req *contract.RunRequest) (*contract.RunResult, error) {
	return e.Run(ctx, req)
}

// Run validates, scopes, and simulates a request. Out-of-scope
// strategies are refused with a scope violation; an unsupported
// valuation degrades to fallback mode, observable from the result
// metadata alone.
func (e *Vector) Run(ctx context.Context, req *contract.RunRequest) (*contract.RunResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	started := e.opts.Now()

	if err := contract.Validate(req); err != nil {
		return nil, err
	}
	if err := checkScope(e.ID(), e.Scope(), req.Strategy); err != nil {
		return nil, err
	}
	valuation, err := valuationMode(req.Params)
	if err != nil {
		return nil, err
	}

	mode := contract.ModeNative
	fidelity := valuation
	var warnings []string
	if !e.Scope().SupportsValuation(valuation) {
		mode = contract.ModeFallback
		fidelity = contract.FidelityCloseApprox
		warnings = append(warnings,
			fmt.Sprintf("%s valuation is not supported; using close-price approximation", valuation))
		e.opts.Logger.Warn("valuation fallback",
			"engine", e.ID(),
			"requested", valuation,
			"substitute", contract.FidelityCloseApprox,
		)
	}

	cp, err := extractCostParams(req.Params)
	if err != nil {
		return nil, err
	}

	series, err := resolveSeries(e.opts, req)
	if err != nil {
		return nil, err
	}
	if err := contract.ValidateSeries(series, req); err != nil {
		return nil, err
	}
	snapID, err := autoSnapshot(e.opts, req, series)
	if err != nil {
		return nil, fmt.Errorf("vector: record snapshot: %w", err)
	}

	configHash, err := contract.ConfigHash(req)
	if err != nil {
		return nil, err
	}
	seed := contract.SeedFor(req, configHash)

	weights, err := e.strategyFor(req, series)
	if err != nil {
		return nil, err
	}

	sim := e.simulate(req, series, weights, cp, seed)

	res := &contract.RunResult{
		Metadata: contract.RunMetadata{
			RunID:             e.opts.NewID(),
			EngineID:          e.ID(),
			EngineVersion:     e.Version(),
			ConfigHash:        configHash,
			Seed:              seed,
			AdapterMode:       mode,
			Symbols:           append([]string(nil), req.Symbols...),
			SnapshotID:        snapID,
			ValuationFidelity: fidelity,
			Warnings:          warnings,
			StartedAt:         started,
			FinishedAt:        e.opts.Now(),
		},
		FinalValue: sim.points[len(sim.points)-1].Value,
		Series:     sim.points,
		Metrics:    sim.metrics,
		Costs:      sim.costs,
	}
	if err := contract.ValidateResult(req, res); err != nil {
		return nil, fmt.Errorf("vector: result failed contract validation: %w", err)
	}

	e.opts.Logger.Debug("run complete",
		"engine", e.ID(),
		"run_id", res.Metadata.RunID,
		"config_hash", configHash,
		"final_value", res.FinalValue.String(),
	)
	return res, nil
}

type vectorWeights func(i int) map[string]float64

func (e *Vector) strategyFor(req *contract.RunRequest, series contract.Series) (vectorWeights, error) {
	closes := make(map[string][]float64, len(req.Symbols))
	for _, sym := range req.Symbols {
		for _, bar := range series[sym] {
			if bar.Time.Before(req.Start) || bar.Time.After(req.End) {
				continue
			}
			closes[sym] = append(closes[sym], bar.Close.InexactFloat64())
		}
	}

	equal := 1 / float64(len(req.Symbols))

	switch req.Strategy {
	case StrategyBuyHold:
		return func(i int) map[string]float64 {
			w := make(map[string]float64, len(req.Symbols))
			for _, sym := range req.Symbols {
				w[sym] = equal
			}
			return w
		}, nil

	case StrategySMACross:
		window, err := paramInt(req.Params, ParamWindow, defaultSMAWindow)
		if err != nil {
			return nil, err
		}
		if window < 1 {
			return nil, contract.NewValidationError("params."+ParamWindow, "must be at least 1")
		}
		return func(i int) map[string]float64 {
			w := make(map[string]float64, len(req.Symbols))
			for _, sym := range req.Symbols {
				if smaSignalFloat(closes[sym], i, window) {
					w[sym] = equal
				} else {
					w[sym] = 0
				}
			}
			return w
		}, nil

	default:
		return nil, contract.NewScopeViolationError(e.ID(), "strategy "+req.Strategy+" is not supported")
	}
}

// smaSignalFloat mirrors smaSignalDecimal with float arithmetic. The
// SMA is quantized to four decimals before the comparison, the same
// quantization the reference engine applies, so both engines take the
// same side of every crossing.
func smaSignalFloat(closes []float64, i, window int) bool {
	if i+1 < window {
		return true
	}
	sum := 0.0
	for j := i + 1 - window; j <= i; j++ {
		sum += closes[j]
	}
	sma := math.Round(sum/float64(window)*1e4) / 1e4
	return closes[i] > sma
}

func round6(x float64) float64 {
	return math.Round(x*1e6) / 1e6
}

// simulate runs the float64 accounting loop, mirroring the reference
// recipe: first point before any position, orders at each session
// close, later points marked net of recorded costs. Values and costs
// are rounded to six decimals at the contract boundary.
func (e *Vector) simulate(req *contract.RunRequest, series contract.Series, weights vectorWeights, cp costParams, seed int64) simResult {
	times := contract.Sessions(series[req.Symbols[0]], req.Start, req.End)
	closes := make(map[string][]float64, len(req.Symbols))
	for _, sym := range req.Symbols {
		cs := make([]float64, 0, len(times))
		for _, bar := range series[sym] {
			if bar.Time.Before(req.Start) || bar.Time.After(req.End) {
				continue
			}
			cs = append(cs, bar.Close.InexactFloat64())
		}
		closes[sym] = cs
	}

	const minNotional = 0.01

	var sim simResult
	sim.points = make([]contract.ValuePoint, 0, len(times))
	cash := req.InitialCash.InexactFloat64()
	units := make(map[string]float64, len(req.Symbols))
	lastTarget := make(map[string]float64, len(req.Symbols))
	values := make([]float64, 0, len(times))

	for i := range times {
		target := weights(i)

		basis := cash
		for _, sym := range req.Symbols {
			basis += units[sym] * closes[sym][i]
		}

		traded := false
		for _, sym := range req.Symbols {
			// Orders fire only when the strategy moves a symbol's target
			// weight, mirroring the reference engine's entry semantics.
			if target[sym] == lastTarget[sym] {
				continue
			}
			lastTarget[sym] = target[sym]

			price := closes[sym][i]
			delta := basis*target[sym] - units[sym]*price
			notional := math.Abs(delta)
			if notional <= minNotional {
				continue
			}

			units[sym] += delta / price
			cash -= delta
			traded = true
			sim.metrics.Trades++

			charge := func(kind contract.CostKind, raw float64, basisDesc string) {
				amt := round6(raw)
				if amt == 0 {
					return
				}
				cash -= amt
				sim.costs = append(sim.costs, contract.CostEvent{
					Time:   times[i],
					Symbol: sym,
					Kind:   kind,
					Amount: decimal.NewFromFloat(amt),
					Basis:  basisDesc,
				})
			}

			commission := notional * cp.CommissionBps / 10000
			if commission < cp.CommissionMin {
				commission = cp.CommissionMin
			}
			charge(contract.CostCommission, commission,
				fmt.Sprintf("max(%v, %v bps) of %.2f notional", cp.CommissionMin, cp.CommissionBps, notional))

			charge(contract.CostSpread, notional*cp.SpreadBps/20000,
				fmt.Sprintf("half of %v bps on %.2f notional", cp.SpreadBps, notional))

			q := slipQuantum(seed, sym, i)
			charge(contract.CostSlippage, notional*cp.SlippageBps*float64(q)/1e8,
				fmt.Sprintf("%v bps scaled %d/10000 on %.2f notional", cp.SlippageBps, q, notional))

			if cp.ImpactBps > 0 {
				charge(contract.CostMarketImpact, notional*cp.ImpactBps/10000*notional/1e6,
					fmt.Sprintf("%v bps per 1M on %.2f notional", cp.ImpactBps, notional))
			}
		}
		if traded {
			sim.metrics.Rebalances++
		}

		if i == 0 {
			sim.points = append(sim.points, contract.ValuePoint{
				Time:  times[0],
				Value: req.InitialCash,
				Cash:  req.InitialCash,
			})
			values = append(values, req.InitialCash.InexactFloat64())
			continue
		}

		value := cash
		for _, sym := range req.Symbols {
			value += units[sym] * closes[sym][i]
		}
		point := contract.ValuePoint{
			Time:  times[i],
			Value: decimal.NewFromFloat(round6(value)),
			Cash:  decimal.NewFromFloat(round6(cash)),
		}
		sim.points = append(sim.points, point)
		values = append(values, round6(value))
	}

	trades, rebalances := sim.metrics.Trades, sim.metrics.Rebalances
	sim.metrics = metricsFromValues(values)
	sim.metrics.Trades = trades
	sim.metrics.Rebalances = rebalances
	return sim
}
