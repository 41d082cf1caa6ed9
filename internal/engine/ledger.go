package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lockstephq/lockstep/internal/contract"
)

// minOrderNotional is the smallest order either adapter will execute.
// Target deltas at or below it are left unfilled, which keeps trade
// decisions identical across engines whose arithmetic differs far below
// this threshold.
const minOrderNotional = "0.01"

// ValuationSource substitutes the pricing used to mark positions.
// Results produced through a source carry adapter mode shadow and the
// source's fidelity tag instead of the engine's own.
type ValuationSource interface {
	Fidelity() string
	Price(symbol string, session time.Time, close decimal.Decimal) decimal.Decimal
}

// LedgerOption configures a Ledger beyond the shared Options.
type LedgerOption func(*Ledger)

// WithShadowPricing marks positions with prices from src instead of the
// engine's native valuation path.
func WithShadowPricing(src ValuationSource) LedgerOption {
	return func(e *Ledger) { e.shadow = src }
}

// Ledger is the reference adapter. All accounting runs in decimal
// arithmetic; it covers every shipped strategy and both native
// valuation modes.
type Ledger struct {
	opts   Options
	shadow ValuationSource
}

// NewLedger constructs the reference adapter.
func NewLedger(opts Options, extra ...LedgerOption) *Ledger {
	e := &Ledger{opts: opts.withDefaults()}
	for _, o := range extra {
		o(e)
	}
	return e
}

func (e *Ledger) ID() string      { return "ledger" }
func (e *Ledger) Version() string { return "1.4.0" }

func (e *Ledger) Scope() Scope {
	return Scope{
		Strategies: []string{StrategyBuyHold, StrategySMACross, StrategyVolTarget},
		Valuations: []string{contract.FidelityClose, contract.FidelityMid},
	}
}

// Execute is a synonym for Run.
func (e *Ledger) Execute(ctx context.Context, req *contract.RunRequest) (*contract.RunResult, error) {
	return e.Run(ctx, req)
}

// Run validates, scopes, and simulates a request. The result is pure
// given (request, seed): only the run id and timestamps change across
// repeats.
func (e *Ledger) Run(ctx context.Context, req *contract.RunRequest) (*contract.RunResult, error) {
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
	if !e.Scope().SupportsValuation(valuation) {
		return nil, contract.NewScopeViolationError(e.ID(), "valuation "+valuation+" is not supported")
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
		return nil, fmt.Errorf("ledger: record snapshot: %w", err)
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

	sim := e.simulate(req, series, weights, valuation, cp, seed)

	mode := contract.ModeNative
	fidelity := valuation
	if e.shadow != nil {
		mode = contract.ModeShadow
		fidelity = e.shadow.Fidelity()
	}

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
			StartedAt:         started,
			FinishedAt:        e.opts.Now(),
		},
		FinalValue: sim.points[len(sim.points)-1].Value,
		Series:     sim.points,
		Metrics:    sim.metrics,
		Costs:      sim.costs,
	}
	if err := contract.ValidateResult(req, res); err != nil {
		return nil, fmt.Errorf("ledger: result failed contract validation: %w", err)
	}

	e.opts.Logger.Debug("run complete",
		"engine", e.ID(),
		"run_id", res.Metadata.RunID,
		"config_hash", configHash,
		"final_value", res.FinalValue.String(),
	)
	return res, nil
}

// ledgerWeights returns the per-symbol target weights for session i,
// given closes up to and including i.
type ledgerWeights func(i int) map[string]decimal.Decimal

// strategyFor compiles the request's strategy into a weight function
// over the session closes inside the window.
func (e *Ledger) strategyFor(req *contract.RunRequest, series contract.Series) (ledgerWeights, error) {
	closes := make(map[string][]decimal.Decimal, len(req.Symbols))
	for _, sym := range req.Symbols {
		for _, bar := range series[sym] {
			if bar.Time.Before(req.Start) || bar.Time.After(req.End) {
				continue
			}
			closes[sym] = append(closes[sym], bar.Close)
		}
	}

	equal := decimal.NewFromInt(1).Div(decimal.NewFromInt(int64(len(req.Symbols))))
	zero := decimal.Zero

	switch req.Strategy {
	case StrategyBuyHold:
		return func(i int) map[string]decimal.Decimal {
			w := make(map[string]decimal.Decimal, len(req.Symbols))
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
		return func(i int) map[string]decimal.Decimal {
			w := make(map[string]decimal.Decimal, len(req.Symbols))
			for _, sym := range req.Symbols {
				if smaSignalDecimal(closes[sym], i, window) {
					w[sym] = equal
				} else {
					w[sym] = zero
				}
			}
			return w
		}, nil

	case StrategyVolTarget:
		target, err := paramFloat(req.Params, ParamTargetVol, defaultTargetVol)
		if err != nil {
			return nil, err
		}
		if target <= 0 {
			return nil, contract.NewValidationError("params."+ParamTargetVol, "must be positive")
		}
		lookback, err := paramInt(req.Params, ParamLookback, defaultVolLookback)
		if err != nil {
			return nil, err
		}
		if lookback < 2 {
			return nil, contract.NewValidationError("params."+ParamLookback, "must be at least 2")
		}
		// The vol estimate is a float diagnostic; the resulting scale is
		// quantized to four decimals before it touches the accounting.
		floatCloses := make(map[string][]float64, len(closes))
		for sym, cs := range closes {
			fs := make([]float64, len(cs))
			for i, c := range cs {
				fs[i] = c.InexactFloat64()
			}
			floatCloses[sym] = fs
		}
		return func(i int) map[string]decimal.Decimal {
			scale := volTargetScale(floatCloses, req.Symbols, i, target, lookback)
			sd := decimal.NewFromFloat(scale)
			w := make(map[string]decimal.Decimal, len(req.Symbols))
			for _, sym := range req.Symbols {
				w[sym] = equal.Mul(sd)
			}
			return w
		}, nil

	default:
		return nil, contract.NewScopeViolationError(e.ID(), "strategy "+req.Strategy+" is not supported")
	}
}

// smaSignalDecimal reports whether the symbol is held at session i: the
// close must exceed its simple moving average. The SMA is quantized to
// four decimals before the comparison so engines with different
// arithmetic agree on crossing decisions. During warm-up, before a full
// window of closes exists, the symbol is held.
func smaSignalDecimal(closes []decimal.Decimal, i, window int) bool {
	if i+1 < window {
		return true
	}
	sum := decimal.Zero
	for j := i + 1 - window; j <= i; j++ {
		sum = sum.Add(closes[j])
	}
	sma := sum.Div(decimal.NewFromInt(int64(window))).Round(4)
	return closes[i].GreaterThan(sma)
}

// volTargetScale returns min(1, target / realized vol) for the
// equal-weight basket, quantized to four decimals. During warm-up and
// in zero-vol stretches the scale is 1.
func volTargetScale(closes map[string][]float64, symbols []string, i int, target float64, lookback int) float64 {
	if i < lookback {
		return 1
	}
	returns := make([]float64, 0, lookback)
	for j := i - lookback + 1; j <= i; j++ {
		r := 0.0
		for _, sym := range symbols {
			prev := closes[sym][j-1]
			if prev != 0 {
				r += closes[sym][j]/prev - 1
			}
		}
		returns = append(returns, r/float64(len(symbols)))
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)
	vol := math.Sqrt(variance) * math.Sqrt(sessionsPerYear)
	if vol == 0 {
		return 1
	}
	scale := target / vol
	if scale > 1 {
		scale = 1
	}
	return math.Round(scale*1e4) / 1e4
}

// simulate runs the decimal accounting loop. The first point records
// the portfolio before any position is taken; orders execute at each
// session close and later points mark positions at the valuation price
// net of recorded costs.
func (e *Ledger) simulate(req *contract.RunRequest, series contract.Series, weights ledgerWeights, valuation string, cp costParams, seed int64) simResult {
	times := contract.Sessions(series[req.Symbols[0]], req.Start, req.End)
	closes := make(map[string][]decimal.Decimal, len(req.Symbols))
	for _, sym := range req.Symbols {
		cs := make([]decimal.Decimal, 0, len(times))
		for _, bar := range series[sym] {
			if bar.Time.Before(req.Start) || bar.Time.After(req.End) {
				continue
			}
			cs = append(cs, bar.Close)
		}
		closes[sym] = cs
	}

	minNotional := decimal.RequireFromString(minOrderNotional)
	commBps := decimal.NewFromFloat(cp.CommissionBps)
	commMin := decimal.NewFromFloat(cp.CommissionMin)
	spreadBps := decimal.NewFromFloat(cp.SpreadBps)
	slipBps := decimal.NewFromFloat(cp.SlippageBps)
	impactBps := decimal.NewFromFloat(cp.ImpactBps)
	tenK := decimal.NewFromInt(10000)
	markFactor := decimal.NewFromInt(1)
	if valuation == contract.FidelityMid {
		markFactor = markFactor.Sub(spreadBps.Div(decimal.NewFromInt(20000)))
	}

	markPrice := func(sym string, i int) decimal.Decimal {
		if e.shadow != nil {
			return e.shadow.Price(sym, times[i], closes[sym][i])
		}
		return closes[sym][i].Mul(markFactor)
	}

	var sim simResult
	sim.points = make([]contract.ValuePoint, 0, len(times))
	cash := req.InitialCash
	units := make(map[string]decimal.Decimal, len(req.Symbols))
	lastTarget := make(map[string]decimal.Decimal, len(req.Symbols))
	values := make([]float64, 0, len(times))

	for i := range times {
		target := weights(i)

		basis := cash
		for _, sym := range req.Symbols {
			basis = basis.Add(units[sym].Mul(closes[sym][i]))
		}

		traded := false
		for _, sym := range req.Symbols {
			// Orders fire only when the strategy moves a symbol's target
			// weight. Holding through drift is the contract: buy and hold
			// means exactly one entry, not a rebalance per session.
			if target[sym].Equal(lastTarget[sym]) {
				continue
			}
			lastTarget[sym] = target[sym]

			price := closes[sym][i]
			delta := basis.Mul(target[sym]).Sub(units[sym].Mul(price))
			notional := delta.Abs()
			if notional.LessThanOrEqual(minNotional) {
				continue
			}

			units[sym] = units[sym].Add(delta.Div(price))
			cash = cash.Sub(delta)
			traded = true
			sim.metrics.Trades++

			charge := func(kind contract.CostKind, raw decimal.Decimal, basisDesc string) {
				amt := raw.Round(6)
				if amt.IsZero() {
					return
				}
				cash = cash.Sub(amt)
				sim.costs = append(sim.costs, contract.CostEvent{
					Time:   times[i],
					Symbol: sym,
					Kind:   kind,
					Amount: amt,
					Basis:  basisDesc,
				})
			}

			commission := decimal.Max(commMin, notional.Mul(commBps).Div(tenK))
			charge(contract.CostCommission, commission,
				fmt.Sprintf("max(%v, %v bps) of %s notional", cp.CommissionMin, cp.CommissionBps, notional.Round(2)))

			spread := notional.Mul(spreadBps).Div(decimal.NewFromInt(20000))
			charge(contract.CostSpread, spread,
				fmt.Sprintf("half of %v bps on %s notional", cp.SpreadBps, notional.Round(2)))

			q := slipQuantum(seed, sym, i)
			slip := notional.Mul(slipBps).Mul(decimal.NewFromInt(q)).Div(decimal.NewFromInt(100000000))
			charge(contract.CostSlippage, slip,
				fmt.Sprintf("%v bps scaled %d/10000 on %s notional", cp.SlippageBps, q, notional.Round(2)))

			if cp.ImpactBps > 0 {
				impact := notional.Mul(impactBps).Div(tenK).Mul(notional).Div(decimal.NewFromInt(1000000))
				charge(contract.CostMarketImpact, impact,
					fmt.Sprintf("%v bps per 1M on %s notional", cp.ImpactBps, notional.Round(2)))
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
			value = value.Add(units[sym].Mul(markPrice(sym, i)))
		}
		point := contract.ValuePoint{
			Time:  times[i],
			Value: value.Round(6),
			Cash:  cash.Round(6),
		}
		sim.points = append(sim.points, point)
		values = append(values, point.Value.InexactFloat64())
	}

	trades, rebalances := sim.metrics.Trades, sim.metrics.Rebalances
	sim.metrics = metricsFromValues(values)
	sim.metrics.Trades = trades
	sim.metrics.Rebalances = rebalances
	return sim
}
