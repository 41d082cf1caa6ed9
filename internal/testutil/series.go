package testutil

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/lockstephq/lockstep/internal/contract"
)

// Day returns the i-th session date of the fixture calendar,
// 2024-01-01 plus i days, UTC midnight.
func Day(i int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i)
}

// FlatBars returns n sessions at a constant integer price. Flat prices
// keep every accounting quantity exactly representable, so engines with
// different arithmetic agree to the last digit.
func FlatBars(n int, price int64) []contract.Bar {
	bars := make([]contract.Bar, n)
	for i := range bars {
		bars[i] = contract.Bar{Time: Day(i), Close: decimal.NewFromInt(price)}
	}
	return bars
}

// RampBars returns n sessions climbing linearly from start by step.
func RampBars(n int, start, step float64) []contract.Bar {
	bars := make([]contract.Bar, n)
	for i := range bars {
		bars[i] = contract.Bar{
			Time:  Day(i),
			Close: decimal.NewFromFloat(start + float64(i)*step),
		}
	}
	return bars
}

// Request builds a buy-and-hold request over the fixture calendar with
// slippage disabled, the baseline most tests start from.
func Request(series contract.Series, symbols ...string) *contract.RunRequest {
	return &contract.RunRequest{
		Strategy:    "buy_hold",
		Symbols:     symbols,
		Series:      series,
		Start:       Day(0),
		End:         Day(365),
		InitialCash: decimal.NewFromInt(100000),
		Params:      map[string]any{"slippage_bps": 0.0},
	}
}
