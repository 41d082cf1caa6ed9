package scenario

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lockstephq/lockstep/internal/contract"
)

// SyntheticSpec generates a dataset as a seeded random walk: GBM-style
// increments with mild mean reversion toward the start price and
// per-session returns capped at ±5%. Closes are quantized to four
// decimal places so the same spec produces bit-identical decimals on
// every platform. Each symbol walks its own stream, seeded from the
// scenario seed and the symbol name.
type SyntheticSpec struct {
	// Sessions is the number of trading sessions to generate.
	Sessions int `yaml:"sessions"`

	// Start is the first session date. Sessions fall on consecutive
	// weekdays from here.
	Start string `yaml:"start"`

	// StartPrice anchors every symbol's walk.
	StartPrice float64 `yaml:"start_price"`

	// Drift is the per-session expected return.
	Drift float64 `yaml:"drift"`

	// Volatility scales the per-session random shock.
	Volatility float64 `yaml:"volatility"`
}

func (sp *SyntheticSpec) validate() error {
	// Two sessions minimum: the default request window spans the dataset,
	// and a window needs distinct start and end.
	if sp.Sessions < 2 {
		return fmt.Errorf("series.synthetic.sessions must be at least 2, got %d", sp.Sessions)
	}
	if sp.Start == "" {
		return fmt.Errorf("series.synthetic.start is required")
	}
	if _, err := parseTime("series.synthetic.start", sp.Start); err != nil {
		return err
	}
	if sp.StartPrice <= 0 {
		return fmt.Errorf("series.synthetic.start_price must be positive, got %g", sp.StartPrice)
	}
	if sp.Volatility < 0 {
		return fmt.Errorf("series.synthetic.volatility must not be negative, got %g", sp.Volatility)
	}
	return nil
}

func (sp *SyntheticSpec) generate(symbols []string, base int64) (contract.Series, error) {
	start, err := parseTime("series.synthetic.start", sp.Start)
	if err != nil {
		return nil, err
	}
	sessions := weekdays(start, sp.Sessions)

	series := make(contract.Series, len(symbols))
	for _, sym := range symbols {
		rng := rand.New(rand.NewSource(symbolSeed(base, sym)))
		bars := make([]contract.Bar, len(sessions))
		price := quantizePrice(sp.StartPrice)
		bars[0] = contract.Bar{Time: sessions[0], Close: decimal.NewFromFloat(price)}
		for i := 1; i < len(sessions); i++ {
			z := rng.NormFloat64()
			// Mean reversion toward the anchor keeps long walks from
			// running off to extremes.
			reversion := -0.02 * (price - sp.StartPrice) / sp.StartPrice
			ret := sp.Drift + reversion + sp.Volatility*z
			if ret > 0.05 {
				ret = 0.05
			} else if ret < -0.05 {
				ret = -0.05
			}
			price = quantizePrice(price * (1 + ret))
			bars[i] = contract.Bar{Time: sessions[i], Close: decimal.NewFromFloat(price)}
		}
		series[sym] = bars
	}
	return series, nil
}

// weekdays returns n consecutive weekday dates starting at or after t.
func weekdays(t time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	for len(out) < n {
		if wd := t.Weekday(); wd != time.Saturday && wd != time.Sunday {
			out = append(out, t)
		}
		t = t.AddDate(0, 0, 1)
	}
	return out
}

// quantizePrice rounds to four decimal places and floors at the
// smallest representable tick, so generated closes stay positive.
func quantizePrice(p float64) float64 {
	q := math.Round(p*1e4) / 1e4
	if q < 0.0001 {
		q = 0.0001
	}
	return q
}

// symbolSeed folds the scenario seed and symbol name into a stream
// seed, so symbols walk independent paths and adding a symbol never
// changes its siblings.
func symbolSeed(base int64, symbol string) int64 {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s", base, symbol)
	sum := h.Sum(nil)
	return int64(binary.BigEndian.Uint64(sum[:8]))
}

func seedBase(seed *int64) int64 {
	if seed == nil {
		return 0
	}
	return *seed
}
