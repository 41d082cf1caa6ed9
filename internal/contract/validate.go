package contract

import (
	"fmt"
)

// Validate checks a RunRequest against the contract invariants. Returns a
// *Error with KindValidation naming the first offending field, or nil.
func Validate(req *RunRequest) error {
	if req == nil {
		return NewValidationError("request", "request is nil")
	}
	if req.Strategy == "" {
		return NewValidationError("strategy", "strategy is required")
	}

	if len(req.Symbols) == 0 {
		return NewValidationError("symbols", "at least one symbol is required")
	}
	seen := make(map[string]bool, len(req.Symbols))
	for _, sym := range req.Symbols {
		if sym == "" {
			return NewValidationError("symbols", "symbol must not be empty")
		}
		if seen[sym] {
			return NewValidationError("symbols", fmt.Sprintf("duplicate symbol %q", sym))
		}
		seen[sym] = true
	}

	if req.Start.IsZero() || req.End.IsZero() {
		return NewValidationError("window", "start and end are required")
	}
	if !req.End.After(req.Start) {
		return NewValidationError("window", "end must be after start")
	}

	if req.InitialCash.IsNegative() {
		return NewValidationError("initial_cash", "initial cash must be non-negative")
	}

	for k, v := range req.Params {
		if k == "" {
			return NewValidationError("params", "parameter key must not be empty")
		}
		if !validParamValue(v) {
			return NewValidationError("params",
				fmt.Sprintf("parameter %q has unsupported type %T (scalars only)", k, v))
		}
	}

	if len(req.Series) == 0 && req.SnapshotID == "" {
		return NewValidationError("series", "either inline series or a snapshot id is required")
	}
	if len(req.Series) > 0 {
		if err := ValidateSeries(req.Series, req); err != nil {
			return err
		}
	}

	return nil
}

// ValidateSeries checks a dataset against a request: every request symbol has
// bars, no bars for unknown symbols, timestamps strictly increasing, at least
// one session per symbol inside the window, and session calendars aligned
// across symbols. Used both for inline series and for snapshot-resolved ones.
func ValidateSeries(series Series, req *RunRequest) error {
	inRequest := make(map[string]bool, len(req.Symbols))
	for _, sym := range req.Symbols {
		inRequest[sym] = true
	}

	for sym := range series {
		if !inRequest[sym] {
			return NewValidationError("series", fmt.Sprintf("series for unknown symbol %q", sym))
		}
	}

	var calendarSym string
	var calendar []int64
	for _, sym := range req.Symbols {
		bars, ok := series[sym]
		if !ok || len(bars) == 0 {
			return NewValidationError("series", fmt.Sprintf("missing series for symbol %q", sym))
		}
		for i := 1; i < len(bars); i++ {
			if !bars[i].Time.After(bars[i-1].Time) {
				return NewValidationError("series",
					fmt.Sprintf("%s: bar timestamps must be strictly increasing", sym))
			}
		}

		sessions := Sessions(bars, req.Start, req.End)
		if len(sessions) == 0 {
			return NewValidationError("series",
				fmt.Sprintf("%s: no sessions inside the requested window", sym))
		}

		// All symbols must trade the same calendar: the portfolio series
		// has exactly one point per shared session.
		unix := make([]int64, len(sessions))
		for i, s := range sessions {
			unix[i] = s.UnixNano()
		}
		if calendar == nil {
			calendarSym, calendar = sym, unix
			continue
		}
		if !equalInt64s(calendar, unix) {
			return NewValidationError("series",
				fmt.Sprintf("session calendars differ between %q and %q", calendarSym, sym))
		}
	}

	return nil
}

// ValidateResult checks an engine result against its request. Engines call
// this before returning so contract violations surface at the boundary they
// were produced, not two components later.
func ValidateResult(req *RunRequest, res *RunResult) error {
	if res == nil {
		return NewValidationError("result", "result is nil")
	}

	md := &res.Metadata
	if md.RunID == "" {
		return NewValidationError("metadata.run_id", "run id is required")
	}
	if md.EngineID == "" {
		return NewValidationError("metadata.engine_id", "engine id is required")
	}
	if md.ConfigHash == "" {
		return NewValidationError("metadata.config_hash", "config hash is required")
	}
	if !ValidAdapterModes[md.AdapterMode] {
		return NewValidationError("metadata.adapter_mode",
			fmt.Sprintf("unknown adapter mode %q", md.AdapterMode))
	}

	if len(res.Series) == 0 {
		return NewValidationError("series", "result series is empty")
	}
	if !res.Series[0].Value.Equal(req.InitialCash) {
		return NewValidationError("series",
			fmt.Sprintf("first value %s must equal initial cash %s",
				res.Series[0].Value, req.InitialCash))
	}
	for i, p := range res.Series {
		if p.Time.Before(req.Start) || p.Time.After(req.End) {
			return NewValidationError("series",
				fmt.Sprintf("point %d at %s is outside the requested window", i, p.Time.Format("2006-01-02")))
		}
		if i > 0 && !p.Time.After(res.Series[i-1].Time) {
			return NewValidationError("series", "value series timestamps must be strictly increasing")
		}
	}
	if !res.FinalValue.Equal(res.Series[len(res.Series)-1].Value) {
		return NewValidationError("final_value", "final value must equal the last series value")
	}

	for i, c := range res.Costs {
		if !ValidCostKinds[c.Kind] {
			return NewValidationError("costs", fmt.Sprintf("cost %d has unknown kind %q", i, c.Kind))
		}
		if c.Amount.IsNegative() {
			return NewValidationError("costs", fmt.Sprintf("cost %d has negative amount", i))
		}
		if i > 0 && c.Time.Before(res.Costs[i-1].Time) {
			return NewValidationError("costs", "cost events must be time-ordered")
		}
	}

	return nil
}

func validParamValue(v any) bool {
	switch v.(type) {
	case string, bool, int, int64, float64:
		return true
	default:
		return false
	}
}

func equalInt64s(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
