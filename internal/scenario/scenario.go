// Package scenario loads golden-scenario definitions: fixed
// (strategy, dataset, parameter) triples used as stable regression
// references for engine parity. Scenarios are YAML files decoded
// strictly, so a typo in a field name is a load error, not a silently
// ignored setting. The dataset is either inline bars or a deterministic
// synthetic walk, so a scenario file pins its inputs completely.
package scenario

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/lockstephq/lockstep/internal/contract"
)

// Scenario is one golden scenario. BuildRequest materializes it into a
// contract request; the same file always materializes the same request.
type Scenario struct {
	// Name uniquely identifies the scenario. It keys report entries and
	// golden files, so it is restricted to filename-safe characters.
	Name string `yaml:"name"`

	// Description explains what the scenario pins down.
	Description string `yaml:"description"`

	// Strategy is the strategy family under test.
	Strategy string `yaml:"strategy"`

	// Symbols is the ordered instrument set.
	Symbols []string `yaml:"symbols"`

	// Start and End bound the request window, as 2006-01-02 dates or
	// RFC 3339 timestamps. When omitted, the window spans the dataset.
	Start string `yaml:"start,omitempty"`
	End   string `yaml:"end,omitempty"`

	// InitialCash is the starting portfolio value, a decimal string.
	InitialCash string `yaml:"initial_cash"`

	// Params are the strategy parameters, scalars only.
	Params map[string]any `yaml:"params,omitempty"`

	// Seed optionally fixes the run seed. The synthetic generator also
	// folds it into each symbol's walk.
	Seed *int64 `yaml:"seed,omitempty"`

	// Series defines the dataset.
	Series SeriesSpec `yaml:"series"`
}

// SeriesSpec defines a scenario dataset: exactly one of Inline or
// Synthetic.
type SeriesSpec struct {
	// Inline lists explicit per-symbol bars.
	Inline map[string][]BarSpec `yaml:"inline,omitempty"`

	// Synthetic generates the dataset deterministically.
	Synthetic *SyntheticSpec `yaml:"synthetic,omitempty"`
}

// BarSpec is one inline session bar.
type BarSpec struct {
	Time  string `yaml:"time"`
	Close string `yaml:"close"`
}

// Load reads and strictly decodes one scenario file. Unknown fields,
// malformed YAML, and missing required fields are load errors.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}

	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // reject unknown fields: typos must not pass silently
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &s, nil
}

// validate checks the fields that must be present and well-formed
// before materialization. Dataset-level problems (bad bar values,
// misaligned calendars) surface from BuildRequest.
func (s *Scenario) validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	for _, c := range s.Name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_':
		default:
			return fmt.Errorf("name %q may only contain letters, digits, '-' and '_'", s.Name)
		}
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Strategy == "" {
		return fmt.Errorf("strategy is required")
	}
	if len(s.Symbols) == 0 {
		return fmt.Errorf("symbols list is required and must be non-empty")
	}
	if s.InitialCash == "" {
		return fmt.Errorf("initial_cash is required")
	}
	if _, err := decimal.NewFromString(s.InitialCash); err != nil {
		return fmt.Errorf("initial_cash %q is not a decimal amount", s.InitialCash)
	}

	if s.Start != "" {
		if _, err := parseTime("start", s.Start); err != nil {
			return err
		}
	}
	if s.End != "" {
		if _, err := parseTime("end", s.End); err != nil {
			return err
		}
	}

	hasInline := len(s.Series.Inline) > 0
	hasSynthetic := s.Series.Synthetic != nil
	switch {
	case !hasInline && !hasSynthetic:
		return fmt.Errorf("series requires either inline bars or a synthetic block")
	case hasInline && hasSynthetic:
		return fmt.Errorf("series must not mix inline bars with a synthetic block")
	}
	if hasSynthetic {
		if err := s.Series.Synthetic.validate(); err != nil {
			return err
		}
	}
	return nil
}

// BuildRequest materializes the scenario into a run request and
// validates it against the contract. Materialization is deterministic:
// the same scenario file always yields the same request.
func (s *Scenario) BuildRequest() (*contract.RunRequest, error) {
	series, err := s.materialize()
	if err != nil {
		return nil, err
	}

	start, end, err := s.window(series)
	if err != nil {
		return nil, err
	}

	cash, err := decimal.NewFromString(s.InitialCash)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: initial_cash: %w", s.Name, err)
	}

	params := make(map[string]any, len(s.Params))
	for k, v := range s.Params {
		params[k] = v
	}

	req := &contract.RunRequest{
		Strategy:    s.Strategy,
		Symbols:     append([]string(nil), s.Symbols...),
		Series:      series,
		Start:       start,
		End:         end,
		InitialCash: cash,
		Params:      params,
		Seed:        s.Seed,
	}
	if err := contract.Validate(req); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}
	return req, nil
}

// materialize resolves the dataset: inline bars parsed, or the
// synthetic walk generated per symbol.
func (s *Scenario) materialize() (contract.Series, error) {
	if s.Series.Synthetic != nil {
		series, err := s.Series.Synthetic.generate(s.Symbols, seedBase(s.Seed))
		if err != nil {
			return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
		}
		return series, nil
	}

	series := make(contract.Series, len(s.Series.Inline))
	for sym, specs := range s.Series.Inline {
		bars := make([]contract.Bar, len(specs))
		for i, b := range specs {
			ts, err := parseTime(fmt.Sprintf("series.inline.%s[%d].time", sym, i), b.Time)
			if err != nil {
				return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
			}
			close, err := decimal.NewFromString(b.Close)
			if err != nil {
				return nil, fmt.Errorf("scenario %s: series.inline.%s[%d].close %q is not a decimal",
					s.Name, sym, i, b.Close)
			}
			bars[i] = contract.Bar{Time: ts, Close: close}
		}
		series[sym] = bars
	}
	return series, nil
}

// window resolves the request window: explicit scenario bounds, or the
// dataset's first and last session.
func (s *Scenario) window(series contract.Series) (time.Time, time.Time, error) {
	var start, end time.Time
	var err error

	if s.Start != "" {
		if start, err = parseTime("start", s.Start); err != nil {
			return start, end, fmt.Errorf("scenario %s: %w", s.Name, err)
		}
	}
	if s.End != "" {
		if end, err = parseTime("end", s.End); err != nil {
			return start, end, fmt.Errorf("scenario %s: %w", s.Name, err)
		}
	}
	if !start.IsZero() && !end.IsZero() {
		return start, end, nil
	}

	first, last := seriesBounds(series)
	if start.IsZero() {
		start = first
	}
	if end.IsZero() {
		end = last
	}
	return start, end, nil
}

func seriesBounds(series contract.Series) (first, last time.Time) {
	for _, bars := range series {
		if len(bars) == 0 {
			continue
		}
		if first.IsZero() || bars[0].Time.Before(first) {
			first = bars[0].Time
		}
		if tail := bars[len(bars)-1].Time; tail.After(last) {
			last = tail
		}
	}
	return first, last
}

// parseTime accepts plain dates and RFC 3339 timestamps, always UTC.
func parseTime(field, value string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%s %q is not a 2006-01-02 date or RFC 3339 timestamp", field, value)
}

// LoadSuite loads every scenario file (*.yaml, *.yml) directly under
// dir, sorted by name. Duplicate scenario names across files are an
// error: names key report entries.
func LoadSuite(dir string) ([]*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read scenario directory: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ext := filepath.Ext(e.Name()); ext == ".yaml" || ext == ".yml" {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no scenario files (*.yaml) in %s", dir)
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	seen := make(map[string]string, len(paths))
	for _, path := range paths {
		s, err := Load(path)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[s.Name]; dup {
			return nil, fmt.Errorf("scenario name %q appears in both %s and %s", s.Name, prev, path)
		}
		seen[s.Name] = path
		scenarios = append(scenarios, s)
	}

	sort.Slice(scenarios, func(i, j int) bool { return scenarios[i].Name < scenarios[j].Name })
	return scenarios, nil
}
