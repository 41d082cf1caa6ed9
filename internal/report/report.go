// Package report assembles the audit artifact for a parity sweep: one
// document recording the engine pair, the policy, every scenario's
// verdict, and roll-up counts. The artifact serializes through the
// canonical encoder, so the same sweep always produces byte-identical
// files and an artifact can be content-addressed or diffed directly.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/lockstephq/lockstep/internal/canonical"
	"github.com/lockstephq/lockstep/internal/parity"
)

// SchemaVersion identifies the artifact layout. Readers reject versions
// they do not know.
const SchemaVersion = 1

// Item is one scenario outcome handed to Build: either a verdict or
// the error that prevented one.
type Item struct {
	Scenario string
	Verdict  *parity.Verdict
	Err      error
}

// Entry is one scenario's slot in the artifact.
type Entry struct {
	Scenario string          `json:"scenario"`
	Verdict  *parity.Verdict `json:"verdict,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Summary holds the roll-up counts. Equivalent, Divergent and Errors
// partition the scenarios; LowConfidence overlaps the first two,
// counting verdicts that passed or failed without safety margin.
type Summary struct {
	Scenarios     int `json:"scenarios"`
	Equivalent    int `json:"equivalent"`
	Divergent     int `json:"divergent"`
	LowConfidence int `json:"low_confidence"`
	Errors        int `json:"errors"`
}

// Report is the parity sweep artifact.
type Report struct {
	SchemaVersion int       `json:"schema_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	PolicyName    string    `json:"policy_name"`
	PolicyVersion int       `json:"policy_version"`
	Engines       []string  `json:"engines"`
	Entries       []Entry   `json:"scenarios"`
	Summary       Summary   `json:"summary"`
}

// Build assembles an artifact from per-scenario outcomes. Entries are
// sorted by scenario name so the artifact does not depend on sweep
// order. generatedAt comes from the caller's clock.
func Build(policy parity.Policy, engines []string, items []Item, generatedAt time.Time) *Report {
	r := &Report{
		SchemaVersion: SchemaVersion,
		GeneratedAt:   generatedAt.UTC(),
		PolicyName:    policy.Name,
		PolicyVersion: policy.Version,
		Engines:       append([]string(nil), engines...),
		Entries:       make([]Entry, 0, len(items)),
	}

	for _, item := range items {
		e := Entry{Scenario: item.Scenario}
		switch {
		case item.Err != nil:
			e.Error = item.Err.Error()
			r.Summary.Errors++
		case item.Verdict != nil:
			e.Verdict = item.Verdict
			if item.Verdict.Equivalent {
				r.Summary.Equivalent++
			} else {
				r.Summary.Divergent++
			}
			if item.Verdict.Confidence == parity.ConfidenceLow {
				r.Summary.LowConfidence++
			}
		default:
			e.Error = "no verdict produced"
			r.Summary.Errors++
		}
		r.Entries = append(r.Entries, e)
	}

	sort.SliceStable(r.Entries, func(i, j int) bool {
		return r.Entries[i].Scenario < r.Entries[j].Scenario
	})
	r.Summary.Scenarios = len(r.Entries)
	return r
}

// Failed reports whether the sweep found real trouble: any divergent
// verdict or any scenario that errored. Low confidence alone does not
// fail a sweep.
func (r *Report) Failed() bool {
	return r.Summary.Divergent > 0 || r.Summary.Errors > 0
}

// Marshal renders the canonical artifact bytes, newline-terminated.
func (r *Report) Marshal() ([]byte, error) {
	payload, err := canonical.Marshal(r.canonicalMap())
	if err != nil {
		return nil, fmt.Errorf("report: marshal: %w", err)
	}
	return append(payload, '\n'), nil
}

// Write renders the artifact and writes it atomically: temp file in the
// destination directory, then rename.
func (r *Report) Write(path string) error {
	payload, err := r.Marshal()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("report: create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".report-*.tmp")
	if err != nil {
		return fmt.Errorf("report: create temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("report: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("report: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("report: rename: %w", err)
	}
	return nil
}

// canonicalMap converts the report to the plain maps the canonical
// encoder accepts. Named string types are widened and empty optionals
// dropped, mirroring the omitempty JSON tags.
func (r *Report) canonicalMap() map[string]any {
	entries := make([]any, len(r.Entries))
	for i, e := range r.Entries {
		m := map[string]any{"scenario": e.Scenario}
		if e.Verdict != nil {
			m["verdict"] = verdictMap(e.Verdict)
		}
		if e.Error != "" {
			m["error"] = e.Error
		}
		entries[i] = m
	}

	engines := make([]any, len(r.Engines))
	for i, e := range r.Engines {
		engines[i] = e
	}

	return map[string]any{
		"schema_version": r.SchemaVersion,
		"generated_at":   r.GeneratedAt,
		"policy_name":    r.PolicyName,
		"policy_version": r.PolicyVersion,
		"engines":        engines,
		"scenarios":      entries,
		"summary": map[string]any{
			"scenarios":      r.Summary.Scenarios,
			"equivalent":     r.Summary.Equivalent,
			"divergent":      r.Summary.Divergent,
			"low_confidence": r.Summary.LowConfidence,
			"errors":         r.Summary.Errors,
		},
	}
}

func verdictMap(v *parity.Verdict) map[string]any {
	gates := make([]any, len(v.Gates))
	for i, g := range v.Gates {
		gates[i] = gateMap(g)
	}
	return map[string]any{
		"equivalent":     v.Equivalent,
		"confidence":     v.Confidence,
		"policy_name":    v.PolicyName,
		"policy_version": v.PolicyVersion,
		"left":           sideMap(v.Left),
		"right":          sideMap(v.Right),
		"cross_fidelity": v.CrossFidelity,
		"gates":          gates,
	}
}

func sideMap(s parity.RunSummary) map[string]any {
	return map[string]any{
		"run_id":             s.RunID,
		"engine":             s.Engine,
		"adapter_mode":       string(s.AdapterMode),
		"valuation_fidelity": s.ValuationFidelity,
		"config_hash":        s.ConfigHash,
	}
}

func gateMap(g parity.GateResult) map[string]any {
	m := map[string]any{
		"name":     g.Name,
		"kind":     g.Kind,
		"passed":   g.Passed,
		"observed": g.Observed,
	}
	if g.Threshold != 0 {
		m["threshold"] = g.Threshold
	}
	if g.Detail != "" {
		m["detail"] = g.Detail
	}
	if g.Samples != 0 {
		m["samples"] = g.Samples
	}
	if g.WithinFraction != 0 {
		m["within_fraction"] = g.WithinFraction
	}
	if g.Outliers != 0 {
		m["outliers"] = g.Outliers
	}
	if len(g.Excused) > 0 {
		excused := make(map[string]any, len(g.Excused))
		for k, n := range g.Excused {
			excused[k] = n
		}
		m["excused"] = excused
	}
	return m
}
