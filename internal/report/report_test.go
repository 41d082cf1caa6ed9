package report

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockstephq/lockstep/internal/contract"
	"github.com/lockstephq/lockstep/internal/parity"
	"github.com/lockstephq/lockstep/internal/testutil"
)

var testEngines = []string{"ledger@1.4.0", "vector@0.9.2"}

func testPolicy() parity.Policy {
	return parity.Policy{Name: "default", Version: 3}
}

func verdict(equivalent bool, confidence string) *parity.Verdict {
	return &parity.Verdict{
		Equivalent:    equivalent,
		Confidence:    confidence,
		PolicyName:    "default",
		PolicyVersion: 3,
	}
}

func TestBuild_CountsAndOrder(t *testing.T) {
	items := []Item{
		{Scenario: "c-divergent", Verdict: verdict(false, parity.ConfidenceHigh)},
		{Scenario: "a-clean", Verdict: verdict(true, parity.ConfidenceHigh)},
		{Scenario: "b-broken", Err: errors.New("boom")},
		{Scenario: "d-thin", Verdict: verdict(true, parity.ConfidenceLow)},
	}

	r := Build(testPolicy(), testEngines, items, testutil.FrozenClock().Now())

	names := make([]string, len(r.Entries))
	for i, e := range r.Entries {
		names[i] = e.Scenario
	}
	assert.Equal(t, []string{"a-clean", "b-broken", "c-divergent", "d-thin"}, names)

	assert.Equal(t, Summary{
		Scenarios:     4,
		Equivalent:    2,
		Divergent:     1,
		LowConfidence: 1,
		Errors:        1,
	}, r.Summary)
	assert.True(t, r.Failed())

	assert.Equal(t, "boom", r.Entries[1].Error)
	assert.Nil(t, r.Entries[1].Verdict)
}

func TestBuild_CleanSweepDoesNotFail(t *testing.T) {
	items := []Item{
		{Scenario: "a", Verdict: verdict(true, parity.ConfidenceHigh)},
		{Scenario: "b", Verdict: verdict(true, parity.ConfidenceLow)},
	}
	r := Build(testPolicy(), testEngines, items, testutil.FrozenClock().Now())

	// Low confidence alone is a review signal, not a failure.
	assert.False(t, r.Failed())
	assert.Equal(t, 1, r.Summary.LowConfidence)
}

func TestBuild_MissingVerdictBecomesError(t *testing.T) {
	r := Build(testPolicy(), testEngines, []Item{{Scenario: "empty"}}, testutil.FrozenClock().Now())
	require.Len(t, r.Entries, 1)
	assert.Equal(t, "no verdict produced", r.Entries[0].Error)
	assert.Equal(t, 1, r.Summary.Errors)
}

// sweepFixture is a small sweep with every entry shape: a full verdict
// with hard and distribution gates, and a scenario that errored.
func sweepFixture() *Report {
	full := &parity.Verdict{
		Equivalent:    true,
		Confidence:    parity.ConfidenceHigh,
		PolicyName:    "default",
		PolicyVersion: 3,
		Left: parity.RunSummary{
			RunID:             "run-0001",
			Engine:            "ledger@1.4.0",
			AdapterMode:       contract.ModeNative,
			ValuationFidelity: contract.FidelityClose,
			ConfigHash:        "aaaa1111",
		},
		Right: parity.RunSummary{
			RunID:             "run-0002",
			Engine:            "vector@0.9.2",
			AdapterMode:       contract.ModeFallback,
			ValuationFidelity: contract.FidelityCloseApprox,
			ConfigHash:        "aaaa1111",
		},
		CrossFidelity: true,
		Gates: []parity.GateResult{
			{Name: "hard:series_length", Kind: parity.GateHard, Passed: true, Observed: 0},
			{
				Name:           "distribution",
				Kind:           parity.GateDistribution,
				Passed:         true,
				Observed:       0,
				Threshold:      0.001,
				Samples:        120,
				WithinFraction: 1,
			},
		},
	}

	items := []Item{
		{Scenario: "vol-target-chop", Err: errors.New("vector: strategy vol_target is not supported")},
		{Scenario: "pinned-week", Verdict: full},
	}
	return Build(testPolicy(), testEngines, items, testutil.FrozenClock().Now())
}

func TestMarshal_Golden(t *testing.T) {
	payload, err := sweepFixture().Marshal()
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "parity_sweep", payload)
}

func TestMarshal_Deterministic(t *testing.T) {
	a, err := sweepFixture().Marshal()
	require.NoError(t, err)
	b, err := sweepFixture().Marshal()
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestWrite_RoundTrip(t *testing.T) {
	r := sweepFixture()
	path := filepath.Join(t.TempDir(), "artifacts", "parity.json")
	require.NoError(t, r.Write(path))

	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	expected, err := r.Marshal()
	require.NoError(t, err)
	assert.Equal(t, expected, onDisk)

	// The canonical artifact is plain JSON and reads back losslessly.
	var back Report
	require.NoError(t, json.Unmarshal(onDisk, &back))
	assert.Equal(t, SchemaVersion, back.SchemaVersion)
	assert.Equal(t, r.Summary, back.Summary)
	require.Len(t, back.Entries, 2)
	assert.Equal(t, "pinned-week", back.Entries[0].Scenario)
	require.NotNil(t, back.Entries[0].Verdict)
	assert.True(t, back.Entries[0].Verdict.CrossFidelity)
	assert.Equal(t, contract.ModeFallback, back.Entries[0].Verdict.Right.AdapterMode)
	assert.Equal(t, "vector: strategy vol_target is not supported", back.Entries[1].Error)
}
