package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockstephq/lockstep/internal/report"
)

// structuralPolicy keeps only the hard structural gates and waives the
// sample minimum, so a short pinned scenario can reach high confidence.
const structuralPolicy = `
version:       1
name:          "structural-only"
safety_buffer: 0.0
min_samples:   0

gates: [
	{kind: "hard", metric: "series_length"},
	{kind: "hard", metric: "window"},
	{kind: "hard", metric: "metrics_present"},
]
`

func TestVerifyMissingArgs(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewVerifyCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestVerifyNonExistentScenariosDir(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewVerifyCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"/nonexistent/scenarios"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scenarios directory not found")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestVerifyEmptyScenariosDir(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewVerifyCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{t.TempDir()})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "No scenarios found")
}

func TestVerifyEmptyScenariosDirJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "json"}
	cmd := NewVerifyCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{t.TempDir()})

	err := cmd.Execute()
	require.NoError(t, err)

	var resp struct {
		Status string        `json:"status"`
		Data   report.Report `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 0, resp.Data.Summary.Scenarios)
	assert.Equal(t, []string{"ledger@1.4.0", "vector@0.9.2"}, resp.Data.Engines)
}

func TestVerifyIdenticalEngines(t *testing.T) {
	scenariosDir := t.TempDir()
	writeScenario(t, scenariosDir, "pinned.yaml", pinnedScenario)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewVerifyCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{scenariosDir, "--left", "ledger", "--right", "ledger"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "left and right engines must differ")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestVerifyEquivalentSweep(t *testing.T) {
	scenariosDir := t.TempDir()
	writeScenario(t, scenariosDir, "pinned.yaml", pinnedScenario)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewVerifyCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{scenariosDir})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "✓ pinned-week")
	assert.Contains(t, output, "Parity Summary: 1 equivalent, 0 divergent, 0 errors, 1 total")
	assert.Contains(t, output, "✓ All scenarios equivalent")
}

func TestVerifyScopeViolationCountsAsError(t *testing.T) {
	scenariosDir := t.TempDir()
	writeScenario(t, scenariosDir, "pinned.yaml", pinnedScenario)
	writeScenario(t, scenariosDir, "vol.yaml", volScenario)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewVerifyCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{scenariosDir})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	output := buf.String()
	assert.Contains(t, output, "✓ pinned-week")
	assert.Contains(t, output, "✗ vol-scaled")
	assert.Contains(t, output, "Error: vector:")
	assert.Contains(t, output, "Parity Summary: 1 equivalent, 0 divergent, 1 errors, 2 total")
}

func TestVerifyJSONSweep(t *testing.T) {
	scenariosDir := t.TempDir()
	writeScenario(t, scenariosDir, "pinned.yaml", pinnedScenario)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "json"}
	cmd := NewVerifyCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{scenariosDir})

	err := cmd.Execute()
	require.NoError(t, err)

	var resp struct {
		Status string        `json:"status"`
		Data   report.Report `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "default", resp.Data.PolicyName)
	require.Len(t, resp.Data.Entries, 1)
	entry := resp.Data.Entries[0]
	assert.Equal(t, "pinned-week", entry.Scenario)
	require.NotNil(t, entry.Verdict)
	assert.True(t, entry.Verdict.Equivalent)
	// Five sessions cannot clear the default sample minimum.
	assert.Equal(t, "low", entry.Verdict.Confidence)
}

func TestVerifyWritesReportArtifact(t *testing.T) {
	tmpDir := t.TempDir()
	scenariosDir := filepath.Join(tmpDir, "scenarios")
	require.NoError(t, os.MkdirAll(scenariosDir, 0755))
	writeScenario(t, scenariosDir, "pinned.yaml", pinnedScenario)
	reportPath := filepath.Join(tmpDir, "parity.json")

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewVerifyCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{scenariosDir, "--report", reportPath})

	err := cmd.Execute()
	require.NoError(t, err)

	payload, err := os.ReadFile(reportPath)
	require.NoError(t, err)

	var artifact map[string]any
	require.NoError(t, json.Unmarshal(payload, &artifact))
	assert.Equal(t, float64(1), artifact["schema_version"])
	assert.Equal(t, "default", artifact["policy_name"])
	assert.Equal(t, []any{"ledger@1.4.0", "vector@0.9.2"}, artifact["engines"])
}

func TestVerifyBadPolicyFile(t *testing.T) {
	tmpDir := t.TempDir()
	scenariosDir := filepath.Join(tmpDir, "scenarios")
	require.NoError(t, os.MkdirAll(scenariosDir, 0755))
	writeScenario(t, scenariosDir, "pinned.yaml", pinnedScenario)
	policyPath := filepath.Join(tmpDir, "broken.cue")
	require.NoError(t, os.WriteFile(policyPath, []byte(`version: "not a number"`), 0644))

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewVerifyCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{scenariosDir, "--policy", policyPath})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load policy")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestVerifyCustomPolicyReachesHighConfidence(t *testing.T) {
	tmpDir := t.TempDir()
	scenariosDir := filepath.Join(tmpDir, "scenarios")
	require.NoError(t, os.MkdirAll(scenariosDir, 0755))
	writeScenario(t, scenariosDir, "pinned.yaml", pinnedScenario)
	policyPath := filepath.Join(tmpDir, "structural.cue")
	require.NoError(t, os.WriteFile(policyPath, []byte(structuralPolicy), 0644))

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewVerifyCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{scenariosDir, "--policy", policyPath})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "✓ pinned-week (confidence high)")
}

func TestVerifyFilter(t *testing.T) {
	scenariosDir := t.TempDir()
	writeScenario(t, scenariosDir, "pinned.yaml", pinnedScenario)
	writeScenario(t, scenariosDir, "vol.yaml", volScenario)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewVerifyCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{scenariosDir, "--filter", "pinned-*"})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Parity Summary: 1 equivalent, 0 divergent, 0 errors, 1 total")
}

func TestVerifyInvalidFilterPattern(t *testing.T) {
	scenariosDir := t.TempDir()
	writeScenario(t, scenariosDir, "pinned.yaml", pinnedScenario)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewVerifyCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{scenariosDir, "--filter", "["})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid filter")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestVerifyHelpText(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewVerifyCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "tolerance policy")
	assert.Contains(t, output, "--left")
	assert.Contains(t, output, "--right")
	assert.Contains(t, output, "--policy")
	assert.Contains(t, output, "--report")
}
