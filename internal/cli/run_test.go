package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunMissingArgs(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewRunCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestRunNonExistentScenario(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewRunCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{filepath.Join(t.TempDir(), "absent.yaml")})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scenario file not found")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunMalformedScenario(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "bad.yaml", "name: [not, a, string]\n")

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewRunCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{path})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load scenario")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunUnknownEngine(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "pinned.yaml", pinnedScenario)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewRunCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{path, "--engine", "abacus"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown engine")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunPinnedScenarioText(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "pinned.yaml", pinnedScenario)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewRunCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{path})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "Run: ")
	assert.Contains(t, output, "Engine: ledger@1.4.0 (native, close)")
	assert.Contains(t, output, "Config Hash: ")
	assert.Contains(t, output, "Sessions: 5")
	assert.Contains(t, output, "Final Value: 51700")
	assert.Contains(t, output, "Cost Total: 0")
	assert.Contains(t, output, "trades=1 rebalances=1")
}

func TestRunPinnedScenarioJSON(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "pinned.yaml", pinnedScenario)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "json"}
	cmd := NewRunCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{path, "--engine", "vector"})

	err := cmd.Execute()
	require.NoError(t, err)

	var resp struct {
		Status string  `json:"status"`
		Data   RunView `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotEmpty(t, resp.Data.RunID)
	assert.Equal(t, "vector@0.9.2", resp.Data.Engine)
	assert.Equal(t, "native", resp.Data.AdapterMode)
	assert.Equal(t, "close", resp.Data.ValuationFidelity)
	assert.Equal(t, 5, resp.Data.Sessions)
	assert.Equal(t, "51700", resp.Data.FinalValue)
	assert.Equal(t, 1, resp.Data.Metrics.Trades)
	assert.Empty(t, resp.Data.SnapshotID)
}

func TestRunOutOfScopeStrategy(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "vol.yaml", volScenario)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewRunCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{path, "--engine", "vector"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), "Error [E102]")
	assert.Contains(t, err.Error(), "run failed")
}

func TestRunSaveRequiresStore(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "pinned.yaml", pinnedScenario)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewRunCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{path, "--save"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--store is required")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunSavePersistsRecordAndSnapshot(t *testing.T) {
	tmpDir := t.TempDir()
	path := writeScenario(t, tmpDir, "pinned.yaml", pinnedScenario)
	storeDir := filepath.Join(tmpDir, "store")

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "json"}
	cmd := NewRunCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{path, "--save", "--store", storeDir})

	err := cmd.Execute()
	require.NoError(t, err)

	var resp struct {
		Status string  `json:"status"`
		Data   RunView `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.NotEmpty(t, resp.Data.RunID)
	assert.Len(t, resp.Data.SnapshotID, 64)

	records, err := filepath.Glob(filepath.Join(storeDir, "runs", "*", "*", "*.json"))
	require.NoError(t, err)
	assert.Len(t, records, 1)

	snapshots, err := filepath.Glob(filepath.Join(storeDir, "snapshots", "*.json"))
	require.NoError(t, err)
	assert.Len(t, snapshots, 1)
}
