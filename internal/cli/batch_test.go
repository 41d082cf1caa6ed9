package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockstephq/lockstep/internal/batch"
)

func TestBatchMissingArgs(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewBatchCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestBatchNonExistentScenariosDir(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewBatchCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"/nonexistent/scenarios"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scenarios directory not found")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestBatchTrackRequiresStore(t *testing.T) {
	scenariosDir := t.TempDir()
	writeScenario(t, scenariosDir, "pinned.yaml", pinnedScenario)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewBatchCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{scenariosDir, "--track"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--track requires --store")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestBatchEmptyScenariosDir(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewBatchCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{t.TempDir()})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "No scenarios found")
}

func TestBatchCleanSuite(t *testing.T) {
	scenariosDir := t.TempDir()
	writeScenario(t, scenariosDir, "pinned.yaml", pinnedScenario)
	writeScenario(t, scenariosDir, "vol.yaml", volScenario)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewBatchCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{scenariosDir, "--workers", "2"})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "✓ pinned-week")
	assert.Contains(t, output, "✓ vol-scaled")
	assert.Contains(t, output, "Batch Summary: 2 succeeded, 0 failed, 2 total")
	assert.Contains(t, output, "✓ All runs succeeded")
}

func TestBatchPartialFailure(t *testing.T) {
	scenariosDir := t.TempDir()
	writeScenario(t, scenariosDir, "pinned.yaml", pinnedScenario)
	writeScenario(t, scenariosDir, "vol.yaml", volScenario)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewBatchCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{scenariosDir, "--engine", "vector"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "1 run(s) failed")

	output := buf.String()
	assert.Contains(t, output, "✓ pinned-week")
	assert.Contains(t, output, "✗ vol-scaled")
	assert.Contains(t, output, "Batch Summary: 1 succeeded, 1 failed, 2 total")
}

func TestBatchPartialFailureJSON(t *testing.T) {
	scenariosDir := t.TempDir()
	writeScenario(t, scenariosDir, "pinned.yaml", pinnedScenario)
	writeScenario(t, scenariosDir, "vol.yaml", volScenario)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "json"}
	cmd := NewBatchCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{scenariosDir, "--engine", "vector"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string      `json:"status"`
		Data   BatchResult `json:"data"`
		Error  *CLIError   `json:"error"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_BATCH_FAILED", resp.Error.Code)
	assert.Equal(t, 1, resp.Data.Succeeded)
	assert.Equal(t, 1, resp.Data.Failed)
	require.Len(t, resp.Data.Items, 2)
	assert.NotEmpty(t, resp.Data.Items[0].RunID)
	assert.Contains(t, resp.Data.Items[1].Error, "vol_target")
}

func TestBatchPersistsRuns(t *testing.T) {
	tmpDir := t.TempDir()
	scenariosDir := filepath.Join(tmpDir, "scenarios")
	require.NoError(t, os.MkdirAll(scenariosDir, 0755))
	writeScenario(t, scenariosDir, "pinned.yaml", pinnedScenario)
	writeScenario(t, scenariosDir, "vol.yaml", volScenario)
	storeDir := filepath.Join(tmpDir, "store")

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewBatchCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{scenariosDir, "--store", storeDir})

	err := cmd.Execute()
	require.NoError(t, err)

	records, err := filepath.Glob(filepath.Join(storeDir, "runs", "*", "*", "*.json"))
	require.NoError(t, err)
	assert.Len(t, records, 2)

	// Both scenarios share the dataset, so it collapses to one snapshot.
	snapshots, err := filepath.Glob(filepath.Join(storeDir, "snapshots", "*.json"))
	require.NoError(t, err)
	assert.Len(t, snapshots, 1)
}

func TestBatchTrackWritesRecord(t *testing.T) {
	tmpDir := t.TempDir()
	scenariosDir := filepath.Join(tmpDir, "scenarios")
	require.NoError(t, os.MkdirAll(scenariosDir, 0755))
	writeScenario(t, scenariosDir, "pinned.yaml", pinnedScenario)
	writeScenario(t, scenariosDir, "vol.yaml", volScenario)
	storeDir := filepath.Join(tmpDir, "store")

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewBatchCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{scenariosDir, "--store", storeDir, "--track"})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Batch: ")
	assert.Contains(t, buf.String(), "(all_succeeded)")

	files, err := filepath.Glob(filepath.Join(storeDir, "batches", "*.json"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	payload, err := os.ReadFile(files[0])
	require.NoError(t, err)

	var record batch.Record
	require.NoError(t, json.Unmarshal(payload, &record))
	assert.Equal(t, batch.RecordSchemaVersion, record.SchemaVersion)
	assert.Equal(t, batch.StateAllSucceeded, record.State)
	require.Len(t, record.Items, 2)
	for _, item := range record.Items {
		assert.Equal(t, batch.ItemSucceeded, item.State)
		assert.NotEmpty(t, item.RunID)
	}
}

func TestBatchHelpText(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewBatchCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "worker pool")
	assert.Contains(t, output, "--workers")
	assert.Contains(t, output, "--track")
	assert.Contains(t, output, "--engine")
}
