package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindMissingArgs(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewFindCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestFindRequiresStore(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewFindCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"deadbeef"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--store is required")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestFindNoMatches(t *testing.T) {
	tmpDir := t.TempDir()
	scenarioPath := writeScenario(t, tmpDir, "pinned.yaml", pinnedScenario)
	storeDir := filepath.Join(tmpDir, "store")
	seedStore(t, storeDir, scenarioPath)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewFindCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"deadbeef", "--store", storeDir})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "No runs found for config hash: deadbeef")
}

// TestFindReproductionHistory persists the same experiment design twice
// and checks both runs resolve through one config hash.
func TestFindReproductionHistory(t *testing.T) {
	tmpDir := t.TempDir()
	scenarioPath := writeScenario(t, tmpDir, "pinned.yaml", pinnedScenario)
	storeDir := filepath.Join(tmpDir, "store")
	first := seedStore(t, storeDir, scenarioPath)
	second := seedStore(t, storeDir, scenarioPath)
	require.NotEqual(t, first, second)

	// Pull the config hash off the first run.
	showBuf := &bytes.Buffer{}
	showCmd := NewShowCommand(&RootOptions{Format: "json"})
	showCmd.SetOut(showBuf)
	showCmd.SetErr(&bytes.Buffer{})
	showCmd.SetArgs([]string{first, "--store", storeDir})
	require.NoError(t, showCmd.Execute())

	var showResp struct {
		Data struct {
			Result struct {
				Metadata struct {
					ConfigHash string `json:"config_hash"`
				} `json:"metadata"`
			} `json:"result"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(showBuf.Bytes(), &showResp))
	configHash := showResp.Data.Result.Metadata.ConfigHash
	require.NotEmpty(t, configHash)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "json"}
	cmd := NewFindCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{configHash, "--store", storeDir})

	err := cmd.Execute()
	require.NoError(t, err)

	var resp struct {
		Status string    `json:"status"`
		Data   []RunView `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data, 2)

	ids := []string{resp.Data[0].RunID, resp.Data[1].RunID}
	assert.ElementsMatch(t, []string{first, second}, ids)
	// Same design, same accounting: final values must line up.
	assert.Equal(t, resp.Data[0].FinalValue, resp.Data[1].FinalValue)
	assert.Equal(t, resp.Data[0].ConfigHash, resp.Data[1].ConfigHash)
}

func TestFindTextOutput(t *testing.T) {
	tmpDir := t.TempDir()
	scenarioPath := writeScenario(t, tmpDir, "pinned.yaml", pinnedScenario)
	storeDir := filepath.Join(tmpDir, "store")
	runID := seedStore(t, storeDir, scenarioPath)

	showBuf := &bytes.Buffer{}
	showCmd := NewShowCommand(&RootOptions{Format: "json"})
	showCmd.SetOut(showBuf)
	showCmd.SetErr(&bytes.Buffer{})
	showCmd.SetArgs([]string{runID, "--store", storeDir})
	require.NoError(t, showCmd.Execute())

	var showResp struct {
		Data struct {
			Result struct {
				Metadata struct {
					ConfigHash string `json:"config_hash"`
				} `json:"metadata"`
			} `json:"result"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(showBuf.Bytes(), &showResp))

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewFindCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{showResp.Data.Result.Metadata.ConfigHash, "--store", storeDir})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "Config Hash: ")
	assert.Contains(t, output, "1 run(s)")
	assert.Contains(t, output, runID)
	assert.Contains(t, output, "final=51700")
}
