package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// pinnedScenario holds a week of hand-pinned closes with every cost
// rate zeroed, so both engines produce byte-identical six-decimal
// series and the scenario is equivalent under any sane policy.
const pinnedScenario = `
name: pinned-week
description: "One week of pinned closes, costs zeroed"
strategy: buy_hold
symbols: [ALPHA]
initial_cash: "50000"
params:
  commission_bps: 0
  commission_min: 0
  spread_bps: 0
  slippage_bps: 0
series:
  inline:
    ALPHA:
      - {time: 2024-01-01, close: "100.00"}
      - {time: 2024-01-02, close: "101.25"}
      - {time: 2024-01-03, close: "100.75"}
      - {time: 2024-01-04, close: "102.10"}
      - {time: 2024-01-05, close: "103.40"}
`

// volScenario requests vol_target, which only the reference engine
// supports. Running it through vector is a scope violation.
const volScenario = `
name: vol-scaled
description: "Vol-targeted basket, reference engine only"
strategy: vol_target
symbols: [ALPHA]
initial_cash: "50000"
params:
  target_vol: 0.10
  lookback: 2
series:
  inline:
    ALPHA:
      - {time: 2024-01-01, close: "100.00"}
      - {time: 2024-01-02, close: "101.25"}
      - {time: 2024-01-03, close: "100.75"}
      - {time: 2024-01-04, close: "102.10"}
      - {time: 2024-01-05, close: "103.40"}
`

func writeScenario(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// seedStore persists one pinned run into storeDir via the run command
// and returns its run id.
func seedStore(t *testing.T, storeDir, scenarioPath string) string {
	t.Helper()

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "json"}
	cmd := NewRunCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{scenarioPath, "--save", "--store", storeDir})
	require.NoError(t, cmd.Execute())

	var resp struct {
		Status string  `json:"status"`
		Data   RunView `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	require.Equal(t, "ok", resp.Status)
	require.NotEmpty(t, resp.Data.RunID)
	return resp.Data.RunID
}
