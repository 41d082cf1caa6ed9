package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/lockstephq/lockstep/internal/contract"
	"github.com/lockstephq/lockstep/internal/engine"
	"github.com/lockstephq/lockstep/internal/registry"
	"github.com/lockstephq/lockstep/internal/runner"
	"github.com/lockstephq/lockstep/internal/scenario"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	StoreOptions
	Engine string
	Save   bool
}

// RunView is the run summary payload shared by run, show, and find.
type RunView struct {
	RunID             string           `json:"run_id"`
	Engine            string           `json:"engine"`
	AdapterMode       string           `json:"adapter_mode"`
	ValuationFidelity string           `json:"valuation_fidelity,omitempty"`
	ConfigHash        string           `json:"config_hash"`
	Seed              int64            `json:"seed"`
	SnapshotID        string           `json:"snapshot_id,omitempty"`
	Sessions          int              `json:"sessions"`
	FinalValue        string           `json:"final_value"`
	CostTotal         string           `json:"cost_total"`
	Metrics           contract.Metrics `json:"metrics"`
	Warnings          []string         `json:"warnings,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario-file>",
		Short: "Run one scenario through one engine",
		Long: `Run a golden scenario file through a single engine adapter.

Builds the run request from the scenario, materializing synthetic series
deterministically, executes it, and prints the run summary. With --save
the experiment record is persisted to the store and the input dataset is
frozen into the snapshot registry.

Exit codes:
  0 - Run completed
  1 - Run failed (validation error, scope violation)
  2 - Command error (invalid paths, store errors)

Examples:
  lockstep run testdata/scenarios/trend_follow.yaml
  lockstep run testdata/scenarios/trend_follow.yaml --engine vector
  lockstep run testdata/scenarios/trend_follow.yaml --save --store ./experiments
  lockstep run testdata/scenarios/trend_follow.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSingle(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Engine, "engine", "ledger", "engine adapter (ledger|vector)")
	cmd.Flags().BoolVar(&opts.Save, "save", false, "persist the experiment record to the store")
	addStoreFlags(cmd, &opts.StoreOptions)

	return cmd
}

func runSingle(opts *RunOptions, scenarioPath string, cmd *cobra.Command) error {
	configureLogging(opts.Verbose)

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if _, err := os.Stat(scenarioPath); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenario file not found: %s", scenarioPath))
	}

	sc, err := scenario.Load(scenarioPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}
	req, err := sc.BuildRequest()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build request", err)
	}
	formatter.VerboseLog("Loaded scenario %s (%s, %d symbols)", sc.Name, sc.Strategy, len(req.Symbols))

	engOpts := engine.Options{Logger: slog.Default()}
	var store registry.RecordStore
	if opts.Save {
		store, err = opts.StoreOptions.openRecordStore()
		if err != nil {
			return err
		}
		defer store.Close()

		snaps, err := opts.StoreOptions.openSnapshots()
		if err != nil {
			return err
		}
		engOpts.Snapshots = snaps
		engOpts.AutoSnapshot = true
	}

	adapter, err := newAdapter(opts.Engine, engOpts)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to select engine", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	// The runner handles record assembly and saving even for a single
	// request, so run and batch persist identically.
	r := runner.New(adapter, runner.Options{Workers: 1, Store: store, Logger: slog.Default()})
	outcomes, runErr := r.Run(ctx, []*contract.RunRequest{req})
	if runErr != nil {
		return WrapExitError(ExitFailure, "run cancelled", runErr)
	}
	if outcomes[0].Err != nil {
		_ = formatter.Error(errorCode(outcomes[0].Err), outcomes[0].Err.Error(), nil)
		return WrapExitError(ExitFailure, "run failed", outcomes[0].Err)
	}

	view := runView(&outcomes[0].Record.Result)
	if opts.Save {
		formatter.VerboseLog("Saved run %s to %s", view.RunID, opts.StoreOptions.Store)
	}

	if opts.Format == "json" {
		return outputRunJSON(cmd, view)
	}
	return outputRunText(cmd, view)
}

// runView summarizes a result for display.
func runView(res *contract.RunResult) RunView {
	meta := res.Metadata
	return RunView{
		RunID:             meta.RunID,
		Engine:            meta.EngineID + "@" + meta.EngineVersion,
		AdapterMode:       string(meta.AdapterMode),
		ValuationFidelity: meta.ValuationFidelity,
		ConfigHash:        meta.ConfigHash,
		Seed:              meta.Seed,
		SnapshotID:        meta.SnapshotID,
		Sessions:          len(res.Series),
		FinalValue:        res.FinalValue.String(),
		CostTotal:         costTotal(res).String(),
		Metrics:           res.Metrics,
		Warnings:          meta.Warnings,
	}
}

// costTotal sums the cost ledger.
func costTotal(res *contract.RunResult) decimal.Decimal {
	total := decimal.Zero
	for _, c := range res.Costs {
		total = total.Add(c.Amount)
	}
	return total
}

// outputRunJSON wraps the run view in the standard envelope.
func outputRunJSON(cmd *cobra.Command, view RunView) error {
	response := CLIResponse{
		Status: "ok",
		Data:   view,
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

// outputRunText prints a run summary as text.
func outputRunText(cmd *cobra.Command, view RunView) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Run: %s\n", view.RunID)
	fmt.Fprintf(w, "Engine: %s (%s", view.Engine, view.AdapterMode)
	if view.ValuationFidelity != "" {
		fmt.Fprintf(w, ", %s", view.ValuationFidelity)
	}
	fmt.Fprintln(w, ")")
	fmt.Fprintf(w, "Config Hash: %s\n", view.ConfigHash)
	fmt.Fprintf(w, "Seed: %d\n", view.Seed)
	if view.SnapshotID != "" {
		fmt.Fprintf(w, "Snapshot: %s\n", view.SnapshotID)
	}
	fmt.Fprintf(w, "Sessions: %d\n", view.Sessions)
	fmt.Fprintf(w, "Final Value: %s\n", view.FinalValue)
	fmt.Fprintf(w, "Cost Total: %s\n", view.CostTotal)
	fmt.Fprintf(w, "Metrics: cagr=%.6f sharpe=%.4f max_drawdown=%.6f trades=%d rebalances=%d\n",
		view.Metrics.CAGR, view.Metrics.Sharpe, view.Metrics.MaxDrawdown,
		view.Metrics.Trades, view.Metrics.Rebalances)
	for _, warning := range view.Warnings {
		fmt.Fprintf(w, "Warning: %s\n", warning)
	}
	return nil
}
