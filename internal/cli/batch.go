package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lockstephq/lockstep/internal/batch"
	"github.com/lockstephq/lockstep/internal/contract"
	"github.com/lockstephq/lockstep/internal/engine"
	"github.com/lockstephq/lockstep/internal/registry"
	"github.com/lockstephq/lockstep/internal/runner"
	"github.com/lockstephq/lockstep/internal/scenario"
)

// BatchOptions holds flags for the batch command.
type BatchOptions struct {
	*RootOptions
	StoreOptions
	Engine  string
	Workers int
	Track   bool
	Filter  string
}

// BatchItemResult is one scenario's outcome within a batch.
type BatchItemResult struct {
	Scenario string `json:"scenario"`
	RunID    string `json:"run_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

// BatchResult holds the overall batch outcome.
type BatchResult struct {
	Items     []BatchItemResult `json:"items"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Total     int               `json:"total"`
	Batch     *batch.Record     `json:"batch,omitempty"`
}

// NewBatchCommand creates the batch command.
func NewBatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "batch <scenarios-dir>",
		Short: "Run a scenario suite through one engine",
		Long: `Run every golden scenario in a directory through one engine with a
bounded worker pool.

Items are independent: one scenario's failure never aborts its siblings,
and there are no automatic retries. With --store each successful run is
persisted and its input dataset frozen into the snapshot registry. With
--track the batch lifecycle is recorded under the store, so a crash
mid-batch leaves an inspectable document. Ctrl-C cancels: in-flight runs
finish, undispatched items fail as cancelled, and the batch still
reaches a terminal state.

Exit codes:
  0 - All runs succeeded
  1 - One or more runs failed
  2 - Command error (invalid paths, store errors)

Examples:
  lockstep batch testdata/scenarios
  lockstep batch testdata/scenarios --engine vector --workers 8
  lockstep batch testdata/scenarios --store ./experiments --track
  lockstep batch testdata/scenarios --filter "trend-*" --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Engine, "engine", "ledger", "engine adapter (ledger|vector)")
	cmd.Flags().IntVar(&opts.Workers, "workers", 4, "worker pool size")
	cmd.Flags().BoolVar(&opts.Track, "track", false, "record the batch lifecycle in the store")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern on name")
	addStoreFlags(cmd, &opts.StoreOptions)

	return cmd
}

func runBatch(opts *BatchOptions, scenariosDir string, cmd *cobra.Command) error {
	configureLogging(opts.Verbose)

	if _, err := os.Stat(scenariosDir); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", scenariosDir))
	}
	if opts.Track && opts.Store == "" {
		return NewExitError(ExitCommandError, "--track requires --store")
	}

	scenarios, err := scenario.LoadSuite(scenariosDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenarios", err)
	}
	scenarios, err = filterScenarios(scenarios, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid filter", err)
	}
	if len(scenarios) == 0 {
		if opts.Format == "json" {
			return outputBatchJSON(cmd, BatchResult{Items: []BatchItemResult{}})
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No scenarios found.")
		return nil
	}

	requests := make([]*contract.RunRequest, len(scenarios))
	for i, sc := range scenarios {
		req, err := sc.BuildRequest()
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to build request for %s", sc.Name), err)
		}
		requests[i] = req
	}

	engOpts := engine.Options{Logger: slog.Default()}
	var store registry.RecordStore
	if opts.Store != "" {
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

	var tracker batch.Tracker = batch.NopTracker{}
	if opts.Track {
		st, err := batch.NewStoreTracker(opts.Store, batch.Options{Logger: slog.Default()})
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open batch tracker", err)
		}
		tracker = st
	}

	// Setup signal handling: cancellation resolves every item before exit.
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, cancelling batch", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	slog.Info("batch starting",
		"engine", engineLabel(adapter), "items", len(requests), "workers", opts.Workers)

	r := runner.New(adapter, runner.Options{
		Workers: opts.Workers,
		Store:   store,
		Tracker: tracker,
		Logger:  slog.Default(),
	})
	outcomes, runErr := r.Run(ctx, requests)
	if runErr != nil && outcomes == nil {
		return WrapExitError(ExitCommandError, "failed to start batch", runErr)
	}

	record, closeErr := tracker.Close()
	if closeErr != nil {
		slog.Warn("batch tracker close failed", "error", closeErr)
	}

	result := buildBatchResult(scenarios, outcomes, record)

	if opts.Format == "json" {
		if err := outputBatchJSON(cmd, result); err != nil {
			return err
		}
	} else if err := outputBatchText(cmd, result); err != nil {
		return err
	}

	if runErr != nil {
		return WrapExitError(ExitFailure, "batch cancelled", runErr)
	}
	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d run(s) failed", result.Failed))
	}
	return nil
}

// buildBatchResult pairs outcomes with their scenario names.
func buildBatchResult(scenarios []*scenario.Scenario, outcomes []runner.Outcome, record *batch.Record) BatchResult {
	result := BatchResult{
		Items: make([]BatchItemResult, len(outcomes)),
		Total: len(outcomes),
		Batch: record,
	}
	for i, out := range outcomes {
		item := BatchItemResult{Scenario: scenarios[i].Name}
		if out.Err != nil {
			item.Error = out.Err.Error()
			result.Failed++
		} else {
			item.RunID = out.Record.RunID
			result.Succeeded++
		}
		result.Items[i] = item
	}
	return result
}

// outputBatchJSON outputs the batch result in the standard envelope.
func outputBatchJSON(cmd *cobra.Command, result BatchResult) error {
	status := "ok"
	if result.Failed > 0 {
		status = "error"
	}

	response := CLIResponse{
		Status: status,
		Data:   result,
	}
	if result.Failed > 0 {
		response.Error = &CLIError{
			Code:    "E_BATCH_FAILED",
			Message: fmt.Sprintf("%d run(s) failed", result.Failed),
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

// outputBatchText outputs the batch result as text.
func outputBatchText(cmd *cobra.Command, result BatchResult) error {
	w := cmd.OutOrStdout()

	for _, item := range result.Items {
		if item.Error != "" {
			fmt.Fprintf(w, "✗ %s\n", item.Scenario)
			fmt.Fprintf(w, "  %s\n", item.Error)
			continue
		}
		fmt.Fprintf(w, "✓ %s (%s)\n", item.Scenario, item.RunID)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Batch Summary: %d succeeded, %d failed, %d total\n",
		result.Succeeded, result.Failed, result.Total)
	if result.Batch != nil {
		fmt.Fprintf(w, "Batch: %s (%s)\n", result.Batch.BatchID, result.Batch.State)
	}
	if result.Failed == 0 {
		fmt.Fprintln(w, "✓ All runs succeeded")
	}
	return nil
}
