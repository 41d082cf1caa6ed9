package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/lockstephq/lockstep/internal/contract"
	"github.com/lockstephq/lockstep/internal/scenario"
)

// SnapshotOptions holds flags shared by the snapshot subcommands.
type SnapshotOptions struct {
	*RootOptions
	StoreOptions
}

// SnapshotView summarizes a stored dataset.
type SnapshotView struct {
	SnapshotID string          `json:"snapshot_id"`
	Symbols    []SymbolSummary `json:"symbols"`
}

// SymbolSummary is one symbol's coverage within a snapshot.
type SymbolSummary struct {
	Symbol   string    `json:"symbol"`
	Sessions int       `json:"sessions"`
	First    time.Time `json:"first"`
	Last     time.Time `json:"last"`
}

// NewSnapshotCommand creates the snapshot command group.
func NewSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Manage frozen input datasets",
		Long: `Manage the content-addressed snapshot registry.

A snapshot freezes an input dataset under the hash of its canonical
serialization. Identical content always yields the identical id, so a
run that references a snapshot references exact bytes forever.`,
	}

	cmd.AddCommand(newSnapshotAddCommand(rootOpts))
	cmd.AddCommand(newSnapshotShowCommand(rootOpts))

	return cmd
}

// newSnapshotAddCommand creates the snapshot add subcommand.
func newSnapshotAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SnapshotOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add <scenario-file>",
		Short: "Freeze a scenario's input dataset",
		Long: `Materialize a scenario's input series and store it as a snapshot.

Storing the same content twice returns the same id without writing a
second copy.

Examples:
  lockstep snapshot add testdata/scenarios/trend_follow.yaml --store ./experiments`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshotAdd(opts, args[0], cmd)
		},
	}

	addStoreFlags(cmd, &opts.StoreOptions)

	return cmd
}

// newSnapshotShowCommand creates the snapshot show subcommand.
func newSnapshotShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SnapshotOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "show <snapshot-id>",
		Short: "Show a stored dataset",
		Long: `Load a snapshot by id and print its per-symbol coverage.

Stored bytes are re-hashed on load, so a tampered snapshot reads as an
error rather than as data.

Examples:
  lockstep snapshot show 4b7a... --store ./experiments
  lockstep snapshot show 4b7a... --store ./experiments --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshotShow(opts, args[0], cmd)
		},
	}

	addStoreFlags(cmd, &opts.StoreOptions)

	return cmd
}

func runSnapshotAdd(opts *SnapshotOptions, scenarioPath string, cmd *cobra.Command) error {
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

	snaps, err := opts.StoreOptions.openSnapshots()
	if err != nil {
		return err
	}

	id, err := snaps.Put(req.Series)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to store snapshot", err)
	}

	view := snapshotView(id, req.Series)
	if opts.Format == "json" {
		return outputSnapshotJSON(cmd, view)
	}
	return outputSnapshotText(cmd, view)
}

func runSnapshotShow(opts *SnapshotOptions, snapshotID string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if err := opts.StoreOptions.requireStoreDir(); err != nil {
		return err
	}
	snaps, err := opts.StoreOptions.openSnapshots()
	if err != nil {
		return err
	}

	series, err := snaps.Get(snapshotID)
	if err != nil {
		if contract.IsNotFound(err) {
			return outputContractError(formatter, err)
		}
		return WrapExitError(ExitCommandError, "failed to load snapshot", err)
	}

	view := snapshotView(snapshotID, series)
	if opts.Format == "json" {
		return outputSnapshotJSON(cmd, view)
	}
	return outputSnapshotText(cmd, view)
}

// snapshotView summarizes a dataset, symbols sorted for stable output.
func snapshotView(id string, series contract.Series) SnapshotView {
	view := SnapshotView{SnapshotID: id}
	for sym, bars := range series {
		summary := SymbolSummary{Symbol: sym, Sessions: len(bars)}
		if len(bars) > 0 {
			summary.First = bars[0].Time
			summary.Last = bars[len(bars)-1].Time
		}
		view.Symbols = append(view.Symbols, summary)
	}
	sort.Slice(view.Symbols, func(i, j int) bool {
		return view.Symbols[i].Symbol < view.Symbols[j].Symbol
	})
	return view
}

// outputSnapshotJSON outputs the snapshot view in the standard envelope.
func outputSnapshotJSON(cmd *cobra.Command, view SnapshotView) error {
	response := CLIResponse{
		Status: "ok",
		Data:   view,
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

// outputSnapshotText outputs the snapshot view as text.
func outputSnapshotText(cmd *cobra.Command, view SnapshotView) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Snapshot: %s\n", view.SnapshotID)
	fmt.Fprintf(w, "Symbols: %d\n\n", len(view.Symbols))
	for _, s := range view.Symbols {
		fmt.Fprintf(w, "  %s: %d sessions (%s to %s)\n",
			s.Symbol, s.Sessions,
			s.First.UTC().Format("2006-01-02"), s.Last.UTC().Format("2006-01-02"))
	}
	return nil
}
