package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lockstephq/lockstep/internal/contract"
)

// ShowOptions holds flags for the show command.
type ShowOptions struct {
	*RootOptions
	StoreOptions
	Full bool
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShowOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one persisted run",
		Long: `Load one experiment record by run id and print it.

The default text view is the run summary plus request provenance; --full
appends the value series and the cost ledger. JSON output always carries
the complete record.

Examples:
  lockstep show 7f3b... --store ./experiments
  lockstep show 7f3b... --store ./experiments --full
  lockstep show 7f3b... --store ./experiments --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Full, "full", false, "include the value series and cost ledger")
	addStoreFlags(cmd, &opts.StoreOptions)

	return cmd
}

func runShow(opts *ShowOptions, runID string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if err := opts.StoreOptions.requireStoreDir(); err != nil {
		return err
	}
	st, err := opts.StoreOptions.openRecordStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rec, err := st.Load(ctx, runID)
	if err != nil {
		if contract.IsNotFound(err) {
			return outputContractError(formatter, err)
		}
		return WrapExitError(ExitCommandError, "failed to load run", err)
	}

	if opts.Format == "json" {
		return outputShowJSON(cmd, rec)
	}
	return outputShowText(cmd, rec, opts.Full)
}

// outputShowJSON outputs the complete record in the standard envelope.
func outputShowJSON(cmd *cobra.Command, rec *contract.ExperimentRecord) error {
	response := CLIResponse{
		Status: "ok",
		Data:   rec,
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

// outputShowText outputs the record as text.
func outputShowText(cmd *cobra.Command, rec *contract.ExperimentRecord, full bool) error {
	w := cmd.OutOrStdout()
	view := runView(&rec.Result)
	req := rec.Request

	fmt.Fprintf(w, "Run: %s\n", view.RunID)
	fmt.Fprintf(w, "Saved At: %s\n", rec.SavedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "Engine: %s (%s", view.Engine, view.AdapterMode)
	if view.ValuationFidelity != "" {
		fmt.Fprintf(w, ", %s", view.ValuationFidelity)
	}
	fmt.Fprintln(w, ")")
	fmt.Fprintf(w, "Strategy: %s [%s]\n", req.Strategy, strings.Join(req.Symbols, " "))
	fmt.Fprintf(w, "Window: %s to %s\n",
		req.Start.UTC().Format("2006-01-02"), req.End.UTC().Format("2006-01-02"))
	fmt.Fprintf(w, "Initial Cash: %s\n", req.InitialCash.String())
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

	if !full {
		return nil
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Series ===")
	for _, p := range rec.Result.Series {
		fmt.Fprintf(w, "  %s  value=%s cash=%s\n",
			p.Time.UTC().Format("2006-01-02"), p.Value.String(), p.Cash.String())
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Costs ===")
	if len(rec.Result.Costs) == 0 {
		fmt.Fprintln(w, "  (no cost events)")
		return nil
	}
	for _, c := range rec.Result.Costs {
		fmt.Fprintf(w, "  %s  %s %s %s (%s)\n",
			c.Time.UTC().Format("2006-01-02"), c.Symbol, c.Kind, c.Amount.String(), c.Basis)
	}
	return nil
}
