package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/lockstephq/lockstep/internal/engine"
	"github.com/lockstephq/lockstep/internal/parity"
	"github.com/lockstephq/lockstep/internal/report"
	"github.com/lockstephq/lockstep/internal/scenario"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	Left   string
	Right  string
	Policy string
	Report string
	Filter string
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify <scenarios-dir>",
		Short: "Verify engine parity over a scenario suite",
		Long: `Run every golden scenario through two engines and compare the results
under a tolerance policy.

Each scenario becomes one comparison: both engines receive the identical
request, and the verdict records which gates passed, the confidence
level, and both sides' valuation fidelity. One scenario's divergence or
crash never stops the sweep. With --report the full audit artifact is
written as canonical JSON.

Exit codes:
  0 - All scenarios equivalent
  1 - One or more scenarios divergent or errored
  2 - Command error (invalid paths, bad policy, etc.)

Examples:
  lockstep verify testdata/scenarios
  lockstep verify testdata/scenarios --right vector --report parity.json
  lockstep verify testdata/scenarios --policy policies/strict.cue
  lockstep verify testdata/scenarios --filter "trend-*" --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Left, "left", "ledger", "reference engine adapter")
	cmd.Flags().StringVar(&opts.Right, "right", "vector", "candidate engine adapter")
	cmd.Flags().StringVar(&opts.Policy, "policy", "", "tolerance policy file (CUE); built-in default when unset")
	cmd.Flags().StringVar(&opts.Report, "report", "", "write the parity report artifact to this path")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern on name")

	return cmd
}

func runVerify(opts *VerifyOptions, scenariosDir string, cmd *cobra.Command) error {
	configureLogging(opts.Verbose)

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if _, err := os.Stat(scenariosDir); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", scenariosDir))
	}
	if opts.Left == opts.Right {
		return NewExitError(ExitCommandError, "left and right engines must differ")
	}

	policy, err := loadPolicy(opts.Policy)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load policy", err)
	}

	left, err := newAdapter(opts.Left, engine.Options{Logger: slog.Default()})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to select left engine", err)
	}
	right, err := newAdapter(opts.Right, engine.Options{Logger: slog.Default()})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to select right engine", err)
	}
	engines := []string{engineLabel(left), engineLabel(right)}

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
			return outputVerifyJSON(cmd, report.Build(policy, engines, nil, time.Now().UTC()))
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No scenarios found.")
		return nil
	}
	formatter.VerboseLog("Comparing %s against %s over %d scenario(s)", engines[0], engines[1], len(scenarios))

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	items := make([]report.Item, 0, len(scenarios))
	for _, sc := range scenarios {
		items = append(items, verifyScenario(ctx, sc, left, right, policy))
	}

	rep := report.Build(policy, engines, items, time.Now().UTC())

	if opts.Report != "" {
		if err := rep.Write(opts.Report); err != nil {
			return WrapExitError(ExitCommandError, "failed to write report", err)
		}
		formatter.VerboseLog("Report written to %s", opts.Report)
	}

	if opts.Format == "json" {
		return outputVerifyJSON(cmd, rep)
	}
	return outputVerifyText(cmd, rep, opts.Verbose)
}

// verifyScenario runs one scenario through both engines and compares
// the results. Failures become the item's error so the sweep continues.
func verifyScenario(ctx context.Context, sc *scenario.Scenario, left, right engine.Adapter, policy parity.Policy) report.Item {
	item := report.Item{Scenario: sc.Name}

	req, err := sc.BuildRequest()
	if err != nil {
		item.Err = fmt.Errorf("build request: %w", err)
		return item
	}

	leftRes, err := left.Run(ctx, req)
	if err != nil {
		item.Err = fmt.Errorf("%s: %w", left.ID(), err)
		return item
	}
	rightRes, err := right.Run(ctx, req)
	if err != nil {
		item.Err = fmt.Errorf("%s: %w", right.ID(), err)
		return item
	}

	verdict, err := parity.Compare(leftRes, rightRes, policy)
	if err != nil {
		item.Err = err
		return item
	}
	item.Verdict = verdict
	return item
}

// loadPolicy compiles the policy file, or returns the built-in default
// when no file is given.
func loadPolicy(path string) (parity.Policy, error) {
	if path == "" {
		return parity.DefaultPolicy(), nil
	}
	p, err := parity.LoadPolicyFile(path)
	if err != nil {
		return parity.Policy{}, err
	}
	return *p, nil
}

// filterScenarios keeps scenarios whose name matches the glob pattern.
func filterScenarios(scenarios []*scenario.Scenario, pattern string) ([]*scenario.Scenario, error) {
	if pattern == "" {
		return scenarios, nil
	}
	var kept []*scenario.Scenario
	for _, sc := range scenarios {
		matched, err := filepath.Match(pattern, sc.Name)
		if err != nil {
			return nil, fmt.Errorf("invalid filter pattern: %w", err)
		}
		if matched {
			kept = append(kept, sc)
		}
	}
	return kept, nil
}

// outputVerifyJSON outputs the report in the standard envelope.
func outputVerifyJSON(cmd *cobra.Command, rep *report.Report) error {
	status := "ok"
	if rep.Failed() {
		status = "error"
	}

	response := CLIResponse{
		Status: status,
		Data:   rep,
	}
	if rep.Failed() {
		response.Error = &CLIError{
			Code:    "E_PARITY_FAILED",
			Message: fmt.Sprintf("%d scenario(s) not equivalent", rep.Summary.Divergent+rep.Summary.Errors),
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}

	if rep.Failed() {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) not equivalent", rep.Summary.Divergent+rep.Summary.Errors))
	}
	return nil
}

// outputVerifyText prints per-scenario verdict lines and a summary.
func outputVerifyText(cmd *cobra.Command, rep *report.Report, verbose bool) error {
	w := cmd.OutOrStdout()

	for _, entry := range rep.Entries {
		switch {
		case entry.Error != "":
			fmt.Fprintf(w, "✗ %s\n", entry.Scenario)
			fmt.Fprintf(w, "  Error: %s\n", entry.Error)

		case entry.Verdict.Equivalent:
			fmt.Fprintf(w, "✓ %s (confidence %s)\n", entry.Scenario, entry.Verdict.Confidence)
			if entry.Verdict.CrossFidelity {
				fmt.Fprintf(w, "  Cross-fidelity: %s vs %s\n",
					entry.Verdict.Left.ValuationFidelity, entry.Verdict.Right.ValuationFidelity)
			}
			if verbose {
				printGates(w, entry.Verdict.Gates)
			}

		default:
			fmt.Fprintf(w, "✗ %s\n", entry.Scenario)
			for _, g := range entry.Verdict.Gates {
				if g.Passed {
					continue
				}
				fmt.Fprintf(w, "  Gate %s failed: observed %g", g.Name, g.Observed)
				if g.Threshold > 0 {
					fmt.Fprintf(w, " (threshold %g)", g.Threshold)
				}
				if g.Detail != "" {
					fmt.Fprintf(w, ": %s", g.Detail)
				}
				fmt.Fprintln(w)
			}
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Parity Summary: %d equivalent, %d divergent, %d errors, %d total\n",
		rep.Summary.Equivalent, rep.Summary.Divergent, rep.Summary.Errors, rep.Summary.Scenarios)
	if rep.Summary.LowConfidence > 0 {
		fmt.Fprintf(w, "Low confidence: %d scenario(s)\n", rep.Summary.LowConfidence)
	}

	if rep.Failed() {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) not equivalent", rep.Summary.Divergent+rep.Summary.Errors))
	}
	fmt.Fprintln(w, "✓ All scenarios equivalent")
	return nil
}

// printGates lists every gate outcome, one line each.
func printGates(w io.Writer, gates []parity.GateResult) {
	for _, g := range gates {
		status := "pass"
		if !g.Passed {
			status = "fail"
		}
		fmt.Fprintf(w, "  [%s] %s: %s observed=%g", g.Kind, g.Name, status, g.Observed)
		if g.Threshold > 0 {
			fmt.Fprintf(w, " threshold=%g", g.Threshold)
		}
		if g.Samples > 0 {
			fmt.Fprintf(w, " samples=%d within=%.4f outliers=%d", g.Samples, g.WithinFraction, g.Outliers)
		}
		fmt.Fprintln(w)
	}
}
