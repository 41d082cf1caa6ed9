package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// FindOptions holds flags for the find command.
type FindOptions struct {
	*RootOptions
	StoreOptions
}

// NewFindCommand creates the find command.
func NewFindCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FindOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "find <config-hash>",
		Short: "Find all runs of one experiment design",
		Long: `Find every persisted run whose config hash matches.

The config hash digests the logical experiment design independent of
seed and snapshot id, so the result set is the full reproduction history
of one design: same experiment, any engine, any time.

Examples:
  lockstep find 9c41b2... --store ./experiments
  lockstep find 9c41b2... --store ./experiments --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFind(opts, args[0], cmd)
		},
	}

	addStoreFlags(cmd, &opts.StoreOptions)

	return cmd
}

func runFind(opts *FindOptions, configHash string, cmd *cobra.Command) error {
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

	recs, err := st.FindByHash(ctx, configHash)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find runs", err)
	}

	views := make([]RunView, len(recs))
	for i, rec := range recs {
		views[i] = runView(&rec.Result)
	}

	if opts.Format == "json" {
		return outputFindJSON(cmd, views)
	}
	return outputFindText(cmd, configHash, views)
}

// outputFindJSON outputs the matching runs in the standard envelope.
func outputFindJSON(cmd *cobra.Command, views []RunView) error {
	response := CLIResponse{
		Status: "ok",
		Data:   views,
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

// outputFindText outputs the matching runs as text, one line per run so
// final values line up for eyeballing across engines and seeds.
func outputFindText(cmd *cobra.Command, configHash string, views []RunView) error {
	w := cmd.OutOrStdout()

	if len(views) == 0 {
		fmt.Fprintf(w, "No runs found for config hash: %s\n", configHash)
		return nil
	}

	fmt.Fprintf(w, "Config Hash: %s\n", configHash)
	fmt.Fprintf(w, "%d run(s)\n\n", len(views))
	for _, v := range views {
		fmt.Fprintf(w, "%s  %s  %s  seed=%d  final=%s\n",
			v.RunID, v.Engine, v.AdapterMode, v.Seed, v.FinalValue)
	}
	return nil
}
