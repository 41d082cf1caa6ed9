package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lockstephq/lockstep/internal/contract"
	"github.com/lockstephq/lockstep/internal/registry"
)

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	StoreOptions
	Strategy string
	Since    string
	Until    string
	Limit    int
}

// RunListing is one row of the registry listing.
type RunListing struct {
	RunID       string    `json:"run_id"`
	Engine      string    `json:"engine"`
	AdapterMode string    `json:"adapter_mode"`
	ConfigHash  string    `json:"config_hash"`
	StartedAt   time.Time `json:"started_at"`
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List persisted runs",
		Long: `List experiment records in the store, newest first.

Filters combine: --since is inclusive and --until exclusive, both
against the run's start time. Dates read as midnight UTC.

Examples:
  lockstep list --store ./experiments
  lockstep list --store ./experiments --strategy sma_cross --limit 10
  lockstep list --store ./experiments --since 2025-01-01 --until 2025-02-01
  lockstep list --store ./experiments --backend sqlite --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Strategy, "strategy", "", "filter by strategy name")
	cmd.Flags().StringVar(&opts.Since, "since", "", "include runs started at or after this time")
	cmd.Flags().StringVar(&opts.Until, "until", "", "include runs started before this time")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum rows (0 = unlimited)")
	addStoreFlags(cmd, &opts.StoreOptions)

	return cmd
}

func runList(opts *ListOptions, cmd *cobra.Command) error {
	if err := opts.StoreOptions.requireStoreDir(); err != nil {
		return err
	}

	filter := registry.Filter{Strategy: opts.Strategy, Limit: opts.Limit}
	var err error
	if filter.Since, err = parseTimeFlag("--since", opts.Since); err != nil {
		return WrapExitError(ExitCommandError, "invalid flag", err)
	}
	if filter.Until, err = parseTimeFlag("--until", opts.Until); err != nil {
		return WrapExitError(ExitCommandError, "invalid flag", err)
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

	metas, err := st.List(ctx, filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}

	listings := make([]RunListing, len(metas))
	for i, meta := range metas {
		listings[i] = runListing(meta)
	}

	if opts.Format == "json" {
		return outputListJSON(cmd, listings)
	}
	return outputListText(cmd, listings)
}

// runListing converts run metadata into a listing row.
func runListing(meta contract.RunMetadata) RunListing {
	return RunListing{
		RunID:       meta.RunID,
		Engine:      meta.EngineID + "@" + meta.EngineVersion,
		AdapterMode: string(meta.AdapterMode),
		ConfigHash:  meta.ConfigHash,
		StartedAt:   meta.StartedAt,
	}
}

// parseTimeFlag parses a date or RFC3339 timestamp flag. Empty means
// unset. Bare dates read as midnight UTC, matching scenario windows.
func parseTimeFlag(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %q is not a date (2006-01-02) or RFC3339 timestamp", name, value)
	}
	return t.UTC(), nil
}

// truncateHash truncates a long digest for display.
func truncateHash(hash string) string {
	if len(hash) <= 24 {
		return hash
	}
	return hash[:16] + "..." + hash[len(hash)-8:]
}

// outputListJSON outputs the listing in the standard envelope.
func outputListJSON(cmd *cobra.Command, listings []RunListing) error {
	response := CLIResponse{
		Status: "ok",
		Data:   listings,
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

// outputListText outputs the listing as text.
func outputListText(cmd *cobra.Command, listings []RunListing) error {
	w := cmd.OutOrStdout()

	if len(listings) == 0 {
		fmt.Fprintln(w, "No runs found.")
		return nil
	}

	fmt.Fprintf(w, "%d run(s)\n\n", len(listings))
	for _, l := range listings {
		fmt.Fprintf(w, "%s  %s  %s  %s  %s\n",
			l.RunID, l.Engine, l.AdapterMode,
			truncateHash(l.ConfigHash), l.StartedAt.UTC().Format(time.RFC3339))
	}
	return nil
}
