package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lockstephq/lockstep/internal/registry"
	"github.com/lockstephq/lockstep/internal/snapshot"
)

// StoreOptions holds the flags shared by commands that touch persisted
// state. One root directory carries everything: runs/ for experiment
// records, snapshots/ for frozen datasets, batches/ for batch records.
type StoreOptions struct {
	Store   string // root directory
	Backend string // "file" | "sqlite", experiment records only
}

// addStoreFlags registers --store and --backend on a command.
func addStoreFlags(cmd *cobra.Command, opts *StoreOptions) {
	cmd.Flags().StringVar(&opts.Store, "store", "", "root directory of the experiment store")
	cmd.Flags().StringVar(&opts.Backend, "backend", registry.BackendFile, "record store backend (file|sqlite)")
}

func (o StoreOptions) snapshotsDir() string { return filepath.Join(o.Store, "snapshots") }

// openRecordStore opens the experiment record store under the root.
// The registry manages its own layout below the root: runs/ partitions
// for the file backend, lockstep.db for sqlite.
func (o StoreOptions) openRecordStore() (registry.RecordStore, error) {
	if o.Store == "" {
		return nil, NewExitError(ExitCommandError, "--store is required")
	}
	st, err := registry.Open(o.Backend, o.Store)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open record store", err)
	}
	return st, nil
}

// openSnapshots opens the snapshot registry under the root.
func (o StoreOptions) openSnapshots() (*snapshot.Registry, error) {
	if o.Store == "" {
		return nil, NewExitError(ExitCommandError, "--store is required")
	}
	snaps, err := snapshot.Open(o.snapshotsDir())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open snapshot registry", err)
	}
	return snaps, nil
}

// requireStoreDir rejects stores that do not exist yet. Read-only
// commands call this first so a typoed path reads as an error instead
// of an empty registry.
func (o StoreOptions) requireStoreDir() error {
	if o.Store == "" {
		return NewExitError(ExitCommandError, "--store is required")
	}
	if _, err := os.Stat(o.Store); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("store directory not found: %s", o.Store))
	}
	return nil
}

// configureLogging routes slog output to stderr, debug level when
// verbose. Diagnostics never share the data stream, so JSON output
// stays parseable.
func configureLogging(verbose bool) {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
