// Package registry persists experiment records. Two backends implement the
// same contract: a partitioned-JSON file store (the default) and a SQLite
// store for larger registries. Records are write-once; a run id can only be
// removed again by an explicit Delete.
package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/lockstephq/lockstep/internal/contract"
)

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// RecordStore is the persistence contract for experiment records.
//
// Save stamps the schema version and, when unset, SavedAt, then writes the
// record exactly once; reusing a run id is a DuplicateRunId error. Load and
// Delete return a NotFound error for unknown ids. List orders newest first
// (creation time descending, run id ascending as the tiebreak).
type RecordStore interface {
	Save(ctx context.Context, rec *contract.ExperimentRecord) error
	Load(ctx context.Context, runID string) (*contract.ExperimentRecord, error)
	List(ctx context.Context, filter Filter) ([]contract.RunMetadata, error)
	FindByHash(ctx context.Context, configHash string) ([]*contract.ExperimentRecord, error)
	Delete(ctx context.Context, runID string) error
	Close() error
}

// Filter narrows List results. Zero fields match everything. Since is
// inclusive and Until exclusive, both against the run's creation time
// (metadata started_at). Limit caps the result count after ordering.
type Filter struct {
	Strategy string
	Since    time.Time
	Until    time.Time
	Limit    int
}

func (f Filter) matches(meta contract.RunMetadata, strategy string) bool {
	if f.Strategy != "" && strategy != f.Strategy {
		return false
	}
	if !f.Since.IsZero() && meta.StartedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !meta.StartedAt.Before(f.Until) {
		return false
	}
	return true
}

// Option configures a store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces the wall clock used to stamp SavedAt.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func newOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Open opens a store of the named backend rooted at dir. The file backend
// lives directly under dir; the SQLite backend keeps a single database file
// there.
func Open(backend, dir string, opts ...Option) (RecordStore, error) {
	switch backend {
	case BackendFile:
		return NewFileStore(dir, opts...)
	case BackendSQLite:
		if dir == "" {
			return nil, fmt.Errorf("registry: root directory is required")
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("registry: create root: %w", err)
		}
		return NewSQLiteStore(filepath.Join(dir, "lockstep.db"), opts...)
	default:
		return nil, contract.NewValidationError("backend",
			fmt.Sprintf("unknown backend %q, want %q or %q", backend, BackendFile, BackendSQLite))
	}
}

// stampRecord fills the store-assigned fields and rejects records that
// cannot be keyed.
func stampRecord(rec *contract.ExperimentRecord, now func() time.Time) error {
	if rec == nil {
		return contract.NewValidationError("record", "record is required")
	}
	if err := validRunID(rec.RunID); err != nil {
		return err
	}
	if rec.Result.Metadata.RunID != rec.RunID {
		return contract.NewValidationError("run_id", fmt.Sprintf(
			"record run id %q does not match result metadata run id %q",
			rec.RunID, rec.Result.Metadata.RunID))
	}

	rec.SchemaVersion = contract.RecordSchemaVersion
	if rec.SavedAt.IsZero() {
		rec.SavedAt = now()
	}
	rec.SavedAt = rec.SavedAt.UTC()
	return nil
}

// validRunID keeps run ids usable as file names and SQL keys. The file
// backend resolves ids by glob, so characters with pattern or path meaning
// are rejected outright.
func validRunID(id string) error {
	if id == "" {
		return contract.NewValidationError("run_id", "run id is required")
	}
	if id[0] == '.' {
		return contract.NewValidationError("run_id",
			fmt.Sprintf("run id %q must not start with a dot", id))
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.':
		default:
			return contract.NewValidationError("run_id",
				fmt.Sprintf("run id %q contains unsupported characters", id))
		}
	}
	return nil
}

// sortRecords orders newest first; run id breaks ties so listings are
// stable under equal timestamps.
func sortRecords(recs []*contract.ExperimentRecord) {
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i].Result.Metadata, recs[j].Result.Metadata
		if !a.StartedAt.Equal(b.StartedAt) {
			return a.StartedAt.After(b.StartedAt)
		}
		return a.RunID < b.RunID
	})
}
