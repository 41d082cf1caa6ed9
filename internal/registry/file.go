package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lockstephq/lockstep/internal/contract"
)

// FileStore keeps one JSON document per run under
// <root>/runs/<yyyy>/<mm>/<run_id>.json, partitioned by SavedAt in UTC.
// Callers never need to know the partition: lookups resolve run ids by
// globbing across partitions. Writes go to a temp file in the destination
// directory and rename into place, so concurrent processes sharing a root
// are safe as long as run ids are unique.
type FileStore struct {
	root string
	now  func() time.Time
}

// NewFileStore creates or opens a file-backed registry rooted at dir.
func NewFileStore(dir string, opts ...Option) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("registry: root directory is required")
	}
	if err := os.MkdirAll(filepath.Join(dir, "runs"), 0o755); err != nil {
		return nil, fmt.Errorf("registry: create root: %w", err)
	}
	o := newOptions(opts)
	return &FileStore{root: dir, now: o.now}, nil
}

// Save writes the record once. A run id that already resolves anywhere in
// the registry is a DuplicateRunId error, regardless of partition.
func (s *FileStore) Save(ctx context.Context, rec *contract.ExperimentRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := stampRecord(rec, s.now); err != nil {
		return err
	}

	existing, err := s.find(rec.RunID)
	if err != nil {
		return err
	}
	if existing != "" {
		return contract.NewDuplicateRunIDError(rec.RunID)
	}

	payload, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("registry: marshal record %s: %w", rec.RunID, err)
	}
	payload = append(payload, '\n')

	dir := filepath.Join(s.root, "runs",
		rec.SavedAt.Format("2006"), rec.SavedAt.Format("01"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("registry: create partition: %w", err)
	}
	if err := writeAtomic(filepath.Join(dir, rec.RunID+".json"), payload); err != nil {
		return fmt.Errorf("registry: save %s: %w", rec.RunID, err)
	}
	return nil
}

// Load reads one record by run id.
func (s *FileStore) Load(ctx context.Context, runID string) (*contract.ExperimentRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validRunID(runID); err != nil {
		return nil, err
	}

	path, err := s.find(runID)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, contract.NewRunNotFoundError(runID)
	}
	return readRecord(path)
}

// List returns run metadata matching the filter, newest first.
func (s *FileStore) List(ctx context.Context, filter Filter) ([]contract.RunMetadata, error) {
	recs, err := s.scan(ctx, func(rec *contract.ExperimentRecord) bool {
		return filter.matches(rec.Result.Metadata, rec.Request.Strategy)
	})
	if err != nil {
		return nil, err
	}

	sortRecords(recs)
	if filter.Limit > 0 && len(recs) > filter.Limit {
		recs = recs[:filter.Limit]
	}

	metas := make([]contract.RunMetadata, len(recs))
	for i, rec := range recs {
		metas[i] = rec.Result.Metadata
	}
	return metas, nil
}

// FindByHash returns every run of one experiment design, newest first.
func (s *FileStore) FindByHash(ctx context.Context, configHash string) ([]*contract.ExperimentRecord, error) {
	if configHash == "" {
		return nil, contract.NewValidationError("config_hash", "config hash is required")
	}

	recs, err := s.scan(ctx, func(rec *contract.ExperimentRecord) bool {
		return rec.Result.Metadata.ConfigHash == configHash
	})
	if err != nil {
		return nil, err
	}
	sortRecords(recs)
	return recs, nil
}

// Delete removes one record. This is the only way a run id leaves the
// registry.
func (s *FileStore) Delete(ctx context.Context, runID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validRunID(runID); err != nil {
		return err
	}

	path, err := s.find(runID)
	if err != nil {
		return err
	}
	if path == "" {
		return contract.NewRunNotFoundError(runID)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("registry: delete %s: %w", runID, err)
	}
	return nil
}

// Close is a no-op for the file backend.
func (s *FileStore) Close() error { return nil }

// find resolves a run id to its partition path, or "" when absent. The run
// id is already validated, so it carries no glob metacharacters.
func (s *FileStore) find(runID string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(s.root, "runs", "*", "*", runID+".json"))
	if err != nil {
		return "", fmt.Errorf("registry: resolve %s: %w", runID, err)
	}
	if len(matches) == 0 {
		return "", nil
	}
	return matches[0], nil
}

// scan reads every record in the registry and keeps the matching ones.
func (s *FileStore) scan(ctx context.Context, keep func(*contract.ExperimentRecord) bool) ([]*contract.ExperimentRecord, error) {
	matches, err := filepath.Glob(filepath.Join(s.root, "runs", "*", "*", "*.json"))
	if err != nil {
		return nil, fmt.Errorf("registry: scan: %w", err)
	}

	recs := []*contract.ExperimentRecord{}
	for _, path := range matches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := readRecord(path)
		if err != nil {
			return nil, err
		}
		if keep(rec) {
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

// readRecord parses one stored record. Unknown JSON fields are tolerated so
// newer writers stay readable by older code.
func readRecord(path string) (*contract.ExperimentRecord, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: read %s: %w", path, err)
	}
	rec := &contract.ExperimentRecord{}
	if err := json.Unmarshal(payload, rec); err != nil {
		return nil, fmt.Errorf("registry: parse %s: %w", path, err)
	}
	return rec, nil
}

// writeAtomic writes via a temp file in the destination directory followed
// by rename, so a crash mid-write never leaves a partial record visible.
func writeAtomic(path string, payload []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".record-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
