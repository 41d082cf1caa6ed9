// Package snapshot is the content-addressed registry of frozen input
// datasets. A snapshot id is the domain-separated hash of the dataset's
// canonical serialization; the stored file is exactly those canonical bytes,
// so ids are stable across process runs and duplicate content collapses to a
// single stored copy. Snapshots are immutable once written and may be shared
// by any number of runs.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lockstephq/lockstep/internal/canonical"
	"github.com/lockstephq/lockstep/internal/contract"
)

// Registry stores datasets as <root>/<id>.json.
type Registry struct {
	root string
}

// Open creates or opens a snapshot registry rooted at dir.
func Open(dir string) (*Registry, error) {
	if dir == "" {
		return nil, fmt.Errorf("snapshot registry: root directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot registry: create root: %w", err)
	}
	return &Registry{root: dir}, nil
}

// Put stores a dataset and returns its content-addressed id. Storing the
// same content twice returns the same id without writing a second copy.
func (r *Registry) Put(series contract.Series) (string, error) {
	payload, err := contract.SnapshotBytes(series)
	if err != nil {
		return "", err
	}
	id := canonical.Hash(canonical.DomainSnapshot, payload)

	path := r.path(id)
	if _, err := os.Stat(path); err == nil {
		return id, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("snapshot %s: stat: %w", id, err)
	}

	if err := writeAtomic(path, payload); err != nil {
		return "", fmt.Errorf("snapshot %s: %w", id, err)
	}
	return id, nil
}

// Get loads the dataset for an id. Returns a NotFound error if the id is
// unknown. Stored bytes are re-hashed before parsing: a mismatch means the
// store was modified out-of-band and the snapshot can no longer be trusted.
func (r *Registry) Get(id string) (contract.Series, error) {
	if !validID(id) {
		return nil, contract.NewSnapshotNotFoundError(id)
	}

	payload, err := os.ReadFile(r.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, contract.NewSnapshotNotFoundError(id)
		}
		return nil, fmt.Errorf("snapshot %s: read: %w", id, err)
	}

	if got := canonical.Hash(canonical.DomainSnapshot, payload); got != id {
		return nil, fmt.Errorf("snapshot %s: content hash mismatch (got %s)", id, got)
	}

	var file struct {
		Series contract.Series `json:"series"`
	}
	if err := json.Unmarshal(payload, &file); err != nil {
		return nil, fmt.Errorf("snapshot %s: parse: %w", id, err)
	}
	return file.Series, nil
}

// Contains reports whether an id is stored, without loading it.
func (r *Registry) Contains(id string) bool {
	if !validID(id) {
		return false
	}
	_, err := os.Stat(r.path(id))
	return err == nil
}

func (r *Registry) path(id string) string {
	return filepath.Join(r.root, id+".json")
}

// validID accepts only lowercase hex sha256 digests, which also keeps ids
// from escaping the registry root as relative paths.
func validID(id string) bool {
	if len(id) != 64 {
		return false
	}
	for _, c := range id {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// writeAtomic writes via a temp file in the destination directory followed
// by rename, so concurrent writers of the same id can never expose a
// partially written snapshot.
func writeAtomic(path string, payload []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
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
