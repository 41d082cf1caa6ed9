package batch

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lockstephq/lockstep/internal/contract"
)

// Tracker observes one batch's lifecycle. Begin sizes the batch, the item
// calls resolve slots independently, and Close resolves anything still
// pending to failed("cancelled"), classifies the batch, and returns the
// terminal record.
type Tracker interface {
	Begin(n int) error
	ItemSucceeded(i int, runID string) error
	ItemFailed(i int, reason string) error
	Close() (*Record, error)
}

// NopTracker is the default tracker: fully inert. It allocates nothing,
// writes nothing, and its Close returns no record.
type NopTracker struct{}

func (NopTracker) Begin(int) error                 { return nil }
func (NopTracker) ItemSucceeded(int, string) error { return nil }
func (NopTracker) ItemFailed(int, string) error    { return nil }
func (NopTracker) Close() (*Record, error)         { return nil, nil }

// Options injects the tracker's environment. Zero values select real
// defaults: wall clock, random uuids, a discards-everything logger.
type Options struct {
	Now    func() time.Time
	NewID  func() string
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o
}

// StoreTracker persists the batch record to <root>/batches/<batch_id>.json
// on every transition, so a crash mid-batch leaves an inspectable document.
// Safe for concurrent item calls.
type StoreTracker struct {
	mu     sync.Mutex
	dir    string
	opts   Options
	rec    *Record
	closed bool
}

// NewStoreTracker creates a persisting tracker rooted at dir.
func NewStoreTracker(dir string, opts Options) (*StoreTracker, error) {
	if dir == "" {
		return nil, fmt.Errorf("batch tracker: root directory is required")
	}
	batches := filepath.Join(dir, "batches")
	if err := os.MkdirAll(batches, 0o755); err != nil {
		return nil, fmt.Errorf("batch tracker: create root: %w", err)
	}
	return &StoreTracker{dir: batches, opts: opts.withDefaults()}, nil
}

// Begin creates the batch with n pending items and persists it.
func (t *StoreTracker) Begin(n int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return contract.NewValidationError("batch", "batch is already closed")
	}
	if t.rec != nil {
		return contract.NewValidationError("batch", "batch has already begun")
	}
	if n <= 0 {
		return contract.NewValidationError("batch", fmt.Sprintf("batch size must be positive, got %d", n))
	}

	items := make([]Item, n)
	for i := range items {
		items[i] = Item{Index: i, State: ItemPending}
	}
	t.rec = &Record{
		SchemaVersion: RecordSchemaVersion,
		BatchID:       t.opts.NewID(),
		State:         StatePending,
		StartedAt:     t.opts.Now().UTC(),
		Items:         items,
	}

	t.opts.Logger.Debug("batch begun", "batch_id", t.rec.BatchID, "items", n)
	return t.persist()
}

// ItemSucceeded resolves item i to succeeded with its run id.
func (t *StoreTracker) ItemSucceeded(i int, runID string) error {
	return t.resolve(i, ItemSucceeded, runID, "")
}

// ItemFailed resolves item i to failed with a reason.
func (t *StoreTracker) ItemFailed(i int, reason string) error {
	if reason == "" {
		return contract.NewValidationError("reason", "failure reason is required")
	}
	return t.resolve(i, ItemFailed, "", reason)
}

func (t *StoreTracker) resolve(i int, state, runID, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return contract.NewValidationError("batch", "batch is already closed")
	}
	if t.rec == nil {
		return contract.NewValidationError("batch", "batch has not begun")
	}
	if i < 0 || i >= len(t.rec.Items) {
		return contract.NewValidationError("item", fmt.Sprintf(
			"item index %d out of range for batch of %d", i, len(t.rec.Items)))
	}
	if t.rec.Items[i].State != ItemPending {
		return contract.NewValidationError("item", fmt.Sprintf(
			"item %d is already %s", i, t.rec.Items[i].State))
	}

	t.rec.Items[i].State = state
	t.rec.Items[i].RunID = runID
	t.rec.Items[i].Reason = reason

	// The first resolution is the observable start of work.
	if t.rec.State == StatePending {
		t.rec.State = StateRunning
	}

	t.opts.Logger.Debug("batch item resolved",
		"batch_id", t.rec.BatchID, "index", i, "state", state)
	return t.persist()
}

// Close resolves every still-pending item to failed("cancelled"),
// classifies the batch, persists the terminal record, and returns it. A
// closed batch admits no further transitions.
func (t *StoreTracker) Close() (*Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, contract.NewValidationError("batch", "batch is already closed")
	}
	if t.rec == nil {
		return nil, contract.NewValidationError("batch", "batch has not begun")
	}

	for i := range t.rec.Items {
		if t.rec.Items[i].State == ItemPending {
			t.rec.Items[i].State = ItemFailed
			t.rec.Items[i].Reason = "cancelled"
		}
	}

	succeeded, failed, _ := t.rec.Counts()
	t.rec.State = classify(succeeded, failed)
	t.rec.FinishedAt = t.opts.Now().UTC()
	t.closed = true

	if err := t.persist(); err != nil {
		return nil, err
	}
	t.opts.Logger.Info("batch closed",
		"batch_id", t.rec.BatchID, "state", t.rec.State,
		"succeeded", succeeded, "failed", failed)

	out := *t.rec
	out.Items = append([]Item(nil), t.rec.Items...)
	return &out, nil
}

// persist writes the current record atomically. Callers hold the lock.
func (t *StoreTracker) persist() error {
	payload, err := json.MarshalIndent(t.rec, "", "  ")
	if err != nil {
		return fmt.Errorf("batch tracker: marshal %s: %w", t.rec.BatchID, err)
	}
	payload = append(payload, '\n')

	if err := writeAtomic(filepath.Join(t.dir, t.rec.BatchID+".json"), payload); err != nil {
		return fmt.Errorf("batch tracker: persist %s: %w", t.rec.BatchID, err)
	}
	return nil
}

// writeAtomic writes via a temp file in the destination directory followed
// by rename, so readers of a live batch never see a partial document.
func writeAtomic(path string, payload []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".batch-*.tmp")
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
