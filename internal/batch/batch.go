// Package batch tracks grouped runs through a small state machine. A batch
// moves pending → running → exactly one terminal state; items resolve
// independently and one item's failure never aborts or taints its siblings.
// Terminal batches are never reopened: any further transition is a
// validation error.
package batch

import "time"

// RecordSchemaVersion is the persisted batch record schema version.
//
//	1 - initial schema
const RecordSchemaVersion = 1

// Batch states.
const (
	StatePending        = "pending"
	StateRunning        = "running"
	StateAllSucceeded   = "all_succeeded"
	StatePartialFailure = "partial_failure"
	StateAllFailed      = "all_failed"
)

// Item states.
const (
	ItemPending   = "pending"
	ItemSucceeded = "succeeded"
	ItemFailed    = "failed"
)

// Item is one tracked run slot.
type Item struct {
	Index  int    `json:"index"`
	State  string `json:"state"`
	RunID  string `json:"run_id,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Record is the persisted batch document.
type Record struct {
	SchemaVersion int       `json:"schema_version"`
	BatchID       string    `json:"batch_id"`
	State         string    `json:"state"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Items         []Item    `json:"items"`
}

// Counts tallies the item states.
func (r *Record) Counts() (succeeded, failed, pending int) {
	for _, item := range r.Items {
		switch item.State {
		case ItemSucceeded:
			succeeded++
		case ItemFailed:
			failed++
		default:
			pending++
		}
	}
	return succeeded, failed, pending
}

// Terminal reports whether the batch state admits no further transitions.
func (r *Record) Terminal() bool {
	switch r.State {
	case StateAllSucceeded, StatePartialFailure, StateAllFailed:
		return true
	}
	return false
}

// classify maps resolved item counts to the terminal batch state. Callers
// resolve every pending item first: no terminal batch has pending items.
func classify(succeeded, failed int) string {
	switch {
	case failed == 0:
		return StateAllSucceeded
	case succeeded == 0:
		return StateAllFailed
	default:
		return StatePartialFailure
	}
}
