package contract

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			"validation carries field",
			NewValidationError("window", "end must be after start"),
			"VALIDATION: end must be after start (field=window)",
		},
		{
			"scope carries engine",
			NewScopeViolationError("vector", "strategy vol_target not supported"),
			"SCOPE_VIOLATION: strategy vol_target not supported (engine=vector)",
		},
		{
			"not found carries run id",
			NewRunNotFoundError("run-42"),
			"NOT_FOUND: run not found (run_id=run-42)",
		},
		{
			"not found carries snapshot id",
			NewSnapshotNotFoundError("abc"),
			"NOT_FOUND: snapshot not found (snapshot_id=abc)",
		},
		{
			"duplicate carries run id",
			NewDuplicateRunIDError("run-42"),
			"DUPLICATE_RUN_ID: run id already exists (run_id=run-42)",
		},
		{
			"structural mismatch",
			NewStructuralMismatchError("no overlapping window"),
			"STRUCTURAL_MISMATCH: no overlapping window",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestPredicatesMatchWrappedErrors(t *testing.T) {
	wrapped := fmt.Errorf("saving record: %w", NewDuplicateRunIDError("run-1"))

	assert.True(t, IsDuplicateRunID(wrapped))
	assert.False(t, IsNotFound(wrapped))
	assert.Equal(t, KindDuplicateRunID, KindOf(wrapped))
}

func TestPredicatesPerKind(t *testing.T) {
	tests := []struct {
		err       error
		predicate func(error) bool
	}{
		{NewValidationError("symbols", "empty"), IsValidationError},
		{NewScopeViolationError("vector", "nope"), IsScopeViolation},
		{NewRunNotFoundError("r"), IsNotFound},
		{NewSnapshotNotFoundError("s"), IsNotFound},
		{NewDuplicateRunIDError("r"), IsDuplicateRunID},
		{NewStructuralMismatchError("m"), IsStructuralMismatch},
	}

	for _, tt := range tests {
		assert.True(t, tt.predicate(tt.err), "predicate must match %v", tt.err)
	}
}

func TestPredicatesRejectForeignErrors(t *testing.T) {
	plain := errors.New("disk on fire")

	assert.False(t, IsValidationError(plain))
	assert.False(t, IsScopeViolation(plain))
	assert.False(t, IsNotFound(plain))
	assert.False(t, IsDuplicateRunID(plain))
	assert.False(t, IsStructuralMismatch(plain))
	assert.Equal(t, Kind(""), KindOf(plain))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestErrorAsExtractsFields(t *testing.T) {
	err := fmt.Errorf("adapter: %w", NewScopeViolationError("vector", "restricted family"))

	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "vector", ce.Engine)
	assert.Equal(t, KindScopeViolation, ce.Kind)
}
