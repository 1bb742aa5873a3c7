// Package storage provides persistence for migrated records in PostgreSQL.
// This includes the Destination used by the migration runner, the checkpoint
// that makes runs resumable, the run audit, and schema migrations.
package storage

import (
	"context"
	"time"

	"github.com/memeplatform/memeops/internal/records"
)

// CheckpointStatus is the lifecycle state of the persisted checkpoint.
type CheckpointStatus string

const (
	CheckpointInProgress CheckpointStatus = "in_progress"
	CheckpointCompleted  CheckpointStatus = "completed"
)

// Checkpoint records how far the migration has progressed. Offset is the
// number of records of Kind, in source order, already present in the
// destination.
type Checkpoint struct {
	RunID     string           `json:"run_id"`
	Kind      records.Kind     `json:"kind"`
	Offset    int              `json:"offset"`
	Status    CheckpointStatus `json:"status"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// RunRecord is the audit entry persisted for every run.
type RunRecord struct {
	RunID       string               `json:"run_id"`
	ResumedFrom string               `json:"resumed_from,omitempty"`
	StartedAt   time.Time            `json:"started_at"`
	FinishedAt  time.Time            `json:"finished_at"`
	Success     bool                 `json:"success"`
	Counts      map[records.Kind]int `json:"counts"`
	Error       string               `json:"error,omitempty"`
}

// Destination defines the interface for the migration target.
// All implementations must be:
// - Context-aware (respecting cancellation/timeout)
// - Explicit about errors (never swallow)
type Destination interface {
	// CheckConnectivity verifies database connectivity.
	CheckConnectivity(ctx context.Context) error

	// CountRows returns the number of rows in the table for kind.
	CountRows(ctx context.Context, kind records.Kind) (int64, error)

	// Insert writes rec as a new row and stores cp in the same transaction,
	// so the checkpoint never runs ahead of or behind the data.
	// Returns a typed write error if:
	// - A row with the same source id exists
	// - A constraint or column type rejects the row
	// - Context is cancelled
	Insert(ctx context.Context, rec records.Record, cp Checkpoint) error

	// LoadCheckpoint returns the stored checkpoint, or nil if none exists.
	LoadCheckpoint(ctx context.Context) (*Checkpoint, error)

	// SaveCheckpoint stores cp, replacing any previous checkpoint.
	SaveCheckpoint(ctx context.Context, cp Checkpoint) error

	// ClearCheckpoint removes the checkpoint. Migrated rows are untouched.
	ClearCheckpoint(ctx context.Context) error

	// RecordRun persists the audit entry for a finished run.
	RecordRun(ctx context.Context, run RunRecord) error

	// ListRuns returns the most recent runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)

	// Close releases database resources.
	Close() error
}
