// Package errors provides explicit, human-readable error types for memeops.
// Every error carries a Reason and, where the operator can act on it, a Suggestion.
package errors

import (
	"errors"
	"fmt"
)

// OpsError is the base error type for all memeops errors.
type OpsError struct {
	Code       ErrorCode
	Message    string
	Reason     string
	Suggestion string
	Cause      error
}

// ErrorCode represents the category of an error.
type ErrorCode int

const (
	CodeConfig ErrorCode = iota + 1
	CodeConnectivity
	CodeValidation
	CodeWrite
	CodeState
	CodeInternal
)

// String returns the category name used in reports.
func (c ErrorCode) String() string {
	switch c {
	case CodeConfig:
		return "config"
	case CodeConnectivity:
		return "connectivity"
	case CodeValidation:
		return "validation"
	case CodeWrite:
		return "write"
	case CodeState:
		return "state"
	case CodeInternal:
		return "internal"
	}
	return "unknown"
}

func (e *OpsError) Error() string {
	msg := e.Message
	if e.Reason != "" {
		msg = fmt.Sprintf("%s\nReason: %s", msg, e.Reason)
	}
	if e.Suggestion != "" {
		msg = fmt.Sprintf("%s\nSuggestion: %s", msg, e.Suggestion)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s\nCaused by: %v", msg, e.Cause)
	}
	return msg
}

func (e *OpsError) Unwrap() error {
	return e.Cause
}

// CodeOf returns the category of err, or CodeInternal for foreign errors.
func CodeOf(err error) ErrorCode {
	var carrier interface{ OpsCode() ErrorCode }
	if errors.As(err, &carrier) {
		return carrier.OpsCode()
	}
	return CodeInternal
}

// OpsCode lets typed errors that embed OpsError be classified by CodeOf.
func (e *OpsError) OpsCode() ErrorCode {
	return e.Code
}

// ErrConfigInvalid is returned when mandatory configuration is missing or malformed.
type ErrConfigInvalid struct {
	OpsError
	Key string
}

// NewConfigInvalid creates a new ErrConfigInvalid.
func NewConfigInvalid(key, reason string) *ErrConfigInvalid {
	return &ErrConfigInvalid{
		OpsError: OpsError{
			Code:       CodeConfig,
			Message:    fmt.Sprintf("invalid configuration: %s", key),
			Reason:     reason,
			Suggestion: "set the value in the config file or the environment, see 'memeops config init'",
		},
		Key: key,
	}
}

// ErrSourceUnavailable is returned when the source document store cannot be reached.
type ErrSourceUnavailable struct {
	OpsError
}

// NewSourceUnavailable creates a new ErrSourceUnavailable.
func NewSourceUnavailable(cause error) *ErrSourceUnavailable {
	return &ErrSourceUnavailable{
		OpsError: OpsError{
			Code:       CodeConnectivity,
			Message:    "source store unavailable",
			Reason:     "could not connect to MongoDB",
			Suggestion: "check MONGODB_URI and that the server is reachable",
			Cause:      cause,
		},
	}
}

// ErrDestinationUnavailable is returned when the destination database cannot be reached.
type ErrDestinationUnavailable struct {
	OpsError
}

// NewDestinationUnavailable creates a new ErrDestinationUnavailable.
func NewDestinationUnavailable(cause error) *ErrDestinationUnavailable {
	return &ErrDestinationUnavailable{
		OpsError: OpsError{
			Code:       CodeConnectivity,
			Message:    "destination store unavailable",
			Reason:     "could not connect to PostgreSQL",
			Suggestion: "check POSTGRES_HOST, POSTGRES_PORT and credentials",
			Cause:      cause,
		},
	}
}

// ErrFetchFailed is returned when reading a collection from the source fails.
type ErrFetchFailed struct {
	OpsError
	Kind string
}

// NewFetchFailed creates a new ErrFetchFailed.
func NewFetchFailed(kind string, cause error) *ErrFetchFailed {
	return &ErrFetchFailed{
		OpsError: OpsError{
			Code:    CodeConnectivity,
			Message: fmt.Sprintf("failed to fetch %s records", kind),
			Reason:  "source query did not complete",
			Cause:   cause,
		},
		Kind: kind,
	}
}

// ErrRecordInvalid is returned when a source document does not match the typed
// record for its kind.
type ErrRecordInvalid struct {
	OpsError
	Kind     string
	SourceID string
	Field    string
}

// NewRecordInvalid creates a new ErrRecordInvalid.
func NewRecordInvalid(kind, sourceID, field, reason string) *ErrRecordInvalid {
	return &ErrRecordInvalid{
		OpsError: OpsError{
			Code:       CodeValidation,
			Message:    fmt.Sprintf("invalid %s record %s", kind, displayID(sourceID)),
			Reason:     fmt.Sprintf("field %q %s", field, reason),
			Suggestion: "fix the source document and re-run; the checkpoint resumes at this record",
		},
		Kind:     kind,
		SourceID: sourceID,
		Field:    field,
	}
}

// ErrWriteFailed is returned when inserting a row into the destination fails.
type ErrWriteFailed struct {
	OpsError
	Kind     string
	SourceID string
}

// NewWriteFailed creates a new ErrWriteFailed.
func NewWriteFailed(kind, sourceID string, cause error) *ErrWriteFailed {
	return &ErrWriteFailed{
		OpsError: OpsError{
			Code:    CodeWrite,
			Message: fmt.Sprintf("failed to write %s record %s", kind, displayID(sourceID)),
			Reason:  "destination rejected the insert",
			Cause:   cause,
		},
		Kind:     kind,
		SourceID: sourceID,
	}
}

// ErrDuplicateRecord is returned when a row with the same source id already exists.
type ErrDuplicateRecord struct {
	OpsError
	Kind     string
	SourceID string
}

// NewDuplicateRecord creates a new ErrDuplicateRecord.
func NewDuplicateRecord(kind, sourceID string, cause error) *ErrDuplicateRecord {
	return &ErrDuplicateRecord{
		OpsError: OpsError{
			Code:       CodeWrite,
			Message:    fmt.Sprintf("duplicate %s record %s", kind, displayID(sourceID)),
			Reason:     "a row with this source_id already exists",
			Suggestion: "the destination already holds migrated data; check 'memeops migrate status'",
			Cause:      cause,
		},
		Kind:     kind,
		SourceID: sourceID,
	}
}

// ErrConstraintViolation is returned when a row violates a destination constraint
// other than source id uniqueness.
type ErrConstraintViolation struct {
	OpsError
	Kind       string
	SourceID   string
	Constraint string
}

// NewConstraintViolation creates a new ErrConstraintViolation.
func NewConstraintViolation(kind, sourceID, constraint string, cause error) *ErrConstraintViolation {
	return &ErrConstraintViolation{
		OpsError: OpsError{
			Code:       CodeWrite,
			Message:    fmt.Sprintf("%s record %s violates %s", kind, displayID(sourceID), constraint),
			Reason:     "destination schema rejected the row",
			Suggestion: "check the referenced rows exist and the schema is current ('memeops migrate schema')",
			Cause:      cause,
		},
		Kind:       kind,
		SourceID:   sourceID,
		Constraint: constraint,
	}
}

// ErrSchemaMismatch is returned when a value cannot be stored in its destination column.
type ErrSchemaMismatch struct {
	OpsError
	Kind     string
	SourceID string
}

// NewSchemaMismatch creates a new ErrSchemaMismatch.
func NewSchemaMismatch(kind, sourceID, reason string, cause error) *ErrSchemaMismatch {
	return &ErrSchemaMismatch{
		OpsError: OpsError{
			Code:       CodeValidation,
			Message:    fmt.Sprintf("%s record %s does not fit the destination schema", kind, displayID(sourceID)),
			Reason:     reason,
			Suggestion: "compare the source document with the destination table definition",
			Cause:      cause,
		},
		Kind:     kind,
		SourceID: sourceID,
	}
}

// ErrDestinationPopulated is returned when a fresh run finds rows already present.
type ErrDestinationPopulated struct {
	OpsError
	Table string
	Rows  int64
}

// NewDestinationPopulated creates a new ErrDestinationPopulated.
func NewDestinationPopulated(table string, rows int64) *ErrDestinationPopulated {
	return &ErrDestinationPopulated{
		OpsError: OpsError{
			Code:       CodeState,
			Message:    fmt.Sprintf("destination table %s is not empty", table),
			Reason:     fmt.Sprintf("%d rows present and no checkpoint to resume from", rows),
			Suggestion: "migrate into an empty database, or truncate the tables before re-running",
		},
		Table: table,
		Rows:  rows,
	}
}

// ErrAlreadyMigrated is returned when the checkpoint records a completed run.
type ErrAlreadyMigrated struct {
	OpsError
	RunID string
}

// NewAlreadyMigrated creates a new ErrAlreadyMigrated.
func NewAlreadyMigrated(runID string) *ErrAlreadyMigrated {
	return &ErrAlreadyMigrated{
		OpsError: OpsError{
			Code:       CodeState,
			Message:    "migration already completed",
			Reason:     fmt.Sprintf("run %s finished successfully against this destination", runID),
			Suggestion: "nothing to do; use 'memeops migrate checkpoint clear' only when starting from an empty database",
		},
		RunID: runID,
	}
}

// ErrCheckpointFailed is returned when the checkpoint cannot be read or written.
type ErrCheckpointFailed struct {
	OpsError
}

// NewCheckpointFailed creates a new ErrCheckpointFailed.
func NewCheckpointFailed(operation string, cause error) *ErrCheckpointFailed {
	return &ErrCheckpointFailed{
		OpsError: OpsError{
			Code:    CodeState,
			Message: fmt.Sprintf("checkpoint %s failed", operation),
			Reason:  "migration_checkpoint table is not accessible",
			Cause:   cause,
		},
	}
}

// ErrCheckpointMismatch is returned when the checkpoint does not fit the source.
type ErrCheckpointMismatch struct {
	OpsError
	Kind   string
	Offset int
}

// NewCheckpointMismatch creates a new ErrCheckpointMismatch.
func NewCheckpointMismatch(kind string, offset, available int) *ErrCheckpointMismatch {
	return &ErrCheckpointMismatch{
		OpsError: OpsError{
			Code:       CodeState,
			Message:    fmt.Sprintf("checkpoint is ahead of the source for %s", kind),
			Reason:     fmt.Sprintf("checkpoint offset %d but only %d documents in the source", offset, available),
			Suggestion: "the source changed since the interrupted run; inspect with 'memeops migrate checkpoint show'",
		},
		Kind:   kind,
		Offset: offset,
	}
}

// ErrSchemaMigrationFailed is returned when a destination schema migration fails.
type ErrSchemaMigrationFailed struct {
	OpsError
	Migration string
}

// NewSchemaMigrationFailed creates a new ErrSchemaMigrationFailed.
func NewSchemaMigrationFailed(name string, cause error) *ErrSchemaMigrationFailed {
	return &ErrSchemaMigrationFailed{
		OpsError: OpsError{
			Code:       CodeInternal,
			Message:    fmt.Sprintf("schema migration %s failed", name),
			Reason:     "the SQL statement could not be applied",
			Suggestion: "inspect schema_migrations and the database log",
			Cause:      cause,
		},
		Migration: name,
	}
}

func displayID(id string) string {
	if id == "" {
		return "<no id>"
	}
	return id
}
