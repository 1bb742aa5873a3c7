package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	opserrors "github.com/memeplatform/memeops/internal/errors"
	"github.com/memeplatform/memeops/internal/records"
)

// PostgresDestination implements Destination using PostgreSQL.
type PostgresDestination struct {
	db *sql.DB
}

// OpenPostgres opens dsn with lib/pq and verifies connectivity.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresDestination, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, opserrors.NewDestinationUnavailable(err)
	}
	// The runner is strictly sequential.
	db.SetMaxOpenConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	d := NewPostgresDestination(db)
	if err := d.CheckConnectivity(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// NewPostgresDestination wraps an open database handle.
func NewPostgresDestination(db *sql.DB) *PostgresDestination {
	return &PostgresDestination{db: db}
}

// DB exposes the handle for schema migrations.
func (d *PostgresDestination) DB() *sql.DB {
	return d.db
}

// ApplySchema applies pending schema migrations and returns their names.
func (d *PostgresDestination) ApplySchema(ctx context.Context) ([]string, error) {
	return NewSchemaMigrator(d.db).Run(ctx)
}

// PendingSchema lists the schema migrations not yet applied.
func (d *PostgresDestination) PendingSchema(ctx context.Context) ([]string, error) {
	pending, err := NewSchemaMigrator(d.db).Pending(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(pending))
	for i, m := range pending {
		names[i] = m.Name
	}
	return names, nil
}

// CheckConnectivity verifies database connectivity.
func (d *PostgresDestination) CheckConnectivity(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return opserrors.NewDestinationUnavailable(err)
	}
	return nil
}

// CountRows returns the number of rows in the table for kind.
func (d *PostgresDestination) CountRows(ctx context.Context, kind records.Kind) (int64, error) {
	var n int64
	query := "SELECT COUNT(*) FROM " + pq.QuoteIdentifier(kind.Table())
	if err := d.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", kind.Table(), err)
	}
	return n, nil
}

// Insert writes rec and the checkpoint in one transaction.
func (d *PostgresDestination) Insert(ctx context.Context, rec records.Record, cp Checkpoint) error {
	kind := rec.Kind()
	values, err := rec.Values()
	if err != nil {
		return opserrors.NewSchemaMismatch(kind.Label(), rec.SourceID(), "attributes cannot be encoded as JSON", err)
	}
	columns := rec.Columns()
	if len(columns) != len(values) {
		return opserrors.NewSchemaMismatch(kind.Label(), rec.SourceID(),
			fmt.Sprintf("%d columns but %d values", len(columns), len(values)), nil)
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return opserrors.NewWriteFailed(kind.Label(), rec.SourceID(), fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, insertStatement(kind.Table(), columns), values...); err != nil {
		return classifyWriteError(kind, rec.SourceID(), err)
	}

	if err := saveCheckpoint(ctx, tx, cp); err != nil {
		return opserrors.NewCheckpointFailed("save", err)
	}

	if err := tx.Commit(); err != nil {
		return opserrors.NewWriteFailed(kind.Label(), rec.SourceID(), fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

func insertStatement(table string, columns []string) string {
	quoted := make([]string, len(columns))
	params := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = pq.QuoteIdentifier(c)
		params[i] = fmt.Sprintf("$%d", i+1)
		if c == "attributes" {
			params[i] += "::jsonb"
		}
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		pq.QuoteIdentifier(table), strings.Join(quoted, ", "), strings.Join(params, ", "))
}

// classifyWriteError maps PostgreSQL error classes onto typed write errors.
func classifyWriteError(kind records.Kind, sourceID string, err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return opserrors.NewWriteFailed(kind.Label(), sourceID, err)
	}

	switch {
	case pqErr.Code == "23505" && strings.HasSuffix(pqErr.Constraint, "_source_id_key"):
		return opserrors.NewDuplicateRecord(kind.Label(), sourceID, err)
	case pqErr.Code.Class() == "23":
		constraint := pqErr.Constraint
		if constraint == "" {
			constraint = pqErr.Code.Name()
		}
		return opserrors.NewConstraintViolation(kind.Label(), sourceID, constraint, err)
	case pqErr.Code.Class() == "22":
		return opserrors.NewSchemaMismatch(kind.Label(), sourceID, pqErr.Message, err)
	case pqErr.Code == "42P01" || pqErr.Code == "42703":
		return opserrors.NewSchemaMismatch(kind.Label(), sourceID,
			"destination schema is missing or outdated; run 'memeops migrate schema'", err)
	}
	return opserrors.NewWriteFailed(kind.Label(), sourceID, err)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func saveCheckpoint(ctx context.Context, ex execer, cp Checkpoint) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO migration_checkpoint (id, run_id, kind, record_offset, status, updated_at)
		VALUES (1, $1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE SET
			run_id = EXCLUDED.run_id,
			kind = EXCLUDED.kind,
			record_offset = EXCLUDED.record_offset,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at`,
		cp.RunID, string(cp.Kind), cp.Offset, string(cp.Status),
	)
	return err
}

// LoadCheckpoint returns the stored checkpoint, or nil if none exists.
func (d *PostgresDestination) LoadCheckpoint(ctx context.Context) (*Checkpoint, error) {
	var (
		cp     Checkpoint
		kind   string
		status string
	)
	err := d.db.QueryRowContext(ctx,
		`SELECT run_id, kind, record_offset, status, updated_at
		 FROM migration_checkpoint WHERE id = 1`,
	).Scan(&cp.RunID, &kind, &cp.Offset, &status, &cp.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, opserrors.NewCheckpointFailed("load", err)
	}
	if cp.Kind, err = records.ParseKind(kind); err != nil {
		return nil, opserrors.NewCheckpointFailed("load", err)
	}
	cp.Status = CheckpointStatus(status)
	return &cp, nil
}

// SaveCheckpoint stores cp, replacing any previous checkpoint.
func (d *PostgresDestination) SaveCheckpoint(ctx context.Context, cp Checkpoint) error {
	if err := saveCheckpoint(ctx, d.db, cp); err != nil {
		return opserrors.NewCheckpointFailed("save", err)
	}
	return nil
}

// ClearCheckpoint removes the checkpoint.
func (d *PostgresDestination) ClearCheckpoint(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM migration_checkpoint`); err != nil {
		return opserrors.NewCheckpointFailed("clear", err)
	}
	return nil
}

// RecordRun persists the audit entry for a finished run.
func (d *PostgresDestination) RecordRun(ctx context.Context, run RunRecord) error {
	counts, err := json.Marshal(run.Counts)
	if err != nil {
		counts = []byte("{}")
	}

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO migration_runs (
			run_id, resumed_from, started_at, finished_at, success, counts, error_message
		) VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)`,
		run.RunID,
		nullableString(run.ResumedFrom),
		run.StartedAt,
		run.FinishedAt,
		run.Success,
		string(counts),
		nullableString(run.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to persist run audit: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (d *PostgresDestination) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT run_id, resumed_from, started_at, finished_at, success, counts, error_message
		FROM migration_runs
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []RunRecord{}
	for rows.Next() {
		var (
			run         RunRecord
			resumedFrom sql.NullString
			errMsg      sql.NullString
			counts      []byte
		)
		if err := rows.Scan(&run.RunID, &resumedFrom, &run.StartedAt, &run.FinishedAt, &run.Success, &counts, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.ResumedFrom = resumedFrom.String
		run.Error = errMsg.String
		if err := json.Unmarshal(counts, &run.Counts); err != nil {
			return nil, fmt.Errorf("failed to decode run counts: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// Close releases the database handle.
func (d *PostgresDestination) Close() error {
	return d.db.Close()
}

// nullableString converts empty strings to nil for SQL NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
