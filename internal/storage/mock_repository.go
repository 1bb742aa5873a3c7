package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	opserrors "github.com/memeplatform/memeops/internal/errors"
	"github.com/memeplatform/memeops/internal/records"
)

// MockDestination is an in-memory implementation of Destination for testing.
// It enforces source id uniqueness like the real schema, and stores the
// checkpoint atomically with each row.
type MockDestination struct {
	mu         sync.RWMutex
	rows       map[records.Kind][]records.Record
	sourceIDs  map[records.Kind]map[string]bool
	checkpoint *Checkpoint
	runs       []RunRecord

	// Test helper fields for simulating failures
	connectivityFailure error
	insertFailures      map[records.Kind]insertFailure
	insertAttempts      []records.Kind
	connectivityChecks  int
	closed              bool
}

type insertFailure struct {
	after int
	err   error
}

// NewMockDestination creates a new empty mock destination.
func NewMockDestination() *MockDestination {
	return &MockDestination{
		rows:           make(map[records.Kind][]records.Record),
		sourceIDs:      make(map[records.Kind]map[string]bool),
		insertFailures: make(map[records.Kind]insertFailure),
	}
}

// checkContext verifies the context is not cancelled or timed out.
func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// SetConnectivityFailure makes CheckConnectivity fail with cause.
func (d *MockDestination) SetConnectivityFailure(cause error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connectivityFailure = cause
}

// FailInsertAfter makes inserts of kind fail with err once n rows of that
// kind are present.
func (d *MockDestination) FailInsertAfter(kind records.Kind, n int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.insertFailures[kind] = insertFailure{after: n, err: err}
}

// ClearInsertFailures removes every simulated insert failure.
func (d *MockDestination) ClearInsertFailures() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.insertFailures = make(map[records.Kind]insertFailure)
}

// Rows returns the records stored for kind, in insertion order.
func (d *MockDestination) Rows(kind records.Kind) []records.Record {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]records.Record(nil), d.rows[kind]...)
}

// InsertAttempts lists the kind of every Insert call, in order.
func (d *MockDestination) InsertAttempts() []records.Kind {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]records.Kind(nil), d.insertAttempts...)
}

// ConnectivityChecks reports how often CheckConnectivity was called.
func (d *MockDestination) ConnectivityChecks() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connectivityChecks
}

// Closed reports whether Close was called.
func (d *MockDestination) Closed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.closed
}

// Runs returns the recorded run audit entries in insertion order.
func (d *MockDestination) Runs() []RunRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]RunRecord(nil), d.runs...)
}

func (d *MockDestination) CheckConnectivity(ctx context.Context) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connectivityChecks++
	if d.connectivityFailure != nil {
		return opserrors.NewDestinationUnavailable(d.connectivityFailure)
	}
	return nil
}

func (d *MockDestination) CountRows(ctx context.Context, kind records.Kind) (int64, error) {
	if err := checkContext(ctx); err != nil {
		return 0, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return int64(len(d.rows[kind])), nil
}

func (d *MockDestination) Insert(ctx context.Context, rec records.Record, cp Checkpoint) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	kind := rec.Kind()
	values, err := rec.Values()
	if err != nil {
		return opserrors.NewSchemaMismatch(kind.Label(), rec.SourceID(), "attributes cannot be encoded as JSON", err)
	}
	if len(values) != len(rec.Columns()) {
		return opserrors.NewSchemaMismatch(kind.Label(), rec.SourceID(), "column count mismatch", nil)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.insertAttempts = append(d.insertAttempts, kind)

	if d.connectivityFailure != nil {
		return opserrors.NewWriteFailed(kind.Label(), rec.SourceID(), d.connectivityFailure)
	}
	if f, ok := d.insertFailures[kind]; ok && len(d.rows[kind]) >= f.after {
		var typed interface{ OpsCode() opserrors.ErrorCode }
		if errors.As(f.err, &typed) {
			return f.err
		}
		return opserrors.NewWriteFailed(kind.Label(), rec.SourceID(), f.err)
	}

	ids := d.sourceIDs[kind]
	if ids == nil {
		ids = make(map[string]bool)
		d.sourceIDs[kind] = ids
	}
	if ids[rec.SourceID()] {
		return opserrors.NewDuplicateRecord(kind.Label(), rec.SourceID(), errors.New("unique constraint "+kind.Table()+"_source_id_key"))
	}

	ids[rec.SourceID()] = true
	d.rows[kind] = append(d.rows[kind], rec)
	stored := cp
	stored.UpdatedAt = time.Now()
	d.checkpoint = &stored
	return nil
}

func (d *MockDestination) LoadCheckpoint(ctx context.Context) (*Checkpoint, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.checkpoint == nil {
		return nil, nil
	}
	cp := *d.checkpoint
	return &cp, nil
}

func (d *MockDestination) SaveCheckpoint(ctx context.Context, cp Checkpoint) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	cp.UpdatedAt = time.Now()
	d.checkpoint = &cp
	return nil
}

func (d *MockDestination) ClearCheckpoint(ctx context.Context) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.checkpoint = nil
	return nil
}

func (d *MockDestination) RecordRun(ctx context.Context, run RunRecord) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.connectivityFailure != nil {
		return opserrors.NewDestinationUnavailable(d.connectivityFailure)
	}
	d.runs = append(d.runs, run)
	return nil
}

func (d *MockDestination) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	runs := append([]RunRecord(nil), d.runs...)
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	if runs == nil {
		runs = []RunRecord{}
	}
	return runs, nil
}

func (d *MockDestination) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}
