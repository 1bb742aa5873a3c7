package migrator_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	opserrors "github.com/memeplatform/memeops/internal/errors"
	"github.com/memeplatform/memeops/internal/migrator"
	"github.com/memeplatform/memeops/internal/records"
	"github.com/memeplatform/memeops/internal/source"
	"github.com/memeplatform/memeops/internal/storage"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func tokens(n int) []records.Document {
	docs := make([]records.Document, n)
	for i := range docs {
		docs[i] = records.Document{
			"_id":         fmt.Sprintf("tok%02d", i),
			"__v":         int32(0),
			"name":        fmt.Sprintf("Meme %d", i),
			"symbol":      fmt.Sprintf("M%d", i),
			"totalSupply": int64(1_000_000_000),
		}
	}
	return docs
}

func trades(n int) []records.Document {
	docs := make([]records.Document, n)
	for i := range docs {
		docs[i] = records.Document{
			"_id":          fmt.Sprintf("trd%02d", i),
			"tokenAddress": "mint0",
			"type":         "buy",
			"amount":       float64(i + 1),
			"timestamp":    epoch,
		}
	}
	return docs
}

func users(n int) []records.Document {
	docs := make([]records.Document, n)
	for i := range docs {
		docs[i] = records.Document{
			"_id":           fmt.Sprintf("usr%02d", i),
			"walletAddress": fmt.Sprintf("wallet%02d", i),
		}
	}
	return docs
}

func newSource(nTokens, nTrades, nUsers int) *source.MemorySource {
	return source.NewMemorySource().
		Add(records.KindToken, tokens(nTokens)...).
		Add(records.KindTrade, trades(nTrades)...).
		Add(records.KindUser, users(nUsers)...)
}

func newRunner(src source.Source, dst storage.Destination, runID string, opts ...migrator.Option) *migrator.Runner {
	base := []migrator.Option{
		migrator.WithClock(func() time.Time { return epoch }),
		migrator.WithRunID(func() string { return runID }),
	}
	return migrator.New(src, dst, append(base, opts...)...)
}

func assertRows(t *testing.T, dst *storage.MockDestination, want map[records.Kind]int) {
	t.Helper()
	for _, kind := range records.Kinds() {
		if got := len(dst.Rows(kind)); got != want[kind] {
			t.Errorf("%s rows = %d, want %d", kind, got, want[kind])
		}
	}
}

// TestRun_MigratesEveryKind covers the reference example: three tokens, five
// trades and no users.
//
// Green-Flag: row counts per kind equal the source document counts.
func TestRun_MigratesEveryKind(t *testing.T) {
	src := newSource(3, 5, 0)
	dst := storage.NewMockDestination()
	core, logs := observer.New(zapcore.InfoLevel)

	var progress []migrator.KindReport
	runner := newRunner(src, dst, "run-1",
		migrator.WithLogger(zap.New(core)),
		migrator.WithProgress(func(k migrator.KindReport) { progress = append(progress, k) }),
	)

	report, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !report.Success || report.Error != "" || report.Resumed {
		t.Errorf("unexpected report state: %+v", report)
	}

	want := map[records.Kind]int{records.KindToken: 3, records.KindTrade: 5, records.KindUser: 0}
	if diff := cmp.Diff(want, report.Counts()); diff != "" {
		t.Errorf("counts mismatch (-want +got):\n%s", diff)
	}
	assertRows(t, dst, want)

	wantProgress := []migrator.KindReport{
		{Kind: records.KindToken, Migrated: 3},
		{Kind: records.KindTrade, Migrated: 5},
		{Kind: records.KindUser, Migrated: 0},
	}
	if diff := cmp.Diff(wantProgress, progress); diff != "" {
		t.Errorf("progress mismatch (-want +got):\n%s", diff)
	}

	migrated := logs.FilterMessage("migrated").All()
	if len(migrated) != 3 {
		t.Fatalf("expected 3 migrated log lines, got %d", len(migrated))
	}
	for i, kind := range records.Kinds() {
		fields := migrated[i].ContextMap()
		if fields["kind"] != string(kind) {
			t.Errorf("log line %d: kind = %v, want %s", i, fields["kind"], kind)
		}
		if fields["count"] != int64(want[kind]) {
			t.Errorf("log line %d: count = %v, want %d", i, fields["count"], want[kind])
		}
	}

	cp, err := dst.LoadCheckpoint(context.Background())
	if err != nil || cp == nil || cp.Status != storage.CheckpointCompleted {
		t.Errorf("expected completed checkpoint, got %+v (%v)", cp, err)
	}

	runs := dst.Runs()
	if len(runs) != 1 || !runs[0].Success || runs[0].Counts[records.KindTrade] != 5 {
		t.Errorf("unexpected audit: %+v", runs)
	}
}

func TestRun_EmptySource(t *testing.T) {
	dst := storage.NewMockDestination()

	report, err := newRunner(newSource(0, 0, 0), dst, "run-1").Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !report.Success || report.Total() != 0 {
		t.Errorf("unexpected report: %+v", report)
	}
	if len(report.Kinds) != 3 {
		t.Errorf("expected all three kinds reported, got %d", len(report.Kinds))
	}
	assertRows(t, dst, nil)
}

func TestRun_DefaultRunIDIsUUID(t *testing.T) {
	report, err := migrator.New(newSource(1, 0, 0), storage.NewMockDestination()).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := uuid.Parse(report.RunID); err != nil {
		t.Errorf("run id %q is not a uuid: %v", report.RunID, err)
	}
}

// Red-Flag: an unreachable destination writes nothing.
func TestRun_DestinationUnavailable(t *testing.T) {
	dst := storage.NewMockDestination()
	dst.SetConnectivityFailure(errors.New("connection refused"))

	report, err := newRunner(newSource(3, 5, 2), dst, "run-1").Run(context.Background())
	var unavailable *opserrors.ErrDestinationUnavailable
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected ErrDestinationUnavailable, got %v", err)
	}
	if report == nil || report.Success || report.Error == "" {
		t.Errorf("report must record the failure: %+v", report)
	}
	if len(dst.InsertAttempts()) != 0 {
		t.Errorf("expected no inserts, got %d", len(dst.InsertAttempts()))
	}
	assertRows(t, dst, nil)
}

// Red-Flag: when the source fails the destination is never contacted.
func TestRun_SourceUnavailable(t *testing.T) {
	src := newSource(3, 5, 2)
	src.SetUnavailable(errors.New("server selection timeout"))
	dst := storage.NewMockDestination()

	report, err := newRunner(src, dst, "run-1").Run(context.Background())
	var unavailable *opserrors.ErrSourceUnavailable
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
	if report.Success {
		t.Error("report must not be successful")
	}
	if dst.ConnectivityChecks() != 0 || len(dst.InsertAttempts()) != 0 {
		t.Errorf("destination was contacted: %d checks, %d inserts", dst.ConnectivityChecks(), len(dst.InsertAttempts()))
	}
	if len(dst.Runs()) != 0 {
		t.Error("no audit entry may be written when the destination was never reached")
	}
	if len(src.Fetched()) != 0 {
		t.Errorf("expected no fetches, got %v", src.Fetched())
	}
}

// TestRun_FailureAfterTokenPhase verifies the fixed kind order: a failure on
// the first trade leaves no trade or user rows behind.
func TestRun_FailureAfterTokenPhase(t *testing.T) {
	src := newSource(3, 5, 2)
	dst := storage.NewMockDestination()
	dst.FailInsertAfter(records.KindTrade, 0, errors.New("disk full"))

	report, err := newRunner(src, dst, "run-1").Run(context.Background())
	var writeErr *opserrors.ErrWriteFailed
	if !errors.As(err, &writeErr) {
		t.Fatalf("expected ErrWriteFailed, got %v", err)
	}
	assertRows(t, dst, map[records.Kind]int{records.KindToken: 3})

	if diff := cmp.Diff([]records.Kind{records.KindToken, records.KindTrade}, src.Fetched()); diff != "" {
		t.Errorf("fetch order mismatch (-want +got):\n%s", diff)
	}
	if report.Counts()[records.KindToken] != 3 || report.Counts()[records.KindTrade] != 0 {
		t.Errorf("unexpected counts: %v", report.Counts())
	}

	runs := dst.Runs()
	if len(runs) != 1 || runs[0].Success || runs[0].Error == "" {
		t.Errorf("failed run must be audited: %+v", runs)
	}
}

func TestRun_InvalidRecordAbortsBeforeWritingKind(t *testing.T) {
	src := newSource(3, 0, 0)
	src.Add(records.KindTrade, records.Document{"_id": "bad", "tokenAddress": "mint0", "type": "buy"})
	dst := storage.NewMockDestination()

	_, err := newRunner(src, dst, "run-1").Run(context.Background())
	var invalid *opserrors.ErrRecordInvalid
	if !errors.As(err, &invalid) {
		t.Fatalf("expected ErrRecordInvalid, got %v", err)
	}
	if invalid.Kind != "Trade" || invalid.SourceID != "bad" || invalid.Field != "amount" {
		t.Errorf("unexpected error details: kind=%s id=%s field=%s", invalid.Kind, invalid.SourceID, invalid.Field)
	}
	assertRows(t, dst, map[records.Kind]int{records.KindToken: 3})
}

// Red-Flag: a document whose attributes cannot be stored must fail the kind
// before its first row is written.
func TestRun_UnencodableAttributeAbortsBeforeWritingKind(t *testing.T) {
	docs := tokens(3)
	docs[2]["score"] = math.NaN()
	src := source.NewMemorySource().Add(records.KindToken, docs...)
	dst := storage.NewMockDestination()

	_, err := newRunner(src, dst, "run-1").Run(context.Background())
	var invalid *opserrors.ErrRecordInvalid
	if !errors.As(err, &invalid) {
		t.Fatalf("expected ErrRecordInvalid, got %v", err)
	}
	if invalid.SourceID != "tok02" || invalid.Field != "score" {
		t.Errorf("unexpected error details: id=%s field=%s", invalid.SourceID, invalid.Field)
	}
	assertRows(t, dst, map[records.Kind]int{})
	if n := len(dst.InsertAttempts()); n != 0 {
		t.Errorf("expected no insert attempts, got %d", n)
	}
}

// Red-Flag: running twice must not write a second copy.
func TestRun_RerunAfterSuccessFails(t *testing.T) {
	src := newSource(3, 5, 1)
	dst := storage.NewMockDestination()

	if _, err := newRunner(src, dst, "run-1").Run(context.Background()); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	attempts := len(dst.InsertAttempts())

	report, err := newRunner(src, dst, "run-2").Run(context.Background())
	var done *opserrors.ErrAlreadyMigrated
	if !errors.As(err, &done) {
		t.Fatalf("expected ErrAlreadyMigrated, got %v", err)
	}
	if done.RunID != "run-1" {
		t.Errorf("expected completed run id run-1, got %s", done.RunID)
	}
	if report.Total() != 0 {
		t.Errorf("expected no rows migrated, got %d", report.Total())
	}
	if len(dst.InsertAttempts()) != attempts {
		t.Error("second run attempted inserts")
	}
	assertRows(t, dst, map[records.Kind]int{records.KindToken: 3, records.KindTrade: 5, records.KindUser: 1})
}

func TestRun_PopulatedDestinationWithoutCheckpointFails(t *testing.T) {
	src := newSource(3, 5, 1)
	dst := storage.NewMockDestination()
	if _, err := newRunner(src, dst, "run-1").Run(context.Background()); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if err := dst.ClearCheckpoint(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := newRunner(src, dst, "run-2").Run(context.Background())
	var populated *opserrors.ErrDestinationPopulated
	if !errors.As(err, &populated) {
		t.Fatalf("expected ErrDestinationPopulated, got %v", err)
	}
	if populated.Table != "tokens" || populated.Rows != 3 {
		t.Errorf("unexpected details: table=%s rows=%d", populated.Table, populated.Rows)
	}
	assertRows(t, dst, map[records.Kind]int{records.KindToken: 3, records.KindTrade: 5, records.KindUser: 1})
}

// Green-Flag: a run interrupted mid-kind resumes from its checkpoint and
// finishes without duplicates.
func TestRun_ResumesAfterMidKindFailure(t *testing.T) {
	src := newSource(3, 5, 2)
	dst := storage.NewMockDestination()
	dst.FailInsertAfter(records.KindTrade, 2, errors.New("connection reset"))

	if _, err := newRunner(src, dst, "run-1").Run(context.Background()); err == nil {
		t.Fatal("expected the first run to fail")
	}
	assertRows(t, dst, map[records.Kind]int{records.KindToken: 3, records.KindTrade: 2})

	dst.ClearInsertFailures()
	report, err := newRunner(src, dst, "run-2").Run(context.Background())
	if err != nil {
		t.Fatalf("resumed run failed: %v", err)
	}
	if !report.Resumed || report.ResumedFrom != "run-1" {
		t.Errorf("expected resume from run-1, got resumed=%v from=%q", report.Resumed, report.ResumedFrom)
	}

	want := []migrator.KindReport{
		{Kind: records.KindToken, Skipped: 3},
		{Kind: records.KindTrade, Migrated: 3, Skipped: 2},
		{Kind: records.KindUser, Migrated: 2},
	}
	if diff := cmp.Diff(want, report.Kinds); diff != "" {
		t.Errorf("kind reports mismatch (-want +got):\n%s", diff)
	}
	assertRows(t, dst, map[records.Kind]int{records.KindToken: 3, records.KindTrade: 5, records.KindUser: 2})

	seen := make(map[string]bool)
	for _, rec := range dst.Rows(records.KindTrade) {
		if seen[rec.SourceID()] {
			t.Errorf("duplicate trade %s", rec.SourceID())
		}
		seen[rec.SourceID()] = true
	}
}

func TestRun_ResumesAfterEmptyKind(t *testing.T) {
	src := newSource(0, 2, 1)
	dst := storage.NewMockDestination()
	dst.FailInsertAfter(records.KindTrade, 0, errors.New("connection reset"))

	if _, err := newRunner(src, dst, "run-1").Run(context.Background()); err == nil {
		t.Fatal("expected the first run to fail")
	}
	dst.ClearInsertFailures()

	report, err := newRunner(src, dst, "run-2").Run(context.Background())
	if err != nil {
		t.Fatalf("resumed run failed: %v", err)
	}
	if !report.Resumed {
		t.Error("expected the run to resume")
	}
	assertRows(t, dst, map[records.Kind]int{records.KindTrade: 2, records.KindUser: 1})
}

func TestRun_CheckpointAheadOfSource(t *testing.T) {
	dst := storage.NewMockDestination()
	err := dst.SaveCheckpoint(context.Background(), storage.Checkpoint{
		RunID: "run-0", Kind: records.KindToken, Offset: 10, Status: storage.CheckpointInProgress,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = newRunner(newSource(3, 0, 0), dst, "run-1").Run(context.Background())
	var mismatch *opserrors.ErrCheckpointMismatch
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected ErrCheckpointMismatch, got %v", err)
	}
	if opserrors.CodeOf(err) != opserrors.CodeState {
		t.Errorf("expected state code, got %s", opserrors.CodeOf(err))
	}
	assertRows(t, dst, nil)
}

func TestRun_RateLimitHonorsDeadline(t *testing.T) {
	dst := storage.NewMockDestination()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// A burst of two, then one insert every half second.
	_, err := newRunner(newSource(5, 0, 0), dst, "run-1", migrator.WithRateLimit(2)).Run(ctx)
	if err == nil {
		t.Fatal("expected the limiter to stop the run at the deadline")
	}
	assertRows(t, dst, map[records.Kind]int{records.KindToken: 2})
}

func TestRun_NonFiniteRateLimitIsUnlimited(t *testing.T) {
	for _, rate := range []float64{math.NaN(), math.Inf(1)} {
		dst := storage.NewMockDestination()
		if _, err := newRunner(newSource(3, 2, 1), dst, "run-1", migrator.WithRateLimit(rate)).Run(context.Background()); err != nil {
			t.Fatalf("rate %v: unexpected error: %v", rate, err)
		}
		assertRows(t, dst, map[records.Kind]int{records.KindToken: 3, records.KindTrade: 2, records.KindUser: 1})
	}
}

func TestRun_CancelledContext(t *testing.T) {
	dst := storage.NewMockDestination()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := newRunner(newSource(3, 0, 0), dst, "run-1").Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if report.Success {
		t.Error("cancelled run must not succeed")
	}
	assertRows(t, dst, nil)
}
