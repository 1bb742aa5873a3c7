// Package migrator copies every Token, Trade and User document from the
// source store into the destination store.
//
// A run is sequential and fail-fast: kinds are migrated in the fixed order of
// records.Kinds, each record is inserted once, and the first error aborts the
// run. The destination persists a checkpoint with every row, which lets an
// interrupted run be resumed and makes a repeated run fail deterministically.
package migrator

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	opserrors "github.com/memeplatform/memeops/internal/errors"
	"github.com/memeplatform/memeops/internal/records"
	"github.com/memeplatform/memeops/internal/source"
	"github.com/memeplatform/memeops/internal/storage"
)

// auditTimeout bounds the write of the run audit entry.
const auditTimeout = 5 * time.Second

// Runner executes one migration run.
type Runner struct {
	src      source.Source
	dst      storage.Destination
	logger   *zap.Logger
	limiter  *rate.Limiter
	now      func() time.Time
	newRunID func() string
	progress func(KindReport)
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRateLimit caps inserts per second. Zero, less, NaN or +Inf means
// unlimited.
func WithRateLimit(perSecond float64) Option {
	return func(r *Runner) {
		if perSecond <= 0 || math.IsNaN(perSecond) || math.IsInf(perSecond, 1) {
			r.limiter = nil
			return
		}
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithRunID replaces the run id generator.
func WithRunID(gen func() string) Option {
	return func(r *Runner) { r.newRunID = gen }
}

// WithProgress registers a callback invoked after each kind completes.
func WithProgress(fn func(KindReport)) Option {
	return func(r *Runner) { r.progress = fn }
}

// New creates a Runner reading from src and writing to dst.
func New(src source.Source, dst storage.Destination, opts ...Option) *Runner {
	r := &Runner{
		src:      src,
		dst:      dst,
		logger:   zap.NewNop(),
		now:      time.Now,
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the migration. The returned Report is never nil; on failure it
// holds the counts reached before the error.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	report := newReport(r.newRunID(), r.now().UTC())
	log := r.logger.With(zap.String("run_id", report.RunID))

	reachable, err := r.run(ctx, log, report)
	report.FinishedAt = r.now().UTC()
	if err != nil {
		report.Error = err.Error()
		log.Error("migration failed",
			zap.Error(err),
			zap.String("code", opserrors.CodeOf(err).String()),
			zap.Int("migrated", report.Total()),
		)
	} else {
		report.Success = true
		log.Info("migration complete",
			zap.Int("migrated", report.Total()),
			zap.Duration("duration", report.Duration()),
		)
	}

	if reachable {
		r.audit(ctx, log, report)
	}
	return report, err
}

// run reports whether the destination was reached, so the caller knows if an
// audit entry can be written.
func (r *Runner) run(ctx context.Context, log *zap.Logger, report *Report) (bool, error) {
	if err := r.src.Ping(ctx); err != nil {
		return false, err
	}
	log.Info("connected to source")

	if err := r.dst.CheckConnectivity(ctx); err != nil {
		return false, err
	}
	log.Info("connected to destination")

	start, err := r.preflight(ctx, log, report)
	if err != nil {
		return true, err
	}

	for i, kind := range records.Kinds() {
		switch {
		case start != nil && i < start.Kind.Position():
			n, err := r.dst.CountRows(ctx, kind)
			if err != nil {
				return true, err
			}
			report.kind(kind).Skipped = int(n)
			log.Info("skipped", zap.String("kind", string(kind)), zap.Int64("rows", n))
			if r.progress != nil {
				r.progress(*report.kind(kind))
			}
			continue
		case start != nil && kind == start.Kind:
			err = r.migrateKind(ctx, log, report, kind, start.Offset)
		default:
			err = r.migrateKind(ctx, log, report, kind, 0)
		}
		if err != nil {
			return true, err
		}
	}

	users := report.kind(records.KindUser)
	done := storage.Checkpoint{
		RunID:  report.RunID,
		Kind:   records.KindUser,
		Offset: users.Migrated + users.Skipped,
		Status: storage.CheckpointCompleted,
	}
	if err := r.dst.SaveCheckpoint(ctx, done); err != nil {
		return true, err
	}
	return true, nil
}

// preflight applies the re-run policy. It returns the checkpoint to resume
// from, or nil for a fresh run.
func (r *Runner) preflight(ctx context.Context, log *zap.Logger, report *Report) (*storage.Checkpoint, error) {
	cp, err := r.dst.LoadCheckpoint(ctx)
	if err != nil {
		return nil, err
	}

	if cp == nil {
		for _, kind := range records.Kinds() {
			n, err := r.dst.CountRows(ctx, kind)
			if err != nil {
				return nil, err
			}
			if n > 0 {
				return nil, opserrors.NewDestinationPopulated(kind.Table(), n)
			}
		}
		return nil, nil
	}

	switch cp.Status {
	case storage.CheckpointCompleted:
		return nil, opserrors.NewAlreadyMigrated(cp.RunID)
	case storage.CheckpointInProgress:
	default:
		return nil, opserrors.NewCheckpointFailed("load", fmt.Errorf("unknown status %q", cp.Status))
	}
	if cp.Kind.Position() < 0 {
		return nil, opserrors.NewCheckpointFailed("load", fmt.Errorf("unknown kind %q", cp.Kind))
	}

	report.Resumed = true
	report.ResumedFrom = cp.RunID
	log.Info("resuming from checkpoint",
		zap.String("resumed_from", cp.RunID),
		zap.String("kind", string(cp.Kind)),
		zap.Int("offset", cp.Offset),
	)
	return cp, nil
}

func (r *Runner) migrateKind(ctx context.Context, log *zap.Logger, report *Report, kind records.Kind, offset int) error {
	docs, err := r.src.Fetch(ctx, kind)
	if err != nil {
		return err
	}
	if offset > len(docs) {
		return opserrors.NewCheckpointMismatch(kind.Label(), offset, len(docs))
	}

	// Validate the whole batch before the first write of the kind.
	recs := make([]records.Record, len(docs))
	for i, doc := range docs {
		if recs[i], err = records.Parse(kind, doc); err != nil {
			return err
		}
	}

	kr := report.kind(kind)
	kr.Skipped = offset
	for i := offset; i < len(recs); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("rate limiter: %w", err)
			}
		}
		cp := storage.Checkpoint{
			RunID:  report.RunID,
			Kind:   kind,
			Offset: i + 1,
			Status: storage.CheckpointInProgress,
		}
		if err := r.dst.Insert(ctx, recs[i], cp); err != nil {
			return err
		}
		kr.Migrated++
	}

	// Empty or fully skipped kinds still advance the checkpoint.
	if kr.Migrated == 0 {
		cp := storage.Checkpoint{
			RunID:  report.RunID,
			Kind:   kind,
			Offset: len(recs),
			Status: storage.CheckpointInProgress,
		}
		if err := r.dst.SaveCheckpoint(ctx, cp); err != nil {
			return err
		}
	}

	log.Info("migrated",
		zap.String("kind", string(kind)),
		zap.Int("count", kr.Migrated),
		zap.Int("skipped", kr.Skipped),
	)
	if r.progress != nil {
		r.progress(*kr)
	}
	return nil
}

func (r *Runner) audit(ctx context.Context, log *zap.Logger, report *Report) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()
	if err := r.dst.RecordRun(ctx, report.ToRunRecord()); err != nil {
		log.Warn("failed to record run audit", zap.Error(err))
	}
}
