package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mirsync/internal/hash"
	"mirsync/internal/plan"
	"mirsync/internal/snapshot"
)

// WriteError reports a replica mutation that failed. Like read errors
// it is recorded on the report and the cycle continues; partial
// convergence beats no convergence.
type WriteError struct {
	Path string
	Op   plan.OpKind
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Syncer drives the replica tree to match the source tree. It holds no
// state between cycles: every RunCycle rescans both trees from disk,
// which makes the process self-healing against external tampering with
// the replica or a crashed prior cycle.
type Syncer struct {
	source  string
	replica string
	logger  *zap.Logger
}

func New(source, replica string, logger *zap.Logger) *Syncer {
	return &Syncer{source: source, replica: replica, logger: logger}
}

// RunCycle performs one full pass: scan source, scan replica, diff,
// apply. It is safe to call repeatedly at any cadence, but not
// concurrently against the same replica. A fatal source scan
// short-circuits with a failure report; per-file and per-operation
// errors are recorded and the pass continues.
func (s *Syncer) RunCycle(ctx context.Context) *CycleReport {
	report := &CycleReport{
		ID:        uuid.New().String(),
		Source:    s.source,
		Replica:   s.replica,
		StartedAt: time.Now(),
	}
	defer func() {
		report.FinishedAt = time.Now()
	}()

	s.logger.Info("starting synchronization",
		zap.String("cycle", report.ID),
		zap.String("source", s.source),
		zap.String("replica", s.replica))

	srcSnap, err := snapshot.Scan(s.source, s.logger)
	if err != nil {
		report.Fatal = err.Error()
		s.logger.Error("source scan failed, aborting cycle",
			zap.String("cycle", report.ID),
			zap.Error(err))
		return report
	}

	dstSnap, err := snapshot.Scan(s.replica, s.logger)
	if err != nil {
		// A missing replica root is not an error; it is created as
		// step zero of the apply phase.
		if !errors.Is(err, fs.ErrNotExist) {
			report.Fatal = err.Error()
			s.logger.Error("replica scan failed, aborting cycle",
				zap.String("cycle", report.ID),
				zap.Error(err))
			return report
		}
		dstSnap = snapshot.Empty(s.replica)
	}

	report.Skipped = len(srcSnap.Skipped) + len(dstSnap.Skipped)

	changePlan := plan.Diff(srcSnap, dstSnap)
	s.apply(ctx, changePlan, report)

	s.logger.Info("synchronization complete",
		zap.String("cycle", report.ID),
		zap.Int("dirs_created", report.DirsCreated),
		zap.Int("files_copied", report.FilesCopied),
		zap.Int("files_deleted", report.FilesDeleted),
		zap.Int("dirs_deleted", report.DirsDeleted),
		zap.Int("skipped", report.Skipped),
		zap.Int("failures", len(report.Failures)),
		zap.Duration("elapsed", time.Since(report.StartedAt)))

	return report
}

// apply executes the plan strictly in order. A cancelled context stops
// the pass between operations, never mid-copy; the next cycle picks up
// whatever is left.
func (s *Syncer) apply(ctx context.Context, changePlan plan.Plan, report *CycleReport) {
	if err := os.MkdirAll(s.replica, 0o755); err != nil {
		report.Fatal = fmt.Sprintf("creating replica root: %v", err)
		s.logger.Error("cannot create replica root",
			zap.String("replica", s.replica),
			zap.Error(err))
		return
	}

	for i, op := range changePlan {
		if ctx.Err() != nil {
			s.logger.Warn("cycle interrupted, remaining operations deferred to next cycle",
				zap.String("cycle", report.ID),
				zap.Int("remaining", len(changePlan)-i))
			return
		}

		if err := s.applyOp(op); err != nil {
			report.Failures = append(report.Failures, OpFailure{
				Path:  op.Path,
				Op:    op.Kind,
				Error: err.Error(),
			})
			s.logger.Warn("operation failed",
				zap.String("op", string(op.Kind)),
				zap.String("path", op.Path),
				zap.Error(err))
			continue
		}

		switch op.Kind {
		case plan.OpCreateDir:
			report.DirsCreated++
			s.logger.Info("created directory", zap.String("path", op.Path))
		case plan.OpCopyFile:
			report.FilesCopied++
			s.logger.Info("copied file", zap.String("path", op.Path))
		case plan.OpDeleteFile:
			report.FilesDeleted++
			s.logger.Info("removed file", zap.String("path", op.Path))
		case plan.OpDeleteDir:
			report.DirsDeleted++
			s.logger.Info("removed directory", zap.String("path", op.Path))
		}
	}
}

func (s *Syncer) applyOp(op plan.Operation) error {
	target := filepath.Join(s.replica, filepath.FromSlash(op.Path))

	switch op.Kind {
	case plan.OpCreateDir:
		// MkdirAll is a no-op for a directory that already exists,
		// which covers races with out-of-band replica changes.
		if err := os.MkdirAll(target, 0o755); err != nil {
			return &WriteError{Path: op.Path, Op: op.Kind, Err: err}
		}
	case plan.OpCopyFile:
		return s.copyFile(op, target)
	case plan.OpDeleteFile, plan.OpDeleteDir:
		if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
			return &WriteError{Path: op.Path, Op: op.Kind, Err: err}
		}
	default:
		return &WriteError{Path: op.Path, Op: op.Kind, Err: fmt.Errorf("unknown operation kind")}
	}

	return nil
}

// copyFile copies the full byte content from the source tree into the
// replica, overwriting any existing file and carrying over the source
// permission bits. Byte identity is verified by the next cycle's
// fingerprint comparison rather than re-read synchronously.
func (s *Syncer) copyFile(op plan.Operation, target string) error {
	srcPath := filepath.Join(s.source, filepath.FromSlash(op.Path))

	in, err := os.Open(srcPath)
	if err != nil {
		return &hash.ReadError{Path: op.Path, Err: err}
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return &hash.ReadError{Path: op.Path, Err: err}
	}

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return &WriteError{Path: op.Path, Op: op.Kind, Err: err}
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return &WriteError{Path: op.Path, Op: op.Kind, Err: err}
	}
	if err := out.Close(); err != nil {
		return &WriteError{Path: op.Path, Op: op.Kind, Err: err}
	}

	// O_CREATE leaves the mode of a pre-existing file untouched, so
	// reassert the source permissions on overwrite.
	if err := os.Chmod(target, info.Mode().Perm()); err != nil {
		return &WriteError{Path: op.Path, Op: op.Kind, Err: err}
	}

	return nil
}
