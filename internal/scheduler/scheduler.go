package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mirsync/internal/sync"
)

type state string

const (
	stateRunning state = "running"
	stateWaiting state = "waiting"
)

// Recorder receives each finished cycle report. Satisfied by
// journal.Journal; nil disables recording.
type Recorder interface {
	Append(*sync.CycleReport) error
}

// Options configures the scheduling loop.
type Options struct {
	// Interval is the target time between cycle starts. A cycle that
	// overruns it is followed immediately by the next one; cycles
	// never overlap.
	Interval time.Duration

	// Once runs a single cycle and returns, for one-shot invocations
	// and tests.
	Once bool

	Recorder Recorder
}

// Scheduler runs sync cycles back to back at a fixed interval until
// its context is cancelled. Cancellation is only honored while
// waiting; an in-flight cycle finishes its current operation first.
type Scheduler struct {
	syncer *sync.Syncer
	logger *zap.Logger
	opts   Options
	state  state
}

func New(syncer *sync.Syncer, logger *zap.Logger, opts Options) *Scheduler {
	return &Scheduler{syncer: syncer, logger: logger, opts: opts, state: stateWaiting}
}

// Run blocks until ctx is cancelled or, with Once set, after the first
// cycle. A cycle that fails does not stop the loop; the next tick
// retries from scratch.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		s.state = stateRunning
		report := s.syncer.RunCycle(ctx)

		if s.opts.Recorder != nil {
			if err := s.opts.Recorder.Append(report); err != nil {
				s.logger.Warn("recording cycle report", zap.Error(err))
			}
		}

		if s.opts.Once {
			return nil
		}

		s.state = stateWaiting
		if ctx.Err() != nil {
			s.logger.Info("shutdown requested, stopping")
			return nil
		}

		wait := s.opts.Interval - report.Duration()
		if wait <= 0 {
			s.logger.Info("cycle overran interval, starting next immediately",
				zap.Duration("elapsed", report.Duration()),
				zap.Duration("interval", s.opts.Interval))
			continue
		}

		s.logger.Info("sleeping until next cycle", zap.Duration("wait", wait))
		select {
		case <-ctx.Done():
			s.logger.Info("shutdown requested, stopping")
			return nil
		case <-time.After(wait):
		}
	}
}
