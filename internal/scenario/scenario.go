package scenario

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hwlab/siliflow/internal/ctxlog"
)

// Action is the executable body of a task. It either completes normally or
// returns an error; the scheduler never inspects what it does. The context
// carries the run logger and, when a task timeout is configured, a deadline.
type Action func(ctx context.Context) error

// task is a single named unit of work plus its run-time bookkeeping. All
// mutable fields are guarded by the owning Scenario's mutex.
type task struct {
	name       string
	action     Action
	deps       []string
	dependents []*task
	remaining  int
	status     Status
	err        error
	startedAt  time.Time
	finishedAt time.Time
}

// Scenario is a validated task graph bound to its actions, ready to run once.
type Scenario struct {
	order []*task
	tasks map[string]*task

	log         bool
	taskTimeout time.Duration

	ran atomic.Bool
	mu  sync.Mutex
	wg  sync.WaitGroup
}

// Option configures a Scenario at build time.
type Option func(*Scenario)

// WithLogging enables one log event per task transition plus a run summary.
// The logger is taken from the context passed to Run.
func WithLogging(enabled bool) Option {
	return func(s *Scenario) { s.log = enabled }
}

// WithTaskTimeout bounds each action with a context deadline. An action that
// honors its context is recorded as failed when the deadline expires instead
// of occupying a worker slot forever.
func WithTaskTimeout(d time.Duration) Option {
	return func(s *Scenario) { s.taskTimeout = d }
}

// New builds a Scenario from plain maps, the minimal construction contract:
// every key of deps must be a key of actions, and every referenced
// dependency must be a declared task. Admission ties are broken by
// lexicographic task name so that repeated runs over an unchanged graph
// admit tasks in the same order. Returns a *ConfigError on an invalid graph.
func New(actions map[string]Action, deps map[string][]string, opts ...Option) (*Scenario, error) {
	names := make([]string, 0, len(actions))
	for name := range actions {
		names = append(names, name)
	}
	sort.Strings(names)

	b := NewBuilder()
	for _, name := range names {
		if err := b.Add(name, actions[name], deps[name]...); err != nil {
			return nil, err
		}
	}
	for name := range deps {
		if _, ok := actions[name]; !ok {
			return nil, &ConfigError{Task: name, Missing: name}
		}
	}
	return b.Build(opts...)
}

// Run drives every task to a terminal state using a pool of exactly
// `workers` goroutines. It blocks until no further progress is possible and
// returns the outcome ledger. When one or more tasks failed the returned
// error is a *StalledError carrying the failed and unreachable task names;
// the Report is valid in either case. A Scenario is single-use.
func (s *Scenario) Run(ctx context.Context, workers int) (*Report, error) {
	if workers < 1 {
		return nil, fmt.Errorf("scenario: worker count must be at least 1, got %d", workers)
	}
	if !s.ran.CompareAndSwap(false, true) {
		return nil, errors.New("scenario: Run called on an already-used Scenario; build a fresh one per pass")
	}

	logger := s.logger(ctx)
	logger.Info("scenario starting", "tasks", len(s.order), "workers", workers)

	// Buffer holds every task so workers never block on enqueue.
	ready := make(chan *task, len(s.order))
	for _, t := range s.order {
		if t.remaining == 0 {
			ready <- t
		}
	}

	s.wg.Add(len(s.order))
	for i := 0; i < workers; i++ {
		go s.worker(ctx, ready, logger.With("worker", i))
	}
	s.wg.Wait()
	close(ready)

	rep := s.report()
	counts := rep.Counts()
	logger.Info("scenario finished",
		"state", rep.FinalState.String(),
		"succeeded", counts[StatusSucceeded],
		"failed", counts[StatusFailed],
		"unreachable", counts[StatusUnreachable],
	)

	if rep.FinalState == StateStalled {
		return rep, &StalledError{Failed: rep.Failed, Unreachable: rep.Unreachable}
	}
	return rep, nil
}

// worker pulls ready tasks and executes them until the channel drains.
func (s *Scenario) worker(ctx context.Context, ready chan *task, logger *slog.Logger) {
	for t := range ready {
		if ctx.Err() != nil {
			s.mu.Lock()
			t.status = StatusFailed
			t.err = ctx.Err()
			t.finishedAt = time.Now()
			logger.Warn("task abandoned, run context canceled", "task", t.name)
			s.retireDependents(t, logger)
			s.mu.Unlock()
			s.wg.Done()
			continue
		}

		s.mu.Lock()
		t.status = StatusRunning
		t.startedAt = time.Now()
		s.mu.Unlock()
		logger.Info("task running", "task", t.name)

		err := s.invoke(ctx, t)

		s.mu.Lock()
		t.finishedAt = time.Now()
		if err != nil {
			t.status = StatusFailed
			t.err = err
			logger.Error("task failed", "task", t.name, "error", err)
			s.retireDependents(t, logger)
		} else {
			t.status = StatusSucceeded
			logger.Info("task succeeded", "task", t.name, "duration", t.finishedAt.Sub(t.startedAt))
			for _, dep := range t.dependents {
				dep.remaining--
				if dep.remaining == 0 && dep.status == StatusPending {
					ready <- dep
				}
			}
		}
		s.mu.Unlock()
		s.wg.Done()
	}
}

// invoke runs a single action, converting panics into task failures so one
// misbehaving action cannot take down the whole run.
func (s *Scenario) invoke(ctx context.Context, t *task) (err error) {
	if s.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.taskTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %q panicked: %v", t.name, r)
		}
	}()
	return t.action(ctx)
}

// retireDependents marks every still-pending transitive dependent of t as
// unreachable, exactly once each. Caller holds s.mu.
func (s *Scenario) retireDependents(t *task, logger *slog.Logger) {
	for _, dep := range t.dependents {
		if dep.status != StatusPending {
			continue
		}
		dep.status = StatusUnreachable
		dep.err = fmt.Errorf("unreachable: dependency %q did not succeed", t.name)
		logger.Warn("task unreachable", "task", dep.name, "blocked_by", t.name)
		s.wg.Done()
		s.retireDependents(dep, logger)
	}
}

func (s *Scenario) logger(ctx context.Context) *slog.Logger {
	if !s.log {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return ctxlog.FromContext(ctx)
}
