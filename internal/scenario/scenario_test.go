package scenario

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hwlab/siliflow/internal/ctxlog"
)

func noop(context.Context) error { return nil }

// countingAction returns an action that records how many times it ran.
func countingAction(n *atomic.Int32) Action {
	return func(context.Context) error {
		n.Add(1)
		return nil
	}
}

func TestRun_AllSucceed(t *testing.T) {
	t.Parallel()

	var runs [5]atomic.Int32
	b := NewBuilder()
	require.NoError(t, b.Add("mkdir", countingAction(&runs[0])))
	require.NoError(t, b.Add("generate", countingAction(&runs[1]), "mkdir"))
	require.NoError(t, b.Add("translate", countingAction(&runs[2]), "generate"))
	require.NoError(t, b.Add("place_and_route", countingAction(&runs[3]), "translate"))
	require.NoError(t, b.Add("extract_metrics", countingAction(&runs[4]), "place_and_route"))

	s, err := b.Build()
	require.NoError(t, err)

	rep, err := s.Run(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, rep.FinalState)
	assert.Empty(t, rep.Failed)
	assert.Empty(t, rep.Unreachable)
	for i := range runs {
		assert.Equal(t, int32(1), runs[i].Load(), "each task runs exactly once")
	}
}

func TestRun_ReportedStatusesAreTerminal(t *testing.T) {
	t.Parallel()

	b := NewBuilder()
	require.NoError(t, b.Add("ok", noop))
	require.NoError(t, b.Add("boom", func(context.Context) error { return errors.New("boom") }))
	require.NoError(t, b.Add("downstream", noop, "boom"))

	s, err := b.Build()
	require.NoError(t, err)

	rep, err := s.Run(context.Background(), 2)
	require.Error(t, err)
	for name, res := range rep.Tasks {
		assert.True(t, res.Status.Terminal(), "task %s finished in non-terminal status %s", name, res.Status)
	}

	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusRunning.Terminal())
}

func TestRun_DependencyOrder(t *testing.T) {
	t.Parallel()

	chain := []string{"mkdir", "generate", "translate", "place_and_route", "extract_metrics"}
	b := NewBuilder()
	for i, name := range chain {
		deps := []string{}
		if i > 0 {
			deps = append(deps, chain[i-1])
		}
		require.NoError(t, b.Add(name, func(context.Context) error {
			time.Sleep(time.Millisecond)
			return nil
		}, deps...))
	}

	s, err := b.Build()
	require.NoError(t, err)

	// Four slots available, but the chain must still serialize.
	rep, err := s.Run(context.Background(), 4)
	require.NoError(t, err)
	require.Equal(t, StateSuccess, rep.FinalState)

	for i := 1; i < len(chain); i++ {
		prev := rep.Tasks[chain[i-1]]
		cur := rep.Tasks[chain[i]]
		assert.False(t, cur.StartedAt.Before(prev.FinishedAt),
			"%s must not start before %s finished", chain[i], chain[i-1])
	}
}

func TestRun_ConcurrencyCap(t *testing.T) {
	t.Parallel()

	var current, peak atomic.Int32
	action := func(context.Context) error {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		current.Add(-1)
		return nil
	}

	actions := make(map[string]Action, 5)
	for i := 0; i < 5; i++ {
		actions[fmt.Sprintf("task_%d", i)] = action
	}
	s, err := New(actions, nil)
	require.NoError(t, err)

	rep, err := s.Run(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, rep.FinalState)
	assert.Equal(t, int32(2), peak.Load(), "exactly two tasks in flight at peak")
	assert.Len(t, rep.Tasks, 5)
	for name, res := range rep.Tasks {
		assert.Equal(t, StatusSucceeded, res.Status, name)
	}
}

func TestRun_FailureIsolatesBranch(t *testing.T) {
	t.Parallel()

	var succeeded sync.Map
	ok := func(name string) Action {
		return func(context.Context) error {
			succeeded.Store(name, true)
			return nil
		}
	}

	b := NewBuilder()
	require.NoError(t, b.Add("chain1.task1", func(context.Context) error {
		return errors.New("tool exited 1")
	}))
	require.NoError(t, b.Add("chain1.task2", ok("chain1.task2"), "chain1.task1"))
	require.NoError(t, b.Add("chain2.task1", ok("chain2.task1")))
	require.NoError(t, b.Add("chain2.task2", ok("chain2.task2"), "chain2.task1"))
	require.NoError(t, b.Add("chain3.task1", ok("chain3.task1")))
	require.NoError(t, b.Add("chain3.task2", ok("chain3.task2"), "chain3.task1"))

	s, err := b.Build()
	require.NoError(t, err)

	rep, err := s.Run(context.Background(), 1)
	require.Error(t, err)

	var stalled *StalledError
	require.ErrorAs(t, err, &stalled)
	assert.Equal(t, []string{"chain1.task1"}, stalled.Failed)
	assert.Equal(t, []string{"chain1.task2"}, stalled.Unreachable)

	assert.Equal(t, StateStalled, rep.FinalState)
	assert.Equal(t, StatusFailed, rep.Tasks["chain1.task1"].Status)
	assert.Equal(t, StatusUnreachable, rep.Tasks["chain1.task2"].Status)
	_, ran := succeeded.Load("chain1.task2")
	assert.False(t, ran, "dependent of a failed task must never run")
	for _, name := range []string{"chain2.task2", "chain3.task2"} {
		assert.Equal(t, StatusSucceeded, rep.Tasks[name].Status, "independent chains keep going")
	}
}

func TestRun_TransitiveUnreachable(t *testing.T) {
	t.Parallel()

	var bRan, cRan atomic.Bool
	b := NewBuilder()
	require.NoError(t, b.Add("a", func(context.Context) error { return errors.New("boom") }))
	require.NoError(t, b.Add("b", func(context.Context) error { bRan.Store(true); return nil }, "a"))
	require.NoError(t, b.Add("c", func(context.Context) error { cRan.Store(true); return nil }, "b"))

	s, err := b.Build()
	require.NoError(t, err)

	rep, err := s.Run(context.Background(), 3)
	require.Error(t, err)
	assert.Equal(t, []string{"a"}, rep.Failed)
	assert.Equal(t, []string{"b", "c"}, rep.Unreachable)
	assert.False(t, bRan.Load())
	assert.False(t, cRan.Load())
}

func TestRun_PanicIsRecorded(t *testing.T) {
	t.Parallel()

	b := NewBuilder()
	require.NoError(t, b.Add("panics", func(context.Context) error { panic("template missing") }))
	require.NoError(t, b.Add("independent", noop))

	s, err := b.Build()
	require.NoError(t, err)

	rep, err := s.Run(context.Background(), 2)
	require.Error(t, err)
	assert.Equal(t, StatusFailed, rep.Tasks["panics"].Status)
	assert.ErrorContains(t, rep.Tasks["panics"].Err, "panicked")
	assert.Equal(t, StatusSucceeded, rep.Tasks["independent"].Status)
}

func TestRun_TaskTimeout(t *testing.T) {
	t.Parallel()

	b := NewBuilder()
	require.NoError(t, b.Add("hangs", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	require.NoError(t, b.Add("quick", noop))

	s, err := b.Build(WithTaskTimeout(20 * time.Millisecond))
	require.NoError(t, err)

	rep, err := s.Run(context.Background(), 2)
	require.Error(t, err)
	assert.Equal(t, StatusFailed, rep.Tasks["hangs"].Status)
	assert.ErrorIs(t, rep.Tasks["hangs"].Err, context.DeadlineExceeded)
	assert.Equal(t, StatusSucceeded, rep.Tasks["quick"].Status)
}

func TestRun_SingleUse(t *testing.T) {
	t.Parallel()

	s, err := New(map[string]Action{"a": noop}, nil)
	require.NoError(t, err)

	_, err = s.Run(context.Background(), 1)
	require.NoError(t, err)

	_, err = s.Run(context.Background(), 1)
	assert.ErrorContains(t, err, "already-used")
}

func TestRun_WorkerCountValidation(t *testing.T) {
	t.Parallel()

	s, err := New(map[string]Action{"a": noop}, nil)
	require.NoError(t, err)

	_, err = s.Run(context.Background(), 0)
	assert.ErrorContains(t, err, "at least 1")
}

func TestRun_EmptyScenario(t *testing.T) {
	t.Parallel()

	s, err := New(nil, nil)
	require.NoError(t, err)

	rep, err := s.Run(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, rep.FinalState)
	assert.Empty(t, rep.Tasks)
}

func TestRun_DeterministicAdmission(t *testing.T) {
	t.Parallel()

	// Map-built scenarios admit independent tasks lexicographically, so a
	// single worker observes the same order on every run.
	for attempt := 0; attempt < 3; attempt++ {
		var mu sync.Mutex
		var seen []string
		record := func(name string) Action {
			return func(context.Context) error {
				mu.Lock()
				seen = append(seen, name)
				mu.Unlock()
				return nil
			}
		}
		actions := map[string]Action{
			"c": record("c"),
			"a": record("a"),
			"b": record("b"),
		}
		s, err := New(actions, nil)
		require.NoError(t, err)
		_, err = s.Run(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, seen)
	}
}

func TestRun_EmitsTransitionLog(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ctx := ctxlog.WithLogger(context.Background(), logger)

	s, err := New(map[string]Action{
		"good": noop,
		"bad":  func(context.Context) error { return errors.New("nope") },
	}, nil, WithLogging(true))
	require.NoError(t, err)

	_, err = s.Run(ctx, 2)
	require.Error(t, err)

	out := buf.String()
	assert.Contains(t, out, "task running")
	assert.Contains(t, out, "task succeeded")
	assert.Contains(t, out, "task failed")
	assert.Contains(t, out, "scenario finished")
	assert.Contains(t, out, "task=good")
	assert.Contains(t, out, "task=bad")
}

func TestRun_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s, err := New(map[string]Action{"a": noop, "b": noop}, nil)
	require.NoError(t, err)

	rep, err := s.Run(ctx, 2)
	require.Error(t, err)
	assert.Equal(t, StateStalled, rep.FinalState)
	for name, res := range rep.Tasks {
		assert.Equal(t, StatusFailed, res.Status, name)
	}
}
