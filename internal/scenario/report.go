package scenario

import (
	"sort"
	"time"
)

// TaskResult is the per-task entry of a run's outcome ledger.
type TaskResult struct {
	Status     Status
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Report is the outcome of a completed run. Every registered task appears in
// Tasks in exactly one terminal state.
type Report struct {
	FinalState  State
	Tasks       map[string]TaskResult
	Failed      []string
	Unreachable []string
}

// Counts returns the number of tasks per terminal status.
func (r *Report) Counts() map[Status]int {
	counts := make(map[Status]int)
	for _, res := range r.Tasks {
		counts[res.Status]++
	}
	return counts
}

// report assembles the final Report from the task ledger. Callers must have
// finished execution; no lock is taken.
func (s *Scenario) report() *Report {
	rep := &Report{Tasks: make(map[string]TaskResult, len(s.tasks))}
	for name, t := range s.tasks {
		rep.Tasks[name] = TaskResult{
			Status:     t.status,
			Err:        t.err,
			StartedAt:  t.startedAt,
			FinishedAt: t.finishedAt,
		}
		switch t.status {
		case StatusFailed:
			rep.Failed = append(rep.Failed, name)
		case StatusUnreachable:
			rep.Unreachable = append(rep.Unreachable, name)
		}
	}
	sort.Strings(rep.Failed)
	sort.Strings(rep.Unreachable)

	if len(rep.Failed) > 0 || len(rep.Unreachable) > 0 {
		rep.FinalState = StateStalled
	} else {
		rep.FinalState = StateSuccess
	}
	return rep
}
