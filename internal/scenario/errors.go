package scenario

import (
	"fmt"
	"strings"
)

// ConfigError reports a structurally invalid scenario: a duplicate task
// name, a reference to an undeclared dependency, or a dependency cycle.
// It is returned before any action executes and is never retried.
type ConfigError struct {
	// Task is the task whose declaration is at fault, when known.
	Task string
	// Missing is the undeclared dependency name, if that is the fault.
	Missing string
	// Cycle holds the ordered task names forming a cycle, if one was
	// found. The first and last entries are the same task.
	Cycle []string
}

func (e *ConfigError) Error() string {
	switch {
	case e.Missing != "":
		return fmt.Sprintf("scenario: task %q depends on undeclared task %q", e.Task, e.Missing)
	case len(e.Cycle) > 0:
		return fmt.Sprintf("scenario: dependency cycle: %s", strings.Join(e.Cycle, " -> "))
	default:
		return fmt.Sprintf("scenario: invalid declaration for task %q", e.Task)
	}
}

// StalledError is the terminal outcome of a run in which one or more tasks
// failed and no remaining pending task could ever become ready. The lists
// are sorted by task name.
type StalledError struct {
	Failed      []string
	Unreachable []string
}

func (e *StalledError) Error() string {
	return fmt.Sprintf("scenario: run stalled: %d task(s) failed (%s), %d unreachable",
		len(e.Failed), strings.Join(e.Failed, ", "), len(e.Unreachable))
}
