package scenario

// Status is the lifecycle state of a single task within one run.
type Status int

const (
	// StatusPending means the task has not been admitted yet.
	StatusPending Status = iota
	// StatusRunning means the task's action is currently executing.
	StatusRunning
	// StatusSucceeded means the action completed without error. Terminal.
	StatusSucceeded
	// StatusFailed means the action returned an error or panicked. Terminal.
	StatusFailed
	// StatusUnreachable means the task was never admitted because an
	// upstream dependency did not succeed. Terminal.
	StatusUnreachable
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// Terminal reports whether a task in this state can change state again.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusUnreachable
}

// State is the terminal state of a whole run.
type State int

const (
	// StateSuccess means every task succeeded.
	StateSuccess State = iota
	// StateAborted means validation rejected the graph before execution.
	StateAborted
	// StateStalled means at least one task failed and every remaining
	// pending task depends, directly or transitively, on a failure.
	StateStalled
)

func (s State) String() string {
	switch s {
	case StateSuccess:
		return "success"
	case StateAborted:
		return "aborted"
	case StateStalled:
		return "stalled"
	default:
		return "unknown"
	}
}
