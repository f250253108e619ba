package scenario

import (
	"fmt"
)

// Builder accumulates named actions and their dependencies in registration
// order. Registration order is the admission tie-break during execution, so
// building the same graph twice yields the same schedule.
type Builder struct {
	order   []string
	actions map[string]Action
	deps    map[string][]string
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{
		actions: make(map[string]Action),
		deps:    make(map[string][]string),
	}
}

// Add registers a task. The name must be unique and the action non-nil;
// dependencies may reference tasks registered later.
func (b *Builder) Add(name string, action Action, deps ...string) error {
	if name == "" {
		return fmt.Errorf("scenario: task name must not be empty")
	}
	if action == nil {
		return fmt.Errorf("scenario: task %q has a nil action", name)
	}
	if _, exists := b.actions[name]; exists {
		return fmt.Errorf("scenario: duplicate task name %q", name)
	}
	b.order = append(b.order, name)
	b.actions[name] = action
	b.deps[name] = append([]string(nil), deps...)
	return nil
}

// Len returns the number of registered tasks.
func (b *Builder) Len() int {
	return len(b.order)
}

// Names returns the registered task names in registration order.
func (b *Builder) Names() []string {
	return append([]string(nil), b.order...)
}

// Deps returns the declared dependencies of a registered task.
func (b *Builder) Deps(name string) []string {
	return append([]string(nil), b.deps[name]...)
}

// Build validates the accumulated graph and returns a runnable Scenario.
// Unknown dependency references and cycles yield a *ConfigError; nothing
// executes on the failure path.
func (b *Builder) Build(opts ...Option) (*Scenario, error) {
	s := &Scenario{tasks: make(map[string]*task, len(b.order))}
	for _, opt := range opts {
		opt(s)
	}

	for _, name := range b.order {
		t := &task{
			name:   name,
			action: b.actions[name],
			deps:   b.deps[name],
			status: StatusPending,
		}
		s.order = append(s.order, t)
		s.tasks[name] = t
	}

	// Link edges; dependents keep registration order for determinism.
	for _, t := range s.order {
		for _, depName := range t.deps {
			dep, ok := s.tasks[depName]
			if !ok {
				return nil, &ConfigError{Task: t.name, Missing: depName}
			}
			dep.dependents = append(dep.dependents, t)
		}
		t.remaining = len(t.deps)
	}

	if cycle := findCycle(s); cycle != nil {
		return nil, &ConfigError{Cycle: cycle}
	}
	return s, nil
}
