package scenario

// findCycle checks the graph for circular dependencies using depth-first
// search over the declared dependency edges. It returns the ordered task
// names forming the first cycle found (first and last entries equal), or
// nil when the graph is acyclic. Runs once at build time, before any task
// executes.
func findCycle(s *Scenario) []string {
	const (
		unvisited = iota
		visiting
		visited
	)
	state := make(map[string]int, len(s.tasks))
	var stack []string

	var visit func(t *task) []string
	visit = func(t *task) []string {
		state[t.name] = visiting
		stack = append(stack, t.name)

		for _, depName := range t.deps {
			dep := s.tasks[depName]
			switch state[dep.name] {
			case visiting:
				// Back-edge: slice the path from the first occurrence
				// of dep to here, then close the loop.
				for i, name := range stack {
					if name == dep.name {
						cycle := append([]string(nil), stack[i:]...)
						return append(cycle, dep.name)
					}
				}
			case unvisited:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}

		stack = stack[:len(stack)-1]
		state[t.name] = visited
		return nil
	}

	for _, t := range s.order {
		if state[t.name] == unvisited {
			if cycle := visit(t); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}
