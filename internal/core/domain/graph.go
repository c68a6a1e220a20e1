package domain

import (
	"iter"
	"slices"
	"strings"

	"go.trai.ch/zerr"
)

// Graph is a validated dependency graph of tasks (spec §3, §4.1).
type Graph struct {
	tasks          map[InternedString]Task
	executionOrder []InternedString
	dependents     map[InternedString][]InternedString
	root           string
}

// NewGraph creates an empty Graph.
func NewGraph() *Graph {
	return &Graph{
		tasks: make(map[InternedString]Task),
	}
}

// AddTask adds a task to the graph, expanding it first if it carries a
// Matrix specification. Returns ErrEmptyTaskName, ErrDuplicateTaskName, or
// ErrInvalidMatrix.
func (g *Graph) AddTask(t *Task) error {
	if t.Name.String() == "" {
		return ErrEmptyTaskName
	}

	if t.Matrix == nil {
		if _, exists := g.tasks[t.Name]; exists {
			return zerr.With(ErrDuplicateTaskName, "task_name", t.Name.String())
		}
		g.tasks[t.Name] = *t
		return nil
	}

	expansions, err := expandMatrix(t)
	if err != nil {
		return err
	}
	for i := range expansions {
		name := expansions[i].Name
		if _, exists := g.tasks[name]; exists {
			return zerr.With(ErrDuplicateTaskName, "task_name", name.String())
		}
	}
	for i := range expansions {
		g.tasks[expansions[i].Name] = expansions[i]
	}
	return nil
}

// expandMatrix produces the Cartesian-product expansion of a matrixed task
// (spec §4.1 "Matrix expansion"). The base task itself is never added to the
// graph; only its expansions are.
func expandMatrix(base *Task) ([]Task, error) {
	m := base.Matrix
	if m == nil || len(m.Order) == 0 {
		return nil, zerr.With(ErrInvalidMatrix, "task_name", base.Name.String())
	}
	for _, dim := range m.Order {
		if len(m.Dimensions[dim]) == 0 {
			return nil, zerr.With(ErrInvalidMatrix, "task_name", base.Name.String(), "dimension", dim)
		}
	}

	combos := []map[string]string{{}}
	for _, dim := range m.Order {
		values := m.Dimensions[dim]
		next := make([]map[string]string, 0, len(combos)*len(values))
		for _, c := range combos {
			for _, v := range values {
				nc := make(map[string]string, len(c)+1)
				for k, vv := range c {
					nc[k] = vv
				}
				nc[dim] = v
				next = append(next, nc)
			}
		}
		combos = next
	}

	expansions := make([]Task, 0, len(combos))
	for _, combo := range combos {
		parts := make([]string, 0, len(m.Order))
		for _, dim := range m.Order {
			parts = append(parts, combo[dim])
		}
		name := base.Name.String() + "-" + strings.Join(parts, "-")

		clone := *base
		clone.Matrix = nil
		clone.Name = NewInternedString(name)

		env := make([]EnvVar, 0, len(base.Env)+len(m.Order))
		env = append(env, base.Env...)
		for _, dim := range m.Order {
			env = append(env, EnvVar{Key: strings.ToUpper(dim), Value: combo[dim]})
		}
		clone.Env = env

		expansions = append(expansions, clone)
	}
	return expansions, nil
}

// Validate runs the ordered validation pipeline from spec §4.1 steps 2-5,
// populating executionOrder and dependents on success.
func (g *Graph) Validate() error {
	if err := g.validateNames(); err != nil {
		return err
	}
	if err := g.validateDependenciesExist(); err != nil {
		return err
	}
	if err := g.detectCycles(); err != nil {
		return err
	}
	if err := g.validateArtifacts(); err != nil {
		return err
	}
	return nil
}

func (g *Graph) validateNames() error {
	for name, t := range g.tasks {
		for _, dep := range t.DependsOn {
			if dep == name {
				return zerr.With(ErrSelfDependency, "task_name", name.String())
			}
		}
	}
	return nil
}

func (g *Graph) validateDependenciesExist() error {
	for name, t := range g.tasks {
		for _, dep := range t.DependsOn {
			if _, ok := g.tasks[dep]; !ok {
				return zerr.With(ErrUnknownDependency, "task_name", name.String(), "dependency", dep.String())
			}
		}
	}
	return nil
}

// detectCycles performs a DFS-based cycle check and, on success, populates
// executionOrder (a valid topological order) and dependents (reverse adjacency).
func (g *Graph) detectCycles() error {
	g.executionOrder = make([]InternedString, 0, len(g.tasks))
	g.dependents = g.buildDependentsMap()

	visited := make(map[InternedString]int) // 0: unvisited, 1: visiting, 2: done
	var path []InternedString

	var visit func(u InternedString) error
	visit = func(u InternedString) error {
		visited[u] = 1
		path = append(path, u)

		task := g.tasks[u]
		for _, dep := range task.DependsOn {
			if visited[dep] == 1 {
				return g.buildCycleError(path, dep)
			}
			if visited[dep] == 0 {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}

		visited[u] = 2
		path = path[:len(path)-1]
		g.executionOrder = append(g.executionOrder, u)
		return nil
	}

	for _, name := range g.sortedTaskNames() {
		if visited[name] == 0 {
			if err := visit(name); err != nil {
				return err
			}
		}
	}
	return nil
}

func (g *Graph) buildCycleError(path []InternedString, dep InternedString) error {
	startIdx := 0
	for i, node := range path {
		if node == dep {
			startIdx = i
			break
		}
	}
	var b strings.Builder
	for i := startIdx; i < len(path); i++ {
		b.WriteString(path[i].String())
		b.WriteString(" -> ")
	}
	b.WriteString(dep.String())
	return zerr.With(ErrCycleDetected, "cycle", b.String())
}

// validateArtifacts implements spec §4.1 step 5: every task_inputs entry
// must reference a producer that exists, declares the named output, and is
// transitively reachable through depends_on.
func (g *Graph) validateArtifacts() error {
	for name, t := range g.tasks {
		for _, ti := range t.TaskInputs {
			producer, ok := g.tasks[ti.FromTask]
			if !ok {
				return zerr.With(ErrUnknownProducer, "task_name", name.String(), "producer", ti.FromTask.String())
			}
			if _, hasOutput := producer.Outputs[ti.Output]; !hasOutput {
				return zerr.With(ErrUnknownOutput, "task_name", name.String(), "producer", ti.FromTask.String(), "output", ti.Output)
			}
			if !g.dependsTransitively(name, ti.FromTask) {
				return zerr.With(ErrMissingArtifactDependency, "task_name", name.String(), "producer", ti.FromTask.String())
			}
		}
	}
	return nil
}

func (g *Graph) dependsTransitively(from, target InternedString) bool {
	visited := make(map[InternedString]bool)
	var walk func(u InternedString) bool
	walk = func(u InternedString) bool {
		if visited[u] {
			return false
		}
		visited[u] = true
		task := g.tasks[u]
		for _, dep := range task.DependsOn {
			if dep == target {
				return true
			}
			if walk(dep) {
				return true
			}
		}
		return false
	}
	return walk(from)
}

func (g *Graph) buildDependentsMap() map[InternedString][]InternedString {
	dependents := make(map[InternedString][]InternedString)
	for name, t := range g.tasks {
		for _, dep := range t.DependsOn {
			dependents[dep] = append(dependents[dep], name)
		}
	}
	return dependents
}

func (g *Graph) sortedTaskNames() []InternedString {
	names := make([]InternedString, 0, len(g.tasks))
	for name := range g.tasks {
		names = append(names, name)
	}
	slices.SortFunc(names, func(a, b InternedString) int {
		return strings.Compare(a.String(), b.String())
	})
	return names
}

// Walk yields tasks in a valid topological execution order. Call only after
// Validate has returned nil.
func (g *Graph) Walk() iter.Seq[Task] {
	return func(yield func(Task) bool) {
		for _, name := range g.executionOrder {
			if !yield(g.tasks[name]) {
				return
			}
		}
	}
}

// Dependents returns the tasks that directly depend on the given task.
func (g *Graph) Dependents(task InternedString) []InternedString {
	return g.dependents[task]
}

// TaskCount returns the number of tasks in the graph (post matrix-expansion).
func (g *Graph) TaskCount() int {
	return len(g.tasks)
}

// GetTask retrieves a task by name.
func (g *Graph) GetTask(name InternedString) (Task, bool) {
	t, ok := g.tasks[name]
	return t, ok
}

// Root returns the pipeline root directory.
func (g *Graph) Root() string { return g.root }

// SetRoot sets the pipeline root directory.
func (g *Graph) SetRoot(path string) { g.root = path }

// TopologicalLevels groups tasks into levels such that level 0 has no
// dependencies and level k depends only on tasks at levels < k (spec §4.1
// "Derived queries"). Call only after Validate has returned nil.
func (g *Graph) TopologicalLevels() [][]InternedString {
	level := make(map[InternedString]int, len(g.tasks))
	for _, name := range g.executionOrder {
		max := -1
		for _, dep := range g.tasks[name].DependsOn {
			if level[dep] > max {
				max = level[dep]
			}
		}
		level[name] = max + 1
	}

	var levels [][]InternedString
	for _, name := range g.executionOrder {
		l := level[name]
		for len(levels) <= l {
			levels = append(levels, nil)
		}
		levels[l] = append(levels[l], name)
	}
	for _, l := range levels {
		slices.SortFunc(l, func(a, b InternedString) int {
			return strings.Compare(a.String(), b.String())
		})
	}
	return levels
}

// Blocks returns the full transitive set of tasks that depend, directly or
// indirectly, on the named task.
func (g *Graph) Blocks(name InternedString) []InternedString {
	visited := make(map[InternedString]bool)
	var out []InternedString

	var walk func(u InternedString)
	walk = func(u InternedString) {
		for _, dep := range g.dependents[u] {
			if !visited[dep] {
				visited[dep] = true
				out = append(out, dep)
				walk(dep)
			}
		}
	}
	walk(name)

	slices.SortFunc(out, func(a, b InternedString) int {
		return strings.Compare(a.String(), b.String())
	})
	return out
}

// CriticalPath returns the longest-duration path through the DAG, using the
// supplied per-task duration map (milliseconds). Durations absent from the
// map are treated as zero. Call only after Validate has returned nil.
func (g *Graph) CriticalPath(durationMS map[string]int64) []InternedString {
	finish := make(map[InternedString]int64, len(g.tasks))
	prev := make(map[InternedString]InternedString)
	hasPrev := make(map[InternedString]bool)

	var best InternedString
	var bestFinish int64 = -1

	for _, name := range g.executionOrder {
		start := int64(0)
		var chosenPred InternedString
		hasPred := false
		for _, dep := range g.tasks[name].DependsOn {
			if finish[dep] > start {
				start = finish[dep]
				chosenPred = dep
				hasPred = true
			}
		}
		finish[name] = start + durationMS[name.String()]
		if hasPred {
			prev[name] = chosenPred
			hasPrev[name] = true
		}
		if finish[name] > bestFinish {
			bestFinish = finish[name]
			best = name
		}
	}

	if bestFinish < 0 {
		return nil
	}

	var path []InternedString
	for cur := best; ; {
		path = append(path, cur)
		if !hasPrev[cur] {
			break
		}
		cur = prev[cur]
	}
	slices.Reverse(path)
	return path
}
