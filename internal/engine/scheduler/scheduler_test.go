package scheduler_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.sykli.dev/core/internal/core/domain"
	"go.sykli.dev/core/internal/core/ports"
	"go.sykli.dev/core/internal/engine/scheduler"
)

// fakeTarget is a hand-written Target fake; mockgen is never invoked in this
// tree, so tests drive a plain struct instead of a generated mock.
type fakeTarget struct {
	mu      sync.Mutex
	runs    map[string]int
	failing map[string]bool
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{runs: map[string]int{}, failing: map[string]bool{}}
}

func (f *fakeTarget) Name() string { return "fake" }

func (f *fakeTarget) RunTask(_ context.Context, task *domain.Task, _ any, _ ports.RunTaskOpts) (domain.TaskResult, error) {
	f.mu.Lock()
	f.runs[task.Name.String()]++
	f.mu.Unlock()

	if f.failing[task.Name.String()] {
		return domain.TaskResult{}, &domain.Error{Code: domain.CodeTaskFailed, Type: domain.ErrorExecution, Message: "boom", Task: task.Name.String()}
	}
	return domain.TaskResult{Name: task.Name.String(), Status: domain.StatusPassed}, nil
}

func (f *fakeTarget) runCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs[name]
}

func buildGraph(t *testing.T, tasks ...*domain.Task) *domain.Graph {
	t.Helper()
	g := domain.NewGraph()
	for _, task := range tasks {
		require.NoError(t, g.AddTask(task))
	}
	require.NoError(t, g.Validate())
	return g
}

func TestScheduler_Run_SimpleChain(t *testing.T) {
	g := buildGraph(t,
		&domain.Task{Name: domain.NewInternedString("build")},
		&domain.Task{Name: domain.NewInternedString("test"), DependsOn: domain.NewInternedStrings([]string{"build"})},
	)

	target := newFakeTarget()
	s := scheduler.NewScheduler(target, nil, nil, nil)
	rc := &domain.RunContext{RunID: "r1", Workdir: t.TempDir()}

	results, err := s.Run(context.Background(), g, rc, scheduler.Options{MaxParallel: 2})
	require.NoError(t, err)
	require.Len(t, results, 2)

	statuses := map[string]domain.TaskStatus{}
	for _, r := range results {
		statuses[r.Name] = r.Status
	}
	assert.Equal(t, domain.StatusPassed, statuses["build"])
	assert.Equal(t, domain.StatusPassed, statuses["test"])
	assert.Equal(t, 1, target.runCount("build"))
	assert.Equal(t, 1, target.runCount("test"))
}

func TestScheduler_Run_FailureStopsBlocksDependents(t *testing.T) {
	g := buildGraph(t,
		&domain.Task{Name: domain.NewInternedString("build")},
		&domain.Task{Name: domain.NewInternedString("test"), DependsOn: domain.NewInternedStrings([]string{"build"})},
	)

	target := newFakeTarget()
	target.failing["build"] = true
	s := scheduler.NewScheduler(target, nil, nil, nil)
	rc := &domain.RunContext{RunID: "r1", Workdir: t.TempDir()}

	results, err := s.Run(context.Background(), g, rc, scheduler.Options{MaxParallel: 2})
	require.Error(t, err)

	statuses := map[string]domain.TaskStatus{}
	for _, r := range results {
		statuses[r.Name] = r.Status
	}
	assert.Equal(t, domain.StatusFailed, statuses["build"])
	assert.Equal(t, domain.StatusBlocked, statuses["test"])
	assert.Equal(t, 0, target.runCount("test"))
}

func TestScheduler_Run_OnFailureContinue_SiblingsStillRun(t *testing.T) {
	g := buildGraph(t,
		&domain.Task{Name: domain.NewInternedString("a"), OnFailure: domain.OnFailurePolicy{Mode: domain.OnFailureContinue}},
		&domain.Task{Name: domain.NewInternedString("b")},
		&domain.Task{Name: domain.NewInternedString("c"), DependsOn: domain.NewInternedStrings([]string{"a"})},
	)

	target := newFakeTarget()
	target.failing["a"] = true
	s := scheduler.NewScheduler(target, nil, nil, nil)
	rc := &domain.RunContext{RunID: "r1", Workdir: t.TempDir()}

	results, err := s.Run(context.Background(), g, rc, scheduler.Options{MaxParallel: 2})
	require.Error(t, err)

	statuses := map[string]domain.TaskStatus{}
	for _, r := range results {
		statuses[r.Name] = r.Status
	}
	assert.Equal(t, domain.StatusFailed, statuses["a"])
	assert.Equal(t, domain.StatusPassed, statuses["b"], "sibling of failed task must still run under on_failure: continue")
	assert.Equal(t, domain.StatusBlocked, statuses["c"], "dependent of failed task is blocked regardless of on_failure mode")
}

func TestScheduler_Run_ConditionFalseSkipsTask(t *testing.T) {
	no := false
	g := buildGraph(t,
		&domain.Task{Name: domain.NewInternedString("deploy"), Condition: &domain.Condition{Always: &no}},
	)

	target := newFakeTarget()
	s := scheduler.NewScheduler(target, nil, nil, nil)
	rc := &domain.RunContext{RunID: "r1", Workdir: t.TempDir()}

	results, err := s.Run(context.Background(), g, rc, scheduler.Options{MaxParallel: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, domain.StatusSkipped, results[0].Status)
	assert.Equal(t, 0, target.runCount("deploy"))
}

func TestScheduler_Run_RetrySucceedsOnSecondAttempt(t *testing.T) {
	g := buildGraph(t,
		&domain.Task{Name: domain.NewInternedString("flaky"), Retry: 2},
	)

	target := &retryingTarget{failUntilAttempt: 2}
	s := scheduler.NewScheduler(target, nil, nil, nil)
	rc := &domain.RunContext{RunID: "r1", Workdir: t.TempDir()}

	results, err := s.Run(context.Background(), g, rc, scheduler.Options{MaxParallel: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, domain.StatusPassed, results[0].Status)
	assert.Equal(t, 2, target.attempts)
}

type retryingTarget struct {
	mu               sync.Mutex
	attempts         int
	failUntilAttempt int
}

func (r *retryingTarget) Name() string { return "retrying" }

func (r *retryingTarget) RunTask(_ context.Context, task *domain.Task, _ any, opts ports.RunTaskOpts) (domain.TaskResult, error) {
	r.mu.Lock()
	r.attempts = opts.Attempt
	r.mu.Unlock()

	if opts.Attempt < r.failUntilAttempt {
		return domain.TaskResult{}, &domain.Error{Code: domain.CodeTaskFailed, Type: domain.ErrorExecution, Message: "not yet", Task: task.Name.String()}
	}
	return domain.TaskResult{Name: task.Name.String(), Status: domain.StatusPassed}, nil
}

func TestScheduler_Run_MissingSecretsOnUnsupportedTarget(t *testing.T) {
	g := buildGraph(t,
		&domain.Task{Name: domain.NewInternedString("release"), Secrets: []string{"NPM_TOKEN"}},
	)

	target := newFakeTarget()
	s := scheduler.NewScheduler(target, nil, nil, nil)
	rc := &domain.RunContext{RunID: "r1", Workdir: t.TempDir()}

	_, err := s.Run(context.Background(), g, rc, scheduler.Options{MaxParallel: 1})
	require.ErrorIs(t, err, domain.ErrMissingSecrets)
}

func TestScheduler_Run_TargetSubset_OnlyRunsRequestedAndDeps(t *testing.T) {
	g := buildGraph(t,
		&domain.Task{Name: domain.NewInternedString("build")},
		&domain.Task{Name: domain.NewInternedString("test"), DependsOn: domain.NewInternedStrings([]string{"build"})},
		&domain.Task{Name: domain.NewInternedString("lint")},
	)

	target := newFakeTarget()
	s := scheduler.NewScheduler(target, nil, nil, nil)
	rc := &domain.RunContext{RunID: "r1", Workdir: t.TempDir()}

	results, err := s.Run(context.Background(), g, rc, scheduler.Options{MaxParallel: 2, TargetNames: []string{"test"}})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 0, target.runCount("lint"))
	assert.Equal(t, 1, target.runCount("build"))
	assert.Equal(t, 1, target.runCount("test"))
}
