// Package scheduler implements the wavefront task executor (spec §4.5):
// topological dispatch up to a parallelism cap, per-task cache check,
// condition evaluation, service sidecars, artifact staging, retry, and
// on_failure propagation.
package scheduler

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"go.sykli.dev/core/internal/cache"
	"go.sykli.dev/core/internal/core/domain"
	"go.sykli.dev/core/internal/core/ports"
	"go.trai.ch/zerr"
	"golang.org/x/sync/errgroup"
)

// secretResolveConcurrency bounds how many ResolveSecret calls run at once
// against a target's secret backend during Scheduler.Run's pre-flight pass.
const secretResolveConcurrency = 8

// Options configures a single Scheduler.Run invocation.
type Options struct {
	MaxParallel int
	TargetNames []string // task names to run, plus their dependencies; nil/empty means "all"
	EvalContext domain.EvalContext
}

// Scheduler drives a validated Graph to completion against a single Target.
type Scheduler struct {
	target ports.Target
	cache  ports.Cache
	bus    ports.EventBus
	logger ports.Logger
}

// NewScheduler creates a Scheduler with the given dependencies.
func NewScheduler(target ports.Target, c ports.Cache, bus ports.EventBus, logger ports.Logger) *Scheduler {
	return &Scheduler{target: target, cache: c, bus: bus, logger: logger}
}

// Run executes rc's pipeline over g. Returns the TaskResult of every task
// that was dispatched, cached, skipped, or blocked, plus an aggregated error
// if any task failed, whatever its on_failure policy.
func (s *Scheduler) Run(ctx context.Context, g *domain.Graph, rc *domain.RunContext, opts Options) ([]domain.TaskResult, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	tasksToRun, order, err := resolveTasksToRun(g, opts.TargetNames)
	if err != nil {
		return nil, err
	}

	if err := s.resolveSecrets(ctx, g, rc, tasksToRun); err != nil {
		return nil, err
	}

	var state any
	if lt, ok := s.target.(ports.LifecycleTarget); ok {
		var err error
		state, err = lt.Setup(ctx, ports.RunTaskOpts{})
		if err != nil {
			return nil, zerr.Wrap(err, "target setup failed")
		}
		defer func() {
			if err := lt.Teardown(ctx, state); err != nil && s.logger != nil {
				s.logger.Warn("target teardown failed: " + err.Error())
			}
		}()
	}
	rc.TargetState = state

	run := s.newRunState(g, rc, opts, tasksToRun, order)

	s.publish(rc.RunID, ports.EventRunStarted, nil)
	err = run.execute(ctx)
	s.publish(rc.RunID, ports.EventRunCompleted, map[string]any{"ok": err == nil})

	return run.orderedResults(), err
}

// resolveSecrets validates that every task's declared secrets are available
// on the target before any task starts (spec §4.5 step "Resolve and validate
// required secrets").
func (s *Scheduler) resolveSecrets(ctx context.Context, g *domain.Graph, rc *domain.RunContext, tasksToRun map[domain.InternedString]bool) error {
	st, ok := s.target.(ports.SecretsTarget)

	type request struct {
		task domain.InternedString
		name string
	}
	var requests []request
	for task := range g.Walk() {
		if !tasksToRun[task.Name] || len(task.Secrets) == 0 {
			continue
		}
		if !ok {
			return zerr.With(domain.ErrMissingSecrets, "task", task.Name.String())
		}
		for _, name := range task.Secrets {
			requests = append(requests, request{task: task.Name, name: name})
		}
	}

	g2, gctx := errgroup.WithContext(ctx)
	g2.SetLimit(secretResolveConcurrency)
	for _, req := range requests {
		req := req
		g2.Go(func() error {
			if _, err := st.ResolveSecret(gctx, req.name, rc.TargetState); err != nil {
				return zerr.With(domain.ErrSecretNotFound, "task", req.task.String(), "secret", req.name)
			}
			return nil
		})
	}
	return g2.Wait()
}

func (s *Scheduler) publish(runID string, evt ports.EventType, data map[string]any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ports.Event{Timestamp: time.Now(), RunID: runID, Type: evt, Data: data})
}

// taskRun tracks one task's lifecycle through a single Scheduler.Run.
type taskRun struct {
	task        domain.Task
	result      domain.TaskResult
	fingerprint string // populated on a cache miss; empty means "don't store"
}

type runState struct {
	s           *Scheduler
	ctx         context.Context
	cancel      context.CancelFunc
	graph       *domain.Graph
	rc          *domain.RunContext
	opts        Options
	parallelism int

	mu           sync.Mutex
	tasks        map[domain.InternedString]*taskRun
	inDegree     map[domain.InternedString]int
	order        []domain.InternedString // tasksToRun, in topological order
	ready        []domain.InternedString
	active       int
	firstFailure error
	stopping     bool

	fingerprints sync.Map // task name -> fingerprint string, for downstream upstream-fingerprint input
}

func (s *Scheduler) newRunState(
	g *domain.Graph,
	rc *domain.RunContext,
	opts Options,
	tasksToRun map[domain.InternedString]bool,
	order []domain.InternedString,
) *runState {
	inDegree := make(map[domain.InternedString]int, len(tasksToRun))
	tasks := make(map[domain.InternedString]*taskRun, len(tasksToRun))
	for name := range tasksToRun {
		t, _ := g.GetTask(name)
		tasks[name] = &taskRun{task: t, result: domain.TaskResult{Name: name.String(), Status: domain.StatusPending}}
		degree := 0
		for _, dep := range t.DependsOn {
			if tasksToRun[dep] {
				degree++
			}
		}
		inDegree[name] = degree
	}

	var ready []domain.InternedString
	for _, name := range order {
		if inDegree[name] == 0 {
			ready = append(ready, name)
		}
	}

	parallelism := opts.MaxParallel
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}

	return &runState{
		s:           s,
		graph:       g,
		rc:          rc,
		opts:        opts,
		parallelism: parallelism,
		tasks:       tasks,
		inDegree:    inDegree,
		order:       order,
		ready:       ready,
	}
}

func resolveTasksToRun(g *domain.Graph, targetNames []string) (map[domain.InternedString]bool, []domain.InternedString, error) {
	if len(targetNames) == 0 {
		tasksToRun := make(map[domain.InternedString]bool)
		var order []domain.InternedString
		for t := range g.Walk() {
			tasksToRun[t.Name] = true
			order = append(order, t.Name)
		}
		return tasksToRun, order, nil
	}

	targets := make([]domain.InternedString, 0, len(targetNames))
	for _, n := range targetNames {
		name := domain.NewInternedString(n)
		if _, ok := g.GetTask(name); !ok {
			return nil, nil, zerr.With(domain.ErrTaskNotFound, "task", n)
		}
		targets = append(targets, name)
	}

	include := make(map[domain.InternedString]bool)
	var queue []domain.InternedString
	queue = append(queue, targets...)
	for _, t := range targets {
		include[t] = true
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		task, _ := g.GetTask(cur)
		for _, dep := range task.DependsOn {
			if !include[dep] {
				include[dep] = true
				queue = append(queue, dep)
			}
		}
	}

	var order []domain.InternedString
	for t := range g.Walk() {
		if include[t.Name] {
			order = append(order, t.Name)
		}
	}
	return include, order, nil
}

// execute runs the wavefront scheduling loop to completion.
func (rs *runState) execute(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	rs.ctx = ctx
	rs.cancel = cancel
	defer cancel()

	resultsCh := make(chan domain.InternedString, rs.parallelism)

	for !rs.isDone() {
		rs.dispatch(resultsCh)
		if rs.isDone() {
			break
		}

		select {
		case name := <-resultsCh:
			rs.onTaskDone(name)
		case <-ctx.Done():
		}
	}

	rs.markUnresolvedBlocked()
	return rs.firstFailure
}

func (rs *runState) isDone() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.active == 0 && (len(rs.ready) == 0 || rs.stopping || rs.ctx.Err() != nil)
}

func (rs *runState) dispatch(resultsCh chan domain.InternedString) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	for len(rs.ready) > 0 && rs.active < rs.parallelism && !rs.stopping && rs.ctx.Err() == nil {
		name := rs.ready[0]
		rs.ready = rs.ready[1:]
		rs.active++
		run := rs.tasks[name]
		go func() {
			rs.runOne(run)
			resultsCh <- name
		}()
	}
}

func (rs *runState) onTaskDone(name domain.InternedString) {
	rs.mu.Lock()
	rs.active--
	run := rs.tasks[name]
	failed := run.result.Status == domain.StatusFailed

	if failed && rs.firstFailure == nil {
		rs.firstFailure = zerr.With(zerr.Wrap(domain.ErrTaskFailed, "task failed"), "task", name.String())
	}

	// Every mode except "continue" stops the run on failure; an empty Mode
	// (tasks built outside the wire-protocol parser) defaults to stop, same
	// as translateOnFailure's zero-value handling.
	if failed && run.task.OnFailure.Mode != domain.OnFailureContinue {
		rs.stopping = true
		rs.cancel()
	} else {
		for _, dep := range rs.graph.Dependents(name) {
			if _, ok := rs.tasks[dep]; !ok {
				continue
			}
			if failed {
				continue // dependent becomes blocked, never becomes ready
			}
			rs.inDegree[dep]--
			if rs.inDegree[dep] == 0 {
				rs.ready = append(rs.ready, dep)
			}
		}
	}
	rs.mu.Unlock()
}

// markUnresolvedBlocked marks every task that never ran (because an upstream
// failed, or the run stopped early) as blocked.
func (rs *runState) markUnresolvedBlocked() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	for name, run := range rs.tasks {
		if run.result.Status == domain.StatusPending {
			run.result.Status = domain.StatusBlocked
			run.result.Error = &domain.Error{
				Code:    domain.CodeDependencyFailed,
				Type:    domain.ErrorExecution,
				Message: "blocked by a failed dependency or an early stop of the run",
				Task:    name.String(),
			}
		}
	}
}

func (rs *runState) orderedResults() []domain.TaskResult {
	out := make([]domain.TaskResult, 0, len(rs.order))
	for _, name := range rs.order {
		out = append(out, rs.tasks[name].result)
	}
	return out
}

// runOne executes the full per-task pipeline (spec §4.5 worker steps 1-8).
func (rs *runState) runOne(run *taskRun) {
	t := &run.task
	rs.s.publish(rs.rc.RunID, ports.EventTaskStarted, map[string]any{"task": t.Name.String()})
	start := time.Now()

	if hit, result := rs.checkCache(run); hit {
		run.result = result
		rs.s.publish(rs.rc.RunID, ports.EventTaskCompleted, map[string]any{"task": t.Name.String(), "status": string(result.Status)})
		return
	}

	if t.Condition != nil && !t.Condition.Eval(rs.opts.EvalContext) {
		run.result = domain.TaskResult{Name: t.Name.String(), Status: domain.StatusSkipped}
		rs.s.publish(rs.rc.RunID, ports.EventTaskCompleted, map[string]any{"task": t.Name.String(), "status": string(domain.StatusSkipped)})
		return
	}

	var networkInfo any
	if len(t.Services) > 0 {
		if svc, ok := rs.s.target.(ports.ServicesTarget); ok {
			info, err := svc.StartServices(rs.ctx, t.Name.String(), t.Services, rs.rc.TargetState)
			if err != nil {
				run.result = failureResult(t.Name.String(), start, zerr.Wrap(err, "failed to start services"))
				return
			}
			networkInfo = info
			defer func() { _ = svc.StopServices(rs.ctx, networkInfo, rs.rc.TargetState) }()
		}
	}

	if err := rs.stageArtifacts(t); err != nil {
		run.result = failureResult(t.Name.String(), start, err)
		return
	}

	result := rs.runWithRetry(t, start)
	run.result = result

	if result.Status == domain.StatusPassed && run.fingerprint != "" {
		rs.storeCache(run, result)
	}

	rs.s.publish(rs.rc.RunID, ports.EventTaskCompleted, map[string]any{"task": t.Name.String(), "status": string(result.Status)})
}

// checkCache performs the spec §4.5 step-1 cache check. Returns (true, hit
// result) on a cache hit, restoring outputs into the workdir. A non-hit
// stashes the computed fingerprint on run for the later store step.
func (rs *runState) checkCache(run *taskRun) (bool, domain.TaskResult) {
	t := &run.task
	if !t.Cacheable() || rs.s.cache == nil {
		return false, domain.TaskResult{}
	}

	root := rs.graph.Root()
	files, err := cache.ResolveInputs(t.Inputs, root)
	if err != nil {
		return false, domain.TaskResult{}
	}

	inputHashes := make(map[string]string, len(files))
	for _, f := range files {
		h, err := cache.HashFile(f)
		if err != nil {
			return false, domain.TaskResult{}
		}
		inputHashes[f] = h
	}

	upstream := make(map[string]string, len(t.DependsOn))
	for _, dep := range t.DependsOn {
		if fp, ok := rs.fingerprints.Load(dep.String()); ok {
			upstream[dep.String()] = fp.(string)
		}
	}

	fp, err := rs.s.cache.Fingerprint(t, inputHashes, upstream)
	if err != nil {
		return false, domain.TaskResult{}
	}
	rs.fingerprints.Store(t.Name.String(), fp)

	check, err := rs.s.cache.Check(rs.ctx, fp)
	if err != nil || !check.Hit {
		run.fingerprint = fp
		rs.s.publish(rs.rc.RunID, ports.EventCacheMiss, map[string]any{"task": t.Name.String()})
		return false, domain.TaskResult{}
	}

	entry, err := rs.s.cache.Restore(rs.ctx, fp, rs.rc.Workdir)
	if err != nil {
		run.fingerprint = fp
		return false, domain.TaskResult{}
	}

	rs.s.publish(rs.rc.RunID, ports.EventCacheHit, map[string]any{"task": t.Name.String()})
	return true, domain.TaskResult{Name: t.Name.String(), Status: domain.StatusCached, DurationMS: entry.DurationMS}
}

func (rs *runState) storeCache(run *taskRun, result domain.TaskResult) {
	entry := domain.CacheEntry{
		Fingerprint:   run.fingerprint,
		TaskName:      run.task.Name.String(),
		StoredOutputs: run.task.Outputs,
		DurationMS:    result.DurationMS,
		CreatedAt:     time.Now(),
	}
	if err := rs.s.cache.Store(rs.ctx, run.fingerprint, entry, rs.rc.Workdir); err != nil && rs.s.logger != nil {
		rs.s.logger.Warn("failed to store cache entry for " + run.task.Name.String())
	}
}

// stageArtifacts copies each declared task_inputs entry from its producer's
// stored artifact path into this task's workspace (spec §4.5 step 4).
func (rs *runState) stageArtifacts(t *domain.Task) error {
	if len(t.TaskInputs) == 0 {
		return nil
	}
	storage, ok := rs.s.target.(ports.StorageTarget)
	if !ok {
		return nil
	}
	for _, ti := range t.TaskInputs {
		src, err := storage.ArtifactPath(ti.FromTask.String(), ti.Output, rs.rc.Workdir, rs.rc.TargetState)
		if err != nil {
			return zerr.With(zerr.Wrap(err, "failed to resolve artifact path"), "task", t.Name.String(), "from_task", ti.FromTask.String())
		}
		if err := storage.CopyArtifact(rs.ctx, src, ti.Dest, rs.rc.Workdir, rs.rc.TargetState); err != nil {
			return zerr.With(zerr.Wrap(err, "failed to copy artifact"), "task", t.Name.String(), "dest", ti.Dest)
		}
	}
	return nil
}

// runWithRetry invokes Target.RunTask, retrying per task.Retry/OnFailure
// (spec §4.5 steps 5-6).
func (rs *runState) runWithRetry(t *domain.Task, start time.Time) domain.TaskResult {
	maxAttempts := 1 + t.Retry
	if t.OnFailure.Mode == domain.OnFailureRetry {
		maxAttempts = 1 + t.OnFailure.RetryCount
	}

	var last domain.TaskResult
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attemptStart := time.Now()
		res, err := rs.s.target.RunTask(rs.ctx, t, rs.rc.TargetState, ports.RunTaskOpts{Attempt: attempt, TimeoutMS: t.TimeoutSeconds * 1000})
		if err == nil && res.Status == domain.StatusPassed {
			res.DurationMS = time.Since(start).Milliseconds()
			return res
		}
		if err != nil {
			res = failureResult(t.Name.String(), attemptStart, err)
		}
		last = res
		if attempt < maxAttempts && rs.s.logger != nil {
			rs.s.logger.Warn("retrying task " + t.Name.String())
		}
	}
	last.DurationMS = time.Since(start).Milliseconds()
	return last
}

func failureResult(name string, start time.Time, err error) domain.TaskResult {
	var derr *domain.Error
	if !errors.As(err, &derr) {
		derr = &domain.Error{Code: domain.CodeInternal, Type: domain.ErrorSystem, Message: err.Error(), Task: name}
	}
	return domain.TaskResult{
		Name:       name,
		Status:     domain.StatusFailed,
		DurationMS: time.Since(start).Milliseconds(),
		Error:      derr,
	}
}
