// Package local implements ports.Target by composing a shell or container
// Runtime on the current host (spec §4.4.1).
package local

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"go.sykli.dev/core/internal/core/domain"
	"go.sykli.dev/core/internal/core/ports"
	"go.trai.ch/zerr"
)

// state is the per-run state threaded through RunContext.TargetState.
type state struct {
	workdir string
	runtime ports.Runtime
}

// Target runs tasks directly on the host: shell when a task declares no
// container, the composed container Runtime otherwise.
type Target struct {
	shell  ports.Runtime
	docker ports.Runtime
	logger ports.Logger
}

// NewTarget creates a local Target. docker may be nil when no container
// engine is configured; tasks declaring a container then fail validation.
func NewTarget(shell, docker ports.Runtime, logger ports.Logger) *Target {
	return &Target{shell: shell, docker: docker, logger: logger}
}

// Name identifies this target for logging and placement decisions.
func (t *Target) Name() string { return "local" }

// Setup verifies at least one composed runtime is usable, preferring shell,
// falling back to docker (spec §4.4.1).
func (t *Target) Setup(ctx context.Context, opts ports.RunTaskOpts) (any, error) {
	workdir, err := os.Getwd()
	if err != nil {
		return nil, zerr.Wrap(err, "failed to resolve working directory")
	}

	var primary ports.Runtime
	switch {
	case t.shell != nil && t.shell.Available(ctx):
		primary = t.shell
	case t.docker != nil && t.docker.Available(ctx):
		primary = t.docker
	default:
		return nil, zerr.New("no runtime available on local target")
	}

	if err := os.MkdirAll(filepath.Join(workdir, ".sykli", "artifacts"), 0o755); err != nil {
		return nil, zerr.Wrap(err, "failed to create artifact directory")
	}

	return &state{workdir: workdir, runtime: primary}, nil
}

// Teardown is a no-op: the local target owns no resources beyond the host
// filesystem, which outlives the run.
func (t *Target) Teardown(ctx context.Context, s any) error { return nil }

// RunTask runs task's command via shell (no container) or the composed
// container runtime, resolving mounts and working directory per spec §4.4.1.
func (t *Target) RunTask(ctx context.Context, task *domain.Task, s any, opts ports.RunTaskOpts) (domain.TaskResult, error) {
	st, ok := s.(*state)
	if !ok {
		return domain.TaskResult{}, zerr.New("local target: invalid state")
	}

	rt := t.shell
	image := ""
	if task.Container != "" {
		if t.docker == nil {
			return domain.TaskResult{}, &domain.Error{Code: domain.CodeInternal, Type: domain.ErrorValidation, Task: task.Name.String(), Message: "no container runtime configured"}
		}
		rt = t.docker
		image = task.Container
	}
	if rt == nil {
		return domain.TaskResult{}, &domain.Error{Code: domain.CodeInternal, Type: domain.ErrorValidation, Task: task.Name.String(), Message: "no shell runtime configured"}
	}

	workdir := st.workdir
	if task.WorkingDir.String() != "" {
		workdir = filepath.Join(st.workdir, task.WorkingDir.String())
	}

	runOpts := ports.RunOpts{
		Workdir:   workdir,
		Env:       envSlice(task.EnvMap()),
		Mounts:    resolveMounts(task.Mounts, st.workdir),
		Image:     image,
		TimeoutMS: opts.TimeoutMS,
	}

	result, err := rt.Run(ctx, task.Command, runOpts, nil)
	if err != nil {
		return domain.TaskResult{}, classifyRunErr(task.Name.String(), err)
	}
	if !result.OK {
		exitCode := result.ExitCode
		return domain.TaskResult{
			Name:     task.Name.String(),
			Status:   domain.StatusFailed,
			ExitCode: &exitCode,
			Output:   result.Output,
			Error: &domain.Error{
				Code:     domain.CodeTaskFailed,
				Type:     domain.ErrorExecution,
				Message:  "task exited non-zero",
				Task:     task.Name.String(),
				ExitCode: &exitCode,
				Output:   result.Output,
			},
		}, nil
	}

	exitCode := 0
	return domain.TaskResult{
		Name:     task.Name.String(),
		Status:   domain.StatusPassed,
		ExitCode: &exitCode,
		Output:   result.Output,
	}, nil
}

func classifyRunErr(taskName string, err error) error {
	if errors.Is(err, domain.ErrTaskTimeout) {
		return &domain.Error{Code: domain.CodeTaskTimeout, Type: domain.ErrorTimeout, Message: "task timed out", Task: taskName}
	}
	return &domain.Error{Code: domain.CodeTaskFailed, Type: domain.ErrorSystem, Message: err.Error(), Task: taskName}
}

func envSlice(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out
}

// resolveMounts resolves each mount's src:<path> shorthand to an absolute
// host path relative to workdir; cache mounts are left as named volumes.
func resolveMounts(mounts []domain.Mount, workdir string) []ports.MountSpec {
	out := make([]ports.MountSpec, 0, len(mounts))
	for _, m := range mounts {
		resource := m.Resource
		if m.Type == domain.MountDirectory {
			resource = strings.TrimPrefix(resource, "src:")
			if !filepath.IsAbs(resource) {
				resource = filepath.Join(workdir, resource)
			}
		}
		out = append(out, ports.MountSpec{Type: m.Type, Resource: resource, Path: m.Path})
	}
	return out
}

// CreateVolume is a no-op for the local target: cache mounts are named
// docker volumes created implicitly by the container runtime on first use.
func (t *Target) CreateVolume(ctx context.Context, name string, s any) error { return nil }

// ArtifactPath returns the confined on-disk location for a task's declared
// output artifact (spec §4.4.1).
func (t *Target) ArtifactPath(taskName, artifactName, workdir string, s any) (string, error) {
	base := workdir
	if base == "" {
		st, ok := s.(*state)
		if !ok {
			return "", zerr.New("local target: invalid state")
		}
		base = st.workdir
	}
	return filepath.Join(base, ".sykli", "artifacts", taskName, artifactName), nil
}

// CopyArtifact copies src to dst, enforcing that both, once cleaned, remain
// under workdir (spec §4.4.1 "path_traversal").
func (t *Target) CopyArtifact(ctx context.Context, src, dst, workdir string, s any) error {
	if err := confine(src, workdir); err != nil {
		return err
	}
	if err := confine(dst, workdir); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return zerr.Wrap(err, "failed to create artifact destination directory")
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return zerr.With(zerr.Wrap(err, "failed to read artifact"), "src", src)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to write artifact"), "dst", dst)
	}
	return nil
}

func confine(path, workdir string) error {
	absWorkdir, err := filepath.Abs(workdir)
	if err != nil {
		return zerr.Wrap(err, "failed to resolve workdir")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return zerr.Wrap(err, "failed to resolve path")
	}
	rel, err := filepath.Rel(absWorkdir, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return zerr.With(domain.ErrPathTraversal, "path", path, "workdir", workdir)
	}
	return nil
}

// StartServices starts each declared service on a dedicated bridge network,
// when the composed runtime supports service networking (spec §4.4).
func (t *Target) StartServices(ctx context.Context, taskName string, services []domain.Service, s any) (any, error) {
	svcRT, ok := t.docker.(ports.ServiceRuntime)
	if !ok {
		return nil, zerr.New("local target: composed runtime does not support services")
	}
	net, err := svcRT.CreateNetwork(ctx, "sykli-"+taskName)
	if err != nil {
		return nil, zerr.Wrap(err, "failed to create service network")
	}
	for _, svc := range services {
		if err := svcRT.StartService(ctx, net, svc.Name, svc.Image); err != nil {
			_ = svcRT.RemoveNetwork(ctx, net)
			return nil, zerr.With(zerr.Wrap(err, "failed to start service"), "service", svc.Name)
		}
	}
	return net, nil
}

// StopServices tears down the network created by StartServices.
func (t *Target) StopServices(ctx context.Context, networkInfo any, s any) error {
	svcRT, ok := t.docker.(ports.ServiceRuntime)
	if !ok {
		return nil
	}
	net, ok := networkInfo.(ports.NetworkInfo)
	if !ok {
		return zerr.New("local target: invalid network info")
	}
	return svcRT.RemoveNetwork(ctx, net)
}
