package ports

import (
	"context"
	"io"
)

// MountSpec is a resolved, runtime-ready mount: a host path or named volume
// bound into the task's execution environment at Path.
type MountSpec struct {
	Type     string // directory | cache
	Resource string
	Path     string
}

// RunOpts are the resolved parameters for a single Runtime.Run invocation.
type RunOpts struct {
	Workdir    string
	Env        []string
	Mounts     []MountSpec
	Image      string
	Network    string
	TimeoutMS  int
}

// RunResult is the outcome of Runtime.Run on success or ordinary failure
// (a non-zero exit is not itself an error — only infrastructure failure is).
type RunResult struct {
	OK        bool
	ExitCode  int
	LineCount int
	Output    string
}

// Runtime executes a single command, optionally inside a container, per
// spec §4.3. Implementations are the shell runtime (no image) and the
// docker runtime (image required).
//
//go:generate mockgen -source=runtime.go -destination=mocks/mock_runtime.go -package=mocks
type Runtime interface {
	// Run spawns the command and blocks until it exits, times out, or ctx is
	// canceled. stdout+stderr are combined and streamed to w as well as
	// captured into RunResult.Output. On timeout the process tree is
	// confirmed dead before Run returns.
	Run(ctx context.Context, command string, opts RunOpts, w io.Writer) (RunResult, error)

	// Available reports whether this runtime's backing engine is usable on
	// the current host (e.g. a docker daemon socket is reachable).
	Available(ctx context.Context) bool
}

// NetworkInfo identifies a task-scoped network created for sidecar services.
type NetworkInfo struct {
	ID   string
	Name string
}

// ServiceRuntime is the optional capability a container-backed Runtime
// exposes for sidecar service lifecycles (spec §4.3, §4.4 "services").
type ServiceRuntime interface {
	CreateNetwork(ctx context.Context, name string) (NetworkInfo, error)
	RemoveNetwork(ctx context.Context, net NetworkInfo) error
	StartService(ctx context.Context, net NetworkInfo, name, image string) error
	StopService(ctx context.Context, net NetworkInfo, name string) error
}
