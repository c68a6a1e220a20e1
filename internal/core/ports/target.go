package ports

import (
	"context"

	"go.sykli.dev/core/internal/core/domain"
)

// Capability names a Target may advertise (spec §4.4). The Scheduler probes
// for these via a type-assertion against the corresponding optional
// interface below rather than a string-keyed registry.
type Capability string

const (
	CapabilityLifecycle Capability = "lifecycle"
	CapabilitySecrets    Capability = "secrets"
	CapabilityStorage    Capability = "storage"
	CapabilityServices   Capability = "services"
)

// RunTaskOpts carries the per-attempt parameters for Target.RunTask.
type RunTaskOpts struct {
	Attempt   int
	TimeoutMS int
}

// Target answers "where a task runs". RunTask is the only required
// operation; lifecycle/secrets/storage/services are optional capabilities a
// concrete Target may implement, probed via the interfaces below.
//
//go:generate mockgen -source=target.go -destination=mocks/mock_target.go -package=mocks
type Target interface {
	// Name identifies the target for logging and placement decisions.
	Name() string

	// RunTask executes the task against the target's current state,
	// returning a TaskResult or a structured Error.
	RunTask(ctx context.Context, task *domain.Task, state any, opts RunTaskOpts) (domain.TaskResult, error)
}

// LifecycleTarget is the optional setup/teardown capability. A Target
// lacking this capability is assumed ready with a nil state.
type LifecycleTarget interface {
	Setup(ctx context.Context, opts RunTaskOpts) (state any, err error)
	Teardown(ctx context.Context, state any) error
}

// SecretsTarget resolves named secrets against the target's configured
// secret source (spec §4.4: env fallback for the K8s reference target).
type SecretsTarget interface {
	ResolveSecret(ctx context.Context, name string, state any) (string, error)
}

// StorageTarget is the artifact-path and artifact-copy capability backing
// task_inputs resolution (spec §4.4.1).
type StorageTarget interface {
	CreateVolume(ctx context.Context, name string, state any) error
	ArtifactPath(taskName, artifactName, workdir string, state any) (string, error)
	CopyArtifact(ctx context.Context, src, dst, workdir string, state any) error
}

// ServicesTarget starts and stops the sidecar services a task declares.
type ServicesTarget interface {
	StartServices(ctx context.Context, taskName string, services []domain.Service, state any) (networkInfo any, err error)
	StopServices(ctx context.Context, networkInfo any, state any) error
}

// HasCapability reports whether target implements the named optional
// capability, per spec §4.4 "Capability probing is the Scheduler's
// responsibility before invoking optional operations."
func HasCapability(target Target, cap Capability) bool {
	switch cap {
	case CapabilityLifecycle:
		_, ok := target.(LifecycleTarget)
		return ok
	case CapabilitySecrets:
		_, ok := target.(SecretsTarget)
		return ok
	case CapabilityStorage:
		_, ok := target.(StorageTarget)
		return ok
	case CapabilityServices:
		_, ok := target.(ServicesTarget)
		return ok
	default:
		return false
	}
}
