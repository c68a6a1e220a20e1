package domain

// OnFailurePolicy controls what the scheduler does when a task fails.
type OnFailurePolicy struct {
	// Mode is one of "stop" (default), "continue", or "retry".
	Mode string
	// RetryCount is the N in "retry:N"; zero when Mode is not "retry".
	RetryCount int
}

const (
	OnFailureStop     = "stop"
	OnFailureContinue = "continue"
	OnFailureRetry    = "retry"
)

// Mount describes a filesystem or cache mount attached to a containerized task.
type Mount struct {
	// Type is "directory" (host bind mount) or "cache" (named volume keyed by Resource).
	Type     string
	Resource string
	Path     string
}

const (
	MountDirectory = "directory"
	MountCache     = "cache"
)

// Service is a side-car container reachable by Name over a task-scoped network.
type Service struct {
	Name  string
	Image string
}

// TaskInput declares that a task consumes an artifact produced by an upstream task.
type TaskInput struct {
	FromTask InternedString
	Output   string
	Dest     string
}

// MatrixSpec is the Cartesian-product expansion specification for a task.
// Order preserves the original dimension declaration order (for deterministic
// name synthesis); Dimensions holds each dimension's value set.
type MatrixSpec struct {
	Order      []string
	Dimensions map[string][]string
}

// SemanticMetadata is optional, non-executable metadata a task can carry,
// describing what it exercises. Consumed by external reporters, not by the
// Core's scheduling logic.
type SemanticMetadata struct {
	Covers      []string
	Intent      string
	Criticality string
}

// EnvVar is a single environment variable assignment. A slice (rather than a
// map) preserves declaration order; fingerprinting sorts by key regardless
// (spec §4.2).
type EnvVar struct {
	Key   string
	Value string
}

// Task is the atomic unit of work in a Sykli pipeline.
type Task struct {
	Name InternedString

	Command    string
	Container  string
	WorkingDir InternedString

	Inputs  []string
	Outputs map[string]string

	DependsOn []InternedString

	Env []EnvVar

	Mounts []Mount

	Secrets  []string
	Services []Service

	TaskInputs []TaskInput

	TimeoutSeconds int
	Retry          int
	OnFailure      OnFailurePolicy

	Requires []string

	Condition *Condition

	K8s *K8sOptions

	Matrix *MatrixSpec

	Semantic *SemanticMetadata
}

// EnvMap returns the task's environment as a map; last write wins on duplicate keys.
func (t *Task) EnvMap() map[string]string {
	m := make(map[string]string, len(t.Env))
	for _, e := range t.Env {
		m[e.Key] = e.Value
	}
	return m
}

// Cacheable reports whether the task declares any input globs. Per spec §4.2,
// a task with no inputs is never cacheable.
func (t *Task) Cacheable() bool {
	return len(t.Inputs) > 0
}
