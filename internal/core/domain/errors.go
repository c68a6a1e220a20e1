package domain

import "go.trai.ch/zerr"

// Graph parsing and validation errors (spec §4.1).
var (
	// ErrMalformedGraph is returned when the SDK document is not well-formed JSON
	// or lacks a "tasks" array.
	ErrMalformedGraph = zerr.New("malformed graph document")

	// ErrEmptyTaskName is returned when a task has no name.
	ErrEmptyTaskName = zerr.New("task name must not be empty")

	// ErrDuplicateTaskName is returned when two tasks share a name.
	ErrDuplicateTaskName = zerr.New("duplicate task name")

	// ErrSelfDependency is returned when a task depends on itself.
	ErrSelfDependency = zerr.New("task depends on itself")

	// ErrUnknownDependency is returned when depends_on references a task that doesn't exist.
	ErrUnknownDependency = zerr.New("unknown dependency")

	// ErrCycleDetected is returned when the dependency graph contains a cycle.
	ErrCycleDetected = zerr.New("cycle detected in task graph")

	// ErrUnknownProducer is returned when a task_inputs entry references a task that doesn't exist.
	ErrUnknownProducer = zerr.New("unknown producer task")

	// ErrUnknownOutput is returned when a task_inputs entry references an output the producer never declares.
	ErrUnknownOutput = zerr.New("producer does not declare output")

	// ErrMissingArtifactDependency is returned when a consumer of an artifact doesn't
	// transitively depend on the producer task.
	ErrMissingArtifactDependency = zerr.New("artifact consumer does not depend on producer")

	// ErrInvalidMatrix is returned when a matrix specification has no dimensions or an empty dimension.
	ErrInvalidMatrix = zerr.New("invalid matrix specification")

	// ErrTaskNotFound is returned when a requested task name is absent from the graph.
	ErrTaskNotFound = zerr.New("task not found")
)

// Cache errors (spec §4.2).
var (
	ErrCacheNotCacheable  = zerr.New("task is not cacheable")
	ErrCacheNoInputsFound = zerr.New("no files matched declared inputs")
	ErrCacheCorrupt       = zerr.New("cache entry corrupt")
	ErrCacheStoreFailed   = zerr.New("failed to store cache entry")
	ErrCacheRestoreFailed = zerr.New("failed to restore cached outputs")
)

// Delta errors (spec §4.6).
var (
	ErrNotAGitRepo = zerr.New("not a git repository")
	ErrUnknownRef  = zerr.New("unknown git ref")
	ErrBadRevision = zerr.New("bad git revision")
	ErrGitFailed   = zerr.New("git command failed")
)

// Target errors (spec §4.4).
var (
	ErrCapabilityMissing  = zerr.New("target does not support required capability")
	ErrPathTraversal      = zerr.New("path escapes workdir")
	ErrMissingSecrets     = zerr.New("required secrets not available")
	ErrSecretNotFound     = zerr.New("secret not found")
	ErrRuntimeUnavailable = zerr.New("no runtime available")
	ErrKubeconfigInvalid  = zerr.New("kubeconfig invalid or unreachable")
	ErrJobFailed          = zerr.New("kubernetes job failed")
)

// Scheduler errors (spec §4.5).
var (
	ErrDependencyFailed = zerr.New("dependency failed")
	ErrTaskTimeout      = zerr.New("task execution timed out")
	ErrTaskFailed       = zerr.New("task execution failed")
)

// Mesh errors (spec §4.7).
var (
	ErrNoMatchingNodes  = zerr.New("no nodes match required labels")
	ErrAllNodesRejected = zerr.New("all candidate nodes rejected the task")
)

// K8sOptions schema errors (spec §4.4.3).
var (
	ErrInvalidMemoryQuantity = zerr.New("invalid memory quantity")
	ErrInvalidCPUQuantity    = zerr.New("invalid cpu quantity")
	ErrInvalidToleration     = zerr.New("invalid toleration")
	ErrInvalidDNSPolicy      = zerr.New("invalid dns policy")
	ErrInvalidVolumeMount    = zerr.New("invalid volume mount")
)

// Runtime errors (spec §4.3).
var (
	ErrProcessKillFailed = zerr.New("failed to kill process tree")
)

// Ambient configuration errors.
var (
	ErrConfigNotFound = zerr.New("no sykli.yaml found")
)
