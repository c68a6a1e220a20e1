package domain

// K8sOptions is the declarative, validatable set of pod-spec overrides a
// pipeline or a task can specify (spec §4.4.3). Validation and merge
// semantics live in package k8soptions; this file holds only the shape.
type K8sOptions struct {
	Resources          *ResourceOptions
	Tolerations        []Toleration
	Affinity           *Affinity
	NodeSelector       map[string]string
	SecurityContext    *SecurityContext
	Volumes            []VolumeSpec
	ServiceAccountName *string
	PriorityClassName  *string
	HostNetwork        *bool
	DNSPolicy          *string
	Labels             map[string]string
	Annotations        map[string]string
}

// ResourceOptions carries CPU/memory requests and limits as raw strings
// (validated against the memory/cpu quantity patterns in spec §4.4.3).
type ResourceOptions struct {
	RequestsCPU    *string
	RequestsMemory *string
	LimitsCPU      *string
	LimitsMemory   *string
}

// Toleration mirrors a Kubernetes pod toleration.
type Toleration struct {
	Key      string
	Operator string // Exists | Equal
	Value    string
	Effect   string // NoSchedule | PreferNoSchedule | NoExecute
}

// Affinity is an opaque, task-replaceable affinity override. The Core
// passes it through to the manifest builder unmodified; validation beyond
// "well-formed" is the API server's job.
type Affinity struct {
	Raw map[string]any
}

// SecurityContext mirrors the subset of Kubernetes pod/container security
// context fields the Core cares about.
type SecurityContext struct {
	RunAsUser    *int64
	RunAsGroup   *int64
	RunAsNonRoot *bool
	FSGroup      *int64
}

// VolumeSpec is a pod-level volume plus the mount path inside the task container.
type VolumeSpec struct {
	Name       string
	MountPath  string
	HostPath   *string
	EmptyDir   bool
	PVClaim    *string
}

const (
	TolerationExists = "Exists"
	TolerationEqual  = "Equal"

	EffectNoSchedule       = "NoSchedule"
	EffectPreferNoSchedule = "PreferNoSchedule"
	EffectNoExecute        = "NoExecute"

	DNSClusterFirst             = "ClusterFirst"
	DNSClusterFirstWithHostNet  = "ClusterFirstWithHostNet"
	DNSDefault                  = "Default"
	DNSNone                     = "None"
)
