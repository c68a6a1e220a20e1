// Package k8soptions validates and merges the declarative K8sOptions
// overrides a pipeline or task may specify (spec §4.4.3).
package k8soptions

import (
	"regexp"
	"strings"

	"go.sykli.dev/core/internal/core/domain"
	"go.trai.ch/zerr"
)

var (
	memoryPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?(Ki|Mi|Gi|Ti|Pi|Ei|k|M|G|T|P|E)?$`)
	cpuPattern    = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?m?$`)

	validDNSPolicies = map[string]bool{
		domain.DNSClusterFirst:            true,
		domain.DNSClusterFirstWithHostNet: true,
		domain.DNSDefault:                 true,
		domain.DNSNone:                    true,
	}

	// commonMemoryTypos maps a frequently-typed lowercase unit to the
	// Kubernetes quantity suffix it almost certainly meant.
	commonMemoryTypos = map[string]string{
		"gb": "Gi",
		"mb": "Mi",
		"kb": "Ki",
		"g":  "Gi",
		"m":  "Mi",
		"k":  "Ki",
	}
)

// Validate checks every field of opts against the schema in spec §4.4.3.
// A nil opts is valid (no overrides).
func Validate(opts *domain.K8sOptions) error {
	if opts == nil {
		return nil
	}
	if err := validateResources(opts.Resources); err != nil {
		return err
	}
	for _, tol := range opts.Tolerations {
		if err := validateToleration(tol); err != nil {
			return err
		}
	}
	if opts.DNSPolicy != nil && !validDNSPolicies[*opts.DNSPolicy] {
		return zerr.With(domain.ErrInvalidDNSPolicy, "value", *opts.DNSPolicy)
	}
	for _, v := range opts.Volumes {
		if err := validateVolume(v); err != nil {
			return err
		}
	}
	return nil
}

func validateResources(r *domain.ResourceOptions) error {
	if r == nil {
		return nil
	}
	for _, q := range []*string{r.RequestsMemory, r.LimitsMemory} {
		if q != nil {
			if err := validateMemory(*q); err != nil {
				return err
			}
		}
	}
	for _, q := range []*string{r.RequestsCPU, r.LimitsCPU} {
		if q != nil && !cpuPattern.MatchString(*q) {
			return zerr.With(domain.ErrInvalidCPUQuantity, "value", *q)
		}
	}
	return nil
}

// validateMemory checks q against the Kubernetes quantity pattern, offering
// a corrected suggestion for common lowercase-unit typos (e.g. "32gb").
func validateMemory(q string) error {
	if memoryPattern.MatchString(q) {
		return nil
	}
	if suggestion, ok := suggestMemoryFix(q); ok {
		return zerr.With(domain.ErrInvalidMemoryQuantity, "value", q, "suggestion", suggestion)
	}
	return zerr.With(domain.ErrInvalidMemoryQuantity, "value", q)
}

func suggestMemoryFix(q string) (string, bool) {
	for i, r := range q {
		if r < '0' || r > '9' {
			if r == '.' {
				continue
			}
			numeric, unit := q[:i], strings.ToLower(q[i:])
			if fixed, ok := commonMemoryTypos[unit]; ok {
				return numeric + fixed, true
			}
			return "", false
		}
	}
	return "", false
}

func validateToleration(t domain.Toleration) error {
	if t.Operator != domain.TolerationExists && t.Operator != domain.TolerationEqual {
		return zerr.With(domain.ErrInvalidToleration, "field", "operator", "value", t.Operator)
	}
	switch t.Effect {
	case "", domain.EffectNoSchedule, domain.EffectPreferNoSchedule, domain.EffectNoExecute:
	default:
		return zerr.With(domain.ErrInvalidToleration, "field", "effect", "value", t.Effect)
	}
	return nil
}

func validateVolume(v domain.VolumeSpec) error {
	if v.Name == "" {
		return zerr.With(domain.ErrInvalidVolumeMount, "reason", "volume name required")
	}
	if !strings.HasPrefix(v.MountPath, "/") {
		return zerr.With(domain.ErrInvalidVolumeMount, "volume", v.Name, "reason", "mount path must start with /")
	}
	return nil
}

// Merge combines pipeline-level defaults with task-level overrides per spec
// §4.4.3: scalars take the task value when non-null, maps deep-merge with
// task values winning on collision, lists/structured overrides replace
// wholesale when the task supplies one, and resources merge field by field.
func Merge(base, task *domain.K8sOptions) *domain.K8sOptions {
	if base == nil {
		return task
	}
	if task == nil {
		return base
	}

	merged := *base

	merged.Resources = mergeResources(base.Resources, task.Resources)
	if task.Tolerations != nil {
		merged.Tolerations = task.Tolerations
	}
	if task.Affinity != nil {
		merged.Affinity = task.Affinity
	}
	merged.NodeSelector = mergeStringMap(base.NodeSelector, task.NodeSelector)
	if task.SecurityContext != nil {
		merged.SecurityContext = task.SecurityContext
	}
	if task.Volumes != nil {
		merged.Volumes = task.Volumes
	}
	if task.ServiceAccountName != nil {
		merged.ServiceAccountName = task.ServiceAccountName
	}
	if task.PriorityClassName != nil {
		merged.PriorityClassName = task.PriorityClassName
	}
	if task.HostNetwork != nil {
		merged.HostNetwork = task.HostNetwork
	}
	if task.DNSPolicy != nil {
		merged.DNSPolicy = task.DNSPolicy
	}
	merged.Labels = mergeStringMap(base.Labels, task.Labels)
	merged.Annotations = mergeStringMap(base.Annotations, task.Annotations)

	return &merged
}

func mergeResources(base, task *domain.ResourceOptions) *domain.ResourceOptions {
	if base == nil {
		return task
	}
	if task == nil {
		return base
	}
	merged := *base
	if task.RequestsCPU != nil {
		merged.RequestsCPU = task.RequestsCPU
	}
	if task.RequestsMemory != nil {
		merged.RequestsMemory = task.RequestsMemory
	}
	if task.LimitsCPU != nil {
		merged.LimitsCPU = task.LimitsCPU
	}
	if task.LimitsMemory != nil {
		merged.LimitsMemory = task.LimitsMemory
	}
	return &merged
}

func mergeStringMap(base, task map[string]string) map[string]string {
	if len(base) == 0 {
		return task
	}
	merged := make(map[string]string, len(base)+len(task))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range task {
		merged[k] = v
	}
	return merged
}
