package config

// DefaultsFile represents the on-disk shape of sykli.yaml: pipeline-wide
// defaults that task-level overrides take precedence over (spec §4.4.3
// merge semantics).
type DefaultsFile struct {
	Version     string         `yaml:"version"`
	MaxParallel int            `yaml:"max_parallel"`
	BaseRef     string         `yaml:"base_ref"`
	Target      string         `yaml:"target"`
	K8s         *K8sDefaultsDTO `yaml:"k8s"`
}

// K8sDefaultsDTO is the YAML-facing mirror of domain.K8sOptions: plain
// strings and maps rather than pointer fields, translated by the loader.
type K8sDefaultsDTO struct {
	Namespace          string               `yaml:"namespace"`
	ServiceAccountName string               `yaml:"service_account_name"`
	PriorityClassName  string               `yaml:"priority_class_name"`
	DNSPolicy          string               `yaml:"dns_policy"`
	HostNetwork        bool                 `yaml:"host_network"`
	NodeSelector       map[string]string    `yaml:"node_selector"`
	Labels             map[string]string    `yaml:"labels"`
	Annotations        map[string]string    `yaml:"annotations"`
	Resources          *ResourcesDTO        `yaml:"resources"`
	Affinity           map[string]any       `yaml:"affinity"`
	SecurityContext    *SecurityContextDTO  `yaml:"security_context"`
}

// SecurityContextDTO mirrors domain.SecurityContext in YAML.
type SecurityContextDTO struct {
	RunAsUser    *int64 `yaml:"run_as_user"`
	RunAsGroup   *int64 `yaml:"run_as_group"`
	RunAsNonRoot *bool  `yaml:"run_as_non_root"`
	FSGroup      *int64 `yaml:"fs_group"`
}

// ResourcesDTO mirrors domain.ResourceOptions in YAML.
type ResourcesDTO struct {
	RequestsCPU    string `yaml:"requests_cpu"`
	RequestsMemory string `yaml:"requests_memory"`
	LimitsCPU      string `yaml:"limits_cpu"`
	LimitsMemory   string `yaml:"limits_memory"`
}
