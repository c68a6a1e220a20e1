// Package graph implements ports.GraphParser: decoding the SDK wire
// protocol v1 JSON document into a validated domain.Graph.
package graph

import (
	"encoding/json"
	"slices"
	"strconv"
	"strings"

	"go.sykli.dev/core/internal/core/domain"
	"go.trai.ch/zerr"
)

// Parser implements ports.GraphParser.
type Parser struct{}

// NewParser creates a Parser.
func NewParser() *Parser {
	return &Parser{}
}

// document mirrors the SDK wire protocol v1 root shape (spec §6.1).
type document struct {
	Version     string   `json:"version"`
	RequiredEnv []string `json:"required_env"`
	Tasks       []taskDTO `json:"tasks"`
}

type taskDTO struct {
	Name       string            `json:"name"`
	Command    string            `json:"command"`
	Container  string            `json:"container"`
	Workdir    string            `json:"workdir"`
	Timeout    int               `json:"timeout"`
	Retry      int               `json:"retry"`
	Inputs     []string          `json:"inputs"`
	Outputs    map[string]string `json:"outputs"`
	DependsOn  []string          `json:"depends_on"`
	TaskInputs []taskInputDTO    `json:"task_inputs"`
	Mounts     []mountDTO        `json:"mounts"`
	Env        map[string]string `json:"env"`
	Secrets    []string          `json:"secrets"`
	Services   []serviceDTO      `json:"services"`
	Requires   []string          `json:"requires"`
	Condition  *conditionDTO     `json:"condition"`
	Matrix     map[string][]string `json:"matrix"`
	K8s        *k8sOptionsDTO    `json:"k8s"`
	OnFailure  string            `json:"on_failure"`
	Semantic   *semanticDTO      `json:"semantic"`
}

type taskInputDTO struct {
	FromTask string `json:"from_task"`
	Output   string `json:"output"`
	Dest     string `json:"dest"`
}

type mountDTO struct {
	Type     string `json:"type"`
	Resource string `json:"resource"`
	Path     string `json:"path"`
}

type serviceDTO struct {
	Name  string `json:"name"`
	Image string `json:"image"`
}

type semanticDTO struct {
	Covers      []string `json:"covers"`
	Intent      string   `json:"intent"`
	Criticality string   `json:"criticality"`
}

type conditionDTO struct {
	Branch     *string        `json:"branch"`
	Tag        *string        `json:"tag"`
	Env        string         `json:"env"`
	Equals     *string        `json:"equals"`
	StartsWith *string        `json:"starts_with"`
	Contains   *string        `json:"contains"`
	And        []conditionDTO `json:"and"`
	Or         []conditionDTO `json:"or"`
	Not        *conditionDTO  `json:"not"`
	Always     *bool          `json:"always"`
}

type k8sOptionsDTO struct {
	Resources          *resourcesDTO          `json:"resources"`
	Tolerations        []tolerationDTO        `json:"tolerations"`
	Affinity           map[string]any         `json:"affinity"`
	NodeSelector       map[string]string      `json:"node_selector"`
	SecurityContext    *securityContextDTO    `json:"security_context"`
	ServiceAccountName string                 `json:"service_account_name"`
	PriorityClassName  string                 `json:"priority_class_name"`
	HostNetwork        bool                   `json:"host_network"`
	DNSPolicy          string                 `json:"dns_policy"`
	Labels             map[string]string      `json:"labels"`
	Annotations        map[string]string      `json:"annotations"`
	Volumes            []volumeDTO            `json:"volumes"`
}

type securityContextDTO struct {
	RunAsUser    *int64 `json:"run_as_user"`
	RunAsGroup   *int64 `json:"run_as_group"`
	RunAsNonRoot *bool  `json:"run_as_non_root"`
	FSGroup      *int64 `json:"fs_group"`
}

type resourcesDTO struct {
	RequestsCPU    string `json:"requests_cpu"`
	RequestsMemory string `json:"requests_memory"`
	LimitsCPU      string `json:"limits_cpu"`
	LimitsMemory   string `json:"limits_memory"`
}

type tolerationDTO struct {
	Key      string `json:"key"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
	Effect   string `json:"effect"`
}

type volumeDTO struct {
	Name      string `json:"name"`
	MountPath string `json:"mount_path"`
	HostPath  string `json:"host_path"`
	EmptyDir  bool   `json:"empty_dir"`
	PVClaim   string `json:"pv_claim"`
}

// Parse decodes raw into a Graph and runs the full validation pipeline
// (spec §4.1). Decoding failures and validation failures are both returned
// as ErrMalformedGraph/the relevant validation sentinel - never a bare JSON
// error - so callers can render every failure uniformly.
func (p *Parser) Parse(raw []byte) (*domain.Graph, error) {
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, zerr.Wrap(domain.ErrMalformedGraph, err.Error())
	}
	if doc.Tasks == nil {
		return nil, domain.ErrMalformedGraph
	}

	g := domain.NewGraph()
	for i := range doc.Tasks {
		task, err := translateTask(doc.Tasks[i])
		if err != nil {
			return nil, err
		}
		if err := g.AddTask(task); err != nil {
			return nil, err
		}
	}

	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

func translateTask(dto taskDTO) (*domain.Task, error) {
	t := &domain.Task{
		Name:           domain.NewInternedString(dto.Name),
		Command:        dto.Command,
		Container:      dto.Container,
		WorkingDir:     domain.NewInternedString(dto.Workdir),
		Inputs:         dto.Inputs,
		Outputs:        dto.Outputs,
		DependsOn:      domain.NewInternedStrings(dto.DependsOn),
		Secrets:        dto.Secrets,
		Requires:       dto.Requires,
		TimeoutSeconds: dto.Timeout,
		Retry:          dto.Retry,
	}

	t.Env = envMapToSlice(dto.Env)

	for _, m := range dto.Mounts {
		t.Mounts = append(t.Mounts, domain.Mount{Type: m.Type, Resource: m.Resource, Path: m.Path})
	}
	for _, s := range dto.Services {
		t.Services = append(t.Services, domain.Service{Name: s.Name, Image: s.Image})
	}
	for _, ti := range dto.TaskInputs {
		t.TaskInputs = append(t.TaskInputs, domain.TaskInput{
			FromTask: domain.NewInternedString(ti.FromTask),
			Output:   ti.Output,
			Dest:     ti.Dest,
		})
	}

	onFailure, err := translateOnFailure(dto.OnFailure)
	if err != nil {
		return nil, err
	}
	t.OnFailure = onFailure

	if dto.Condition != nil {
		t.Condition = translateCondition(dto.Condition)
	}

	if dto.K8s != nil {
		t.K8s = translateK8sOptions(dto.K8s)
	}

	if dto.Semantic != nil {
		t.Semantic = &domain.SemanticMetadata{
			Covers:      dto.Semantic.Covers,
			Intent:      dto.Semantic.Intent,
			Criticality: dto.Semantic.Criticality,
		}
	}

	if dto.Matrix != nil {
		order := make([]string, 0, len(dto.Matrix))
		for dim := range dto.Matrix {
			order = append(order, dim)
		}
		// JSON object key order is not preserved by encoding/json; sort for
		// deterministic expansion-name synthesis.
		slices.Sort(order)
		t.Matrix = &domain.MatrixSpec{Order: order, Dimensions: dto.Matrix}
	}

	return t, nil
}

func envMapToSlice(env map[string]string) []domain.EnvVar {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]domain.EnvVar, 0, len(keys))
	for _, k := range keys {
		out = append(out, domain.EnvVar{Key: k, Value: env[k]})
	}
	return out
}

func translateOnFailure(raw string) (domain.OnFailurePolicy, error) {
	if raw == "" {
		return domain.OnFailurePolicy{Mode: domain.OnFailureStop}, nil
	}
	if raw == domain.OnFailureStop || raw == domain.OnFailureContinue {
		return domain.OnFailurePolicy{Mode: raw}, nil
	}
	if strings.HasPrefix(raw, "retry:") {
		n, err := strconv.Atoi(strings.TrimPrefix(raw, "retry:"))
		if err != nil {
			return domain.OnFailurePolicy{}, zerr.With(domain.ErrMalformedGraph, "on_failure", raw)
		}
		return domain.OnFailurePolicy{Mode: domain.OnFailureRetry, RetryCount: n}, nil
	}
	return domain.OnFailurePolicy{}, zerr.With(domain.ErrMalformedGraph, "on_failure", raw)
}

func translateCondition(dto *conditionDTO) *domain.Condition {
	if dto == nil {
		return nil
	}
	c := &domain.Condition{
		Branch: dto.Branch,
		Tag:    dto.Tag,
		Always: dto.Always,
		Not:    translateCondition(dto.Not),
	}
	if dto.Env != "" {
		c.Env = &domain.EnvCondition{
			Name:       dto.Env,
			Equals:     dto.Equals,
			StartsWith: dto.StartsWith,
			Contains:   dto.Contains,
		}
	}
	for i := range dto.And {
		c.And = append(c.And, *translateCondition(&dto.And[i]))
	}
	for i := range dto.Or {
		c.Or = append(c.Or, *translateCondition(&dto.Or[i]))
	}
	return c
}

func translateK8sOptions(dto *k8sOptionsDTO) *domain.K8sOptions {
	opts := &domain.K8sOptions{
		NodeSelector: dto.NodeSelector,
		Labels:       dto.Labels,
		Annotations:  dto.Annotations,
	}
	if dto.ServiceAccountName != "" {
		opts.ServiceAccountName = &dto.ServiceAccountName
	}
	if dto.PriorityClassName != "" {
		opts.PriorityClassName = &dto.PriorityClassName
	}
	if dto.DNSPolicy != "" {
		opts.DNSPolicy = &dto.DNSPolicy
	}
	if dto.HostNetwork {
		hn := true
		opts.HostNetwork = &hn
	}
	if dto.Resources != nil {
		opts.Resources = &domain.ResourceOptions{}
		if dto.Resources.RequestsCPU != "" {
			opts.Resources.RequestsCPU = &dto.Resources.RequestsCPU
		}
		if dto.Resources.RequestsMemory != "" {
			opts.Resources.RequestsMemory = &dto.Resources.RequestsMemory
		}
		if dto.Resources.LimitsCPU != "" {
			opts.Resources.LimitsCPU = &dto.Resources.LimitsCPU
		}
		if dto.Resources.LimitsMemory != "" {
			opts.Resources.LimitsMemory = &dto.Resources.LimitsMemory
		}
	}
	for _, t := range dto.Tolerations {
		opts.Tolerations = append(opts.Tolerations, domain.Toleration{
			Key: t.Key, Operator: t.Operator, Value: t.Value, Effect: t.Effect,
		})
	}
	for _, v := range dto.Volumes {
		vs := domain.VolumeSpec{Name: v.Name, MountPath: v.MountPath, EmptyDir: v.EmptyDir}
		if v.HostPath != "" {
			vs.HostPath = &v.HostPath
		}
		if v.PVClaim != "" {
			vs.PVClaim = &v.PVClaim
		}
		opts.Volumes = append(opts.Volumes, vs)
	}
	if dto.Affinity != nil {
		opts.Affinity = &domain.Affinity{Raw: dto.Affinity}
	}
	if dto.SecurityContext != nil {
		opts.SecurityContext = &domain.SecurityContext{
			RunAsUser:    dto.SecurityContext.RunAsUser,
			RunAsGroup:   dto.SecurityContext.RunAsGroup,
			RunAsNonRoot: dto.SecurityContext.RunAsNonRoot,
			FSGroup:      dto.SecurityContext.FSGroup,
		}
	}
	return opts
}
