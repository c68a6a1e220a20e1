// Package config loads ambient, YAML-sourced pipeline defaults. The task
// graph itself arrives as JSON over the SDK wire protocol; this package only
// resolves the sykli.yaml that supplies defaults an individual run or task
// can override.
package config

import (
	"path/filepath"

	"go.sykli.dev/core/internal/core/domain"
	"go.sykli.dev/core/internal/core/ports"
	"go.trai.ch/zerr"
	"gopkg.in/yaml.v3"
)

// DefaultsFileName is the pipeline-defaults file discovered by walking up
// from the current working directory.
const DefaultsFileName = "sykli.yaml"

// WorkspaceFileName marks a multi-project workspace root; when present it
// takes priority over a same-directory DefaultsFileName during discovery.
const WorkspaceFileName = "sykli.work.yaml"

// Loader implements ports.ConfigLoader by reading sykli.yaml.
type Loader struct {
	Logger ports.Logger
	FS     FileSystem
}

// NewLoader creates a Loader using the OS filesystem.
func NewLoader(logger ports.Logger) *Loader {
	return &Loader{
		Logger: logger,
		FS:     NewOSFS(),
	}
}

// NewLoaderWithFS creates a Loader using a supplied FileSystem, for tests.
func NewLoaderWithFS(logger ports.Logger, filesystem FileSystem) *Loader {
	return &Loader{
		Logger: logger,
		FS:     filesystem,
	}
}

// DiscoverRoot walks up from cwd looking for a sykli.work.yaml (preferred)
// or sykli.yaml.
func (l *Loader) DiscoverRoot(cwd string) (string, error) {
	currentDir := cwd
	var standaloneCandidate string

	for {
		workPath := filepath.Join(currentDir, WorkspaceFileName)
		if _, err := l.FS.Stat(workPath); err == nil {
			return currentDir, nil
		}

		if standaloneCandidate == "" {
			defaultsPath := filepath.Join(currentDir, DefaultsFileName)
			if _, err := l.FS.Stat(defaultsPath); err == nil {
				standaloneCandidate = currentDir
			}
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			break
		}
		currentDir = parentDir
	}

	if standaloneCandidate != "" {
		return standaloneCandidate, nil
	}

	return "", zerr.With(domain.ErrConfigNotFound, "cwd", cwd)
}

// Load reads sykli.yaml from root and translates it into PipelineDefaults.
// A missing file is not an error: callers get the zero-value defaults
// (max_parallel defaults to runtime.NumCPU by convention of the caller).
func (l *Loader) Load(root string) (ports.PipelineDefaults, error) {
	path := filepath.Join(root, DefaultsFileName)
	if _, err := l.FS.Stat(path); err != nil {
		return ports.PipelineDefaults{}, nil
	}

	raw, err := l.FS.ReadFile(path)
	if err != nil {
		return ports.PipelineDefaults{}, zerr.Wrap(err, "failed to read "+DefaultsFileName)
	}

	var file DefaultsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return ports.PipelineDefaults{}, zerr.Wrap(err, "failed to parse "+DefaultsFileName)
	}

	return ports.PipelineDefaults{
		MaxParallel: file.MaxParallel,
		BaseRef:     file.BaseRef,
		TargetName:  file.Target,
		K8s:         translateK8sDefaults(file.K8s),
	}, nil
}

func translateK8sDefaults(dto *K8sDefaultsDTO) *domain.K8sOptions {
	if dto == nil {
		return nil
	}

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
