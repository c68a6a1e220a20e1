package ports

import "go.sykli.dev/core/internal/core/domain"

// GraphParser turns a pipeline document (SDK wire protocol v1, spec §6.1)
// into a validated Graph.
//
//go:generate mockgen -source=graph_parser.go -destination=mocks/mock_graph_parser.go -package=mocks
type GraphParser interface {
	// Parse decodes raw JSON into a Graph and runs the full validation
	// pipeline from spec §4.1. Returns a validation Error, never a bare
	// decoding error, so callers can render it uniformly.
	Parse(raw []byte) (*domain.Graph, error)
}

// PipelineDefaults is the ambient, YAML-sourced configuration merged
// underneath task-level overrides (K8sOptions merge semantics, §4.4.3).
type PipelineDefaults struct {
	MaxParallel int
	BaseRef     string
	TargetName  string
	K8s         *domain.K8sOptions
}

// ConfigLoader discovers and loads pipeline-default configuration,
// mirroring the root-discovery-by-walking-up-directories convention used
// elsewhere in this codebase for workspace configuration.
//
//go:generate mockgen -source=graph_parser.go -destination=mocks/mock_config_loader.go -package=mocks
type ConfigLoader interface {
	// DiscoverRoot walks up from cwd looking for a sykli.yaml or sykli.work.yaml.
	DiscoverRoot(cwd string) (string, error)

	// Load reads pipeline defaults from the discovered root.
	Load(root string) (PipelineDefaults, error)
}
