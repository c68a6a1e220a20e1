package ports

import (
	"context"

	"go.sykli.dev/core/internal/core/domain"
)

// MeshNode is a dispatchable candidate: its advertised capabilities plus a
// handle the NodeSelector uses to attempt dispatch.
type MeshNode interface {
	Capabilities() domain.NodeCapabilities
	Dispatch(ctx context.Context, task *domain.Task) (domain.TaskResult, error)
}

// NodeSelector implements the filter-then-dispatch-in-order placement
// algorithm of spec §4.7.
//
//go:generate mockgen -source=mesh.go -destination=mocks/mock_mesh.go -package=mocks
type NodeSelector interface {
	// Select filters nodes by task.Requires and dispatches to each
	// surviving candidate in order, stopping at the first success.
	Select(ctx context.Context, task *domain.Task, nodes []MeshNode) (domain.TaskResult, error)
}
