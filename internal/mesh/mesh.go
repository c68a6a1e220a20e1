// Package mesh implements the filter-then-dispatch-in-order node placement
// algorithm of spec §4.7.
package mesh

import (
	"context"
	"strings"

	"go.sykli.dev/core/internal/core/domain"
	"go.sykli.dev/core/internal/core/ports"
)

// Selector implements ports.NodeSelector.
type Selector struct{}

// NewSelector creates a Selector.
func NewSelector() *Selector { return &Selector{} }

// Select retains nodes whose labels are a superset of task.Requires, then
// dispatches to each surviving candidate in order, stopping at the first
// success (spec §4.7).
func (s *Selector) Select(ctx context.Context, task *domain.Task, nodes []ports.MeshNode) (domain.TaskResult, error) {
	candidates := filter(task.Requires, nodes)
	if len(candidates) == 0 {
		return domain.TaskResult{}, &domain.PlacementError{
			TaskName:        task.Name.String(),
			NoMatchingNodes: true,
			RequiredLabels:  task.Requires,
			AvailableNodes:  nodeIDs(nodes),
		}
	}

	var failures []domain.PlacementFailure
	for _, node := range candidates {
		result, err := node.Dispatch(ctx, task)
		if err == nil {
			return result, nil
		}
		failures = append(failures, domain.PlacementFailure{
			Node:   node.Capabilities().NodeID,
			Reason: err.Error(),
		})
	}

	return domain.TaskResult{}, &domain.PlacementError{
		TaskName: task.Name.String(),
		Failures: failures,
	}
}

// filter retains coordinator-excluded nodes whose labels are a superset of
// required (spec §4.7 steps 1, "coordinator-only nodes").
func filter(required []string, nodes []ports.MeshNode) []ports.MeshNode {
	var out []ports.MeshNode
	for _, n := range nodes {
		caps := n.Capabilities()
		if isCoordinatorOnly(caps.Labels) {
			continue
		}
		if caps.HasLabels(required) {
			out = append(out, n)
		}
	}
	return out
}

func isCoordinatorOnly(labels []string) bool {
	for _, l := range labels {
		if l == "coordinator" {
			return true
		}
	}
	return false
}

func nodeIDs(nodes []ports.MeshNode) []string {
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.Capabilities().NodeID)
	}
	return ids
}

// Hints returns the actionable suggestions the spec §4.7 error formatter
// attaches to a PlacementError.
func Hints(err *domain.PlacementError) []string {
	if err.NoMatchingNodes {
		return []string{
			"set SYKLI_LABELS to advertise matching labels on a node",
			"adjust the task's requires list to match an available node",
		}
	}
	hints := []string{"adjust the task's requires list or node labels"}
	for _, f := range err.Failures {
		if strings.Contains(strings.ToLower(f.Reason), "docker") {
			hints = append(hints, "start the Docker daemon on node "+f.Node)
			break
		}
	}
	return hints
}
