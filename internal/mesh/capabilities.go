package mesh

import (
	"os"
	"runtime"
	"slices"
	"strings"

	"go.sykli.dev/core/internal/core/domain"
)

// labelsEnvVar is the comma-separated label list a peer's operator supplies
// on top of the auto-detected OS/arch pair (spec §4.7 node capability
// vocabulary).
const labelsEnvVar = "SYKLI_LABELS"

// DetectCapabilities builds the NodeCapabilities a peer advertises at
// daemon start: runtime.GOOS and runtime.GOARCH become base labels, any
// SYKLI_LABELS entries are added, the label list is sorted and deduplicated,
// and CPU/memory sizing comes from the runtime package and memoryLimitMB.
func DetectCapabilities(nodeID string) domain.NodeCapabilities {
	labels := []string{runtime.GOOS, runtime.GOARCH}
	labels = append(labels, userLabels()...)
	slices.Sort(labels)
	labels = slices.Compact(labels)

	return domain.NodeCapabilities{
		NodeID:   nodeID,
		Labels:   labels,
		CPUCores: runtime.NumCPU(),
		MemoryMB: memoryLimitMB(),
	}
}

func userLabels() []string {
	raw := os.Getenv(labelsEnvVar)
	if raw == "" {
		return nil
	}
	var out []string
	for _, l := range strings.Split(raw, ",") {
		l = strings.TrimSpace(l)
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}
