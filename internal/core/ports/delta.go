package ports

import "go.sykli.dev/core/internal/core/domain"

// AffectReason classifies why a task was included in a Delta result.
type AffectReason string

const (
	ReasonDirect    AffectReason = "direct"
	ReasonDependent AffectReason = "dependent"
)

// Affected records one task's inclusion reason, per spec §4.6 step 4.
type Affected struct {
	TaskName      string
	Reason        AffectReason
	MatchedFiles  []string // set when Reason == ReasonDirect
	Upstream      string   // affected upstream that pulled this task in; empty for a dependent task with no inputs
}

// Delta computes the subset of a graph affected by changes since a base git
// ref (spec §4.6).
//
//go:generate mockgen -source=delta.go -destination=mocks/mock_delta.go -package=mocks
type Delta interface {
	// ChangedFiles returns the union of `git diff --name-only <base>..HEAD`
	// and untracked files respecting .gitignore.
	ChangedFiles(workdir, baseRef string) ([]string, error)

	// Affected returns the directly- and transitively-affected tasks in g
	// given the set of changed files.
	Affected(g *domain.Graph, changedFiles []string) ([]Affected, error)
}
