// Package delta computes the set of tasks affected by changes since a base
// git ref (spec §4.6): which files changed, and which tasks' declared inputs
// match them, directly or through a dependency edge.
package delta

import (
	"bytes"
	"context"
	"os/exec"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.sykli.dev/core/internal/core/domain"
	"go.sykli.dev/core/internal/core/ports"
	"go.trai.ch/zerr"
)

// Detector implements ports.Delta by shelling out to the git binary. git
// already resolves .gitignore rules correctly for untracked-file listing
// (`ls-files --others --exclude-standard`), so no separate gitignore-parsing
// library is wired here.
type Detector struct{}

// NewDetector creates a Detector.
func NewDetector() *Detector {
	return &Detector{}
}

// ChangedFiles returns the union of files changed since baseRef and
// untracked files respecting .gitignore (spec §4.6 step 1).
func (d *Detector) ChangedFiles(workdir, baseRef string) ([]string, error) {
	if _, err := runGit(workdir, "rev-parse", "--is-inside-work-tree"); err != nil {
		return nil, zerr.With(domain.ErrNotAGitRepo, "workdir", workdir)
	}

	if _, err := runGit(workdir, "rev-parse", "--verify", baseRef); err != nil {
		if strings.Contains(err.Error(), "bad revision") {
			return nil, zerr.With(domain.ErrBadRevision, "ref", baseRef)
		}
		return nil, zerr.With(domain.ErrUnknownRef, "ref", baseRef)
	}

	diffOut, err := runGit(workdir, "diff", "--name-only", baseRef+"..HEAD")
	if err != nil {
		return nil, zerr.With(domain.ErrGitFailed, "command", "diff", "output", err.Error())
	}

	untrackedOut, err := runGit(workdir, "ls-files", "--others", "--exclude-standard")
	if err != nil {
		return nil, zerr.With(domain.ErrGitFailed, "command", "ls-files", "output", err.Error())
	}

	seen := make(map[string]bool)
	var files []string
	for _, line := range append(splitLines(diffOut), splitLines(untrackedOut)...) {
		if line == "" || seen[line] {
			continue
		}
		seen[line] = true
		files = append(files, line)
	}
	slices.Sort(files)
	return files, nil
}

// Affected returns every task that is directly affected (an input glob
// matches a changed file) or transitively affected (no declared inputs, or a
// dependency on an affected task) - spec §4.6 steps 2-4.
func (d *Detector) Affected(g *domain.Graph, changedFiles []string) ([]ports.Affected, error) {
	affected := make(map[string]ports.Affected)

	for task := range g.Walk() {
		name := task.Name.String()
		if len(task.Inputs) == 0 {
			affected[name] = ports.Affected{TaskName: name, Reason: ports.ReasonDependent}
			continue
		}
		matched, err := matchedFiles(task.Inputs, changedFiles)
		if err != nil {
			return nil, zerr.With(zerr.Wrap(err, "failed to match input pattern"), "task", name)
		}
		if len(matched) > 0 {
			affected[name] = ports.Affected{TaskName: name, Reason: ports.ReasonDirect, MatchedFiles: matched}
		}
	}

	queue := make([]string, 0, len(affected))
	for name := range affected {
		queue = append(queue, name)
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dep := range g.Dependents(domain.NewInternedString(cur)) {
			depName := dep.String()
			if _, ok := affected[depName]; ok {
				continue
			}
			affected[depName] = ports.Affected{TaskName: depName, Reason: ports.ReasonDependent, Upstream: cur}
			queue = append(queue, depName)
		}
	}

	out := make([]ports.Affected, 0, len(affected))
	for _, a := range affected {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b ports.Affected) int { return strings.Compare(a.TaskName, b.TaskName) })
	return out, nil
}

func matchedFiles(patterns []string, changedFiles []string) ([]string, error) {
	var matched []string
	for _, pattern := range patterns {
		for _, f := range changedFiles {
			ok, err := doublestar.Match(pattern, f)
			if err != nil {
				return nil, err
			}
			if ok || pattern == f {
				matched = append(matched, f)
			}
		}
	}
	return matched, nil
}

func runGit(workdir string, args ...string) (string, error) {
	fullArgs := append([]string{"-C", workdir}, args...)
	cmd := exec.CommandContext(context.Background(), "git", fullArgs...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return "", zerr.Wrap(err, strings.TrimSpace(stderr.String()))
		}
		return "", err
	}
	return stdout.String(), nil
}

func splitLines(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
