package delta_test

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.sykli.dev/core/internal/core/domain"
	"go.sykli.dev/core/internal/core/ports"
	"go.sykli.dev/core/internal/delta"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
		)
		out, err := cmd.CombinedOutput()
		require.NoErrorf(t, err, "git %v: %s", args, out)
	}

	run("init", "-q")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("*.md\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a\n"), 0o644))
	run("add", ".gitignore", "a.go")
	run("commit", "-q", "-m", "initial")
	run("tag", "base")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a\n// changed\n"), 0o644))
	run("add", "a.go")
	run("commit", "-q", "-m", "change a")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "untracked.go"), []byte("package a\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.md"), []byte("# docs\n"), 0o644))

	return dir
}

func TestDetector_ChangedFiles(t *testing.T) {
	dir := initRepo(t)
	d := delta.NewDetector()

	files, err := d.ChangedFiles(dir, "base")
	require.NoError(t, err)
	assert.Contains(t, files, "a.go")
	assert.Contains(t, files, "untracked.go")
	assert.NotContains(t, files, "ignored.md", ".gitignore excludes *.md from the untracked-file listing")
}

func TestDetector_ChangedFiles_NotAGitRepo(t *testing.T) {
	dir := t.TempDir()
	d := delta.NewDetector()
	_, err := d.ChangedFiles(dir, "base")
	require.ErrorIs(t, err, domain.ErrNotAGitRepo)
}

func TestDetector_ChangedFiles_UnknownRef(t *testing.T) {
	dir := initRepo(t)
	d := delta.NewDetector()
	_, err := d.ChangedFiles(dir, "does-not-exist")
	require.ErrorIs(t, err, domain.ErrUnknownRef)
}

func TestDetector_Affected_DirectMatch(t *testing.T) {
	g := domain.NewGraph()
	require.NoError(t, g.AddTask(&domain.Task{Name: domain.NewInternedString("build"), Inputs: []string{"**/*.go"}}))
	require.NoError(t, g.Validate())

	d := delta.NewDetector()
	affected, err := d.Affected(g, []string{"a.go"})
	require.NoError(t, err)
	require.Len(t, affected, 1)
	assert.Equal(t, ports.ReasonDirect, affected[0].Reason)
	assert.Equal(t, []string{"a.go"}, affected[0].MatchedFiles)
}

func TestDetector_Affected_NoInputsAlwaysAffected(t *testing.T) {
	g := domain.NewGraph()
	require.NoError(t, g.AddTask(&domain.Task{Name: domain.NewInternedString("deploy")}))
	require.NoError(t, g.Validate())

	d := delta.NewDetector()
	affected, err := d.Affected(g, nil)
	require.NoError(t, err)
	require.Len(t, affected, 1)
	assert.Equal(t, ports.ReasonDependent, affected[0].Reason)
	assert.Empty(t, affected[0].Upstream)
}

func TestDetector_Affected_DirectMatchTakesPrecedenceOverDependency(t *testing.T) {
	g := domain.NewGraph()
	require.NoError(t, g.AddTask(&domain.Task{Name: domain.NewInternedString("build"), Inputs: []string{"*.go"}}))
	require.NoError(t, g.AddTask(&domain.Task{Name: domain.NewInternedString("test"), Inputs: []string{"*.go"}, DependsOn: domain.NewInternedStrings([]string{"build"})}))
	require.NoError(t, g.AddTask(&domain.Task{Name: domain.NewInternedString("unrelated"), Inputs: []string{"*.md"}}))
	require.NoError(t, g.Validate())

	d := delta.NewDetector()
	affected, err := d.Affected(g, []string{"main.go"})
	require.NoError(t, err)

	names := make(map[string]ports.AffectReason)
	for _, a := range affected {
		names[a.TaskName] = a.Reason
	}
	assert.Equal(t, ports.ReasonDirect, names["build"])
	assert.Equal(t, ports.ReasonDirect, names["test"], "test's own inputs also match main.go directly")
	_, unrelatedAffected := names["unrelated"]
	assert.False(t, unrelatedAffected)
}
