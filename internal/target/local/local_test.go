package local_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.sykli.dev/core/internal/core/domain"
	"go.sykli.dev/core/internal/core/ports"
	"go.sykli.dev/core/internal/target/local"
)

type fakeRuntime struct {
	available bool
	result    ports.RunResult
	err       error
	lastOpts  ports.RunOpts
}

func (f *fakeRuntime) Available(ctx context.Context) bool { return f.available }

func (f *fakeRuntime) Run(ctx context.Context, command string, opts ports.RunOpts, w io.Writer) (ports.RunResult, error) {
	f.lastOpts = opts
	return f.result, f.err
}

func TestTarget_RunTask_Success(t *testing.T) {
	shell := &fakeRuntime{available: true, result: ports.RunResult{OK: true, ExitCode: 0, Output: "ok"}}
	target := local.NewTarget(shell, nil, nil)

	wd := t.TempDir()
	chdir(t, wd)

	st, err := target.Setup(context.Background(), ports.RunTaskOpts{})
	require.NoError(t, err)

	task := &domain.Task{Name: domain.NewInternedString("build"), Command: "echo ok"}
	result, err := target.RunTask(context.Background(), task, st, ports.RunTaskOpts{})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPassed, result.Status)
}

func TestTarget_RunTask_NonZeroExit(t *testing.T) {
	shell := &fakeRuntime{available: true, result: ports.RunResult{OK: false, ExitCode: 1, Output: "boom"}}
	target := local.NewTarget(shell, nil, nil)

	wd := t.TempDir()
	chdir(t, wd)
	st, err := target.Setup(context.Background(), ports.RunTaskOpts{})
	require.NoError(t, err)

	task := &domain.Task{Name: domain.NewInternedString("build"), Command: "exit 1"}
	result, err := target.RunTask(context.Background(), task, st, ports.RunTaskOpts{})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, result.Status)
	require.NotNil(t, result.Error)
	assert.Equal(t, domain.CodeTaskFailed, result.Error.Code)
}

func TestTarget_RunTask_ContainerWithoutDockerRuntimeFails(t *testing.T) {
	shell := &fakeRuntime{available: true, result: ports.RunResult{OK: true}}
	target := local.NewTarget(shell, nil, nil)
	wd := t.TempDir()
	chdir(t, wd)
	st, err := target.Setup(context.Background(), ports.RunTaskOpts{})
	require.NoError(t, err)

	task := &domain.Task{Name: domain.NewInternedString("build"), Command: "echo hi", Container: "alpine"}
	_, err = target.RunTask(context.Background(), task, st, ports.RunTaskOpts{})
	require.Error(t, err)
}

func TestTarget_CopyArtifact_RejectsPathTraversal(t *testing.T) {
	target := local.NewTarget(nil, nil, nil)
	wd := t.TempDir()

	src := filepath.Join(wd, "a.txt")
	require.NoError(t, os.WriteFile(src, []byte("hi"), 0o644))

	err := target.CopyArtifact(context.Background(), src, filepath.Join(wd, "..", "escape.txt"), wd, nil)
	require.ErrorIs(t, err, domain.ErrPathTraversal)
}

func TestTarget_CopyArtifact_WithinWorkdirSucceeds(t *testing.T) {
	target := local.NewTarget(nil, nil, nil)
	wd := t.TempDir()

	src := filepath.Join(wd, "a.txt")
	require.NoError(t, os.WriteFile(src, []byte("hi"), 0o644))
	dst := filepath.Join(wd, ".sykli", "artifacts", "build", "a.txt")

	require.NoError(t, target.CopyArtifact(context.Background(), src, dst, wd, nil))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))
}

func TestTarget_ArtifactPath(t *testing.T) {
	target := local.NewTarget(nil, nil, nil)
	path, err := target.ArtifactPath("build", "binary", "/work", nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/work", ".sykli", "artifacts", "build", "binary"), path)
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	orig, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(orig) })
}
