package config_test

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.sykli.dev/core/internal/adapters/config"
)

func newLoader(t *testing.T, files fstest.MapFS, root string) *config.Loader {
	t.Helper()
	fsys := config.NewMapFSAdapter(root, files)
	return config.NewLoaderWithFS(nil, fsys)
}

func TestLoader_DiscoverRoot_FindsDefaultsFile(t *testing.T) {
	files := fstest.MapFS{
		"project/sykli.yaml": {Data: []byte("version: \"1\"\n")},
	}
	l := newLoader(t, files, "/repo")

	root, err := l.DiscoverRoot("/repo/project")
	require.NoError(t, err)
	assert.Equal(t, "/repo/project", root)
}

func TestLoader_DiscoverRoot_WalksUp(t *testing.T) {
	files := fstest.MapFS{
		"sykli.yaml":            {Data: []byte("version: \"1\"\n")},
		"project/sub/.keep": {Data: []byte("")},
	}
	l := newLoader(t, files, "/repo")

	root, err := l.DiscoverRoot("/repo/project/sub")
	require.NoError(t, err)
	assert.Equal(t, "/repo", root)
}

func TestLoader_DiscoverRoot_PrefersWorkspaceFile(t *testing.T) {
	files := fstest.MapFS{
		"sykli.work.yaml":   {Data: []byte("")},
		"project/sykli.yaml": {Data: []byte("")},
	}
	l := newLoader(t, files, "/repo")

	root, err := l.DiscoverRoot("/repo/project")
	require.NoError(t, err)
	assert.Equal(t, "/repo", root)
}

func TestLoader_DiscoverRoot_NotFound(t *testing.T) {
	files := fstest.MapFS{
		"project/.keep": {Data: []byte("")},
	}
	l := newLoader(t, files, "/repo")

	_, err := l.DiscoverRoot("/repo/project")
	assert.Error(t, err)
}

func TestLoader_Load_MissingFileReturnsZeroValue(t *testing.T) {
	files := fstest.MapFS{
		"project/.keep": {Data: []byte("")},
	}
	l := newLoader(t, files, "/repo")

	defaults, err := l.Load("/repo/project")
	require.NoError(t, err)
	assert.Zero(t, defaults.MaxParallel)
}

func TestLoader_Load_ParsesDefaults(t *testing.T) {
	files := fstest.MapFS{
		"sykli.yaml": {Data: []byte(`
version: "1"
max_parallel: 4
base_ref: main
target: k8s
k8s:
  namespace: ci
  resources:
    requests_cpu: "500m"
    requests_memory: "512Mi"
`)},
	}
	l := newLoader(t, files, "/repo")

	defaults, err := l.Load("/repo")
	require.NoError(t, err)
	assert.Equal(t, 4, defaults.MaxParallel)
	assert.Equal(t, "main", defaults.BaseRef)
	assert.Equal(t, "k8s", defaults.TargetName)
	require.NotNil(t, defaults.K8s)
	require.NotNil(t, defaults.K8s.Resources.RequestsCPU)
	assert.Equal(t, "500m", *defaults.K8s.Resources.RequestsCPU)
}

func TestLoader_Load_MalformedYAML(t *testing.T) {
	files := fstest.MapFS{
		"sykli.yaml": {Data: []byte("not: [valid: yaml")},
	}
	l := newLoader(t, files, "/repo")

	_, err := l.Load("/repo")
	assert.Error(t, err)
}
