package graph_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.sykli.dev/core/internal/core/domain"
	"go.sykli.dev/core/internal/graph"
)

func TestParser_Parse_SimpleGraph(t *testing.T) {
	doc := []byte(`{
		"version": "1",
		"tasks": [
			{"name": "build", "command": "make build"},
			{"name": "test", "command": "make test", "depends_on": ["build"]}
		]
	}`)

	p := graph.NewParser()
	g, err := p.Parse(doc)
	require.NoError(t, err)
	assert.Equal(t, 2, g.TaskCount())

	build, ok := g.GetTask(domain.NewInternedString("build"))
	require.True(t, ok)
	assert.Equal(t, "make build", build.Command)
}

func TestParser_Parse_MalformedJSON(t *testing.T) {
	p := graph.NewParser()
	_, err := p.Parse([]byte(`not json`))
	require.ErrorIs(t, err, domain.ErrMalformedGraph)
}

func TestParser_Parse_MissingTasksArray(t *testing.T) {
	p := graph.NewParser()
	_, err := p.Parse([]byte(`{"version":"1"}`))
	require.ErrorIs(t, err, domain.ErrMalformedGraph)
}

func TestParser_Parse_SelfDependency(t *testing.T) {
	doc := []byte(`{"version":"1","tasks":[{"name":"a","depends_on":["a"]}]}`)
	p := graph.NewParser()
	_, err := p.Parse(doc)
	require.ErrorIs(t, err, domain.ErrSelfDependency)
}

func TestParser_Parse_UnknownDependency(t *testing.T) {
	doc := []byte(`{"version":"1","tasks":[{"name":"a","depends_on":["ghost"]}]}`)
	p := graph.NewParser()
	_, err := p.Parse(doc)
	require.ErrorIs(t, err, domain.ErrUnknownDependency)
}

func TestParser_Parse_Cycle(t *testing.T) {
	doc := []byte(`{"version":"1","tasks":[
		{"name":"a","depends_on":["b"]},
		{"name":"b","depends_on":["a"]}
	]}`)
	p := graph.NewParser()
	_, err := p.Parse(doc)
	require.ErrorIs(t, err, domain.ErrCycleDetected)
}

func TestParser_Parse_ArtifactValidity(t *testing.T) {
	doc := []byte(`{"version":"1","tasks":[
		{"name":"build","outputs":{"bin":"out/bin"}},
		{"name":"deploy","task_inputs":[{"from_task":"build","output":"bin","dest":"./bin"}]}
	]}`)
	p := graph.NewParser()
	_, err := p.Parse(doc)
	require.ErrorIs(t, err, domain.ErrMissingArtifactDependency)
}

func TestParser_Parse_MatrixExpansion(t *testing.T) {
	doc := []byte(`{"version":"1","tasks":[
		{"name":"test","matrix":{"version":["1.15","1.16"]}}
	]}`)
	p := graph.NewParser()
	g, err := p.Parse(doc)
	require.NoError(t, err)
	assert.Equal(t, 2, g.TaskCount())

	_, ok := g.GetTask(domain.NewInternedString("test-1.15"))
	assert.True(t, ok)
	_, ok = g.GetTask(domain.NewInternedString("test-1.16"))
	assert.True(t, ok)
}

func TestParser_Parse_OnFailureRetry(t *testing.T) {
	doc := []byte(`{"version":"1","tasks":[{"name":"a","on_failure":"retry:3"}]}`)
	p := graph.NewParser()
	g, err := p.Parse(doc)
	require.NoError(t, err)

	a, _ := g.GetTask(domain.NewInternedString("a"))
	assert.Equal(t, domain.OnFailureRetry, a.OnFailure.Mode)
	assert.Equal(t, 3, a.OnFailure.RetryCount)
}

func TestParser_Parse_Condition(t *testing.T) {
	doc := []byte(`{"version":"1","tasks":[
		{"name":"a","condition":{"branch":"main"}}
	]}`)
	p := graph.NewParser()
	g, err := p.Parse(doc)
	require.NoError(t, err)

	a, _ := g.GetTask(domain.NewInternedString("a"))
	require.NotNil(t, a.Condition)
	require.NotNil(t, a.Condition.Branch)
	assert.Equal(t, "main", *a.Condition.Branch)
}
