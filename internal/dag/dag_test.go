package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chain builds 1 -> 2 -> 3 with 4 also built from 1.
func chain(t *testing.T) *Graph[int64] {
	t.Helper()
	g := NewGraph[int64]()
	require.NoError(t, g.AddEdge(1, 2))
	require.NoError(t, g.AddEdge(2, 3))
	require.NoError(t, g.AddEdge(1, 4))
	return g
}

func TestGraph_AddEdge(t *testing.T) {
	g := chain(t)
	assert.Equal(t, 4, g.NodeCount())
	assert.Equal(t, 3, g.EdgeCount())

	// Duplicate edges are ignored.
	require.NoError(t, g.AddEdge(1, 2))
	assert.Equal(t, 3, g.EdgeCount())

	assert.Equal(t, []int64{2, 4}, g.Dependents(1))
	assert.Equal(t, []int64{2}, g.Sources(3))
	assert.True(t, g.Has(4))
	assert.False(t, g.Has(5))
}

func TestGraph_SelfLoop(t *testing.T) {
	g := NewGraph[string]()
	err := g.AddEdge("a", "a")
	require.ErrorIs(t, err, ErrCycle)
}

func TestGraph_SetSources(t *testing.T) {
	g := chain(t)
	require.NoError(t, g.SetSources(3, []int64{4}))
	assert.Equal(t, []int64{4}, g.Sources(3))
	assert.Empty(t, g.Dependents(2))
	assert.Equal(t, []int64{3}, g.Dependents(4))

	require.NoError(t, g.SetSources(3, nil))
	assert.Empty(t, g.Sources(3))
	assert.Equal(t, 2, g.EdgeCount())
}

func TestGraph_FindCycle(t *testing.T) {
	g := chain(t)
	assert.Nil(t, g.FindCycle())

	require.NoError(t, g.AddEdge(3, 1))
	cycle := g.FindCycle()
	require.NotEmpty(t, cycle)
	assert.Equal(t, cycle[0], cycle[len(cycle)-1])
	assert.ElementsMatch(t, []int64{1, 2, 3}, cycle[1:])
}

func TestGraph_TopologicalSort(t *testing.T) {
	g := chain(t)
	g.AddNode(0)

	order, err := g.TopologicalSort()
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1, 2, 3, 4}, order)

	require.NoError(t, g.AddEdge(4, 1))
	_, err = g.TopologicalSort()
	require.ErrorIs(t, err, ErrCycle)
}

func TestGraph_DownstreamUpstream(t *testing.T) {
	g := chain(t)

	assert.Equal(t, []int64{2, 3, 4}, g.Downstream(1))
	assert.Equal(t, []int64{3}, g.Downstream(2))
	assert.Empty(t, g.Downstream(3))
	assert.Empty(t, g.Downstream(99))

	assert.Equal(t, []int64{1, 2}, g.Upstream(3))
	assert.Empty(t, g.Upstream(1))
}
