package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newGraph builds a graph from "node -> dependency" pairs.
func newGraph(t *testing.T, nodes []string, deps map[string][]string) *Graph {
	t.Helper()
	g := New()
	for _, n := range nodes {
		g.AddNode(n)
	}
	for n, ds := range deps {
		for _, d := range ds {
			require.NoError(t, g.AddEdge(d, n))
		}
	}
	return g
}

func TestNew(t *testing.T) {
	g := New()
	require.NotNil(t, g)
	assert.NotNil(t, g.nodes)
	assert.Empty(t, g.nodes)
	assert.Equal(t, 0, g.Len())
}

func TestAddNode(t *testing.T) {
	g := New()

	g.AddNode("a")
	assert.Len(t, g.nodes, 1)
	nodeA, ok := g.nodes["a"]
	require.True(t, ok)
	assert.Equal(t, "a", nodeA.id)
	assert.NotNil(t, nodeA.deps)
	assert.NotNil(t, nodeA.dependents)

	g.AddNode("a") // Test idempotency
	assert.Len(t, g.nodes, 1)

	g.AddNode("b")
	assert.True(t, g.HasNode("b"))
	assert.False(t, g.HasNode("c"))
	assert.Equal(t, []string{"a", "b"}, g.Nodes())
}

func TestAddEdge(t *testing.T) {
	t.Run("success case", func(t *testing.T) {
		g := New()
		g.AddNode("a")
		g.AddNode("b")

		err := g.AddEdge("a", "b") // b depends on a
		require.NoError(t, err)

		nodeA := g.nodes["a"]
		nodeB := g.nodes["b"]

		assert.Contains(t, nodeA.dependents, "b")
		assert.Equal(t, nodeB, nodeA.dependents["b"])
		assert.Contains(t, nodeB.deps, "a")
		assert.Equal(t, nodeA, nodeB.deps["a"])
	})

	t.Run("error cases", func(t *testing.T) {
		g := New()
		g.AddNode("a")
		g.AddNode("b")

		err := g.AddEdge("dne", "a")
		assert.ErrorContains(t, err, "source node not found")

		err = g.AddEdge("a", "dne")
		assert.ErrorContains(t, err, "destination node not found")

		err = g.AddEdge("a", "a")
		assert.ErrorContains(t, err, "self-referential edge")
	})
}

func TestDependenciesAndDependents(t *testing.T) {
	g := newGraph(t, []string{"app", "lib", "util", "zlib"}, map[string][]string{
		"app": {"util", "lib"},
		"lib": {"zlib"},
	})

	deps, err := g.Dependencies("app")
	require.NoError(t, err)
	assert.Equal(t, []string{"lib", "util"}, deps)

	dependents, err := g.Dependents("zlib")
	require.NoError(t, err)
	assert.Equal(t, []string{"lib"}, dependents)

	_, err = g.Dependencies("missing")
	assert.ErrorContains(t, err, "node not found")
	_, err = g.Dependents("missing")
	assert.ErrorContains(t, err, "node not found")
}

func TestDetectCycles(t *testing.T) {
	t.Run("empty graph has no cycles", func(t *testing.T) {
		assert.NoError(t, New().DetectCycles())
	})

	t.Run("graph with nodes but no edges has no cycles", func(t *testing.T) {
		g := newGraph(t, []string{"a", "b"}, nil)
		assert.NoError(t, g.DetectCycles())
	})

	t.Run("diamond has no cycles", func(t *testing.T) {
		g := newGraph(t, []string{"a", "b", "c", "d"}, map[string][]string{
			"a": {"b", "c"},
			"b": {"d"},
			"c": {"d"},
		})
		assert.NoError(t, g.DetectCycles())
	})

	t.Run("simple direct cycle is detected", func(t *testing.T) {
		g := newGraph(t, []string{"a", "b"}, map[string][]string{
			"a": {"b"},
			"b": {"a"},
		})
		err := g.DetectCycles()

		var cycleErr *CycleError
		require.ErrorAs(t, err, &cycleErr)
		assert.Equal(t, []string{"a", "b", "a"}, cycleErr.Path)
		assert.EqualError(t, err, "dependency cycle detected: a -> b -> a")
	})

	t.Run("longer cycle reports only the cycle members", func(t *testing.T) {
		g := newGraph(t, []string{"entry", "x", "y", "z"}, map[string][]string{
			"entry": {"x"},
			"x":     {"y"},
			"y":     {"z"},
			"z":     {"x"},
		})

		var cycleErr *CycleError
		require.ErrorAs(t, g.DetectCycles(), &cycleErr)
		assert.Equal(t, []string{"x", "y", "z", "x"}, cycleErr.Path)
	})

	t.Run("witness is deterministic", func(t *testing.T) {
		build := func() *Graph {
			return newGraph(t, []string{"a", "b", "c", "d"}, map[string][]string{
				"a": {"b"}, "b": {"a"},
				"c": {"d"}, "d": {"c"},
			})
		}
		first := build().DetectCycles()
		for i := 0; i < 20; i++ {
			assert.Equal(t, first.Error(), build().DetectCycles().Error())
		}
	})
}
