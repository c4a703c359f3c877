package dag

import (
	"container/heap"
	"fmt"
	"sort"
)

// TopologicalOrder returns every node such that each node appears after all
// of its dependencies. Ties are broken lexicographically, so the order is
// stable across runs. A cyclic graph yields the *CycleError from DetectCycles.
func (g *Graph) TopologicalOrder() ([]string, error) {
	if err := g.DetectCycles(); err != nil {
		return nil, err
	}

	g.mutex.RLock()
	defer g.mutex.RUnlock()

	indegree := make(map[string]int, len(g.nodes))
	ready := &stringHeap{}
	for id, n := range g.nodes {
		indegree[id] = len(n.deps)
		if len(n.deps) == 0 {
			heap.Push(ready, id)
		}
	}

	order := make([]string, 0, len(g.nodes))
	for ready.Len() > 0 {
		id := heap.Pop(ready).(string)
		order = append(order, id)
		for depID := range g.nodes[id].dependents {
			indegree[depID]--
			if indegree[depID] == 0 {
				heap.Push(ready, depID)
			}
		}
	}
	return order, nil
}

// Levels groups nodes by depth: level 0 holds nodes without dependencies and
// every other node sits one level above its deepest dependency. Nodes in the
// same level never depend on each other.
func (g *Graph) Levels() ([][]string, error) {
	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	g.mutex.RLock()
	defer g.mutex.RUnlock()

	depth := make(map[string]int, len(order))
	var levels [][]string
	for _, id := range order {
		d := 0
		for depID := range g.nodes[id].deps {
			if depth[depID]+1 > d {
				d = depth[depID] + 1
			}
		}
		depth[id] = d
		for len(levels) <= d {
			levels = append(levels, nil)
		}
		levels[d] = append(levels[d], id)
	}
	for _, level := range levels {
		sort.Strings(level)
	}
	return levels, nil
}

// Closure returns the given nodes plus everything they transitively depend
// on, sorted.
func (g *Graph) Closure(ids ...string) ([]string, error) {
	return g.walk(ids, func(n *node) map[string]*node { return n.deps })
}

// ReverseClosure returns the given nodes plus everything that transitively
// depends on them, sorted.
func (g *Graph) ReverseClosure(ids ...string) ([]string, error) {
	return g.walk(ids, func(n *node) map[string]*node { return n.dependents })
}

func (g *Graph) walk(ids []string, next func(*node) map[string]*node) ([]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	seen := make(map[string]struct{})
	queue := make([]*node, 0, len(ids))
	for _, id := range ids {
		n, ok := g.nodes[id]
		if !ok {
			return nil, fmt.Errorf("node not found: %s", id)
		}
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			queue = append(queue, n)
		}
	}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for id, m := range next(n) {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			queue = append(queue, m)
		}
	}

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// stringHeap is a min-heap of node IDs.
type stringHeap []string

func (h stringHeap) Len() int           { return len(h) }
func (h stringHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h stringHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *stringHeap) Push(x any)        { *h = append(*h, x.(string)) }
func (h *stringHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
