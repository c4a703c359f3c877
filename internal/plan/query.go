package plan

import (
	"fmt"

	"github.com/vk/buildgrid/internal/dag"
)

// Query kinds.
const (
	QueryDeps  = "deps"
	QueryRDeps = "rdeps"
)

// QueryResult lists the targets related to Target.
type QueryResult struct {
	Query   string   `yaml:"query" json:"query"`
	Target  string   `yaml:"target" json:"target"`
	Results []string `yaml:"results" json:"results"`
}

// Query returns the transitive dependencies ("deps") or dependents ("rdeps")
// of target, excluding the target itself.
func Query(g *dag.Graph, kind, target string) (*QueryResult, error) {
	var (
		ids []string
		err error
	)
	switch kind {
	case QueryDeps:
		ids, err = g.Closure(target)
	case QueryRDeps:
		ids, err = g.ReverseClosure(target)
	default:
		return nil, fmt.Errorf("unknown query %q (want %s or %s)", kind, QueryDeps, QueryRDeps)
	}
	if err != nil {
		return nil, err
	}

	res := &QueryResult{Query: kind, Target: target, Results: []string{}}
	for _, id := range ids {
		if id != target {
			res.Results = append(res.Results, id)
		}
	}
	return res, nil
}
