package plan

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/vk/buildgrid/internal/config"
	"github.com/vk/buildgrid/internal/dag"
	"gopkg.in/yaml.v3"
)

// Step is one target in build order.
type Step struct {
	Index int      `yaml:"index" json:"index"`
	Label string   `yaml:"label" json:"label"`
	Kind  string   `yaml:"kind" json:"kind"`
	Level int      `yaml:"level" json:"level"`
	Deps  []string `yaml:"deps,omitempty" json:"deps,omitempty"`
}

// Plan is the ordered set of targets needed to build the requested ones.
// Targets in the same level do not depend on each other and may build in
// parallel.
type Plan struct {
	Workspace string     `yaml:"workspace" json:"workspace"`
	Requested []string   `yaml:"requested" json:"requested"`
	Externals []string   `yaml:"externals,omitempty" json:"externals,omitempty"`
	Levels    [][]string `yaml:"levels" json:"levels"`
	Steps     []Step     `yaml:"steps" json:"steps"`
}

// Targets returns every target in the plan in build order.
func (p *Plan) Targets() []string {
	out := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.Label
	}
	return out
}

// New computes the plan for requested and their transitive dependencies.
func New(g *dag.Graph, model *config.Model, requested []string) (*Plan, error) {
	closure, err := g.Closure(requested...)
	if err != nil {
		return nil, err
	}
	inClosure := make(map[string]bool, len(closure))
	for _, id := range closure {
		inClosure[id] = true
	}

	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	p := &Plan{Requested: append([]string(nil), requested...)}
	if model.Workspace != nil {
		p.Workspace = model.Workspace.Name
	}
	level := make(map[string]int, len(closure))
	for _, id := range order {
		if !inClosure[id] {
			continue
		}
		deps, err := g.Dependencies(id)
		if err != nil {
			return nil, err
		}
		lvl := 0
		for _, d := range deps {
			lvl = max(lvl, level[d]+1)
		}
		level[id] = lvl
		for len(p.Levels) <= lvl {
			p.Levels = append(p.Levels, nil)
		}
		p.Levels[lvl] = append(p.Levels[lvl], id)
		p.Steps = append(p.Steps, Step{
			Index: len(p.Steps) + 1,
			Label: id,
			Kind:  model.Targets[id].Kind,
			Level: lvl,
			Deps:  deps,
		})
	}
	for _, l := range p.Levels {
		sort.Strings(l)
	}
	p.Externals = ReferencedExternals(model, closure)
	return p, nil
}

// ReferencedExternals returns the sorted names of the externals the given
// targets depend on directly.
func ReferencedExternals(model *config.Model, targets []string) []string {
	seen := make(map[string]bool)
	for _, id := range targets {
		t, ok := model.Targets[id]
		if !ok {
			continue
		}
		for _, d := range t.Deps {
			if d.IsExternal() {
				seen[d.Repo] = true
			}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Render writes v as "yaml" or "json".
func Render(w io.Writer, format string, v any) error {
	switch format {
	case "yaml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}
