package plan

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vk/buildgrid/internal/config"
	"github.com/vk/buildgrid/internal/label"
)

// ExpandPatterns resolves target patterns into sorted target labels. Supported
// patterns are plain labels, "//pkg:all" for every target in a package and
// "//pkg/..." for every target at or below a package. No patterns selects
// every target.
func ExpandPatterns(model *config.Model, patterns []string) ([]string, error) {
	if len(patterns) == 0 {
		return allTargets(model, func(*config.Target) bool { return true }), nil
	}

	seen := make(map[string]bool)
	for _, p := range patterns {
		matches, err := expand(model, strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("pattern %q matches no targets", p)
		}
		for _, m := range matches {
			seen[m] = true
		}
	}

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func expand(model *config.Model, p string) ([]string, error) {
	switch {
	case p == "//..." || p == "...":
		return allTargets(model, func(*config.Target) bool { return true }), nil
	case strings.HasSuffix(p, "/..."):
		pkg := strings.TrimPrefix(strings.TrimSuffix(p, "/..."), "//")
		return allTargets(model, func(t *config.Target) bool {
			return t.Label.Package == pkg || strings.HasPrefix(t.Label.Package, pkg+"/")
		}), nil
	case strings.HasSuffix(p, ":all"):
		pkg := strings.TrimPrefix(strings.TrimSuffix(p, ":all"), "//")
		if _, ok := model.Packages[pkg]; !ok {
			return nil, fmt.Errorf("pattern %q: no package %q", p, pkg)
		}
		return allTargets(model, func(t *config.Target) bool { return t.Label.Package == pkg }), nil
	}

	l, err := label.Parse(p, "")
	if err != nil {
		return nil, fmt.Errorf("invalid target pattern %q: %w", p, err)
	}
	if l.IsExternal() {
		return nil, fmt.Errorf("pattern %q: external targets cannot be built directly", p)
	}
	if _, ok := model.Targets[l.String()]; !ok {
		return nil, fmt.Errorf("no such target %s", l)
	}
	return []string{l.String()}, nil
}

func allTargets(model *config.Model, keep func(*config.Target) bool) []string {
	var out []string
	for _, t := range model.SortedTargets() {
		if keep(t) {
			out = append(out, t.Label.String())
		}
	}
	return out
}
