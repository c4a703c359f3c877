package hcl_adapter

import (
	"fmt"
	"path"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/buildgrid/internal/failure"
	"github.com/vk/buildgrid/internal/label"
)

// parseLabels resolves raw label strings relative to pkg. Malformed labels
// are appended to problems and dropped from the result.
func parseLabels(raw []string, pkg string, problems []failure.Problem) ([]label.Label, []failure.Problem) {
	if len(raw) == 0 {
		return nil, problems
	}
	out := make([]label.Label, 0, len(raw))
	for _, r := range raw {
		l, err := label.Parse(r, pkg)
		if err != nil {
			problems = append(problems, failure.Problem{
				Kind:    failure.ProblemInvalidLabel,
				Targets: []string{r},
				Message: err.Error(),
			})
			continue
		}
		out = append(out, l)
	}
	return out, problems
}

// parseBuildFile resolves the optional build_file attribute of an external.
func parseBuildFile(raw, external string, problems []failure.Problem) (*label.Label, []failure.Problem) {
	if raw == "" {
		return nil, problems
	}
	l, err := label.Parse(raw, "")
	if err == nil && l.IsExternal() {
		err = fmt.Errorf("build_file must live in the main workspace")
	}
	if err != nil {
		return nil, append(problems, failure.Problem{
			Kind:    failure.ProblemInvalidLabel,
			Targets: []string{"@" + external},
			Message: fmt.Sprintf("invalid build_file %q: %v", raw, err),
		})
	}
	return &l, problems
}

// cleanRelPaths validates that every entry is a package-relative path that
// stays inside the package, returning the cleaned, de-duplicated paths.
func cleanRelPaths(raw []string, attr string, rng hcl.Range) ([]string, hcl.Diagnostics) {
	if len(raw) == 0 {
		return nil, nil
	}
	var diags hcl.Diagnostics
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		p := path.Clean(strings.ReplaceAll(r, "\\", "/"))
		if r == "" || path.IsAbs(p) || p == "." || p == ".." || strings.HasPrefix(p, "../") {
			diags = append(diags, diagError(rng, "Invalid file reference",
				fmt.Sprintf("%s entry %q must be a relative path inside the package.", attr, r)))
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out, diags
}

func dedupeLabels(labels []label.Label) []label.Label {
	seen := make(map[label.Label]struct{}, len(labels))
	out := labels[:0]
	for _, l := range labels {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}

func normalizeHash(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}

func validateTargetName(name string) error {
	_, err := label.Parse(":"+name, "")
	return err
}
