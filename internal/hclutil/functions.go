package hclutil

import (
	"github.com/hashicorp/hcl/v2"
	"github.com/vk/buildgrid/internal/fsutil"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
	"github.com/zclconf/go-cty/cty/gocty"
)

// EvalContext returns the evaluation context for a package manifest in dir.
// The glob function never descends into directories for which boundary
// returns true.
func EvalContext(dir string, boundary func(rel string) bool) *hcl.EvalContext {
	return &hcl.EvalContext{
		Functions: map[string]function.Function{
			"glob":   GlobFunc(dir, boundary),
			"concat": stdlib.ConcatFunc,
			"sort":   stdlib.SortFunc,
		},
	}
}

// GlobFunc expands a list of patterns against the files under dir.
func GlobFunc(dir string, boundary func(rel string) bool) function.Function {
	return function.New(&function.Spec{
		Description: "Returns the sorted package-relative files matching any of the given patterns.",
		Params: []function.Parameter{
			{Name: "patterns", Type: cty.List(cty.String)},
		},
		Type: function.StaticReturnType(cty.List(cty.String)),
		Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
			var patterns []string
			if err := gocty.FromCtyValue(args[0], &patterns); err != nil {
				return cty.NilVal, err
			}
			matches, err := fsutil.Glob(dir, patterns, boundary)
			if err != nil {
				return cty.NilVal, err
			}
			if len(matches) == 0 {
				return cty.ListValEmpty(cty.String), nil
			}
			vals := make([]cty.Value, len(matches))
			for i, m := range matches {
				vals[i] = cty.StringVal(m)
			}
			return cty.ListVal(vals), nil
		},
	})
}
