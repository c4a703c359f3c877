package dag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/buildgrid/internal/config"
	"github.com/vk/buildgrid/internal/failure"
	"github.com/vk/buildgrid/internal/label"
)

func target(raw string, deps ...string) *config.Target {
	t := &config.Target{Label: label.MustParse(raw), Kind: "filegroup"}
	for _, d := range deps {
		t.Deps = append(t.Deps, label.MustParse(d))
	}
	return t
}

func model(targets ...*config.Target) *config.Model {
	m := &config.Model{
		Workspace: &config.Workspace{Externals: map[string]*config.External{
			"zlib": {Name: "zlib", Kind: config.KindHTTPArchive},
			"pypi": {Name: "pypi", Kind: config.KindPipRequirements, Requirements: []string{"numpy"}},
		}},
		Targets: make(map[string]*config.Target),
	}
	for _, t := range targets {
		m.Targets[t.Label.String()] = t
	}
	return m
}

func TestBuild(t *testing.T) {
	t.Run("valid model", func(t *testing.T) {
		m := model(
			target("//app:bin", "//lib:lib", "@pypi//:numpy"),
			target("//lib:lib", "@zlib//:zlib"),
		)
		g, problems := Build(context.Background(), m)
		assert.Empty(t, problems)
		assert.Equal(t, []string{"//app:bin", "//lib:lib"}, g.Nodes())

		deps, err := g.Dependencies("//app:bin")
		require.NoError(t, err)
		assert.Equal(t, []string{"//lib:lib"}, deps)
	})

	t.Run("reports every dangling reference", func(t *testing.T) {
		m := model(
			target("//app:bin", "//lib:missing", "@nope//:x"),
			target("//lib:lib", "@pypi//:pandas"),
		)
		_, problems := Build(context.Background(), m)
		require.Len(t, problems, 3)
		for _, p := range problems {
			assert.Equal(t, failure.ProblemDangling, p.Kind)
		}
		assert.Equal(t, []string{"//app:bin", "//lib:missing"}, problems[0].Targets)
		assert.Contains(t, problems[1].Message, `unknown external repository "nope"`)
		assert.Contains(t, problems[2].Message, `does not provide @pypi//:pandas`)
	})

	t.Run("self dependency is a cycle", func(t *testing.T) {
		_, problems := Build(context.Background(), model(target("//a:a", "//a:a")))
		require.Len(t, problems, 1)
		assert.Equal(t, failure.ProblemCycle, problems[0].Kind)
	})

	t.Run("mutual dependency is left for cycle detection", func(t *testing.T) {
		g, problems := Build(context.Background(), model(
			target("//a:a", "//b:b"),
			target("//b:b", "//a:a"),
		))
		assert.Empty(t, problems)
		assert.Error(t, g.DetectCycles())
	})
}
