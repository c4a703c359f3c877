package registry

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/buildgrid/internal/config"
	"github.com/vk/buildgrid/internal/label"
)

func named(name string) Action {
	return ActionFunc(func(context.Context, *Task) (*Output, error) {
		return &Output{Digest: name}, nil
	})
}

func build(t *testing.T, a Action) string {
	t.Helper()
	out, err := a.Build(context.Background(), &Task{})
	require.NoError(t, err)
	return out.Digest
}

func TestLookup(t *testing.T) {
	r := New()
	r.RegisterKind("filegroup", named("filegroup"))
	r.RegisterKind("go_test", named("exact"))
	r.RegisterSuffix("_test", named("test"))
	r.RegisterSuffix("_library", named("library"))
	r.RegisterSuffix("_proto_library", named("proto"))

	testCases := []struct {
		kind string
		want string
	}{
		{"filegroup", "filegroup"},
		{"go_test", "exact"},
		{"py_test", "test"},
		{"cc_library", "library"},
		{"go_proto_library", "proto"},
	}
	for _, tc := range testCases {
		t.Run(tc.kind, func(t *testing.T) {
			a, ok := r.Lookup(tc.kind)
			require.True(t, ok)
			assert.Equal(t, tc.want, build(t, a))
		})
	}

	_, ok := r.Lookup("_library")
	assert.False(t, ok, "a bare suffix is not a kind")
	_, ok = r.Lookup("genrule")
	assert.False(t, ok)

	assert.Equal(t, []string{"*_library", "*_proto_library", "*_test", "filegroup", "go_test"}, r.Kinds())
}

func TestRegister_DuplicatePanics(t *testing.T) {
	r := New()
	r.RegisterKind("image", named("a"))
	assert.Panics(t, func() { r.RegisterKind("image", named("b")) })
	r.RegisterSuffix("_binary", named("a"))
	assert.Panics(t, func() { r.RegisterSuffix("_binary", named("b")) })
}

func TestValidate(t *testing.T) {
	model := &config.Model{Targets: map[string]*config.Target{}}
	add := func(pkg, name, kind string) {
		l := label.New(pkg, name)
		model.Targets[l.String()] = &config.Target{Label: l, Kind: kind}
	}
	add("lib", "util", "go_library")
	add("lib", "gen", "genrule")
	add("app", "gen", "genrule")

	r := New()
	r.RegisterSuffix("_library", named("library"))

	err := r.Validate(context.Background(), model)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registry validation failed")
	assert.Contains(t, err.Error(), "kind 'genrule' (first used by //app:gen)")
	assert.Equal(t, 1, strings.Count(err.Error(), "genrule"))

	r.RegisterKind("genrule", named("genrule"))
	assert.NoError(t, r.Validate(context.Background(), model))
}
