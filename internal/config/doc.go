// Package config defines the format-agnostic model of a workspace: the
// externals declared in the workspace manifest and the packages, targets
// and images declared in every package manifest. Format-specific loaders
// (see internal/hcl_adapter) translate files into this model; everything
// downstream of loading only ever sees these types.
package config
