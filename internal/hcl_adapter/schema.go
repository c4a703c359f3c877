package hcl_adapter

import "github.com/hashicorp/hcl/v2"

const (
	// WorkspaceFileName is the manifest that marks the workspace root.
	WorkspaceFileName = "WORKSPACE.hcl"
	// BuildFileName is the manifest that marks a package directory.
	BuildFileName = "BUILD.hcl"
)

var workspaceFileSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "workspace", LabelNames: []string{"name"}},
		{Type: "http_archive", LabelNames: []string{"name"}},
		{Type: "git_repository", LabelNames: []string{"name"}},
		{Type: "pip_requirements", LabelNames: []string{"name"}},
		{Type: "container_image", LabelNames: []string{"name"}},
	},
}

var buildFileSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "package"},
		{Type: "target", LabelNames: []string{"kind", "name"}},
		{Type: "image", LabelNames: []string{"name"}},
	},
}

// workspaceBody is the body of the `workspace` block. It takes no arguments.
type workspaceBody struct{}

type httpArchiveBody struct {
	URL         string   `hcl:"url,optional"`
	URLs        []string `hcl:"urls,optional"`
	SHA256      string   `hcl:"sha256,optional"`
	StripPrefix string   `hcl:"strip_prefix,optional"`
	BuildFile   string   `hcl:"build_file,optional"`
}

type gitRepositoryBody struct {
	Remote    string `hcl:"remote"`
	Commit    string `hcl:"commit"`
	BuildFile string `hcl:"build_file,optional"`
}

type pipRequirementsBody struct {
	File   string `hcl:"file"`
	SHA256 string `hcl:"sha256,optional"`
}

type containerImageBody struct {
	Registry   string `hcl:"registry,optional"`
	Repository string `hcl:"repository"`
	Tag        string `hcl:"tag,optional"`
	Digest     string `hcl:"digest,optional"`
}

type packageBody struct {
	DefaultVisibility []string `hcl:"default_visibility,optional"`
}

type targetBody struct {
	Srcs       []string `hcl:"srcs,optional"`
	Data       []string `hcl:"data,optional"`
	Deps       []string `hcl:"deps,optional"`
	Visibility []string `hcl:"visibility,optional"`
}

type imageBody struct {
	Base       string   `hcl:"base"`
	Entrypoint string   `hcl:"entrypoint"`
	Packages   []string `hcl:"packages,optional"`
	Visibility []string `hcl:"visibility,optional"`
}
