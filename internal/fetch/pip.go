package fetch

import (
	"context"
	"path/filepath"

	"github.com/vk/buildgrid/internal/config"
	"github.com/vk/buildgrid/internal/digest"
	"github.com/vk/buildgrid/internal/failure"
)

// verifyRequirements hashes a requirements file that lives in the workspace.
// Installing the listed distributions is left to the actions that use them.
func (f *Fetcher) verifyRequirements(_ context.Context, ext *config.External) (*Result, error) {
	p := filepath.Join(f.opts.WorkspaceRoot, filepath.FromSlash(ext.File))
	sum, err := digest.File(p)
	if err != nil {
		return nil, &failure.FetchError{External: ext.Name, Source: ext.File, Err: err}
	}
	if ext.SHA256 != "" && sum != ext.SHA256 {
		return nil, &failure.IntegrityError{External: ext.Name, Source: ext.File, Expected: ext.SHA256, Actual: sum}
	}
	return &Result{
		External: ext.Name,
		Kind:     ext.Kind,
		Source:   ext.File,
		Digest:   sum,
		Path:     p,
		Verified: ext.SHA256 != "",
	}, nil
}
