package fetch

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/vk/buildgrid/internal/config"
	"github.com/vk/buildgrid/internal/ctxlog"
	"github.com/vk/buildgrid/internal/failure"
)

// fetchGitRepository clones the remote and checks out the pinned commit as a
// detached worktree. A commit the remote does not contain is an integrity
// failure, not a transient one.
func (f *Fetcher) fetchGitRepository(ctx context.Context, ext *config.External) (*Result, error) {
	logger := ctxlog.FromContext(ctx)
	dest := f.ExternalDir(ext.Name)

	if head, err := headCommit(dest); err == nil && head == ext.Commit && readMarker(dest) == f.installStamp(ext, ext.Commit) {
		logger.Debug("Repository already checked out at the pinned commit.", "path", dest)
		return f.gitResult(ext, dest, true), nil
	}

	partial := dest + ".partial"
	var repo *git.Repository
	err := f.opts.Retry.Do(ctx, retriableGitError, func(attempt int) error {
		if attempt > 0 {
			f.recorder.IncFetchRetry(string(ext.Kind))
			logger.Info("Retrying clone.", "remote", ext.Remote, "attempt", attempt)
		}
		if err := os.RemoveAll(partial); err != nil {
			return err
		}
		var err error
		repo, err = git.PlainCloneContext(ctx, partial, false, &git.CloneOptions{
			URL:        ext.Remote,
			NoCheckout: true,
		})
		return err
	})
	if err != nil {
		os.RemoveAll(partial)
		return nil, &failure.FetchError{External: ext.Name, Source: ext.Remote, Err: err}
	}

	commit, err := repo.CommitObject(plumbing.NewHash(ext.Commit))
	if err != nil || commit.Hash.String() != ext.Commit {
		os.RemoveAll(partial)
		return nil, &failure.IntegrityError{External: ext.Name, Source: ext.Remote, Expected: ext.Commit, Actual: "commit not found in remote"}
	}

	wt, err := repo.Worktree()
	if err != nil {
		os.RemoveAll(partial)
		return nil, fmt.Errorf("failed to open worktree for %s: %w", ext.Name, err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: commit.Hash, Force: true}); err != nil {
		os.RemoveAll(partial)
		return nil, &failure.FetchError{External: ext.Name, Source: ext.Remote, Err: fmt.Errorf("checkout %s: %w", ext.Commit, err)}
	}
	if err := f.installBuildFile(ext, partial); err != nil {
		os.RemoveAll(partial)
		return nil, err
	}
	if err := writeMarker(partial, f.installStamp(ext, ext.Commit)); err != nil {
		os.RemoveAll(partial)
		return nil, err
	}

	if err := os.RemoveAll(dest); err != nil {
		return nil, err
	}
	if err := os.Rename(partial, dest); err != nil {
		return nil, err
	}
	return f.gitResult(ext, dest, false), nil
}

func (f *Fetcher) gitResult(ext *config.External, dest string, cached bool) *Result {
	return &Result{
		External: ext.Name,
		Kind:     ext.Kind,
		Source:   ext.Remote,
		Digest:   ext.Commit,
		Path:     dest,
		Verified: true,
		Cached:   cached,
	}
}

func headCommit(dir string) (string, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return "", err
	}
	ref, err := repo.Head()
	if err != nil {
		return "", err
	}
	return ref.Hash().String(), nil
}

// retriableGitError treats missing repositories and authentication failures
// as permanent.
func retriableGitError(err error) bool {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, git.ErrRepositoryNotExists):
		return false
	case errors.Is(err, transport.ErrRepositoryNotFound), errors.Is(err, transport.ErrAuthenticationRequired):
		return false
	}
	return true
}
