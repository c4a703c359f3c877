package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vk/buildgrid/internal/config"
	"github.com/vk/buildgrid/internal/ctxlog"
	"github.com/vk/buildgrid/internal/digest"
	"github.com/vk/buildgrid/internal/failure"
	"github.com/vk/buildgrid/internal/metrics"
	"github.com/vk/buildgrid/internal/retry"
	"golang.org/x/sync/errgroup"
)

// markerFile records the install stamp of an external directory.
const markerFile = ".buildgrid-digest"

// Options configures a Fetcher.
type Options struct {
	CacheDir      string // holds downloads/ and external/
	WorkspaceRoot string
	Concurrency   int
	Retry         retry.Policy
	HTTPClient    *http.Client
	Recorder      metrics.Recorder
}

// Result describes one fetched external.
type Result struct {
	External string
	Kind     config.ExternalKind
	Source   string // URL, remote or file the content came from
	Digest   string // sha256 for archives and requirement files, commit for git
	Path     string
	Verified bool // false when no expected digest was declared
	Cached   bool
	Duration time.Duration
}

// Fetcher retrieves externals into the cache directory.
type Fetcher struct {
	opts      Options
	client    *http.Client
	downloads *DownloadCache
	recorder  metrics.Recorder
}

// New creates a Fetcher and its cache directories.
func New(opts Options) (*Fetcher, error) {
	if opts.CacheDir == "" {
		return nil, errors.New("fetch: cache directory must be set")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if err := opts.Retry.Validate(); err != nil {
		opts.Retry = retry.DefaultPolicy()
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	downloads, err := NewDownloadCache(filepath.Join(opts.CacheDir, "downloads"))
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(opts.CacheDir, "external"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create external directory: %w", err)
	}
	return &Fetcher{opts: opts, client: client, downloads: downloads, recorder: recorder}, nil
}

// ExternalDir returns the directory an external is installed into.
func (f *Fetcher) ExternalDir(name string) string {
	return filepath.Join(f.opts.CacheDir, "external", name)
}

// Fetch retrieves and verifies a single external.
func (f *Fetcher) Fetch(ctx context.Context, ext *config.External) (*Result, error) {
	ctx, logger := ctxlog.With(ctx, "external", ext.Name, "kind", string(ext.Kind))
	start := time.Now()
	logger.Debug("Fetching external.")

	var (
		res *Result
		err error
	)
	switch ext.Kind {
	case config.KindHTTPArchive:
		res, err = f.fetchHTTPArchive(ctx, ext)
	case config.KindGitRepository:
		res, err = f.fetchGitRepository(ctx, ext)
	case config.KindPipRequirements:
		res, err = f.verifyRequirements(ctx, ext)
	default:
		err = fmt.Errorf("unsupported external kind %q", ext.Kind)
	}

	elapsed := time.Since(start)
	if err != nil {
		var integrityErr *failure.IntegrityError
		if errors.As(err, &integrityErr) {
			f.recorder.IncIntegrityFailure(string(ext.Kind))
			logger.Error("Integrity check failed.", "expected", integrityErr.Expected, "actual", integrityErr.Actual, "source", integrityErr.Source)
		}
		f.recorder.ObserveFetchDuration(string(ext.Kind), metrics.ResultFailed, elapsed)
		return nil, err
	}

	res.Duration = elapsed
	result := metrics.ResultFetched
	if res.Cached {
		result = metrics.ResultCached
	}
	f.recorder.ObserveFetchDuration(string(ext.Kind), result, elapsed)
	if !res.Verified {
		logger.Warn("External fetched without a declared digest.", "actual", res.Digest)
	}
	logger.Info("✅ External ready", "digest", res.Digest, "cached", res.Cached, "duration", elapsed)
	return res, nil
}

// FetchAll fetches externals concurrently. An integrity failure cancels the
// remaining fetches and is returned on its own; otherwise every fetch
// failure is joined into the returned error. Results are sorted by name and
// contain only the externals that succeeded.
func (f *Fetcher) FetchAll(ctx context.Context, exts []*config.External) ([]*Result, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.Concurrency)

	var (
		mu      sync.Mutex
		results []*Result
		errs    []error
	)
	for _, ext := range exts {
		g.Go(func() error {
			res, err := f.Fetch(gctx, ext)
			if err != nil {
				var integrityErr *failure.IntegrityError
				if errors.As(err, &integrityErr) {
					return err
				}
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return nil
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	waitErr := g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].External < results[j].External })
	if waitErr != nil {
		return results, waitErr
	}
	if len(errs) > 0 {
		sort.Slice(errs, func(i, j int) bool { return errs[i].Error() < errs[j].Error() })
		return results, errors.Join(errs...)
	}
	return results, nil
}

// installBuildFile copies the declared build_file into dir as its package manifest.
func (f *Fetcher) installBuildFile(ext *config.External, dir string) error {
	if ext.BuildFile == nil {
		return nil
	}
	if err := copyFile(f.buildFilePath(ext), filepath.Join(dir, "BUILD.hcl")); err != nil {
		return fmt.Errorf("failed to install build_file for %s: %w", ext.Name, err)
	}
	return nil
}

func (f *Fetcher) buildFilePath(ext *config.External) string {
	return filepath.Join(f.opts.WorkspaceRoot, filepath.FromSlash(ext.BuildFile.Package), filepath.FromSlash(ext.BuildFile.Name))
}

// installStamp is the marker content of an up to date install: the source
// digest, followed by the build_file digest when one is declared.
func (f *Fetcher) installStamp(ext *config.External, source string) string {
	if ext.BuildFile == nil {
		return source
	}
	sum, err := digest.File(f.buildFilePath(ext))
	if err != nil {
		return source + " -"
	}
	return source + " " + sum
}

func readMarker(dir string) string {
	b, err := os.ReadFile(filepath.Join(dir, markerFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func writeMarker(dir, stamp string) error {
	return os.WriteFile(filepath.Join(dir, markerFile), []byte(stamp+"\n"), 0o644)
}
