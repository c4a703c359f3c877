package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/buildgrid/internal/config"
	"github.com/vk/buildgrid/internal/failure"
	"github.com/vk/buildgrid/internal/label"
	"github.com/vk/buildgrid/internal/retry"
	"github.com/vk/buildgrid/internal/testutil"
)

type archiveServer struct {
	*httptest.Server
	hits     atomic.Int32
	failures atomic.Int32 // number of leading requests answered with 503
}

func newArchiveServer(t *testing.T, routes map[string][]byte) *archiveServer {
	t.Helper()
	s := &archiveServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		if s.failures.Load() > 0 {
			s.failures.Add(-1)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		body, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(body)
	}))
	t.Cleanup(s.Close)
	return s
}

func newTestFetcher(t *testing.T, root string) *Fetcher {
	t.Helper()
	f, err := New(Options{
		CacheDir:      filepath.Join(t.TempDir(), "cache"),
		WorkspaceRoot: root,
		Concurrency:   2,
		Retry:         retry.Policy{Mode: retry.ModeFixed, Initial: time.Millisecond, Max: time.Millisecond, MaxRetries: 2},
	})
	require.NoError(t, err)
	return f
}

func TestFetch_HTTPArchive(t *testing.T) {
	archive := testutil.TarGz(t, map[string]string{"zlib-1.3/zlib.h": "header"})
	sum := testutil.SHA256(archive)
	srv := newArchiveServer(t, map[string][]byte{"/zlib.tar.gz": archive})
	root := testutil.NewWorkspace(t, map[string]string{"third_party/zlib.BUILD.hcl": `target "filegroup" "zlib" {}`})
	buildFile := label.MustParse("//third_party:zlib.BUILD.hcl")

	ext := &config.External{
		Name:        "zlib",
		Kind:        config.KindHTTPArchive,
		URLs:        []string{srv.URL + "/missing.tar.gz", srv.URL + "/zlib.tar.gz"},
		SHA256:      sum,
		StripPrefix: "zlib-1.3",
		BuildFile:   &buildFile,
	}

	ctx, _ := testutil.Context(t)
	f := newTestFetcher(t, root)

	t.Run("falls through to the next URL and verifies", func(t *testing.T) {
		res, err := f.Fetch(ctx, ext)
		require.NoError(t, err)
		assert.Equal(t, sum, res.Digest)
		assert.True(t, res.Verified)
		assert.False(t, res.Cached)
		assert.Equal(t, srv.URL+"/zlib.tar.gz", res.Source)
		assert.Equal(t, "header", readFile(t, filepath.Join(res.Path, "zlib.h")))
		assert.Contains(t, readFile(t, filepath.Join(res.Path, "BUILD.hcl")), `"zlib"`)
	})

	t.Run("second fetch is served from the cache", func(t *testing.T) {
		before := srv.hits.Load()
		res, err := f.Fetch(ctx, ext)
		require.NoError(t, err)
		assert.True(t, res.Cached)
		assert.Equal(t, before, srv.hits.Load())
	})

	t.Run("corrupt installed tree is re-extracted from the cache", func(t *testing.T) {
		require.NoError(t, os.RemoveAll(f.ExternalDir("zlib")))
		res, err := f.Fetch(ctx, ext)
		require.NoError(t, err)
		assert.True(t, res.Cached)
		assert.FileExists(t, filepath.Join(res.Path, "zlib.h"))
	})

	t.Run("edited build_file is reinstalled", func(t *testing.T) {
		before := srv.hits.Load()
		require.NoError(t, os.WriteFile(filepath.Join(root, "third_party", "zlib.BUILD.hcl"), []byte(`target "filegroup" "zlib_v2" {}`), 0o644))
		res, err := f.Fetch(ctx, ext)
		require.NoError(t, err)
		assert.True(t, res.Cached)
		assert.Equal(t, before, srv.hits.Load())
		assert.Contains(t, readFile(t, filepath.Join(res.Path, "BUILD.hcl")), `"zlib_v2"`)
	})

	t.Run("cache entries belong to the URL that served them", func(t *testing.T) {
		other := *ext
		other.URLs = []string{srv.URL + "/missing.tar.gz"}
		_, err := f.Fetch(ctx, &other)
		var fetchErr *failure.FetchError
		require.ErrorAs(t, err, &fetchErr)
	})
}

func TestFetch_HTTPArchive_Retries(t *testing.T) {
	archive := testutil.TarGz(t, map[string]string{"a.txt": "a"})
	srv := newArchiveServer(t, map[string][]byte{"/a.tgz": archive})
	srv.failures.Store(2)

	ctx, _ := testutil.Context(t)
	f := newTestFetcher(t, t.TempDir())
	res, err := f.Fetch(ctx, &config.External{
		Name: "a", Kind: config.KindHTTPArchive, URLs: []string{srv.URL + "/a.tgz"}, SHA256: testutil.SHA256(archive),
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), srv.hits.Load())
	assert.True(t, res.Verified)
}

func TestFetch_HTTPArchive_Integrity(t *testing.T) {
	archive := testutil.TarGz(t, map[string]string{"a.txt": "a"})
	srv := newArchiveServer(t, map[string][]byte{"/a.tgz": archive})
	expected := testutil.SHA256([]byte("something else"))

	ctx, _ := testutil.Context(t)
	f := newTestFetcher(t, t.TempDir())
	_, err := f.Fetch(ctx, &config.External{
		Name: "a", Kind: config.KindHTTPArchive, URLs: []string{srv.URL + "/a.tgz", srv.URL + "/a.tgz"}, SHA256: expected,
	})

	var integrityErr *failure.IntegrityError
	require.ErrorAs(t, err, &integrityErr)
	assert.Equal(t, expected, integrityErr.Expected)
	assert.Equal(t, testutil.SHA256(archive), integrityErr.Actual)
	assert.Equal(t, failure.ExitIntegrity, failure.ExitCode(err))
	assert.Equal(t, int32(1), srv.hits.Load(), "a digest mismatch is not retried against other URLs")
	assert.NoDirExists(t, f.ExternalDir("a"))

	entries, err := os.ReadDir(f.downloads.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries, "unverified downloads never enter the cache")
}

func TestFetch_HTTPArchive_Unverified(t *testing.T) {
	archive := testutil.TarGz(t, map[string]string{"a.txt": "a"})
	srv := newArchiveServer(t, map[string][]byte{"/a.tgz": archive})

	ctx, logs := testutil.Context(t)
	f := newTestFetcher(t, t.TempDir())
	res, err := f.Fetch(ctx, &config.External{Name: "a", Kind: config.KindHTTPArchive, URLs: []string{srv.URL + "/a.tgz"}})
	require.NoError(t, err)
	assert.False(t, res.Verified)
	assert.Equal(t, testutil.SHA256(archive), res.Digest)
	assert.Contains(t, logs.String(), "without a declared digest")
}

func TestFetch_HTTPArchive_Unreachable(t *testing.T) {
	srv := newArchiveServer(t, nil)

	ctx, _ := testutil.Context(t)
	f := newTestFetcher(t, t.TempDir())
	_, err := f.Fetch(ctx, &config.External{
		Name: "a", Kind: config.KindHTTPArchive, URLs: []string{srv.URL + "/x.tgz", srv.URL + "/y.tgz"},
	})

	var fetchErr *failure.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, failure.ExitFetch, failure.ExitCode(err))
	assert.Contains(t, err.Error(), "404")
	assert.Equal(t, int32(2), srv.hits.Load(), "404 is not retried")
}

func TestFetch_PipRequirements(t *testing.T) {
	content := "numpy==1.26\n"
	root := testutil.NewWorkspace(t, map[string]string{"requirements.txt": content})
	ctx, _ := testutil.Context(t)
	f := newTestFetcher(t, root)

	res, err := f.Fetch(ctx, &config.External{Name: "pypi", Kind: config.KindPipRequirements, File: "requirements.txt", SHA256: testutil.SHA256([]byte(content))})
	require.NoError(t, err)
	assert.True(t, res.Verified)

	_, err = f.Fetch(ctx, &config.External{Name: "pypi", Kind: config.KindPipRequirements, File: "requirements.txt", SHA256: testutil.SHA256([]byte("x"))})
	var integrityErr *failure.IntegrityError
	assert.ErrorAs(t, err, &integrityErr)

	_, err = f.Fetch(ctx, &config.External{Name: "pypi", Kind: config.KindPipRequirements, File: "missing.txt"})
	var fetchErr *failure.FetchError
	assert.ErrorAs(t, err, &fetchErr)
}

func TestFetchAll(t *testing.T) {
	good := testutil.TarGz(t, map[string]string{"a.txt": "a"})
	srv := newArchiveServer(t, map[string][]byte{"/good.tgz": good})

	goodExt := func(name string) *config.External {
		return &config.External{Name: name, Kind: config.KindHTTPArchive, URLs: []string{srv.URL + "/good.tgz"}, SHA256: testutil.SHA256(good)}
	}

	t.Run("all succeed in name order", func(t *testing.T) {
		ctx, _ := testutil.Context(t)
		f := newTestFetcher(t, t.TempDir())
		results, err := f.FetchAll(ctx, []*config.External{goodExt("c"), goodExt("a"), goodExt("b")})
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, "a", results[0].External)
		assert.Equal(t, "c", results[2].External)
	})

	t.Run("fetch failures are joined", func(t *testing.T) {
		ctx, _ := testutil.Context(t)
		f := newTestFetcher(t, t.TempDir())
		missing := &config.External{Name: "missing", Kind: config.KindHTTPArchive, URLs: []string{srv.URL + "/nope.tgz"}}
		results, err := f.FetchAll(ctx, []*config.External{goodExt("a"), missing})
		require.Error(t, err)
		assert.Len(t, results, 1)
		assert.Equal(t, failure.ExitFetch, failure.ExitCode(err))
	})

	t.Run("integrity failure wins", func(t *testing.T) {
		ctx, _ := testutil.Context(t)
		f := newTestFetcher(t, t.TempDir())
		bad := goodExt("bad")
		bad.SHA256 = testutil.SHA256([]byte("other"))
		missing := &config.External{Name: "missing", Kind: config.KindHTTPArchive, URLs: []string{srv.URL + "/nope.tgz"}}

		_, err := f.FetchAll(ctx, []*config.External{missing, bad})
		var integrityErr *failure.IntegrityError
		require.ErrorAs(t, err, &integrityErr)
		assert.Equal(t, "bad", integrityErr.External)
	})

	t.Run("canceled context", func(t *testing.T) {
		ctx, _ := testutil.Context(t)
		ctx, cancel := context.WithCancel(ctx)
		cancel()
		f := newTestFetcher(t, t.TempDir())
		_, err := f.FetchAll(ctx, []*config.External{goodExt("a")})
		assert.Error(t, err)
	})
}
