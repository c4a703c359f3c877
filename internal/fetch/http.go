package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/vk/buildgrid/internal/config"
	"github.com/vk/buildgrid/internal/ctxlog"
	"github.com/vk/buildgrid/internal/digest"
	"github.com/vk/buildgrid/internal/failure"
)

// fetchHTTPArchive tries each URL in order. A mirror that cannot be reached
// falls through to the next one; a mirror that serves content with the wrong
// digest stops the fetch immediately.
func (f *Fetcher) fetchHTTPArchive(ctx context.Context, ext *config.External) (*Result, error) {
	logger := ctxlog.FromContext(ctx)
	dest := f.ExternalDir(ext.Name)

	if ext.SHA256 != "" {
		for _, url := range ext.URLs {
			if res, ok := f.fromDownloadCache(ctx, ext, archiveKey(ext, url), dest); ok {
				return res, nil
			}
		}
	}

	var errs []error
	for _, url := range ext.URLs {
		tmp, sum, err := f.download(ctx, ext, url)
		if err != nil {
			if ctx.Err() != nil {
				return nil, &failure.FetchError{External: ext.Name, Source: url, Err: err}
			}
			logger.Warn("Download failed, trying next URL.", "url", url, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", url, err))
			continue
		}
		if ext.SHA256 != "" && sum != ext.SHA256 {
			os.Remove(tmp)
			return nil, &failure.IntegrityError{External: ext.Name, Source: url, Expected: ext.SHA256, Actual: sum}
		}

		blob := tmp
		if ext.SHA256 != "" {
			if blob, err = f.downloads.Put(archiveKey(ext, url), tmp); err != nil {
				os.Remove(tmp)
				return nil, err
			}
		} else {
			defer os.Remove(tmp)
		}
		if err := f.installArchive(ext, blob, dest, sum); err != nil {
			return nil, &failure.FetchError{External: ext.Name, Source: url, Err: err}
		}
		return &Result{
			External: ext.Name,
			Kind:     ext.Kind,
			Source:   url,
			Digest:   sum,
			Path:     dest,
			Verified: ext.SHA256 != "",
		}, nil
	}

	return nil, &failure.FetchError{External: ext.Name, Source: strings.Join(ext.URLs, ", "), Err: errors.Join(errs...)}
}

// fromDownloadCache serves an archive whose digest is already known from the
// download cache, re-extracting only when the installed tree is stale.
func (f *Fetcher) fromDownloadCache(ctx context.Context, ext *config.External, key downloadKey, dest string) (*Result, bool) {
	logger := ctxlog.FromContext(ctx)
	blob, ok := f.downloads.Get(key)
	if !ok {
		return nil, false
	}
	sum, err := digest.File(blob)
	if err != nil || sum != ext.SHA256 {
		logger.Warn("Discarding corrupt download cache entry.", "path", blob)
		f.downloads.Delete(key)
		return nil, false
	}
	if readMarker(dest) != f.installStamp(ext, sum) {
		if err := f.installArchive(ext, blob, dest, sum); err != nil {
			logger.Warn("Cached archive could not be installed, downloading again.", "error", err)
			f.downloads.Delete(key)
			return nil, false
		}
	}
	logger.Debug("Serving archive from download cache.", "path", blob)
	return &Result{
		External: ext.Name,
		Kind:     ext.Kind,
		Source:   blob,
		Digest:   sum,
		Path:     dest,
		Verified: true,
		Cached:   true,
	}, true
}

func (f *Fetcher) installArchive(ext *config.External, blob, dest, sum string) error {
	if _, err := Extract(blob, dest, ext.StripPrefix); err != nil {
		return err
	}
	if err := f.installBuildFile(ext, dest); err != nil {
		return err
	}
	return writeMarker(dest, f.installStamp(ext, sum))
}

// download fetches url into a temporary file inside the download cache,
// retrying transient failures, and returns its path and sha256.
func (f *Fetcher) download(ctx context.Context, ext *config.External, url string) (string, string, error) {
	logger := ctxlog.FromContext(ctx)
	var path, sum string
	err := f.opts.Retry.Do(ctx, failure.Retriable, func(attempt int) error {
		if attempt > 0 {
			f.recorder.IncFetchRetry(string(ext.Kind))
			logger.Info("Retrying download.", "url", url, "attempt", attempt)
		}
		var err error
		path, sum, err = f.downloadOnce(ctx, url)
		return err
	})
	return path, sum, err
}

func (f *Fetcher) downloadOnce(ctx context.Context, url string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", &failure.StatusError{Code: resp.StatusCode, URL: url}
	}

	tmp, err := os.CreateTemp(f.downloads.Dir(), "download-*.partial")
	if err != nil {
		return "", "", err
	}
	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, h), resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", "", fmt.Errorf("failed to read response body: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", "", err
	}
	return tmp.Name(), hex.EncodeToString(h.Sum(nil)), nil
}
