package fetch

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/vk/buildgrid/internal/config"
)

// DownloadCache is a content store for downloaded archives. Entries are
// files named by the sha1 of the JSON encoding of their key, so any
// comparable struct can serve as a key.
type DownloadCache struct {
	dir string
}

// downloadKey identifies a verified archive as served by one URL.
type downloadKey struct {
	Kind   string `json:"kind"`
	Name   string `json:"name"`
	URL    string `json:"url"`
	SHA256 string `json:"sha256"`
}

func archiveKey(ext *config.External, url string) downloadKey {
	return downloadKey{Kind: string(ext.Kind), Name: ext.Name, URL: url, SHA256: ext.SHA256}
}

// NewDownloadCache opens (creating if needed) a cache rooted at dir.
func NewDownloadCache(dir string) (*DownloadCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create download cache %s: %w", dir, err)
	}
	return &DownloadCache{dir: dir}, nil
}

// Dir returns the cache root.
func (c *DownloadCache) Dir() string { return c.dir }

// KeyPath returns the path an entry for key is stored at.
func (c *DownloadCache) KeyPath(key any) (string, error) {
	b, err := json.Marshal(key)
	if err != nil {
		return "", fmt.Errorf("failed to encode cache key: %w", err)
	}
	sum := sha1.Sum(b)
	return filepath.Join(c.dir, hex.EncodeToString(sum[:])), nil
}

// Get returns the path of the entry for key, if present.
func (c *DownloadCache) Get(key any) (string, bool) {
	p, err := c.KeyPath(key)
	if err != nil {
		return "", false
	}
	if info, err := os.Stat(p); err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	return p, true
}

// Put moves src into the cache under key and returns the new path.
func (c *DownloadCache) Put(key any, src string) (string, error) {
	p, err := c.KeyPath(key)
	if err != nil {
		return "", err
	}
	if err := os.Rename(src, p); err != nil {
		return "", fmt.Errorf("failed to store cache entry: %w", err)
	}
	return p, nil
}

// Delete removes the entry for key. Deleting a missing entry is not an error.
func (c *DownloadCache) Delete(key any) error {
	p, err := c.KeyPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Clear removes every entry.
func (c *DownloadCache) Clear() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(c.dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}
