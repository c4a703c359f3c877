// Package fsutil provides file system utility functions.
package fsutil

import (
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// FindFilesNamed recursively searches root for files called name. Hidden
// directories and any directory whose base name appears in ignore are not
// descended into. The returned paths are sorted.
func FindFilesNamed(root, name string, ignore []string) ([]string, error) {
	if name == "" {
		panic("name must not be empty")
	}
	skip := make(map[string]struct{}, len(ignore))
	for _, dir := range ignore {
		skip[dir] = struct{}{}
	}

	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != root {
				if _, ok := skip[d.Name()]; ok || strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
			}
			return nil
		}
		if d.Name() == name {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

// Glob returns the files under dir that match any of patterns, as sorted
// slash-separated paths relative to dir. Patterns use path.Match syntax per
// segment, and a `**` segment matches any number of directories. Directories
// for which boundary returns true are not descended into, so a glob never
// crosses into a nested package.
func Glob(dir string, patterns []string, boundary func(rel string) bool) ([]string, error) {
	compiled := make([][]string, 0, len(patterns))
	for _, p := range patterns {
		if _, err := path.Match(strings.ReplaceAll(p, "**", "*"), ""); err != nil {
			return nil, err
		}
		compiled = append(compiled, strings.Split(path.Clean(p), "/"))
	}

	var matches []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if rel != "." && (strings.HasPrefix(d.Name(), ".") || (boundary != nil && boundary(rel))) {
				return filepath.SkipDir
			}
			return nil
		}
		segments := strings.Split(rel, "/")
		for _, pat := range compiled {
			if matchSegments(pat, segments) {
				matches = append(matches, rel)
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(matches)
	return matches, nil
}

func matchSegments(pattern, name []string) bool {
	for len(pattern) > 0 {
		if pattern[0] == "**" {
			if len(pattern) == 1 {
				return true
			}
			for i := 0; i <= len(name); i++ {
				if matchSegments(pattern[1:], name[i:]) {
					return true
				}
			}
			return false
		}
		if len(name) == 0 {
			return false
		}
		if ok, err := path.Match(pattern[0], name[0]); err != nil || !ok {
			return false
		}
		pattern, name = pattern[1:], name[1:]
	}
	return len(name) == 0
}
