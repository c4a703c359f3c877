// Package pip reads pip requirements files into the set of distribution
// names an external exports as targets.
package pip

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
)

var nameRegex = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9._-]*[A-Za-z0-9])?$`)

// NormalizeName lowercases a distribution name and folds `-` and `.` to `_`
// so that `Scikit-Learn` and `scikit_learn` address the same target.
func NormalizeName(name string) string {
	return strings.NewReplacer("-", "_", ".", "_").Replace(strings.ToLower(name))
}

// ParseRequirements returns the sorted, normalized and de-duplicated
// distribution names found in a requirements file. Option lines such as
// `--index-url` and `-r other.txt` are ignored.
func ParseRequirements(r io.Reader) ([]string, error) {
	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "-") {
			continue
		}
		end := strings.IndexAny(line, "[<>=!~;@ \t")
		if end >= 0 {
			line = line[:end]
		}
		if !nameRegex.MatchString(line) {
			return nil, fmt.Errorf("line %d: invalid requirement name %q", lineNo, line)
		}
		seen[NormalizeName(line)] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}
