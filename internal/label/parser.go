// internal/label/parser.go
package label

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	repoRegex    = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.-]*$`)
	segmentRegex = regexp.MustCompile(`^[A-Za-z0-9_.+=,@~-]+$`)
)

// Parse resolves raw into a Label. Relative forms such as `:name` are
// resolved against currentPkg.
func Parse(raw, currentPkg string) (Label, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Label{}, fmt.Errorf("label cannot be empty")
	}

	var l Label
	rest := raw
	if strings.HasPrefix(rest, "@") {
		repo := rest[1:]
		if idx := strings.Index(repo, "//"); idx >= 0 {
			repo, rest = repo[:idx], repo[idx:]
		} else {
			rest = ""
		}
		if !repoRegex.MatchString(repo) {
			return Label{}, fmt.Errorf("invalid repository name in label %q", raw)
		}
		l.Repo = repo
		if rest == "" {
			l.Name = repo
			return l, nil
		}
	}

	switch {
	case strings.HasPrefix(rest, "//"):
		body := rest[2:]
		pkg, name, hasName := strings.Cut(body, ":")
		if !hasName {
			if pkg == "" {
				return Label{}, fmt.Errorf("label %q is missing a target name", raw)
			}
			name = pkg[strings.LastIndex(pkg, "/")+1:]
		}
		l.Package, l.Name = pkg, name
	case l.Repo != "":
		return Label{}, fmt.Errorf("label %q must use // after the repository name", raw)
	case strings.HasPrefix(rest, ":"):
		l.Package, l.Name = currentPkg, rest[1:]
	default:
		if strings.Contains(rest, ":") {
			return Label{}, fmt.Errorf("invalid label %q", raw)
		}
		l.Package, l.Name = currentPkg, rest
	}

	if err := validatePackage(l.Package); err != nil {
		return Label{}, fmt.Errorf("invalid label %q: %w", raw, err)
	}
	if err := validateName(l.Name); err != nil {
		return Label{}, fmt.Errorf("invalid label %q: %w", raw, err)
	}
	return l, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// package-level constants.
func MustParse(raw string) Label {
	l, err := Parse(raw, "")
	if err != nil {
		panic(err)
	}
	return l
}

func validatePackage(pkg string) error {
	if pkg == "" {
		return nil
	}
	for _, seg := range strings.Split(pkg, "/") {
		if err := validateSegment(seg); err != nil {
			return fmt.Errorf("package %q: %w", pkg, err)
		}
	}
	return nil
}

// Target names may contain slashes so that files in subdirectories can be
// addressed, but every segment must still be well-formed.
func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("target name cannot be empty")
	}
	for _, seg := range strings.Split(name, "/") {
		if err := validateSegment(seg); err != nil {
			return fmt.Errorf("target name %q: %w", name, err)
		}
	}
	return nil
}

func validateSegment(seg string) error {
	switch {
	case seg == "":
		return fmt.Errorf("contains an empty segment")
	case seg == "." || seg == "..":
		return fmt.Errorf("contains a relative segment %q", seg)
	case !segmentRegex.MatchString(seg):
		return fmt.Errorf("invalid segment %q", seg)
	}
	return nil
}
