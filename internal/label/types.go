// internal/label/types.go
package label

import "strings"

// Label is the canonical address of a target.
type Label struct {
	Repo    string // external repository name, empty for the main workspace
	Package string // slash-separated package path, empty for the root package
	Name    string
}

// New builds a label in the main workspace.
func New(pkg, name string) Label {
	return Label{Package: pkg, Name: name}
}

// String renders the canonical form, e.g. `//pkg:name` or `@repo//pkg:name`.
func (l Label) String() string {
	var sb strings.Builder
	if l.Repo != "" {
		sb.WriteString("@")
		sb.WriteString(l.Repo)
	}
	sb.WriteString("//")
	sb.WriteString(l.Package)
	sb.WriteString(":")
	sb.WriteString(l.Name)
	return sb.String()
}

// IsExternal reports whether the label points into an external repository.
func (l Label) IsExternal() bool {
	return l.Repo != ""
}

// IsZero reports whether the label is unset.
func (l Label) IsZero() bool {
	return l == Label{}
}

// InPackage reports whether the label belongs to the given package of the
// main workspace.
func (l Label) InPackage(pkg string) bool {
	return !l.IsExternal() && l.Package == pkg
}

// Strings renders a slice of labels in canonical form.
func Strings(labels []Label) []string {
	out := make([]string, len(labels))
	for i, l := range labels {
		out[i] = l.String()
	}
	return out
}
