package failure

import (
	"fmt"
	"sort"
	"strings"
)

// ProblemKind classifies a single validation finding.
type ProblemKind string

const (
	ProblemDuplicate    ProblemKind = "duplicate"
	ProblemDangling     ProblemKind = "dangling"
	ProblemCycle        ProblemKind = "cycle"
	ProblemVisibility   ProblemKind = "visibility"
	ProblemImageClosure ProblemKind = "image_closure"
	ProblemHashFormat   ProblemKind = "hash_format"
	ProblemMissingHash  ProblemKind = "missing_hash"
	ProblemInvalidLabel ProblemKind = "invalid_label"
	// ProblemOutputConflict flags distinct targets whose outputs would share a
	// path, such as //a:b/c and //a/b:c.
	ProblemOutputConflict ProblemKind = "output_conflict"
)

// ProblemKinds lists every ProblemKind.
var ProblemKinds = []ProblemKind{
	ProblemDuplicate,
	ProblemDangling,
	ProblemCycle,
	ProblemVisibility,
	ProblemImageClosure,
	ProblemHashFormat,
	ProblemMissingHash,
	ProblemInvalidLabel,
	ProblemOutputConflict,
}

// Problem is one finding against the target graph. Targets lists the
// offending labels or external names; for cycles it holds the witness path.
type Problem struct {
	Kind    ProblemKind
	Targets []string
	Message string
}

func (p Problem) String() string {
	if len(p.Targets) == 0 {
		return fmt.Sprintf("[%s] %s", p.Kind, p.Message)
	}
	return fmt.Sprintf("[%s] %s (%s)", p.Kind, p.Message, strings.Join(p.Targets, ", "))
}

// GraphError aggregates every problem found while validating the target graph.
type GraphError struct {
	Problems []Problem
}

func (e *GraphError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "invalid build graph: %d problem(s)", len(e.Problems))
	for _, p := range e.Problems {
		sb.WriteString("\n- ")
		sb.WriteString(p.String())
	}
	return sb.String()
}

// Has reports whether at least one problem of the given kind was found.
func (e *GraphError) Has(kind ProblemKind) bool {
	for _, p := range e.Problems {
		if p.Kind == kind {
			return true
		}
	}
	return false
}

// Targets returns the sorted, de-duplicated set of every name mentioned by a problem.
func (e *GraphError) Targets() []string {
	seen := make(map[string]struct{})
	for _, p := range e.Problems {
		for _, t := range p.Targets {
			seen[t] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// IntegrityError reports a digest or commit that does not match the manifest.
type IntegrityError struct {
	External string
	Source   string // URL, remote or file that produced the content
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed for external %q from %s: expected %s, got %s",
		e.External, e.Source, e.Expected, e.Actual)
}

// FetchError reports an external that could not be retrieved at all.
type FetchError struct {
	External string
	Source   string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch external %q from %s: %v", e.External, e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// BuildError reports the targets whose actions failed. Err is the first
// root-cause failure in label order.
type BuildError struct {
	Failed  []string
	Skipped []string
	Err     error
}

func (e *BuildError) Error() string {
	msg := fmt.Sprintf("build failed for %s", strings.Join(e.Failed, ", "))
	if len(e.Skipped) > 0 {
		msg += fmt.Sprintf(" (%d dependent target(s) skipped)", len(e.Skipped))
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BuildError) Unwrap() error { return e.Err }
