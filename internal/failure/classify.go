package failure

import (
	"context"
	"errors"
	"fmt"
)

// Category is the broad class of a failure, used for exit codes, metrics
// labels and retry decisions.
type Category string

const (
	CategoryGraph     Category = "graph"
	CategoryIntegrity Category = "integrity"
	CategoryFetch     Category = "fetch"
	CategoryBuild     Category = "build"
	CategoryCanceled  Category = "canceled"
	CategoryInternal  Category = "internal"
)

// Exit codes returned by the command line front end.
const (
	ExitOK        = 0
	ExitGeneral   = 1
	ExitUsage     = 2
	ExitGraph     = 3
	ExitIntegrity = 4
	ExitBuild     = 5
	ExitFetch     = 6
	ExitCanceled  = 130
)

// Classify maps err onto a Category. Integrity failures win over fetch
// failures because an IntegrityError may be wrapped by a FetchError chain.
func Classify(err error) Category {
	var (
		graphErr     *GraphError
		integrityErr *IntegrityError
		fetchErr     *FetchError
		buildErr     *BuildError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &graphErr):
		return CategoryGraph
	case errors.As(err, &integrityErr):
		return CategoryIntegrity
	case errors.As(err, &fetchErr):
		return CategoryFetch
	case errors.As(err, &buildErr):
		return CategoryBuild
	case errors.Is(err, context.Canceled):
		return CategoryCanceled
	default:
		return CategoryInternal
	}
}

// ExitCode determines the process exit code for err.
func ExitCode(err error) int {
	switch Classify(err) {
	case "":
		return ExitOK
	case CategoryGraph:
		return ExitGraph
	case CategoryIntegrity:
		return ExitIntegrity
	case CategoryFetch:
		return ExitFetch
	case CategoryBuild:
		return ExitBuild
	case CategoryCanceled:
		return ExitCanceled
	default:
		return ExitGeneral
	}
}

// Retriable reports whether repeating the operation could succeed.
// Integrity mismatches are final: the same bytes will hash the same way.
func Retriable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var integrityErr *IntegrityError
	if errors.As(err, &integrityErr) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= 500 || statusErr.Code == 429
	}
	return true
}

// StatusError carries a non-success HTTP status from a download.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d from %s", e.Code, e.URL)
}
