package failure

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitCode(t *testing.T) {
	integrity := &IntegrityError{External: "zlib", Source: "https://x/zlib.tgz", Expected: "aa", Actual: "bb"}

	testCases := []struct {
		name     string
		err      error
		expected int
	}{
		{name: "nil", err: nil, expected: ExitOK},
		{name: "graph", err: &GraphError{Problems: []Problem{{Kind: ProblemCycle}}}, expected: ExitGraph},
		{name: "wrapped graph", err: fmt.Errorf("validate: %w", &GraphError{}), expected: ExitGraph},
		{name: "integrity", err: integrity, expected: ExitIntegrity},
		{name: "integrity inside fetch", err: &FetchError{External: "zlib", Err: integrity}, expected: ExitIntegrity},
		{name: "fetch", err: &FetchError{External: "zlib", Err: errors.New("timeout")}, expected: ExitFetch},
		{name: "build", err: &BuildError{Failed: []string{"//a:b"}}, expected: ExitBuild},
		{name: "canceled", err: fmt.Errorf("run: %w", context.Canceled), expected: ExitCanceled},
		{name: "other", err: errors.New("boom"), expected: ExitGeneral},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ExitCode(tc.err))
		})
	}
}

func TestRetriable(t *testing.T) {
	assert.True(t, Retriable(errors.New("connection reset")))
	assert.True(t, Retriable(&StatusError{Code: 503}))
	assert.True(t, Retriable(&StatusError{Code: 429}))
	assert.False(t, Retriable(&StatusError{Code: 404}))
	assert.False(t, Retriable(&IntegrityError{}))
	assert.False(t, Retriable(context.Canceled))
	assert.False(t, Retriable(nil))
}

func TestGraphError(t *testing.T) {
	err := &GraphError{Problems: []Problem{
		{Kind: ProblemDangling, Targets: []string{"//b:b", "//a:a"}, Message: "unknown dependency"},
		{Kind: ProblemCycle, Targets: []string{"//a:a", "//b:b", "//a:a"}, Message: "dependency cycle"},
	}}

	assert.True(t, err.Has(ProblemCycle))
	assert.False(t, err.Has(ProblemVisibility))
	assert.Equal(t, []string{"//a:a", "//b:b"}, err.Targets())
	assert.Contains(t, err.Error(), "2 problem(s)")
	assert.Contains(t, err.Error(), "[cycle] dependency cycle (//a:a, //b:b, //a:a)")
}

func TestBuildError(t *testing.T) {
	cause := errors.New("compile error")
	err := &BuildError{Failed: []string{"//a:lib"}, Skipped: []string{"//a:bin"}, Err: cause}

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "build failed for //a:lib (1 dependent target(s) skipped): compile error", err.Error())
}
