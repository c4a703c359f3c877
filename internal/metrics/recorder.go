package metrics

import "time"

// ResultLabel enumerates per-target and per-fetch outcomes for counters.
type ResultLabel string

const (
	ResultBuilt   ResultLabel = "built"
	ResultCached  ResultLabel = "cached"
	ResultFailed  ResultLabel = "failed"
	ResultSkipped ResultLabel = "skipped"
	ResultFetched ResultLabel = "fetched"
)

// Recorder defines observability hooks for fetch and build metrics. All
// methods must be safe to call on a nil *PrometheusRecorder.
type Recorder interface {
	ObserveTargetDuration(kind string, result ResultLabel, d time.Duration)
	ObserveBuildDuration(d time.Duration)
	IncBuildOutcome(outcome string) // outcome: success|failed|canceled
	ObserveFetchDuration(kind string, result ResultLabel, d time.Duration)
	IncFetchRetry(kind string)
	IncIntegrityFailure(kind string)
	SetValidationProblems(kind string, n int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveTargetDuration(string, ResultLabel, time.Duration) {}
func (NoopRecorder) ObserveBuildDuration(time.Duration)                       {}
func (NoopRecorder) IncBuildOutcome(string)                                   {}
func (NoopRecorder) ObserveFetchDuration(string, ResultLabel, time.Duration)  {}
func (NoopRecorder) IncFetchRetry(string)                                     {}
func (NoopRecorder) IncIntegrityFailure(string)                               {}
func (NoopRecorder) SetValidationProblems(string, int)                        {}
