package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "buildgrid"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once               sync.Once
	targetDuration     *prom.HistogramVec
	targetResults      *prom.CounterVec
	buildDuration      prom.Histogram
	buildOutcome       *prom.CounterVec
	fetchDuration      *prom.HistogramVec
	fetchRetries       *prom.CounterVec
	integrityFailures  *prom.CounterVec
	validationProblems *prom.GaugeVec
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.targetDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "target_duration_seconds",
			Help:      "Duration of individual target actions",
			Buckets:   prom.DefBuckets,
		}, []string{"kind", "result"})
		pr.targetResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "target_results_total",
			Help:      "Target results by kind and outcome",
		}, []string{"kind", "result"})
		pr.buildDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Total build duration",
			Buckets:   prom.DefBuckets,
		})
		pr.buildOutcome = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "build_outcomes_total",
			Help:      "Build outcomes by final status",
		}, []string{"outcome"})
		pr.fetchDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of external fetches",
			Buckets:   prom.DefBuckets,
		}, []string{"kind", "result"})
		pr.fetchRetries = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_retries_total",
			Help:      "Fetch attempts repeated after a transient failure",
		}, []string{"kind"})
		pr.integrityFailures = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "integrity_failures_total",
			Help:      "Externals whose content did not match the declared digest",
		}, []string{"kind"})
		pr.validationProblems = prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "validation_problems",
			Help:      "Problems found by the most recent validation, by kind",
		}, []string{"kind"})
		reg.MustRegister(pr.targetDuration, pr.targetResults, pr.buildDuration, pr.buildOutcome,
			pr.fetchDuration, pr.fetchRetries, pr.integrityFailures, pr.validationProblems)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveTargetDuration(kind string, result ResultLabel, d time.Duration) {
	if p == nil || p.targetDuration == nil {
		return
	}
	p.targetDuration.WithLabelValues(kind, string(result)).Observe(d.Seconds())
	p.targetResults.WithLabelValues(kind, string(result)).Inc()
}

func (p *PrometheusRecorder) ObserveBuildDuration(d time.Duration) {
	if p == nil || p.buildDuration == nil {
		return
	}
	p.buildDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncBuildOutcome(outcome string) {
	if p == nil || p.buildOutcome == nil {
		return
	}
	p.buildOutcome.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) ObserveFetchDuration(kind string, result ResultLabel, d time.Duration) {
	if p == nil || p.fetchDuration == nil {
		return
	}
	p.fetchDuration.WithLabelValues(kind, string(result)).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncFetchRetry(kind string) {
	if p == nil || p.fetchRetries == nil {
		return
	}
	p.fetchRetries.WithLabelValues(kind).Inc()
}

func (p *PrometheusRecorder) IncIntegrityFailure(kind string) {
	if p == nil || p.integrityFailures == nil {
		return
	}
	p.integrityFailures.WithLabelValues(kind).Inc()
}

func (p *PrometheusRecorder) SetValidationProblems(kind string, n int) {
	if p == nil || p.validationProblems == nil {
		return
	}
	p.validationProblems.WithLabelValues(kind).Set(float64(n))
}
