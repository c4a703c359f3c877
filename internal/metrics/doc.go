// Package metrics defines the observability hooks used by the fetcher and
// the executor, with a no-op default and a Prometheus implementation.
package metrics
