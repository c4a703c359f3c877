// Package executor builds a set of targets concurrently in dependency order.
//
// Each target becomes a node with an atomic counter of unfinished
// dependencies. Nodes whose counter is zero are handed to a fixed pool of
// workers; when a node finishes, its dependents' counters are decremented and
// any that reach zero are queued. A failing node cancels the run and marks
// everything downstream of it as skipped, so each target is either built,
// served from the action cache, failed or skipped exactly once.
package executor
