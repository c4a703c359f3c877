// Package dag holds the target graph: a directed acyclic graph keyed by
// canonical label strings. It knows nothing about how targets are built; it
// answers structural questions (cycles, topological order, levels,
// transitive closures) and Build translates a loaded workspace model into a
// graph while collecting references that cannot be resolved.
package dag
