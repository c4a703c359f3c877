// Package plan turns a set of requested targets into an ordered build plan
// and answers dependency queries over the target graph.
package plan
