// internal/label/doc.go

/*
Package label provides the structured representation of target labels.

A label names a target either in the main workspace or in an external
repository:

	//pkg/sub:name     absolute label in the main workspace
	//pkg/sub          shorthand for //pkg/sub:sub
	:name              relative to the current package
	@repo//pkg:name    target inside an external repository
	@repo              shorthand for @repo//:repo

Parsing and formatting both live here so that every other package compares
labels by their canonical string form.
*/
package label
