// Package failure defines the typed errors reported by validation, fetching
// and building, together with their mapping onto categories and process exit
// codes.
package failure
