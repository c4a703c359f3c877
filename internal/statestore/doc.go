// Package statestore keeps the per-target state of a single build: status,
// output and error. Entries are keyed by label and stored in sync.Maps, since
// each worker writes to its own target while others read dependency outputs.
package statestore
