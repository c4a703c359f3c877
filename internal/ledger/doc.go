// Package ledger persists build history in SQLite: one row per invocation,
// the externals each invocation fetched, and an action cache that maps action
// keys to the output they produced.
package ledger
