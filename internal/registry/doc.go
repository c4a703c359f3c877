// Package registry maps target kinds to the Go actions that build them.
//
// Modules register actions for exact kinds ("filegroup", "image") or for kind
// suffixes ("_library"), so a manifest can declare go_library and py_library
// without either needing its own registration. Before a build the registry is
// validated against the loaded model: every declared kind must resolve to an
// action, which turns a typo in a BUILD file into a load-time error instead of
// a failure halfway through a build.
package registry
