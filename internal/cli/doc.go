// Package cli parses command-line arguments and environment variables into
// an Invocation. It owns process-level concerns such as usage errors and
// their exit codes.
package cli
