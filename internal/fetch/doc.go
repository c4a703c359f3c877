// Package fetch retrieves and verifies the externals declared in the
// workspace manifest: HTTP archives are downloaded, hashed while streaming
// and unpacked; git repositories are cloned and checked out at a pinned
// commit; pip requirements files are hashed in place. Verified archives are
// kept in a content-addressed download cache keyed by their digest.
package fetch
