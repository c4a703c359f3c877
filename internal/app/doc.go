// Package app contains the core application logic. It wires the loader,
// validator, fetcher and executor together behind one method per command,
// decoupled from any specific entrypoint like a CLI or server.
package app
