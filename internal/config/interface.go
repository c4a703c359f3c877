package config

import "context"

// Loader is the interface for a format-specific workspace loader.
type Loader interface {
	// Load reads the workspace manifest at root together with every package
	// manifest beneath it and translates them into the model.
	Load(ctx context.Context, root string) (*Model, error)
	// ManifestNames lists the file names the loader reads manifests from.
	ManifestNames() []string
}
