package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/vk/buildgrid/internal/config"
	"github.com/vk/buildgrid/internal/ctxlog"
)

// Validate checks that every target kind declared in the model resolves to
// a registered action.
func (r *Registry) Validate(ctx context.Context, model *config.Model) error {
	logger := ctxlog.FromContext(ctx)
	var errs []string
	seen := make(map[string]bool)

	for _, t := range model.SortedTargets() {
		if seen[t.Kind] {
			continue
		}
		seen[t.Kind] = true
		if _, ok := r.Lookup(t.Kind); !ok {
			errs = append(errs, fmt.Sprintf("kind '%s' (first used by %s): no action registered", t.Kind, t.Label))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("registry validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	logger.Debug("Registry validated.", "kinds", len(seen))
	return nil
}
