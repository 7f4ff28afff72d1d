package routing

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/davidbz/lessonlab/internal/domain"
)

// SimpleRouter sends a request to the backend named after its provider identity,
// falling back to a default backend for providers without a dedicated one.
type SimpleRouter struct {
	registry       domain.ProviderRegistry
	defaultBackend string
}

// NewRouter creates a new router.
func NewRouter(registry domain.ProviderRegistry, defaultBackend string) *SimpleRouter {
	return &SimpleRouter{
		registry:       registry,
		defaultBackend: defaultBackend,
	}
}

// Route selects a backend for cfg.
func (r *SimpleRouter) Route(ctx context.Context, cfg domain.APIConfig) (string, error) {
	names, err := r.registry.List(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list providers: %w", err)
	}

	if len(names) == 0 {
		return "", errors.New("no providers available")
	}

	if cfg.Provider != "" && slices.Contains(names, cfg.Provider) {
		return cfg.Provider, nil
	}

	if slices.Contains(names, r.defaultBackend) {
		return r.defaultBackend, nil
	}

	return "", fmt.Errorf("no backend for provider %q and default backend %q is not registered",
		cfg.Provider, r.defaultBackend)
}
