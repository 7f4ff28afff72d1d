// Package registry holds the chat backends a transport call can be routed to:
// the OpenAI-compatible HTTP adapter ("http"), the official SDK adapter
// ("openai") and the offline "echo" backend.
package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/samber/lo"

	"github.com/davidbz/lessonlab/internal/domain"
)

var (
	// ErrProviderNotFound is returned for a backend name nothing registered under.
	ErrProviderNotFound = errors.New("provider not found")

	// ErrAlreadyRegistered is returned when a second backend claims a taken name.
	ErrAlreadyRegistered = errors.New("provider already registered")
)

// Registry maps backend names to chat backends. Names are matched
// case-insensitively.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]domain.Provider
}

// NewRegistry creates an empty backend registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]domain.Provider)}
}

// Register adds backend under its own name.
func (r *Registry) Register(_ context.Context, backend domain.Provider) error {
	if backend == nil {
		return errors.New("provider cannot be nil")
	}

	name := normalize(backend.Name())
	if name == "" {
		return errors.New("provider name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.backends[name]; taken {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}
	r.backends[name] = backend

	return nil
}

// Get returns the backend registered under name.
func (r *Registry) Get(_ context.Context, name string) (domain.Provider, error) {
	key := normalize(name)
	if key == "" {
		return nil, errors.New("provider name cannot be empty")
	}

	r.mu.RLock()
	backend, ok := r.backends[key]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	return backend, nil
}

// List returns the registered backend names in sorted order. The router reads
// it to decide which backends it can fall back to.
func (r *Registry) List(_ context.Context) ([]string, error) {
	r.mu.RLock()
	names := lo.Keys(r.backends)
	r.mu.RUnlock()

	slices.Sort(names)
	return names, nil
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
