package domain

import "context"

// Provider is a chat-completions backend.
type Provider interface {
	// Complete sends a non-streaming request and returns the first choice's content.
	Complete(ctx context.Context, cfg APIConfig, req *CompletionRequest) (string, error)

	// Stream sends a streaming request and returns the content deltas in wire order.
	Stream(ctx context.Context, cfg APIConfig, req *CompletionRequest) (<-chan StreamChunk, error)

	// Name returns the backend identifier.
	Name() string
}

// ProviderRegistry manages available backends.
type ProviderRegistry interface {
	// Register adds a provider to the registry.
	Register(ctx context.Context, provider Provider) error

	// Get retrieves a provider by name.
	Get(ctx context.Context, providerName string) (Provider, error)

	// List returns all available providers.
	List(ctx context.Context) ([]string, error)
}

// Router determines which backend serves an APIConfig.
type Router interface {
	// Route returns the backend name for cfg.
	Route(ctx context.Context, cfg APIConfig) (string, error)
}

// EventPublisher publishes events for observability.
type EventPublisher interface {
	// Publish publishes an event with the given type and data.
	Publish(ctx context.Context, eventType string, data map[string]interface{})
}

// SessionStore persists research sessions.
type SessionStore interface {
	Save(ctx context.Context, session *ResearchSession) error
	Get(ctx context.Context, id string) (*ResearchSession, error)
	List(ctx context.Context) ([]SessionSummary, error)
	Delete(ctx context.Context, ids ...string) error
}
