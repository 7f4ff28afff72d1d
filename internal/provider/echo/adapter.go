// Package echo provides an offline backend that echoes back the conversation.
// It implements domain.Provider without network calls, which makes it useful
// for demos without an API key and for deterministic tests.
package echo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/davidbz/lessonlab/internal/domain"
	"github.com/davidbz/lessonlab/internal/observability"
)

const (
	providerName  = "echo"
	runesPerChunk = 8
	defaultDelay  = 10 * time.Millisecond
)

// Provider implements the domain.Provider interface for echo testing.
type Provider struct {
	name  string
	delay time.Duration
}

// Option configures the echo provider.
type Option func(*Provider)

// WithChunkDelay sets the pause between streamed chunks.
func WithChunkDelay(d time.Duration) Option {
	return func(p *Provider) {
		p.delay = d
	}
}

// NewProvider creates a new echo provider.
// No configuration is required as this provider operates entirely in-memory.
func NewProvider(opts ...Option) *Provider {
	p := &Provider{
		name:  providerName,
		delay: defaultDelay,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Complete returns the echoed conversation.
func (p *Provider) Complete(ctx context.Context, cfg domain.APIConfig, req *domain.CompletionRequest) (string, error) {
	if req == nil {
		return "", errors.New("request cannot be nil")
	}

	observability.FromContext(ctx).Debug("echoing request",
		observability.String("model", cfg.Model),
		observability.Int("messages", len(req.Messages)))

	return buildEchoContent(req.Messages), nil
}

// Stream returns the echoed conversation in small rune chunks.
func (p *Provider) Stream(ctx context.Context, _ domain.APIConfig, req *domain.CompletionRequest) (<-chan domain.StreamChunk, error) {
	if req == nil {
		return nil, errors.New("request cannot be nil")
	}

	echoContent := buildEchoContent(req.Messages)
	chunks := make(chan domain.StreamChunk)

	go func() {
		defer close(chunks)

		for _, part := range splitRunes(echoContent, runesPerChunk) {
			select {
			case <-ctx.Done():
				return
			case chunks <- domain.StreamChunk{Delta: part}:
			}

			if p.delay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(p.delay):
				}
			}
		}

		select {
		case chunks <- domain.StreamChunk{Done: true}:
		case <-ctx.Done():
		}
	}()

	return chunks, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return p.name
}

// buildEchoContent constructs the echo response from request messages.
func buildEchoContent(messages []domain.ChatMessage) string {
	if len(messages) == 0 {
		return ""
	}

	var builder strings.Builder
	for _, msg := range messages {
		builder.WriteString(fmt.Sprintf("[%s]: %s\n", msg.Role, msg.Content))
	}
	return builder.String()
}

func splitRunes(s string, n int) []string {
	runes := []rune(s)
	parts := make([]string, 0, len(runes)/n+1)
	for start := 0; start < len(runes); start += n {
		end := min(start+n, len(runes))
		parts = append(parts, string(runes[start:end]))
	}
	return parts
}
