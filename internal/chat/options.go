package chat

import (
	"time"

	"github.com/davidbz/lessonlab/internal/domain"
)

const (
	// DefaultTemperature is used when a call does not set one.
	DefaultTemperature = 0.8

	// DefaultMaxTokens is used when a call does not set one.
	DefaultMaxTokens = 2000
)

// Option customises a single Chat or Stream call.
type Option func(*callOptions)

type callOptions struct {
	config      *domain.APIConfig
	temperature float64
	maxTokens   int
	key         string
	timeout     time.Duration
}

// WithConfig overrides the client's config snapshot for one call.
func WithConfig(cfg domain.APIConfig) Option {
	return func(o *callOptions) {
		o.config = &cfg
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temperature float64) Option {
	return func(o *callOptions) {
		o.temperature = temperature
	}
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(maxTokens int) Option {
	return func(o *callOptions) {
		if maxTokens > 0 {
			o.maxTokens = maxTokens
		}
	}
}

// WithKey registers the call's cancellation token under key. A later call with
// the same key aborts this one.
func WithKey(key string) Option {
	return func(o *callOptions) {
		o.key = key
	}
}

// WithTimeout bounds the call. When it fires the call ends as aborted.
func WithTimeout(d time.Duration) Option {
	return func(o *callOptions) {
		o.timeout = d
	}
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRequestTimeout sets the default per-call timeout. Zero disables it.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.requestTimeout = d
	}
}

// WithEventPublisher publishes abort events.
func WithEventPublisher(events domain.EventPublisher) ClientOption {
	return func(c *Client) {
		c.events = events
	}
}
