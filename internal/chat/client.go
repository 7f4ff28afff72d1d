// Package chat is the streaming transport client: it validates the endpoint
// configuration, routes a conversation to a chat-completions backend and owns
// the cancellation token of every in-flight call.
package chat

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/davidbz/lessonlab/internal/apierror"
	"github.com/davidbz/lessonlab/internal/domain"
	"github.com/davidbz/lessonlab/internal/observability"
)

type heldKey struct{}

// Client sends conversations to the configured chat-completions backend.
type Client struct {
	registry       domain.ProviderRegistry
	router         domain.Router
	config         atomic.Pointer[domain.APIConfig]
	tokens         *tokenSet
	requestTimeout time.Duration
	events         domain.EventPublisher
}

// NewClient creates a transport client whose calls default to the defaults config.
func NewClient(
	registry domain.ProviderRegistry,
	router domain.Router,
	defaults domain.APIConfig,
	opts ...ClientOption,
) *Client {
	c := &Client{
		registry: registry,
		router:   router,
		tokens:   newTokenSet(),
	}
	c.config.Store(&defaults)

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UpdateConfig replaces the config snapshot. Calls already in flight keep the
// snapshot they started with.
func (c *Client) UpdateConfig(cfg domain.APIConfig) {
	c.config.Store(&cfg)
}

// Config returns the current config snapshot.
func (c *Client) Config() domain.APIConfig {
	return *c.config.Load()
}

// Validate checks that cfg can be sent to a backend.
func Validate(cfg domain.APIConfig) error {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return &apierror.ConfigError{Field: apierror.FieldAPIKey, Reason: "is empty"}
	}

	if strings.TrimSpace(cfg.BaseURL) == "" {
		return &apierror.ConfigError{Field: apierror.FieldBaseURL, Reason: "is empty"}
	}

	u, err := url.Parse(cfg.BaseURL)
	if err != nil || !u.IsAbs() || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return &apierror.ConfigError{Field: apierror.FieldBaseURL, Reason: "must be an absolute http(s) URL"}
	}

	if strings.TrimSpace(cfg.Model) == "" {
		return &apierror.ConfigError{Field: apierror.FieldModel, Reason: "is empty"}
	}

	return nil
}

// OperationKey scopes op to the caller session found in ctx, so concurrent
// callers never cancel each other.
func OperationKey(ctx context.Context, op string) string {
	session := observability.GetSessionID(ctx)
	if session == "" {
		return op
	}
	return session + keySeparator + op
}

// Chat sends messages and returns the full reply. A non-nil onChunk selects
// streaming and receives every delta in wire order. Errors are returned raw;
// cancellation surfaces as the token's cause.
func (c *Client) Chat(
	ctx context.Context,
	messages []domain.ChatMessage,
	onChunk func(delta string),
	opts ...Option,
) (string, error) {
	if onChunk != nil {
		stream, err := c.Stream(ctx, messages, opts...)
		if err != nil {
			return "", err
		}
		defer stream.Close()

		for stream.Next() {
			onChunk(stream.Current())
		}
		if err := stream.Err(); err != nil {
			return "", err
		}
		return stream.Text(), nil
	}

	call, err := c.prepare(ctx, messages, false, opts)
	if err != nil {
		return "", err
	}
	defer call.release()

	text, err := call.provider.Complete(call.ctx, call.cfg, call.req)
	if err != nil {
		return "", failure(call.ctx, err)
	}
	return text, nil
}

// Stream opens a streaming call and returns its lazy delta sequence.
func (c *Client) Stream(ctx context.Context, messages []domain.ChatMessage, opts ...Option) (*Stream, error) {
	call, err := c.prepare(ctx, messages, true, opts)
	if err != nil {
		return nil, err
	}

	chunks, err := call.provider.Stream(call.ctx, call.cfg, call.req)
	if err != nil {
		call.release()
		return nil, failure(call.ctx, err)
	}

	return newStream(call.ctx, chunks, call.release), nil
}

// Operation runs fn under one cancellation token registered as key. Chat and
// Stream calls made with the context passed to fn share that token, so a
// single abort also cancels retries and backoff waits.
func (c *Client) Operation(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if key == "" {
		key = uuid.NewString()
	}

	opCtx, release := c.tokens.acquire(ctx, key)
	defer release()

	opCtx = context.WithValue(opCtx, heldKey{}, key)
	return fn(opCtx)
}

// Abort cancels the most recent call. It is a no-op when that call has finished.
func (c *Client) Abort(ctx context.Context) {
	if key, ok := c.tokens.abortLast(); ok {
		c.aborted(ctx, key)
	}
}

// AbortKey cancels the call registered under key.
func (c *Client) AbortKey(ctx context.Context, key string) bool {
	if !c.tokens.abort(key) {
		return false
	}
	c.aborted(ctx, key)
	return true
}

// AbortScope cancels every call whose key was built by OperationKey for scope.
func (c *Client) AbortScope(ctx context.Context, scope string) int {
	keys := c.tokens.abortMatching(inScope(scope))
	for _, key := range keys {
		c.aborted(ctx, key)
	}
	return len(keys)
}

// AbortAll cancels every in-flight call.
func (c *Client) AbortAll(ctx context.Context) int {
	keys := c.tokens.abortMatching(func(string) bool { return true })
	for _, key := range keys {
		c.aborted(ctx, key)
	}
	return len(keys)
}

// InFlight returns the number of registered tokens.
func (c *Client) InFlight() int {
	return c.tokens.inFlight()
}

type preparedCall struct {
	ctx      context.Context
	cfg      domain.APIConfig
	req      *domain.CompletionRequest
	provider domain.Provider
	release  func()
}

func (c *Client) prepare(
	ctx context.Context,
	messages []domain.ChatMessage,
	stream bool,
	opts []Option,
) (*preparedCall, error) {
	o := callOptions{
		temperature: DefaultTemperature,
		maxTokens:   DefaultMaxTokens,
		timeout:     c.requestTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}

	cfg := c.Config()
	if o.config != nil {
		cfg = *o.config
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	if len(messages) == 0 {
		return nil, apierror.Permanent(errors.New("conversation has no messages"))
	}

	backend, err := c.router.Route(ctx, cfg)
	if err != nil {
		return nil, apierror.Permanent(fmt.Errorf("routing failed: %w", err))
	}

	provider, err := c.registry.Get(ctx, backend)
	if err != nil {
		return nil, apierror.Permanent(fmt.Errorf("provider not found: %w", err))
	}

	callCtx, release := c.begin(ctx, o)
	callCtx = observability.WithProvider(callCtx, backend)
	callCtx = observability.WithModel(callCtx, cfg.Model)

	observability.FromContext(callCtx).Debug("sending conversation",
		observability.Int("messages", len(messages)),
		observability.Bool("stream", stream),
		observability.Int("max_tokens", o.maxTokens),
	)

	return &preparedCall{
		ctx: callCtx,
		cfg: cfg,
		req: &domain.CompletionRequest{
			Messages:    systemFirst(messages),
			Temperature: o.temperature,
			MaxTokens:   o.maxTokens,
			Stream:      stream,
		},
		provider: provider,
		release:  release,
	}, nil
}

// begin attaches the call's cancellation token and timeout. Inside Operation
// the operation's token is reused.
func (c *Client) begin(ctx context.Context, o callOptions) (context.Context, func()) {
	var release func()

	if _, held := ctx.Value(heldKey{}).(string); held {
		var cancel context.CancelCauseFunc
		ctx, cancel = context.WithCancelCause(ctx)
		release = func() { cancel(context.Canceled) }
	} else {
		key := o.key
		if key == "" {
			key = uuid.NewString()
		}
		ctx, release = c.tokens.acquire(ctx, key)
	}

	if o.timeout <= 0 {
		return ctx, release
	}

	ctx, cancel := context.WithTimeoutCause(ctx, o.timeout, apierror.ErrRequestTimeout)
	return ctx, func() {
		cancel()
		release()
	}
}

func (c *Client) aborted(ctx context.Context, key string) {
	observability.FromContext(ctx).Info("request aborted", observability.String("key", key))
	if c.events != nil {
		c.events.Publish(ctx, observability.EventRequestAborted, map[string]interface{}{
			"key": key,
		})
	}
}

// failure prefers the cancellation cause over the transport error it produced.
func failure(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		if cause := context.Cause(ctx); cause != nil {
			return cause
		}
		return ctx.Err()
	}
	return err
}

// systemFirst moves system messages to the front, keeping relative order.
func systemFirst(messages []domain.ChatMessage) []domain.ChatMessage {
	ordered := make([]domain.ChatMessage, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == domain.RoleSystem {
			ordered = append(ordered, msg)
		}
	}
	for _, msg := range messages {
		if msg.Role != domain.RoleSystem {
			ordered = append(ordered, msg)
		}
	}
	return ordered
}
