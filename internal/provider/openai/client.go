package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/davidbz/lessonlab/internal/apierror"
	"github.com/davidbz/lessonlab/internal/domain"
	"github.com/davidbz/lessonlab/internal/observability"
)

const (
	// BackendHTTP is the registry name of the raw HTTP backend.
	BackendHTTP = "http"

	maxErrorBody = 64 * 1024
)

// Client talks to any OpenAI-compatible chat-completions endpoint over plain HTTP.
type Client struct {
	name       string
	httpClient *http.Client
}

// NewClient creates the raw HTTP backend.
func NewClient(cfg *Config) *Client {
	httpClient := &http.Client{}
	if cfg != nil && cfg.HTTPTimeout > 0 {
		httpClient.Timeout = cfg.HTTPTimeout
	}

	return &Client{
		name:       BackendHTTP,
		httpClient: httpClient,
	}
}

// NewClientWithHTTPClient creates the raw HTTP backend on a caller-supplied client.
func NewClientWithHTTPClient(httpClient *http.Client) *Client {
	return &Client{
		name:       BackendHTTP,
		httpClient: httpClient,
	}
}

// Chat-completions request/response structures.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Name returns the backend identifier.
func (c *Client) Name() string {
	return c.name
}

// Complete sends a non-streaming request and returns the first choice's content,
// or "" when the response carries none.
func (c *Client) Complete(ctx context.Context, cfg domain.APIConfig, req *domain.CompletionRequest) (string, error) {
	if req == nil {
		return "", errors.New("request cannot be nil")
	}

	resp, err := c.do(ctx, cfg, req, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var body chatResponse
	if decodeErr := json.NewDecoder(resp.Body).Decode(&body); decodeErr != nil {
		return "", fmt.Errorf("failed to decode response: %w", decodeErr)
	}

	if len(body.Choices) == 0 {
		return "", nil
	}
	return body.Choices[0].Message.Content, nil
}

// Stream sends a streaming request. Deltas arrive in wire order; the channel is
// closed after a Done chunk, an Error chunk, or as soon as ctx ends.
func (c *Client) Stream(ctx context.Context, cfg domain.APIConfig, req *domain.CompletionRequest) (<-chan domain.StreamChunk, error) {
	if req == nil {
		return nil, errors.New("request cannot be nil")
	}

	//nolint:bodyclose // Response body is closed in the reader goroutine
	resp, err := c.do(ctx, cfg, req, true)
	if err != nil {
		return nil, err
	}

	chunks := make(chan domain.StreamChunk)
	go c.readStream(ctx, resp, chunks)

	return chunks, nil
}

func (c *Client) readStream(ctx context.Context, resp *http.Response, chunks chan<- domain.StreamChunk) {
	defer close(chunks)
	defer resp.Body.Close()

	logger := observability.FromContext(ctx)

	err := DecodeEvents(ctx, resp.Body, func(delta string) error {
		select {
		case chunks <- domain.StreamChunk{Delta: delta}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	if ctx.Err() != nil {
		logger.Debug("stream stopped by cancellation")
		return
	}

	final := domain.StreamChunk{Done: true}
	if err != nil {
		logger.Warn("stream read failed", observability.Error(err))
		final = domain.StreamChunk{Error: err}
	}

	select {
	case chunks <- final:
	case <-ctx.Done():
	}
}

func (c *Client) do(ctx context.Context, cfg domain.APIConfig, req *domain.CompletionRequest, stream bool) (*http.Response, error) {
	messages := make([]chatMessage, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = chatMessage{Role: string(msg.Role), Content: msg.Content}
	}

	reqBody, err := json.Marshal(chatRequest{
		Model:       cfg.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		strings.TrimRight(cfg.BaseURL, "/")+"/chat/completions",
		bytes.NewReader(reqBody),
	)
	if err != nil {
		return nil, apierror.Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	} else {
		httpReq.Header.Set("Accept", "application/json")
	}

	observability.FromContext(ctx).Debug("calling chat completions",
		observability.String("base_url", cfg.BaseURL),
		observability.Int("messages", len(messages)),
		observability.Bool("stream", stream),
	)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = resp.Body.Close()
		return nil, &apierror.StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	return resp, nil
}
