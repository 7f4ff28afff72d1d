// Package openai implements the chat-completions wire protocol. Client is a raw
// HTTP backend that works with any OpenAI-compatible endpoint; SDKProvider goes
// through the official openai-go SDK. Both report non-2xx responses as
// *apierror.StatusError and leave retries to the caller.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/davidbz/lessonlab/internal/apierror"
	"github.com/davidbz/lessonlab/internal/domain"
	"github.com/davidbz/lessonlab/internal/observability"
)

// BackendSDK is the registry name of the SDK backend.
const BackendSDK = "openai"

// SDKProvider implements domain.Provider with the official OpenAI SDK.
type SDKProvider struct {
	name   string
	config Config
}

// NewSDKProvider creates the SDK backend. Credentials come with each request.
func NewSDKProvider(cfg *Config) *SDKProvider {
	p := &SDKProvider{name: BackendSDK}
	if cfg != nil {
		p.config = *cfg
	}
	return p
}

// Name returns the backend identifier.
func (p *SDKProvider) Name() string {
	return p.name
}

// Complete sends a completion request and returns the first choice's content.
func (p *SDKProvider) Complete(ctx context.Context, cfg domain.APIConfig, req *domain.CompletionRequest) (string, error) {
	if req == nil {
		return "", errors.New("request cannot be nil")
	}

	logger := observability.FromContext(ctx)
	logger.Debug("calling chat completions via SDK")

	client := p.client(cfg)
	resp, err := client.Chat.Completions.New(ctx, p.toSDKParams(cfg, req))
	if err != nil {
		logger.Debug("SDK call failed", observability.Error(err))
		return "", fromSDKError(err)
	}

	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream sends a completion request and returns a stream of chunks. The first
// event is read before returning so HTTP failures surface as an error here.
func (p *SDKProvider) Stream(ctx context.Context, cfg domain.APIConfig, req *domain.CompletionRequest) (<-chan domain.StreamChunk, error) {
	if req == nil {
		return nil, errors.New("request cannot be nil")
	}

	logger := observability.FromContext(ctx)
	logger.Debug("calling streaming chat completions via SDK")

	client := p.client(cfg)
	stream := client.Chat.Completions.NewStreaming(ctx, p.toSDKParams(cfg, req))

	if !stream.Next() {
		err := stream.Err()
		_ = stream.Close()
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fromSDKError(err)
		}
		return closedStream(), nil
	}

	chunks := make(chan domain.StreamChunk)

	go func() {
		defer close(chunks)
		defer stream.Close()

		send := func(chunk domain.StreamChunk) bool {
			select {
			case chunks <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			current := stream.Current()
			if len(current.Choices) > 0 && current.Choices[0].Delta.Content != "" {
				if !send(domain.StreamChunk{Delta: current.Choices[0].Delta.Content}) {
					return
				}
			}
			if !stream.Next() {
				break
			}
		}

		if ctx.Err() != nil {
			return
		}

		if err := stream.Err(); err != nil && !errors.Is(err, io.EOF) {
			send(domain.StreamChunk{Error: fmt.Errorf("SDK stream error: %w", fromSDKError(err))})
			return
		}
		send(domain.StreamChunk{Done: true})
	}()

	return chunks, nil
}

func (p *SDKProvider) client(cfg domain.APIConfig) openai.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithMaxRetries(0),
	}

	if p.config.HTTPTimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(p.config.HTTPTimeout))
	}

	return openai.NewClient(opts...)
}

// toSDKParams converts a domain request to SDK ChatCompletionNewParams.
func (p *SDKProvider) toSDKParams(cfg domain.APIConfig, req *domain.CompletionRequest) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, len(req.Messages))
	for i, msg := range req.Messages {
		switch msg.Role {
		case domain.RoleAssistant:
			messages[i] = openai.AssistantMessage(msg.Content)
		case domain.RoleSystem:
			messages[i] = openai.SystemMessage(msg.Content)
		default:
			messages[i] = openai.UserMessage(msg.Content)
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(cfg.Model),
		Messages:    messages,
		Temperature: openai.Float(req.Temperature),
	}

	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	return params
}

// fromSDKError maps SDK HTTP errors onto StatusError so classification does not
// depend on the backend.
func fromSDKError(err error) error {
	var sdkErr *openai.Error
	if errors.As(err, &sdkErr) {
		return &apierror.StatusError{StatusCode: sdkErr.StatusCode, Body: sdkErr.Error()}
	}
	return err
}

func closedStream() <-chan domain.StreamChunk {
	chunks := make(chan domain.StreamChunk, 1)
	chunks <- domain.StreamChunk{Done: true}
	close(chunks)
	return chunks
}
