// Package research implements the workshop operations: topic suggestions,
// literature review, conversation analysis, improvement suggestions and the
// simulated student. Each operation runs under one cancellation token, goes
// through the retry engine and, except the simulation, the response cache.
package research

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/davidbz/lessonlab/internal/apierror"
	"github.com/davidbz/lessonlab/internal/cache"
	"github.com/davidbz/lessonlab/internal/chat"
	"github.com/davidbz/lessonlab/internal/domain"
	"github.com/davidbz/lessonlab/internal/observability"
	"github.com/davidbz/lessonlab/internal/prompt"
	"github.com/davidbz/lessonlab/internal/retry"
)

// OpSimulate names the simulation for cancellation; it is never cached.
const OpSimulate = "simulate"

var (
	// ErrUnknownProfile is returned for a persona id outside A, B and C.
	ErrUnknownProfile = errors.New("unknown student profile")

	// ErrNoLessonPlan is returned when a simulation has no lesson plan.
	ErrNoLessonPlan = errors.New("lesson plan is required")

	// ErrEmptyInput is returned when an operation has nothing to work on.
	ErrEmptyInput = errors.New("input is empty")
)

// Service runs the research operations.
type Service struct {
	client    *chat.Client
	cache     *cache.Cache
	policy    retry.Policy
	events    domain.EventPublisher
	retryOpts []retry.Option
}

// Option configures the service.
type Option func(*Service)

// WithRetryOptions adds options to every retry loop. Tests use it to replace
// the backoff wait.
func WithRetryOptions(opts ...retry.Option) Option {
	return func(s *Service) {
		s.retryOpts = append(s.retryOpts, opts...)
	}
}

// NewService creates the research service (DI constructor).
func NewService(
	client *chat.Client,
	responses *cache.Cache,
	policy retry.Policy,
	events domain.EventPublisher,
	opts ...Option,
) *Service {
	s := &Service{
		client: client,
		cache:  responses,
		policy: policy,
		events: events,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SimulationRequest is one teacher turn in the simulated classroom.
type SimulationRequest struct {
	ProfileID  string               `json:"profileId"`
	LessonPlan string               `json:"lessonPlan"`
	Context    string               `json:"context,omitempty"`
	History    []domain.ChatMessage `json:"history"`
}

// GenerateTopics suggests exactly three research topics for a teaching challenge.
func (s *Service) GenerateTopics(ctx context.Context, cfg domain.APIConfig, in prompt.TopicInput) ([]domain.Topic, error) {
	if strings.TrimSpace(in.Challenge) == "" {
		return nil, invalid(ErrEmptyInput)
	}

	params := map[string]any{
		"grade":     in.Grade,
		"subject":   in.Subject,
		"challenge": in.Challenge,
	}

	return run(ctx, s, cfg, cache.OpTopics, params, func(ctx context.Context) ([]domain.Topic, error) {
		text, err := s.complete(ctx, cfg, prompt.TopicGeneration(in.Prompt()), prompt.TopicParams)
		if err != nil {
			return nil, err
		}
		return DecodeTopics(ctx, text), nil
	})
}

// GenerateLiteratureReview drafts a literature review for topic.
func (s *Service) GenerateLiteratureReview(ctx context.Context, cfg domain.APIConfig, topic string) (string, error) {
	if strings.TrimSpace(topic) == "" {
		return "", invalid(ErrEmptyInput)
	}

	params := map[string]any{
		"topic": topic,
	}

	return run(ctx, s, cfg, cache.OpLiterature, params, func(ctx context.Context) (string, error) {
		text, err := s.complete(ctx, cfg, prompt.LiteratureReview(topic), prompt.LiteratureParams)
		return strings.TrimSpace(text), err
	})
}

// AnalyzeConversation scores a simulated lesson.
func (s *Service) AnalyzeConversation(
	ctx context.Context,
	cfg domain.APIConfig,
	history []domain.ChatMessage,
) (*domain.AnalysisResult, error) {
	if len(history) == 0 {
		return nil, invalid(ErrEmptyInput)
	}

	params := map[string]any{
		"conversationLength": len(history),
		"lastMessage":        history[len(history)-1].Content,
	}

	return run(ctx, s, cfg, cache.OpAnalysis, params, func(ctx context.Context) (*domain.AnalysisResult, error) {
		text, err := s.complete(ctx, cfg, prompt.ConversationAnalysis(history), prompt.AnalysisParams)
		if err != nil {
			return nil, err
		}
		return DecodeAnalysis(ctx, text), nil
	})
}

// GenerateImprovementSuggestions diagnoses the recent turns against the lesson plan.
func (s *Service) GenerateImprovementSuggestions(
	ctx context.Context,
	cfg domain.APIConfig,
	lessonPlan string,
	recent []domain.ChatMessage,
) (string, error) {
	if strings.TrimSpace(lessonPlan) == "" && len(recent) == 0 {
		return "", invalid(ErrEmptyInput)
	}

	window := recent
	if len(window) > prompt.RecentWindow {
		window = window[len(window)-prompt.RecentWindow:]
	}

	params := map[string]any{
		"lessonPlan":     lessonPlan,
		"recentMessages": window,
	}

	return run(ctx, s, cfg, cache.OpImprovement, params, func(ctx context.Context) (string, error) {
		text, err := s.complete(ctx, cfg, prompt.ImprovementSuggestions(lessonPlan, recent), prompt.ImprovementParams)
		return strings.TrimSpace(text), err
	})
}

// SimulateStudent returns the persona's reply to the conversation so far. With a
// non-nil onChunk the reply is streamed; a failed attempt is retried only while
// nothing has been delivered to onChunk.
func (s *Service) SimulateStudent(
	ctx context.Context,
	cfg domain.APIConfig,
	req SimulationRequest,
	onChunk func(delta string),
) (string, error) {
	profile, ok := prompt.Profile(req.ProfileID)
	if !ok {
		return "", invalid(ErrUnknownProfile)
	}
	if strings.TrimSpace(req.LessonPlan) == "" {
		return "", invalid(ErrNoLessonPlan)
	}

	messages := make([]domain.ChatMessage, 0, len(req.History)+1)
	messages = append(messages, domain.ChatMessage{
		Role:    domain.RoleSystem,
		Content: prompt.StudentSystemPrompt(profile, req.LessonPlan, req.Context),
	})
	messages = append(messages, req.History...)

	params := prompt.StudentParams(profile)
	ctx = observability.WithOperation(ctx, OpSimulate)

	var reply string
	err := s.client.Operation(ctx, chat.OperationKey(ctx, OpSimulate), func(ctx context.Context) error {
		delivered := false
		emit := onChunk
		if onChunk != nil {
			emit = func(delta string) {
				delivered = true
				onChunk(delta)
			}
		}

		text, err := retry.Do(ctx, s.policy, func(ctx context.Context) (string, error) {
			text, err := s.client.Chat(ctx, messages, emit,
				chat.WithConfig(cfg),
				chat.WithTemperature(params.Temperature),
				chat.WithMaxTokens(params.MaxTokens),
			)
			if err != nil && delivered {
				return "", apierror.Permanent(err)
			}
			return text, err
		}, s.retryOptions(ctx, OpSimulate)...)

		reply = text
		return err
	})
	if err != nil {
		return "", apierror.Classify(err)
	}

	return strings.TrimSpace(reply), nil
}

// Abort cancels the caller's in-flight operation named op.
func (s *Service) Abort(ctx context.Context, op string) bool {
	return s.client.AbortKey(ctx, chat.OperationKey(ctx, op))
}

// AbortSession cancels every in-flight operation of the caller session.
func (s *Service) AbortSession(ctx context.Context) int {
	session := observability.GetSessionID(ctx)
	if session == "" {
		return 0
	}
	return s.client.AbortScope(ctx, session)
}

func (s *Service) complete(ctx context.Context, cfg domain.APIConfig, text string, params prompt.Params) (string, error) {
	return s.client.Chat(ctx,
		[]domain.ChatMessage{{Role: domain.RoleUser, Content: text}},
		nil,
		chat.WithConfig(cfg),
		chat.WithTemperature(params.Temperature),
		chat.WithMaxTokens(params.MaxTokens),
	)
}

func (s *Service) retryOptions(ctx context.Context, op string) []retry.Option {
	notify := retry.WithNotify(func(a retry.Attempt) {
		s.publish(ctx, observability.EventRetryScheduled, map[string]interface{}{
			"operation": op,
			"retry":     a.Number,
			"delay_ms":  a.Delay.Milliseconds(),
			"kind":      string(a.Err.Kind),
		})
	})
	return append([]retry.Option{notify}, s.retryOpts...)
}

func (s *Service) publish(ctx context.Context, event string, data map[string]interface{}) {
	if s.events != nil {
		s.events.Publish(ctx, event, data)
	}
}

// run executes a cached operation under the caller's cancellation token for op.
// An invalid cfg fails before the cache is consulted.
func run[T any](
	ctx context.Context,
	s *Service,
	cfg domain.APIConfig,
	op string,
	params map[string]any,
	produce func(ctx context.Context) (T, error),
) (T, error) {
	var zero T

	ctx = observability.WithOperation(ctx, op)
	logger := observability.FromContext(ctx)

	if err := chat.Validate(cfg); err != nil {
		return zero, apierror.Classify(err)
	}
	params = endpointParams(cfg, params)

	var result T
	err := s.client.Operation(ctx, chat.OperationKey(ctx, op), func(ctx context.Context) error {
		value, hit, err := cache.CachedCall(ctx, s.cache, op, params, func(ctx context.Context) (T, error) {
			s.publish(ctx, observability.EventCacheMiss, map[string]interface{}{"operation": op})
			return retry.Do(ctx, s.policy, produce, s.retryOptions(ctx, op)...)
		}, 0)
		if err != nil {
			return err
		}

		if hit {
			s.publish(ctx, observability.EventCacheHit, map[string]interface{}{"operation": op})
		} else {
			s.publish(ctx, observability.EventCacheFill, map[string]interface{}{"operation": op})
		}

		result = value
		return nil
	})
	if err != nil {
		classified := apierror.Classify(err)
		logger.Warn("operation failed",
			observability.String("kind", string(classified.Kind)),
			observability.Error(err))
		return zero, classified
	}

	logger.Debug("operation completed")
	return result, nil
}

// endpointParams adds the backend identity to params, so a cached reply is only
// served to callers of the same endpoint and model holding the same credential.
func endpointParams(cfg domain.APIConfig, params map[string]any) map[string]any {
	credential := sha256.Sum256([]byte(cfg.APIKey))

	params["provider"] = cfg.Provider
	params["baseURL"] = cfg.BaseURL
	params["model"] = cfg.Model
	params["credential"] = hex.EncodeToString(credential[:])
	return params
}

// invalid marks a caller input error; it is never retried.
func invalid(err error) error {
	return apierror.Classify(apierror.Permanent(err))
}
