package research_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/davidbz/lessonlab/internal/apierror"
	"github.com/davidbz/lessonlab/internal/cache"
	"github.com/davidbz/lessonlab/internal/chat"
	"github.com/davidbz/lessonlab/internal/domain"
	"github.com/davidbz/lessonlab/internal/mocks"
	"github.com/davidbz/lessonlab/internal/observability"
	"github.com/davidbz/lessonlab/internal/prompt"
	"github.com/davidbz/lessonlab/internal/provider/registry"
	"github.com/davidbz/lessonlab/internal/research"
	"github.com/davidbz/lessonlab/internal/retry"
	"github.com/davidbz/lessonlab/internal/routing"
)

const topicsJSON = `[{"title":"甲","rationale":"一"},{"title":"乙","rationale":"二"},{"title":"丙","rationale":"三"}]`

type fixture struct {
	provider *mocks.MockProvider
	client   *chat.Client
	cache    *cache.Cache
	service  *research.Service
	sleeps   []time.Duration
}

func newFixture(t *testing.T, events domain.EventPublisher) *fixture {
	t.Helper()

	f := &fixture{provider: mocks.NewMockProvider(t)}
	f.provider.EXPECT().Name().Return("http").Maybe()

	reg := registry.NewRegistry()
	require.NoError(t, reg.Register(context.Background(), f.provider))

	f.client = chat.NewClient(reg, routing.NewRouter(reg, "http"), domain.APIConfig{})
	f.cache = cache.New(cache.NewMemoryStore())
	f.service = research.NewService(f.client, f.cache, retry.DefaultPolicy(), events,
		research.WithRetryOptions(retry.WithSleep(func(_ context.Context, d time.Duration) error {
			f.sleeps = append(f.sleeps, d)
			return nil
		})))

	return f
}

func apiConfig() domain.APIConfig {
	return domain.APIConfig{
		Provider: "deepseek",
		BaseURL:  "https://api.deepseek.com/v1",
		APIKey:   "sk-test",
		Model:    "deepseek-chat",
	}
}

func topicInput() prompt.TopicInput {
	return prompt.TopicInput{Grade: "小学三年级", Subject: "数学", Challenge: "学生不理解分数"}
}

func topicParams() map[string]any {
	credential := sha256.Sum256([]byte("sk-test"))
	return map[string]any{
		"grade":      "小学三年级",
		"subject":    "数学",
		"challenge":  "学生不理解分数",
		"provider":   "deepseek",
		"baseURL":    "https://api.deepseek.com/v1",
		"model":      "deepseek-chat",
		"credential": hex.EncodeToString(credential[:]),
	}
}

func sessionContext(id string) context.Context {
	return observability.WithSessionID(context.Background(), id)
}

func TestGenerateTopics_CachesResult(t *testing.T) {
	f := newFixture(t, nil)
	f.provider.EXPECT().
		Complete(mock.Anything, apiConfig(), mock.MatchedBy(func(req *domain.CompletionRequest) bool {
			return len(req.Messages) == 1 &&
				strings.Contains(req.Messages[0].Content, "教学困惑：学生不理解分数") &&
				req.Temperature == prompt.TopicParams.Temperature &&
				req.MaxTokens == prompt.TopicParams.MaxTokens
		})).
		Return(topicsJSON, nil).
		Once()

	first, err := f.service.GenerateTopics(sessionContext("s1"), apiConfig(), topicInput())
	require.NoError(t, err)
	require.Len(t, first, 3)
	require.Equal(t, "甲", first[0].Title)

	second, err := f.service.GenerateTopics(sessionContext("s2"), apiConfig(), topicInput())
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.True(t, f.cache.Has(context.Background(), cache.OpTopics, topicParams()))
}

func TestGenerateTopics_NumberedListFallback(t *testing.T) {
	f := newFixture(t, nil)
	f.provider.EXPECT().Complete(mock.Anything, mock.Anything, mock.Anything).Return("1. Foo", nil)

	topics, err := f.service.GenerateTopics(context.Background(), apiConfig(), topicInput())

	require.NoError(t, err)
	require.Len(t, topics, 3)
	require.Equal(t, "Foo", topics[0].Title)
}

func TestGenerateTopics_RetriesRateLimit(t *testing.T) {
	events := mocks.NewMockEventPublisher(t)
	events.EXPECT().Publish(mock.Anything, observability.EventRetryScheduled, mock.Anything).Return().Times(2)
	events.EXPECT().Publish(mock.Anything, mock.Anything, mock.Anything).Return().Maybe()

	f := newFixture(t, events)
	rateLimited := &apierror.StatusError{StatusCode: http.StatusTooManyRequests, Body: "slow down"}
	f.provider.EXPECT().Complete(mock.Anything, mock.Anything, mock.Anything).Return("", rateLimited).Twice()
	f.provider.EXPECT().Complete(mock.Anything, mock.Anything, mock.Anything).Return(topicsJSON, nil).Once()

	topics, err := f.service.GenerateTopics(context.Background(), apiConfig(), topicInput())

	require.NoError(t, err)
	require.Equal(t, "丙", topics[2].Title)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, f.sleeps)
}

func TestGenerateTopics_AuthFailureIsNotRetried(t *testing.T) {
	f := newFixture(t, nil)
	f.provider.EXPECT().Complete(mock.Anything, mock.Anything, mock.Anything).
		Return("", &apierror.StatusError{StatusCode: http.StatusUnauthorized}).Once()

	_, err := f.service.GenerateTopics(context.Background(), apiConfig(), topicInput())

	var apiErr *apierror.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, apierror.KindAuthInvalid, apiErr.Kind)
	require.Equal(t, apierror.ActionSettings, apiErr.Action())
	require.Empty(t, f.sleeps)
}

func TestGenerateTopics_InvalidConfigNeverReachesBackend(t *testing.T) {
	f := newFixture(t, nil)
	cfg := apiConfig()
	cfg.APIKey = ""

	_, err := f.service.GenerateTopics(context.Background(), cfg, topicInput())

	require.Equal(t, apierror.KindAuthInvalid, apierror.Classify(err).Kind)
	require.Empty(t, f.sleeps)
}

func TestGenerateTopics_EmptyChallenge(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.service.GenerateTopics(context.Background(), apiConfig(), prompt.TopicInput{Grade: "一年级"})

	require.ErrorIs(t, err, research.ErrEmptyInput)
}

func TestGenerateTopics_AbortedBySession(t *testing.T) {
	f := newFixture(t, nil)
	f.provider.EXPECT().Complete(mock.Anything, mock.Anything, mock.Anything).
		RunAndReturn(func(ctx context.Context, _ domain.APIConfig, _ *domain.CompletionRequest) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}).Once()

	ctx := sessionContext("s1")
	errs := make(chan error, 1)
	go func() {
		_, err := f.service.GenerateTopics(ctx, apiConfig(), topicInput())
		errs <- err
	}()

	require.Eventually(t, func() bool { return f.client.InFlight() == 1 }, time.Second, time.Millisecond)
	require.False(t, f.service.Abort(sessionContext("s2"), cache.OpTopics))
	require.True(t, f.service.Abort(ctx, cache.OpTopics))

	err := <-errs
	require.Equal(t, apierror.KindAborted, apierror.Classify(err).Kind)
	require.Empty(t, f.sleeps)
	require.False(t, f.cache.Has(context.Background(), cache.OpTopics, topicParams()))
}

func TestGenerateTopics_AbortLeavesOtherSessionsWaiting(t *testing.T) {
	f := newFixture(t, nil)

	started := make(chan struct{})
	var startOnce sync.Once
	release := make(chan struct{})
	f.provider.EXPECT().Complete(mock.Anything, mock.Anything, mock.Anything).
		RunAndReturn(func(ctx context.Context, _ domain.APIConfig, _ *domain.CompletionRequest) (string, error) {
			startOnce.Do(func() { close(started) })
			select {
			case <-release:
				return topicsJSON, nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		})

	first := sessionContext("s1")
	firstErr := make(chan error, 1)
	go func() {
		_, err := f.service.GenerateTopics(first, apiConfig(), topicInput())
		firstErr <- err
	}()
	<-started

	type outcome struct {
		topics []domain.Topic
		err    error
	}
	second := make(chan outcome, 1)
	go func() {
		topics, err := f.service.GenerateTopics(sessionContext("s2"), apiConfig(), topicInput())
		second <- outcome{topics: topics, err: err}
	}()

	require.Eventually(t, func() bool { return f.client.InFlight() == 2 }, time.Second, time.Millisecond)
	require.True(t, f.service.Abort(first, cache.OpTopics))
	require.Equal(t, apierror.KindAborted, apierror.Classify(<-firstErr).Kind)

	close(release)
	got := <-second
	require.NoError(t, got.err)
	require.Equal(t, "甲", got.topics[0].Title)
	require.True(t, f.cache.Has(context.Background(), cache.OpTopics, topicParams()))
}

func TestGenerateTopics_CacheIsScopedToEndpointAndCredential(t *testing.T) {
	f := newFixture(t, nil)
	f.provider.EXPECT().Complete(mock.Anything, apiConfig(), mock.Anything).Return(topicsJSON, nil).Once()

	_, err := f.service.GenerateTopics(context.Background(), apiConfig(), topicInput())
	require.NoError(t, err)

	keyless := apiConfig()
	keyless.APIKey = ""
	keyless.BaseURL = "https://other.example.com/v1"
	_, err = f.service.GenerateTopics(context.Background(), keyless, topicInput())
	require.Equal(t, apierror.KindAuthInvalid, apierror.Classify(err).Kind)

	otherKey := apiConfig()
	otherKey.APIKey = "sk-other"
	f.provider.EXPECT().Complete(mock.Anything, otherKey, mock.Anything).
		Return("", &apierror.StatusError{StatusCode: http.StatusUnauthorized}).Once()
	_, err = f.service.GenerateTopics(context.Background(), otherKey, topicInput())
	require.Equal(t, apierror.KindAuthInvalid, apierror.Classify(err).Kind)
}

func TestGenerateLiteratureReview_TrimsReply(t *testing.T) {
	f := newFixture(t, nil)
	f.provider.EXPECT().
		Complete(mock.Anything, mock.Anything, mock.MatchedBy(func(req *domain.CompletionRequest) bool {
			return strings.Contains(req.Messages[0].Content, "研究题目：分数教学")
		})).
		Return("\n  综述正文  \n", nil)

	review, err := f.service.GenerateLiteratureReview(context.Background(), apiConfig(), "分数教学")

	require.NoError(t, err)
	require.Equal(t, "综述正文", review)
}

func TestAnalyzeConversation(t *testing.T) {
	history := []domain.ChatMessage{
		{Role: domain.RoleUser, Content: "把披萨平均分成4份"},
		{Role: domain.RoleAssistant, Content: "每份是四分之一！"},
	}

	f := newFixture(t, nil)
	f.provider.EXPECT().
		Complete(mock.Anything, mock.Anything, mock.MatchedBy(func(req *domain.CompletionRequest) bool {
			return req.Temperature == prompt.AnalysisParams.Temperature &&
				strings.Contains(req.Messages[0].Content, "学生：每份是四分之一！")
		})).
		Return("无法给出JSON", nil).
		Once()

	result, err := f.service.AnalyzeConversation(context.Background(), apiConfig(), history)

	require.NoError(t, err)
	require.Equal(t, domain.Metrics{CognitiveLoad: 5, Engagement: 5, Comprehension: 5}, result.Metrics)
	require.Equal(t, "无法给出JSON", result.Analysis)

	cached, err := f.service.AnalyzeConversation(context.Background(), apiConfig(), history)
	require.NoError(t, err)
	require.Equal(t, result, cached)
}

func TestGenerateImprovementSuggestions(t *testing.T) {
	f := newFixture(t, nil)
	f.provider.EXPECT().
		Complete(mock.Anything, mock.Anything, mock.MatchedBy(func(req *domain.CompletionRequest) bool {
			return req.MaxTokens == prompt.ImprovementParams.MaxTokens &&
				strings.Contains(req.Messages[0].Content, "当前教案：\n认识分数")
		})).
		Return("1. 问题诊断：…", nil)

	text, err := f.service.GenerateImprovementSuggestions(context.Background(), apiConfig(), "认识分数",
		[]domain.ChatMessage{{Role: domain.RoleAssistant, Content: "我不会"}})

	require.NoError(t, err)
	require.Equal(t, "1. 问题诊断：…", text)
}

func simulation() research.SimulationRequest {
	return research.SimulationRequest{
		ProfileID:  "B",
		LessonPlan: "认识分数",
		History:    []domain.ChatMessage{{Role: domain.RoleUser, Content: "什么是二分之一？"}},
	}
}

func chunkStream(chunks ...domain.StreamChunk) <-chan domain.StreamChunk {
	ch := make(chan domain.StreamChunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch
}

func TestSimulateStudent_StreamsPersonaReply(t *testing.T) {
	f := newFixture(t, nil)
	f.provider.EXPECT().
		Stream(mock.Anything, apiConfig(), mock.MatchedBy(func(req *domain.CompletionRequest) bool {
			return len(req.Messages) == 2 &&
				req.Messages[0].Role == domain.RoleSystem &&
				strings.Contains(req.Messages[0].Content, "名叫学生B") &&
				req.Temperature == 0.7 &&
				req.MaxTokens == 150 &&
				req.Stream
		})).
		Return(chunkStream(
			domain.StreamChunk{Delta: "我觉得"},
			domain.StreamChunk{Delta: "是一半？"},
			domain.StreamChunk{Done: true},
		), nil)

	var deltas []string
	reply, err := f.service.SimulateStudent(context.Background(), apiConfig(), simulation(), func(d string) {
		deltas = append(deltas, d)
	})

	require.NoError(t, err)
	require.Equal(t, []string{"我觉得", "是一半？"}, deltas)
	require.Equal(t, "我觉得是一半？", reply)
}

func TestSimulateStudent_RetriesBeforeFirstChunk(t *testing.T) {
	f := newFixture(t, nil)
	f.provider.EXPECT().Stream(mock.Anything, mock.Anything, mock.Anything).
		Return(nil, &apierror.StatusError{StatusCode: http.StatusTooManyRequests}).Once()
	f.provider.EXPECT().Stream(mock.Anything, mock.Anything, mock.Anything).
		Return(chunkStream(domain.StreamChunk{Delta: "嗯"}, domain.StreamChunk{Done: true}), nil).Once()

	reply, err := f.service.SimulateStudent(context.Background(), apiConfig(), simulation(), func(string) {})

	require.NoError(t, err)
	require.Equal(t, "嗯", reply)
	require.Len(t, f.sleeps, 1)
}

func TestSimulateStudent_NoRetryAfterFirstChunk(t *testing.T) {
	f := newFixture(t, nil)
	f.provider.EXPECT().Stream(mock.Anything, mock.Anything, mock.Anything).
		Return(chunkStream(
			domain.StreamChunk{Delta: "老师"},
			domain.StreamChunk{Error: errors.New("connection reset by peer")},
		), nil).Once()

	var deltas []string
	_, err := f.service.SimulateStudent(context.Background(), apiConfig(), simulation(), func(d string) {
		deltas = append(deltas, d)
	})

	require.Equal(t, apierror.KindNetwork, apierror.Classify(err).Kind)
	require.Equal(t, []string{"老师"}, deltas)
	require.Empty(t, f.sleeps)
}

func TestSimulateStudent_NonStreaming(t *testing.T) {
	f := newFixture(t, nil)
	f.provider.EXPECT().Complete(mock.Anything, mock.Anything, mock.Anything).Return(" (挠头) 我不会 ", nil)

	req := simulation()
	req.ProfileID = "C"
	reply, err := f.service.SimulateStudent(context.Background(), apiConfig(), req, nil)

	require.NoError(t, err)
	require.Equal(t, "(挠头) 我不会", reply)
}

func TestSimulateStudent_RejectsBadInput(t *testing.T) {
	f := newFixture(t, nil)

	req := simulation()
	req.ProfileID = "Z"
	_, err := f.service.SimulateStudent(context.Background(), apiConfig(), req, nil)
	require.ErrorIs(t, err, research.ErrUnknownProfile)

	req = simulation()
	req.LessonPlan = " "
	_, err = f.service.SimulateStudent(context.Background(), apiConfig(), req, nil)
	require.ErrorIs(t, err, research.ErrNoLessonPlan)
}
