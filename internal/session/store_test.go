package session_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/davidbz/lessonlab/internal/apierror"
	"github.com/davidbz/lessonlab/internal/domain"
	"github.com/davidbz/lessonlab/internal/session"
)

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time { return c.now }

func newStore(t *testing.T, cfg session.Config) (*session.Store, *miniredis.Miniredis, *clock) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clk := &clock{now: time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)}
	return session.NewStore(client, "test", &cfg, session.WithClock(clk.Now)), mr, clk
}

func defaultConfig() session.Config {
	return session.Config{
		QuotaBytes:        5 * 1024 * 1024,
		CompressThreshold: 1024,
		Retention:         30 * 24 * time.Hour,
	}
}

func conversation(turns int) []domain.ChatMessage {
	messages := make([]domain.ChatMessage, 0, turns)
	for i := range turns {
		messages = append(messages,
			domain.ChatMessage{Role: domain.RoleUser, Content: fmt.Sprintf("第%d个问题：请用自己的话解释分数的意义", i)},
			domain.ChatMessage{Role: domain.RoleAssistant, Content: "我觉得分数就是把一个东西平均分成几份，取其中的几份"},
		)
	}
	return messages
}

func TestStore_SaveAndGetSmallSession(t *testing.T) {
	ctx := context.Background()
	store, mr, clk := newStore(t, defaultConfig())

	s := &domain.ResearchSession{
		ID:   "s1",
		Data: domain.SessionData{Topic: "分数的意义"},
	}
	require.NoError(t, store.Save(ctx, s))

	require.Equal(t, "研究: 分数的意义", s.Title)
	require.Equal(t, clk.now, s.CreatedAt)
	require.Equal(t, domain.StepTopic, s.Step)

	raw, err := mr.Get("{test}:session:s1")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(raw, "{"))

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, s, got)
}

func TestStore_CompressesLargeSessions(t *testing.T) {
	ctx := context.Background()
	store, mr, _ := newStore(t, defaultConfig())

	s := &domain.ResearchSession{
		ID:    "big",
		Title: "大会话",
		Step:  domain.StepSimulation,
		Data: domain.SessionData{
			LessonPlan:          strings.Repeat("认识分数，", 200),
			ConversationHistory: conversation(40),
			AnalysisResult: &domain.AnalysisResult{
				Metrics:     domain.Metrics{CognitiveLoad: 4, Engagement: 8, Comprehension: 7},
				Analysis:    "整体良好",
				Suggestions: []string{"增加操作活动"},
			},
		},
	}
	require.NoError(t, store.Save(ctx, s))

	raw, err := mr.Get("{test}:session:big")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(raw, "GZ:"))

	got, err := store.Get(ctx, "big")
	require.NoError(t, err)
	require.Equal(t, s, got)

	summaries, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.Equal(t, 80, summaries[0].MessageCount)
	require.True(t, summaries[0].HasConversation)
	require.Equal(t, len(raw), summaries[0].Size)
}

func TestStore_GetUnknown(t *testing.T) {
	store, _, _ := newStore(t, defaultConfig())

	_, err := store.Get(context.Background(), "missing")

	require.ErrorIs(t, err, session.ErrNotFound)
}

func TestStore_QuotaExceeded(t *testing.T) {
	ctx := context.Background()
	cfg := defaultConfig()
	cfg.QuotaBytes = 600
	cfg.CompressThreshold = -1
	store, mr, _ := newStore(t, cfg)

	first := &domain.ResearchSession{ID: "a", Title: "A", Data: domain.SessionData{Topic: "分数"}}
	require.NoError(t, store.Save(ctx, first))

	second := &domain.ResearchSession{ID: "b", Title: "B", Data: domain.SessionData{LessonPlan: strings.Repeat("x", 500)}}
	err := store.Save(ctx, second)

	require.ErrorIs(t, err, apierror.ErrStorageQuota)
	classified := apierror.Classify(err)
	require.Equal(t, apierror.KindStorageQuota, classified.Kind)
	require.False(t, classified.Retryable)
	require.False(t, mr.Exists("{test}:session:b"))

	usage, err := store.Usage(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, usage.Sessions)
}

func TestStore_OverwriteCountsOnce(t *testing.T) {
	ctx := context.Background()
	store, _, clk := newStore(t, defaultConfig())

	s := &domain.ResearchSession{ID: "a", Title: "A"}
	require.NoError(t, store.Save(ctx, s))
	before, err := store.Usage(ctx)
	require.NoError(t, err)

	clk.now = clk.now.Add(time.Minute)
	require.NoError(t, store.Save(ctx, s))
	after, err := store.Usage(ctx)
	require.NoError(t, err)

	require.Equal(t, 1, after.Sessions)
	require.Equal(t, before.Used, after.Used)
}

func TestStore_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	store, _, clk := newStore(t, defaultConfig())

	for _, id := range []string{"old", "mid", "new"} {
		require.NoError(t, store.Save(ctx, &domain.ResearchSession{ID: id, Title: id}))
		clk.now = clk.now.Add(time.Hour)
	}

	summaries, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 3)
	require.Equal(t, "new", summaries[0].ID)
	require.Equal(t, "mid", summaries[1].ID)
	require.Equal(t, "old", summaries[2].ID)
	require.False(t, summaries[0].HasConversation)
}

func TestStore_ListEmpty(t *testing.T) {
	store, _, _ := newStore(t, defaultConfig())

	summaries, err := store.List(context.Background())

	require.NoError(t, err)
	require.Empty(t, summaries)
}

func TestStore_DeleteMany(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newStore(t, defaultConfig())

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Save(ctx, &domain.ResearchSession{ID: id, Title: id}))
	}
	usage, err := store.Usage(ctx)
	require.NoError(t, err)

	freed, err := store.DeleteMany(ctx, []string{"a", "b", "unknown"})
	require.NoError(t, err)

	after, err := store.Usage(ctx)
	require.NoError(t, err)
	require.Equal(t, usage.Used-after.Used, freed)
	require.Equal(t, 1, after.Sessions)

	require.NoError(t, store.Delete(ctx, "c"))
	summaries, err := store.List(ctx)
	require.NoError(t, err)
	require.Empty(t, summaries)
}

func TestStore_CleanupAndRecommendation(t *testing.T) {
	ctx := context.Background()
	store, _, clk := newStore(t, defaultConfig())
	start := clk.now

	for i := range 5 {
		require.NoError(t, store.Save(ctx, &domain.ResearchSession{ID: fmt.Sprintf("old-%d", i), Title: "旧"}))
	}
	clk.now = start.Add(40 * 24 * time.Hour)
	require.NoError(t, store.Save(ctx, &domain.ResearchSession{ID: "fresh", Title: "新"}))

	advice, err := store.RecommendCleanup(ctx)
	require.NoError(t, err)
	require.True(t, advice.Recommend)
	require.Equal(t, 5, advice.OldSessionCount)
	require.Equal(t, "发现 5 个超过 30 天的旧会话", advice.Reason)

	result, err := store.Cleanup(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 5, result.DeletedCount)
	require.Positive(t, result.FreedBytes)

	advice, err = store.RecommendCleanup(ctx)
	require.NoError(t, err)
	require.False(t, advice.Recommend)

	summaries, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.Equal(t, "fresh", summaries[0].ID)
}

func TestStore_RecommendCleanupNearQuota(t *testing.T) {
	ctx := context.Background()
	cfg := defaultConfig()
	cfg.QuotaBytes = 1000
	cfg.CompressThreshold = -1
	store, _, _ := newStore(t, cfg)

	require.NoError(t, store.Save(ctx, &domain.ResearchSession{
		ID:    "a",
		Title: "A",
		Data:  domain.SessionData{LessonPlan: strings.Repeat("x", 800)},
	}))

	advice, err := store.RecommendCleanup(ctx)
	require.NoError(t, err)
	require.True(t, advice.Recommend)
	require.Contains(t, advice.Reason, "存储空间使用率已达")
}

func TestStore_DefaultTitle(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newStore(t, defaultConfig())

	untitled := &domain.ResearchSession{}
	require.NoError(t, store.Save(ctx, untitled))
	require.NotEmpty(t, untitled.ID)
	require.Equal(t, "研究会话 2026/3/1 09:30", untitled.Title)

	long := &domain.ResearchSession{Data: domain.SessionData{Topic: strings.Repeat("分", 35)}}
	require.NoError(t, store.Save(ctx, long))
	require.Equal(t, "研究: "+strings.Repeat("分", 30)+"...", long.Title)
}
