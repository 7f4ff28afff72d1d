package research_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/lessonlab/internal/domain"
	"github.com/davidbz/lessonlab/internal/research"
)

func TestDecodeTopics(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected []domain.Topic
	}{
		{
			name: "json array",
			raw:  `[{"title":"甲","rationale":"一"},{"title":"乙","rationale":"二"},{"title":"丙","rationale":"三"}]`,
			expected: []domain.Topic{
				{Title: "甲", Rationale: "一"},
				{Title: "乙", Rationale: "二"},
				{Title: "丙", Rationale: "三"},
			},
		},
		{
			name: "fenced json with prose and extra entries",
			raw:  "以下是推荐：\n```json\n[{\"title\":\"甲\",\"rationale\":\"一\"},{\"title\":\"乙\",\"rationale\":\"二\"},{\"title\":\"丙\",\"rationale\":\"三\"},{\"title\":\"丁\",\"rationale\":\"四\"}]\n```",
			expected: []domain.Topic{
				{Title: "甲", Rationale: "一"},
				{Title: "乙", Rationale: "二"},
				{Title: "丙", Rationale: "三"},
			},
		},
		{
			name: "short json is padded",
			raw:  `[{"title":"甲","rationale":"一"}]`,
			expected: []domain.Topic{
				{Title: "甲", Rationale: "一"},
				{Title: "研究题目 2", Rationale: "请重新生成"},
				{Title: "研究题目 3", Rationale: "请重新生成"},
			},
		},
		{
			name: "single numbered line",
			raw:  "1. Foo",
			expected: []domain.Topic{
				{Title: "Foo"},
				{Title: "研究题目 2", Rationale: "请重新生成"},
				{Title: "研究题目 3", Rationale: "请重新生成"},
			},
		},
		{
			name: "numbered list with rationale lines",
			raw:  "推荐题目如下\n1、具身认知视角下的分数教学\n  通过操作理解分数\n  适合三年级\n\n2. 错误概念的诊断\n前测分析\n3.游戏化练习\n",
			expected: []domain.Topic{
				{Title: "具身认知视角下的分数教学", Rationale: "通过操作理解分数 适合三年级"},
				{Title: "错误概念的诊断", Rationale: "前测分析"},
				{Title: "游戏化练习"},
			},
		},
		{
			name: "no usable content",
			raw:  "抱歉，我无法回答",
			expected: []domain.Topic{
				{Title: "研究题目 1", Rationale: "请重新生成"},
				{Title: "研究题目 2", Rationale: "请重新生成"},
				{Title: "研究题目 3", Rationale: "请重新生成"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, research.DecodeTopics(context.Background(), tt.raw))
		})
	}
}

func TestDecodeAnalysis_JSON(t *testing.T) {
	raw := "```json\n" + `{
		"metrics": {"cognitiveLoad": 12, "engagement": 7.6, "comprehension": 0},
		"analysis": "学生参与积极",
		"suggestions": ["多用实物"],
		"keyMoments": [{"turn": 3, "content": "我不会", "insight": "畏难"}]
	}` + "\n```"

	result := research.DecodeAnalysis(context.Background(), raw)

	require.Equal(t, domain.Metrics{CognitiveLoad: 10, Engagement: 8, Comprehension: 5}, result.Metrics)
	require.Equal(t, "学生参与积极", result.Analysis)
	require.Equal(t, []string{"多用实物"}, result.Suggestions)
	require.Equal(t, []domain.KeyMoment{{Turn: 3, Content: "我不会", Insight: "畏难"}}, result.KeyMoments)
}

func TestDecodeAnalysis_MissingFields(t *testing.T) {
	result := research.DecodeAnalysis(context.Background(), `{"metrics":{"engagement":-3}}`)

	require.Equal(t, domain.Metrics{CognitiveLoad: 5, Engagement: 1, Comprehension: 5}, result.Metrics)
	require.Equal(t, "分析生成中...", result.Analysis)
	require.Empty(t, result.Suggestions)
	require.NotNil(t, result.Suggestions)
	require.NotNil(t, result.KeyMoments)
}

func TestDecodeAnalysis_HugeMetricsAreClamped(t *testing.T) {
	result := research.DecodeAnalysis(context.Background(),
		`{"metrics":{"cognitiveLoad":1e300,"engagement":-1e300,"comprehension":9.7}}`)

	require.Equal(t, domain.Metrics{CognitiveLoad: 10, Engagement: 1, Comprehension: 10}, result.Metrics)
}

func TestDecodeAnalysis_Fallback(t *testing.T) {
	raw := "整体来看，学生理解较好。"

	result := research.DecodeAnalysis(context.Background(), raw)

	require.Equal(t, domain.Metrics{CognitiveLoad: 5, Engagement: 5, Comprehension: 5}, result.Metrics)
	require.Equal(t, raw, result.Analysis)
	require.Equal(t, []string{"请重新生成分析"}, result.Suggestions)
	require.Empty(t, result.KeyMoments)
}
