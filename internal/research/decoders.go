package research

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/samber/lo"

	"github.com/davidbz/lessonlab/internal/domain"
	"github.com/davidbz/lessonlab/internal/observability"
)

const (
	topicCount = 3

	defaultMetric    = 5
	minMetric        = 1
	maxMetric        = 10
	pendingAnalysis  = "分析生成中..."
	regenerateAdvice = "请重新生成分析"
)

var (
	codeFence     = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	numberedTopic = regexp.MustCompile(`^\d+[.、]\s*`)
)

// DecodeTopics turns a model reply into exactly three topics. Replies that are
// not a JSON array fall back to numbered-list extraction.
func DecodeTopics(ctx context.Context, raw string) []domain.Topic {
	var topics []domain.Topic
	if err := json.Unmarshal([]byte(extractJSON(raw, '[', ']')), &topics); err != nil || len(topics) == 0 {
		observability.FromContext(ctx).Warn("topics reply is not a JSON array, extracting from text",
			observability.Int("length", len(raw)))
		topics = topicsFromText(raw)
	}

	topics = lo.Filter(topics, func(t domain.Topic, _ int) bool {
		return strings.TrimSpace(t.Title) != ""
	})

	for len(topics) < topicCount {
		topics = append(topics, domain.Topic{
			Title:     fmt.Sprintf("研究题目 %d", len(topics)+1),
			Rationale: "请重新生成",
		})
	}
	return topics[:topicCount]
}

// topicsFromText reads "1. title" / "1、title" lines; the non-empty lines that
// follow a title form its rationale.
func topicsFromText(text string) []domain.Topic {
	var topics []domain.Topic
	var current *domain.Topic

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)

		switch {
		case numberedTopic.MatchString(trimmed):
			topics = append(topics, domain.Topic{Title: numberedTopic.ReplaceAllString(trimmed, "")})
			current = &topics[len(topics)-1]
		case trimmed != "" && current != nil:
			if current.Rationale != "" {
				current.Rationale += " "
			}
			current.Rationale += trimmed
		}
	}
	return topics
}

type analysisReply struct {
	Metrics struct {
		CognitiveLoad float64 `json:"cognitiveLoad"`
		Engagement    float64 `json:"engagement"`
		Comprehension float64 `json:"comprehension"`
	} `json:"metrics"`
	Analysis    string             `json:"analysis"`
	Suggestions []string           `json:"suggestions"`
	KeyMoments  []domain.KeyMoment `json:"keyMoments"`
}

// DecodeAnalysis turns a model reply into an analysis result. Missing metrics
// default to 5 and every metric is clamped to 1..10. A reply that is not JSON
// becomes the analysis text with neutral metrics.
func DecodeAnalysis(ctx context.Context, raw string) *domain.AnalysisResult {
	var reply analysisReply
	if err := json.Unmarshal([]byte(extractJSON(raw, '{', '}')), &reply); err != nil {
		observability.FromContext(ctx).Warn("analysis reply is not JSON, using fallback",
			observability.Error(err))

		return &domain.AnalysisResult{
			Metrics: domain.Metrics{
				CognitiveLoad: defaultMetric,
				Engagement:    defaultMetric,
				Comprehension: defaultMetric,
			},
			Analysis:    raw,
			Suggestions: []string{regenerateAdvice},
			KeyMoments:  []domain.KeyMoment{},
		}
	}

	result := &domain.AnalysisResult{
		Metrics: domain.Metrics{
			CognitiveLoad: metric(reply.Metrics.CognitiveLoad),
			Engagement:    metric(reply.Metrics.Engagement),
			Comprehension: metric(reply.Metrics.Comprehension),
		},
		Analysis:    reply.Analysis,
		Suggestions: reply.Suggestions,
		KeyMoments:  reply.KeyMoments,
	}

	if result.Analysis == "" {
		result.Analysis = pendingAnalysis
	}
	if result.Suggestions == nil {
		result.Suggestions = []string{}
	}
	if result.KeyMoments == nil {
		result.KeyMoments = []domain.KeyMoment{}
	}
	return result
}

func metric(v float64) int {
	if v == 0 || math.IsNaN(v) {
		return defaultMetric
	}
	return int(math.Round(lo.Clamp(v, minMetric, maxMetric)))
}

// extractJSON strips a markdown code fence and any prose around the outermost
// opening..closing pair.
func extractJSON(raw string, opening, closing byte) string {
	s := strings.TrimSpace(raw)
	if m := codeFence.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}

	start := strings.IndexByte(s, opening)
	end := strings.LastIndexByte(s, closing)
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}
