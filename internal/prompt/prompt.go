// Package prompt renders the task prompts sent to the model and the fixed
// student personas used by the classroom simulation.
package prompt

import (
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/davidbz/lessonlab/internal/domain"
)

// RecentWindow is how many trailing messages the improvement prompt quotes.
const RecentWindow = 6

// TopicInput is the teacher's description of a teaching challenge.
type TopicInput struct {
	Grade     string `json:"grade"`
	Subject   string `json:"subject"`
	Challenge string `json:"challenge"`
}

// Prompt renders the input as the free text handed to TopicGeneration.
func (in TopicInput) Prompt() string {
	return fmt.Sprintf("年级：%s\n学科：%s\n教学困惑：%s", in.Grade, in.Subject, in.Challenge)
}

// TopicGeneration asks for three research topics as a JSON array.
func TopicGeneration(input string) string {
	return `你是一位资深的教育研究专家。一位教师向你描述了以下教学困惑：

"` + input + `"

请基于这个困惑，推荐3个具有学术研究价值的研究题目。要求：
1. 每个题目要具体、可操作
2. 符合教育学术规范
3. 适合一线教师开展实践研究
4. 涵盖不同研究角度（如认知、情感、策略等）

请以JSON数组格式返回，每个题目包含title和rationale字段：
[
  {
    "title": "研究题目1",
    "rationale": "选题理由（50字内）"
  },
  {
    "title": "研究题目2",
    "rationale": "选题理由（50字内）"
  },
  {
    "title": "研究题目3",
    "rationale": "选题理由（50字内）"
  }
]`
}

// LiteratureReview asks for a 500-800 character review draft.
func LiteratureReview(topic string) string {
	return `你是一位教育学研究者。请针对以下研究题目撰写一篇500-800字的文献综述草稿：

研究题目：` + topic + `

要求：
1. 包含"理论基础"和"应用现状"两个部分
2. 引用3-5个相关理论或研究（可以是虚构但合理的引用）
3. 语言学术但易懂，适合一线教师阅读
4. 指出当前研究的不足或空白，为本研究提供切入点

请直接输出综述内容，不需要额外格式。`
}

// ConversationAnalysis asks for metrics, analysis and suggestions as JSON.
func ConversationAnalysis(history []domain.ChatMessage) string {
	return `你是一位教学评估专家。请分析以下模拟课堂对话，评估教学效果：

对话记录：
` + Transcript(history) + `

请从以下三个维度进行评分（1-10分）并给出分析：

1. **认知负荷 (Cognitive Load)**：学生是否感到信息过载或理解困难（分数越低表示负荷越合理）
2. **参与度 (Engagement)**：学生的主动性和互动积极性（分数越高表示参与度越好）
3. **理解深度 (Comprehension)**：学生对核心概念的掌握程度（分数越高表示理解越深入）

请以JSON格式返回：
{
  "metrics": {
    "cognitiveLoad": 7,
    "engagement": 8,
    "comprehension": 6
  },
  "analysis": "整体分析（200字内）",
  "suggestions": [
    "改进建议1",
    "改进建议2",
    "改进建议3"
  ],
  "keyMoments": [
    {
      "turn": 3,
      "content": "学生的某句话",
      "insight": "这里反映了什么问题"
    }
  ]
}`
}

// ImprovementSuggestions asks for three concrete adjustments to the lesson plan,
// quoting the last RecentWindow messages.
func ImprovementSuggestions(lessonPlan string, recent []domain.ChatMessage) string {
	return `你是一位教学设计顾问。教师在模拟课堂中遇到了困难，请分析并给出改进建议。

当前教案：
` + lessonPlan + `

最近的对话（显示问题所在）：
` + Transcript(lo.Subset(recent, -RecentWindow, RecentWindow)) + `

请分析：
1. 当前教学策略存在什么问题？
2. 学生的反应说明了什么？
3. 如何调整教案或教学方法？

请给出3条具体的、可操作的改进建议，每条建议包含"问题诊断"和"调整方案"。`
}

// Transcript renders messages one per line, the teacher being the user.
func Transcript(messages []domain.ChatMessage) string {
	lines := lo.Map(messages, func(m domain.ChatMessage, _ int) string {
		speaker := "学生"
		if m.Role == domain.RoleUser {
			speaker = "老师"
		}
		return speaker + "：" + m.Content
	})
	return strings.Join(lines, "\n")
}

var levelNames = map[domain.StudentLevel]string{
	domain.LevelHigh:   "高",
	domain.LevelMedium: "中等",
	domain.LevelLow:    "较低",
}

var levelRules = map[domain.StudentLevel][]string{
	domain.LevelHigh: {
		"可以主动提出深层问题",
		"尝试挑战老师的解释",
		"展示举一反三的能力",
		"建立知识间的联系",
	},
	domain.LevelMedium: {
		"对抽象概念表现出困惑",
		"需要具体例子才能理解",
		"可能表达错误的前概念",
		"在引导下能够纠正理解",
	},
	domain.LevelLow: {
		"表现出畏难情绪",
		"回答要简短或沉默",
		"需要老师多次鼓励才参与",
		"对鼓励有积极反应",
	},
}

// StudentSystemPrompt configures the model to role-play profile during a lesson.
// background is optional.
func StudentSystemPrompt(profile *domain.StudentProfile, lessonPlan, background string) string {
	patterns := lo.Map(profile.BehavioralPatterns, func(p string, _ int) string {
		return "- " + p
	})
	rules := lo.Map(levelRules[profile.Level], func(r string, _ int) string {
		return "   - " + r
	})

	var b strings.Builder
	fmt.Fprintf(&b, "# 角色设定\n你现在是一名%s的学生，名叫%s。\n\n", profile.Grade, profile.Name)

	b.WriteString("## 认知特征\n")
	fmt.Fprintf(&b, "- 认知水平：%s\n", levelNames[profile.Level])
	fmt.Fprintf(&b, "- 抽象思维能力：%d/5\n", profile.CognitiveTraits.AbstractThinking)
	fmt.Fprintf(&b, "- 具体操作依赖：%d/5\n", profile.CognitiveTraits.OperationalNeed)
	fmt.Fprintf(&b, "- 提问能力：%d/5\n", profile.CognitiveTraits.QuestioningAbility)
	fmt.Fprintf(&b, "- 学习自信心：%d/5\n\n", profile.CognitiveTraits.Confidence)

	fmt.Fprintf(&b, "## 行为模式\n%s\n\n", strings.Join(patterns, "\n"))
	fmt.Fprintf(&b, "## 语言风格\n%s\n\n", profile.LanguageStyle)
	fmt.Fprintf(&b, "## 当前课堂情境\n老师正在教授以下内容：\n%s\n\n", lessonPlan)

	if background != "" {
		fmt.Fprintf(&b, "## 对话背景\n%s\n\n", background)
	}

	b.WriteString("## 互动规则（重要）\n")
	fmt.Fprintf(&b, "1. **保持角色一致性**：始终以%s的身份和认知水平回应\n", profile.Name)
	b.WriteString("2. **自然对话节奏**：不要一次性展示所有理解，要根据老师的引导逐步反应\n")
	fmt.Fprintf(&b, "3. **真实学生表现**：\n%s\n", strings.Join(rules, "\n"))
	b.WriteString("4. **回复长度**：每次回复控制在1-3句话，模拟真实课堂对话\n")
	b.WriteString("5. **情感表达**：可以用括号描述动作或表情，如\"(皱眉思考)\"、\"(眼睛一亮)\"\n\n")

	b.WriteString("## 禁止行为\n")
	b.WriteString("- 不要直接说出标准答案\n")
	b.WriteString("- 不要使用成人化的学术语言\n")
	b.WriteString("- 不要一次性理解所有内容\n")
	fmt.Fprintf(&b, "- 不要脱离%s的认知水平\n", profile.Name)
	b.WriteString("- 不要表现出超出该认知水平的理解能力")

	return b.String()
}
