package prompt

import (
	"slices"

	"github.com/samber/lo"

	"github.com/davidbz/lessonlab/internal/domain"
)

var profiles = []domain.StudentProfile{
	{
		ID:          "A",
		Name:        "学生A",
		Grade:       "通用",
		Level:       domain.LevelHigh,
		Description: "高认知水平学生，善于抽象思考，喜欢追问本质",
		CognitiveTraits: domain.CognitiveTraits{
			AbstractThinking:   5,
			OperationalNeed:    2,
			QuestioningAbility: 5,
			Confidence:         4,
		},
		BehavioralPatterns: []string{
			"主动提出深层问题",
			"尝试建立知识间的联系",
			"对老师的解释进行批判性思考",
			"能够举一反三",
		},
		LanguageStyle: `表达清晰，逻辑性强，会用"为什么"、"如果...会怎样"等句式`,
	},
	{
		ID:          "B",
		Name:        "学生B",
		Grade:       "通用",
		Level:       domain.LevelMedium,
		Description: "中等认知水平，存在迷思概念，需要具体操作辅助理解",
		CognitiveTraits: domain.CognitiveTraits{
			AbstractThinking:   3,
			OperationalNeed:    4,
			QuestioningAbility: 3,
			Confidence:         3,
		},
		BehavioralPatterns: []string{
			"对抽象概念感到困惑",
			"需要通过实例理解",
			"可能表达出错误的前概念",
			"在引导下能够纠正理解",
		},
		LanguageStyle: `表达略显犹豫，会说"我觉得是不是..."、"有点不太明白"`,
	},
	{
		ID:          "C",
		Name:        "学生C",
		Grade:       "通用",
		Level:       domain.LevelLow,
		Description: "学习困难学生，基础薄弱，容易产生挫败感，需要鼓励",
		CognitiveTraits: domain.CognitiveTraits{
			AbstractThinking:   1,
			OperationalNeed:    5,
			QuestioningAbility: 2,
			Confidence:         2,
		},
		BehavioralPatterns: []string{
			"对问题感到畏惧",
			"回答简短或沉默",
			"需要多次重复才能理解",
			"对鼓励有积极反应",
		},
		LanguageStyle: `语气不自信，常用"我不会"、"这个太难了"，回答简短`,
	},
}

// Profiles returns copies of the three fixed student personas in id order.
func Profiles() []domain.StudentProfile {
	return lo.Map(profiles, func(p domain.StudentProfile, _ int) domain.StudentProfile {
		p.BehavioralPatterns = slices.Clone(p.BehavioralPatterns)
		return p
	})
}

// Profile returns the persona with the given id.
func Profile(id string) (*domain.StudentProfile, bool) {
	p, ok := lo.Find(Profiles(), func(p domain.StudentProfile) bool {
		return p.ID == id
	})
	if !ok {
		return nil, false
	}
	return &p, true
}
