package prompt

import "github.com/davidbz/lessonlab/internal/domain"

// Params are the generation parameters of one task.
type Params struct {
	Temperature float64
	MaxTokens   int
}

// Per-task generation parameters.
var (
	TopicParams       = Params{Temperature: 0.7, MaxTokens: 1500}
	LiteratureParams  = Params{Temperature: 0.7, MaxTokens: 1500}
	AnalysisParams    = Params{Temperature: 0.3, MaxTokens: 1000}
	ImprovementParams = Params{Temperature: 0.7, MaxTokens: 1000}
)

// studentMaxTokens keeps simulated replies short.
const studentMaxTokens = 150

// StudentParams returns the parameters for a persona's replies. Higher levels
// answer with more variety.
func StudentParams(profile *domain.StudentProfile) Params {
	temperature := 0.6
	if profile != nil {
		switch profile.Level {
		case domain.LevelHigh:
			temperature = 0.8
		case domain.LevelMedium:
			temperature = 0.7
		case domain.LevelLow:
			temperature = 0.6
		}
	}
	return Params{Temperature: temperature, MaxTokens: studentMaxTokens}
}
