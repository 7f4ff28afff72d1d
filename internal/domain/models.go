package domain

import "time"

// Role is the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one turn of a conversation.
type ChatMessage struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp,omitempty"` // unix milliseconds
}

// APIConfig identifies the chat-completions endpoint a request goes to.
type APIConfig struct {
	Provider string `json:"provider"`
	BaseURL  string `json:"baseURL"`
	APIKey   string `json:"apiKey"` //nolint:gosec // Credential field, never logged
	Model    string `json:"model"`
}

// CompletionRequest is what a backend sends to the chat-completions endpoint.
type CompletionRequest struct {
	Messages    []ChatMessage
	Temperature float64
	MaxTokens   int
	Stream      bool
}

// StreamChunk represents a single streaming response chunk.
type StreamChunk struct {
	Delta string `json:"delta"`
	Done  bool   `json:"done"`
	Error error  `json:"-"`
}

// Topic is one suggested research topic.
type Topic struct {
	Title     string `json:"title"`
	Rationale string `json:"rationale"`
}

// Metrics are the 1-10 scores of a simulated lesson.
type Metrics struct {
	CognitiveLoad int `json:"cognitiveLoad"`
	Engagement    int `json:"engagement"`
	Comprehension int `json:"comprehension"`
}

// KeyMoment marks a turn worth discussing in the report.
type KeyMoment struct {
	Turn    int    `json:"turn"`
	Content string `json:"content"`
	Insight string `json:"insight"`
}

// AnalysisResult is the decoded conversation analysis.
type AnalysisResult struct {
	Metrics     Metrics     `json:"metrics"`
	Analysis    string      `json:"analysis"`
	Suggestions []string    `json:"suggestions"`
	KeyMoments  []KeyMoment `json:"keyMoments,omitempty"`
}

// StudentLevel is the cognitive level of a simulated student.
type StudentLevel string

const (
	LevelHigh   StudentLevel = "high"
	LevelMedium StudentLevel = "medium"
	LevelLow    StudentLevel = "low"
)

// CognitiveTraits are the 1-5 trait scores of a persona.
type CognitiveTraits struct {
	AbstractThinking   int `json:"abstractThinking"`
	OperationalNeed    int `json:"operationalNeed"`
	QuestioningAbility int `json:"questioningAbility"`
	Confidence         int `json:"confidence"`
}

// StudentProfile is one of the fixed simulated personas.
type StudentProfile struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	Grade              string          `json:"grade"`
	Level              StudentLevel    `json:"level"`
	Description        string          `json:"description"`
	CognitiveTraits    CognitiveTraits `json:"cognitiveTraits"`
	BehavioralPatterns []string        `json:"behavioralPatterns"`
	LanguageStyle      string          `json:"languageStyle"`
}

// SessionStep is the workshop stage a session reached.
type SessionStep int

const (
	StepTopic SessionStep = iota + 1
	StepLiterature
	StepSimulation
	StepReport
)

// SessionData holds the artefacts produced by each workshop step.
type SessionData struct {
	Topic               string          `json:"topic,omitempty"`
	TopicOptions        []string        `json:"topicOptions,omitempty"`
	LiteratureReview    string          `json:"literatureReview,omitempty"`
	LessonPlan          string          `json:"lessonPlan,omitempty"`
	StudentProfile      *StudentProfile `json:"studentProfile,omitempty"`
	ConversationHistory []ChatMessage   `json:"conversationHistory,omitempty"`
	AnalysisResult      *AnalysisResult `json:"analysisResult,omitempty"`
	ReportGenerated     bool            `json:"reportGenerated,omitempty"`
}

// ResearchSession is a persisted workshop run.
type ResearchSession struct {
	ID        string      `json:"id"`
	Title     string      `json:"title"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
	Step      SessionStep `json:"step"`
	Data      SessionData `json:"data"`
}

// SessionSummary is the lightweight listing form of a session.
type SessionSummary struct {
	ID              string      `json:"id"`
	Title           string      `json:"title"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
	Step            SessionStep `json:"step"`
	HasConversation bool        `json:"hasConversation"`
	MessageCount    int         `json:"messageCount"`
	Size            int         `json:"size"`
}
