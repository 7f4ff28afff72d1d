package session

import (
	"encoding/json"
	"fmt"

	"github.com/davidbz/lessonlab/internal/domain"
)

func summarize(session *domain.ResearchSession, size int) domain.SessionSummary {
	return domain.SessionSummary{
		ID:              session.ID,
		Title:           session.Title,
		CreatedAt:       session.CreatedAt,
		UpdatedAt:       session.UpdatedAt,
		Step:            session.Step,
		HasConversation: len(session.Data.ConversationHistory) > 0,
		MessageCount:    len(session.Data.ConversationHistory),
		Size:            size,
	}
}

func marshalSummary(summary domain.SessionSummary) (string, error) {
	raw, err := json.Marshal(summary)
	if err != nil {
		return "", fmt.Errorf("failed to marshal session summary: %w", err)
	}
	return string(raw), nil
}

func unmarshalSummary(raw string) (domain.SessionSummary, error) {
	var summary domain.SessionSummary
	if err := json.Unmarshal([]byte(raw), &summary); err != nil {
		return domain.SessionSummary{}, fmt.Errorf("failed to unmarshal session summary: %w", err)
	}
	return summary, nil
}
