package openai

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/davidbz/lessonlab/internal/observability"
)

const (
	initialLineBuffer = 64 * 1024
	maxLineBuffer     = 4 * 1024 * 1024
	doneMarker        = "[DONE]"
)

type streamEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// DecodeEvents reads a chat-completions event stream from r and calls emit with
// each non-empty content delta in order. Lines are assembled across reads, so
// frames split at any byte offset decode the same. It returns nil at [DONE] or at
// the end of the body, and the first error from r or emit otherwise.
func DecodeEvents(ctx context.Context, r io.Reader, emit func(delta string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, initialLineBuffer), maxLineBuffer)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}

		payload, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue // event:, id: and retry: fields carry nothing we use
		}
		payload = strings.TrimSpace(payload)

		if payload == doneMarker {
			return nil
		}

		var event streamEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			observability.FromContext(ctx).Warn("skipping malformed stream event",
				observability.String("payload", truncate(payload, 200)),
				observability.Error(err))
			continue
		}

		if len(event.Choices) == 0 {
			continue
		}

		if delta := event.Choices[0].Delta.Content; delta != "" {
			if err := emit(delta); err != nil {
				return err
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read event stream: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
