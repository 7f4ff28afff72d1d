package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/davidbz/lessonlab/internal/apierror"
	"github.com/davidbz/lessonlab/internal/observability"
)

type deltaEvent struct {
	Delta string `json:"delta"`
}

type doneEvent struct {
	Done    bool   `json:"done"`
	Content string `json:"content"`
}

// sseWriter writes server-sent events. Headers are sent with the first frame,
// so a call that fails before producing output still gets a plain JSON error.
type sseWriter struct {
	w       http.ResponseWriter
	r       *http.Request
	rc      *http.ResponseController
	started bool
}

func newSSEWriter(w http.ResponseWriter, r *http.Request) *sseWriter {
	return &sseWriter{w: w, r: r, rc: http.NewResponseController(w)}
}

func (s *sseWriter) start() {
	if s.started {
		return
	}
	s.started = true

	s.w.Header().Set("Content-Type", "text/event-stream")
	s.w.Header().Set("Cache-Control", "no-cache")
	s.w.Header().Set("Connection", "keep-alive")
	s.w.WriteHeader(http.StatusOK)
}

// Delta forwards one content delta.
func (s *sseWriter) Delta(delta string) {
	s.start()
	s.send("", deltaEvent{Delta: delta})
}

// Done writes the terminal frame carrying the full reply.
func (s *sseWriter) Done(content string) {
	s.start()
	s.send("", doneEvent{Done: true, Content: content})
}

// Fail reports err, as an error event once the stream has started.
func (s *sseWriter) Fail(err error) {
	if !s.started {
		writeError(s.w, s.r, err)
		return
	}

	apiErr := apierror.Classify(err)
	observability.FromContext(s.r.Context()).Warn("stream failed", observability.Error(err))
	s.send("error", newErrorPayload(apiErr))
}

func (s *sseWriter) send(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		observability.FromContext(s.r.Context()).Error("failed to marshal event", observability.Error(err))
		return
	}

	if event != "" {
		_, _ = fmt.Fprintf(s.w, "event: %s\n", event)
	}
	_, _ = fmt.Fprintf(s.w, "data: %s\n\n", data)

	if err := s.rc.Flush(); err != nil {
		observability.FromContext(s.r.Context()).Debug("flush failed", observability.Error(err))
	}
}
