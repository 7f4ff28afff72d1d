package http

import (
	"context"
	"net/http"
	"time"

	"github.com/davidbz/lessonlab/internal/cache"
	"github.com/davidbz/lessonlab/internal/chat"
	"github.com/davidbz/lessonlab/internal/domain"
	"github.com/davidbz/lessonlab/internal/observability"
	"github.com/davidbz/lessonlab/internal/prompt"
	"github.com/davidbz/lessonlab/internal/research"
	"github.com/davidbz/lessonlab/internal/session"
)

// OpChat names proxied chat calls for cancellation.
const OpChat = "chat"

// SessionStore is the persistence the handler needs.
type SessionStore interface {
	domain.SessionStore
	DeleteMany(ctx context.Context, ids []string) (int64, error)
	Usage(ctx context.Context) (session.Usage, error)
	Cleanup(ctx context.Context, olderThan time.Duration) (session.CleanupResult, error)
	RecommendCleanup(ctx context.Context) (session.CleanupAdvice, error)
}

// Handler handles HTTP requests.
type Handler struct {
	research  *research.Service
	client    *chat.Client
	sessions  SessionStore
	responses *cache.Cache
	registry  domain.ProviderRegistry
}

// NewHandler creates a new HTTP handler (DI constructor).
func NewHandler(
	researchService *research.Service,
	client *chat.Client,
	sessions SessionStore,
	responses *cache.Cache,
	registry domain.ProviderRegistry,
) *Handler {
	return &Handler{
		research:  researchService,
		client:    client,
		sessions:  sessions,
		responses: responses,
		registry:  registry,
	}
}

// Routes registers every endpoint on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/topics", h.HandleTopics)
	mux.HandleFunc("POST /v1/literature", h.HandleLiterature)
	mux.HandleFunc("POST /v1/analysis", h.HandleAnalysis)
	mux.HandleFunc("POST /v1/improvements", h.HandleImprovements)
	mux.HandleFunc("POST /v1/simulate", h.HandleSimulate)
	mux.HandleFunc("POST /v1/chat", h.HandleChat)
	mux.HandleFunc("DELETE /v1/operations/{op}", h.HandleAbort)
	mux.HandleFunc("DELETE /v1/operations", h.HandleAbortSession)

	mux.HandleFunc("GET /v1/profiles", h.HandleProfiles)
	mux.HandleFunc("GET /v1/cache/stats", h.HandleCacheStats)
	mux.HandleFunc("DELETE /v1/cache", h.HandleCacheClear)

	mux.HandleFunc("GET /v1/sessions", h.HandleListSessions)
	mux.HandleFunc("POST /v1/sessions", h.HandleSaveSession)
	mux.HandleFunc("DELETE /v1/sessions", h.HandleDeleteSessions)
	mux.HandleFunc("GET /v1/sessions/{id}", h.HandleGetSession)
	mux.HandleFunc("DELETE /v1/sessions/{id}", h.HandleDeleteSession)
	mux.HandleFunc("GET /v1/storage", h.HandleStorage)
	mux.HandleFunc("POST /v1/storage/cleanup", h.HandleCleanup)

	mux.HandleFunc("GET /health", h.HandleHealth)
}

type topicsResponse struct {
	Topics []domain.Topic `json:"topics"`
}

// HandleTopics suggests research topics for a teaching challenge.
func (h *Handler) HandleTopics(w http.ResponseWriter, r *http.Request) {
	var req prompt.TopicInput
	if err := decodeBody(w, r, &req); err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}

	topics, err := h.research.GenerateTopics(r.Context(), requestConfig(r, h.client.Config()), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, topicsResponse{Topics: topics})
}

type literatureRequest struct {
	Topic string `json:"topic"`
}

type literatureResponse struct {
	Review string `json:"review"`
}

// HandleLiterature drafts a literature review.
func (h *Handler) HandleLiterature(w http.ResponseWriter, r *http.Request) {
	var req literatureRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}

	review, err := h.research.GenerateLiteratureReview(r.Context(), requestConfig(r, h.client.Config()), req.Topic)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, literatureResponse{Review: review})
}

type analysisRequest struct {
	History []domain.ChatMessage `json:"history"`
}

// HandleAnalysis scores a simulated lesson.
func (h *Handler) HandleAnalysis(w http.ResponseWriter, r *http.Request) {
	var req analysisRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}

	result, err := h.research.AnalyzeConversation(r.Context(), requestConfig(r, h.client.Config()), req.History)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, result)
}

type improvementsRequest struct {
	LessonPlan     string               `json:"lessonPlan"`
	RecentMessages []domain.ChatMessage `json:"recentMessages"`
}

type improvementsResponse struct {
	Suggestions string `json:"suggestions"`
}

// HandleImprovements diagnoses the recent turns against the lesson plan.
func (h *Handler) HandleImprovements(w http.ResponseWriter, r *http.Request) {
	var req improvementsRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}

	suggestions, err := h.research.GenerateImprovementSuggestions(
		r.Context(), requestConfig(r, h.client.Config()), req.LessonPlan, req.RecentMessages)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, improvementsResponse{Suggestions: suggestions})
}

type simulateRequest struct {
	research.SimulationRequest
	Stream bool `json:"stream"`
}

type replyResponse struct {
	Reply string `json:"reply"`
}

// HandleSimulate returns the simulated student's reply, streamed as SSE when
// requested.
func (h *Handler) HandleSimulate(w http.ResponseWriter, r *http.Request) {
	var req simulateRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}

	cfg := requestConfig(r, h.client.Config())

	if !req.Stream {
		reply, err := h.research.SimulateStudent(r.Context(), cfg, req.SimulationRequest, nil)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, replyResponse{Reply: reply})
		return
	}

	sse := newSSEWriter(w, r)
	reply, err := h.research.SimulateStudent(r.Context(), cfg, req.SimulationRequest, sse.Delta)
	if err != nil {
		sse.Fail(err)
		return
	}
	sse.Done(reply)
}

type chatRequest struct {
	Messages    []domain.ChatMessage `json:"messages"`
	Temperature *float64             `json:"temperature,omitempty"`
	MaxTokens   int                  `json:"max_tokens,omitempty"`
	Stream      bool                 `json:"stream"`
}

type chatResponse struct {
	Content string `json:"content"`
}

// HandleChat proxies a raw conversation to the configured endpoint.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}
	if len(req.Messages) == 0 {
		writeBadRequest(w, r, "messages are required")
		return
	}

	ctx := observability.WithOperation(r.Context(), OpChat)
	opts := []chat.Option{
		chat.WithConfig(requestConfig(r, h.client.Config())),
		chat.WithMaxTokens(req.MaxTokens),
		chat.WithKey(chat.OperationKey(ctx, OpChat)),
	}
	if req.Temperature != nil {
		opts = append(opts, chat.WithTemperature(*req.Temperature))
	}

	if !req.Stream {
		content, err := h.client.Chat(ctx, req.Messages, nil, opts...)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, chatResponse{Content: content})
		return
	}

	sse := newSSEWriter(w, r)
	content, err := h.client.Chat(ctx, req.Messages, sse.Delta, opts...)
	if err != nil {
		sse.Fail(err)
		return
	}
	sse.Done(content)
}

type abortResponse struct {
	Aborted int `json:"aborted"`
}

// HandleAbort cancels the caller session's in-flight operation.
func (h *Handler) HandleAbort(w http.ResponseWriter, r *http.Request) {
	aborted := 0
	if h.research.Abort(r.Context(), r.PathValue("op")) {
		aborted = 1
	}
	writeJSON(w, r, http.StatusOK, abortResponse{Aborted: aborted})
}

// HandleAbortSession cancels every in-flight operation of the caller session.
func (h *Handler) HandleAbortSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, abortResponse{Aborted: h.research.AbortSession(r.Context())})
}

type profilesResponse struct {
	Profiles []domain.StudentProfile `json:"profiles"`
}

// HandleProfiles lists the simulated student personas.
func (h *Handler) HandleProfiles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, profilesResponse{Profiles: prompt.Profiles()})
}

// HandleCacheStats reports response cache usage.
func (h *Handler) HandleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.responses.Stats(r.Context()))
}

// HandleCacheClear drops every cached response.
func (h *Handler) HandleCacheClear(w http.ResponseWriter, r *http.Request) {
	h.responses.InvalidateAll(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

type healthResponse struct {
	Status   string   `json:"status"`
	Backends []string `json:"backends"`
	InFlight int      `json:"inFlight"`
}

// HandleHealth handles health check requests.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	backends, err := h.registry.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, healthResponse{
		Status:   "healthy",
		Backends: backends,
		InFlight: h.client.InFlight(),
	})
}
