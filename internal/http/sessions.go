package http

import (
	"net/http"
	"time"

	"github.com/davidbz/lessonlab/internal/domain"
	"github.com/davidbz/lessonlab/internal/session"
)

type sessionsResponse struct {
	Sessions []domain.SessionSummary `json:"sessions"`
}

// HandleListSessions lists stored sessions, newest first.
func (h *Handler) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.sessions.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, sessionsResponse{Sessions: summaries})
}

// HandleSaveSession creates or overwrites a session.
func (h *Handler) HandleSaveSession(w http.ResponseWriter, r *http.Request) {
	var s domain.ResearchSession
	if err := decodeBody(w, r, &s); err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}

	if err := h.sessions.Save(r.Context(), &s); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, &s)
}

// HandleGetSession loads one session.
func (h *Handler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, s)
}

// HandleDeleteSession removes one session.
func (h *Handler) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type deleteSessionsRequest struct {
	IDs []string `json:"ids"`
}

type deleteSessionsResponse struct {
	FreedBytes int64 `json:"freedBytes"`
}

// HandleDeleteSessions removes a batch of sessions.
func (h *Handler) HandleDeleteSessions(w http.ResponseWriter, r *http.Request) {
	var req deleteSessionsRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}
	if len(req.IDs) == 0 {
		writeBadRequest(w, r, "ids are required")
		return
	}

	freed, err := h.sessions.DeleteMany(r.Context(), req.IDs)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, deleteSessionsResponse{FreedBytes: freed})
}

type storageResponse struct {
	Usage  session.Usage         `json:"usage"`
	Advice session.CleanupAdvice `json:"advice"`
}

// HandleStorage reports quota usage and whether a cleanup is advised.
func (h *Handler) HandleStorage(w http.ResponseWriter, r *http.Request) {
	usage, err := h.sessions.Usage(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	advice, err := h.sessions.RecommendCleanup(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, storageResponse{Usage: usage, Advice: advice})
}

type cleanupRequest struct {
	Days int `json:"days"`
}

// HandleCleanup deletes sessions older than the requested number of days, or
// the configured retention when none is given.
func (h *Handler) HandleCleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}
	if req.Days < 0 {
		writeBadRequest(w, r, "days must not be negative")
		return
	}

	result, err := h.sessions.Cleanup(r.Context(), time.Duration(req.Days)*24*time.Hour)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, result)
}
