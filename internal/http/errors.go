package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/davidbz/lessonlab/internal/apierror"
	"github.com/davidbz/lessonlab/internal/observability"
	"github.com/davidbz/lessonlab/internal/research"
	"github.com/davidbz/lessonlab/internal/session"
)

// StatusClientClosedRequest is returned for aborted operations.
const StatusClientClosedRequest = 499

//nolint:gochecknoglobals // Static lookup table
var kindStatus = map[apierror.Kind]int{
	apierror.KindAuthInvalid:     http.StatusUnauthorized,
	apierror.KindRateLimit:       http.StatusTooManyRequests,
	apierror.KindNetwork:         http.StatusBadGateway,
	apierror.KindInvalidResponse: http.StatusBadGateway,
	apierror.KindStorageQuota:    http.StatusInsufficientStorage,
	apierror.KindAborted:         StatusClientClosedRequest,
}

// errorPayload is the JSON view of an APIError.
type errorPayload struct {
	Kind       apierror.Kind   `json:"kind"`
	Title      string          `json:"title"`
	Message    string          `json:"message"`
	UserAction string          `json:"userAction"`
	Retryable  bool            `json:"retryable"`
	Action     apierror.Action `json:"action"`
}

type errorResponse struct {
	Error any `json:"error"`
}

type messageError struct {
	Message string `json:"message"`
}

func newErrorPayload(apiErr *apierror.APIError) errorPayload {
	return errorPayload{
		Kind:       apiErr.Kind,
		Title:      apiErr.Title(),
		Message:    apiErr.Message,
		UserAction: apiErr.UserAction,
		Retryable:  apiErr.Retryable,
		Action:     apiErr.Action(),
	}
}

// statusFor maps an operation failure to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, research.ErrEmptyInput),
		errors.Is(err, research.ErrUnknownProfile),
		errors.Is(err, research.ErrNoLessonPlan):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	}

	if status, ok := kindStatus[apierror.Classify(err).Kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// writeError classifies err and writes it as {"error": APIError}.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := apierror.Classify(err)
	status := statusFor(err)

	logger := observability.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", observability.Error(err), observability.String("kind", string(apiErr.Kind)))
	} else {
		logger.Info("request rejected", observability.Error(err), observability.String("kind", string(apiErr.Kind)))
	}

	writeJSON(w, r, status, errorResponse{Error: newErrorPayload(apiErr)})
}

// writeBadRequest reports a malformed request body.
func writeBadRequest(w http.ResponseWriter, r *http.Request, message string) {
	writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: messageError{Message: message}})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		observability.FromContext(r.Context()).Error("failed to encode response", observability.Error(err))
	}
}
