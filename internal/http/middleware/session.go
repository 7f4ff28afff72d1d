package middleware

import (
	"net/http"
	"strings"

	"github.com/davidbz/lessonlab/internal/observability"
)

// HeaderSessionID carries the caller session that scopes cancellation.
const HeaderSessionID = "X-Session-Id"

const maxSessionIDLength = 128

// Session reads the caller session id, generating one when it is absent or
// unusable, and echoes it back on the response.
func Session() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID := strings.TrimSpace(r.Header.Get(HeaderSessionID))
			if !validSessionID(sessionID) {
				sessionID = observability.GenerateSessionID()
			}

			w.Header().Set(HeaderSessionID, sessionID)
			ctx := observability.WithSessionID(r.Context(), sessionID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// validSessionID rejects ids that could collide with the key separator.
func validSessionID(id string) bool {
	if id == "" || len(id) > maxSessionIDLength {
		return false
	}
	return !strings.ContainsAny(id, ": \t")
}
