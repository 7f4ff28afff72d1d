package middleware

import (
	"net/http"
	"slices"

	"github.com/rs/cors"

	"github.com/davidbz/lessonlab/internal/config"
)

// CORS creates a middleware that handles Cross-Origin Resource Sharing (CORS)
// using the github.com/rs/cors library. The session header is always allowed
// and exposed so browsers can read the id generated by Session.
func CORS(cfg *config.CORSConfig) Middleware {
	if cfg == nil {
		// Return no-op middleware if config is nil.
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   cfg.AllowedMethods,
		AllowedHeaders:   withHeader(cfg.AllowedHeaders, HeaderSessionID),
		ExposedHeaders:   withHeader(cfg.ExposedHeaders, HeaderSessionID),
		AllowCredentials: cfg.AllowCredentials,
		MaxAge:           cfg.MaxAge,
	})

	return func(next http.Handler) http.Handler {
		return c.Handler(next)
	}
}

func withHeader(headers []string, header string) []string {
	if slices.ContainsFunc(headers, func(h string) bool {
		return http.CanonicalHeaderKey(h) == header
	}) {
		return headers
	}
	return append(slices.Clone(headers), header)
}
