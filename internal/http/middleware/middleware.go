package middleware

import (
	"net/http"
	"slices"

	"github.com/davidbz/lessonlab/internal/config"
)

// Middleware decorates the workshop API handler.
type Middleware func(http.Handler) http.Handler

// Chain runs middlewares in argument order: the first one sees the request first.
func Chain(middlewares ...Middleware) Middleware {
	return func(final http.Handler) http.Handler {
		for _, mw := range slices.Backward(middlewares) {
			final = mw(final)
		}
		return final
	}
}

// BuildMiddlewareChain is the workshop API chain. CORS answers preflights before
// they are traced; Session runs innermost so handlers see the resolved session id.
func BuildMiddlewareChain(corsConfig *config.CORSConfig) Middleware {
	return Chain(
		CORS(corsConfig),
		Trace(),
		Session(),
	)
}
