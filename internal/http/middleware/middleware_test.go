package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/lessonlab/internal/config"
	"github.com/davidbz/lessonlab/internal/http/middleware"
	"github.com/davidbz/lessonlab/internal/observability"
)

func TestChain_Order(t *testing.T) {
	var order []string
	tag := func(name string) middleware.Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	handler := middleware.Chain(tag("first"), tag("second"))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, []string{"first", "second", "handler"}, order)
}

func TestSession(t *testing.T) {
	var seen string
	handler := middleware.Session()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = observability.GetSessionID(r.Context())
	}))

	t.Run("should keep the caller session", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(middleware.HeaderSessionID, "tab-1")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		require.Equal(t, "tab-1", seen)
		require.Equal(t, "tab-1", rec.Header().Get(middleware.HeaderSessionID))
	})

	t.Run("should generate a session when absent", func(t *testing.T) {
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		require.NotEmpty(t, seen)
		require.Equal(t, seen, rec.Header().Get(middleware.HeaderSessionID))
	})

	t.Run("should replace ids containing the key separator", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(middleware.HeaderSessionID, "a:b")

		handler.ServeHTTP(httptest.NewRecorder(), req)

		require.NotEqual(t, "a:b", seen)
		require.NotContains(t, seen, ":")
	})
}

func TestTrace(t *testing.T) {
	var traceID, requestID string
	handler := middleware.Trace()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID = observability.GetTraceID(r.Context())
		requestID = observability.GetRequestID(r.Context())

		w.WriteHeader(http.StatusTeapot)
		require.NoError(t, http.NewResponseController(w).Flush())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusTeapot, rec.Code)
	require.True(t, rec.Flushed)
	require.Equal(t, traceID, rec.Header().Get("X-Trace-Id"))
	require.Equal(t, requestID, rec.Header().Get("X-Request-Id"))
}

func TestCORS(t *testing.T) {
	cfg := &config.CORSConfig{
		AllowedOrigins: []string{"http://localhost:3000"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	}
	handler := middleware.BuildMiddlewareChain(cfg)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("should allow configured origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/profiles", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		require.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
		require.Equal(t, middleware.HeaderSessionID, rec.Header().Get("Access-Control-Expose-Headers"))
		require.NotEmpty(t, rec.Header().Get(middleware.HeaderSessionID))
	})

	t.Run("should not allow other origins", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/profiles", nil)
		req.Header.Set("Origin", "http://evil.example")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("nil config is a no-op", func(t *testing.T) {
		rec := httptest.NewRecorder()
		middleware.CORS(nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusAccepted)
		})).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		require.Equal(t, http.StatusAccepted, rec.Code)
	})
}
