package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/davidbz/lessonlab/internal/domain"
	"github.com/davidbz/lessonlab/internal/provider/openai"
)

// Headers that override the server's default endpoint for one request.
const (
	HeaderProvider = "X-API-Provider"
	HeaderBaseURL  = "X-API-Base-URL"
	HeaderModel    = "X-API-Model"
)

const maxBodyBytes = 4 << 20

// requestConfig layers the caller's endpoint headers over defaults. Switching
// provider resets the base URL and model to that provider's preset unless the
// caller sets them too. The server key is kept when no bearer token is sent.
func requestConfig(r *http.Request, defaults domain.APIConfig) domain.APIConfig {
	cfg := defaults

	if provider := strings.TrimSpace(r.Header.Get(HeaderProvider)); provider != "" && provider != cfg.Provider {
		cfg = openai.Preset(provider)
		cfg.APIKey = defaults.APIKey
	}
	if baseURL := strings.TrimSpace(r.Header.Get(HeaderBaseURL)); baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model := strings.TrimSpace(r.Header.Get(HeaderModel)); model != "" {
		cfg.Model = model
	}
	if key := bearerToken(r); key != "" {
		cfg.APIKey = key
	}

	return cfg
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) < len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}

// decodeBody reads a JSON request body into v. An empty body leaves v unchanged.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
