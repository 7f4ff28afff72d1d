package openai_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/lessonlab/internal/apierror"
	"github.com/davidbz/lessonlab/internal/domain"
	"github.com/davidbz/lessonlab/internal/provider/openai"
)

func testConfig(baseURL string) domain.APIConfig {
	return domain.APIConfig{
		Provider: "custom",
		BaseURL:  baseURL,
		APIKey:   "sk-test",
		Model:    "deepseek-chat",
	}
}

func testRequest() *domain.CompletionRequest {
	return &domain.CompletionRequest{
		Messages: []domain.ChatMessage{
			{Role: domain.RoleSystem, Content: "你是一名学生"},
			{Role: domain.RoleUser, Content: "什么是分数？", Timestamp: 1700000000000},
		},
		Temperature: 0.7,
		MaxTokens:   150,
	}
}

func TestClient_Complete_SendsWireFormat(t *testing.T) {
	var captured map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"分数表示部分与整体"}}]}`)
	}))
	defer server.Close()

	client := openai.NewClient(nil)
	content, err := client.Complete(context.Background(), testConfig(server.URL+"/v1/"), testRequest())

	require.NoError(t, err)
	require.Equal(t, "分数表示部分与整体", content)

	require.Equal(t, "deepseek-chat", captured["model"])
	require.InDelta(t, 0.7, captured["temperature"], 1e-9)
	require.InDelta(t, 150, captured["max_tokens"], 1e-9)
	require.Equal(t, false, captured["stream"])

	messages, ok := captured["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 2)
	require.Equal(t, map[string]any{"role": "user", "content": "什么是分数？"}, messages[1])
}

func TestClient_Complete_TolerantParse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"id":"x","choices":[]}`)
	}))
	defer server.Close()

	content, err := openai.NewClient(nil).Complete(context.Background(), testConfig(server.URL), testRequest())

	require.NoError(t, err)
	require.Empty(t, content)
}

func TestClient_Complete_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html>gateway</html>`)
	}))
	defer server.Close()

	_, err := openai.NewClient(nil).Complete(context.Background(), testConfig(server.URL), testRequest())

	require.Error(t, err)
	require.Equal(t, apierror.KindInvalidResponse, apierror.Classify(err).Kind)
}

func TestClient_StatusErrors(t *testing.T) {
	tests := []struct {
		status int
		kind   apierror.Kind
	}{
		{status: http.StatusUnauthorized, kind: apierror.KindAuthInvalid},
		{status: http.StatusForbidden, kind: apierror.KindAuthInvalid},
		{status: http.StatusTooManyRequests, kind: apierror.KindRateLimit},
		{status: http.StatusInternalServerError, kind: apierror.KindInvalidResponse},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, `{"error":{"message":"nope"}}`, tt.status)
			}))
			defer server.Close()

			client := openai.NewClient(nil)

			_, err := client.Complete(context.Background(), testConfig(server.URL), testRequest())
			var statusErr *apierror.StatusError
			require.ErrorAs(t, err, &statusErr)
			require.Equal(t, tt.status, statusErr.StatusCode)
			require.Contains(t, statusErr.Body, "nope")
			require.Equal(t, tt.kind, apierror.Classify(err).Kind)

			_, err = client.Stream(context.Background(), testConfig(server.URL), testRequest())
			require.Equal(t, tt.kind, apierror.Classify(err).Kind)
		})
	}
}

func TestClient_Stream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "text/event-stream", r.Header.Get("Accept"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, true, body["stream"])

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, frame := range []string{
			"data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n",
			"data: {\"choices\":[{\"delta\":{\"content\":\"老师\"}}]}\n",
			"\ndata: {\"choices\":[{\"delta\":{\"content\":\"，我\"}}]}\n\n",
			"data: {\"choices\":[{\"delta\":{\"content\":\"不懂\"}}]}\n\ndata: [DONE]\n\n",
		} {
			fmt.Fprint(w, frame)
			flusher.Flush()
		}
	}))
	defer server.Close()

	chunks, err := openai.NewClient(nil).Stream(context.Background(), testConfig(server.URL), testRequest())
	require.NoError(t, err)

	var deltas []string
	var done bool
	for chunk := range chunks {
		require.NoError(t, chunk.Error)
		if chunk.Done {
			done = true
			continue
		}
		deltas = append(deltas, chunk.Delta)
	}

	require.True(t, done)
	require.Equal(t, []string{"老师", "，我", "不懂"}, deltas)
}

func TestClient_Stream_CancelClosesChannel(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"first\"}}]}\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	chunks, err := openai.NewClient(nil).Stream(ctx, testConfig(server.URL), testRequest())
	require.NoError(t, err)

	first := <-chunks
	require.Equal(t, "first", first.Delta)

	cancel()

	select {
	case chunk, ok := <-chunks:
		require.False(t, ok, "unexpected chunk %+v", chunk)
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not close after cancellation")
	}
}

func TestClient_NetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := server.URL
	server.Close()

	_, err := openai.NewClient(nil).Complete(context.Background(), testConfig(baseURL), testRequest())

	require.Error(t, err)
	require.Equal(t, apierror.KindNetwork, apierror.Classify(err).Kind)
}

func TestPreset(t *testing.T) {
	cfg := openai.WithPreset(domain.APIConfig{Provider: openai.ProviderDeepSeek, APIKey: "k"})
	require.Equal(t, "https://api.deepseek.com/v1", cfg.BaseURL)
	require.Equal(t, "deepseek-chat", cfg.Model)
	require.Equal(t, "k", cfg.APIKey)

	cfg = openai.WithPreset(domain.APIConfig{Provider: openai.ProviderOpenAI, Model: "gpt-4o"})
	require.Equal(t, "https://api.openai.com/v1", cfg.BaseURL)
	require.Equal(t, "gpt-4o", cfg.Model)

	cfg = openai.WithPreset(domain.APIConfig{Provider: openai.ProviderCustom})
	require.Empty(t, cfg.BaseURL)
	require.Empty(t, cfg.Model)
}
