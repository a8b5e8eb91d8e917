package server

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/prism-gateway/internal/codec"
	_ "github.com/nulzo/prism-gateway/internal/codec/openai"
	"github.com/nulzo/prism-gateway/internal/config"
	"github.com/nulzo/prism-gateway/internal/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// upstream mimics an OpenAI-compatible provider.
func upstream(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer revoked" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`)
			return
		}
		var body struct {
			Stream bool `json:"stream"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if !body.Stream {
			_, _ = io.WriteString(w, `{"id":"chatcmpl-1","model":"gpt-4o-mini","choices":[{"index":0,"message":{"role":"assistant","content":"4"},"finish_reason":"stop"}]}`)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, ev := range []string{
			`{"choices":[{"index":0,"delta":{"content":"The"}}]}`,
			`{"choices":[{"index":0,"delta":{"content":" answer is "}}]}`,
			`{"choices":[{"index":0,"delta":{"content":"4"}}]}`,
			`{"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
			`[DONE]`,
		} {
			fmt.Fprintf(w, "data: %s\n\n", ev)
		}
	}))
}

func newTestServer(t *testing.T, baseURL string) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	c, ok := codec.Lookup("openai")
	require.True(t, ok)
	p, err := gateway.NewProvider(c, config.ProviderConfig{
		ID: "mock", Name: "Mock", Type: "openai", BaseURL: baseURL, APIKey: "sk-test",
		Timeout: 5, StreamIdleTimeout: 5, Models: []string{"gpt-4o-mini"},
	})
	require.NoError(t, err)
	reg := gateway.NewRegistry()
	require.NoError(t, reg.Add(p))

	logger := zap.NewNop()
	svc := gateway.NewService(logger, reg, gateway.NewDispatcher(reg, nil, logger), nil)
	return New(&config.Config{}, logger, svc, "test")
}

func do(s *Server, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

const question = `{"model":"gpt-4o-mini","messages":[{"role":"user","content":"2+2?"}]}`

func TestHealth(t *testing.T) {
	s := newTestServer(t, "http://127.0.0.1:1")
	w := do(s, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","version":"test"}`, w.Body.String())
}

func TestProviders(t *testing.T) {
	s := newTestServer(t, "http://127.0.0.1:1")

	w := do(s, http.MethodGet, "/v1/providers", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"mock"`)
	assert.NotContains(t, w.Body.String(), "sk-test")

	w = do(s, http.MethodGet, "/v1/providers/ghost", "", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "unsupported_operation")
}

func TestChatCompletion(t *testing.T) {
	up := upstream(t)
	defer up.Close()
	s := newTestServer(t, up.URL)

	w := do(s, http.MethodPost, "/v1/chat/completions", question, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Content      string `json:"content"`
		FinishReason string `json:"finish_reason"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "4", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
}

func TestChatCompletion_ValidationProblem(t *testing.T) {
	s := newTestServer(t, "http://127.0.0.1:1")

	w := do(s, http.MethodPost, "/v1/chat/completions", `{"messages":[{"role":"user","content":"hi"}]}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), `"model"`)
}

func TestChatCompletion_ProviderFailureBecomesProblem(t *testing.T) {
	up := upstream(t)
	defer up.Close()
	s := newTestServer(t, up.URL)

	w := do(s, http.MethodPost, "/v1/chat/completions", question, map[string]string{"X-Provider-Key": "revoked"})
	require.Equal(t, http.StatusBadGateway, w.Code)

	var problem map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &problem))
	assert.Equal(t, "provider_reported_failure", problem["kind"])
	assert.Equal(t, "invalid_api_key", problem["provider_code"])
	assert.Equal(t, "mock", problem["provider"])
	assert.Equal(t, false, problem["retryable"])
}

func TestChatCompletion_Stream(t *testing.T) {
	up := upstream(t)
	defer up.Close()
	s := newTestServer(t, up.URL)

	body := `{"model":"gpt-4o-mini","stream":true,"messages":[{"role":"user","content":"2+2?"}]}`
	w := do(s, http.MethodPost, "/v1/chat/completions", body, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	var text string
	var frames []string
	sc := bufio.NewScanner(w.Body)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		frames = append(frames, data)
		if data == "[DONE]" {
			continue
		}
		var chunk struct {
			Kind string `json:"kind"`
			Text string `json:"text"`
		}
		require.NoError(t, json.Unmarshal([]byte(data), &chunk))
		if chunk.Kind == "content" {
			text += chunk.Text
		}
	}
	assert.Equal(t, "The answer is 4", text)
	require.NotEmpty(t, frames)
	assert.Equal(t, "[DONE]", frames[len(frames)-1])
	assert.Contains(t, frames[len(frames)-2], `"finish_reason":"stop"`)
}

func TestChatCompletion_StreamRejectedBeforeHeaders(t *testing.T) {
	up := upstream(t)
	defer up.Close()
	s := newTestServer(t, up.URL)

	body := `{"model":"gpt-4o-mini","stream":true,"messages":[{"role":"user","content":"2+2?"}]}`
	w := do(s, http.MethodPost, "/v1/chat/completions", body, map[string]string{"X-Provider-Key": "revoked"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_api_key")
}
