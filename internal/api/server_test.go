package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/router-for-me/grok2api/internal/config"
	"github.com/router-for-me/grok2api/internal/runtime/executor"
)

type stubExecutor struct {
	calls   int
	updated *config.Config
}

func (s *stubExecutor) Execute(context.Context, executor.Request, log.FieldLogger) ([]byte, error) {
	s.calls++
	return []byte(`{"object":"chat.completion"}`), nil
}

func (s *stubExecutor) ExecuteStream(context.Context, executor.Request, log.FieldLogger) (<-chan []byte, error) {
	s.calls++
	ch := make(chan []byte, 1)
	ch <- []byte("data: [DONE]\n\n")
	close(ch)
	return ch, nil
}

func (s *stubExecutor) UpdateConfig(cfg *config.Config) { s.updated = cfg }

func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, *stubExecutor) {
	t.Helper()
	cfg := config.Default()
	mutate(cfg)
	exec := &stubExecutor{}
	return NewServer(cfg, exec, "1.2.3"), exec
}

func do(s *Server, method, path, auth, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, func(*config.Config) {})
	rec := do(s, http.MethodGet, "/health", "", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"Grok2API","version":"1.2.3"}`, rec.Body.String())
}

func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		keys     []string
		anon     bool
		auth     string
		status   int
		code     string
		contains string
	}{
		{name: "fail closed without keys", auth: "Bearer anything", status: http.StatusUnauthorized, code: "auth_not_configured"},
		{name: "anonymous allowed", anon: true, status: http.StatusOK},
		{name: "missing token", keys: []string{"secret"}, status: http.StatusUnauthorized, code: "missing_token"},
		{name: "wrong scheme", keys: []string{"secret"}, auth: "Basic secret", status: http.StatusUnauthorized, code: "missing_token"},
		{name: "invalid token", keys: []string{"secret"}, auth: "Bearer wrong-token", status: http.StatusUnauthorized, code: "invalid_token", contains: "令牌无效，长度: 11"},
		{name: "valid token", keys: []string{"secret"}, auth: "Bearer secret", status: http.StatusOK},
		{name: "second key", keys: []string{"secret", "other"}, auth: "bearer other", status: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t, func(cfg *config.Config) {
				cfg.APIKeys = tt.keys
				cfg.AllowAnonymousAccess = tt.anon
			})
			rec := do(s, http.MethodGet, "/v1/models", tt.auth, "")

			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.code != "" {
				assert.Equal(t, "authentication_error", gjson.Get(rec.Body.String(), "error.type").String())
				assert.Equal(t, tt.code, gjson.Get(rec.Body.String(), "error.code").String())
			}
			if tt.contains != "" {
				assert.Contains(t, gjson.Get(rec.Body.String(), "error.message").String(), tt.contains)
			}
		})
	}
}

func TestChatCompletionsRoute(t *testing.T) {
	s, exec := newTestServer(t, func(cfg *config.Config) { cfg.APIKeys = []string{"k"} })

	rec := do(s, http.MethodPost, "/v1/chat/completions", "Bearer k", `{"model":"grok-4-fast","messages":[]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, exec.calls)

	rec = do(s, http.MethodPost, "/v1/chat/completions", "Bearer k", `{"model":"","messages":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(s, http.MethodPost, "/v1/chat/completions", "Bearer k", `{"model":"nope","messages":[]}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "model_not_found", gjson.Get(rec.Body.String(), "error.code").String())

	rec = do(s, http.MethodPost, "/v1/chat/completions", "", `{"model":"grok-4-fast"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 1, exec.calls)
}

func TestUpdateClients_SwapsConfig(t *testing.T) {
	s, exec := newTestServer(t, func(cfg *config.Config) { cfg.APIKeys = []string{"old"} })

	next := config.Default()
	next.APIKeys = []string{"new"}
	s.UpdateClients(next)

	assert.Same(t, next, exec.updated)
	assert.Equal(t, http.StatusUnauthorized, do(s, http.MethodGet, "/v1/models", "Bearer old", "").Code)
	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/v1/models", "Bearer new", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, func(*config.Config) {})
	do(s, http.MethodGet, "/health", "", "")
	rec := do(s, http.MethodGet, "/metrics", "", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "grok2api_http_requests_total")
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", bearerToken("Bearer abc"))
	assert.Equal(t, "abc", bearerToken("  bearer   abc "))
	assert.Equal(t, "", bearerToken("abc"))
	assert.Equal(t, "", bearerToken("Token abc"))
}
