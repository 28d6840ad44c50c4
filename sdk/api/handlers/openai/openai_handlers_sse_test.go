package openai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/router-for-me/grok2api/internal/config"
	"github.com/router-for-me/grok2api/internal/runtime/executor"
	"github.com/router-for-me/grok2api/sdk/api/handlers"
)

type coded struct {
	status int
	msg    string
}

func (e coded) Error() string   { return e.msg }
func (e coded) StatusCode() int { return e.status }

type fakeExecutor struct {
	frames []string
	body   string
	err    error
	got    executor.Request
}

func (f *fakeExecutor) Execute(_ context.Context, req executor.Request, _ log.FieldLogger) ([]byte, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return []byte(f.body), nil
}

func (f *fakeExecutor) ExecuteStream(_ context.Context, req executor.Request, _ log.FieldLogger) (<-chan []byte, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan []byte, len(f.frames))
	for _, frame := range f.frames {
		ch <- []byte(frame)
	}
	close(ch)
	return ch, nil
}

func newRouter(exec handlers.ChatExecutor, sdk *config.SDKConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewOpenAIAPIHandler(handlers.NewBaseAPIHandlers(sdk, exec))
	r := gin.New()
	r.GET("/v1/models", h.OpenAIModels)
	r.POST("/v1/chat/completions", h.ChatCompletions)
	return r
}

func post(r http.Handler, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(rec, req)
	return rec
}

// parseSSEBlocks splits a stream into its blank-line separated records.
func parseSSEBlocks(payload string) [][]string {
	var blocks [][]string
	var cur []string
	for _, line := range strings.Split(payload, "\n") {
		if line == "" {
			if len(cur) > 0 {
				blocks = append(blocks, cur)
				cur = nil
			}
			continue
		}
		cur = append(cur, line)
	}
	if len(cur) > 0 {
		blocks = append(blocks, cur)
	}
	return blocks
}

func TestChatCompletions_Streaming(t *testing.T) {
	exec := &fakeExecutor{frames: []string{
		"data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n",
		"",
		"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n",
		"data: [DONE]\n\n",
	}}
	rec := post(newRouter(exec, &config.SDKConfig{}), `{"model":"grok-3-fast","stream":true,"messages":[]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", rec.Header().Get("Connection"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
	assert.True(t, rec.Flushed)

	blocks := parseSSEBlocks(rec.Body.String())
	require.Len(t, blocks, 3)
	for _, b := range blocks {
		require.Len(t, b, 1)
		require.True(t, strings.HasPrefix(b[0], "data: "), b[0])
	}
	assert.Equal(t, "data: [DONE]", blocks[2][0])
	assert.Equal(t, "grok-3-fast", exec.got.Model)
}

func TestChatCompletions_ProxyBufferingHeaderCanBeDisabled(t *testing.T) {
	off := false
	sdk := &config.SDKConfig{Streaming: config.StreamingConfig{DisableProxyBuffering: &off}}
	rec := post(newRouter(&fakeExecutor{frames: []string{"data: [DONE]\n\n"}}, sdk), `{"model":"grok-3-fast","stream":true}`)
	assert.Empty(t, rec.Header().Get("X-Accel-Buffering"))
}

func TestChatCompletions_NonStreaming(t *testing.T) {
	exec := &fakeExecutor{body: `{"object":"chat.completion","choices":[{"message":{"content":"hi"}}]}`}
	rec := post(newRouter(exec, &config.SDKConfig{}), `{"model":"grok-4-fast","messages":[{"role":"user","content":"hi"}]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hi", gjson.Get(rec.Body.String(), "choices.0.message.content").String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
}

func TestChatCompletions_RequestValidation(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"invalid json", `{not json`, http.StatusBadRequest, "invalid_request"},
		{"missing model", `{"messages":[]}`, http.StatusBadRequest, "invalid_request"},
		{"blank model", `{"model":"  "}`, http.StatusBadRequest, "invalid_request"},
		{"unknown model", `{"model":"gpt-4o"}`, http.StatusNotFound, "model_not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &fakeExecutor{}
			rec := post(newRouter(exec, &config.SDKConfig{}), tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, gjson.Get(rec.Body.String(), "error.code").String())
			assert.Empty(t, exec.got.Model, "executor must not be called")
		})
	}
}

func TestChatCompletions_ErrorBeforeFirstByte(t *testing.T) {
	delay := 30 * time.Second
	tests := []struct {
		name   string
		err    error
		status int
		retry  string
	}{
		{"no token", coded{http.StatusServiceUnavailable, "no SSO token available"}, http.StatusServiceUnavailable, ""},
		{"rate limited", rateLimited{delay: &delay}, http.StatusTooManyRequests, "30"},
		{"plain error", context.DeadlineExceeded, http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		for _, stream := range []bool{false, true} {
			body := `{"model":"grok-3-fast","stream":false}`
			if stream {
				body = `{"model":"grok-3-fast","stream":true}`
			}
			rec := post(newRouter(&fakeExecutor{err: tt.err}, &config.SDKConfig{}), body)
			assert.Equal(t, tt.status, rec.Code, "%s stream=%v", tt.name, stream)
			assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
			assert.True(t, gjson.Get(rec.Body.String(), "error.message").Exists())
			assert.Equal(t, tt.retry, rec.Header().Get("Retry-After"))
		}
	}
}

type rateLimited struct{ delay *time.Duration }

func (rateLimited) Error() string                { return "Grok rate limited" }
func (rateLimited) StatusCode() int              { return http.StatusTooManyRequests }
func (r rateLimited) RetryAfter() *time.Duration { return r.delay }

func TestOpenAIModels(t *testing.T) {
	rec := httptest.NewRecorder()
	newRouter(&fakeExecutor{}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/models", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "list", gjson.Get(rec.Body.String(), "object").String())
	data := gjson.Get(rec.Body.String(), "data").Array()
	require.NotEmpty(t, data)
	for _, m := range data {
		assert.Equal(t, "model", m.Get("object").String())
		assert.Equal(t, "xai", m.Get("owned_by").String())
	}
}
