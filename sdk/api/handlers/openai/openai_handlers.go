// Package openai provides the OpenAI-compatible chat-completions and model
// listing endpoints backed by Grok.
package openai

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	grokauth "github.com/router-for-me/grok2api/internal/auth/grok"
	"github.com/router-for-me/grok2api/internal/logging"
	"github.com/router-for-me/grok2api/internal/runtime/executor"
	"github.com/router-for-me/grok2api/sdk/api/handlers"
	"github.com/tidwall/gjson"
)

// OpenAIAPIHandler contains the handlers for OpenAI API endpoints.
type OpenAIAPIHandler struct {
	*handlers.BaseAPIHandler
}

// NewOpenAIAPIHandler creates a new OpenAI API handlers instance.
func NewOpenAIAPIHandler(apiHandlers *handlers.BaseAPIHandler) *OpenAIAPIHandler {
	return &OpenAIAPIHandler{BaseAPIHandler: apiHandlers}
}

// HandlerType returns the identifier for this handler implementation.
func (h *OpenAIAPIHandler) HandlerType() string { return "openai" }

// OpenAIModels handles GET /v1/models.
func (h *OpenAIAPIHandler) OpenAIModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data":   grokauth.GetGrokModels(),
	})
}

// ChatCompletions handles POST /v1/chat/completions, dispatching on "stream".
func (h *OpenAIAPIHandler) ChatCompletions(c *gin.Context) {
	rawJSON, err := io.ReadAll(c.Request.Body)
	if err != nil {
		handlers.WriteErrorBody(c, http.StatusBadRequest, handlers.BuildErrorResponseBody(http.StatusBadRequest, "Invalid request: "+err.Error()))
		return
	}
	if !gjson.ValidBytes(rawJSON) {
		handlers.WriteErrorBody(c, http.StatusBadRequest, handlers.BuildErrorResponseBody(http.StatusBadRequest, "Invalid request: body is not valid JSON"))
		return
	}

	model := strings.TrimSpace(gjson.GetBytes(rawJSON, "model").String())
	if model == "" {
		handlers.WriteErrorBody(c, http.StatusBadRequest, handlers.BuildErrorResponseBody(http.StatusBadRequest, "model is required"))
		return
	}
	if _, ok := grokauth.GetGrokModelConfig(model); !ok {
		handlers.WriteErrorBody(c, http.StatusNotFound, handlers.BuildErrorResponseBody(http.StatusNotFound, "The model `"+model+"` does not exist"))
		return
	}

	req := executor.Request{Model: model, Payload: rawJSON}
	if gjson.GetBytes(rawJSON, "stream").Bool() {
		h.handleStreamingResponse(c, req)
		return
	}
	h.handleNonStreamingResponse(c, req)
}

func (h *OpenAIAPIHandler) handleNonStreamingResponse(c *gin.Context, req executor.Request) {
	logger := logging.RequestLogger(c).WithField("model", req.Model)
	resp, err := h.Executor.Execute(c.Request.Context(), req, logger)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("client went away before the response was ready")
			return
		}
		logger.Warnf("chat completion failed: %v", err)
		handlers.WriteErrorResponse(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", resp)
}

func (h *OpenAIAPIHandler) handleStreamingResponse(c *gin.Context, req executor.Request) {
	logger := logging.RequestLogger(c).WithField("model", req.Model)
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		handlers.WriteErrorBody(c, http.StatusInternalServerError, handlers.BuildErrorResponseBody(http.StatusInternalServerError, "Streaming not supported"))
		return
	}

	frames, err := h.Executor.ExecuteStream(c.Request.Context(), req, logger)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		logger.Warnf("chat stream failed before the first byte: %v", err)
		handlers.WriteErrorResponse(c, err)
		return
	}

	h.SetSSEHeaders(c)
	c.Status(http.StatusOK)
	for frame := range frames {
		if !writeSSEFrame(c.Writer, frame) {
			continue
		}
		flusher.Flush()
	}
}

// writeSSEFrame writes one complete SSE record, skipping empty ones.
func writeSSEFrame(w io.Writer, frame []byte) bool {
	if len(frame) == 0 {
		return false
	}
	_, _ = w.Write(frame)
	return true
}
