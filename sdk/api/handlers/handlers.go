// Package handlers provides the API handler functionality shared by the
// OpenAI-compatible endpoints: the error envelope, status mapping, SSE
// response headers and access to the executor and live configuration.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/grok2api/internal/config"
	"github.com/router-for-me/grok2api/internal/runtime/executor"
	log "github.com/sirupsen/logrus"
)

// ErrorResponse represents a standard error response format for the API.
// It contains a single ErrorDetail field.
type ErrorResponse struct {
	// Error contains detailed information about the error that occurred.
	Error ErrorDetail `json:"error"`
}

// ErrorDetail provides specific information about an error that occurred.
// It includes a human-readable message, an error type, and an optional error code.
type ErrorDetail struct {
	// Message is a human-readable message providing more details about the error.
	Message string `json:"message"`

	// Type is the category of error that occurred (e.g., "invalid_request_error").
	Type string `json:"type"`

	// Code is a short code identifying the error, if applicable.
	Code string `json:"code,omitempty"`
}

// ChatExecutor runs chat-completions requests upstream.
type ChatExecutor interface {
	Execute(ctx context.Context, req executor.Request, logger log.FieldLogger) ([]byte, error)
	ExecuteStream(ctx context.Context, req executor.Request, logger log.FieldLogger) (<-chan []byte, error)
}

// BaseAPIHandler holds what every endpoint handler needs. The configuration is
// swapped atomically on hot reload.
type BaseAPIHandler struct {
	Executor ChatExecutor
	cfg      atomic.Pointer[config.SDKConfig]
}

// NewBaseAPIHandlers creates a new API handlers instance.
func NewBaseAPIHandlers(cfg *config.SDKConfig, exec ChatExecutor) *BaseAPIHandler {
	h := &BaseAPIHandler{Executor: exec}
	h.UpdateClients(cfg)
	return h
}

// UpdateClients installs a new configuration for subsequent requests.
func (h *BaseAPIHandler) UpdateClients(cfg *config.SDKConfig) {
	if cfg == nil {
		cfg = &config.SDKConfig{}
	}
	h.cfg.Store(cfg)
}

// Config returns the current configuration snapshot.
func (h *BaseAPIHandler) Config() *config.SDKConfig {
	return h.cfg.Load()
}

// SetSSEHeaders prepares c for an event stream.
func (h *BaseAPIHandler) SetSSEHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	if h.Config().Streaming.DisableProxyBufferingValue() {
		c.Header("X-Accel-Buffering", "no")
	}
}

// BuildErrorResponseBody builds an OpenAI-compatible JSON error response body.
// If errText is already valid JSON, it is returned as-is to preserve upstream error payloads.
func BuildErrorResponseBody(status int, errText string) []byte {
	if status <= 0 {
		status = http.StatusInternalServerError
	}
	if strings.TrimSpace(errText) == "" {
		errText = http.StatusText(status)
	}

	trimmed := strings.TrimSpace(errText)
	if trimmed != "" && json.Valid([]byte(trimmed)) && strings.HasPrefix(trimmed, "{") {
		return []byte(trimmed)
	}

	errType, code := classifyStatus(status)
	return buildErrorBody(errText, errType, code)
}

// BuildCodedErrorBody builds an error envelope with an explicit type and code.
func BuildCodedErrorBody(message, errType, code string) []byte {
	return buildErrorBody(message, errType, code)
}

func buildErrorBody(message, errType, code string) []byte {
	payload, err := json.Marshal(ErrorResponse{
		Error: ErrorDetail{
			Message: message,
			Type:    errType,
			Code:    code,
		},
	})
	if err != nil {
		return []byte(fmt.Sprintf(`{"error":{"message":%q,"type":"server_error","code":"internal_server_error"}}`, message))
	}
	return payload
}

func classifyStatus(status int) (errType, code string) {
	errType = "invalid_request_error"
	switch status {
	case http.StatusBadRequest:
		code = "invalid_request"
	case http.StatusUnauthorized:
		errType = "authentication_error"
		code = "invalid_api_key"
	case http.StatusForbidden:
		errType = "permission_error"
		code = "upstream_blocked"
	case http.StatusTooManyRequests:
		errType = "rate_limit_error"
		code = "rate_limit_exceeded"
	case http.StatusNotFound:
		code = "model_not_found"
	case http.StatusServiceUnavailable:
		errType = "server_error"
		code = "service_unavailable"
	default:
		if status >= http.StatusInternalServerError {
			errType = "server_error"
			code = "internal_server_error"
		}
	}
	return errType, code
}

// StatusFromError extracts the HTTP status an error asks for, or 0.
func StatusFromError(err error) int {
	var se interface{ StatusCode() int }
	if errors.As(err, &se) && se != nil {
		if code := se.StatusCode(); code > 0 {
			return code
		}
	}
	return 0
}

// WriteErrorResponse writes err as a JSON error envelope. Errors without a
// status of their own are reported as 500.
func WriteErrorResponse(c *gin.Context, err error) {
	status := StatusFromError(err)
	if status == 0 {
		status = http.StatusInternalServerError
	}
	var ra interface{ RetryAfter() *time.Duration }
	if errors.As(err, &ra) && ra != nil {
		if d := ra.RetryAfter(); d != nil && *d > 0 {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(d.Seconds()))))
		}
	}

	errText := http.StatusText(status)
	if err != nil {
		if v := strings.TrimSpace(err.Error()); v != "" {
			errText = v
		}
	}
	WriteErrorBody(c, status, BuildErrorResponseBody(status, errText))
}

// WriteErrorBody writes a prepared error envelope.
func WriteErrorBody(c *gin.Context, status int, body []byte) {
	if !c.Writer.Written() {
		c.Writer.Header().Set("Content-Type", "application/json")
	}
	c.Status(status)
	_, _ = c.Writer.Write(body)
}
