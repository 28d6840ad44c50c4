package handlers

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tidwall/gjson"
)

type statusError int

func (e statusError) Error() string   { return http.StatusText(int(e)) }
func (e statusError) StatusCode() int { return int(e) }

func TestBuildErrorResponseBody(t *testing.T) {
	tests := []struct {
		status   int
		wantType string
		wantCode string
	}{
		{http.StatusBadRequest, "invalid_request_error", "invalid_request"},
		{http.StatusUnauthorized, "authentication_error", "invalid_api_key"},
		{http.StatusForbidden, "permission_error", "upstream_blocked"},
		{http.StatusNotFound, "invalid_request_error", "model_not_found"},
		{http.StatusTooManyRequests, "rate_limit_error", "rate_limit_exceeded"},
		{http.StatusBadGateway, "server_error", "internal_server_error"},
		{http.StatusServiceUnavailable, "server_error", "service_unavailable"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			body := BuildErrorResponseBody(tt.status, "boom")
			assert.Equal(t, "boom", gjson.GetBytes(body, "error.message").String())
			assert.Equal(t, tt.wantType, gjson.GetBytes(body, "error.type").String())
			assert.Equal(t, tt.wantCode, gjson.GetBytes(body, "error.code").String())
		})
	}
}

func TestBuildErrorResponseBody_PassesThroughJSON(t *testing.T) {
	upstream := `{"error":{"message":"from upstream","type":"x"}}`
	assert.Equal(t, upstream, string(BuildErrorResponseBody(http.StatusBadGateway, upstream)))
	assert.Equal(t, "Internal Server Error", gjson.GetBytes(BuildErrorResponseBody(0, ""), "error.message").String())
}

func TestStatusFromError(t *testing.T) {
	assert.Equal(t, 0, StatusFromError(nil))
	assert.Equal(t, 0, StatusFromError(fmt.Errorf("plain")))
	assert.Equal(t, http.StatusBadGateway, StatusFromError(statusError(http.StatusBadGateway)))
	assert.Equal(t, http.StatusTooManyRequests, StatusFromError(fmt.Errorf("wrapped: %w", statusError(http.StatusTooManyRequests))))
}
