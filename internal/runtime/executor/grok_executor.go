// Package executor runs chat requests against Grok: it picks an SSO token,
// builds the upstream payload, maps upstream failures onto HTTP statuses and
// hands successful bodies to the response translator.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	grokauth "github.com/router-for-me/grok2api/internal/auth/grok"
	"github.com/router-for-me/grok2api/internal/config"
	"github.com/router-for-me/grok2api/internal/logging"
	"github.com/router-for-me/grok2api/internal/metrics"
	grokchat "github.com/router-for-me/grok2api/internal/translator/grok/openai/chat-completions"
	groktranslator "github.com/router-for-me/grok2api/internal/translator/openai/grok"
	log "github.com/sirupsen/logrus"
)

const (
	rateLimitRetryAfter = 30 * time.Second
	rateLimitRefresh    = 15 * time.Second
	errorBodyLimit      = 64 << 10
)

// Request is one OpenAI chat-completions call.
type Request struct {
	Model   string
	Payload []byte
}

// grokState is everything derived from one config generation.
type grokState struct {
	cfg      *config.Config
	client   *grokauth.GrokHTTPClient
	uploader *groktranslator.Uploader
	auth     *grokauth.GrokAuth
}

// GrokExecutor is safe for concurrent use; UpdateConfig swaps its state atomically.
type GrokExecutor struct {
	store *grokauth.TokenStore
	state atomic.Pointer[grokState]

	// background tracks rate-limit refreshes started after successful calls.
	background sync.WaitGroup
}

// NewGrokExecutor builds an executor drawing tokens from store.
func NewGrokExecutor(cfg *config.Config, store *grokauth.TokenStore) *GrokExecutor {
	e := &GrokExecutor{store: store}
	e.UpdateConfig(cfg)
	return e
}

// UpdateConfig rebuilds the upstream client for cfg. Requests already running
// keep the state they started with.
func (e *GrokExecutor) UpdateConfig(cfg *config.Config) {
	if cfg == nil {
		cfg = config.Default()
	}
	client := grokauth.NewGrokHTTPClient(cfg, "")
	if proxyURL := cfg.EffectiveProxyURL(); proxyURL != "" {
		logProxyOnce("grok."+maskProxyURL(proxyURL), "proxy: grok upstream via %s", maskProxyURL(proxyURL))
	}
	e.state.Store(&grokState{
		cfg:      cfg,
		client:   client,
		uploader: groktranslator.NewUploader(cfg, client),
		auth:     grokauth.NewGrokAuth(cfg, e.store),
	})
}

// Close waits for background rate-limit refreshes to finish, or for ctx.
func (e *GrokExecutor) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Identifier names the upstream provider.
func (e *GrokExecutor) Identifier() string { return "grok" }

// Execute performs a non-streaming call and returns a chat.completion body.
func (e *GrokExecutor) Execute(ctx context.Context, req Request, logger log.FieldLogger) ([]byte, error) {
	st := e.state.Load()
	body, err := e.open(ctx, st, req, logger)
	if err != nil {
		return nil, err
	}
	opts := grokchat.NewOptions(st.cfg, req.Model, logger)
	return grokchat.Collect(ctx, e.lineSource(st, body, logger), body, opts)
}

// ExecuteStream performs a streaming call. Errors before the upstream answers
// are returned directly; afterwards everything arrives as SSE frames on the
// channel, which is closed once the lifecycle ends.
func (e *GrokExecutor) ExecuteStream(ctx context.Context, req Request, logger log.FieldLogger) (<-chan []byte, error) {
	st := e.state.Load()
	body, err := e.open(ctx, st, req, logger)
	if err != nil {
		return nil, err
	}
	opts := grokchat.NewOptions(st.cfg, req.Model, logger)
	return grokchat.Stream(ctx, e.lineSource(st, body, logger), body, opts), nil
}

// open selects a token, sends the conversation request and returns the
// unread body of a successful response.
func (e *GrokExecutor) open(ctx context.Context, st *grokState, req Request, logger log.FieldLogger) (io.ReadCloser, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if e.store == nil {
		return nil, statusErr{code: http.StatusServiceUnavailable, err: grokauth.ErrNoSSOToken}
	}
	token, err := e.store.Pick(req.Model)
	if err != nil {
		if errors.Is(err, grokauth.ErrNoSSOToken) {
			return nil, statusErr{code: http.StatusServiceUnavailable, err: err}
		}
		return nil, err
	}
	maskedToken := grokauth.MaskToken(token.SSOToken)

	payload, headerOpts, err := e.buildPayload(ctx, st, token, req)
	if err != nil {
		return nil, err
	}

	headers := grokauth.BuildHeaders(st.cfg, token.SSOToken, token.CFClearance, headerOpts)
	logger.Debugf("grok executor: model=%s token=%s payload=%d bytes", req.Model, maskedToken, len(payload))
	resp, err := st.client.PostStream(ctx, grokauth.Endpoint(st.cfg, grokauth.ChatPath), headers, payload)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, statusErr{code: http.StatusBadGateway, msg: fmt.Sprintf("grok upstream request failed: %v", err)}
	}
	metrics.RecordUpstreamStatus(resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var data []byte
		if resp.Body != nil {
			data, _ = io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
			_ = resp.Body.Close()
		}
		logger.Debugf("grok executor: request error, status: %d, token=%s, body: %s", resp.StatusCode, maskedToken, logging.Snippet(data, 300))
		return nil, e.handleError(resp.StatusCode, data, token.SSOToken, logger)
	}

	if errMark := e.store.MarkSuccess(token.SSOToken); errMark != nil {
		logger.Debugf("grok executor: reset failure count for token=%s: %v", maskedToken, errMark)
	}
	e.background.Add(1)
	go func() {
		defer e.background.Done()
		e.refreshLimits(context.WithoutCancel(ctx), st, token, req.Model)
	}()
	return resp.Body, nil
}

func (e *GrokExecutor) buildPayload(ctx context.Context, st *grokState, token grokauth.GrokTokenStorage, req Request) ([]byte, grokauth.HeaderOptions, error) {
	headerOpts := grokauth.HeaderOptions{Path: grokauth.ChatPath}

	if grokauth.IsVideoModel(req.Model) {
		body, referer, err := groktranslator.BuildGrokVideoPayload(ctx, st.uploader, token, req.Model, req.Payload)
		if err != nil {
			return nil, headerOpts, err
		}
		headerOpts.Referer = referer
		return body, headerOpts, nil
	}

	if _, ok := grokauth.GetGrokModelConfig(req.Model); !ok {
		return nil, headerOpts, statusErr{code: http.StatusNotFound, msg: fmt.Sprintf("model %q not found", req.Model)}
	}
	_, _, images := groktranslator.ExtractOpenAIContent(req.Payload)
	var fileIDs []string
	if len(images) > 0 {
		ids, err := st.uploader.UploadAll(ctx, token, images)
		if err != nil {
			return nil, headerOpts, err
		}
		fileIDs = ids
	}
	body, err := groktranslator.ConvertOpenAIRequestToGrok(st.cfg, req.Model, req.Payload, fileIDs)
	if err != nil {
		return nil, headerOpts, err
	}
	return body, headerOpts, nil
}

// lineSource reads the upstream body line by line, tracing each line when
// verbose logging is on.
func (e *GrokExecutor) lineSource(st *grokState, body io.Reader, logger log.FieldLogger) grokchat.LineSource {
	maxLine := st.cfg.Grok.ScannerBufferSize
	if maxLine <= 0 {
		maxLine = config.DefaultScannerBufferSize
	}
	src := grokchat.NewScannerSource(body, maxLine)
	if !logging.VerboseEnabled() {
		return src
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &tracingSource{src: src, logger: logger}
}

type tracingSource struct {
	src    grokchat.LineSource
	logger log.FieldLogger
}

func (t *tracingSource) NextLine() ([]byte, error) {
	line, err := t.src.NextLine()
	if err == nil {
		t.logger.Debugf("grok upstream line: %s", logging.Snippet(line, 500))
	}
	return line, err
}

func (e *GrokExecutor) refreshLimits(ctx context.Context, st *grokState, token grokauth.GrokTokenStorage, model string) {
	ctx, cancel := context.WithTimeout(ctx, rateLimitRefresh)
	defer cancel()
	if _, err := st.auth.CheckRateLimits(ctx, token, model); err != nil {
		log.Debugf("grok executor: rate-limit refresh failed for token=%s: %v", grokauth.MaskToken(token.SSOToken), err)
	}
}

func (e *GrokExecutor) handleError(statusCode int, body []byte, ssoToken string, logger log.FieldLogger) error {
	reason := logging.Snippet(body, 200)
	if errMark := e.store.MarkFailure(ssoToken, statusCode, reason); errMark != nil {
		logger.Debugf("grok executor: record failure: %v", errMark)
	}
	switch statusCode {
	case http.StatusForbidden:
		return statusErr{code: http.StatusForbidden, msg: "Cloudflare blocked request - change IP, configure cf_clearance, or use a proxy", err: grokauth.ErrCloudflareBlocked}
	case http.StatusUnauthorized:
		logger.Warnf("grok executor: authentication failed for token=%s", grokauth.MaskToken(ssoToken))
		return statusErr{code: http.StatusUnauthorized, msg: "Grok authentication failed - SSO token may be expired", err: grokauth.ErrAuthFailed}
	case http.StatusTooManyRequests:
		delay := rateLimitRetryAfter
		return statusErr{code: http.StatusTooManyRequests, msg: "Grok rate limited", retryAfter: &delay, err: grokauth.ErrRateLimited}
	default:
		msg := reason
		if msg == "" {
			msg = http.StatusText(statusCode)
		}
		return statusErr{code: statusCode, msg: msg}
	}
}

// statusErr carries the HTTP status the handler should answer with.
type statusErr struct {
	code       int
	msg        string
	retryAfter *time.Duration
	err        error
}

func (e statusErr) Error() string {
	switch {
	case e.msg != "":
		return e.msg
	case e.err != nil:
		return e.err.Error()
	}
	return fmt.Sprintf("status %d", e.code)
}

func (e statusErr) Unwrap() error { return e.err }

func (e statusErr) StatusCode() int { return e.code }

func (e statusErr) RetryAfter() *time.Duration { return e.retryAfter }
