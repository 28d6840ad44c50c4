package grok

import (
	"context"
	"time"

	"github.com/imroc/req/v3"

	"github.com/router-for-me/grok2api/internal/config"
)

// GrokHTTPClient is a Chrome-impersonating client for grok.com endpoints.
type GrokHTTPClient struct {
	client *req.Client
}

// NewGrokHTTPClient builds a client honoring the configured proxy and timeout.
// A non-empty proxyURL overrides the configuration.
func NewGrokHTTPClient(cfg *config.Config, proxyURL string) *GrokHTTPClient {
	client := req.C().
		ImpersonateChrome().
		EnableAutoDecompress().
		SetTimeout(resolveGrokTimeout(cfg)).
		SetCommonRetryCount(0)

	if proxyURL == "" {
		proxyURL = cfg.EffectiveProxyURL()
	}
	if proxyURL != "" {
		client.SetProxyURL(config.NormalizeProxyURL(proxyURL))
	}
	return &GrokHTTPClient{client: client}
}

func resolveGrokTimeout(cfg *config.Config) time.Duration {
	if cfg != nil && cfg.Grok.RequestTimeoutSeconds > 0 {
		return time.Duration(cfg.Grok.RequestTimeoutSeconds) * time.Second
	}
	return config.DefaultRequestTimeout * time.Second
}

func (c *GrokHTTPClient) request(ctx context.Context, headers map[string]string) *req.Request {
	r := c.client.R().SetContext(ctx)
	for k, v := range headers {
		r.SetHeader(k, v)
	}
	return r
}

// Post sends body and reads the whole response.
func (c *GrokHTTPClient) Post(ctx context.Context, url string, headers map[string]string, body []byte) (*req.Response, error) {
	return c.request(ctx, headers).SetBodyBytes(body).Post(url)
}

// PostStream sends body and leaves the response body unread for the caller.
func (c *GrokHTTPClient) PostStream(ctx context.Context, url string, headers map[string]string, body []byte) (*req.Response, error) {
	return c.request(ctx, headers).DisableAutoReadResponse().SetBodyBytes(body).Post(url)
}

// GetStream fetches url without reading the body, for size-capped downloads.
func (c *GrokHTTPClient) GetStream(ctx context.Context, url string, headers map[string]string) (*req.Response, error) {
	return c.request(ctx, headers).DisableAutoReadResponse().Get(url)
}

// WithoutRedirects returns a client sharing this configuration that never
// follows redirects. Downloads of user-supplied URLs use it so a validated host
// cannot bounce the request elsewhere.
func (c *GrokHTTPClient) WithoutRedirects() *GrokHTTPClient {
	return &GrokHTTPClient{client: c.client.Clone().SetRedirectPolicy(req.NoRedirectPolicy())}
}
