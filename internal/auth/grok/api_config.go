package grok

import (
	"encoding/base64"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/router-for-me/grok2api/internal/config"
)

const (
	ChatPath      = "/rest/app-chat/conversations/new"
	RateLimitPath = "/rest/rate-limits"
	MediaPostPath = "/rest/media/post/create"
	UploadPath    = "/rest/app-chat/upload-file"
	ImaginePath   = "/imagine"

	MaxFailures = 3

	defaultAcceptLanguageValue = "zh-CN,zh;q=0.9"
)

// Endpoint joins path onto the configured Grok base URL.
func Endpoint(cfg *config.Config, path string) string {
	base := config.DefaultBaseURL
	if cfg != nil && strings.TrimSpace(cfg.Grok.BaseURL) != "" {
		base = strings.TrimRight(cfg.Grok.BaseURL, "/")
	}
	return base + path
}

type HeaderOptions struct {
	Path        string
	ContentType string
	Referer     string
}

// BuildHeaders returns browser-like headers used for Grok requests.
// ssoToken may be a bare JWT or a cookie string; cfClearance falls back to the
// configured value when empty.
func BuildHeaders(cfg *config.Config, ssoToken, cfClearance string, opts ...HeaderOptions) map[string]string {
	opt := HeaderOptions{Path: ChatPath}
	if len(opts) > 0 {
		opt = opts[0]
		if opt.Path == "" {
			opt.Path = ChatPath
		}
	}

	cf := strings.TrimSpace(cfClearance)
	if cf == "" && cfg != nil {
		cf = cfg.Grok.CFClearance
	}
	origin := Endpoint(cfg, "")

	headers := map[string]string{
		"Accept":             "*/*",
		"Accept-Language":    acceptLanguage(cfg),
		"Accept-Encoding":    "gzip, deflate, br, zstd",
		"Connection":         "keep-alive",
		"Origin":             origin,
		"Priority":           "u=1, i",
		"Referer":            resolveReferer(origin, opt),
		"Sec-Ch-Ua":          "\"Not(A:Brand\";v=\"99\", \"Google Chrome\";v=\"133\", \"Chromium\";v=\"133\"",
		"Sec-Ch-Ua-Mobile":   "?0",
		"Sec-Ch-Ua-Platform": "\"macOS\"",
		"Sec-Fetch-Dest":     "empty",
		"Sec-Fetch-Mode":     "cors",
		"Sec-Fetch-Site":     "same-origin",
		"User-Agent":         "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36",
		"Baggage":            "sentry-environment=production,sentry-public_key=b311e0f2690c81f25e2c4cf6d4f7ce1c",
		"Content-Type":       resolveContentType(opt),
		"x-statsig-id":       resolveStatsigID(cfg),
		"x-xai-request-id":   uuid.NewString(),
	}

	if cookie := buildCookie(NormalizeSSOToken(ssoToken), cf); cookie != "" {
		headers["Cookie"] = cookie
	}
	return headers
}

// generateStatsigID produces a fake Statsig telemetry payload to mimic browser traffic.
func generateStatsigID() string {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	if r.Intn(2) == 0 {
		msg := fmt.Sprintf("e:TypeError: Cannot read properties of null (reading 'children['%s']')", randomString(r, 5, false))
		return base64.StdEncoding.EncodeToString([]byte(msg))
	}
	msg := fmt.Sprintf("e:TypeError: Cannot read properties of undefined (reading '%s')", randomString(r, 10, true))
	return base64.StdEncoding.EncodeToString([]byte(msg))
}

func resolveStatsigID(cfg *config.Config) string {
	if cfg != nil && !cfg.Grok.DynamicStatsigValue() && strings.TrimSpace(cfg.Grok.FixedStatsigID) != "" {
		return cfg.Grok.FixedStatsigID
	}
	return generateStatsigID()
}

func randomString(r *rand.Rand, length int, lettersOnly bool) string {
	alphabet := "abcdefghijklmnopqrstuvwxyz"
	if !lettersOnly {
		alphabet += "0123456789"
	}
	var b strings.Builder
	for i := 0; i < length; i++ {
		b.WriteByte(alphabet[r.Intn(len(alphabet))])
	}
	return b.String()
}

func acceptLanguage(cfg *config.Config) string {
	if cfg != nil && strings.TrimSpace(cfg.Grok.AcceptLanguage) != "" {
		return cfg.Grok.AcceptLanguage
	}
	return defaultAcceptLanguageValue
}

func resolveContentType(opt HeaderOptions) string {
	if strings.TrimSpace(opt.ContentType) != "" {
		return opt.ContentType
	}
	if strings.Contains(opt.Path, "upload-file") {
		return "text/plain;charset=UTF-8"
	}
	return "application/json"
}

func resolveReferer(origin string, opt HeaderOptions) string {
	if strings.TrimSpace(opt.Referer) != "" {
		return opt.Referer
	}
	return origin + "/"
}

func buildCookie(ssoJWT, cf string) string {
	token := strings.TrimSpace(ssoJWT)
	cf = strings.TrimSpace(cf)
	if cf != "" && !strings.Contains(cf, "=") {
		cf = "cf_clearance=" + cf
	}
	if token == "" {
		return cf
	}
	cookie := fmt.Sprintf("sso-rw=%s;sso=%s", token, token)
	if cf != "" {
		cookie += ";" + cf
	}
	return cookie
}

// NormalizeSSOToken extracts the bare JWT portion from a cookie string.
func NormalizeSSOToken(token string) string {
	token = strings.TrimSpace(token)
	if !strings.Contains(token, "sso=") {
		return token
	}
	parts := strings.Split(token, "sso=")
	last := parts[len(parts)-1]
	if idx := strings.Index(last, ";"); idx >= 0 {
		last = last[:idx]
	}
	return strings.TrimSpace(last)
}
