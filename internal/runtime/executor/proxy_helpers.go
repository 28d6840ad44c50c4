package executor

import (
	"net/url"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

var proxyInfoOnce sync.Map

// maskProxyURL hides proxy credentials for logging.
func maskProxyURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u == nil || u.Host == "" {
		return "<invalid-proxy-url>"
	}
	if u.User != nil {
		u.User = url.UserPassword("****", "****")
	}
	return u.String()
}

func logProxyOnce(key, msg string, args ...any) {
	if _, loaded := proxyInfoOnce.LoadOrStore(key, struct{}{}); loaded {
		return
	}
	log.Infof(msg, args...)
}
