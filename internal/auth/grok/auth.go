package grok

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/router-for-me/grok2api/internal/config"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// GrokAuth checks account state for tokens held in a TokenStore.
type GrokAuth struct {
	cfg        *config.Config
	store      *TokenStore
	httpClient *GrokHTTPClient
}

func NewGrokAuth(cfg *config.Config, store *TokenStore) *GrokAuth {
	return &GrokAuth{
		cfg:        cfg,
		store:      store,
		httpClient: NewGrokHTTPClient(cfg, ""),
	}
}

// CheckRateLimits asks Grok how many queries token has left for model and
// persists the answer. It returns -1 when the count is unknown.
func (g *GrokAuth) CheckRateLimits(ctx context.Context, token GrokTokenStorage, model string) (int, error) {
	modelCfg, ok := GetGrokModelConfig(model)
	if !ok {
		return -1, fmt.Errorf("grok auth: unknown model %q", model)
	}

	body, err := json.Marshal(map[string]any{
		"requestKind": "DEFAULT",
		"modelName":   modelCfg.RateLimitModel,
	})
	if err != nil {
		return -1, fmt.Errorf("grok auth: encode rate-limit body: %w", err)
	}

	headers := BuildHeaders(g.cfg, token.SSOToken, token.CFClearance, HeaderOptions{Path: RateLimitPath})
	resp, err := g.httpClient.Post(ctx, Endpoint(g.cfg, RateLimitPath), headers, body)
	if err != nil {
		return -1, err
	}
	if resp.Body != nil {
		defer resp.Body.Close()
	}

	data := resp.Bytes()
	if resp.StatusCode != http.StatusOK {
		if g.store != nil {
			if errMark := g.store.MarkFailure(token.SSOToken, resp.StatusCode, "rate-limit check"); errMark != nil {
				log.Warnf("grok auth: record rate-limit check failure: %v", errMark)
			}
		}
		log.Warnf("grok auth: rate-limit check failed (status=%d token=%s model=%s): %s", resp.StatusCode, MaskToken(token.SSOToken), model, summarizeBody(data))
		return -1, fmt.Errorf("grok auth: rate-limit check failed with status %d", resp.StatusCode)
	}

	var remaining int
	if modelCfg.RequiresSuper || strings.Contains(modelCfg.RateLimitModel, "heavy") {
		token.HeavyRemainingQueries = intOrUnknown(gjson.GetBytes(data, "remainingQueries"))
		remaining = token.HeavyRemainingQueries
	} else {
		token.RemainingQueries = intOrUnknown(gjson.GetBytes(data, "remainingTokens"))
		remaining = token.RemainingQueries
	}
	if g.store != nil {
		if err := g.store.UpdateLimits(token); err != nil {
			return remaining, err
		}
	}

	log.Debugf("grok auth: rate-limit refresh ok (model=%s token=%s remaining=%d heavy=%d)", model, MaskToken(token.SSOToken), token.RemainingQueries, token.HeavyRemainingQueries)
	return remaining, nil
}

func intOrUnknown(v gjson.Result) int {
	if !v.Exists() {
		return -1
	}
	return int(v.Int())
}

// MaskToken hides sensitive portions of tokens for logging.
func MaskToken(token string) string {
	if len(token) <= 8 {
		return token
	}
	return fmt.Sprintf("%s****%s", token[:4], token[len(token)-4:])
}

func summarizeBody(data []byte) string {
	body := strings.TrimSpace(string(data))
	if len(body) > 200 {
		return body[:200] + "..."
	}
	return body
}
