package chat_completions

import (
	"time"

	"github.com/router-for-me/grok2api/internal/config"
	log "github.com/sirupsen/logrus"
)

const (
	// DefaultStreamModel names single-shot results whose final payload reports no model.
	DefaultStreamModel = "grok-4-mini-thinking-tahoe"
	// DefaultVideoModel names video results when the caller supplied no model.
	DefaultVideoModel = "grok-imagine-0.9"

	defaultCheckInterval = time.Second
)

// Options is the read-only snapshot one response lifecycle runs with.
type Options struct {
	config.StreamSettings

	// Model is the caller-requested model, used until the upstream reports one.
	Model string
	// Logger carries request-scoped fields. Nil falls back to the standard logger.
	Logger log.FieldLogger
	// CheckInterval is how often deadlines are checked while no line arrives.
	CheckInterval time.Duration

	now func() time.Time
}

// NewOptions snapshots the stream settings of cfg for one request.
func NewOptions(cfg *config.Config, model string, logger log.FieldLogger) Options {
	var settings config.StreamSettings
	if cfg != nil {
		settings = cfg.StreamSettings()
	} else {
		settings = config.Default().StreamSettings()
	}
	return Options{StreamSettings: settings, Model: model, Logger: logger}
}

func (o Options) clock() func() time.Time {
	if o.now != nil {
		return o.now
	}
	return time.Now
}

func (o Options) logger() log.FieldLogger {
	if o.Logger != nil {
		return o.Logger
	}
	return log.StandardLogger()
}

func (o Options) checkInterval() time.Duration {
	if o.CheckInterval > 0 {
		return o.CheckInterval
	}
	return defaultCheckInterval
}

func (o Options) filter() tokenFilter {
	return tokenFilter{tags: o.FilteredTags, showThinking: o.ShowThinking}
}
