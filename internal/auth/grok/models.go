package grok

import (
	"sort"
	"time"
)

// GrokModelConfig maps a public model id onto the upstream model and mode.
type GrokModelConfig struct {
	GrokModel      string
	ModelMode      string
	RequiresSuper  bool
	ContextWindow  int
	MaxOutput      int
	RateLimitModel string
	IsVideoModel   bool
}

var GrokModels = map[string]GrokModelConfig{
	"grok-3-fast": {
		GrokModel:     "grok-3",
		ModelMode:     "MODEL_MODE_FAST",
		ContextWindow: 131072,
		MaxOutput:     8192,
	},
	"grok-4-fast": {
		GrokModel:     "grok-4-mini-thinking-tahoe",
		ModelMode:     "MODEL_MODE_GROK_4_MINI_THINKING",
		ContextWindow: 131072,
		MaxOutput:     8192,
	},
	"grok-4-fast-expert": {
		GrokModel:     "grok-4-mini-thinking-tahoe",
		ModelMode:     "MODEL_MODE_EXPERT",
		ContextWindow: 131072,
		MaxOutput:     32768,
	},
	"grok-4-expert": {
		GrokModel:     "grok-4",
		ModelMode:     "MODEL_MODE_EXPERT",
		ContextWindow: 131072,
		MaxOutput:     32768,
	},
	"grok-4-heavy": {
		GrokModel:     "grok-4-heavy",
		ModelMode:     "MODEL_MODE_HEAVY",
		RequiresSuper: true,
		ContextWindow: 131072,
		MaxOutput:     65536,
	},
	"grok-4.1": {
		GrokModel:     "grok-4-1-non-thinking-w-tool",
		ModelMode:     "MODEL_MODE_GROK_4_1",
		ContextWindow: 131072,
		MaxOutput:     8192,
	},
	"grok-4.1-thinking": {
		GrokModel:     "grok-4-1-thinking-1108b",
		ModelMode:     "MODEL_MODE_AUTO",
		ContextWindow: 131072,
		MaxOutput:     32768,
	},
	"grok-imagine-0.9": {
		GrokModel:      "grok-3",
		ModelMode:      "MODEL_MODE_FAST",
		ContextWindow:  131072,
		MaxOutput:      8192,
		RateLimitModel: "grok-3",
		IsVideoModel:   true,
	},
}

// ModelInfo is one entry of the OpenAI model list.
type ModelInfo struct {
	ID                  string `json:"id"`
	Object              string `json:"object"`
	Created             int64  `json:"created"`
	OwnedBy             string `json:"owned_by"`
	ContextLength       int    `json:"context_length,omitempty"`
	MaxCompletionTokens int    `json:"max_completion_tokens,omitempty"`
}

// GetGrokModels lists the served models sorted by id.
func GetGrokModels() []ModelInfo {
	now := time.Now().Unix()
	models := make([]ModelInfo, 0, len(GrokModels))
	for id, cfg := range GrokModels {
		models = append(models, ModelInfo{
			ID:                  id,
			Object:              "model",
			Created:             now,
			OwnedBy:             "xai",
			ContextLength:       cfg.ContextWindow,
			MaxCompletionTokens: cfg.MaxOutput,
		})
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models
}

func GetGrokModelConfig(model string) (GrokModelConfig, bool) {
	cfg, ok := GrokModels[model]
	if !ok {
		return GrokModelConfig{}, false
	}
	if cfg.RateLimitModel == "" {
		cfg.RateLimitModel = cfg.GrokModel
	}
	return cfg, true
}

func IsVideoModel(model string) bool {
	cfg, ok := GetGrokModelConfig(model)
	return ok && cfg.IsVideoModel
}
