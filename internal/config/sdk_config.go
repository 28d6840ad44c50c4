// Package config provides configuration management for the Grok gateway.
// It handles loading and parsing YAML or TOML configuration files, applies
// environment overrides, and exposes the settings for the HTTP surface,
// logging, the credential store and the upstream Grok client.
package config

import (
	"strings"
)

// SDKConfig holds the settings consumed by the OpenAI-compatible HTTP surface.
type SDKConfig struct {
	// ProxyURL is the URL of an optional proxy server to use for outbound requests.
	// A grok.proxy-url value takes precedence for upstream traffic.
	ProxyURL string `yaml:"proxy-url" toml:"proxy-url" json:"proxy-url"`

	// APIKeys is a list of keys for authenticating clients to this gateway.
	APIKeys []string `yaml:"api-keys" toml:"api-keys" json:"api-keys"`

	// AllowAnonymousAccess lets requests through when no API key is configured.
	// Default is false: without keys every protected request is rejected.
	AllowAnonymousAccess bool `yaml:"allow-anonymous-access" toml:"allow-anonymous-access" json:"allow-anonymous-access"`

	// Streaming configures server-side streaming behavior.
	Streaming StreamingConfig `yaml:"streaming" toml:"streaming" json:"streaming"`
}

// HasAPIKeys reports whether at least one non-blank client key is configured.
func (c *SDKConfig) HasAPIKeys() bool {
	if c == nil {
		return false
	}
	for _, key := range c.APIKeys {
		if strings.TrimSpace(key) != "" {
			return true
		}
	}
	return false
}

// MatchAPIKey reports whether the presented key equals one of the configured keys.
func (c *SDKConfig) MatchAPIKey(presented string) bool {
	if c == nil || presented == "" {
		return false
	}
	for _, key := range c.APIKeys {
		if key = strings.TrimSpace(key); key != "" && key == presented {
			return true
		}
	}
	return false
}

// StreamingConfig holds server streaming behavior configuration.
type StreamingConfig struct {
	// DisableProxyBuffering controls the "X-Accel-Buffering: no" header on SSE responses.
	// The header is sent unless this is explicitly set to false.
	DisableProxyBuffering *bool `yaml:"disable-proxy-buffering,omitempty" toml:"disable-proxy-buffering,omitempty" json:"disable-proxy-buffering,omitempty"`
}

// DisableProxyBufferingValue returns the effective proxy buffering toggle (default true).
func (s StreamingConfig) DisableProxyBufferingValue() bool {
	if s.DisableProxyBuffering == nil {
		return true
	}
	return *s.DisableProxyBuffering
}
