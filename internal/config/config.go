package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort                       = 8000
	DefaultLogLevel                   = "info"
	DefaultLogDir                     = "logs"
	DefaultAuthDir                    = "data"
	DefaultBaseURL                    = "https://grok.com"
	DefaultAssetBaseURL               = "https://assets.grok.com"
	DefaultStreamChunkTimeout         = 120
	DefaultStreamFirstResponseTimeout = 30
	DefaultStreamTotalTimeout         = 600
	DefaultRequestTimeout             = 120
	DefaultScannerBufferSize          = 20_971_520
)

// DefaultFilteredTags lists the upstream markup fragments dropped from streamed tokens.
var DefaultFilteredTags = []string{"xaiartifact", "xai:tool_usage_card", "grok:render"}

// Config represents the gateway configuration, loaded from a YAML or TOML file.
type Config struct {
	SDKConfig `yaml:",inline" json:"-"`

	// Host is the interface to bind. Empty binds all interfaces.
	Host string `yaml:"host" toml:"host" json:"host"`

	// Port is the HTTP listen port.
	Port int `yaml:"port" toml:"port" json:"port"`

	// Debug forces debug level logging and gin debug mode.
	Debug bool `yaml:"debug" toml:"debug" json:"debug"`

	// LogLevel is one of debug, info, warn, error, quiet.
	LogLevel string `yaml:"log-level" toml:"log-level" json:"log-level"`

	// LoggingToFile mirrors logs into a rotating file under LogDir.
	LoggingToFile bool `yaml:"logging-to-file" toml:"logging-to-file" json:"logging-to-file"`

	LogDir string `yaml:"log-dir" toml:"log-dir" json:"log-dir"`

	// AuthDir holds token.json.
	AuthDir string `yaml:"auth-dir" toml:"auth-dir" json:"auth-dir"`

	Metrics MetricsConfig `yaml:"metrics" toml:"metrics" json:"metrics"`

	// Grok configures the upstream client and the response translator.
	Grok GrokConfig `yaml:"grok" toml:"grok" json:"grok"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enable *bool `yaml:"enable,omitempty" toml:"enable,omitempty" json:"enable,omitempty"`
}

// EnabledValue returns whether metrics are exposed (default true).
func (m MetricsConfig) EnabledValue() bool {
	if m.Enable == nil {
		return true
	}
	return *m.Enable
}

// GrokConfig holds upstream and translation settings.
type GrokConfig struct {
	BaseURL        string `yaml:"base-url" toml:"base-url" json:"base-url"`
	AssetBaseURL   string `yaml:"asset-base-url" toml:"asset-base-url" json:"asset-base-url"`
	ProxyURL       string `yaml:"proxy-url" toml:"proxy-url" json:"proxy-url"`
	CFClearance    string `yaml:"cf-clearance" toml:"cf-clearance" json:"cf-clearance"`
	AcceptLanguage string `yaml:"accept-language" toml:"accept-language" json:"accept-language"`

	// FixedStatsigID is sent as x-statsig-id when DynamicStatsig is false.
	FixedStatsigID string `yaml:"x-statsig-id" toml:"x-statsig-id" json:"x-statsig-id"`
	DynamicStatsig *bool  `yaml:"dynamic-statsig,omitempty" toml:"dynamic-statsig,omitempty" json:"dynamic-statsig,omitempty"`

	// Temporary asks Grok not to persist the conversation.
	Temporary *bool `yaml:"temporary,omitempty" toml:"temporary,omitempty" json:"temporary,omitempty"`

	// FilteredTags drops any token containing one of these substrings.
	// YAML accepts a list or a comma separated string; TOML takes an array.
	FilteredTags TagList `yaml:"filtered-tags" toml:"filtered-tags" json:"filtered-tags"`

	// ShowThinking surfaces reasoning wrapped in <think> markers.
	ShowThinking *bool `yaml:"show-thinking,omitempty" toml:"show-thinking,omitempty" json:"show-thinking,omitempty"`

	// Stream deadlines in seconds. A total timeout of 0 disables it.
	StreamChunkTimeoutSeconds         int `yaml:"stream-chunk-timeout" toml:"stream-chunk-timeout" json:"stream-chunk-timeout"`
	StreamFirstResponseTimeoutSeconds int `yaml:"stream-first-response-timeout" toml:"stream-first-response-timeout" json:"stream-first-response-timeout"`
	StreamTotalTimeoutSeconds         int `yaml:"stream-total-timeout" toml:"stream-total-timeout" json:"stream-total-timeout"`

	RequestTimeoutSeconds int `yaml:"request-timeout" toml:"request-timeout" json:"request-timeout"`

	// ScannerBufferSize caps a single upstream line in bytes.
	ScannerBufferSize int `yaml:"scanner-buffer-size" toml:"scanner-buffer-size" json:"scanner-buffer-size"`
}

// ShowThinkingValue returns the effective show-thinking toggle (default true).
func (g GrokConfig) ShowThinkingValue() bool {
	if g.ShowThinking == nil {
		return true
	}
	return *g.ShowThinking
}

// TemporaryValue returns the effective temporary-conversation toggle (default true).
func (g GrokConfig) TemporaryValue() bool {
	if g.Temporary == nil {
		return true
	}
	return *g.Temporary
}

// DynamicStatsigValue returns whether a fresh x-statsig-id is generated per request (default true).
func (g GrokConfig) DynamicStatsigValue() bool {
	if g.DynamicStatsig == nil {
		return true
	}
	return *g.DynamicStatsig
}

// EffectiveProxyURL returns the proxy used for upstream traffic.
func (c *Config) EffectiveProxyURL() string {
	if c == nil {
		return ""
	}
	if p := strings.TrimSpace(c.Grok.ProxyURL); p != "" {
		return p
	}
	return strings.TrimSpace(c.ProxyURL)
}

// StreamSettings is the read-only view of the translator settings captured when a
// request is dispatched. Later config reloads never affect a captured value.
type StreamSettings struct {
	FilteredTags         []string
	ShowThinking         bool
	FirstResponseTimeout time.Duration
	ChunkTimeout         time.Duration
	TotalTimeout         time.Duration
	AssetBaseURL         string
}

// StreamSettings snapshots the translator settings for one request.
func (c *Config) StreamSettings() StreamSettings {
	if c == nil {
		c = Default()
	}
	g := c.Grok
	assets := strings.TrimRight(strings.TrimSpace(g.AssetBaseURL), "/")
	if assets == "" {
		assets = DefaultAssetBaseURL
	}
	return StreamSettings{
		FilteredTags:         append([]string(nil), g.FilteredTags...),
		ShowThinking:         g.ShowThinkingValue(),
		FirstResponseTimeout: seconds(g.StreamFirstResponseTimeoutSeconds),
		ChunkTimeout:         seconds(g.StreamChunkTimeoutSeconds),
		TotalTimeout:         seconds(g.StreamTotalTimeoutSeconds),
		AssetBaseURL:         assets,
	}
}

func seconds(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

// TagList is a list of filtered substrings that also decodes from "a,b,c".
type TagList []string

// UnmarshalYAML accepts either a sequence or a comma separated scalar.
func (t *TagList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*t = splitTags(value.Value)
		return nil
	}
	var items []string
	if err := value.Decode(&items); err != nil {
		return err
	}
	*t = cleanTags(items)
	return nil
}

func splitTags(raw string) TagList {
	return cleanTags(strings.Split(raw, ","))
}

func cleanTags(items []string) TagList {
	out := make(TagList, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Default returns a configuration populated with every default value.
func Default() *Config {
	return &Config{
		Port:     DefaultPort,
		LogLevel: DefaultLogLevel,
		LogDir:   DefaultLogDir,
		AuthDir:  DefaultAuthDir,
		Grok: GrokConfig{
			BaseURL:                           DefaultBaseURL,
			AssetBaseURL:                      DefaultAssetBaseURL,
			FilteredTags:                      append(TagList(nil), DefaultFilteredTags...),
			StreamChunkTimeoutSeconds:         DefaultStreamChunkTimeout,
			StreamFirstResponseTimeoutSeconds: DefaultStreamFirstResponseTimeout,
			StreamTotalTimeoutSeconds:         DefaultStreamTotalTimeout,
			RequestTimeoutSeconds:             DefaultRequestTimeout,
			ScannerBufferSize:                 DefaultScannerBufferSize,
		},
	}
}

// LoadConfig reads the configuration file at path. The file must exist.
func LoadConfig(path string) (*Config, error) {
	return LoadConfigOptional(path, false)
}

// LoadConfigOptional reads the configuration at path. When optional is true a
// missing file yields the defaults instead of an error. Environment overrides
// are applied in both cases.
func LoadConfigOptional(path string, optional bool) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err = decodeConfig(path, data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	case optional && errors.Is(err, os.ErrNotExist):
		log.Debugf("config file %s not found, using defaults", path)
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.normalize()
	return cfg, nil
}

func decodeConfig(path string, data []byte, cfg *Config) error {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return toml.Unmarshal(data, cfg)
	default:
		return yaml.Unmarshal(data, cfg)
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("GROK2API_HOST")); v != "" {
		cfg.Host = v
	}
	if v, ok := positiveEnvInt("GROK2API_PORT"); ok {
		cfg.Port = v
	}
	if v := strings.TrimSpace(os.Getenv("API_KEY")); v != "" && !cfg.MatchAPIKey(v) {
		cfg.APIKeys = append(cfg.APIKeys, v)
	}
	if v, ok := envBool("ALLOW_ANONYMOUS_ACCESS"); ok {
		cfg.AllowAnonymousAccess = v
	}
	if v, ok := envBool("STREAMING_DISABLE_PROXY_BUFFERING"); ok {
		cfg.Streaming.DisableProxyBuffering = &v
	}
	if v := strings.TrimSpace(os.Getenv("PROXY_URL")); v != "" {
		cfg.Grok.ProxyURL = v
	}
	if v := strings.TrimSpace(os.Getenv("CF_CLEARANCE")); v != "" {
		cfg.Grok.CFClearance = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		cfg.LogLevel = v
	}
	if v, ok := envBool("SHOW_THINKING"); ok {
		cfg.Grok.ShowThinking = &v
	}
	if v, ok := positiveEnvInt("STREAM_CHUNK_TIMEOUT"); ok {
		cfg.Grok.StreamChunkTimeoutSeconds = v
	}
	if v, ok := positiveEnvInt("STREAM_FIRST_RESPONSE_TIMEOUT"); ok {
		cfg.Grok.StreamFirstResponseTimeoutSeconds = v
	}
	if raw := strings.TrimSpace(os.Getenv("STREAM_TOTAL_TIMEOUT")); raw != "" {
		// 0 is meaningful here: it disables the total deadline.
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			cfg.Grok.StreamTotalTimeoutSeconds = v
		}
	}
}

func positiveEnvInt(key string) (int, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		log.Warnf("config: ignoring invalid %s=%q", key, raw)
		return 0, false
	}
	return v, true
}

func envBool(key string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "y", "on":
		return true, true
	case "0", "false", "no", "n", "off":
		return false, true
	}
	return false, false
}

func (c *Config) normalize() {
	if c.Port <= 0 {
		c.Port = DefaultPort
	}
	if strings.TrimSpace(c.LogDir) == "" {
		c.LogDir = DefaultLogDir
	}
	if strings.TrimSpace(c.AuthDir) == "" {
		c.AuthDir = DefaultAuthDir
	}
	if strings.TrimSpace(c.Grok.BaseURL) == "" {
		c.Grok.BaseURL = DefaultBaseURL
	}
	c.Grok.BaseURL = strings.TrimRight(c.Grok.BaseURL, "/")
	if strings.TrimSpace(c.Grok.AssetBaseURL) == "" {
		c.Grok.AssetBaseURL = DefaultAssetBaseURL
	}
	c.Grok.AssetBaseURL = strings.TrimRight(c.Grok.AssetBaseURL, "/")
	if c.Grok.StreamChunkTimeoutSeconds <= 0 {
		c.Grok.StreamChunkTimeoutSeconds = DefaultStreamChunkTimeout
	}
	if c.Grok.StreamFirstResponseTimeoutSeconds <= 0 {
		c.Grok.StreamFirstResponseTimeoutSeconds = DefaultStreamFirstResponseTimeout
	}
	if c.Grok.StreamTotalTimeoutSeconds < 0 {
		c.Grok.StreamTotalTimeoutSeconds = DefaultStreamTotalTimeout
	}
	if c.Grok.RequestTimeoutSeconds <= 0 {
		c.Grok.RequestTimeoutSeconds = DefaultRequestTimeout
	}
	if c.Grok.ScannerBufferSize <= 0 {
		c.Grok.ScannerBufferSize = DefaultScannerBufferSize
	}
	c.ProxyURL = NormalizeProxyURL(c.ProxyURL)
	c.Grok.ProxyURL = NormalizeProxyURL(c.Grok.ProxyURL)
	c.Grok.CFClearance = NormalizeCFClearance(c.Grok.CFClearance)
}

// NormalizeProxyURL rewrites socks5:// to socks5h:// so hostnames resolve through the proxy.
func NormalizeProxyURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(strings.ToLower(raw), "socks5://") {
		return "socks5h://" + raw[len("socks5://"):]
	}
	return raw
}

// NormalizeCFClearance ensures a non-empty value carries the cf_clearance= cookie name.
func NormalizeCFClearance(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "cf_clearance=") {
		return raw
	}
	return "cf_clearance=" + raw
}
