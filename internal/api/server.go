// Package api provides the HTTP API server for the Grok gateway. It wires the
// gin engine, middleware, bearer authentication and the OpenAI-compatible
// routes, and applies configuration reloads to every component.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/grok2api/internal/config"
	"github.com/router-for-me/grok2api/internal/logging"
	"github.com/router-for-me/grok2api/internal/metrics"
	"github.com/router-for-me/grok2api/sdk/api/handlers"
	"github.com/router-for-me/grok2api/sdk/api/handlers/openai"
	log "github.com/sirupsen/logrus"
)

const serviceName = "Grok2API"

// Executor is the upstream runner the server drives. It must accept
// configuration updates for hot reload.
type Executor interface {
	handlers.ChatExecutor
	UpdateConfig(cfg *config.Config)
}

// Server is the gateway's HTTP server.
type Server struct {
	// engine is the Gin web framework engine instance.
	engine *gin.Engine

	// server is the underlying HTTP server.
	server *http.Server

	// handlers contains the API handlers for processing requests.
	handlers *handlers.BaseAPIHandler

	executor Executor
	version  string

	// cfg provides race-safe config snapshots for middleware reads.
	cfg atomic.Pointer[config.Config]
}

// NewServer creates the engine, installs middleware and registers routes.
func NewServer(cfg *config.Config, exec Executor, version string) *Server {
	if cfg == nil {
		cfg = config.Default()
	}
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	metrics.SetMetricsEnabled(cfg.Metrics.EnabledValue())

	engine := gin.New()
	engine.Use(logging.GinLogrusLogger())
	engine.Use(logging.GinLogrusRecovery())
	engine.Use(metrics.PrometheusMiddleware())

	s := &Server{
		engine:   engine,
		handlers: handlers.NewBaseAPIHandlers(&cfg.SDKConfig, exec),
		executor: exec,
		version:  version,
	}
	s.cfg.Store(cfg)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:           engine,
		ReadHeaderTimeout: 30 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	openaiHandlers := openai.NewOpenAIAPIHandler(s.handlers)

	v1 := s.engine.Group("/v1")
	v1.Use(AuthMiddleware(s.getConfig))
	{
		v1.GET("/models", openaiHandlers.OpenAIModels)
		v1.POST("/chat/completions", openaiHandlers.ChatCompletions)
	}

	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/metrics", func(c *gin.Context) {
		if !metrics.IsMetricsEnabled() {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		logging.SkipGinRequestLogging(c)
		metrics.MetricsHandler()(c)
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	logging.SkipGinRequestLogging(c)
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": serviceName,
		"version": s.version,
	})
}

// Handler exposes the engine, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Start serves until Stop is called.
func (s *Server) Start() error {
	if s == nil || s.server == nil {
		return fmt.Errorf("failed to start HTTP server: server not initialized")
	}
	log.Infof("API server listening on %s", s.server.Addr)
	if errServe := s.server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %v", errServe)
	}
	return nil
}

// Stop gracefully shuts down the API server without interrupting any
// active connections.
func (s *Server) Stop(ctx context.Context) error {
	log.Debug("Stopping API server...")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %v", err)
	}
	log.Debug("API server stopped")
	return nil
}

// UpdateClients applies a reloaded configuration. Requests already running
// keep the snapshot they started with; the listen address is not changed.
func (s *Server) UpdateClients(cfg *config.Config) {
	if cfg == nil {
		return
	}
	oldCfg := s.cfg.Swap(cfg)

	if oldCfg == nil || oldCfg.LogLevel != cfg.LogLevel || oldCfg.Debug != cfg.Debug {
		level := cfg.LogLevel
		if cfg.Debug {
			level = "debug"
		}
		logging.SetLogLevel(level)
		log.Debugf("log level set to %s", level)
	}
	if oldCfg == nil || oldCfg.LoggingToFile != cfg.LoggingToFile || oldCfg.LogDir != cfg.LogDir {
		if err := logging.ConfigureLogOutput(cfg.LoggingToFile, cfg.LogDir); err != nil {
			log.Errorf("failed to reconfigure log output: %v", err)
		}
	}
	if oldCfg != nil && (oldCfg.Host != cfg.Host || oldCfg.Port != cfg.Port) {
		log.Warn("listen address changes take effect after a restart")
	}

	metrics.SetMetricsEnabled(cfg.Metrics.EnabledValue())
	s.handlers.UpdateClients(&cfg.SDKConfig)
	if s.executor != nil {
		s.executor.UpdateConfig(cfg)
	}
	log.Infof("configuration reloaded: %d api key(s), anonymous access %t", len(cfg.APIKeys), cfg.AllowAnonymousAccess)
}

func (s *Server) getConfig() *config.Config {
	if s == nil {
		return nil
	}
	return s.cfg.Load()
}

// AuthMiddleware enforces bearer authentication and fails closed: without
// configured keys every request is refused unless anonymous access is on.
func AuthMiddleware(getConfig func() *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		var cfg *config.Config
		if getConfig != nil {
			cfg = getConfig()
		}
		token := bearerToken(c.GetHeader("Authorization"))

		if cfg == nil || !cfg.HasAPIKeys() {
			if cfg != nil && cfg.AllowAnonymousAccess {
				logging.RequestLogger(c).Warn("auth: anonymous access is enabled")
				c.Next()
				return
			}
			logging.RequestLogger(c).Error("auth: no api key configured and anonymous access is disabled, refusing request")
			abortAuth(c, "服务未配置认证密钥，请联系管理员", "auth_not_configured")
			return
		}

		if token == "" {
			abortAuth(c, "缺少认证令牌", "missing_token")
			return
		}
		if !cfg.MatchAPIKey(token) {
			abortAuth(c, fmt.Sprintf("令牌无效，长度: %d", len(token)), "invalid_token")
			return
		}
		logging.RequestLogger(c).Debug("auth: token accepted")
		c.Next()
	}
}

func abortAuth(c *gin.Context, message, code string) {
	c.Header("WWW-Authenticate", "Bearer")
	handlers.WriteErrorBody(c, http.StatusUnauthorized, handlers.BuildCodedErrorBody(message, "authentication_error", code))
	c.Abort()
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
