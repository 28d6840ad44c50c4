package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/router-for-me/grok2api/internal/api"
	grokauth "github.com/router-for-me/grok2api/internal/auth/grok"
	"github.com/router-for-me/grok2api/internal/config"
	"github.com/router-for-me/grok2api/internal/runtime/executor"
	"github.com/router-for-me/grok2api/internal/watcher"
	log "github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

// StartService runs the API server until SIGINT or SIGTERM. When configPath
// names an existing file it is watched and reloads are applied live.
func StartService(cfg *config.Config, configPath, version string) error {
	store, err := grokauth.OpenTokenStore(cfg.AuthDir)
	if err != nil {
		return fmt.Errorf("open token store: %w", err)
	}
	normal, super := store.Count()
	if normal+super == 0 {
		log.Warn("no SSO tokens configured; run with -grok-login to add one")
	} else {
		log.Infof("loaded %d normal and %d super SSO token(s) from %s", normal, super, store.Path())
	}

	exec := executor.NewGrokExecutor(cfg, store)
	server := api.NewServer(cfg, exec, version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if configPath != "" {
		if _, errStat := os.Stat(configPath); errStat == nil {
			w, errWatch := watcher.NewWatcher(configPath, func(next *config.Config) {
				if errReload := store.Reload(); errReload != nil {
					log.Warnf("failed to reload token store: %v", errReload)
				}
				server.UpdateClients(next)
			})
			if errWatch != nil {
				log.Warnf("config hot reload disabled: %v", errWatch)
			} else {
				w.Start(ctx)
			}
		}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err = <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err = server.Stop(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errClose := exec.Close(shutdownCtx); errClose != nil {
		log.Warnf("rate-limit refreshes still running at shutdown: %v", errClose)
	}
	log.Info("server stopped")
	return nil
}
