// Package watcher reloads the configuration file when it changes on disk and
// hands the new snapshot to the running server.
package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/router-for-me/grok2api/internal/config"
	log "github.com/sirupsen/logrus"
)

const defaultDebounce = 150 * time.Millisecond

// Watcher watches one config file. Editors often replace files through a
// rename, so the parent directory is watched and events are filtered by name.
type Watcher struct {
	configPath string
	reload     func(*config.Config)
	fs         *fsnotify.Watcher
	debounce   time.Duration

	mu       sync.Mutex
	lastHash string
	timer    *time.Timer
}

// NewWatcher creates a watcher for configPath. reload receives each
// successfully parsed configuration whose content differs from the last one.
func NewWatcher(configPath string, reload func(*config.Config)) (*Watcher, error) {
	abs, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("watcher: resolve %s: %w", configPath, err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: %w", err)
	}
	if err = fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watcher: watch %s: %w", filepath.Dir(abs), err)
	}
	w := &Watcher{
		configPath: abs,
		reload:     reload,
		fs:         fsw,
		debounce:   defaultDebounce,
	}
	w.lastHash, _ = hashFile(abs)
	return w, nil
}

// Start processes file events until ctx is done, then releases the watcher.
func (w *Watcher) Start(ctx context.Context) {
	go func() {
		defer func() {
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mu.Unlock()
			_ = w.fs.Close()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.fs.Events:
				if !ok {
					return
				}
				w.handleEvent(event)
			case errWatch, ok := <-w.fs.Errors:
				if !ok {
					return
				}
				log.Errorf("config watcher error: %v", errWatch)
			}
		}
	}()
	log.Debugf("watching %s for changes", w.configPath)
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.configPath {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reloadConfig)
}

func (w *Watcher) reloadConfig() {
	hash, err := hashFile(w.configPath)
	if err != nil {
		log.Warnf("config file %s unreadable, keeping current configuration: %v", w.configPath, err)
		return
	}
	w.mu.Lock()
	unchanged := hash == w.lastHash
	w.mu.Unlock()
	if unchanged {
		log.Debug("config content unchanged, skipping reload")
		return
	}

	cfg, err := config.LoadConfig(w.configPath)
	if err != nil {
		log.Errorf("failed to reload config, keeping current configuration: %v", err)
		return
	}
	w.mu.Lock()
	w.lastHash = hash
	w.mu.Unlock()

	log.Infof("config file changed, reloading %s", w.configPath)
	if w.reload != nil {
		w.reload(cfg)
	}
}

func hashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
