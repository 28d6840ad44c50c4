package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/router-for-me/grok2api/internal/config"
)

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, "port: 8000\napi-keys: [\"a\"]\n")

	got := make(chan *config.Config, 4)
	w, err := NewWatcher(path, func(cfg *config.Config) { got <- cfg })
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	w.debounce = 20 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	writeConfig(t, path, "port: 8000\napi-keys: [\"b\"]\n")

	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-got:
			if len(cfg.APIKeys) == 1 && cfg.APIKeys[0] == "b" {
				return
			}
		case <-deadline:
			t.Fatal("config was not reloaded")
		}
	}
}

func TestWatcher_SkipsUnchangedAndInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, "port: 8000\n")

	calls := 0
	w, err := NewWatcher(path, func(*config.Config) { calls++ })
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer func() { _ = w.fs.Close() }()

	w.reloadConfig()
	if calls != 0 {
		t.Fatalf("unchanged content triggered %d reloads", calls)
	}

	writeConfig(t, path, "port: [not, a, number\n")
	w.reloadConfig()
	if calls != 0 {
		t.Fatalf("invalid content triggered %d reloads", calls)
	}

	writeConfig(t, path, "port: 9000\n")
	w.reloadConfig()
	if calls != 1 {
		t.Fatalf("valid change triggered %d reloads, want 1", calls)
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, "port: 8000\n")

	w, err := NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer func() { _ = w.fs.Close() }()

	w.handleEvent(fsnotifyWrite(filepath.Join(dir, "other.yaml")))
	if w.timer != nil {
		t.Fatal("event for another file scheduled a reload")
	}
	w.handleEvent(fsnotifyWrite(path))
	if w.timer == nil {
		t.Fatal("event for the config file did not schedule a reload")
	}
	w.timer.Stop()
}

func fsnotifyWrite(name string) fsnotify.Event {
	return fsnotify.Event{Name: name, Op: fsnotify.Write}
}
