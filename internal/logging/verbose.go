package logging

import (
	"os"
	"strings"
	"sync/atomic"
)

var verboseEnabled atomic.Bool

func init() {
	if env := strings.ToLower(strings.TrimSpace(os.Getenv("VERBOSE_LOGGING"))); env != "" {
		switch env {
		case "1", "true", "yes", "y", "on":
			verboseEnabled.Store(true)
		case "0", "false", "no", "n", "off":
			verboseEnabled.Store(false)
		}
	}
}

// VerboseEnabled returns whether verbose logging is enabled.
// The executor uses it to gate per-line upstream tracing.
func VerboseEnabled() bool {
	return verboseEnabled.Load()
}

// SetVerboseEnabled updates the verbose logging toggle at runtime.
// It does not change the log level.
func SetVerboseEnabled(enabled bool) {
	verboseEnabled.Store(enabled)
}

// Snippet shortens b for log output.
func Snippet(b []byte, limit int) string {
	s := strings.TrimSpace(string(b))
	if limit > 0 && len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
