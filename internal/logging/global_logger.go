package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	logFileName      = "app.log"
	logMaxSizeMB     = 10
	logMaxBackups    = 5
	logMaxAgeDays    = 0
	timestampLayout  = "2006-01-02 15:04:05"
	defaultCallerPad = "-"
)

var (
	setupOnce  sync.Once
	outputMu   sync.Mutex
	fileWriter *lumberjack.Logger
)

// LogFormatter renders "[time] [level] [file:line] message key=value ...".
type LogFormatter struct{}

// Format implements logrus.Formatter.
func (m *LogFormatter) Format(entry *log.Entry) ([]byte, error) {
	var b *bytes.Buffer
	if entry.Buffer != nil {
		b = entry.Buffer
	} else {
		b = &bytes.Buffer{}
	}

	caller := defaultCallerPad
	if entry.HasCaller() {
		caller = fmt.Sprintf("%s:%d", filepath.Base(entry.Caller.File), entry.Caller.Line)
	}

	fmt.Fprintf(b, "[%s] [%s] [%s] %s", entry.Time.Format(timestampLayout), entry.Level, caller, strings.TrimRight(entry.Message, "\n"))

	if len(entry.Data) > 0 {
		keys := make([]string, 0, len(entry.Data))
		for k := range entry.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(b, " %s=%v", k, entry.Data[k])
		}
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

// SetupBaseLogger installs the formatter and caller reporting on the standard logger.
func SetupBaseLogger() {
	setupOnce.Do(func() {
		log.SetOutput(os.Stdout)
		log.SetReportCaller(true)
		log.SetFormatter(&LogFormatter{})
	})
}

// ConfigureLogOutput routes the standard logger to stdout and, when toFile is
// set, to a rotating file under logDir as well. Calling it again replaces the
// previous file sink.
func ConfigureLogOutput(toFile bool, logDir string) error {
	outputMu.Lock()
	defer outputMu.Unlock()

	if fileWriter != nil {
		if err := fileWriter.Close(); err != nil {
			log.Warnf("logging: close previous log file: %v", err)
		}
		fileWriter = nil
	}

	if !toFile {
		log.SetOutput(os.Stdout)
		return nil
	}

	if strings.TrimSpace(logDir) == "" {
		logDir = "logs"
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("logging: create log directory: %w", err)
	}

	fileWriter = &lumberjack.Logger{
		Filename:   filepath.Join(logDir, logFileName),
		MaxSize:    logMaxSizeMB,
		MaxBackups: logMaxBackups,
		MaxAge:     logMaxAgeDays,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, fileWriter))
	return nil
}

// CloseLogOutput flushes and closes the file sink, if any.
func CloseLogOutput() {
	outputMu.Lock()
	defer outputMu.Unlock()
	if fileWriter != nil {
		_ = fileWriter.Close()
		fileWriter = nil
	}
	log.SetOutput(os.Stdout)
}

// ParseLogLevel maps a configured level name onto a logrus level.
func ParseLogLevel(level string) log.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "verbose":
		return log.DebugLevel
	case "info":
		return log.InfoLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	case "quiet", "silent":
		return log.FatalLevel
	default:
		return log.InfoLevel
	}
}

// SetLogLevel applies the named level to the standard logger.
func SetLogLevel(level string) {
	log.SetLevel(ParseLogLevel(level))
}
