// Package logger provides structured logging for all services, backed by
// logrus. Services receive a *Logger and may derive component-scoped child
// loggers with WithField/WithFields.
package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// LoggingConfig controls the behaviour of a Logger created with New.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string `yaml:"level"`
	// Format is "json" or "text". Defaults to text.
	Format string `yaml:"format"`
	// Output is "stdout", "stderr" or "file".
	Output string `yaml:"output"`
	// FilePrefix is the log file path prefix when Output is "file"; the
	// current date and a .log suffix are appended.
	FilePrefix string `yaml:"file_prefix"`
}

// Logger wraps a logrus entry so call sites can chain contextual fields
// without importing logrus directly.
type Logger struct {
	*logrus.Entry
}

// New builds a Logger from cfg. Invalid settings fall back to sane defaults
// rather than failing startup.
func New(cfg LoggingConfig) *Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	switch cfg.Format {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	default:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	}

	l.SetOutput(resolveOutput(cfg))

	return &Logger{Entry: logrus.NewEntry(l)}
}

// NewDefault returns an info-level text logger tagged with the component
// name. Services use it when constructed without an explicit logger.
func NewDefault(component string) *Logger {
	log := New(LoggingConfig{Level: "info", Format: "text", Output: "stdout"})
	return log.WithField("component", component)
}

func resolveOutput(cfg LoggingConfig) io.Writer {
	switch cfg.Output {
	case "stderr":
		return os.Stderr
	case "file":
		if cfg.FilePrefix == "" {
			return os.Stdout
		}
		path := fmt.Sprintf("%s-%s.log", cfg.FilePrefix, time.Now().Format("2006-01-02"))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return os.Stdout
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return os.Stdout
		}
		return f
	default:
		return os.Stdout
	}
}

// WithField returns a child logger carrying the given field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{Entry: l.Entry.WithField(key, value)}
}

// WithFields returns a child logger carrying all given fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{Entry: l.Entry.WithFields(logrus.Fields(fields))}
}

// WithError returns a child logger carrying the error under the standard
// "error" key.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{Entry: l.Entry.WithError(err)}
}

// WithContext returns a child logger bound to ctx.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	return &Logger{Entry: l.Entry.WithContext(ctx)}
}
