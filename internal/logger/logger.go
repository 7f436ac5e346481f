// Package logger provides structured logging using go.uber.org/zap.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the configuration for the logger.
type Config struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, text
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, or file path
}

// Logger wraps zap.Logger with helpers for the fields the bridge logs on
// most lines.
type Logger struct {
	zap *zap.Logger
}

var (
	defaultLogger     *Logger
	defaultLoggerOnce sync.Once
)

// Default returns the process-wide logger: info level, text format on
// stderr. stdout stays free for command output.
func Default() *Logger {
	defaultLoggerOnce.Do(func() {
		l, err := New(Config{Level: "info", Format: detectFormat(), OutputPath: "stderr"})
		if err != nil {
			l = &Logger{zap: zap.NewNop()}
		}
		defaultLogger = l
	})
	return defaultLogger
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return &Logger{zap: zap.NewNop()}
}

// New creates a Logger from cfg. An unknown level falls back to info; an
// unknown format is an error.
func New(cfg Config) (*Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var ws zapcore.WriteSyncer
	switch cfg.OutputPath {
	case "", "stderr":
		ws = zapcore.AddSync(os.Stderr)
	case "stdout":
		ws = zapcore.AddSync(os.Stdout)
	default:
		f, err := os.OpenFile(cfg.OutputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("logger: open %s: %w", cfg.OutputPath, err)
		}
		ws = zapcore.AddSync(f)
	}
	return newWithSink(cfg.Format, level, ws)
}

// NewWriter creates a Logger writing to w. Used by tests and the CLI's
// verbose mode.
func NewWriter(w io.Writer, format, level string) (*Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}
	return newWithSink(format, lvl, zapcore.AddSync(w))
}

func newWithSink(format string, level zapcore.Level, ws zapcore.WriteSyncer) (*Logger, error) {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "timestamp"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeLevel = zapcore.LowercaseLevelEncoder

	var encoder zapcore.Encoder
	switch format {
	case "", "json":
		encoder = zapcore.NewJSONEncoder(enc)
	case "text", "console":
		enc.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(enc)
	default:
		return nil, fmt.Errorf("logger: unknown format %q", format)
	}

	core := zapcore.NewCore(encoder, ws, level)
	return &Logger{zap: zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))}, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	var l zapcore.Level
	err := l.UnmarshalText([]byte(level))
	return l, err
}

// detectFormat picks json under a service manager and text in a terminal.
func detectFormat() string {
	if os.Getenv("INVOCATION_ID") != "" || os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	return "text"
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error {
	return l.zap.Sync()
}

// WithFields returns a new Logger with the given fields added.
func (l *Logger) WithFields(fields ...zap.Field) *Logger {
	return &Logger{zap: l.zap.With(fields...)}
}

// WithError returns a new Logger with the error field added.
func (l *Logger) WithError(err error) *Logger {
	return l.WithFields(zap.Error(err))
}

// WithProvider returns a new Logger with the provider field added.
func (l *Logger) WithProvider(tag string) *Logger {
	return l.WithFields(zap.String("provider", tag))
}

// WithNodeID returns a new Logger with the node_id field added.
func (l *Logger) WithNodeID(id string) *Logger {
	return l.WithFields(zap.String("node_id", id))
}

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.zap.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.zap.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.zap.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.zap.Error(msg, fields...) }

// Zap returns the underlying zap.Logger for packages that take one.
func (l *Logger) Zap() *zap.Logger {
	return l.zap
}
