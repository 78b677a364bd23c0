// Package logging provides the platform-wide structured logging interface and
// its zap-backed implementation.  Every component that requires logging must
// depend on the Logger interface defined here; direct use of go.uber.org/zap
// is forbidden outside this package so the underlying library can be swapped
// without touching engine logic.
//
// Initialisation order in cmd/*/main.go:
//
//  1. Parse configuration.
//  2. Call NewLogger(cfg) → store the result via logging.SetDefault.
//  3. Initialise all other components, injecting the Logger instance.
package logging

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the platform-wide structured logging contract.  All components
// receive a Logger via constructor injection so that implementations can be
// swapped (NewNopLogger in tests) without code changes.
type Logger interface {
	// Debug logs a message at DEBUG level.  High-cardinality entries disabled
	// in production by raising the level to INFO or above.
	Debug(msg string, fields ...Field)

	// Info logs a message at INFO level.  Routine operational events.
	Info(msg string, fields ...Field)

	// Warn logs a message at WARN level.  Recoverable abnormal conditions.
	Warn(msg string, fields ...Field)

	// Error logs a message at ERROR level.  Failures that affect a single
	// request or attempt but from which the process can continue.
	Error(msg string, fields ...Field)

	// Fatal logs a message at FATAL level and then calls os.Exit(1).
	// Reserve for catastrophic startup failures; never call in request paths.
	Fatal(msg string, fields ...Field)

	// With returns a child Logger that includes the supplied fields in every
	// subsequent entry.  The parent Logger is not mutated.
	With(fields ...Field) Logger

	// Named returns a child Logger whose name is appended to the parent's
	// name with a period separator (e.g., "rxmi" → "rxmi.orchestrator").
	Named(name string) Logger
}

// LogConfig carries the parameters required to construct a Logger.  It is
// populated from the application configuration via internal/config.
type LogConfig struct {
	// Level controls the minimum severity emitted: "debug", "info", "warn",
	// "error" (case-insensitive).  Defaults to "info".
	Level string `mapstructure:"level" yaml:"level" json:"level"`

	// Format selects the output encoding: "json" for aggregation pipelines,
	// "console" for human-readable local development output.  Defaults to "json".
	Format string `mapstructure:"format" yaml:"format" json:"format"`

	// OutputPaths is the list of URLs or file paths to write log entries to.
	// "stdout" and "stderr" are special values.  Defaults to ["stdout"].
	OutputPaths []string `mapstructure:"output_paths" yaml:"output_paths" json:"output_paths"`

	// ErrorOutputPaths is the list of paths for internal zap errors.
	// Defaults to ["stderr"].
	ErrorOutputPaths []string `mapstructure:"error_output_paths" yaml:"error_output_paths" json:"error_output_paths"`
}

// zapLogger wraps a *zap.Logger and satisfies the Logger interface.
type zapLogger struct {
	z *zap.Logger
}

// toZapFields converts a slice of Field values into zap.Field values without
// reflection for the common concrete types.
func toZapFields(fields []Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		switch v := f.Value.(type) {
		case string:
			out = append(out, zap.String(f.Key, v))
		case []string:
			out = append(out, zap.Strings(f.Key, v))
		case int:
			out = append(out, zap.Int(f.Key, v))
		case int64:
			out = append(out, zap.Int64(f.Key, v))
		case float64:
			out = append(out, zap.Float64(f.Key, v))
		case bool:
			out = append(out, zap.Bool(f.Key, v))
		case time.Duration:
			out = append(out, zap.Duration(f.Key, v))
		case time.Time:
			out = append(out, zap.Time(f.Key, v))
		case error:
			out = append(out, zap.NamedError(f.Key, v))
		default:
			out = append(out, zap.Any(f.Key, v))
		}
	}
	return out
}

func (l *zapLogger) Debug(msg string, fields ...Field) {
	l.z.Debug(msg, toZapFields(fields)...)
}

func (l *zapLogger) Info(msg string, fields ...Field) {
	l.z.Info(msg, toZapFields(fields)...)
}

func (l *zapLogger) Warn(msg string, fields ...Field) {
	l.z.Warn(msg, toZapFields(fields)...)
}

func (l *zapLogger) Error(msg string, fields ...Field) {
	l.z.Error(msg, toZapFields(fields)...)
}

func (l *zapLogger) Fatal(msg string, fields ...Field) {
	l.z.Fatal(msg, toZapFields(fields)...)
}

func (l *zapLogger) With(fields ...Field) Logger {
	return &zapLogger{z: l.z.With(toZapFields(fields)...)}
}

func (l *zapLogger) Named(name string) Logger {
	return &zapLogger{z: l.z.Named(name)}
}

// parseLevel converts a string level to a zapcore.Level.  Unknown values
// default to InfoLevel so the application remains operational.
func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// NewLogger constructs a Logger backed by zap according to cfg.  Defaults are
// applied for any unset field (level info, json format, stdout/stderr paths).
// Returns an error if zap fails to build the underlying logger, e.g. an
// output path that cannot be opened.
func NewLogger(cfg LogConfig) (Logger, error) {
	if len(cfg.OutputPaths) == 0 {
		cfg.OutputPaths = []string{"stdout"}
	}
	if len(cfg.ErrorOutputPaths) == 0 {
		cfg.ErrorOutputPaths = []string{"stderr"}
	}

	level := parseLevel(cfg.Level)

	var encCfg zapcore.EncoderConfig
	var encoding string
	switch cfg.Format {
	case "console":
		encCfg = zap.NewDevelopmentEncoderConfig()
		encoding = "console"
	default:
		encCfg = zap.NewProductionEncoderConfig()
		encoding = "json"
	}
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	zapCfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         encoding,
		EncoderConfig:    encCfg,
		OutputPaths:      cfg.OutputPaths,
		ErrorOutputPaths: cfg.ErrorOutputPaths,
	}

	z, err := zapCfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("logging: failed to build zap logger: %w", err)
	}
	return &zapLogger{z: z}, nil
}

// NewLoggerFromCore constructs a Logger from an existing zapcore.Core.
// Primarily used for testing with observed logs.
func NewLoggerFromCore(core zapcore.Core) Logger {
	return &zapLogger{z: zap.New(core, zap.AddCallerSkip(1))}
}

type nopLogger struct{}

func (nopLogger) Debug(_ string, _ ...Field) {}
func (nopLogger) Info(_ string, _ ...Field)  {}
func (nopLogger) Warn(_ string, _ ...Field)  {}
func (nopLogger) Error(_ string, _ ...Field) {}
func (nopLogger) Fatal(_ string, _ ...Field) {}
func (n nopLogger) With(_ ...Field) Logger   { return n }
func (n nopLogger) Named(_ string) Logger    { return n }

// NewNopLogger returns a Logger that discards all entries.  Safe for
// concurrent use; intended for unit tests and benchmarks.
func NewNopLogger() Logger { return nopLogger{} }

var (
	defaultMu     sync.RWMutex
	defaultLogger Logger = nopLogger{}
)

// SetDefault replaces the process-wide default Logger.  Safe to call
// concurrently, though in practice it is called once during startup before
// any goroutines that use Default() are started.
func SetDefault(l Logger) {
	if l == nil {
		return
	}
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

// Default returns the process-wide default Logger.  Components that cannot
// receive an injected Logger may fall back to Default(), but constructor
// injection is always preferred.
func Default() Logger {
	defaultMu.RLock()
	l := defaultLogger
	defaultMu.RUnlock()
	return l
}
