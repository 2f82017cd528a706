// Package logger wraps a zap sugared logger with the fields artvault attaches
// to every line: the emitting component and, for record work, its SKU and slug.
package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	componentKey = "component"
	skuKey       = "sku"
	slugKey      = "slug"
)

type Logger struct {
	SugaredLogger *zap.SugaredLogger
}

// New builds the process logger. "prod" or "production" selects JSON output
// at info level; anything else is the console encoder at debug level.
func New(mode string) (*Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(mode) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	zl, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &Logger{SugaredLogger: zl.Named("artvault").Sugar()}, nil
}

// FromCore wraps an existing core, e.g. an observer in tests.
func FromCore(core zapcore.Core) *Logger {
	return &Logger{SugaredLogger: zap.New(core).Sugar()}
}

// Nop discards everything. Used by tests and by CLI commands that print
// their own output.
func Nop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar()}
}

func (l *Logger) Sync() {
	_ = l.SugaredLogger.Sync()
}

func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Debugw(msg, keysAndValues...)
}
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Infow(msg, keysAndValues...)
}
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Warnw(msg, keysAndValues...)
}
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Errorw(msg, keysAndValues...)
}

func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{SugaredLogger: l.SugaredLogger.With(keysAndValues...)}
}

// Component tags every line with the subsystem that wrote it.
func (l *Logger) Component(name string) *Logger {
	return l.With(componentKey, name)
}

// WithRecord tags every line with the record it concerns. An empty slug is
// left out so records that have not been named yet log only their SKU.
func (l *Logger) WithRecord(sku, slug string) *Logger {
	if slug == "" {
		return l.With(skuKey, sku)
	}
	return l.With(skuKey, sku, slugKey, slug)
}
