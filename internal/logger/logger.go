// Package logger provides leveled structured logging backed by zap.
package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var defaultLogger *zap.SugaredLogger

// Init initializes the default logger with the specified level and format.
// Format "json" selects the production encoder, "text" the console encoder.
func Init(level string, format string) {
	var cfg zap.Config
	if strings.ToLower(format) == "text" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		zapLevel = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	l, err := cfg.Build(zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.FatalLevel))
	if err != nil {
		l = zap.NewNop()
	}
	defaultLogger = l.Sugar()
}

func get() *zap.SugaredLogger {
	if defaultLogger == nil {
		return zap.NewNop().Sugar()
	}
	return defaultLogger
}

// With returns a child logger carrying the given key/value pairs.
func With(kv ...interface{}) *zap.SugaredLogger {
	return get().Desugar().WithOptions(zap.AddCallerSkip(-1)).Sugar().With(kv...)
}

// Sync flushes buffered log entries.
func Sync() {
	if defaultLogger != nil {
		_ = defaultLogger.Sync()
	}
}

func Debug(format string, args ...interface{}) {
	get().Debugf(format, args...)
}

func Info(format string, args ...interface{}) {
	get().Infof(format, args...)
}

func Warn(format string, args ...interface{}) {
	get().Warnf(format, args...)
}

func Error(format string, args ...interface{}) {
	get().Errorf(format, args...)
}

func Fatal(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Errorf(format, args...)
		_ = defaultLogger.Sync()
	}
	os.Exit(1)
}
