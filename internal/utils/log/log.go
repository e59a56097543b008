package log

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger atomic.Pointer[zap.Logger]

func init() {
	l, err := build("info")
	if err != nil {
		l = zap.NewNop()
	}
	logger.Store(l)
}

// Init replaces the package logger with one writing at the given level
// (debug, info, warn, error).
func Init(level string) error {
	l, err := build(level)
	if err != nil {
		return err
	}
	old := logger.Swap(l)
	_ = old.Sync()
	return nil
}

// Replace installs l as the package logger. Tests use it with zaptest or
// zap.NewNop().
func Replace(l *zap.Logger) {
	logger.Store(l)
}

func L() *zap.Logger { return logger.Load() }

func build(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("unknown log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build(zap.AddCallerSkip(1))
}

func Debug(msg string, fields ...zap.Field) { L().Debug(msg, fields...) }

func Info(msg string, fields ...zap.Field) { L().Info(msg, fields...) }

func Warn(msg string, fields ...zap.Field) { L().Warn(msg, fields...) }

func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }

func Fatal(msg string, fields ...zap.Field) { L().Fatal(msg, fields...) }

func Sync() error { return L().Sync() }
