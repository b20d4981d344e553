package log

import (
	"context"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey struct{}

var (
	mu     sync.RWMutex
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	base   = newLogger(false)
	exitFn = os.Exit
)

func newLogger(development bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = level
	cfg.Sampling = nil
	l, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// SetLevel changes the level of the default logger
func SetLevel(l zapcore.Level) {
	level.SetLevel(l)
}

// SetDevelopment switches the default logger to a human readable console encoder
func SetDevelopment() {
	mu.Lock()
	defer mu.Unlock()
	base = newLogger(true)
}

// SetLogger replaces the default logger (used in tests)
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	base = l
}

// Logger returns the logger attached to the context, or the default one
func Logger(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok {
		return l
	}
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// With returns a context whose logger carries the given fields
func With(ctx context.Context, fields ...zap.Field) context.Context {
	return context.WithValue(ctx, ctxKey{}, Logger(ctx).With(fields...))
}

// Fatal logs the message with the default logger and exits
func Fatal(msg string, fields ...zap.Field) {
	l := Logger(context.Background())
	l.Error(msg, fields...)
	_ = l.Sync()
	exitFn(1)
}
