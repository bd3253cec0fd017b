package zk

import (
	"context"
	"fmt"
	"log"
	"log/slog"
)

type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
}

type defaultLoggerImpl struct {
}

func (*defaultLoggerImpl) Debugf(string, ...any) {
}

func (*defaultLoggerImpl) Infof(format string, args ...any) {
	log.Printf("[INFO] [ZK] "+format, args...)
}

func (*defaultLoggerImpl) Warnf(format string, args ...any) {
	log.Printf("[WARN] [ZK] "+format, args...)
}

type slogLoggerImpl struct {
	logger *slog.Logger
}

// NewSlogLogger adapts a structured logger.
func NewSlogLogger(logger *slog.Logger) Logger {
	return &slogLoggerImpl{logger: logger.With("component", "zk")}
}

func (l *slogLoggerImpl) log(level slog.Level, format string, args []any) {
	ctx := context.Background()
	if !l.logger.Enabled(ctx, level) {
		return
	}
	l.logger.Log(ctx, level, fmt.Sprintf(format, args...))
}

func (l *slogLoggerImpl) Debugf(format string, args ...any) {
	l.log(slog.LevelDebug, format, args)
}

func (l *slogLoggerImpl) Infof(format string, args ...any) {
	l.log(slog.LevelInfo, format, args)
}

func (l *slogLoggerImpl) Warnf(format string, args ...any) {
	l.log(slog.LevelWarn, format, args)
}

// instanceLogger prefixes every line with the manager instance id.
type instanceLogger struct {
	id    string
	inner Logger
}

func (l *instanceLogger) Debugf(format string, args ...any) {
	l.inner.Debugf("[%s] "+format, append([]any{l.id}, args...)...)
}

func (l *instanceLogger) Infof(format string, args ...any) {
	l.inner.Infof("[%s] "+format, append([]any{l.id}, args...)...)
}

func (l *instanceLogger) Warnf(format string, args ...any) {
	l.inner.Warnf("[%s] "+format, append([]any{l.id}, args...)...)
}
