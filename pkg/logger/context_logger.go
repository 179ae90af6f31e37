package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey string

const (
	ctxKeyRequestID ctxKey = "request_id"
	ctxKeyRoom      ctxKey = "room"
	ctxKeyWallet    ctxKey = "wallet"
)

// WithRequestID returns a context carrying the request id for log correlation.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

func WithRoom(ctx context.Context, room string) context.Context {
	return context.WithValue(ctx, ctxKeyRoom, room)
}

func WithWallet(ctx context.Context, wallet string) context.Context {
	return context.WithValue(ctx, ctxKeyWallet, wallet)
}

// ContextLogger decorates log entries with correlation fields from context.
type ContextLogger struct {
	logger *zap.Logger
}

func NewContextLogger(logger *zap.Logger) *ContextLogger {
	return &ContextLogger{logger: logger}
}

func (cl *ContextLogger) WithContext(ctx context.Context) *zap.Logger {
	fields := []zapcore.Field{}

	if id, ok := ctx.Value(ctxKeyRequestID).(string); ok && id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	if room, ok := ctx.Value(ctxKeyRoom).(string); ok && room != "" {
		fields = append(fields, zap.String("room", room))
	}
	if wallet, ok := ctx.Value(ctxKeyWallet).(string); ok && wallet != "" {
		fields = append(fields, zap.String("wallet", wallet))
	}

	if len(fields) == 0 {
		return cl.logger
	}
	return cl.logger.With(fields...)
}

func (cl *ContextLogger) WithError(err error) *zap.Logger {
	return cl.logger.With(zap.Error(err))
}

// LogRequest logs an HTTP request with correlation fields.
func (cl *ContextLogger) LogRequest(ctx context.Context, method, path string, statusCode int, durationMs int64) {
	cl.WithContext(ctx).Info("http_request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status_code", statusCode),
		zap.Int64("duration_ms", durationMs),
	)
}
