package logger

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	loggerKey ctxKey = iota
	requestIDKey
	uploadIDKey
)

func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext returns the request-scoped logger, or the default one.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithUploadID binds ctx to one upload session: the context logger gains an
// upload_id attribute and UploadIDFromContext reports the id.
func WithUploadID(ctx context.Context, uploadID string) context.Context {
	if UploadIDFromContext(ctx) == uploadID {
		return ctx
	}
	ctx = context.WithValue(ctx, uploadIDKey, uploadID)
	return WithLogger(ctx, FromContext(ctx).With(slog.String("upload_id", uploadID)))
}

func UploadIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(uploadIDKey).(string)
	return id
}
