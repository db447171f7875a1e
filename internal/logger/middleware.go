package logger

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const RequestIDHeader = "X-Request-ID"

// statusRecorder remembers what the handler sent so the completion line can report it.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	n, err := rec.ResponseWriter.Write(b)
	rec.bytes += n
	return n, err
}

func (rec *statusRecorder) Unwrap() http.ResponseWriter {
	return rec.ResponseWriter
}

// RequestID tags the request with the caller's X-Request-ID, or a fresh UUID,
// and stores a logger carrying it in the request context.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		ctx := WithRequestID(r.Context(), id)
		ctx = WithLogger(ctx, slog.Default().With(slog.String("request_id", id)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		log := FromContext(r.Context())

		log.Debug("incoming HTTP request",
			slog.String("http.method", r.Method),
			slog.String("http.path", r.URL.Path),
			slog.String("http.remote_addr", r.RemoteAddr),
			slog.String("http.user_agent", r.UserAgent()),
			slog.Int64("http.content_length", r.ContentLength),
		)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		attrs := []slog.Attr{
			slog.String("http.method", r.Method),
			slog.String("http.path", r.URL.Path),
			slog.Int("http.status", rec.status),
			slog.Int64("http.duration_ms", time.Since(start).Milliseconds()),
			slog.Int("http.bytes", rec.bytes),
		}

		// chi fills the route context while routing, so it is only complete here
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				attrs = append(attrs, slog.String("http.route", pattern))
			}
			if id := rctx.URLParam("uploadId"); id != "" {
				attrs = append(attrs, slog.String("upload_id", id))
			}
		}

		// cancelled or shut-down clients abort in-flight chunk requests
		if errors.Is(r.Context().Err(), context.Canceled) {
			attrs = append(attrs, slog.Bool("http.aborted", true))
		}

		log.LogAttrs(r.Context(), levelFor(rec.status), "HTTP request completed", attrs...)
	})
}

func levelFor(status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
