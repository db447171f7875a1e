package middleware

import (
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
	"github.com/ilkin0/chunkup/internal/logger"
)

type RateLimitConfig struct {
	InitiateLimit int
	ChunkLimit    int
	StatusLimit   int
	FinalizeLimit int
	TimeWindow    time.Duration
}

func LoadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		InitiateLimit: getEnvInt("RATE_LIMIT_INITIATE", 10),
		ChunkLimit:    getEnvInt("RATE_LIMIT_CHUNK_UPLOAD", 120),
		StatusLimit:   getEnvInt("RATE_LIMIT_STATUS", 60),
		FinalizeLimit: getEnvInt("RATE_LIMIT_FINALIZE", 20),
		TimeWindow: time.
			Duration(getEnvInt("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second,
	}
}

func getEnvInt(key string, defaultValue int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// Limiters builds one per-IP limiter per RPC. A non-positive limit
// disables limiting for that RPC.
type Limiters struct {
	cfg RateLimitConfig
}

func NewLimiters(cfg RateLimitConfig) Limiters {
	return Limiters{cfg: cfg}
}

func (l Limiters) Initiate() func(http.Handler) http.Handler {
	return l.create(l.cfg.InitiateLimit)
}

func (l Limiters) Chunk() func(http.Handler) http.Handler {
	return l.create(l.cfg.ChunkLimit)
}

func (l Limiters) Status() func(http.Handler) http.Handler {
	return l.create(l.cfg.StatusLimit)
}

func (l Limiters) Finalize() func(http.Handler) http.Handler {
	return l.create(l.cfg.FinalizeLimit)
}

func (l Limiters) create(limit int) func(http.Handler) http.Handler {
	if limit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		limit,
		l.cfg.TimeWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(rateLimitExceededHandler(l.cfg.TimeWindow)),
	)
}

func rateLimitExceededHandler(retryAfter time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context())
		log.Warn("rate limit exceeded",
			slog.String("ip", r.RemoteAddr),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("user_agent", r.UserAgent()),
		)

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"success":false,"message":"Rate limit exceeded. Please try again later."}`))
	}
}
