package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jmylchreest/rebroadcastr/internal/observability"
)

// statusWriter records the status code and byte count of a response.
// Streams can run for hours, so the count is 64-bit.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	size        int64
}

func newStatusWriter(w http.ResponseWriter) *statusWriter {
	return &statusWriter{ResponseWriter: w, status: http.StatusOK}
}

func (rw *statusWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.status = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.size += int64(n)
	return n, err
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *statusWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// quietPaths are polled endpoints logged at debug level when successful.
var quietPaths = []string{"/health", "/metrics"}

// NewLoggingMiddleware creates a logging middleware with the given logger.
// The request-scoped logger is stored in the context for handlers.
func NewLoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := GetRequestID(r.Context())

			ctx := observability.ContextWithLogger(r.Context(), observability.WithRequestID(logger, requestID))

			wrapped := newStatusWriter(w)
			next.ServeHTTP(wrapped, r.WithContext(ctx))

			duration := time.Since(start)

			level := slog.LevelInfo
			switch {
			case wrapped.status >= 500:
				level = slog.LevelError
			case wrapped.status >= 400:
				level = slog.LevelWarn
			case isQuiet(r.URL.Path):
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", wrapped.status),
				slog.Int64("size", wrapped.size),
				slog.Duration("duration", duration),
				slog.String("remote_addr", r.RemoteAddr),
				slog.String("request_id", requestID),
			)
		})
	}
}

func isQuiet(path string) bool {
	for _, p := range quietPaths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
