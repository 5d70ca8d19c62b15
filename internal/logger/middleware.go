// middleware.go — HTTP request logging middleware.
//
// Media URLs carry credential material in the query string (media_token, ip),
// so log lines record only the request path, never r.URL.String() or the raw
// query. Each request gets a UUID request id and a request-scoped logger
// injected into the context; handlers retrieve it with FromContext.
package logger

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Middleware returns an http.Handler middleware that logs each request and
// stores a request-scoped logger (carrying the request id) in the context.
func Middleware(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := uuid.New().String()

			reqLog := log.With("request_id", reqID)
			r = r.WithContext(WithContext(r.Context(), reqLog))

			wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			reqLog.Info("request complete",
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
// WriteHeader is called once; subsequent calls are no-ops.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.wroteHeader {
		return
	}
	r.status = status
	r.wroteHeader = true
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	return r.ResponseWriter.Write(b)
}

// Flush passes stream flushes through to the underlying writer.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
