package util

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// StatusRecorder captures the status code and body size written by a handler.
type StatusRecorder struct {
	http.ResponseWriter
	Status int
	Bytes  int
}

// NewStatusRecorder wraps w.
func NewStatusRecorder(w http.ResponseWriter) *StatusRecorder {
	return &StatusRecorder{ResponseWriter: w}
}

func (r *StatusRecorder) WriteHeader(statusCode int) {
	if r.Status == 0 {
		r.Status = statusCode
	}
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *StatusRecorder) Write(b []byte) (int, error) {
	if r.Status == 0 {
		r.Status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.Bytes += n
	return n, err
}

// StatusCode returns the written status, 200 when the handler wrote nothing.
func (r *StatusRecorder) StatusCode() int {
	if r.Status == 0 {
		return http.StatusOK
	}
	return r.Status
}

// WithRequestLog emits one structured line per request through the
// request-scoped logger, so it carries request_id when wrapped by
// WithRequestID. Server errors log at error level, client errors at warn.
func WithRequestLog(service string, next http.Handler) http.Handler {
	service = strings.TrimSpace(service)
	if service == "" {
		service = "unknown"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := NewStatusRecorder(w)
		next.ServeHTTP(rec, r)

		status := rec.StatusCode()
		level := slog.LevelInfo
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}
		LoggerFromContext(r.Context()).Log(r.Context(), level,
			"http_request",
			"service", service,
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", rec.Bytes,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
