// Package middleware holds HTTP middleware shared by the API handlers.
package middleware

import (
	"net/http"
	"time"

	"github.com/rpattn/casefeed/internal/platform/logger"
)

// responseWriter captures HTTP status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	bytes      int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(p []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(p)
	rw.bytes += n
	return n, err
}

// Flush keeps streamed CSV exports flowing through the wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// LoggingMiddleware logs every request with its status, size and duration,
// and turns handler panics into 500 responses.
func LoggingMiddleware(log *logger.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("component", "HTTP")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			defer func() {
				if p := recover(); p != nil {
					log.Error("handler panic", "method", r.Method, "path", r.URL.Path, "panic", p)
					if rw.bytes == 0 {
						http.Error(rw, "internal server error", http.StatusInternalServerError)
					}
				}

				fields := []interface{}{
					"method", r.Method,
					"path", r.URL.Path,
					"status", rw.statusCode,
					"bytes", rw.bytes,
					"duration", time.Since(start),
					"remote", r.RemoteAddr,
				}
				if rw.statusCode >= http.StatusInternalServerError {
					log.Warn("request failed", fields...)
					return
				}
				log.Info("request handled", fields...)
			}()

			next.ServeHTTP(rw, r)
		})
	}
}
