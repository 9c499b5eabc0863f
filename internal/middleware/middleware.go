package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	verr "relgit/internal/errors"
	"relgit/internal/logging"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RequestIDHeader carries the request id in both directions. A replica
// forwards its own id when pushing so both logs line up.
const RequestIDHeader = "X-Request-ID"

type responseWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *responseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *responseWriter) Write(p []byte) (int, error) {
	n, err := w.ResponseWriter.Write(p)
	w.bytes += n
	return n, err
}

type Middleware func(http.Handler) http.Handler

// Chain wraps h so that the first middleware runs innermost.
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for _, m := range middlewares {
		h = m(h)
	}
	return h
}

func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		ctx := context.WithValue(r.Context(), logging.RequestIDKey, requestID)
		w.Header().Set(RequestIDHeader, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDFrom returns the id RequestID stored on ctx.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(logging.RequestIDKey).(string)
	return id
}

// Logger writes one access line per request. Server errors are logged at
// warn so they survive a production level filter.
func Logger(logger *logging.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rw, r)

			level := zapcore.InfoLevel
			if rw.status >= http.StatusInternalServerError {
				level = zapcore.WarnLevel
			}
			logger.WithRequestID(r.Context()).Log(level, "request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rw.status),
				zap.Int("bytes", rw.bytes),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func Recover(logger *logging.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.WithRequestID(r.Context()).Error("panic recovered",
						zap.Any("error", err),
						zap.String("path", r.URL.Path),
						zap.Stack("stack"),
					)
					e := verr.Internal("internal error")
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(e.Code)
					_ = json.NewEncoder(w).Encode(e)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
