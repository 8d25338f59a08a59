package server

import (
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/eutopia/collabdash/internal/logging"
)

// RequestIDHeader carries the request ID in and out.
const RequestIDHeader = "X-Request-ID"

// maxRequestIDLen bounds a caller-supplied request ID.
const maxRequestIDLen = 64

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// withRequestLogging tags every request with an ID, stores a request-scoped
// logger in its context and writes one access log line when it completes.
func withRequestLogging(base zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if requestID == "" || len(requestID) > maxRequestIDLen {
			requestID = logging.NewRequestID()
		}
		w.Header().Set(RequestIDHeader, requestID)

		logger := base.With().Str("request_id", requestID).Logger()
		ctx := logging.ContextWithRequestID(logger.WithContext(r.Context()), requestID)

		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r.WithContext(ctx))

		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		logger.Info().
			Str("component", "server").
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Int("bytes", rec.bytes).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("request served")
	})
}

// withRecover turns a handler panic into a 500 and an error log line.
func withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovered := recover(); recovered != nil {
				logger := logging.FromContext(r.Context())
				logger.Error().
					Str("component", "server").
					Str("path", r.URL.Path).
					Interface("panic", recovered).
					Str("stack", string(debug.Stack())).
					Msg("panic recovered")
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
