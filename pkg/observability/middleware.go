package observability

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/lectern/pkg/contextkeys"
)

// RequestIDHeader carries the request ID in both directions
const RequestIDHeader = "X-Request-ID"

// RequestMiddleware assigns a request ID, stores a request-scoped logger in the
// context, logs the completed request and turns panics into 500 responses.
func RequestMiddleware(logger *Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, requestID)

			reqLogger := logger.WithField("request_id", requestID)
			ctx := contextkeys.WithRequestID(r.Context(), requestID)
			ctx = WithLogger(ctx, reqLogger)
			ctx = contextkeys.WithRequestStartTime(ctx, start)

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			defer func() {
				if rec := recover(); rec != nil {
					logPanic(reqLogger, r.Method+" "+r.URL.Path, rec)
					rw.Header().Set("Content-Type", "application/json")
					rw.WriteHeader(http.StatusInternalServerError)
					json.NewEncoder(rw).Encode(map[string]string{"error": "internal server error"})
				}
				reqLogger.WithFields(map[string]interface{}{
					"method":      r.Method,
					"path":        r.URL.Path,
					"status":      rw.statusCode,
					"duration_ms": time.Since(start).Milliseconds(),
				}).Info("request completed")
			}()

			next.ServeHTTP(rw, r.WithContext(ctx))
		})
	}
}
