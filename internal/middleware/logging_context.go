package middleware

import (
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"modelcache-gateway/pkg/logging/logging"
)

// LoggingContext derives a per-request logger from base and stores it in the
// request context, where logging.L finds it. Run it after chi's RequestID
// and RealIP so request_id and remote_ip are the resolved values.
func LoggingContext(base *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := logging.WithLogger(r.Context(), base.With(requestFields(r)...))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requestFields skips empty values so log lines stay compact.
func requestFields(r *http.Request) []zap.Field {
	fields := make([]zap.Field, 0, 5)
	fields = append(fields,
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
	)
	for _, kv := range [...]struct{ key, val string }{
		{"request_id", chimw.GetReqID(r.Context())},
		{"remote_ip", r.RemoteAddr},
		{"user_agent", r.UserAgent()},
	} {
		if kv.val != "" {
			fields = append(fields, zap.String(kv.key, kv.val))
		}
	}
	return fields
}
