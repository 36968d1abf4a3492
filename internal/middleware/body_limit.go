package middleware

import (
	"net/http"
)

// MaxBodySize rejects requests whose body exceeds n bytes. Declared lengths
// are refused up front; chunked bodies fail on read.
func MaxBodySize(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > n {
				writeErrorBody(w, http.StatusRequestEntityTooLarge, "request_too_large", "")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}
