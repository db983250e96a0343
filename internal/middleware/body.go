package middleware

import (
	"net/http"
	"strings"
)

// DefaultMaxRequestSize is the largest accepted request body (64KB).
const DefaultMaxRequestSize int64 = 64 << 10

// JSONBody rejects oversized bodies and requires application/json on
// requests that carry one. Bodyless POSTs such as run triggers pass through.
func JSONBody(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxRequestSize
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				WriteError(w, r, http.StatusRequestEntityTooLarge, "Request Entity Too Large", "request body is too large")
				return
			}
			if r.ContentLength != 0 && hasBody(r.Method) {
				ct := strings.ToLower(r.Header.Get("Content-Type"))
				if !strings.HasPrefix(ct, "application/json") {
					WriteError(w, r, http.StatusUnsupportedMediaType, "Unsupported Media Type", "Content-Type must be application/json")
					return
				}
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

func hasBody(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch
}
