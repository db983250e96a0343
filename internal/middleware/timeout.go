package middleware

import (
	"net/http"
	"time"
)

const (
	// DefaultRequestTimeout bounds read-only control requests.
	DefaultRequestTimeout = 30 * time.Second
	// DefaultRunTimeout bounds requests that execute a full ingestion or batch run.
	DefaultRunTimeout = 15 * time.Minute
)

const timeoutBody = `{"success":false,"error":"Request Timeout","message":"the request did not finish in time"}`

// Timeout cancels the request context and answers 503 once timeout elapses.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, timeout, timeoutBody)
	}
}
