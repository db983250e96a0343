package middleware

import (
	"fmt"
	"net/http"

	"github.com/benvon/timesheet-sync/internal/request"
	"github.com/ulule/limiter/v3"
	stdlibmw "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"
)

// DefaultTriggerRate limits forced runs per client, in limiter's formatted notation.
const DefaultTriggerRate = "10-M"

// RateLimit limits requests per client IP with an in-process store. The
// control API runs in a single worker process, so no shared store is needed.
func RateLimit(rate string, logger *zap.Logger) (func(http.Handler) http.Handler, error) {
	if rate == "" {
		rate = DefaultTriggerRate
	}
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, fmt.Errorf("invalid rate limit %q: %w", rate, err)
	}
	instance := limiter.New(memory.NewStore(), parsed)

	mw := stdlibmw.NewMiddleware(instance,
		stdlibmw.WithKeyGetter(request.ClientIP),
		stdlibmw.WithLimitReachedHandler(func(w http.ResponseWriter, r *http.Request) {
			logger.Warn("control_rate_limited",
				zap.String("path", r.URL.Path),
				zap.String("request_id", request.RequestID(r.Context())),
			)
			WriteError(w, r, http.StatusTooManyRequests, "Too Many Requests", "rate limit exceeded, retry later")
		}),
		stdlibmw.WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Error("rate_limiter_failed", zap.Error(err))
			WriteError(w, r, http.StatusInternalServerError, "Internal Server Error", "rate limiter unavailable")
		}),
	)
	return mw.Handler, nil
}
