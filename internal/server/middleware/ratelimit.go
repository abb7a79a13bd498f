package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	"github.com/qrandom/qrandom/internal/core/engine"
	"github.com/qrandom/qrandom/internal/metrics"
	"github.com/qrandom/qrandom/internal/observability"
)

// CodeRateLimited is the error code of a request over the per-client limit.
const CodeRateLimited = "RATE_LIMITED"

// NewRateLimitedError reports an inbound request over the per-client limit.
func NewRateLimitedError(message string, retryAfter time.Duration) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeRateLimited, message).
		WithDetails(map[string]interface{}{
			"retry_after_seconds": RetryAfterSeconds(retryAfter),
		})
}

// RetryAfterSeconds rounds a wait up to whole seconds, at least one.
func RetryAfterSeconds(wait time.Duration) int {
	seconds := int(math.Ceil(wait.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

// RateLimit rejects clients that exceed the limiter's window with 429.
// Clients are keyed by remote IP. A nil limiter disables the check.
func RateLimit(limiter *engine.RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ClientIP(r)
			allowed, wait, err := limiter.Take(r.Context(), key)
			if err != nil && observability.ServerLogger != nil {
				observability.ServerLogger.Warn("Rate limit check failed",
					zap.String("client", key),
					zap.Error(err))
			}
			if allowed {
				next.ServeHTTP(w, r)
				return
			}

			env := NewRateLimitedError("too many requests", wait).
				WithCorrelationID(GetRequestID(r.Context()))

			metrics.RecordError(env.Code, http.StatusTooManyRequests)
			w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds(wait)))
			writeErrorResponse(w, env, http.StatusTooManyRequests)
		})
	}
}

// ClientIP returns the request's remote IP without the port.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// PruneEvery drops stale limiter windows on an interval until stop closes.
func PruneEvery(store *engine.MemoryRateStore, interval time.Duration, stop <-chan struct{}) {
	if store == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			store.Prune(now.Add(-interval))
		}
	}
}
