package middlewares

import (
	"net/http"
	"strconv"
	"time"

	"github.com/edline/otpgate/internal/http/errors"
	"github.com/edline/otpgate/internal/observability/logger"
	"github.com/edline/otpgate/internal/rate"
)

// RateKeyFunc derives the rate-limit key from a request.
type RateKeyFunc func(r *http.Request) string

// IPRateKey keys by client IP and path.
func IPRateKey(r *http.Request) string {
	return ClientIP(r) + "|" + r.URL.Path
}

// PrincipalRateKey keys by authenticated principal, falling back to IP
// before authentication.
func PrincipalRateKey(r *http.Request) string {
	if pid := GetPrincipalID(r.Context()); pid != "" {
		return pid + "|" + r.URL.Path
	}
	return IPRateKey(r)
}

// WithRateLimit enforces a fixed-window limit. A nil limiter disables
// the middleware; limiter errors let the request through (the limiter
// is protection, not a dependency).
func WithRateLimit(limiter rate.Limiter, keyFunc RateKeyFunc) Middleware {
	if limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if keyFunc == nil {
		keyFunc = IPRateKey
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := limiter.Allow(r.Context(), keyFunc(r))
			if err != nil {
				logger.From(r.Context()).Warn("rate limiter unavailable",
					logger.Component("rate"), logger.Err(err))
				next.ServeHTTP(w, r)
				return
			}

			if !res.Allowed {
				if res.RetryAfter > 0 {
					w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())))
				}
				if res.WindowTTL > 0 {
					resetAt := time.Now().Add(res.WindowTTL).Unix()
					w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt, 10))
				}
				errors.WriteError(w, errors.ErrRateLimitExceeded)
				return
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
			next.ServeHTTP(w, r)
		})
	}
}
