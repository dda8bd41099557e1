// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adiadia/promptflow/internal/auth"
)

const healthzPath = "/healthz"
const metricsPath = "/metrics"
const versionPath = "/version"
const headerRateLimitLimit = "X-RateLimit-Limit"
const headerRateLimitRemaining = "X-RateLimit-Remaining"
const headerRetryAfter = "Retry-After"

const (
	DefaultUserRequestsPerMin      = 120
	DefaultAnonymousRequestsPerMin = 60
)

type SessionResolver interface {
	ResolveSession(ctx context.Context, bearerToken string) (auth.Principal, bool, error)
}

type RateLimits struct {
	UserPerMin      int
	AnonymousPerMin int
}

func DefaultRateLimits() RateLimits {
	return RateLimits{
		UserPerMin:      DefaultUserRequestsPerMin,
		AnonymousPerMin: DefaultAnonymousRequestsPerMin,
	}
}

// SessionAuth resolves an optional bearer session token. Requests without an
// Authorization header continue as anonymous visitors; a header that does
// not resolve is rejected. Every identity is rate limited except on
// /healthz, /metrics, and /version.
func SessionAuth(resolver SessionResolver, limits RateLimits, logger *slog.Logger) func(http.Handler) http.Handler {
	return sessionAuthWithLimiter(resolver, newInMemoryRateLimiter(), limits, logger)
}

func sessionAuthWithLimiter(
	resolver SessionResolver,
	limiter *inMemoryRateLimiter,
	limits RateLimits,
	logger *slog.Logger,
) func(http.Handler) http.Handler {
	if resolver == nil {
		panic("middleware.SessionAuth requires a resolver")
	}
	if limiter == nil {
		panic("middleware.SessionAuth requires a limiter")
	}

	if logger == nil {
		logger = slog.Default()
	}
	if limits.UserPerMin <= 0 {
		limits.UserPerMin = DefaultUserRequestsPerMin
	}
	if limits.AnonymousPerMin <= 0 {
		limits.AnonymousPerMin = DefaultAnonymousRequestsPerMin
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == healthzPath || r.URL.Path == metricsPath || r.URL.Path == versionPath {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if strings.TrimSpace(authHeader) == "" {
				if !allow(w, limiter, "anon:"+clientIP(r), limits.AnonymousPerMin) {
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			token, ok := bearerToken(authHeader)
			if !ok {
				logger.Warn("request blocked by session middleware",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "missing or invalid session token", http.StatusUnauthorized)
				return
			}

			principal, found, err := resolver.ResolveSession(r.Context(), token)
			if err != nil {
				logger.Error("session resolution failed",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"error", err,
				)
				http.Error(w, "auth lookup failed", http.StatusInternalServerError)
				return
			}

			if !found {
				logger.Warn("request blocked by session lookup",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "missing or invalid session token", http.StatusUnauthorized)
				return
			}

			if !allow(w, limiter, "user:"+principal.UserID.String(), limits.UserPerMin) {
				return
			}

			// Preserve authenticated context on the current request pointer so
			// outer middleware (request logging) can read user_id after next returns.
			*r = *r.WithContext(auth.WithPrincipal(r.Context(), principal))
			next.ServeHTTP(w, r)
		})
	}
}

func allow(w http.ResponseWriter, limiter *inMemoryRateLimiter, key string, perMin int) bool {
	decision := limiter.Allow(key, perMin, time.Now())
	w.Header().Set(headerRateLimitLimit, strconv.Itoa(decision.LimitPerMinute))
	w.Header().Set(headerRateLimitRemaining, strconv.Itoa(decision.Remaining))
	if !decision.Allowed {
		w.Header().Set(headerRetryAfter, strconv.Itoa(decision.RetryAfterSeconds))
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return false
	}
	return true
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func bearerToken(header string) (string, bool) {
	schemeToken := strings.SplitN(header, " ", 2)
	if len(schemeToken) != 2 {
		return "", false
	}
	if !strings.EqualFold(schemeToken[0], "Bearer") {
		return "", false
	}
	if schemeToken[1] == "" {
		return "", false
	}
	return schemeToken[1], true
}
