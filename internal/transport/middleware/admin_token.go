// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

// AdminTokenAuth guards operator routes such as alias additions. adminTokens
// is a comma-separated list so a new token can be rolled out before the old
// one is retired.
func AdminTokenAuth(adminTokens string, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	accepted := splitTokens(adminTokens)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(accepted) == 0 {
				logger.Error("admin token not configured", "path", r.URL.Path)
				http.Error(w, "admin auth not configured", http.StatusInternalServerError)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			slot := -1
			if ok {
				slot = matchToken(accepted, token)
			}
			if slot < 0 {
				logger.Warn("admin request rejected",
					"method", r.Method,
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "missing or invalid admin token", http.StatusUnauthorized)
				return
			}

			logger.Info("admin request authorized",
				"method", r.Method,
				"path", r.URL.Path,
				"token_slot", slot,
			)
			next.ServeHTTP(w, r)
		})
	}
}

func splitTokens(raw string) []string {
	var out []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// matchToken compares against every accepted token so timing does not leak
// which slot matched.
func matchToken(accepted []string, token string) int {
	slot := -1
	for i, want := range accepted {
		if subtle.ConstantTimeCompare([]byte(token), []byte(want)) == 1 && slot < 0 {
			slot = i
		}
	}
	return slot
}
