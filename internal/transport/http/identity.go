// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adiadia/promptflow/internal/auth"
	"github.com/adiadia/promptflow/internal/runtime"
	"github.com/adiadia/promptflow/internal/usage"
	"github.com/google/uuid"
)

const (
	DefaultSessionCookie = "pf_session"
	DefaultCounterCookie = "pf_runs"

	counterCookieMaxAge = 365 * 24 * time.Hour
)

type actorContextKey struct{}

var ctxActorKey actorContextKey

// CookieConfig names the cookies that carry anonymous visitor state.
type CookieConfig struct {
	Session string
	Counter string
	Secure  bool
}

func (c CookieConfig) withDefaults() CookieConfig {
	if strings.TrimSpace(c.Session) == "" {
		c.Session = DefaultSessionCookie
	}
	if strings.TrimSpace(c.Counter) == "" {
		c.Counter = DefaultCounterCookie
	}
	return c
}

// cookieCounter is the anonymous visitor's run total, kept in a cookie.
// Clearing cookies starts the visitor over at zero.
type cookieCounter struct {
	w      http.ResponseWriter
	cookie CookieConfig
	n      int
}

func newCookieCounter(w http.ResponseWriter, r *http.Request, cookie CookieConfig) *cookieCounter {
	c := &cookieCounter{w: w, cookie: cookie}
	if ck, err := r.Cookie(cookie.Counter); err == nil {
		if n, err := strconv.Atoi(ck.Value); err == nil && n > 0 {
			c.n = n
		}
	}
	return c
}

func (c *cookieCounter) Get() int { return c.n }

func (c *cookieCounter) Increment() int {
	c.n++
	http.SetCookie(c.w, &http.Cookie{
		Name:     c.cookie.Counter,
		Value:    strconv.Itoa(c.n),
		Path:     "/",
		MaxAge:   int(counterCookieMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   c.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return c.n
}

// identityMiddleware turns the request into a runtime.Actor: the session's
// user when authenticated, otherwise an anonymous visitor identified by a
// session cookie that is issued on first contact.
func identityMiddleware(cookie CookieConfig) func(http.Handler) http.Handler {
	cookie = cookie.withDefaults()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var actor runtime.Actor
			if p, ok := auth.PrincipalFromContext(r.Context()); ok {
				actor = runtime.Actor{
					Identity:  usage.User(p.UserID),
					SessionID: "user:" + p.SessionID.String(),
				}
			} else {
				actor = runtime.Actor{
					Identity:  usage.Anonymous(newCookieCounter(w, r, cookie)),
					SessionID: "anon:" + anonymousSessionID(w, r, cookie),
				}
			}

			next.ServeHTTP(w, r.WithContext(withActor(r.Context(), actor)))
		})
	}
}

func anonymousSessionID(w http.ResponseWriter, r *http.Request, cookie CookieConfig) string {
	if ck, err := r.Cookie(cookie.Session); err == nil {
		if id, err := uuid.Parse(ck.Value); err == nil {
			return id.String()
		}
	}

	id := uuid.NewString()
	// No MaxAge: the session ends with the browser session.
	http.SetCookie(w, &http.Cookie{
		Name:     cookie.Session,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

func withActor(ctx context.Context, actor runtime.Actor) context.Context {
	return context.WithValue(ctx, ctxActorKey, actor)
}

func actorFromContext(ctx context.Context) (runtime.Actor, bool) {
	actor, ok := ctx.Value(ctxActorKey).(runtime.Actor)
	if !ok || actor.SessionID == "" {
		return runtime.Actor{}, false
	}
	return actor, true
}
