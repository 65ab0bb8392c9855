package middleware

import (
	"context"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/club-event-registration/internal/auth"
)

// principalKey is the echo context key holding the resolved auth.Principal.
const principalKey = "principal"

// TokenResolver turns a bearer token into the principal it names.
type TokenResolver interface {
	ResolveToken(ctx context.Context, raw string) (auth.Principal, error)
}

// BearerToken returns the token of an "Authorization: Bearer <token>"
// header, or "" when there is none.
func BearerToken(c echo.Context) string {
	h := c.Request().Header.Get(echo.HeaderAuthorization)
	const prefix = "bearer "
	if len(h) < len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

// Authenticate resolves the bearer token on every request and stores the
// principal in the context. The principal is loaded from the identity
// store, so a token naming a deleted account is refused here.
func Authenticate(r TokenResolver) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, err := r.ResolveToken(c.Request().Context(), BearerToken(c))
			if err != nil {
				return err
			}
			c.Set(principalKey, p)
			return next(c)
		}
	}
}

// PrincipalFrom returns the principal stored by Authenticate.
func PrincipalFrom(c echo.Context) (auth.Principal, bool) {
	p, ok := c.Get(principalKey).(auth.Principal)
	return p, ok && p != nil
}

// RequireAdmin lets only administrators through. It must run after
// Authenticate.
func RequireAdmin() echo.MiddlewareFunc {
	return requirePrincipal(func(p auth.Principal) error {
		_, err := auth.RequireAdmin(p)
		return err
	})
}

// RequireStudent lets only students through. It must run after
// Authenticate.
func RequireStudent() echo.MiddlewareFunc {
	return requirePrincipal(func(p auth.Principal) error {
		_, err := auth.RequireStudent(p)
		return err
	})
}

func requirePrincipal(check func(auth.Principal) error) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, _ := PrincipalFrom(c)
			if err := check(p); err != nil {
				return err
			}
			return next(c)
		}
	}
}

// subjectKey identifies the caller for rate limiting: the principal kind
// and id when authenticated, "anon" otherwise.
func subjectKey(c echo.Context) string {
	p, ok := PrincipalFrom(c)
	if !ok {
		return "anon"
	}
	return p.Kind() + "-" + strconv.FormatUint(p.ID(), 10)
}
