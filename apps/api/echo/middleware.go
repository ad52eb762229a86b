package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/peereval/core"
	"github.com/trezcool/peereval/core/session"
)

// sessionMiddleware attaches the caller's session to the context, starting one when the
// cookie is missing, invalid or names an expired session. The cookie of a resumed session
// is re-issued once half of its lifetime has passed.
func sessionMiddleware(conf *core.Config, svc *session.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if cookie, err := ctx.Cookie(sessionCookieName); err == nil {
				if claims, err := parseToken(conf, cookie.Value); err == nil {
					if sess, ok := svc.Resume(claims.Id); ok {
						if refreshDue(conf, claims) {
							if err := setSessionCookie(ctx, conf, sess); err != nil {
								return errors.Wrap(err, "refreshing session cookie")
							}
						}
						ctx.Set(contextSessionKey, sess)
						return next(ctx)
					}
				}
			}

			sess := svc.Start()
			if err := setSessionCookie(ctx, conf, sess); err != nil {
				return errors.Wrap(err, "setting session cookie")
			}
			ctx.Set(contextSessionKey, sess)
			return next(ctx)
		}
	}
}

// authRequiredMiddleware rejects sessions that are not Authenticated.
// Browsers are sent back to the login screen; API callers get a 401.
func authRequiredMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			sess, err := getContextSession(ctx)
			if err != nil {
				return err
			}
			if _, ok := sess.User(); ok {
				return next(ctx)
			}
			if isAPIRequest(ctx) {
				return errUnauthorized
			}
			return ctx.Redirect(http.StatusSeeOther, "/")
		}
	}
}
