package echoapi

import (
	"net/http"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/peereval/core"
	"github.com/trezcool/peereval/core/session"
)

const (
	sessionCookieName = "peereval_session"
	contextSessionKey = "session"
)

var signingMethod = jwt.SigningMethodHS256

// Claims is the content of the session cookie. The session itself lives on the server.
type Claims struct {
	jwt.StandardClaims
}

func newClaims(conf *core.Config, sess *session.Session) *Claims {
	now := session.NowFunc()
	claims := &Claims{
		StandardClaims: jwt.StandardClaims{
			Id:       sess.ID,
			Issuer:   conf.AppName,
			IssuedAt: now.Unix(),
		},
	}
	if conf.Server.SessionTTL > 0 {
		claims.ExpiresAt = now.Add(conf.Server.SessionTTL).Unix()
	}
	return claims
}

// GenerateToken generates a signed JWT token string naming the session.
func GenerateToken(conf *core.Config, sess *session.Session) (string, error) {
	token := jwt.NewWithClaims(signingMethod, newClaims(conf, sess))
	ss, err := token.SignedString([]byte(conf.SecretKey))
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

func parseToken(conf *core.Config, raw string) (*Claims, error) {
	claims := new(Claims)
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != signingMethod.Alg() {
			return nil, errors.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return []byte(conf.SecretKey), nil
	})
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// refreshDue tells whether the cookie carrying claims is past half of its lifetime.
func refreshDue(conf *core.Config, claims *Claims) bool {
	ttl := conf.Server.SessionTTL
	if ttl <= 0 {
		return false
	}
	age := session.NowFunc().Sub(time.Unix(claims.IssuedAt, 0))
	return age >= ttl/2
}

func setSessionCookie(ctx echo.Context, conf *core.Config, sess *session.Session) error {
	token, err := GenerateToken(conf, sess)
	if err != nil {
		return err
	}
	cookie := &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   conf.Server.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	}
	if conf.Server.SessionTTL > 0 {
		cookie.Expires = session.NowFunc().Add(conf.Server.SessionTTL)
	}
	ctx.SetCookie(cookie)
	return nil
}

func getContextSession(ctx echo.Context) (*session.Session, error) {
	if sess, ok := ctx.Get(contextSessionKey).(*session.Session); ok {
		return sess, nil
	}
	return nil, errNoSession
}
