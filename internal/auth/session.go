package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionCookieName is the cookie carrying the delegated-session token.
const SessionCookieName = "turnstile_session"

// SessionResolver supplies the fallback identity for requests without a
// Bearer credential. CurrentSubject returns the external identity-provider
// subject of the current session, or "" when there is none. An error means
// an infrastructure fault, not a missing session.
type SessionResolver interface {
	CurrentSubject(r *http.Request) (string, error)
}

// JWTSessionResolver resolves sessions from an HMAC-signed JWT cookie
// minted by the identity-provider integration (or the `session token` CLI
// in development).
type JWTSessionResolver struct {
	secret []byte
}

// NewJWTSessionResolver creates a resolver verifying with the given secret.
func NewJWTSessionResolver(secret []byte) *JWTSessionResolver {
	return &JWTSessionResolver{secret: secret}
}

// CurrentSubject returns the subject claim of a valid session cookie. A
// missing, malformed, or expired cookie is "no session", never an error.
func (j *JWTSessionResolver) CurrentSubject(r *http.Request) (string, error) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return "", nil
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(cookie.Value, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return j.secret, nil
	})
	if err != nil || !token.Valid {
		return "", nil
	}
	return claims.Subject, nil
}

// IssueSessionToken mints a signed session JWT for an external subject.
func IssueSessionToken(secret []byte, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		Issuer:    "turnstile",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}
