package middleware

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "trustcircles"

var errInvalidToken = errors.New("invalid token")

// SessionClaims carries a member session token inside an HS256 JWT
type SessionClaims struct {
	Session string `json:"sid"`
	jwt.RegisteredClaims
}

// TokenIssuer wraps session tokens into signed JWTs and unwraps them again
type TokenIssuer struct {
	secret []byte
}

func NewTokenIssuer(secret []byte) *TokenIssuer {
	return &TokenIssuer{secret: secret}
}

// Issue signs a JWT for the member's session that expires together with the session
func (i *TokenIssuer) Issue(accountName, session string, expires time.Time) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		Session: session,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   accountName,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Parse validates a JWT and returns the session token it carries
func (i *TokenIssuer) Parse(tokenStr string) (*SessionClaims, error) {
	keyFunc := func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return i.secret, nil
	}

	claims := &SessionClaims{}
	tok, err := jwt.ParseWithClaims(tokenStr, claims, keyFunc, jwt.WithIssuer(tokenIssuer), jwt.WithExpirationRequired())
	if err != nil || !tok.Valid || claims.Session == "" {
		return nil, errInvalidToken
	}
	return claims, nil
}
