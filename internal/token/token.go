// Package token mints and verifies handoff tokens: short signed references
// that bridge a claimed request from the broadcast surface to the
// specialist's private surface without exposing internal identifiers as
// forgeable plain text.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalid = errors.New("invalid handoff token")

const handoffType = "handoff"

// Service signs handoff tokens with a shared HS256 secret.
type Service struct {
	Secret string
	Now    func() time.Time
}

type handoffClaims struct {
	jwt.RegisteredClaims
	Typ string `json:"typ"`
}

func (s Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Mint produces a token bound to the request id. The token is a locator,
// not a credential: it carries no payload beyond the id, and authorization
// is re-checked against the store when it is presented.
func (s Service) Mint(requestID string) (string, error) {
	if s.Secret == "" {
		return "", errors.New("token secret not configured")
	}
	if requestID == "" {
		return "", errors.New("request id required")
	}
	claims := handoffClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  requestID,
			IssuedAt: jwt.NewNumericDate(s.now()),
		},
		Typ: handoffType,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.Secret))
}

// Verify recomputes the signature and returns the bound request id.
// It does not enforce expiry: liveness is a property of the referenced
// request, and callers must re-resolve the id against the store.
func (s Service) Verify(tok string) (string, error) {
	if s.Secret == "" {
		return "", errors.New("token secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &handoffClaims{}
	parsed, err := parser.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		return []byte(s.Secret), nil
	})
	if err != nil || !parsed.Valid {
		return "", ErrInvalid
	}
	if claims.Typ != handoffType || claims.Subject == "" {
		return "", ErrInvalid
	}
	return claims.Subject, nil
}
