// Package token validates bearer tokens issued by the identity collaborator.
// The core treats the subject claim opaquely as the changeset author.
package token

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"gazetteer/internal/platform/middleware"
)

// Validator checks HMAC-signed JWTs and extracts the acting-user identifier.
type Validator struct {
	signingKey []byte
}

func NewValidator(signingKey string) *Validator {
	return &Validator{signingKey: []byte(signingKey)}
}

// ValidateToken parses and verifies a token, returning the claims the
// middleware needs.
func (v *Validator) ValidateToken(tokenString string) (*middleware.JWTClaims, error) {
	parsed, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !parsed.Valid {
		return nil, errors.New("token is invalid")
	}

	subject, err := parsed.Claims.GetSubject()
	if err != nil || subject == "" {
		return nil, errors.New("token has no subject")
	}
	return &middleware.JWTClaims{UserID: subject}, nil
}

// Issue signs a token for the given user. Used by tests and local tooling;
// production tokens come from the identity collaborator.
func (v *Validator) Issue(userID string) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": userID})
	return t.SignedString(v.signingKey)
}
