package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingHeader  = errors.New("no authorization header")
	ErrInvalidHeader  = errors.New("invalid authorization header")
	ErrMissingSubject = errors.New("token has no subject")
)

// Claims carries the registered claims. The subject names the collection
// the bearer may publish to.
type Claims struct {
	jwt.RegisteredClaims
}

func parseClaims(parser *jwt.Parser, tokenString string, key any) (*Claims, error) {
	claims := &Claims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return key, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	return claims, nil
}
