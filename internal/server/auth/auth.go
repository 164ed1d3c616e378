// Package auth verifies the bearer tokens presented to the publish API.
package auth

import (
	"crypto/rsa"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/apluslms/static-file-host/internal/syncerr"
)

const (
	authHeader   = "Authorization"
	bearerScheme = "bearer"
)

type Authenticator struct {
	config *Config
	key    any
	parser *jwt.Parser
}

func NewAuthenticator(config *Config) (*Authenticator, error) {
	a := &Authenticator{config: config}
	if !config.Enabled {
		return a, nil
	}

	var methods []string
	switch {
	case config.PublicKeyFile != "":
		pem, err := os.ReadFile(config.PublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read public key: %w", err)
		}
		key, err := parsePublicKey(pem)
		if err != nil {
			return nil, err
		}
		a.key = key
		if _, ok := key.(*rsa.PublicKey); ok {
			methods = []string{"RS256", "RS384", "RS512"}
		} else {
			methods = []string{"ES256", "ES384", "ES512"}
		}
	default:
		a.key = []byte(config.Secret)
		methods = []string{"HS256", "HS384", "HS512"}
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods(methods), jwt.WithIssuedAt()}
	if config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(config.Issuer))
	}
	a.parser = jwt.NewParser(opts...)
	return a, nil
}

func parsePublicKey(pem []byte) (any, error) {
	if key, err := jwt.ParseRSAPublicKeyFromPEM(pem); err == nil {
		return key, nil
	}
	key, err := jwt.ParseECPublicKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("public key is neither RSA nor ECDSA: %w", err)
	}
	return key, nil
}

func (a *Authenticator) IsEnabled() bool {
	return a.config.Enabled
}

// ParseToken validates a raw token and returns its claims.
func (a *Authenticator) ParseToken(token string) (*Claims, error) {
	if !a.IsEnabled() {
		return nil, fmt.Errorf("auth is disabled")
	}
	return parseClaims(a.parser, token, a.key)
}

// Authenticate checks the bearer token in header against collection and
// returns the principal. A token for another collection is rejected with
// syncerr.ErrAccessDenied. With auth disabled every request is admitted as
// the collection itself.
func (a *Authenticator) Authenticate(header http.Header, collection string) (string, error) {
	if !a.IsEnabled() {
		return collection, nil
	}

	value := strings.TrimSpace(header.Get(authHeader))
	if value == "" {
		return "", syncerr.E(syncerr.KindAuth, "authenticate", ErrMissingHeader)
	}
	scheme, token, ok := strings.Cut(value, " ")
	if !ok || !strings.EqualFold(scheme, bearerScheme) || strings.TrimSpace(token) == "" {
		return "", syncerr.E(syncerr.KindAuth, "authenticate", ErrInvalidHeader)
	}

	claims, err := a.ParseToken(strings.TrimSpace(token))
	if err != nil {
		slog.Debug("token rejected", "collection", collection, "error", err)
		return "", syncerr.E(syncerr.KindAuth, "authenticate", err)
	}

	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return "", syncerr.E(syncerr.KindAuth, "authenticate", ErrMissingSubject)
	}
	if subject != collection {
		return "", syncerr.E(syncerr.KindAuth, "authenticate",
			fmt.Errorf("%w: token is for %q, not %q", syncerr.ErrAccessDenied, subject, collection))
	}
	return subject, nil
}
