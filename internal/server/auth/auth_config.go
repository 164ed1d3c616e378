package auth

import (
	"fmt"
	"net/url"
)

type Config struct {
	Enabled bool `mapstructure:"enabled"`
	// Issuer, when set, must match the token's iss claim.
	Issuer string `mapstructure:"issuer"`
	// PublicKeyFile is a PEM encoded RSA or ECDSA public key.
	PublicKeyFile string `mapstructure:"public_key_file"`
	// Secret is a shared HMAC key, used when no public key is configured.
	Secret string `mapstructure:"secret"`
}

func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.PublicKeyFile == "" && c.Secret == "" {
		return fmt.Errorf("auth `public_key_file` or `secret` is required when auth is enabled")
	}
	if c.PublicKeyFile != "" && c.Secret != "" {
		return fmt.Errorf("auth `public_key_file` and `secret` are mutually exclusive")
	}
	if c.Issuer != "" {
		if _, err := url.Parse(c.Issuer); err != nil {
			return fmt.Errorf("invalid issuer %q: %w", c.Issuer, err)
		}
	}
	return nil
}
