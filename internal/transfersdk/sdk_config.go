package transfersdk

import (
	"fmt"
	"net/url"
	"time"
)

const DefaultTimeout = 5 * time.Minute

// Config is the configuration for the transfer client
type Config struct {
	BaseURL    string        // BaseURL is required
	Collection string        // Collection is required
	Token      string        // Token is optional when the server runs without auth
	Timeout    time.Duration // Timeout per request, DefaultTimeout when zero
}

func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return ErrNoServerURL
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: %q", ErrInvalidServerURL, c.BaseURL)
	}
	if c.Collection == "" {
		return ErrNoCollection
	}
	return nil
}
