package security

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

var (
	ErrInvalidScheme       = errors.New("base URL must use https (http is allowed for loopback hosts only)")
	ErrMissingHost         = errors.New("base URL has no host")
	ErrEmbeddedCredentials = errors.New("base URL must not embed credentials; use an API key instead")
	ErrQueryNotAllowed     = errors.New("base URL must not carry a query string")
)

// ValidateBaseURL checks a provider base URL override. An empty URL means
// "use the provider default" and is accepted.
func ValidateBaseURL(rawURL string) error {
	if rawURL == "" {
		return nil
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}

	host := parsed.Hostname()
	if host == "" {
		return ErrMissingHost
	}
	if parsed.User != nil {
		return ErrEmbeddedCredentials
	}
	if parsed.RawQuery != "" {
		return ErrQueryNotAllowed
	}

	switch parsed.Scheme {
	case "https":
		return nil
	case "http":
		if IsLoopback(host) {
			return nil
		}
	}
	return ErrInvalidScheme
}

// IsLoopback reports whether host names the local machine.
func IsLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
