// Package validate implements the path/URL validation rules of the engine:
// request URL shape and domain allow-listing, served-path confinement
// against symlink escape, output-template expansion, and the small
// comma/dash range grammar the playlist item filter uses.
package validate

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/apierr"
)

const maxURLLength = 2048

// URLValidator enforces spec.md §4.A's URL shape and allow-list rules.
// AllowedDomains is a suffix match list (e.g. "youtube.com" matches
// "www.youtube.com"); an empty list permits any host. Environment gates
// whether localhost/private hosts are allowed even when not allow-listed —
// this is a development convenience spec.md does not itself define.
type URLValidator struct {
	AllowedDomains []string
	Environment    string // "development" or "production"
}

// NewURLValidator builds a validator from a normalized domain list.
func NewURLValidator(allowedDomains []string, environment string) *URLValidator {
	normalized := make([]string, 0, len(allowedDomains))
	for _, d := range allowedDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			normalized = append(normalized, d)
		}
	}
	return &URLValidator{AllowedDomains: normalized, Environment: environment}
}

// Validate checks raw against spec.md §4.A and returns the parsed URL on
// success.
func (v *URLValidator) Validate(raw string) (*url.URL, error) {
	if len(raw) == 0 {
		return nil, apierr.New(apierr.Validation, "url is required")
	}
	if len(raw) > maxURLLength {
		return nil, apierr.New(apierr.Validation, fmt.Sprintf("url exceeds %d characters", maxURLLength))
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, apierr.Wrap(apierr.Validation, "url could not be parsed", err)
	}
	if !parsed.IsAbs() {
		return nil, apierr.New(apierr.Validation, "url must be absolute")
	}
	switch parsed.Scheme {
	case "http", "https":
	default:
		return nil, apierr.New(apierr.Validation, "url scheme must be http or https")
	}
	host := parsed.Hostname()
	if host == "" {
		return nil, apierr.New(apierr.Validation, "url must have a host")
	}

	if v.hostAllowed(host) {
		return parsed, nil
	}
	return nil, apierr.New(apierr.Validation, fmt.Sprintf("host %q is not in the allowed domain list", host))
}

func (v *URLValidator) hostAllowed(host string) bool {
	host = strings.ToLower(host)

	if len(v.AllowedDomains) == 0 {
		return true
	}
	for _, domain := range v.AllowedDomains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	if v.Environment != "production" && isLocalOrPrivateHost(host) {
		return true
	}
	return false
}

func isLocalOrPrivateHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && (ip.IsLoopback() || ip.IsPrivate())
}
