// Package urlguard validates caller-supplied URLs and identifiers before they
// reach an outbound request or a subprocess command line.
package urlguard

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

const maxURLLength = 2048

var (
	// ErrMissing is returned for an empty value.
	ErrMissing = errors.New("value is required")
	// ErrInvalid is returned when a value fails validation.
	ErrInvalid = errors.New("value is invalid")
)

var (
	videoIDPattern   = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
	channelIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
)

// Guard accepts http(s) URLs whose host is one of a fixed set of domains or a
// subdomain of one. Matching is on label boundaries, so "googlevideo.com.evil.net"
// and "notgooglevideo.com" are both rejected for "googlevideo.com".
type Guard struct {
	domains []string
}

// New creates a Guard for the given domains. Entries are lower-cased and
// stripped of a leading dot.
func New(domains []string) *Guard {
	g := &Guard{domains: make([]string, 0, len(domains))}
	for _, d := range domains {
		d = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(d)), ".")
		if d != "" {
			g.domains = append(g.domains, d)
		}
	}
	return g
}

// Domains returns the normalized allow-list.
func (g *Guard) Domains() []string {
	return append([]string(nil), g.domains...)
}

// Allows reports whether host is an allow-listed domain or one of its subdomains.
func (g *Guard) Allows(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "" {
		return false
	}
	for _, d := range g.domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// Check parses raw and validates it. The returned error wraps ErrMissing or ErrInvalid.
func (g *Guard) Check(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("url: %w", ErrMissing)
	}
	if len(raw) > maxURLLength {
		return nil, fmt.Errorf("url too long (%d chars, max %d): %w", len(raw), maxURLLength, ErrInvalid)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("url does not parse: %w", ErrInvalid)
	}
	if err := g.CheckURL(u); err != nil {
		return nil, err
	}
	return u, nil
}

// CheckURL validates an already parsed URL. It is also used on redirect hops.
func (g *Guard) CheckURL(u *url.URL) error {
	if u == nil {
		return fmt.Errorf("url: %w", ErrMissing)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("unsupported scheme %q: %w", u.Scheme, ErrInvalid)
	}
	if u.User != nil {
		return fmt.Errorf("embedded credentials are not allowed: %w", ErrInvalid)
	}
	if !g.Allows(u.Hostname()) {
		return fmt.Errorf("host %q is not allow-listed: %w", u.Hostname(), ErrInvalid)
	}
	return nil
}

// ValidateVideoID checks that id is an 11-character platform video identifier.
func ValidateVideoID(id string) error {
	if id == "" {
		return fmt.Errorf("video id: %w", ErrMissing)
	}
	if !videoIDPattern.MatchString(id) {
		return fmt.Errorf("video id must be 11 characters of [A-Za-z0-9_-]: %w", ErrInvalid)
	}
	return nil
}

// ValidateChannelID checks that id is a plausible channel identifier.
func ValidateChannelID(id string) error {
	if id == "" {
		return fmt.Errorf("channel id: %w", ErrMissing)
	}
	if !channelIDPattern.MatchString(id) {
		return fmt.Errorf("channel id must be 1-64 characters of [A-Za-z0-9_-]: %w", ErrInvalid)
	}
	return nil
}

// Redact strips the query string from every URL in s. Signed CDN URLs carry
// credentials in their query, so log lines and errors must not include it.
func Redact(s string) string {
	return queryPattern.ReplaceAllString(s, "${1}?[REDACTED]")
}

var queryPattern = regexp.MustCompile(`(https?://[^\s"?]+)\?[^\s"]*`)
