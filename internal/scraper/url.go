package scraper

import (
	"fmt"
	"net/url"
	"strings"
)

// EnsureScheme trims the input and prefixes https:// when no http(s) scheme is present.
func EnsureScheme(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return raw
	}
	return "https://" + raw
}

// NormalizeURL standardizes a URL to avoid duplicates.
// It lowercases the scheme and host, removes default ports, sorts query parameters
// and drops the fragment. URLs without a host are rejected.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawFragment = ""
	u.ForceQuery = false
	u.RawQuery = u.Query().Encode()

	return u.String(), nil
}

// ValidatePageURL applies EnsureScheme and checks that the result is an absolute http(s) URL.
func ValidatePageURL(raw string) (string, error) {
	target := EnsureScheme(raw)
	if target == "" {
		return "", fmt.Errorf("%w: url is required", ErrInvalidRequest)
	}
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("%w: parse url: %v", ErrInvalidRequest, err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: url %q has no host", ErrInvalidRequest, raw)
	}
	return target, nil
}
