package crawler

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL standardizes a URL so equivalent spellings share a cache key.
// It lowercases the scheme and host, removes default ports, drops the
// fragment, and sorts query parameters.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("parse url: %q is not absolute", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	if u.Path == "" {
		u.Path = "/"
	}
	u.Fragment = ""
	u.RawFragment = ""
	u.RawQuery = u.Query().Encode()

	return u.String(), nil
}

// RequestURL merges item params into the item URL's query string.
func RequestURL(item WorkItem) (string, error) {
	u, err := url.Parse(strings.TrimSpace(item.URL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if len(item.Params) > 0 {
		q := u.Query()
		for k, v := range item.Params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// RequestKey returns the stable cache key for an item: a hex SHA-256 over the
// method and the normalized URL with params merged in.
func RequestKey(item WorkItem) (string, error) {
	raw, err := RequestURL(item)
	if err != nil {
		return "", err
	}
	normalized, err := NormalizeURL(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(strings.ToUpper(item.HTTPMethod()) + " " + normalized))
	return hex.EncodeToString(sum[:]), nil
}

// HostKey returns the lowercase hostname of rawURL, or "unknown".
func HostKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
